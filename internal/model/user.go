package model

import (
	"strings"
	"time"
)

const (
	UserTypeCustomer = "customer"
	UserTypePartner  = "partner"
)

// User 登录账号。customer_id 只对 customer 类型在首次保存时分配一次
type User struct {
	ID                int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Email             string    `gorm:"type:varchar(254);uniqueIndex;not null" json:"email"`
	Phone             string    `gorm:"type:varchar(15);uniqueIndex;not null" json:"phone"`
	FirstName         string    `gorm:"type:varchar(30);not null" json:"first_name"`
	LastName          string    `gorm:"type:varchar(150);not null" json:"last_name"`
	UserType          string    `gorm:"type:varchar(20);index;not null" json:"user_type"`
	CustomerID        *string   `gorm:"type:varchar(20);uniqueIndex" json:"customer_id,omitempty"`
	PasswordHash      string    `gorm:"type:varchar(128);not null" json:"-"`
	IsActive          bool      `gorm:"not null" json:"is_active"`
	IsStaff           bool      `gorm:"not null" json:"is_staff"`
	IsPartnerApproved bool      `gorm:"not null" json:"is_partner_approved"`
	DateJoined        time.Time `gorm:"autoCreateTime;index" json:"date_joined"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

func (u *User) IsPartner() bool {
	return u.UserType == UserTypePartner
}

// NormalizeEmail 去掉首尾空白并把域名部分转小写，本地部分保留原样
func NormalizeEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return email
	}
	return email[:at] + "@" + strings.ToLower(email[at+1:])
}

// SplitFullName 第一个词作为名，其余作为姓
func SplitFullName(fullName string) (string, string) {
	parts := strings.Fields(fullName)
	if len(parts) == 0 {
		return "", ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}
