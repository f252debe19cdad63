package model

import (
	"time"

	"gorm.io/gorm"
)

// Partner 合作伙伴资料，与一个 partner 类型的 User 一一对应
type Partner struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID       int64     `gorm:"uniqueIndex;not null" json:"user_id"`
	PartnerID    string    `gorm:"type:varchar(20);uniqueIndex;not null" json:"partner_id"`
	BusinessName string    `gorm:"type:varchar(255);not null" json:"business_name"`
	Address      string    `gorm:"type:text;not null" json:"address"`
	City         string    `gorm:"type:varchar(100);not null" json:"city"`
	State        string    `gorm:"type:varchar(100);not null" json:"state"`
	Pincode      string    `gorm:"type:varchar(10);not null" json:"pincode"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Partner) TableName() string {
	return "partners"
}

// DocumentType 合作伙伴入驻需要上传的证件类型
type DocumentType struct {
	ID        int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string `gorm:"type:varchar(100);uniqueIndex;not null" json:"name"`
	Mandatory bool   `gorm:"not null" json:"mandatory"`
}

func (DocumentType) TableName() string {
	return "document_types"
}

type PartnerDocument struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	PartnerID      int64     `gorm:"index;not null" json:"partner_id"`
	DocumentTypeID int64     `gorm:"not null" json:"document_type_id"`
	FileRef        string    `gorm:"type:varchar(255);not null" json:"file_ref"`
	UploadedAt     time.Time `gorm:"autoCreateTime" json:"uploaded_at"`
}

func (PartnerDocument) TableName() string {
	return "partner_documents"
}

// Customer 合作伙伴名下的客户。(partner_id, email) 的唯一性由 service 在持有合作伙伴行锁时校验，
// 软删除的行仍参与编号计数，保证 partner_customer_id 不会复用
type Customer struct {
	ID                int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	PartnerID         int64          `gorm:"index;not null" json:"partner_id"`
	PartnerCustomerID string         `gorm:"type:varchar(40);uniqueIndex;not null" json:"partner_customer_id"`
	Name              string         `gorm:"type:varchar(255);not null" json:"name"`
	Email             string         `gorm:"type:varchar(254);index;not null" json:"email"`
	Phone             string         `gorm:"type:varchar(15);not null" json:"phone"`
	Address           string         `gorm:"type:text" json:"address"`
	CreatedAt         time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Customer) TableName() string {
	return "customers"
}
