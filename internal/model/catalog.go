package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	AvailableForAll      = "all"
	AvailableForUser     = "user"
	AvailableForPartners = "partner"
)

type ServiceCategory struct {
	ID       int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Name     string `gorm:"type:varchar(100);not null" json:"name"`
	Slug     string `gorm:"type:varchar(120);uniqueIndex;not null" json:"slug"`
	IsActive bool   `gorm:"not null" json:"is_active"`
}

func (ServiceCategory) TableName() string {
	return "service_categories"
}

// Service 可下单的服务目录项
type Service struct {
	ID                  int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	CategoryID          int64           `gorm:"index;not null" json:"category_id"`
	Title               string          `gorm:"type:varchar(200);not null" json:"title"`
	Slug                string          `gorm:"type:varchar(220);uniqueIndex;not null" json:"slug"`
	Description         string          `gorm:"type:text" json:"description"`
	PriceUser           decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"price_user"`
	PricePartnerDefault decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"price_partner_default"`
	AvailableFor        string          `gorm:"type:varchar(10);not null" json:"available_for"`
	IsActive            bool            `gorm:"index;not null" json:"is_active"`
	CreatedAt           time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Service) TableName() string {
	return "services"
}

// PriceFor 按客户类别取价：合作伙伴取默认合作价，其他取 C 端价
func (s *Service) PriceFor(isPartner bool) decimal.Decimal {
	if isPartner {
		return s.PricePartnerDefault
	}
	return s.PriceUser
}

// AvailableTo 服务是否对该类客户开放
func (s *Service) AvailableTo(isPartner bool) bool {
	switch s.AvailableFor {
	case AvailableForUser:
		return !isPartner
	case AvailableForPartners:
		return isPartner
	default:
		return true
	}
}
