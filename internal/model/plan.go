package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PlanTypeLifetime     = "LIFETIME"
	PlanTypeWalletCredit = "WALLET_CREDIT"
	PlanTypeSubscription = "SUBSCRIPTION"
)

// PartnerPlan 合作伙伴套餐，核心逻辑只读
type PartnerPlan struct {
	ID           int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Name         string          `gorm:"type:varchar(100);not null" json:"name"`
	PlanType     string          `gorm:"type:varchar(20);not null" json:"plan_type"`
	Price        decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"price"`
	DurationDays *int            `json:"duration_days,omitempty"`
	Description  string          `gorm:"type:text" json:"description"`
	IsActive     bool            `gorm:"not null" json:"is_active"`
}

func (PartnerPlan) TableName() string {
	return "partner_plans"
}

// EndDate 设置了 duration_days 时为 start + N 天（0 天即当天到期），未设置为空
func (p *PartnerPlan) EndDate(start time.Time) *time.Time {
	if p.DurationDays == nil {
		return nil
	}
	end := start.AddDate(0, 0, *p.DurationDays)
	return &end
}

type PartnerSubscription struct {
	ID        int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	PartnerID int64      `gorm:"index;not null" json:"partner_id"`
	PlanID    int64      `gorm:"index;not null" json:"plan_id"`
	StartDate time.Time  `gorm:"not null" json:"start_date"`
	EndDate   *time.Time `gorm:"index" json:"end_date,omitempty"`
	IsActive  bool       `gorm:"index;not null" json:"is_active"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (PartnerSubscription) TableName() string {
	return "partner_subscriptions"
}
