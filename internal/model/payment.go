package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PurposeService      = "service"
	PurposePlanPurchase = "plan_purchase"
	PurposeWalletTopUp  = "wallet_topup"
	PurposePlanUpgrade  = "plan_upgrade"
)

const (
	IntentStatusPending = "PENDING"
	IntentStatusPaid    = "PAID"
	IntentStatusFailed  = "FAILED"
)

var ValidPurposes = map[string]bool{
	PurposeService:      true,
	PurposePlanPurchase: true,
	PurposeWalletTopUp:  true,
	PurposePlanUpgrade:  true,
}

// PaymentIntent 每次跳转网关前落库的支付意图。回调只认这里登记过且仍为 PENDING 的单号，
// 金额和用途以这里为准而不是回调参数
type PaymentIntent struct {
	ID               int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNo          string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_no"`
	Purpose          string          `gorm:"type:varchar(20);not null" json:"purpose"`
	Amount           decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	UserID           *int64          `gorm:"index" json:"user_id,omitempty"`
	PartnerID        *int64          `gorm:"index" json:"partner_id,omitempty"`
	ServiceOrderID   *int64          `gorm:"index" json:"service_order_id,omitempty"`
	PartnerRequestID *int64          `gorm:"index" json:"partner_request_id,omitempty"`
	PlanID           *int64          `json:"plan_id,omitempty"`
	Status           string          `gorm:"type:varchar(20);index;not null" json:"status"`
	PaidAt           *time.Time      `json:"paid_at,omitempty"`
	CreatedAt        time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PaymentIntent) TableName() string {
	return "payment_intents"
}
