package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentStatusPending  = "pending"
	PaymentStatusPaid     = "paid"
	PaymentStatusFailed   = "failed"
	PaymentStatusRefunded = "refunded"
)

const (
	PaymentMethodNotPaid = "not_paid"
	PaymentMethodWallet  = "wallet"
	PaymentMethodGateway = "gateway"
)

const (
	ProgressPlaced     = "placed"
	ProgressInProgress = "in_progress"
	ProgressCompleted  = "completed"
	ProgressCancelled  = "cancelled"
)

// 支付状态和进度状态是两条独立的状态机
var (
	PaymentTransitions = map[string][]string{
		PaymentStatusPending: {PaymentStatusPaid, PaymentStatusFailed},
		PaymentStatusPaid:    {PaymentStatusRefunded},
	}
	ProgressTransitions = map[string][]string{
		ProgressPlaced:     {ProgressInProgress, ProgressCancelled},
		ProgressInProgress: {ProgressCompleted, ProgressCancelled},
	}
)

func CanTransitionTo(table map[string][]string, currentStatus, targetStatus string) bool {
	allowedStatuses, exists := table[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// ServiceOrder 服务订单。价格在下单时按客户类别快照，发票最多生成一次
type ServiceOrder struct {
	ID               int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID           int64           `gorm:"index;not null" json:"user_id"`
	CustomerID       *int64          `gorm:"index" json:"customer_id,omitempty"`
	ServiceID        int64           `gorm:"index;not null" json:"service_id"`
	ServiceTitle     string          `gorm:"type:varchar(200);not null" json:"service_title"`
	FullName         string          `gorm:"type:varchar(255);not null" json:"full_name"`
	Email            string          `gorm:"type:varchar(254);not null" json:"email"`
	Phone            string          `gorm:"type:varchar(15);not null" json:"phone"`
	AdditionalInfo   string          `gorm:"type:text" json:"additional_info"`
	Price            decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"price"`
	PaymentStatus    string          `gorm:"type:varchar(20);index;not null" json:"payment_status"`
	PaymentMethod    string          `gorm:"type:varchar(20);not null" json:"payment_method"`
	ProgressStatus   string          `gorm:"type:varchar(20);index;not null" json:"progress_status"`
	GatewayOrderNo   *string         `gorm:"type:varchar(64);uniqueIndex" json:"gateway_order_no,omitempty"`
	InvoiceRef       *string         `gorm:"type:varchar(255)" json:"invoice_ref,omitempty"`
	ReturnedDocument *string         `gorm:"type:varchar(255)" json:"returned_document,omitempty"`
	Remarks          string          `gorm:"type:text" json:"remarks"`
	PaidAt           *time.Time      `json:"paid_at,omitempty"`
	CreatedAt        time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ServiceOrder) TableName() string {
	return "service_orders"
}

// OrderDocument 订单附件，只追加
type OrderDocument struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID    int64     `gorm:"index;not null" json:"order_id"`
	Name       string    `gorm:"type:varchar(255);not null" json:"name"`
	FileRef    string    `gorm:"type:varchar(255);not null" json:"file_ref"`
	UploadedAt time.Time `gorm:"autoCreateTime" json:"uploaded_at"`
}

func (OrderDocument) TableName() string {
	return "order_documents"
}
