package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RequestPaymentPending = "pending"
	RequestPaymentPaid    = "paid"

	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
)

// PartnerRequest 合作伙伴入驻申请。审批后保留作为审计记录
type PartnerRequest struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	FullName       string          `gorm:"type:varchar(255);not null" json:"full_name"`
	Email          string          `gorm:"type:varchar(254);index;not null" json:"email"`
	Phone          string          `gorm:"type:varchar(15);not null" json:"phone"`
	PasswordHash   string          `gorm:"type:varchar(128);not null" json:"-"`
	BusinessName   string          `gorm:"type:varchar(255);not null" json:"business_name"`
	Address        string          `gorm:"type:text;not null" json:"address"`
	City           string          `gorm:"type:varchar(100);not null" json:"city"`
	State          string          `gorm:"type:varchar(100);not null" json:"state"`
	Pincode        string          `gorm:"type:varchar(10);not null" json:"pincode"`
	SelectedPlanID *int64          `json:"selected_plan_id,omitempty"`
	Amount         decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	PaymentStatus  string          `gorm:"type:varchar(20);index;not null" json:"payment_status"`
	ApprovalStatus string          `gorm:"type:varchar(20);index;not null" json:"approval_status"`
	OrderID        *string         `gorm:"type:varchar(64);uniqueIndex" json:"order_id,omitempty"`
	ApprovedAt     *time.Time      `json:"approved_at,omitempty"`
	CreatedAt      time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PartnerRequest) TableName() string {
	return "partner_requests"
}

// Approvable 已付款且尚未审批
func (r *PartnerRequest) Approvable() bool {
	return r.PaymentStatus == RequestPaymentPaid && r.ApprovalStatus == ApprovalPending
}

type PartnerRequestDocument struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RequestID      int64     `gorm:"index;not null" json:"request_id"`
	DocumentTypeID int64     `gorm:"not null" json:"document_type_id"`
	FileRef        string    `gorm:"type:varchar(255);not null" json:"file_ref"`
	UploadedAt     time.Time `gorm:"autoCreateTime" json:"uploaded_at"`
}

func (PartnerRequestDocument) TableName() string {
	return "partner_request_documents"
}
