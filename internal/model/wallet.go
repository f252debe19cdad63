package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 钱包流水类型
// ============================================================================

const (
	TxnTypeInitialCredit   = "INITIAL_CREDIT"
	TxnTypeTopUp           = "TOP_UP"
	TxnTypeServicePayment  = "SERVICE_PAYMENT"
	TxnTypeRefund          = "REFUND"
	TxnTypeExpiry          = "EXPIRY"
	TxnTypeAdminAdjustment = "ADMIN_ADJUSTMENT"
)

// Wallet 合作伙伴预付钱包，余额只能通过 WalletService 修改
type Wallet struct {
	ID               int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	PartnerID        int64           `gorm:"uniqueIndex;not null" json:"partner_id"`
	Balance          decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"balance"`
	BalanceExpiresAt *time.Time      `gorm:"index" json:"balance_expires_at,omitempty"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Wallet) TableName() string {
	return "wallets"
}

// WalletTransaction 钱包流水，只追加不修改。Amount 带符号：入账为正，出账为负
type WalletTransaction struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	WalletID      int64           `gorm:"index;not null" json:"wallet_id"`
	Type          string          `gorm:"type:varchar(20);index;not null" json:"type"`
	Amount        decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	BalanceBefore decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"balance_before"`
	BalanceAfter  decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"balance_after"`
	Details       string          `gorm:"type:text" json:"details"`
	CreatedAt     time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

func (WalletTransaction) TableName() string {
	return "wallet_transactions"
}
