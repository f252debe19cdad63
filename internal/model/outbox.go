package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

const (
	EventOrderPaid       = "order.paid"
	EventOrderRefunded   = "order.refunded"
	EventPartnerApproved = "partner.approved"
	EventWalletExpired   = "wallet.expired"
	EventWalletToppedUp  = "wallet.topped_up"
)

// OutboxMessage 与业务数据同事务写入，由 OutboxSender 投递到 Kafka
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"message_key"`
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	EventType  string    `gorm:"type:varchar(64);not null" json:"event_type"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_messages"
}

// AllModels 自动迁移列表
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&Partner{},
		&DocumentType{},
		&PartnerDocument{},
		&Customer{},
		&PartnerPlan{},
		&PartnerSubscription{},
		&Wallet{},
		&WalletTransaction{},
		&PartnerRequest{},
		&PartnerRequestDocument{},
		&ServiceCategory{},
		&Service{},
		&ServiceOrder{},
		&OrderDocument{},
		&PaymentIntent{},
		&OutboxMessage{},
	}
}
