package repository

import (
	"context"
	"time"

	"servicemart/internal/apperr"
	"servicemart/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PaymentIntentRepository struct {
	db *gorm.DB
}

func NewPaymentIntentRepository(db *gorm.DB) *PaymentIntentRepository {
	return &PaymentIntentRepository{db: db}
}

func (r *PaymentIntentRepository) Create(ctx context.Context, tx *gorm.DB, intent *model.PaymentIntent) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(intent).Error
}

func (r *PaymentIntentRepository) GetByOrderNo(ctx context.Context, tx *gorm.DB, orderNo string) (*model.PaymentIntent, error) {
	if tx == nil {
		tx = r.db
	}
	var intent model.PaymentIntent
	if err := tx.WithContext(ctx).Where("order_no = ?", orderNo).First(&intent).Error; err != nil {
		return nil, notFound(err, ErrIntentNotFound)
	}
	return &intent, nil
}

// GetByOrderNoForUpdate 回调处理时锁定支付意图，同一单号的重复回调串行执行
func (r *PaymentIntentRepository) GetByOrderNoForUpdate(ctx context.Context, tx *gorm.DB, orderNo string) (*model.PaymentIntent, error) {
	var intent model.PaymentIntent
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_no = ?", orderNo).
		First(&intent).Error
	if err != nil {
		return nil, notFound(err, ErrIntentNotFound)
	}
	return &intent, nil
}

// UpdateStatus 条件更新，状态不符返回 ErrOrderStatusInvalid
func (r *PaymentIntentRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, id int64, fromStatus, toStatus string, now time.Time) error {
	if tx == nil {
		tx = r.db
	}
	updates := map[string]interface{}{"status": toStatus}
	if toStatus == model.IntentStatusPaid {
		updates["paid_at"] = now
	}
	result := tx.WithContext(ctx).
		Model(&model.PaymentIntent{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperr.ErrOrderStatusInvalid
	}
	return nil
}
