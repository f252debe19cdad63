package repository

import (
	"context"

	"servicemart/internal/model"

	"gorm.io/gorm"
)

// WalletTransactionRepository 钱包流水只追加，不提供修改和删除
type WalletTransactionRepository struct {
	db *gorm.DB
}

func NewWalletTransactionRepository(db *gorm.DB) *WalletTransactionRepository {
	return &WalletTransactionRepository{db: db}
}

func (r *WalletTransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.WalletTransaction) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(trans).Error
}

func (r *WalletTransactionRepository) ListByWalletID(ctx context.Context, walletID int64, page, pageSize int) ([]*model.WalletTransaction, int64, error) {
	var transactions []*model.WalletTransaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.WalletTransaction{}).Where("wallet_id = ?", walletID).Session(&gorm.Session{})

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset, limit := paginate(page, pageSize)
	err := query.
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&transactions).Error

	return transactions, total, err
}

// ListAllByWalletID 按时间正序返回全部流水，用于对账
func (r *WalletTransactionRepository) ListAllByWalletID(ctx context.Context, tx *gorm.DB, walletID int64) ([]*model.WalletTransaction, error) {
	if tx == nil {
		tx = r.db
	}
	var transactions []*model.WalletTransaction
	err := tx.WithContext(ctx).
		Where("wallet_id = ?", walletID).
		Order("id ASC").
		Find(&transactions).Error
	return transactions, err
}

func (r *WalletTransactionRepository) CountByType(ctx context.Context, walletID int64, txnType string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.WalletTransaction{}).
		Where("wallet_id = ? AND type = ?", walletID, txnType).
		Count(&count).Error
	return count, err
}
