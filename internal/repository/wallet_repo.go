package repository

import (
	"context"
	"errors"
	"time"

	"servicemart/internal/apperr"
	"servicemart/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type WalletRepository struct {
	db *gorm.DB
}

func NewWalletRepository(db *gorm.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

func (r *WalletRepository) Create(ctx context.Context, tx *gorm.DB, wallet *model.Wallet) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(wallet).Error
}

func (r *WalletRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.Wallet, error) {
	if tx == nil {
		tx = r.db
	}
	var wallet model.Wallet
	if err := tx.WithContext(ctx).Where("id = ?", id).First(&wallet).Error; err != nil {
		return nil, notFound(err, ErrWalletNotFound)
	}
	return &wallet, nil
}

func (r *WalletRepository) GetByPartnerID(ctx context.Context, tx *gorm.DB, partnerID int64) (*model.Wallet, error) {
	if tx == nil {
		tx = r.db
	}
	var wallet model.Wallet
	if err := tx.WithContext(ctx).Where("partner_id = ?", partnerID).First(&wallet).Error; err != nil {
		return nil, notFound(err, ErrWalletNotFound)
	}
	return &wallet, nil
}

// GetByIDForUpdate 必须在事务中调用
func (r *WalletRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.Wallet, error) {
	var wallet model.Wallet
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&wallet).Error
	if err != nil {
		return nil, notFound(err, ErrWalletNotFound)
	}
	return &wallet, nil
}

func (r *WalletRepository) GetByPartnerIDForUpdate(ctx context.Context, tx *gorm.DB, partnerID int64) (*model.Wallet, error) {
	var wallet model.Wallet
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("partner_id = ?", partnerID).
		First(&wallet).Error
	if err != nil {
		return nil, notFound(err, ErrWalletNotFound)
	}
	return &wallet, nil
}

// SetBalance 写入新余额。扣款时附带 balance >= amount 条件，余额在锁外被改动时返回余额不足
func (r *WalletRepository) SetBalance(ctx context.Context, tx *gorm.DB, id int64, before, after decimal.Decimal) error {
	result := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("id = ? AND balance = ?", id, before).
		Update("balance", after)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if after.IsNegative() {
			return apperr.ErrInsufficientFunds
		}
		return apperr.Wrap(apperr.ErrConsistency, errors.New("钱包余额在锁定期间被修改"))
	}
	return nil
}

func (r *WalletRepository) SetExpiry(ctx context.Context, tx *gorm.DB, id int64, expiresAt *time.Time) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("id = ?", id).
		Update("balance_expires_at", expiresAt).Error
}

// GetOrCreate 合作伙伴没有钱包时补建一个零余额钱包
func (r *WalletRepository) GetOrCreate(ctx context.Context, partnerID int64) (*model.Wallet, error) {
	wallet, err := r.GetByPartnerID(ctx, nil, partnerID)
	if err == nil {
		return wallet, nil
	}
	if !errors.Is(err, ErrWalletNotFound) {
		return nil, err
	}

	newWallet := &model.Wallet{
		PartnerID: partnerID,
		Balance:   decimal.Zero,
	}
	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "partner_id"}},
			DoNothing: true,
		}).
		Create(newWallet).Error
	if err != nil {
		return nil, err
	}

	return r.GetByPartnerID(ctx, nil, partnerID)
}

// ListExpiredIDs 余额已过期且仍有余额的钱包，按 id 升序从 afterID 之后取一页
func (r *WalletRepository) ListExpiredIDs(ctx context.Context, now time.Time, afterID int64, limit int) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("id > ? AND balance_expires_at IS NOT NULL AND balance_expires_at < ? AND balance > ?", afterID, now, 0).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

// SumBalances 所有钱包余额合计（管理后台）
func (r *WalletRepository) SumBalances(ctx context.Context) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.db.WithContext(ctx).
		Model(&model.Wallet{}).
		Select("COALESCE(SUM(balance), 0)").
		Row().
		Scan(&total)
	return total, err
}
