package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"servicemart/internal/apperr"
	"servicemart/internal/config"
	"servicemart/internal/infrastructure/metrics"
	"servicemart/internal/model"
	"servicemart/internal/repository"
	"servicemart/pkg/idgen"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// WalletService 钱包账本。所有余额变动都经过这里，每次变动恰好对应一条流水
type WalletService struct {
	db         *gorm.DB
	cfg        *config.Config
	walletRepo *repository.WalletRepository
	txnRepo    *repository.WalletTransactionRepository
	subRepo    *repository.SubscriptionRepository
	outboxRepo *repository.OutboxRepository
	metrics    *metrics.Metrics
	log        *zap.Logger
	now        func() time.Time
	batchSize  int
}

func NewWalletService(db *gorm.DB, cfg *config.Config, m *metrics.Metrics, log *zap.Logger) *WalletService {
	return &WalletService{
		db:         db,
		cfg:        cfg,
		walletRepo: repository.NewWalletRepository(db),
		txnRepo:    repository.NewWalletTransactionRepository(db),
		subRepo:    repository.NewSubscriptionRepository(db),
		outboxRepo: repository.NewOutboxRepository(db),
		metrics:    m,
		log:        log.Named("WalletService"),
		now:        time.Now,
		batchSize:  500,
	}
}

// Credit 入账。tx 为空时自己开事务
func (s *WalletService) Credit(ctx context.Context, tx *gorm.DB, walletID int64, amount decimal.Decimal, txnType, details string) (*model.WalletTransaction, error) {
	if !amount.IsPositive() {
		return nil, apperr.ErrInvalidAmount
	}
	return s.inTx(ctx, tx, func(tx *gorm.DB) (*model.WalletTransaction, error) {
		return s.apply(ctx, tx, walletID, amount, txnType, details)
	})
}

// Debit 出账。余额不足时返回 ErrInsufficientFunds，余额和流水都不变
func (s *WalletService) Debit(ctx context.Context, tx *gorm.DB, walletID int64, amount decimal.Decimal, txnType, details string) (*model.WalletTransaction, error) {
	if !amount.IsPositive() {
		return nil, apperr.ErrInvalidAmount
	}
	return s.inTx(ctx, tx, func(tx *gorm.DB) (*model.WalletTransaction, error) {
		return s.apply(ctx, tx, walletID, amount.Neg(), txnType, details)
	})
}

func (s *WalletService) inTx(ctx context.Context, tx *gorm.DB, fn func(tx *gorm.DB) (*model.WalletTransaction, error)) (*model.WalletTransaction, error) {
	if tx != nil {
		return fn(tx)
	}
	var txn *model.WalletTransaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		txn, err = fn(tx)
		return err
	})
	return txn, err
}

// apply 锁定钱包行，校验余额，写新余额并追加流水。delta 带符号
func (s *WalletService) apply(ctx context.Context, tx *gorm.DB, walletID int64, delta decimal.Decimal, txnType, details string) (*model.WalletTransaction, error) {
	wallet, err := s.walletRepo.GetByIDForUpdate(ctx, tx, walletID)
	if err != nil {
		return nil, err
	}

	after := wallet.Balance.Add(delta)
	if delta.IsNegative() && wallet.Balance.LessThan(delta.Neg()) {
		return nil, apperr.ErrInsufficientFunds
	}

	if err := s.walletRepo.SetBalance(ctx, tx, wallet.ID, wallet.Balance, after); err != nil {
		return nil, err
	}

	txn := &model.WalletTransaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		WalletID:      wallet.ID,
		Type:          txnType,
		Amount:        delta,
		BalanceBefore: wallet.Balance,
		BalanceAfter:  after,
		Details:       details,
	}
	if err := s.txnRepo.Create(ctx, tx, txn); err != nil {
		// 没有流水的余额变动不允许提交
		return nil, apperr.Wrap(apperr.ErrConsistency, fmt.Errorf("记录流水失败: %w", err))
	}

	s.metrics.WalletMutations.WithLabelValues(txnType).Inc()
	return txn, nil
}

// ExpiryReport 一次过期清理的结果
type ExpiryReport struct {
	WalletsExpired           int   `json:"wallets_expired"`
	WalletsFailed            int   `json:"wallets_failed"`
	SubscriptionsDeactivated int64 `json:"subscriptions_deactivated"`
}

// ExpireBalances 清零已过期钱包的余额并失效相关订阅。重复执行不会产生第二条 EXPIRY 流水
func (s *WalletService) ExpireBalances(ctx context.Context) (*ExpiryReport, error) {
	now := s.now()
	report := &ExpiryReport{}

	// 按 id 游标分批处理，失败的钱包不会在本轮被反复重试
	var cursor int64
	for {
		ids, err := s.walletRepo.ListExpiredIDs(ctx, now, cursor, s.batchSize)
		if err != nil {
			return report, fmt.Errorf("查询过期钱包失败: %w", err)
		}
		for _, id := range ids {
			cursor = id
			expired, err := s.expireWallet(ctx, id, now)
			if err != nil {
				report.WalletsFailed++
				s.log.Error("钱包过期处理失败", zap.Int64("walletID", id), zap.Error(err))
				continue
			}
			if expired {
				report.WalletsExpired++
			}
		}
		if len(ids) < s.batchSize {
			break
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
	}

	n, err := s.subRepo.DeactivateExpired(ctx, nil, model.PlanTypeSubscription, now)
	if err != nil {
		return report, fmt.Errorf("失效过期订阅失败: %w", err)
	}
	report.SubscriptionsDeactivated += n

	if report.WalletsExpired > 0 || report.SubscriptionsDeactivated > 0 {
		s.log.Info("过期清理完成",
			zap.Int("wallets", report.WalletsExpired),
			zap.Int64("subscriptions", report.SubscriptionsDeactivated))
	}
	return report, nil
}

func (s *WalletService) expireWallet(ctx context.Context, walletID int64, now time.Time) (bool, error) {
	expired := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		wallet, err := s.walletRepo.GetByIDForUpdate(ctx, tx, walletID)
		if err != nil {
			return err
		}
		// 加锁后重新判断，其他实例可能已经处理过
		if wallet.BalanceExpiresAt == nil || !wallet.BalanceExpiresAt.Before(now) || !wallet.Balance.IsPositive() {
			return nil
		}

		if _, err := s.subRepo.DeactivateActiveOfType(ctx, tx, wallet.PartnerID, model.PlanTypeWalletCredit); err != nil {
			return fmt.Errorf("失效钱包套餐失败: %w", err)
		}

		balance := wallet.Balance
		details := fmt.Sprintf("Balance expired on %s.", wallet.BalanceExpiresAt.Format("2006-01-02"))
		if _, err := s.apply(ctx, tx, wallet.ID, balance.Neg(), model.TxnTypeExpiry, details); err != nil {
			return err
		}
		if err := s.walletRepo.SetExpiry(ctx, tx, wallet.ID, nil); err != nil {
			return err
		}

		expired = true
		return publishInTx(ctx, tx, s.outboxRepo, s.cfg.Kafka.Topic.WalletEvents, model.EventWalletExpired,
			fmt.Sprintf("wallet-%d", wallet.ID), map[string]interface{}{
				"wallet_id":  wallet.ID,
				"partner_id": wallet.PartnerID,
				"amount":     balance.StringFixed(2),
			})
	})
	if err == nil && expired {
		s.metrics.WalletsExpired.Inc()
	}
	return expired, err
}

// AdminSetBalance 后台直接改余额。与修改前的差额记一条 ADMIN_ADJUSTMENT，差额为零不记
func (s *WalletService) AdminSetBalance(ctx context.Context, walletID int64, newBalance decimal.Decimal, expiresAt *time.Time, actor string) (*model.Wallet, error) {
	if newBalance.IsNegative() {
		return nil, apperr.ErrInvalidAmount
	}

	var wallet *model.Wallet
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		wallet, err = s.walletRepo.GetByIDForUpdate(ctx, tx, walletID)
		if err != nil {
			return err
		}

		delta := newBalance.Sub(wallet.Balance)
		if !delta.IsZero() {
			details := fmt.Sprintf("Balance adjusted by %s from %s to %s.",
				actor, wallet.Balance.StringFixed(2), newBalance.StringFixed(2))
			if _, err := s.apply(ctx, tx, wallet.ID, delta, model.TxnTypeAdminAdjustment, details); err != nil {
				return err
			}
		}
		if err := s.walletRepo.SetExpiry(ctx, tx, wallet.ID, expiresAt); err != nil {
			return err
		}

		wallet, err = s.walletRepo.GetByID(ctx, tx, wallet.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("后台调整钱包余额",
		zap.Int64("walletID", walletID),
		zap.String("actor", actor),
		zap.String("balance", newBalance.StringFixed(2)))
	return wallet, nil
}

// WalletOf 合作伙伴的钱包，缺失时补建
func (s *WalletService) WalletOf(ctx context.Context, partnerID int64) (*model.Wallet, error) {
	wallet, err := s.walletRepo.GetOrCreate(ctx, partnerID)
	if err != nil {
		return nil, fmt.Errorf("获取钱包失败: %w", err)
	}
	return wallet, nil
}

// History 钱包流水，按时间倒序
func (s *WalletService) History(ctx context.Context, walletID int64, page, pageSize int) ([]*model.WalletTransaction, int64, error) {
	return s.txnRepo.ListByWalletID(ctx, walletID, page, pageSize)
}

func isInsufficient(err error) bool {
	return errors.Is(err, apperr.ErrInsufficientFunds)
}
