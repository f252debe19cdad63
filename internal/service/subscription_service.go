package service

import (
	"context"
	"fmt"
	"time"

	"servicemart/internal/model"
	"servicemart/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type SubscriptionService struct {
	db         *gorm.DB
	subRepo    *repository.SubscriptionRepository
	planRepo   *repository.PlanRepository
	walletRepo *repository.WalletRepository
	wallet     *WalletService
	log        *zap.Logger
}

func NewSubscriptionService(db *gorm.DB, wallet *WalletService, log *zap.Logger) *SubscriptionService {
	return &SubscriptionService{
		db:         db,
		subRepo:    repository.NewSubscriptionRepository(db),
		planRepo:   repository.NewPlanRepository(db),
		walletRepo: repository.NewWalletRepository(db),
		wallet:     wallet,
		log:        log.Named("SubscriptionService"),
	}
}

// Subscribe 在调用方事务中创建订阅。WALLET_CREDIT 套餐按价格入账一次 INITIAL_CREDIT，
// 并把钱包过期时间设为订阅结束日期
func (s *SubscriptionService) Subscribe(ctx context.Context, tx *gorm.DB, partnerID int64, plan *model.PartnerPlan, start time.Time) (*model.PartnerSubscription, error) {
	sub := &model.PartnerSubscription{
		PartnerID: partnerID,
		PlanID:    plan.ID,
		StartDate: start,
		EndDate:   plan.EndDate(start),
		IsActive:  true,
	}
	if err := s.subRepo.Create(ctx, tx, sub); err != nil {
		return nil, fmt.Errorf("创建订阅失败: %w", err)
	}

	if plan.PlanType != model.PlanTypeWalletCredit {
		return sub, nil
	}

	wallet, err := s.walletRepo.GetByPartnerID(ctx, tx, partnerID)
	if err != nil {
		return nil, fmt.Errorf("获取钱包失败: %w", err)
	}
	details := fmt.Sprintf("Initial credit from '%s' plan purchase.", plan.Name)
	if _, err := s.wallet.Credit(ctx, tx, wallet.ID, plan.Price, model.TxnTypeInitialCredit, details); err != nil {
		return nil, fmt.Errorf("套餐入账失败: %w", err)
	}
	if err := s.walletRepo.SetExpiry(ctx, tx, wallet.ID, sub.EndDate); err != nil {
		return nil, fmt.Errorf("设置钱包过期时间失败: %w", err)
	}

	s.log.Info("套餐已入账",
		zap.Int64("partnerID", partnerID),
		zap.Int64("planID", plan.ID),
		zap.String("amount", plan.Price.StringFixed(2)))
	return sub, nil
}

// Switch 换套餐：先失效现有订阅再创建新订阅
func (s *SubscriptionService) Switch(ctx context.Context, tx *gorm.DB, partnerID int64, plan *model.PartnerPlan, start time.Time) (*model.PartnerSubscription, error) {
	if _, err := s.subRepo.DeactivateAllActive(ctx, tx, partnerID); err != nil {
		return nil, fmt.Errorf("失效现有订阅失败: %w", err)
	}
	return s.Subscribe(ctx, tx, partnerID, plan, start)
}

// PlanDetails 当前有效订阅及其套餐，没有订阅时两者都为 nil
func (s *SubscriptionService) PlanDetails(ctx context.Context, partnerID int64) (*model.PartnerSubscription, *model.PartnerPlan, error) {
	sub, err := s.subRepo.GetActiveByPartner(ctx, nil, partnerID)
	if err != nil || sub == nil {
		return nil, nil, err
	}
	plan, err := s.planRepo.GetByID(ctx, nil, sub.PlanID)
	if err != nil {
		return nil, nil, err
	}
	return sub, plan, nil
}

func (s *SubscriptionService) Plans(ctx context.Context) ([]*model.PartnerPlan, error) {
	return s.planRepo.ListActive(ctx)
}
