package repository

import (
	"context"
	"time"

	"servicemart/internal/model"

	"gorm.io/gorm"
)

type PlanRepository struct {
	db *gorm.DB
}

func NewPlanRepository(db *gorm.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

func (r *PlanRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.PartnerPlan, error) {
	if tx == nil {
		tx = r.db
	}
	var plan model.PartnerPlan
	if err := tx.WithContext(ctx).Where("id = ?", id).First(&plan).Error; err != nil {
		return nil, notFound(err, ErrPlanNotFound)
	}
	return &plan, nil
}

func (r *PlanRepository) ListActive(ctx context.Context) ([]*model.PartnerPlan, error) {
	var plans []*model.PartnerPlan
	err := r.db.WithContext(ctx).Where("is_active = ?", true).Order("price ASC, id ASC").Find(&plans).Error
	return plans, err
}

type SubscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) Create(ctx context.Context, tx *gorm.DB, sub *model.PartnerSubscription) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(sub).Error
}

// GetActiveByPartner 最近一条有效订阅，没有时返回 nil
func (r *SubscriptionRepository) GetActiveByPartner(ctx context.Context, tx *gorm.DB, partnerID int64) (*model.PartnerSubscription, error) {
	if tx == nil {
		tx = r.db
	}
	var subs []*model.PartnerSubscription
	err := tx.WithContext(ctx).
		Where("partner_id = ? AND is_active = ?", partnerID, true).
		Order("start_date DESC, id DESC").
		Limit(1).
		Find(&subs).Error
	if err != nil || len(subs) == 0 {
		return nil, err
	}
	return subs[0], nil
}

func (r *SubscriptionRepository) ListByPartner(ctx context.Context, partnerID int64) ([]*model.PartnerSubscription, error) {
	var subs []*model.PartnerSubscription
	err := r.db.WithContext(ctx).
		Where("partner_id = ?", partnerID).
		Order("start_date DESC, id DESC").
		Find(&subs).Error
	return subs, err
}

// DeactivateExpired 把指定套餐类型下 end_date 已过的有效订阅置为无效，返回影响行数
func (r *SubscriptionRepository) DeactivateExpired(ctx context.Context, tx *gorm.DB, planType string, now time.Time) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	planIDs := r.db.Model(&model.PartnerPlan{}).Select("id").Where("plan_type = ?", planType)
	result := tx.WithContext(ctx).
		Model(&model.PartnerSubscription{}).
		Where("is_active = ? AND end_date IS NOT NULL AND end_date < ? AND plan_id IN (?)", true, now, planIDs).
		Update("is_active", false)
	return result.RowsAffected, result.Error
}

// DeactivateActiveOfType 失效某合作伙伴指定类型的全部有效订阅
func (r *SubscriptionRepository) DeactivateActiveOfType(ctx context.Context, tx *gorm.DB, partnerID int64, planType string) (int64, error) {
	planIDs := r.db.Model(&model.PartnerPlan{}).Select("id").Where("plan_type = ?", planType)
	result := tx.WithContext(ctx).
		Model(&model.PartnerSubscription{}).
		Where("partner_id = ? AND is_active = ? AND plan_id IN (?)", partnerID, true, planIDs).
		Update("is_active", false)
	return result.RowsAffected, result.Error
}

// DeactivateAllActive 换套餐前失效该合作伙伴现有的全部有效订阅
func (r *SubscriptionRepository) DeactivateAllActive(ctx context.Context, tx *gorm.DB, partnerID int64) (int64, error) {
	result := tx.WithContext(ctx).
		Model(&model.PartnerSubscription{}).
		Where("partner_id = ? AND is_active = ?", partnerID, true).
		Update("is_active", false)
	return result.RowsAffected, result.Error
}
