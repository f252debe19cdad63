package repository

import (
	"context"
	"time"

	"servicemart/internal/apperr"
	"servicemart/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PartnerRequestRepository struct {
	db *gorm.DB
}

func NewPartnerRequestRepository(db *gorm.DB) *PartnerRequestRepository {
	return &PartnerRequestRepository{db: db}
}

func (r *PartnerRequestRepository) Create(ctx context.Context, tx *gorm.DB, req *model.PartnerRequest) error {
	if tx == nil {
		tx = r.db
	}
	req.Email = model.NormalizeEmail(req.Email)
	return tx.WithContext(ctx).Create(req).Error
}

func (r *PartnerRequestRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.PartnerRequest, error) {
	if tx == nil {
		tx = r.db
	}
	var req model.PartnerRequest
	if err := tx.WithContext(ctx).Where("id = ?", id).First(&req).Error; err != nil {
		return nil, notFound(err, ErrRequestNotFound)
	}
	return &req, nil
}

func (r *PartnerRequestRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.PartnerRequest, error) {
	var req model.PartnerRequest
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&req).Error
	if err != nil {
		return nil, notFound(err, ErrRequestNotFound)
	}
	return &req, nil
}

func (r *PartnerRequestRepository) SetOrderID(ctx context.Context, tx *gorm.DB, id int64, orderID string) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.PartnerRequest{}).
		Where("id = ?", id).
		Update("order_id", orderID).Error
}

// MarkPaidByOrderID 只有处于 pending 的申请才能被标记为已付款
func (r *PartnerRequestRepository) MarkPaidByOrderID(ctx context.Context, tx *gorm.DB, orderID string) (*model.PartnerRequest, error) {
	var req model.PartnerRequest
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_id = ? AND payment_status = ?", orderID, model.RequestPaymentPending).
		First(&req).Error
	if err != nil {
		return nil, notFound(err, apperr.ErrInvalidOrder)
	}

	result := tx.WithContext(ctx).
		Model(&model.PartnerRequest{}).
		Where("id = ? AND payment_status = ?", req.ID, model.RequestPaymentPending).
		Update("payment_status", model.RequestPaymentPaid)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, apperr.ErrInvalidOrder
	}
	req.PaymentStatus = model.RequestPaymentPaid
	return &req, nil
}

// MarkApproved 已付款且未审批的申请才会被更新，否则视为不满足审批条件
func (r *PartnerRequestRepository) MarkApproved(ctx context.Context, tx *gorm.DB, id int64, now time.Time) error {
	result := tx.WithContext(ctx).
		Model(&model.PartnerRequest{}).
		Where("id = ? AND payment_status = ? AND approval_status = ?", id, model.RequestPaymentPaid, model.ApprovalPending).
		Updates(map[string]interface{}{
			"approval_status": model.ApprovalApproved,
			"approved_at":     now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperr.ErrRequestNotEligible
	}
	return nil
}

func (r *PartnerRequestRepository) List(ctx context.Context, paymentStatus, approvalStatus string, page, pageSize int) ([]*model.PartnerRequest, int64, error) {
	var reqs []*model.PartnerRequest
	var total int64

	query := r.db.WithContext(ctx).Model(&model.PartnerRequest{})
	if paymentStatus != "" {
		query = query.Where("payment_status = ?", paymentStatus)
	}
	if approvalStatus != "" {
		query = query.Where("approval_status = ?", approvalStatus)
	}
	query = query.Session(&gorm.Session{})

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset, limit := paginate(page, pageSize)
	err := query.Order("created_at DESC, id DESC").Offset(offset).Limit(limit).Find(&reqs).Error
	return reqs, total, err
}

func (r *PartnerRequestRepository) CreateDocument(ctx context.Context, tx *gorm.DB, doc *model.PartnerRequestDocument) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(doc).Error
}

func (r *PartnerRequestRepository) ListDocuments(ctx context.Context, tx *gorm.DB, requestID int64) ([]*model.PartnerRequestDocument, error) {
	if tx == nil {
		tx = r.db
	}
	var docs []*model.PartnerRequestDocument
	err := tx.WithContext(ctx).Where("request_id = ?", requestID).Order("id ASC").Find(&docs).Error
	return docs, err
}
