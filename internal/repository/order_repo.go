package repository

import (
	"context"
	"strings"
	"time"

	"servicemart/internal/apperr"
	"servicemart/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, tx *gorm.DB, order *model.ServiceOrder) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(order).Error
}

func (r *OrderRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.ServiceOrder, error) {
	if tx == nil {
		tx = r.db
	}
	var order model.ServiceOrder
	if err := tx.WithContext(ctx).Where("id = ?", id).First(&order).Error; err != nil {
		return nil, notFound(err, ErrOrderNotFound)
	}
	return &order, nil
}

// GetForUser 只返回属于该用户的订单
func (r *OrderRepository) GetForUser(ctx context.Context, tx *gorm.DB, userID, id int64) (*model.ServiceOrder, error) {
	if tx == nil {
		tx = r.db
	}
	var order model.ServiceOrder
	err := tx.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&order).Error
	if err != nil {
		return nil, notFound(err, ErrOrderNotFound)
	}
	return &order, nil
}

func (r *OrderRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.ServiceOrder, error) {
	var order model.ServiceOrder
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, notFound(err, ErrOrderNotFound)
	}
	return &order, nil
}

// UpdatePaymentStatus 条件更新 payment_status，状态已被别人改动时返回 ErrOrderStatusInvalid
func (r *OrderRepository) UpdatePaymentStatus(ctx context.Context, tx *gorm.DB, id int64, fromStatus, toStatus, method string) error {
	if !model.CanTransitionTo(model.PaymentTransitions, fromStatus, toStatus) {
		return apperr.ErrOrderStatusInvalid
	}

	if tx == nil {
		tx = r.db
	}

	updates := map[string]interface{}{
		"payment_status": toStatus,
	}
	if method != "" {
		updates["payment_method"] = method
	}
	if toStatus == model.PaymentStatusPaid {
		updates["paid_at"] = time.Now()
	}

	result := tx.WithContext(ctx).
		Model(&model.ServiceOrder{}).
		Where("id = ? AND payment_status = ?", id, fromStatus).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperr.ErrOrderStatusInvalid
	}
	return nil
}

func (r *OrderRepository) UpdateProgress(ctx context.Context, tx *gorm.DB, id int64, fromStatus, toStatus string) error {
	if !model.CanTransitionTo(model.ProgressTransitions, fromStatus, toStatus) {
		return apperr.ErrInvalidTransition
	}

	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.ServiceOrder{}).
		Where("id = ? AND progress_status = ?", id, fromStatus).
		Update("progress_status", toStatus)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperr.ErrInvalidTransition
	}
	return nil
}

func (r *OrderRepository) SetGatewayOrderNo(ctx context.Context, tx *gorm.DB, id int64, orderNo string) error {
	return tx.WithContext(ctx).
		Model(&model.ServiceOrder{}).
		Where("id = ?", id).
		Update("gateway_order_no", orderNo).Error
}

// AttachInvoice 仅在尚未有发票时写入，返回是否写入成功
func (r *OrderRepository) AttachInvoice(ctx context.Context, tx *gorm.DB, id int64, ref string) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.ServiceOrder{}).
		Where("id = ? AND invoice_ref IS NULL", id).
		Update("invoice_ref", ref)
	return result.RowsAffected > 0, result.Error
}

func (r *OrderRepository) SetReturnedDocument(ctx context.Context, tx *gorm.DB, id int64, ref, remarks string) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.ServiceOrder{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"returned_document": ref,
			"remarks":           remarks,
		}).Error
}

// ListPaidWithoutInvoice 已付款但发票生成失败的订单，供补偿任务重试
func (r *OrderRepository) ListPaidWithoutInvoice(ctx context.Context, before time.Time, limit int) ([]*model.ServiceOrder, error) {
	var orders []*model.ServiceOrder
	err := r.db.WithContext(ctx).
		Where("payment_status = ? AND invoice_ref IS NULL AND updated_at < ?", model.PaymentStatusPaid, before).
		Order("id ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

// ListByUserID keyword 匹配服务标题
func (r *OrderRepository) ListByUserID(ctx context.Context, userID int64, keyword string, page, pageSize int) ([]*model.ServiceOrder, int64, error) {
	var orders []*model.ServiceOrder
	var total int64

	query := r.db.WithContext(ctx).Model(&model.ServiceOrder{}).Where("user_id = ?", userID)
	if keyword = strings.TrimSpace(keyword); keyword != "" {
		query = query.Where("service_title LIKE ?", "%"+keyword+"%")
	}
	query = query.Session(&gorm.Session{})

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset, limit := paginate(page, pageSize)
	err := query.
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&orders).Error

	return orders, total, err
}

func (r *OrderRepository) CountByUserID(ctx context.Context, userID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.ServiceOrder{}).Where("user_id = ?", userID).Count(&count).Error
	return count, err
}

type StatusCount struct {
	Status string
	Count  int64
}

// CountByPaymentStatus 管理后台统计
func (r *OrderRepository) CountByPaymentStatus(ctx context.Context) (map[string]int64, error) {
	var rows []StatusCount
	err := r.db.WithContext(ctx).
		Model(&model.ServiceOrder{}).
		Select("payment_status AS status, COUNT(*) AS count").
		Group("payment_status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func (r *OrderRepository) CountByProgress(ctx context.Context) (map[string]int64, error) {
	var rows []StatusCount
	err := r.db.WithContext(ctx).
		Model(&model.ServiceOrder{}).
		Select("progress_status AS status, COUNT(*) AS count").
		Group("progress_status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// SumPaid 已付款订单金额合计
func (r *OrderRepository) SumPaid(ctx context.Context) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.db.WithContext(ctx).
		Model(&model.ServiceOrder{}).
		Select("COALESCE(SUM(price), 0)").
		Where("payment_status = ?", model.PaymentStatusPaid).
		Row().
		Scan(&total)
	return total, err
}

func (r *OrderRepository) CreateDocument(ctx context.Context, tx *gorm.DB, doc *model.OrderDocument) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(doc).Error
}

func (r *OrderRepository) ListDocuments(ctx context.Context, orderID int64) ([]*model.OrderDocument, error) {
	var docs []*model.OrderDocument
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("id ASC").Find(&docs).Error
	return docs, err
}
