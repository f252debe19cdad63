package repository

import (
	"context"
	"strings"

	"servicemart/internal/model"

	"gorm.io/gorm"
)

type CustomerRepository struct {
	db *gorm.DB
}

func NewCustomerRepository(db *gorm.DB) *CustomerRepository {
	return &CustomerRepository{db: db}
}

// Create partner_customer_id 由调用方在持有合作伙伴行锁的事务里生成
func (r *CustomerRepository) Create(ctx context.Context, tx *gorm.DB, customer *model.Customer) error {
	if tx == nil {
		tx = r.db
	}
	customer.Email = model.NormalizeEmail(customer.Email)
	return tx.WithContext(ctx).Create(customer).Error
}

func (r *CustomerRepository) GetForPartner(ctx context.Context, tx *gorm.DB, partnerID, id int64) (*model.Customer, error) {
	if tx == nil {
		tx = r.db
	}
	var customer model.Customer
	err := tx.WithContext(ctx).
		Where("id = ? AND partner_id = ?", id, partnerID).
		First(&customer).Error
	if err != nil {
		return nil, notFound(err, ErrCustomerNotFound)
	}
	return &customer, nil
}

// EmailExists 同一合作伙伴下邮箱唯一（不区分大小写）
func (r *CustomerRepository) EmailExists(ctx context.Context, tx *gorm.DB, partnerID int64, email string, excludeID int64) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	query := tx.WithContext(ctx).
		Model(&model.Customer{}).
		Where("partner_id = ? AND LOWER(email) = ?", partnerID, strings.ToLower(strings.TrimSpace(email)))
	if excludeID > 0 {
		query = query.Where("id <> ?", excludeID)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *CustomerRepository) ListByPartner(ctx context.Context, partnerID int64, keyword string, page, pageSize int) ([]*model.Customer, int64, error) {
	var customers []*model.Customer
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Customer{}).Where("partner_id = ?", partnerID)
	if keyword = strings.TrimSpace(keyword); keyword != "" {
		like := "%" + keyword + "%"
		query = query.Where("(name LIKE ? OR email LIKE ? OR partner_customer_id LIKE ?)", like, like, like)
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
		Find(&customers).Error

	return customers, total, err
}

// Update 不会改动 partner_customer_id
func (r *CustomerRepository) Update(ctx context.Context, tx *gorm.DB, customer *model.Customer) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.Customer{}).
		Where("id = ? AND partner_id = ?", customer.ID, customer.PartnerID).
		Updates(map[string]interface{}{
			"name":    customer.Name,
			"email":   model.NormalizeEmail(customer.Email),
			"phone":   customer.Phone,
			"address": customer.Address,
		}).Error
}

// Delete 软删除
func (r *CustomerRepository) Delete(ctx context.Context, partnerID, id int64) error {
	result := r.db.WithContext(ctx).
		Where("id = ? AND partner_id = ?", id, partnerID).
		Delete(&model.Customer{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCustomerNotFound
	}
	return nil
}

func (r *CustomerRepository) CountByPartner(ctx context.Context, partnerID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Customer{}).Where("partner_id = ?", partnerID).Count(&count).Error
	return count, err
}
