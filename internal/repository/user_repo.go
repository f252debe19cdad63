package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"servicemart/internal/model"
	"servicemart/internal/sequence"

	"gorm.io/gorm"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create 插入用户。customer 类型且尚无 customer_id 时，在同一事务内分配编号，
// 编号年份取 DateJoined
func (r *UserRepository) Create(ctx context.Context, tx *gorm.DB, user *model.User) error {
	if tx == nil {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return r.Create(ctx, tx, user)
		})
	}

	user.Email = model.NormalizeEmail(user.Email)
	if user.DateJoined.IsZero() {
		user.DateJoined = time.Now()
	}
	if user.UserType == "" {
		user.UserType = model.UserTypeCustomer
	}
	if user.UserType == model.UserTypeCustomer && user.CustomerID == nil {
		id, err := sequence.NextCustomerID(ctx, tx, user.DateJoined)
		if err != nil {
			return err
		}
		user.CustomerID = &id
	}
	return tx.WithContext(ctx).Create(user).Error
}

func (r *UserRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.User, error) {
	if tx == nil {
		tx = r.db
	}
	var user model.User
	if err := tx.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, notFound(err, ErrUserNotFound)
	}
	return &user, nil
}

// GetByEmail 邮箱大小写不敏感
func (r *UserRepository) GetByEmail(ctx context.Context, tx *gorm.DB, email string) (*model.User, error) {
	if tx == nil {
		tx = r.db
	}
	var user model.User
	err := tx.WithContext(ctx).
		Where("LOWER(email) = ?", strings.ToLower(strings.TrimSpace(email))).
		First(&user).Error
	if err != nil {
		return nil, notFound(err, ErrUserNotFound)
	}
	return &user, nil
}

// EmailExists excludeID 为 0 时不排除任何用户
func (r *UserRepository) EmailExists(ctx context.Context, tx *gorm.DB, email string, excludeID int64) (bool, error) {
	return r.exists(ctx, tx, "LOWER(email) = ?", strings.ToLower(strings.TrimSpace(email)), excludeID)
}

func (r *UserRepository) PhoneExists(ctx context.Context, tx *gorm.DB, phone string, excludeID int64) (bool, error) {
	return r.exists(ctx, tx, "phone = ?", strings.TrimSpace(phone), excludeID)
}

func (r *UserRepository) exists(ctx context.Context, tx *gorm.DB, cond string, value interface{}, excludeID int64) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	query := tx.WithContext(ctx).Model(&model.User{}).Where(cond, value)
	if excludeID > 0 {
		query = query.Where("id <> ?", excludeID)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// ProfileFields 可由用户修改的资料字段
type ProfileFields struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

// UpdateProfile 只更新资料字段，customer_id 等编号不会被改写
func (r *UserRepository) UpdateProfile(ctx context.Context, tx *gorm.DB, id int64, fields ProfileFields) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"first_name": fields.FirstName,
			"last_name":  fields.LastName,
			"email":      model.NormalizeEmail(fields.Email),
			"phone":      strings.TrimSpace(fields.Phone),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *UserRepository) UpdatePassword(ctx context.Context, tx *gorm.DB, id int64, hash string) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ?", id).
		Update("password_hash", hash)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// PromoteToPartner 已有账号升级为合作伙伴账号
func (r *UserRepository) PromoteToPartner(ctx context.Context, tx *gorm.DB, id int64) error {
	return tx.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"user_type":           model.UserTypePartner,
			"is_partner_approved": true,
		}).Error
}

// ListMissingCustomerID customer 类型但还没有编号的用户，按注册时间排序
func (r *UserRepository) ListMissingCustomerID(ctx context.Context, limit int) ([]*model.User, error) {
	var users []*model.User
	err := r.db.WithContext(ctx).
		Where("user_type = ? AND customer_id IS NULL", model.UserTypeCustomer).
		Order("date_joined ASC, id ASC").
		Limit(limit).
		Find(&users).Error
	return users, err
}

// AssignCustomerID 只在 customer_id 仍为空时写入
func (r *UserRepository) AssignCustomerID(ctx context.Context, tx *gorm.DB, id int64, customerID string) error {
	result := tx.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ? AND customer_id IS NULL", id).
		Update("customer_id", customerID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("用户 %d 已有 customer_id", id)
	}
	return nil
}

func (r *UserRepository) CountByType(ctx context.Context, userType string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.User{}).Where("user_type = ?", userType).Count(&count).Error
	return count, err
}
