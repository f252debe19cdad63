package repository

import (
	"context"
	"strings"

	"servicemart/internal/model"

	"gorm.io/gorm"
)

type ServiceRepository struct {
	db *gorm.DB
}

func NewServiceRepository(db *gorm.DB) *ServiceRepository {
	return &ServiceRepository{db: db}
}

func (r *ServiceRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.Service, error) {
	if tx == nil {
		tx = r.db
	}
	var svc model.Service
	if err := tx.WithContext(ctx).Where("id = ?", id).First(&svc).Error; err != nil {
		return nil, notFound(err, ErrServiceNotFound)
	}
	return &svc, nil
}

// GetActiveBySlug 下架的服务视为不存在
func (r *ServiceRepository) GetActiveBySlug(ctx context.Context, slug string) (*model.Service, error) {
	var svc model.Service
	err := r.db.WithContext(ctx).
		Where("slug = ? AND is_active = ?", slug, true).
		First(&svc).Error
	if err != nil {
		return nil, notFound(err, ErrServiceNotFound)
	}
	return &svc, nil
}

// ListActive 按分类 slug 和标题关键字过滤
func (r *ServiceRepository) ListActive(ctx context.Context, categorySlug, keyword string) ([]*model.Service, error) {
	query := r.db.WithContext(ctx).Model(&model.Service{}).Where("services.is_active = ?", true)
	if categorySlug != "" {
		query = query.
			Joins("JOIN service_categories ON service_categories.id = services.category_id").
			Where("service_categories.slug = ? AND service_categories.is_active = ?", categorySlug, true)
	}
	if keyword = strings.TrimSpace(keyword); keyword != "" {
		query = query.Where("services.title LIKE ?", "%"+keyword+"%")
	}

	var services []*model.Service
	err := query.Order("services.title ASC").Find(&services).Error
	return services, err
}

func (r *ServiceRepository) ListCategories(ctx context.Context) ([]*model.ServiceCategory, error) {
	var categories []*model.ServiceCategory
	err := r.db.WithContext(ctx).Where("is_active = ?", true).Order("name ASC").Find(&categories).Error
	return categories, err
}
