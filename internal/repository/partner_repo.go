package repository

import (
	"context"
	"strings"

	"servicemart/internal/apperr"
	"servicemart/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PartnerRepository struct {
	db *gorm.DB
}

func NewPartnerRepository(db *gorm.DB) *PartnerRepository {
	return &PartnerRepository{db: db}
}

// Create partner_id 由调用方在同一事务里通过 sequence.NextPartnerID 生成
func (r *PartnerRepository) Create(ctx context.Context, tx *gorm.DB, partner *model.Partner) error {
	if partner.PartnerID == "" {
		return apperr.ErrPartnerIDMissing
	}
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(partner).Error
}

func (r *PartnerRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.Partner, error) {
	if tx == nil {
		tx = r.db
	}
	var partner model.Partner
	if err := tx.WithContext(ctx).Where("id = ?", id).First(&partner).Error; err != nil {
		return nil, notFound(err, ErrPartnerNotFound)
	}
	return &partner, nil
}

func (r *PartnerRepository) GetByUserID(ctx context.Context, tx *gorm.DB, userID int64) (*model.Partner, error) {
	if tx == nil {
		tx = r.db
	}
	var partner model.Partner
	if err := tx.WithContext(ctx).Where("user_id = ?", userID).First(&partner).Error; err != nil {
		return nil, notFound(err, ErrPartnerNotFound)
	}
	return &partner, nil
}

// GetByUserIDForUpdate 锁住合作伙伴行，用来串行化其名下的客户创建
func (r *PartnerRepository) GetByUserIDForUpdate(ctx context.Context, tx *gorm.DB, userID int64) (*model.Partner, error) {
	var partner model.Partner
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&partner).Error
	if err != nil {
		return nil, notFound(err, ErrPartnerNotFound)
	}
	return &partner, nil
}

// ExistsByEmailOrPhone 是否已有合作伙伴使用该邮箱或手机号
func (r *PartnerRepository) ExistsByEmailOrPhone(ctx context.Context, email, phone string) (emailTaken, phoneTaken bool, err error) {
	base := r.db.WithContext(ctx).
		Model(&model.Partner{}).
		Joins("JOIN users ON users.id = partners.user_id")

	var count int64
	if email != "" {
		err = base.Session(&gorm.Session{}).
			Where("LOWER(users.email) = ?", strings.ToLower(strings.TrimSpace(email))).
			Count(&count).Error
		if err != nil {
			return false, false, err
		}
		emailTaken = count > 0
	}
	if phone != "" {
		count = 0
		err = base.Session(&gorm.Session{}).
			Where("users.phone = ?", strings.TrimSpace(phone)).
			Count(&count).Error
		if err != nil {
			return false, false, err
		}
		phoneTaken = count > 0
	}
	return emailTaken, phoneTaken, nil
}

// ListMissingPartnerID 历史数据中 partner_id 为空的合作伙伴
func (r *PartnerRepository) ListMissingPartnerID(ctx context.Context, limit int) ([]*model.Partner, error) {
	var partners []*model.Partner
	err := r.db.WithContext(ctx).
		Where("partner_id = ? OR partner_id IS NULL", "").
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&partners).Error
	return partners, err
}

// AssignPartnerID 只在 partner_id 为空时写入
func (r *PartnerRepository) AssignPartnerID(ctx context.Context, tx *gorm.DB, id int64, partnerID string) error {
	result := tx.WithContext(ctx).
		Model(&model.Partner{}).
		Where("id = ? AND (partner_id = ? OR partner_id IS NULL)", id, "").
		Update("partner_id", partnerID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperr.Wrap(apperr.ErrConsistency, gorm.ErrRecordNotFound)
	}
	return nil
}

func (r *PartnerRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Partner{}).Count(&count).Error
	return count, err
}

func (r *PartnerRepository) CreateDocument(ctx context.Context, tx *gorm.DB, doc *model.PartnerDocument) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(doc).Error
}

func (r *PartnerRepository) ListDocuments(ctx context.Context, tx *gorm.DB, partnerID int64) ([]*model.PartnerDocument, error) {
	if tx == nil {
		tx = r.db
	}
	var docs []*model.PartnerDocument
	err := tx.WithContext(ctx).Where("partner_id = ?", partnerID).Order("id ASC").Find(&docs).Error
	return docs, err
}

func (r *PartnerRepository) GetDocumentType(ctx context.Context, tx *gorm.DB, id int64) (*model.DocumentType, error) {
	if tx == nil {
		tx = r.db
	}
	var docType model.DocumentType
	if err := tx.WithContext(ctx).Where("id = ?", id).First(&docType).Error; err != nil {
		return nil, notFound(err, ErrDocumentTypeNotFound)
	}
	return &docType, nil
}

func (r *PartnerRepository) ListDocumentTypes(ctx context.Context) ([]*model.DocumentType, error) {
	var types []*model.DocumentType
	err := r.db.WithContext(ctx).Order("id ASC").Find(&types).Error
	return types, err
}
