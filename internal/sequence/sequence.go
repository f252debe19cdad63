// Package sequence 生成人类可读的业务编号：
//
//	CUS-YYYY-NNNNN   C 端客户，按年编号
//	PRT-YYYY-NNNN    合作伙伴，按年编号
//	PC-{partner_id}-NNN  合作伙伴名下客户，按合作伙伴编号
//
// 所有函数都必须在调用方的事务里执行，编号和实体插入一起提交才算占用。
package sequence

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"servicemart/internal/apperr"
	"servicemart/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	customerPrefix        = "CUS"
	partnerPrefix         = "PRT"
	partnerCustomerPrefix = "PC"
)

// NextCustomerID 锁住当年已有的 CUS 编号，取字典序最大者加一
func NextCustomerID(ctx context.Context, tx *gorm.DB, now time.Time) (string, error) {
	prefix := fmt.Sprintf("%s-%d", customerPrefix, now.Year())
	last, err := lastInScope(ctx, tx, &model.User{}, "customer_id", prefix)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%05d", prefix, last+1), nil
}

// NextPartnerID 同 NextCustomerID，四位序号
func NextPartnerID(ctx context.Context, tx *gorm.DB, now time.Time) (string, error) {
	prefix := fmt.Sprintf("%s-%d", partnerPrefix, now.Year())
	last, err := lastInScope(ctx, tx, &model.Partner{}, "partner_id", prefix)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%04d", prefix, last+1), nil
}

// NextPartnerCustomerID 锁住合作伙伴行后按名下客户数（含软删除）加一。
// 合作伙伴必须已经持久化并拥有 partner_id
func NextPartnerCustomerID(ctx context.Context, tx *gorm.DB, partner *model.Partner) (string, error) {
	if partner == nil || partner.ID == 0 || partner.PartnerID == "" {
		return "", apperr.ErrPartnerIDMissing
	}

	var locked model.Partner
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id", "partner_id").
		Where("id = ?", partner.ID).
		First(&locked).Error
	if err != nil {
		return "", fmt.Errorf("锁定合作伙伴失败: %w", err)
	}
	if locked.PartnerID == "" {
		return "", apperr.ErrPartnerIDMissing
	}

	var count int64
	err = tx.WithContext(ctx).
		Unscoped().
		Model(&model.Customer{}).
		Where("partner_id = ?", partner.ID).
		Count(&count).Error
	if err != nil {
		return "", fmt.Errorf("统计合作伙伴客户失败: %w", err)
	}

	return fmt.Sprintf("%s-%s-%03d", partnerCustomerPrefix, locked.PartnerID, count+1), nil
}

func lastInScope(ctx context.Context, tx *gorm.DB, table interface{}, column, prefix string) (int, error) {
	var ids []string
	err := tx.WithContext(ctx).
		Model(table).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(column+" LIKE ?", prefix+"-%").
		Order(column+" DESC").
		Limit(1).
		Pluck(column, &ids).Error
	if err != nil {
		return 0, fmt.Errorf("查询 %s 最大编号失败: %w", column, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	return parseSuffix(ids[0])
}

func parseSuffix(id string) (int, error) {
	i := strings.LastIndex(id, "-")
	n, err := strconv.Atoi(id[i+1:])
	if err != nil || n < 0 {
		return 0, apperr.Wrap(apperr.ErrConsistency, fmt.Errorf("编号格式错误: %s", id))
	}
	return n, nil
}
