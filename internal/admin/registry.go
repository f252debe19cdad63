// Package admin 后台通用列表/详情。可查看的实体在 RegisterDefaults 中逐个显式登记
package admin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"servicemart/internal/model"

	"gorm.io/gorm"
)

var (
	ErrUnknownEntity = errors.New("admin: unknown entity")
	ErrDuplicate     = errors.New("admin: entity already registered")
	ErrNotFound      = errors.New("admin: record not found")
	ErrNotFilterable = errors.New("admin: field is not filterable")
)

// Query 列表参数。Filters 只接受描述符声明过的字段
type Query struct {
	Page     int
	PageSize int
	Search   string
	Filters  map[string]string
}

// Descriptor 一个可在后台查看的实体
type Descriptor struct {
	Name         string   `json:"name"`
	Title        string   `json:"title"`
	SearchFields []string `json:"search_fields,omitempty"`
	FilterFields []string `json:"filter_fields,omitempty"`

	List func(ctx context.Context, q Query) (interface{}, int64, error) `json:"-"`
	Get  func(ctx context.Context, id int64) (interface{}, error)      `json:"-"`
}

// Registry 实体名到描述符
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Descriptor
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Descriptor)}
}

func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" || d.List == nil || d.Get == nil {
		return fmt.Errorf("admin: incomplete descriptor %q", d.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[d.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, d.Name)
	}
	r.entries[d.Name] = d
	return nil
}

func (r *Registry) Lookup(name string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.entries[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownEntity, name)
	}
	return d, nil
}

// Descriptors 按名称排序
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.entries))
	for _, d := range r.entries {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Table 用 gorm 为模型 T 生成描述符，按 id 倒序分页
func Table[T any](db *gorm.DB, name, title string, search, filters []string) Descriptor {
	allowed := make(map[string]bool, len(filters))
	for _, f := range filters {
		allowed[f] = true
	}

	return Descriptor{
		Name:         name,
		Title:        title,
		SearchFields: search,
		FilterFields: filters,
		List: func(ctx context.Context, q Query) (interface{}, int64, error) {
			query := db.WithContext(ctx).Model(new(T))
			for field, value := range q.Filters {
				if !allowed[field] {
					return nil, 0, fmt.Errorf("%w: %s on %s", ErrNotFilterable, field, name)
				}
				query = query.Where(field+" = ?", value)
			}
			if kw := strings.TrimSpace(q.Search); kw != "" && len(search) > 0 {
				conds := make([]string, 0, len(search))
				args := make([]interface{}, 0, len(search))
				for _, f := range search {
					conds = append(conds, f+" LIKE ?")
					args = append(args, "%"+kw+"%")
				}
				query = query.Where("("+strings.Join(conds, " OR ")+")", args...)
			}
			query = query.Session(&gorm.Session{})

			var total int64
			if err := query.Count(&total).Error; err != nil {
				return nil, 0, err
			}

			page, size := q.Page, q.PageSize
			if page <= 0 {
				page = 1
			}
			if size <= 0 || size > 100 {
				size = 20
			}
			var rows []*T
			err := query.Order("id DESC").Offset((page - 1) * size).Limit(size).Find(&rows).Error
			return rows, total, err
		},
		Get: func(ctx context.Context, id int64) (interface{}, error) {
			var row T
			err := db.WithContext(ctx).Where("id = ?", id).First(&row).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrNotFound
			}
			if err != nil {
				return nil, err
			}
			return &row, nil
		},
	}
}

// RegisterDefaults 登记后台可见的全部实体
func RegisterDefaults(r *Registry, db *gorm.DB) error {
	descriptors := []Descriptor{
		Table[model.User](db, "users", "Users", []string{"email", "phone", "first_name", "last_name", "customer_id"}, []string{"user_type", "is_active"}),
		Table[model.Partner](db, "partners", "Partners", []string{"partner_id", "business_name", "city"}, []string{"state"}),
		Table[model.Customer](db, "customers", "Partner customers", []string{"partner_customer_id", "name", "email"}, []string{"partner_id"}),
		Table[model.DocumentType](db, "document_types", "Document types", []string{"name"}, nil),
		Table[model.PartnerPlan](db, "plans", "Partner plans", []string{"name"}, []string{"plan_type", "is_active"}),
		Table[model.PartnerSubscription](db, "subscriptions", "Subscriptions", nil, []string{"partner_id", "plan_id", "is_active"}),
		Table[model.Wallet](db, "wallets", "Wallets", nil, []string{"partner_id"}),
		Table[model.WalletTransaction](db, "wallet_transactions", "Wallet transactions", []string{"transaction_no", "details"}, []string{"wallet_id", "type"}),
		Table[model.PartnerRequest](db, "partner_requests", "Partner requests", []string{"full_name", "email", "business_name", "order_id"}, []string{"payment_status", "approval_status"}),
		Table[model.ServiceCategory](db, "service_categories", "Service categories", []string{"name", "slug"}, []string{"is_active"}),
		Table[model.Service](db, "services", "Services", []string{"title", "slug"}, []string{"category_id", "available_for", "is_active"}),
		Table[model.ServiceOrder](db, "service_orders", "Service orders", []string{"service_title", "full_name", "email"}, []string{"payment_status", "progress_status", "payment_method", "user_id"}),
		Table[model.PaymentIntent](db, "payment_intents", "Payment intents", []string{"order_no"}, []string{"purpose", "status"}),
		Table[model.OutboxMessage](db, "outbox_messages", "Outbox messages", []string{"event_type", "message_key"}, []string{"status", "topic"}),
	}
	for _, d := range descriptors {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}
