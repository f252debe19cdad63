package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"servicemart/internal/config"
	"servicemart/internal/infrastructure/cache"
	"servicemart/internal/infrastructure/invoice"
	"servicemart/internal/infrastructure/lock"
	"servicemart/internal/infrastructure/metrics"
	"servicemart/internal/infrastructure/storage"
	"servicemart/internal/model"
	"servicemart/internal/otp"
	"servicemart/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// fakeSender 记录每个邮箱最后收到的验证码
type fakeSender struct {
	mu    sync.Mutex
	codes map[string]string
	fail  error
}

func newFakeSender() *fakeSender {
	return &fakeSender{codes: map[string]string{}}
}

func (f *fakeSender) SendOTP(_ context.Context, email, code, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.codes[email] = code
	return nil
}

func (f *fakeSender) last(email string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.codes[email]
}

type env struct {
	db     *gorm.DB
	mr     *miniredis.Miniredis
	cfg    *config.Config
	sender *fakeSender
	store  *storage.LocalStore

	accounts  *AccountService
	wallets   *WalletService
	subs      *SubscriptionService
	invoices  *InvoiceService
	payments  *PayService
	partners  *PartnerService
	approvals *ApprovalService
	orders    *OrderService
	admin     *AdminService
}

func newEnv(t *testing.T) *env {
	t.Helper()

	db := testutil.NewDB(t)
	mr, rdb := testutil.NewRedis(t)
	cfg := config.Default()
	cfg.OTP.RateLimit = false
	log := zap.NewNop()
	m := metrics.New(prometheus.NewRegistry())

	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	sender := newFakeSender()
	engine := otp.NewEngine(sender, nil, cfg.OTP.Digits, m, log)
	locker := lock.NewRedisLocker(rdb, time.Second)
	kv := cache.NewCache(rdb, "test")

	wallets := NewWalletService(db, cfg, m, log)
	subs := NewSubscriptionService(db, wallets, log)
	invoices := NewInvoiceService(db, invoice.NewPDFRenderer("ServiceMart"), store, locker, m, log)
	payments := NewPayService(db, cfg, wallets, subs, invoices, locker, m, log)
	partners := NewPartnerService(db, wallets, subs, log)

	return &env{
		db:        db,
		mr:        mr,
		cfg:       cfg,
		sender:    sender,
		store:     store,
		accounts:  NewAccountService(db, cfg, engine, kv, log),
		wallets:   wallets,
		subs:      subs,
		invoices:  invoices,
		payments:  payments,
		partners:  partners,
		approvals: NewApprovalService(db, cfg, partners, payments, engine, store, locker, m, log),
		orders:    NewOrderService(db, cfg, subs, store, log),
		admin:     NewAdminService(db, log),
	}
}

func intPtr(v int) *int { return &v }

func (e *env) seedPlan(t *testing.T, name, planType, price string, days *int) *model.PartnerPlan {
	t.Helper()
	plan := &model.PartnerPlan{
		Name:         name,
		PlanType:     planType,
		Price:        decimal.RequireFromString(price),
		DurationDays: days,
		IsActive:     true,
	}
	require.NoError(t, e.db.Create(plan).Error)
	return plan
}

func (e *env) seedDocumentType(t *testing.T, name string, mandatory bool) *model.DocumentType {
	t.Helper()
	dt := &model.DocumentType{Name: name, Mandatory: mandatory}
	require.NoError(t, e.db.Create(dt).Error)
	return dt
}

func (e *env) seedService(t *testing.T, slug, userPrice, partnerPrice, availableFor string) *model.Service {
	t.Helper()
	cat := &model.ServiceCategory{Name: "Tax " + slug, Slug: "cat-" + slug, IsActive: true}
	require.NoError(t, e.db.Create(cat).Error)
	svc := &model.Service{
		CategoryID:          cat.ID,
		Title:               "Service " + slug,
		Slug:                slug,
		PriceUser:           decimal.RequireFromString(userPrice),
		PricePartnerDefault: decimal.RequireFromString(partnerPrice),
		AvailableFor:        availableFor,
		IsActive:            true,
	}
	require.NoError(t, e.db.Create(svc).Error)
	return svc
}

// seedCustomerUser 直接落库一个已激活的 C 端用户，密码为 secret123
func (e *env) seedCustomerUser(t *testing.T, email, phone string) *model.User {
	t.Helper()
	user := &model.User{
		Email:        email,
		Phone:        phone,
		FirstName:    "Asha",
		LastName:     "Rao",
		UserType:     model.UserTypeCustomer,
		PasswordHash: mustHash(t, "secret123"),
		IsActive:     true,
	}
	require.NoError(t, e.accounts.userRepo.Create(context.Background(), nil, user))
	return user
}

// seedPartner 通过后台开通接口创建合作伙伴
func (e *env) seedPartner(t *testing.T, email, phone string, plan *model.PartnerPlan) *Provisioned {
	t.Helper()
	in := &AdminPartnerInput{
		Email:     email,
		Phone:     phone,
		FirstName: "Ravi",
		LastName:  "Kumar",
		Password:  "secret123",
		BusinessProfile: BusinessProfile{
			BusinessName: "Kumar Associates",
			Address:      "12 MG Road",
			City:         "Pune",
			State:        "MH",
			Pincode:      "411001",
		},
	}
	if plan != nil {
		in.PlanID = &plan.ID
	}
	p, err := e.partners.CreatePartnerAccount(context.Background(), in)
	require.NoError(t, err)
	return p
}

func (e *env) setBalance(t *testing.T, walletID int64, amount string) {
	t.Helper()
	_, err := e.wallets.AdminSetBalance(context.Background(), walletID, decimal.RequireFromString(amount), nil, "test")
	require.NoError(t, err)
}

func (e *env) wallet(t *testing.T, id int64) *model.Wallet {
	t.Helper()
	var w model.Wallet
	require.NoError(t, e.db.First(&w, id).Error)
	return &w
}

func (e *env) order(t *testing.T, id int64) *model.ServiceOrder {
	t.Helper()
	var o model.ServiceOrder
	require.NoError(t, e.db.First(&o, id).Error)
	return &o
}

func (e *env) txns(t *testing.T, walletID int64) []model.WalletTransaction {
	t.Helper()
	var list []model.WalletTransaction
	require.NoError(t, e.db.Where("wallet_id = ?", walletID).Order("id").Find(&list).Error)
	return list
}

func (e *env) outboxCount(t *testing.T, eventType string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&model.OutboxMessage{}).Where("event_type = ?", eventType).Count(&n).Error)
	return n
}

var errSMTPDown = errors.New("smtp down")

func mustHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
