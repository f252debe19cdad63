package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"servicemart/internal/admin"
	"servicemart/internal/config"
	"servicemart/internal/infrastructure/cache"
	"servicemart/internal/infrastructure/invoice"
	"servicemart/internal/infrastructure/lock"
	"servicemart/internal/infrastructure/metrics"
	"servicemart/internal/infrastructure/session"
	"servicemart/internal/infrastructure/storage"
	"servicemart/internal/model"
	"servicemart/internal/otp"
	"servicemart/internal/service"
	"servicemart/internal/testutil"

	"github.com/casbin/casbin/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	if err := RegisterValidators(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type mailbox struct {
	mu    sync.Mutex
	codes map[string]string
}

func (b *mailbox) SendOTP(_ context.Context, email, code, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.codes[email] = code
	return nil
}

func (b *mailbox) last(email string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.codes[email]
}

type server struct {
	router *gin.Engine
	db     *gorm.DB
	cfg    *config.Config
	mail   *mailbox
}

func newServer(t *testing.T) *server {
	t.Helper()
	db := testutil.NewDB(t)
	_, rdb := testutil.NewRedis(t)
	cfg := config.Default()
	cfg.OTP.RateLimit = false
	cfg.Server.Mode = gin.TestMode
	log := zap.NewNop()
	m := metrics.New(prometheus.NewRegistry())

	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	enforcer, err := casbin.NewEnforcer("../../config/rbac_model.conf", "../../config/rbac_policy.csv")
	require.NoError(t, err)

	mail := &mailbox{codes: map[string]string{}}
	engine := otp.NewEngine(mail, nil, cfg.OTP.Digits, m, log)
	locker := lock.NewRedisLocker(rdb, time.Second)
	kv := cache.NewCache(rdb, "test")

	wallets := service.NewWalletService(db, cfg, m, log)
	subs := service.NewSubscriptionService(db, wallets, log)
	invoices := service.NewInvoiceService(db, invoice.NewPDFRenderer("ServiceMart"), store, locker, m, log)
	payments := service.NewPayService(db, cfg, wallets, subs, invoices, locker, m, log)
	partners := service.NewPartnerService(db, wallets, subs, log)
	registry := admin.NewRegistry()
	require.NoError(t, admin.RegisterDefaults(registry, db))

	h := NewHandler(Services{
		Accounts:      service.NewAccountService(db, cfg, engine, kv, log),
		Partners:      partners,
		Approvals:     service.NewApprovalService(db, cfg, partners, payments, engine, store, locker, m, log),
		Orders:        service.NewOrderService(db, cfg, subs, store, log),
		Payments:      payments,
		Wallets:       wallets,
		Subscriptions: subs,
		Invoices:      invoices,
		Admin:         service.NewAdminService(db, log),
		Registry:      registry,
	}, session.NewStore(rdb, cfg.Session.TTL), store, cfg, log)

	return &server{router: SetupRouter(h, enforcer, m, cfg, log), db: db, cfg: cfg, mail: mail}
}

func (s *server) seedUser(t *testing.T, email string, staff bool) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret123"), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, s.db.Create(&model.User{
		Email:        email,
		Phone:        "90000" + email[:5],
		FirstName:    "Test",
		UserType:     model.UserTypeCustomer,
		PasswordHash: string(hash),
		IsActive:     true,
		IsStaff:      staff,
	}).Error)
}

type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// do 发送 JSON 请求，cookie 为空时不带会话
func (s *server) do(t *testing.T, method, path string, body interface{}, cookie *http.Cookie) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var resp apiResponse
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
	}
	return w, resp
}

func (s *server) sessionCookie(w *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == s.cfg.Session.CookieName {
			return c
		}
	}
	return nil
}

func (s *server) login(t *testing.T, path, email string) *http.Cookie {
	t.Helper()
	w, resp := s.do(t, http.MethodPost, path, gin.H{"email": email, "password": "secret123"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Zero(t, resp.Code, resp.Message)
	cookie := s.sessionCookie(w)
	require.NotNil(t, cookie)
	return cookie
}

func TestHealth(t *testing.T) {
	s := newServer(t)
	w, _ := s.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSessionLoginAndLogout(t *testing.T) {
	s := newServer(t)
	s.seedUser(t, "asha@example.com", false)

	w, resp := s.do(t, http.MethodGet, "/api/v1/accounts/me/profile", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 401, resp.Code)

	cookie := s.login(t, "/api/v1/accounts/login", "asha@example.com")
	assert.True(t, cookie.HttpOnly)

	w, resp = s.do(t, http.MethodGet, "/api/v1/accounts/me/profile", nil, cookie)
	require.Equal(t, http.StatusOK, w.Code)
	var me model.User
	require.NoError(t, json.Unmarshal(resp.Data, &me))
	assert.Equal(t, "asha@example.com", me.Email)

	w, _ = s.do(t, http.MethodPost, "/api/v1/accounts/logout", nil, cookie)
	require.Equal(t, http.StatusOK, w.Code)
	cleared := s.sessionCookie(w)
	require.NotNil(t, cleared)
	assert.Negative(t, cleared.MaxAge)

	w, _ = s.do(t, http.MethodGet, "/api/v1/accounts/me/profile", nil, cookie)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthorize(t *testing.T) {
	s := newServer(t)
	s.seedUser(t, "asha@example.com", false)
	s.seedUser(t, "admin@example.com", true)

	customer := s.login(t, "/api/v1/accounts/login", "asha@example.com")
	for _, path := range []string{"/api/v1/admin/dashboard", "/api/v1/partners/me/dashboard", "/api/v1/admin/entities"} {
		w, resp := s.do(t, http.MethodGet, path, nil, customer)
		assert.Equal(t, http.StatusForbidden, w.Code, path)
		assert.Equal(t, 403, resp.Code, path)
	}

	staff := s.login(t, "/api/v1/admin/login", "admin@example.com")
	w, resp := s.do(t, http.MethodGet, "/api/v1/admin/dashboard", nil, staff)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, resp.Code)

	w, resp = s.do(t, http.MethodGet, "/api/v1/admin/entities/users?page=1", nil, staff)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, resp.Code, resp.Message)
}

func TestSignupThroughAPI(t *testing.T) {
	s := newServer(t)

	_, resp := s.do(t, http.MethodPost, "/api/v1/accounts/signup", gin.H{
		"first_name": "Asha", "email": "asha@example.com", "phone": "12ab", "password": "secret123",
	}, nil)
	assert.Equal(t, 400, resp.Code)
	assert.Equal(t, "Enter a valid phone number.", resp.Message)

	w, resp := s.do(t, http.MethodPost, "/api/v1/accounts/signup", gin.H{
		"first_name": "Asha", "last_name": "Rao", "email": "asha@example.com", "phone": "+91 98765-43210", "password": "secret123",
	}, nil)
	require.Zero(t, resp.Code, resp.Message)
	cookie := s.sessionCookie(w)
	require.NotNil(t, cookie)

	_, resp = s.do(t, http.MethodPost, "/api/v1/accounts/signup/verify", gin.H{"otp": s.mail.last("asha@example.com")}, cookie)
	require.Zero(t, resp.Code, resp.Message)
	var user model.User
	require.NoError(t, json.Unmarshal(resp.Data, &user))
	require.NotNil(t, user.CustomerID)
	assert.Regexp(t, `^CUS-\d{4}-00001$`, *user.CustomerID)
}
