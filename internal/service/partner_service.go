package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"servicemart/internal/apperr"
	"servicemart/internal/model"
	"servicemart/internal/repository"
	"servicemart/internal/sequence"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// PartnerService 合作伙伴账户、名下客户和合作伙伴看板
type PartnerService struct {
	db           *gorm.DB
	userRepo     *repository.UserRepository
	partnerRepo  *repository.PartnerRepository
	customerRepo *repository.CustomerRepository
	walletRepo   *repository.WalletRepository
	planRepo     *repository.PlanRepository
	orderRepo    *repository.OrderRepository
	wallet       *WalletService
	subs         *SubscriptionService
	log          *zap.Logger
	now          func() time.Time
}

func NewPartnerService(db *gorm.DB, wallet *WalletService, subs *SubscriptionService, log *zap.Logger) *PartnerService {
	return &PartnerService{
		db:           db,
		userRepo:     repository.NewUserRepository(db),
		partnerRepo:  repository.NewPartnerRepository(db),
		customerRepo: repository.NewCustomerRepository(db),
		walletRepo:   repository.NewWalletRepository(db),
		planRepo:     repository.NewPlanRepository(db),
		orderRepo:    repository.NewOrderRepository(db),
		wallet:       wallet,
		subs:         subs,
		log:          log.Named("PartnerService"),
		now:          time.Now,
	}
}

// BusinessProfile 合作伙伴的经营信息
type BusinessProfile struct {
	BusinessName string `json:"business_name" form:"business_name" binding:"required,max=255"`
	Address      string `json:"address" form:"address" binding:"required"`
	City         string `json:"city" form:"city" binding:"required,max=100"`
	State        string `json:"state" form:"state" binding:"required,max=100"`
	Pincode      string `json:"pincode" form:"pincode" binding:"required,pincode"`
}

func (p BusinessProfile) trimmed() BusinessProfile {
	return BusinessProfile{
		BusinessName: strings.TrimSpace(p.BusinessName),
		Address:      strings.TrimSpace(p.Address),
		City:         strings.TrimSpace(p.City),
		State:        strings.TrimSpace(p.State),
		Pincode:      strings.TrimSpace(p.Pincode),
	}
}

// Provisioned 开通结果
type Provisioned struct {
	User         *model.User                `json:"user"`
	Partner      *model.Partner             `json:"partner"`
	Wallet       *model.Wallet              `json:"wallet"`
	Subscription *model.PartnerSubscription `json:"subscription,omitempty"`
}

// provisionTx 在调用方事务中为已持久化的用户开通合作伙伴：
// 先生成 partner_id 并落库合作伙伴行，再复制证件、建零余额钱包，最后按所选套餐订阅
func (s *PartnerService) provisionTx(ctx context.Context, tx *gorm.DB, user *model.User, profile BusinessProfile,
	docs []model.PartnerDocument, plan *model.PartnerPlan) (*Provisioned, error) {
	now := s.now()

	partnerID, err := sequence.NextPartnerID(ctx, tx, now)
	if err != nil {
		return nil, fmt.Errorf("生成合作伙伴编号失败: %w", err)
	}
	profile = profile.trimmed()
	partner := &model.Partner{
		UserID:       user.ID,
		PartnerID:    partnerID,
		BusinessName: profile.BusinessName,
		Address:      profile.Address,
		City:         profile.City,
		State:        profile.State,
		Pincode:      profile.Pincode,
	}
	if err := s.partnerRepo.Create(ctx, tx, partner); err != nil {
		return nil, fmt.Errorf("创建合作伙伴失败: %w", err)
	}

	for _, doc := range docs {
		doc := doc
		doc.ID = 0
		doc.PartnerID = partner.ID
		if err := s.partnerRepo.CreateDocument(ctx, tx, &doc); err != nil {
			return nil, fmt.Errorf("保存合作伙伴证件失败: %w", err)
		}
	}

	wallet := &model.Wallet{PartnerID: partner.ID, Balance: decimal.Zero}
	if err := s.walletRepo.Create(ctx, tx, wallet); err != nil {
		return nil, fmt.Errorf("创建钱包失败: %w", err)
	}

	result := &Provisioned{User: user, Partner: partner, Wallet: wallet}
	if plan != nil {
		sub, err := s.subs.Subscribe(ctx, tx, partner.ID, plan, now)
		if err != nil {
			return nil, err
		}
		result.Subscription = sub
		if result.Wallet, err = s.walletRepo.GetByID(ctx, tx, wallet.ID); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// AdminPartnerInput 后台直接创建合作伙伴。邮箱对应的用户已存在时复用该用户，否则新建
type AdminPartnerInput struct {
	Email     string `json:"email" binding:"required,email"`
	Phone     string `json:"phone" binding:"required,phone"`
	FirstName string `json:"first_name" binding:"required,max=30"`
	LastName  string `json:"last_name" binding:"max=150"`
	Password  string `json:"password" binding:"omitempty,min=8"`
	PlanID    *int64 `json:"plan_id"`
	BusinessProfile
}

func (s *PartnerService) CreatePartnerAccount(ctx context.Context, in *AdminPartnerInput) (*Provisioned, error) {
	var plan *model.PartnerPlan
	if in.PlanID != nil {
		p, err := s.planRepo.GetByID(ctx, nil, *in.PlanID)
		if err != nil {
			return nil, err
		}
		plan = p
	}

	var result *Provisioned
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := s.userRepo.GetByEmail(ctx, tx, in.Email)
		switch {
		case errors.Is(err, repository.ErrUserNotFound):
			user, err = s.newPartnerUser(ctx, tx, in)
			if err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			if _, err := s.partnerRepo.GetByUserID(ctx, tx, user.ID); err == nil {
				return apperr.WithMsg(apperr.ErrPartnerExists, "This user is already a partner.")
			} else if !errors.Is(err, repository.ErrPartnerNotFound) {
				return err
			}
			if err := s.userRepo.PromoteToPartner(ctx, tx, user.ID); err != nil {
				return fmt.Errorf("升级用户为合作伙伴失败: %w", err)
			}
			user.UserType = model.UserTypePartner
			user.IsPartnerApproved = true
		}

		result, err = s.provisionTx(ctx, tx, user, in.BusinessProfile, nil, plan)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("后台创建合作伙伴",
		zap.Int64("userID", result.User.ID),
		zap.String("partnerID", result.Partner.PartnerID))
	return result, nil
}

func (s *PartnerService) newPartnerUser(ctx context.Context, tx *gorm.DB, in *AdminPartnerInput) (*model.User, error) {
	if taken, err := s.userRepo.PhoneExists(ctx, tx, in.Phone, 0); err != nil {
		return nil, err
	} else if taken {
		return nil, apperr.ErrPhoneTaken
	}
	if in.Password == "" {
		return nil, apperr.WithMsg(apperr.ErrInvalidParam, "password is required for a new user")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("生成密码哈希失败: %w", err)
	}
	user := &model.User{
		Email:             in.Email,
		Phone:             strings.TrimSpace(in.Phone),
		FirstName:         strings.TrimSpace(in.FirstName),
		LastName:          strings.TrimSpace(in.LastName),
		UserType:          model.UserTypePartner,
		PasswordHash:      string(hash),
		IsActive:          true,
		IsPartnerApproved: true,
	}
	if err := s.userRepo.Create(ctx, tx, user); err != nil {
		return nil, fmt.Errorf("创建用户失败: %w", err)
	}
	return user, nil
}

// ExistenceResult 注册前的重复检查结果
type ExistenceResult struct {
	Exists  bool   `json:"exists"`
	Message string `json:"message,omitempty"`
}

// CheckPartnerExistence 邮箱或手机号是否已被合作伙伴使用
func (s *PartnerService) CheckPartnerExistence(ctx context.Context, email, phone string) (*ExistenceResult, error) {
	emailTaken, phoneTaken, err := s.partnerRepo.ExistsByEmailOrPhone(ctx, email, phone)
	if err != nil {
		return nil, err
	}
	switch {
	case emailTaken:
		return &ExistenceResult{Exists: true, Message: "A partner with this email already exists."}, nil
	case phoneTaken:
		return &ExistenceResult{Exists: true, Message: "A partner with this phone number already exists."}, nil
	}
	return &ExistenceResult{}, nil
}

// PartnerOf 登录用户对应的合作伙伴，不是合作伙伴时返回 ErrNotPartner
func (s *PartnerService) PartnerOf(ctx context.Context, userID int64) (*model.Partner, error) {
	partner, err := s.partnerRepo.GetByUserID(ctx, nil, userID)
	if errors.Is(err, repository.ErrPartnerNotFound) {
		return nil, apperr.ErrNotPartner
	}
	return partner, err
}

// ============================================================================
// 名下客户
// ============================================================================

type CustomerInput struct {
	Name    string `json:"name" binding:"required,max=255"`
	Email   string `json:"email" binding:"required,email"`
	Phone   string `json:"phone" binding:"required,phone"`
	Address string `json:"address"`
}

// CreateCustomer 持有合作伙伴行锁时校验邮箱并生成 PC 编号
func (s *PartnerService) CreateCustomer(ctx context.Context, userID int64, in *CustomerInput) (*model.Customer, error) {
	var customer *model.Customer
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		partner, err := s.partnerRepo.GetByUserIDForUpdate(ctx, tx, userID)
		if errors.Is(err, repository.ErrPartnerNotFound) {
			return apperr.ErrNotPartner
		}
		if err != nil {
			return err
		}

		taken, err := s.customerRepo.EmailExists(ctx, tx, partner.ID, in.Email, 0)
		if err != nil {
			return err
		}
		if taken {
			return apperr.ErrCustomerExists
		}

		pcID, err := sequence.NextPartnerCustomerID(ctx, tx, partner)
		if err != nil {
			return err
		}
		customer = &model.Customer{
			PartnerID:         partner.ID,
			PartnerCustomerID: pcID,
			Name:              strings.TrimSpace(in.Name),
			Email:             model.NormalizeEmail(in.Email),
			Phone:             strings.TrimSpace(in.Phone),
			Address:           strings.TrimSpace(in.Address),
		}
		return s.customerRepo.Create(ctx, tx, customer)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("客户已创建", zap.Int64("partner", customer.PartnerID), zap.String("customerID", customer.PartnerCustomerID))
	return customer, nil
}

func (s *PartnerService) ListCustomers(ctx context.Context, userID int64, keyword string, page, pageSize int) ([]*model.Customer, int64, error) {
	partner, err := s.PartnerOf(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	return s.customerRepo.ListByPartner(ctx, partner.ID, keyword, page, pageSize)
}

func (s *PartnerService) GetCustomer(ctx context.Context, userID, customerID int64) (*model.Customer, error) {
	partner, err := s.PartnerOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.customerRepo.GetForPartner(ctx, nil, partner.ID, customerID)
}

// UpdateCustomer 邮箱唯一性排除自身
func (s *PartnerService) UpdateCustomer(ctx context.Context, userID, customerID int64, in *CustomerInput) (*model.Customer, error) {
	var customer *model.Customer
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		partner, err := s.partnerRepo.GetByUserIDForUpdate(ctx, tx, userID)
		if errors.Is(err, repository.ErrPartnerNotFound) {
			return apperr.ErrNotPartner
		}
		if err != nil {
			return err
		}
		customer, err = s.customerRepo.GetForPartner(ctx, tx, partner.ID, customerID)
		if err != nil {
			return err
		}

		taken, err := s.customerRepo.EmailExists(ctx, tx, partner.ID, in.Email, customer.ID)
		if err != nil {
			return err
		}
		if taken {
			return apperr.ErrCustomerExists
		}

		customer.Name = strings.TrimSpace(in.Name)
		customer.Email = model.NormalizeEmail(in.Email)
		customer.Phone = strings.TrimSpace(in.Phone)
		customer.Address = strings.TrimSpace(in.Address)
		return s.customerRepo.Update(ctx, tx, customer)
	})
	if err != nil {
		return nil, err
	}
	return customer, nil
}

func (s *PartnerService) DeleteCustomer(ctx context.Context, userID, customerID int64) error {
	partner, err := s.PartnerOf(ctx, userID)
	if err != nil {
		return err
	}
	return s.customerRepo.Delete(ctx, partner.ID, customerID)
}

// ============================================================================
// 看板、钱包与套餐
// ============================================================================

type PartnerDashboard struct {
	Partner          *model.Partner  `json:"partner"`
	WalletBalance    decimal.Decimal `json:"wallet_balance"`
	BalanceExpiresAt *time.Time      `json:"balance_expires_at,omitempty"`
	TotalCustomers   int64           `json:"total_customers"`
	TotalOrders      int64           `json:"total_orders"`
	PlanName         string          `json:"plan_name,omitempty"`
}

func (s *PartnerService) Dashboard(ctx context.Context, userID int64) (*PartnerDashboard, error) {
	partner, err := s.PartnerOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	wallet, err := s.wallet.WalletOf(ctx, partner.ID)
	if err != nil {
		return nil, err
	}
	customers, err := s.customerRepo.CountByPartner(ctx, partner.ID)
	if err != nil {
		return nil, err
	}
	orders, err := s.orderRepo.CountByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	dash := &PartnerDashboard{
		Partner:          partner,
		WalletBalance:    wallet.Balance,
		BalanceExpiresAt: wallet.BalanceExpiresAt,
		TotalCustomers:   customers,
		TotalOrders:      orders,
	}
	if _, plan, err := s.subs.PlanDetails(ctx, partner.ID); err != nil {
		return nil, err
	} else if plan != nil {
		dash.PlanName = plan.Name
	}
	return dash, nil
}

type WalletDetails struct {
	Wallet       *model.Wallet              `json:"wallet"`
	Transactions []*model.WalletTransaction `json:"transactions"`
	Total        int64                      `json:"total"`
}

func (s *PartnerService) WalletDetails(ctx context.Context, userID int64, page, pageSize int) (*WalletDetails, error) {
	partner, err := s.PartnerOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	wallet, err := s.wallet.WalletOf(ctx, partner.ID)
	if err != nil {
		return nil, err
	}
	txns, total, err := s.wallet.History(ctx, wallet.ID, page, pageSize)
	if err != nil {
		return nil, err
	}
	return &WalletDetails{Wallet: wallet, Transactions: txns, Total: total}, nil
}

type MyPlan struct {
	Subscription *model.PartnerSubscription `json:"subscription,omitempty"`
	Plan         *model.PartnerPlan         `json:"plan,omitempty"`
	Available    []*model.PartnerPlan       `json:"available"`
}

// MyPlan 当前套餐以及可升级的套餐列表
func (s *PartnerService) MyPlan(ctx context.Context, userID int64) (*MyPlan, error) {
	partner, err := s.PartnerOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	sub, plan, err := s.subs.PlanDetails(ctx, partner.ID)
	if err != nil {
		return nil, err
	}
	plans, err := s.subs.Plans(ctx)
	if err != nil {
		return nil, err
	}
	return &MyPlan{Subscription: sub, Plan: plan, Available: plans}, nil
}
