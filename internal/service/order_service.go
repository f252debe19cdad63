package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"servicemart/internal/apperr"
	"servicemart/internal/config"
	"servicemart/internal/infrastructure/storage"
	"servicemart/internal/model"
	"servicemart/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type OrderService struct {
	db           *gorm.DB
	cfg          *config.Config
	orderRepo    *repository.OrderRepository
	serviceRepo  *repository.ServiceRepository
	userRepo     *repository.UserRepository
	partnerRepo  *repository.PartnerRepository
	customerRepo *repository.CustomerRepository
	walletRepo   *repository.WalletRepository
	subs         *SubscriptionService
	store        storage.Store
	log          *zap.Logger
}

func NewOrderService(db *gorm.DB, cfg *config.Config, subs *SubscriptionService, store storage.Store, log *zap.Logger) *OrderService {
	return &OrderService{
		db:           db,
		cfg:          cfg,
		orderRepo:    repository.NewOrderRepository(db),
		serviceRepo:  repository.NewServiceRepository(db),
		userRepo:     repository.NewUserRepository(db),
		partnerRepo:  repository.NewPartnerRepository(db),
		customerRepo: repository.NewCustomerRepository(db),
		walletRepo:   repository.NewWalletRepository(db),
		subs:         subs,
		store:        store,
		log:          log.Named("OrderService"),
	}
}

// Upload 一个待保存的上传文件
type Upload struct {
	Name     string
	Filename string
	Content  io.Reader
}

type CreateOrderInput struct {
	Slug           string
	CustomerID     *int64
	FullName       string
	Email          string
	Phone          string
	AdditionalInfo string
	Documents      []Upload
}

// CreateOrder 下单并快照价格：合作伙伴取默认合作价且必须指定名下客户，其他用户取 C 端价
func (s *OrderService) CreateOrder(ctx context.Context, userID int64, in *CreateOrderInput) (*model.ServiceOrder, error) {
	user, err := s.userRepo.GetByID(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	svc, err := s.serviceRepo.GetActiveBySlug(ctx, in.Slug)
	if err != nil {
		return nil, err
	}
	isPartner := user.IsPartner()
	if !svc.AvailableTo(isPartner) {
		return nil, apperr.ErrServiceUnavailable
	}

	order := &model.ServiceOrder{
		UserID:         user.ID,
		ServiceID:      svc.ID,
		ServiceTitle:   svc.Title,
		FullName:       user.FullName(),
		Email:          user.Email,
		Phone:          user.Phone,
		AdditionalInfo: strings.TrimSpace(in.AdditionalInfo),
		Price:          svc.PriceFor(isPartner),
		PaymentStatus:  model.PaymentStatusPending,
		PaymentMethod:  model.PaymentMethodNotPaid,
		ProgressStatus: model.ProgressPlaced,
	}

	if isPartner {
		if in.CustomerID == nil {
			return nil, apperr.WithMsg(apperr.ErrInvalidParam, "Please select a customer for this order.")
		}
		partner, err := s.partnerRepo.GetByUserID(ctx, nil, user.ID)
		if err != nil {
			return nil, err
		}
		customer, err := s.customerRepo.GetForPartner(ctx, nil, partner.ID, *in.CustomerID)
		if err != nil {
			return nil, err
		}
		order.CustomerID = &customer.ID
		order.FullName, order.Email, order.Phone = customer.Name, customer.Email, customer.Phone
	}

	// 表单填写的联系信息优先
	if v := strings.TrimSpace(in.FullName); v != "" {
		order.FullName = v
	}
	if v := strings.TrimSpace(in.Email); v != "" {
		order.Email = model.NormalizeEmail(v)
	}
	if v := strings.TrimSpace(in.Phone); v != "" {
		order.Phone = v
	}

	refs, err := s.saveUploads(ctx, "order_documents", in.Documents)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.orderRepo.Create(ctx, tx, order); err != nil {
			return fmt.Errorf("创建订单失败: %w", err)
		}
		for i, doc := range in.Documents {
			if err := s.orderRepo.CreateDocument(ctx, tx, &model.OrderDocument{
				OrderID: order.ID,
				Name:    doc.Name,
				FileRef: refs[i],
			}); err != nil {
				return fmt.Errorf("保存订单附件失败: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		s.discard(ctx, refs)
		return nil, err
	}

	s.log.Info("订单已创建",
		zap.Int64("orderID", order.ID),
		zap.Int64("userID", user.ID),
		zap.String("service", svc.Slug),
		zap.String("price", order.Price.StringFixed(2)))
	return order, nil
}

func (s *OrderService) saveUploads(ctx context.Context, dir string, uploads []Upload) ([]string, error) {
	refs := make([]string, 0, len(uploads))
	for _, up := range uploads {
		if strings.TrimSpace(up.Name) == "" || up.Content == nil {
			s.discard(ctx, refs)
			return nil, apperr.WithMsg(apperr.ErrInvalidParam, "document name and file are required")
		}
		ref, err := s.store.Save(ctx, storage.UploadKey(dir, up.Filename), up.Content)
		if err != nil {
			s.discard(ctx, refs)
			return nil, fmt.Errorf("保存文件失败: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func (s *OrderService) discard(ctx context.Context, refs []string) {
	for _, ref := range refs {
		if err := s.store.Delete(ctx, ref); err != nil {
			s.log.Warn("清理上传文件失败", zap.String("ref", ref), zap.Error(err))
		}
	}
}

// AddDocument 给自己的订单追加附件
func (s *OrderService) AddDocument(ctx context.Context, userID, orderID int64, up Upload) (*model.OrderDocument, error) {
	order, err := s.orderRepo.GetForUser(ctx, nil, userID, orderID)
	if err != nil {
		return nil, err
	}
	refs, err := s.saveUploads(ctx, "order_documents", []Upload{up})
	if err != nil {
		return nil, err
	}
	doc := &model.OrderDocument{OrderID: order.ID, Name: up.Name, FileRef: refs[0]}
	if err := s.orderRepo.CreateDocument(ctx, nil, doc); err != nil {
		s.discard(ctx, refs)
		return nil, fmt.Errorf("保存订单附件失败: %w", err)
	}
	return doc, nil
}

func (s *OrderService) ListMyOrders(ctx context.Context, userID int64, keyword string, page, pageSize int) ([]*model.ServiceOrder, int64, error) {
	return s.orderRepo.ListByUserID(ctx, userID, keyword, page, pageSize)
}

type OrderDetail struct {
	Order     *model.ServiceOrder    `json:"order"`
	Documents []*model.OrderDocument `json:"documents"`
}

func (s *OrderService) GetMyOrder(ctx context.Context, userID, orderID int64) (*OrderDetail, error) {
	order, err := s.orderRepo.GetForUser(ctx, nil, userID, orderID)
	if err != nil {
		return nil, err
	}
	docs, err := s.orderRepo.ListDocuments(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	return &OrderDetail{Order: order, Documents: docs}, nil
}

// CheckoutView 结算页：合作伙伴可选钱包或网关，C 端用户只有网关
type CheckoutView struct {
	Order         *model.ServiceOrder `json:"order"`
	Methods       []string            `json:"methods"`
	WalletBalance *decimal.Decimal    `json:"wallet_balance,omitempty"`
	PlanType      *string             `json:"plan_type,omitempty"`
	TopUpURL      string              `json:"top_up_url,omitempty"`
}

func (s *OrderService) CheckoutOptions(ctx context.Context, userID, orderID int64) (*CheckoutView, error) {
	order, err := s.orderRepo.GetForUser(ctx, nil, userID, orderID)
	if err != nil {
		return nil, err
	}
	view := &CheckoutView{Order: order, Methods: []string{model.PaymentMethodGateway}}

	partner, err := s.partnerRepo.GetByUserID(ctx, nil, userID)
	if errors.Is(err, repository.ErrPartnerNotFound) {
		return view, nil
	}
	if err != nil {
		return nil, err
	}

	wallet, err := s.walletRepo.GetOrCreate(ctx, partner.ID)
	if err != nil {
		return nil, err
	}
	view.Methods = []string{model.PaymentMethodWallet, model.PaymentMethodGateway}
	view.WalletBalance = &wallet.Balance
	view.TopUpURL = s.cfg.Payment.TopUpPath

	_, plan, err := s.subs.PlanDetails(ctx, partner.ID)
	if err != nil {
		return nil, err
	}
	if plan != nil {
		view.PlanType = &plan.PlanType
	}
	return view, nil
}

// UpdateProgress 后台推进订单进度，只允许 placed -> in_progress -> completed 以及取消
func (s *OrderService) UpdateProgress(ctx context.Context, orderID int64, target string) (*model.ServiceOrder, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.orderRepo.GetByIDForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		return s.orderRepo.UpdateProgress(ctx, tx, order.ID, order.ProgressStatus, target)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("订单进度已更新", zap.Int64("orderID", orderID), zap.String("progress", target))
	return s.orderRepo.GetByID(ctx, nil, orderID)
}

// AttachReturnedDocument 后台上传办理结果文件和备注
func (s *OrderService) AttachReturnedDocument(ctx context.Context, orderID int64, up *Upload, remarks string) (*model.ServiceOrder, error) {
	order, err := s.orderRepo.GetByID(ctx, nil, orderID)
	if err != nil {
		return nil, err
	}

	ref := ""
	if order.ReturnedDocument != nil {
		ref = *order.ReturnedDocument
	}
	if up != nil {
		refs, err := s.saveUploads(ctx, fmt.Sprintf("returned_documents/order_%d", order.ID), []Upload{*up})
		if err != nil {
			return nil, err
		}
		ref = refs[0]
	}

	if err := s.orderRepo.SetReturnedDocument(ctx, nil, order.ID, ref, strings.TrimSpace(remarks)); err != nil {
		return nil, fmt.Errorf("保存办理结果失败: %w", err)
	}
	return s.orderRepo.GetByID(ctx, nil, order.ID)
}

// Catalog

func (s *OrderService) ListServices(ctx context.Context, categorySlug, keyword string, userID int64) ([]*model.Service, error) {
	services, err := s.serviceRepo.ListActive(ctx, categorySlug, keyword)
	if err != nil {
		return nil, err
	}
	isPartner := false
	if userID > 0 {
		if user, err := s.userRepo.GetByID(ctx, nil, userID); err == nil {
			isPartner = user.IsPartner()
		}
	}
	visible := services[:0]
	for _, svc := range services {
		if svc.AvailableTo(isPartner) {
			visible = append(visible, svc)
		}
	}
	return visible, nil
}

func (s *OrderService) GetService(ctx context.Context, slug string) (*model.Service, error) {
	return s.serviceRepo.GetActiveBySlug(ctx, slug)
}

func (s *OrderService) Categories(ctx context.Context) ([]*model.ServiceCategory, error) {
	return s.serviceRepo.ListCategories(ctx)
}
