package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"servicemart/internal/apperr"
	"servicemart/internal/config"
	"servicemart/internal/infrastructure/lock"
	"servicemart/internal/infrastructure/metrics"
	"servicemart/internal/model"
	"servicemart/internal/repository"
	"servicemart/pkg/idgen"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type PayService struct {
	db          *gorm.DB
	cfg         *config.Config
	orderRepo   *repository.OrderRepository
	intentRepo  *repository.PaymentIntentRepository
	partnerRepo *repository.PartnerRepository
	walletRepo  *repository.WalletRepository
	planRepo    *repository.PlanRepository
	requestRepo *repository.PartnerRequestRepository
	outboxRepo  *repository.OutboxRepository
	wallet      *WalletService
	subs        *SubscriptionService
	invoices    *InvoiceService
	locker      lock.Locker
	metrics     *metrics.Metrics
	log         *zap.Logger
	now         func() time.Time
}

func NewPayService(db *gorm.DB, cfg *config.Config, wallet *WalletService, subs *SubscriptionService,
	invoices *InvoiceService, locker lock.Locker, m *metrics.Metrics, log *zap.Logger) *PayService {
	return &PayService{
		db:          db,
		cfg:         cfg,
		orderRepo:   repository.NewOrderRepository(db),
		intentRepo:  repository.NewPaymentIntentRepository(db),
		partnerRepo: repository.NewPartnerRepository(db),
		walletRepo:  repository.NewWalletRepository(db),
		planRepo:    repository.NewPlanRepository(db),
		requestRepo: repository.NewPartnerRequestRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
		wallet:      wallet,
		subs:        subs,
		invoices:    invoices,
		locker:      locker,
		metrics:     m,
		log:         log.Named("PayService"),
		now:         time.Now,
	}
}

// Checkout 跳转网关所需的参数
type Checkout struct {
	OrderID     string          `json:"order_id"`
	Amount      decimal.Decimal `json:"amount"`
	Purpose     string          `json:"purpose"`
	PlanID      *int64          `json:"plan_id,omitempty"`
	RedirectURL string          `json:"redirect_url"`
}

func (s *PayService) checkoutFor(intent *model.PaymentIntent) *Checkout {
	q := url.Values{}
	q.Set("order_id", intent.OrderNo)
	q.Set("amount", intent.Amount.StringFixed(2))
	q.Set("purpose", intent.Purpose)
	if intent.PlanID != nil {
		q.Set("plan_id", strconv.FormatInt(*intent.PlanID, 10))
	}
	return &Checkout{
		OrderID:     intent.OrderNo,
		Amount:      intent.Amount,
		Purpose:     intent.Purpose,
		PlanID:      intent.PlanID,
		RedirectURL: s.cfg.Payment.GatewayURL + "?" + q.Encode(),
	}
}

// partnerOf 当前用户对应的合作伙伴，非合作伙伴返回 ErrNotPartner
func (s *PayService) partnerOf(ctx context.Context, userID int64) (*model.Partner, error) {
	partner, err := s.partnerRepo.GetByUserID(ctx, nil, userID)
	if errors.Is(err, repository.ErrPartnerNotFound) {
		return nil, apperr.ErrNotPartner
	}
	return partner, err
}

// PayWithWallet 合作伙伴用钱包支付服务订单。余额不足时订单保持不变，调用方引导充值
func (s *PayService) PayWithWallet(ctx context.Context, userID, orderID int64) (*model.ServiceOrder, error) {
	partner, err := s.partnerOf(ctx, userID)
	if err != nil {
		return nil, err
	}

	release, err := s.locker.Acquire(ctx, lock.PartnerPayKey(partner.ID), fmt.Sprintf("order-%d", orderID))
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrLockBusy, err)
	}
	defer release()

	var order *model.ServiceOrder
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err = s.orderRepo.GetByIDForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.UserID != userID {
			return repository.ErrOrderNotFound
		}
		if order.PaymentStatus != model.PaymentStatusPending {
			return apperr.ErrOrderStatusInvalid
		}

		wallet, err := s.walletRepo.GetByPartnerID(ctx, tx, partner.ID)
		if err != nil {
			return err
		}
		details := fmt.Sprintf("Payment for Service Order #%d", order.ID)
		if _, err := s.wallet.Debit(ctx, tx, wallet.ID, order.Price, model.TxnTypeServicePayment, details); err != nil {
			return err
		}

		if err := s.orderRepo.UpdatePaymentStatus(ctx, tx, order.ID, model.PaymentStatusPending, model.PaymentStatusPaid, model.PaymentMethodWallet); err != nil {
			return fmt.Errorf("更新订单状态失败: %w", err)
		}
		return s.orderPaidEvent(ctx, tx, order, model.PaymentMethodWallet)
	})
	if err != nil {
		if isInsufficient(err) {
			s.log.Info("钱包余额不足", zap.Int64("orderID", orderID), zap.Int64("partnerID", partner.ID))
		}
		return nil, err
	}

	s.metrics.OrdersPaid.WithLabelValues(model.PaymentMethodWallet).Inc()
	s.log.Info("钱包支付成功", zap.Int64("orderID", orderID), zap.String("amount", order.Price.StringFixed(2)))

	s.invoices.tryEnsureInvoice(ctx, order.ID)
	return s.orderRepo.GetByID(ctx, nil, order.ID)
}

func (s *PayService) orderPaidEvent(ctx context.Context, tx *gorm.DB, order *model.ServiceOrder, method string) error {
	return publishInTx(ctx, tx, s.outboxRepo, s.cfg.Kafka.Topic.OrderEvents, model.EventOrderPaid,
		fmt.Sprintf("order-%d", order.ID), map[string]interface{}{
			"order_id":       order.ID,
			"user_id":        order.UserID,
			"service_id":     order.ServiceID,
			"amount":         order.Price.StringFixed(2),
			"payment_method": method,
		})
}

// StartServiceCheckout 为服务订单登记网关支付意图。重复调用复用同一个外部订单号
func (s *PayService) StartServiceCheckout(ctx context.Context, userID, orderID int64) (*Checkout, error) {
	var intent *model.PaymentIntent
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.orderRepo.GetByIDForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.UserID != userID {
			return repository.ErrOrderNotFound
		}
		if order.PaymentStatus != model.PaymentStatusPending {
			return apperr.ErrOrderStatusInvalid
		}

		if order.GatewayOrderNo != nil {
			current, err := s.intentRepo.GetByOrderNo(ctx, tx, *order.GatewayOrderNo)
			switch {
			case err == nil && current.Status == model.IntentStatusPending:
				intent = current
				return nil
			case err != nil && !errors.Is(err, repository.ErrIntentNotFound):
				return err
			}
			// 上一次网关支付失败，换新单号重新发起
		}

		orderNo := idgen.GenerateGatewayOrderNo()
		if err := s.orderRepo.SetGatewayOrderNo(ctx, tx, order.ID, orderNo); err != nil {
			return fmt.Errorf("写入网关订单号失败: %w", err)
		}
		intent = &model.PaymentIntent{
			OrderNo:        orderNo,
			Purpose:        model.PurposeService,
			Amount:         order.Price,
			UserID:         &userID,
			ServiceOrderID: &order.ID,
			Status:         model.IntentStatusPending,
		}
		return s.intentRepo.Create(ctx, tx, intent)
	})
	if err != nil {
		return nil, err
	}
	return s.checkoutFor(intent), nil
}

// startPlanPurchase 入驻申请提交时在同一事务中登记套餐支付，外部订单号为 plan_{申请ID}_{4位随机}
func (s *PayService) startPlanPurchase(ctx context.Context, tx *gorm.DB, req *model.PartnerRequest, plan *model.PartnerPlan) (*Checkout, error) {
	orderNo := fmt.Sprintf("plan_%d_%04d", req.ID, idgen.Suffix())
	if err := s.requestRepo.SetOrderID(ctx, tx, req.ID, orderNo); err != nil {
		return nil, fmt.Errorf("写入申请订单号失败: %w", err)
	}
	req.OrderID = &orderNo

	intent := &model.PaymentIntent{
		OrderNo:          orderNo,
		Purpose:          model.PurposePlanPurchase,
		Amount:           plan.Price,
		PartnerRequestID: &req.ID,
		PlanID:           &plan.ID,
		Status:           model.IntentStatusPending,
	}
	if err := s.intentRepo.Create(ctx, tx, intent); err != nil {
		return nil, fmt.Errorf("登记支付失败: %w", err)
	}
	return s.checkoutFor(intent), nil
}

// StartWalletTopUp 合作伙伴钱包充值
func (s *PayService) StartWalletTopUp(ctx context.Context, userID int64, amount decimal.Decimal) (*Checkout, error) {
	if !amount.IsPositive() {
		return nil, apperr.ErrInvalidAmount
	}
	partner, err := s.partnerOf(ctx, userID)
	if err != nil {
		return nil, err
	}

	intent := &model.PaymentIntent{
		OrderNo:   fmt.Sprintf("topup_%d_%d", partner.ID, idgen.NextID()),
		Purpose:   model.PurposeWalletTopUp,
		Amount:    amount.Round(2),
		UserID:    &userID,
		PartnerID: &partner.ID,
		Status:    model.IntentStatusPending,
	}
	if err := s.intentRepo.Create(ctx, nil, intent); err != nil {
		return nil, fmt.Errorf("登记支付失败: %w", err)
	}
	return s.checkoutFor(intent), nil
}

// StartPlanUpgrade 合作伙伴购买新套餐
func (s *PayService) StartPlanUpgrade(ctx context.Context, userID, planID int64) (*Checkout, error) {
	partner, err := s.partnerOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	plan, err := s.planRepo.GetByID(ctx, nil, planID)
	if err != nil {
		return nil, err
	}
	if !plan.IsActive {
		return nil, repository.ErrPlanNotFound
	}

	intent := &model.PaymentIntent{
		OrderNo:   fmt.Sprintf("upgrade_%d_%d_%d", partner.ID, plan.ID, idgen.NextID()),
		Purpose:   model.PurposePlanUpgrade,
		Amount:    plan.Price,
		UserID:    &userID,
		PartnerID: &partner.ID,
		PlanID:    &plan.ID,
		Status:    model.IntentStatusPending,
	}
	if err := s.intentRepo.Create(ctx, nil, intent); err != nil {
		return nil, fmt.Errorf("登记支付失败: %w", err)
	}
	return s.checkoutFor(intent), nil
}

// PaymentPage 网关页面展示前的校验：单号必须已登记且仍待支付，展示金额取登记值
func (s *PayService) PaymentPage(ctx context.Context, orderNo, purpose string) (*Checkout, error) {
	if orderNo == "" || !model.ValidPurposes[purpose] {
		return nil, apperr.ErrInvalidCallback
	}
	intent, err := s.intentRepo.GetByOrderNo(ctx, nil, orderNo)
	if errors.Is(err, repository.ErrIntentNotFound) {
		return nil, apperr.ErrInvalidOrder
	}
	if err != nil {
		return nil, err
	}
	if intent.Purpose != purpose || intent.Status != model.IntentStatusPending {
		return nil, apperr.ErrInvalidOrder
	}
	return s.checkoutFor(intent), nil
}

// CallbackParams 网关回调携带的参数
type CallbackParams struct {
	OrderID string
	Purpose string
	PlanID  *int64
	// UserID 回调请求所在会话的用户，未登录为 0
	UserID int64
}

type CallbackResult struct {
	Purpose          string              `json:"purpose"`
	OrderID          string              `json:"order_id"`
	AlreadyProcessed bool                `json:"already_processed"`
	ServiceOrder     *model.ServiceOrder `json:"service_order,omitempty"`
	PartnerRequestID *int64              `json:"partner_request_id,omitempty"`
	Wallet           *model.Wallet       `json:"wallet,omitempty"`
}

// HandleCallback 网关支付成功回调。金额、用途和关联对象都以登记的支付意图为准；
// 找不到意图或状态不符返回 ErrInvalidOrder，不会把任何对象标记为已付款
func (s *PayService) HandleCallback(ctx context.Context, params CallbackParams) (*CallbackResult, error) {
	if params.OrderID == "" || !model.ValidPurposes[params.Purpose] {
		return nil, apperr.ErrInvalidCallback
	}
	if params.Purpose == model.PurposePlanUpgrade && params.PlanID == nil {
		return nil, apperr.WithMsg(apperr.ErrInvalidCallback, "Missing plan_id for plan upgrade.")
	}

	result := &CallbackResult{Purpose: params.Purpose, OrderID: params.OrderID}
	var serviceOrderID int64

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		intent, err := s.intentRepo.GetByOrderNoForUpdate(ctx, tx, params.OrderID)
		if err != nil {
			if errors.Is(err, repository.ErrIntentNotFound) {
				return apperr.ErrInvalidOrder
			}
			return err
		}
		if intent.Purpose != params.Purpose {
			return apperr.ErrInvalidOrder
		}
		if params.Purpose == model.PurposePlanUpgrade && (intent.PlanID == nil || *intent.PlanID != *params.PlanID) {
			return apperr.ErrInvalidOrder
		}
		// 充值和换套餐只能由发起支付的合作伙伴本人确认
		if (intent.Purpose == model.PurposeWalletTopUp || intent.Purpose == model.PurposePlanUpgrade) &&
			(intent.UserID == nil || *intent.UserID != params.UserID) {
			return apperr.ErrInvalidOrder
		}

		switch intent.Status {
		case model.IntentStatusPaid:
			result.AlreadyProcessed = true
			if intent.ServiceOrderID != nil {
				serviceOrderID = *intent.ServiceOrderID
			}
			return nil
		case model.IntentStatusFailed:
			return apperr.ErrInvalidOrder
		}

		if err := s.dispatch(ctx, tx, intent, result); err != nil {
			return err
		}
		if intent.ServiceOrderID != nil {
			serviceOrderID = *intent.ServiceOrderID
		}
		return s.intentRepo.UpdateStatus(ctx, tx, intent.ID, model.IntentStatusPending, model.IntentStatusPaid, s.now())
	})
	if err != nil {
		s.log.Warn("网关回调处理失败",
			zap.String("orderID", params.OrderID),
			zap.String("purpose", params.Purpose),
			zap.Error(err))
		return nil, err
	}

	if serviceOrderID > 0 {
		if !result.AlreadyProcessed {
			s.metrics.OrdersPaid.WithLabelValues(model.PaymentMethodGateway).Inc()
		}
		// 重复回调也会补开发票
		s.invoices.tryEnsureInvoice(ctx, serviceOrderID)
		order, err := s.orderRepo.GetByID(ctx, nil, serviceOrderID)
		if err != nil {
			return nil, err
		}
		result.ServiceOrder = order
	}

	s.log.Info("网关回调处理完成",
		zap.String("orderID", params.OrderID),
		zap.String("purpose", params.Purpose),
		zap.Bool("alreadyProcessed", result.AlreadyProcessed))
	return result, nil
}

func (s *PayService) dispatch(ctx context.Context, tx *gorm.DB, intent *model.PaymentIntent, result *CallbackResult) error {
	switch intent.Purpose {
	case model.PurposeService:
		if intent.ServiceOrderID == nil {
			return apperr.ErrInvalidOrder
		}
		_, err := s.finalizeServiceTx(ctx, tx, *intent.ServiceOrderID)
		return err

	case model.PurposePlanPurchase:
		req, err := s.requestRepo.MarkPaidByOrderID(ctx, tx, intent.OrderNo)
		if err != nil {
			return err
		}
		result.PartnerRequestID = &req.ID
		return nil

	case model.PurposeWalletTopUp:
		if intent.PartnerID == nil {
			return apperr.ErrInvalidOrder
		}
		wallet, err := s.walletRepo.GetByPartnerID(ctx, tx, *intent.PartnerID)
		if err != nil {
			return err
		}
		details := fmt.Sprintf("Wallet top-up via payment gateway (order %s).", intent.OrderNo)
		if _, err := s.wallet.Credit(ctx, tx, wallet.ID, intent.Amount, model.TxnTypeTopUp, details); err != nil {
			return err
		}
		if result.Wallet, err = s.walletRepo.GetByID(ctx, tx, wallet.ID); err != nil {
			return err
		}
		return publishInTx(ctx, tx, s.outboxRepo, s.cfg.Kafka.Topic.WalletEvents, model.EventWalletToppedUp,
			intent.OrderNo, map[string]interface{}{
				"wallet_id":  wallet.ID,
				"partner_id": wallet.PartnerID,
				"amount":     intent.Amount.StringFixed(2),
			})

	case model.PurposePlanUpgrade:
		if intent.PartnerID == nil || intent.PlanID == nil {
			return apperr.ErrInvalidOrder
		}
		plan, err := s.planRepo.GetByID(ctx, tx, *intent.PlanID)
		if err != nil {
			return err
		}
		if _, err := s.subs.Switch(ctx, tx, *intent.PartnerID, plan, s.now()); err != nil {
			return err
		}
		result.Wallet, err = s.walletRepo.GetByPartnerID(ctx, tx, *intent.PartnerID)
		return err
	}
	return apperr.ErrInvalidCallback
}

// finalizeServiceTx 待付款订单置为网关已付；已付款的订单视为重复回调直接返回
func (s *PayService) finalizeServiceTx(ctx context.Context, tx *gorm.DB, orderID int64) (*model.ServiceOrder, error) {
	order, err := s.orderRepo.GetByIDForUpdate(ctx, tx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, apperr.ErrInvalidOrder
		}
		return nil, err
	}

	switch order.PaymentStatus {
	case model.PaymentStatusPaid:
		return order, nil
	case model.PaymentStatusPending:
	default:
		return nil, apperr.ErrInvalidOrder
	}

	if err := s.orderRepo.UpdatePaymentStatus(ctx, tx, order.ID, model.PaymentStatusPending, model.PaymentStatusPaid, model.PaymentMethodGateway); err != nil {
		return nil, fmt.Errorf("更新订单状态失败: %w", err)
	}
	if err := s.orderPaidEvent(ctx, tx, order, model.PaymentMethodGateway); err != nil {
		return nil, err
	}
	return order, nil
}

// FinalizeServicePayment 服务订单网关付款完成，幂等：重复调用不会重复开票
func (s *PayService) FinalizeServicePayment(ctx context.Context, orderID int64) (*model.ServiceOrder, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := s.finalizeServiceTx(ctx, tx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.invoices.EnsureInvoice(ctx, orderID); err != nil {
		s.log.Error("生成发票失败，等待补偿任务重试", zap.Int64("orderID", orderID), zap.Error(err))
	}
	return s.orderRepo.GetByID(ctx, nil, orderID)
}

// FailGatewayPayment 网关支付失败回调：只把意图置为失败。服务订单保持 pending，
// 用户可以重新发起支付，失败回调也无法锁死别人的订单
func (s *PayService) FailGatewayPayment(ctx context.Context, orderNo string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		intent, err := s.intentRepo.GetByOrderNoForUpdate(ctx, tx, orderNo)
		if err != nil {
			if errors.Is(err, repository.ErrIntentNotFound) {
				return apperr.ErrInvalidOrder
			}
			return err
		}
		if intent.Status != model.IntentStatusPending {
			return apperr.ErrInvalidOrder
		}
		if err := s.intentRepo.UpdateStatus(ctx, tx, intent.ID, model.IntentStatusPending, model.IntentStatusFailed, s.now()); err != nil {
			return err
		}
		s.log.Info("网关支付失败", zap.String("orderNo", orderNo), zap.String("purpose", intent.Purpose))
		return nil
	})
}

// Refund 后台退款：paid -> refunded。钱包支付的订单退回钱包并记 REFUND 流水
func (s *PayService) Refund(ctx context.Context, orderID int64, actor string) (*model.ServiceOrder, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.orderRepo.GetByIDForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.PaymentStatus != model.PaymentStatusPaid {
			return apperr.ErrRefundNotAllowed
		}

		if err := s.orderRepo.UpdatePaymentStatus(ctx, tx, order.ID, model.PaymentStatusPaid, model.PaymentStatusRefunded, ""); err != nil {
			return fmt.Errorf("更新订单状态失败: %w", err)
		}

		if order.PaymentMethod == model.PaymentMethodWallet {
			partner, err := s.partnerRepo.GetByUserID(ctx, tx, order.UserID)
			if err != nil {
				return fmt.Errorf("查询合作伙伴失败: %w", err)
			}
			wallet, err := s.walletRepo.GetByPartnerID(ctx, tx, partner.ID)
			if err != nil {
				return err
			}
			details := fmt.Sprintf("Refund for Service Order #%d", order.ID)
			if _, err := s.wallet.Credit(ctx, tx, wallet.ID, order.Price, model.TxnTypeRefund, details); err != nil {
				return err
			}
		}

		return publishInTx(ctx, tx, s.outboxRepo, s.cfg.Kafka.Topic.OrderEvents, model.EventOrderRefunded,
			fmt.Sprintf("order-%d", order.ID), map[string]interface{}{
				"order_id":       order.ID,
				"amount":         order.Price.StringFixed(2),
				"payment_method": order.PaymentMethod,
				"actor":          actor,
			})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("订单已退款", zap.Int64("orderID", orderID), zap.String("actor", actor))
	return s.orderRepo.GetByID(ctx, nil, orderID)
}
