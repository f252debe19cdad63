package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"servicemart/internal/infrastructure/invoice"
	"servicemart/internal/infrastructure/lock"
	"servicemart/internal/infrastructure/metrics"
	"servicemart/internal/infrastructure/storage"
	"servicemart/internal/model"
	"servicemart/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// InvoiceService 已付款订单的发票，每个订单最多生成一次
type InvoiceService struct {
	db          *gorm.DB
	orderRepo   *repository.OrderRepository
	partnerRepo *repository.PartnerRepository
	renderer    invoice.Renderer
	store       storage.Store
	locker      lock.Locker
	metrics     *metrics.Metrics
	log         *zap.Logger
	now         func() time.Time
}

func NewInvoiceService(db *gorm.DB, renderer invoice.Renderer, store storage.Store, locker lock.Locker, m *metrics.Metrics, log *zap.Logger) *InvoiceService {
	return &InvoiceService{
		db:          db,
		orderRepo:   repository.NewOrderRepository(db),
		partnerRepo: repository.NewPartnerRepository(db),
		renderer:    renderer,
		store:       store,
		locker:      locker,
		metrics:     m,
		log:         log.Named("InvoiceService"),
		now:         time.Now,
	}
}

// EnsureInvoice 订单已有发票时直接返回，否则渲染、保存并写回引用。
// 只处理已付款订单；写回使用 invoice_ref IS NULL 条件，并发调用只会有一个生效
func (s *InvoiceService) EnsureInvoice(ctx context.Context, orderID int64) (string, error) {
	order, err := s.orderRepo.GetByID(ctx, nil, orderID)
	if err != nil {
		return "", err
	}
	if order.InvoiceRef != nil {
		return *order.InvoiceRef, nil
	}
	if order.PaymentStatus != model.PaymentStatusPaid {
		return "", fmt.Errorf("订单 %d 未付款，不能开具发票", orderID)
	}

	release, err := s.locker.Acquire(ctx, lock.InvoiceKey(orderID), fmt.Sprintf("invoice-%d", s.now().UnixNano()))
	if err != nil {
		return "", fmt.Errorf("获取发票锁失败: %w", err)
	}
	defer release()

	// 拿到锁后重新读取
	order, err = s.orderRepo.GetByID(ctx, nil, orderID)
	if err != nil {
		return "", err
	}
	if order.InvoiceRef != nil {
		return *order.InvoiceRef, nil
	}

	data, err := s.invoiceData(ctx, order)
	if err != nil {
		return "", err
	}
	pdf, err := s.renderer.Render(ctx, *data)
	if err != nil {
		s.metrics.InvoicesRendered.WithLabelValues("render_failed").Inc()
		return "", fmt.Errorf("渲染发票失败: %w", err)
	}

	ref, err := s.store.Save(ctx, invoice.Key(order.ID), bytes.NewReader(pdf))
	if err != nil {
		s.metrics.InvoicesRendered.WithLabelValues("store_failed").Inc()
		return "", fmt.Errorf("保存发票失败: %w", err)
	}

	attached, err := s.orderRepo.AttachInvoice(ctx, nil, order.ID, ref)
	if err != nil {
		return "", fmt.Errorf("写入发票引用失败: %w", err)
	}
	if !attached {
		// 锁过期期间被别人写入了
		current, err := s.orderRepo.GetByID(ctx, nil, order.ID)
		if err != nil {
			return "", err
		}
		if current.InvoiceRef == nil {
			return "", errors.New("发票引用写入失败")
		}
		return *current.InvoiceRef, nil
	}

	s.metrics.InvoicesRendered.WithLabelValues("ok").Inc()
	s.log.Info("发票已生成", zap.Int64("orderID", order.ID), zap.String("ref", ref))
	return ref, nil
}

func (s *InvoiceService) invoiceData(ctx context.Context, order *model.ServiceOrder) (*invoice.Data, error) {
	data := &invoice.Data{
		OrderID:       order.ID,
		IssuedAt:      s.now(),
		PaidAt:        order.PaidAt,
		CustomerName:  order.FullName,
		CustomerEmail: order.Email,
		CustomerPhone: order.Phone,
		ServiceTitle:  order.ServiceTitle,
		Price:         order.Price,
		PaymentMethod: order.PaymentMethod,
	}

	if order.CustomerID != nil {
		partner, err := s.partnerRepo.GetByUserID(ctx, nil, order.UserID)
		if err != nil {
			return nil, fmt.Errorf("查询合作伙伴失败: %w", err)
		}
		data.PartnerBusiness = partner.BusinessName
	}
	return data, nil
}

// tryEnsureInvoice 付款已经提交，发票失败只记日志，由补偿任务重试
func (s *InvoiceService) tryEnsureInvoice(ctx context.Context, orderID int64) {
	if _, err := s.EnsureInvoice(ctx, orderID); err != nil {
		s.log.Error("生成发票失败，等待补偿任务重试", zap.Int64("orderID", orderID), zap.Error(err))
	}
}

// RetryMissing 补偿任务入口：给付款超过 olderThan 仍没有发票的订单补开
func (s *InvoiceService) RetryMissing(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	orders, err := s.orderRepo.ListPaidWithoutInvoice(ctx, s.now().Add(-olderThan), limit)
	if err != nil {
		return 0, fmt.Errorf("查询缺少发票的订单失败: %w", err)
	}

	generated := 0
	for _, order := range orders {
		if _, err := s.EnsureInvoice(ctx, order.ID); err != nil {
			s.log.Warn("补开发票失败", zap.Int64("orderID", order.ID), zap.Error(err))
			continue
		}
		generated++
	}
	return generated, nil
}
