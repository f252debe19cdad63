package service

import (
	"context"
	"fmt"
	"time"

	"servicemart/internal/model"
	"servicemart/internal/repository"
	"servicemart/internal/sequence"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AdminService 后台看板和历史数据补齐
type AdminService struct {
	db          *gorm.DB
	userRepo    *repository.UserRepository
	partnerRepo *repository.PartnerRepository
	orderRepo   *repository.OrderRepository
	walletRepo  *repository.WalletRepository
	requestRepo *repository.PartnerRequestRepository
	outboxRepo  *repository.OutboxRepository
	log         *zap.Logger
	batchSize   int
}

func NewAdminService(db *gorm.DB, log *zap.Logger) *AdminService {
	return &AdminService{
		db:          db,
		userRepo:    repository.NewUserRepository(db),
		partnerRepo: repository.NewPartnerRepository(db),
		orderRepo:   repository.NewOrderRepository(db),
		walletRepo:  repository.NewWalletRepository(db),
		requestRepo: repository.NewPartnerRequestRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
		log:         log.Named("AdminService"),
		batchSize:   500,
	}
}

type AdminDashboard struct {
	Customers        int64            `json:"customers"`
	Partners         int64            `json:"partners"`
	OrdersByPayment  map[string]int64 `json:"orders_by_payment"`
	OrdersByProgress map[string]int64 `json:"orders_by_progress"`
	PaidSales        decimal.Decimal  `json:"paid_sales"`
	WalletFloat      decimal.Decimal  `json:"wallet_float"`
	PendingApprovals int64            `json:"pending_approvals"`
	PendingOutbox    int64            `json:"pending_outbox"`
}

func (s *AdminService) Dashboard(ctx context.Context) (*AdminDashboard, error) {
	d := &AdminDashboard{}
	var err error
	if d.Customers, err = s.userRepo.CountByType(ctx, model.UserTypeCustomer); err != nil {
		return nil, err
	}
	if d.Partners, err = s.partnerRepo.Count(ctx); err != nil {
		return nil, err
	}
	if d.OrdersByPayment, err = s.orderRepo.CountByPaymentStatus(ctx); err != nil {
		return nil, err
	}
	if d.OrdersByProgress, err = s.orderRepo.CountByProgress(ctx); err != nil {
		return nil, err
	}
	if d.PaidSales, err = s.orderRepo.SumPaid(ctx); err != nil {
		return nil, err
	}
	if d.WalletFloat, err = s.walletRepo.SumBalances(ctx); err != nil {
		return nil, err
	}
	if _, d.PendingApprovals, err = s.requestRepo.List(ctx, model.RequestPaymentPaid, model.ApprovalPending, 1, 1); err != nil {
		return nil, err
	}
	if d.PendingOutbox, err = s.outboxRepo.CountByStatus(ctx, model.OutboxStatusPending); err != nil {
		return nil, err
	}
	return d, nil
}

// BackfillReport 补齐编号的结果
type BackfillReport struct {
	CustomerIDs int `json:"customer_ids"`
	PartnerIDs  int `json:"partner_ids"`
	Failed      int `json:"failed"`
}

// BackfillIDs 给历史数据中缺少 customer_id / partner_id 的行补发编号，按注册先后分配。
// 每行单独一个事务，编号年份取该行的创建时间
func (s *AdminService) BackfillIDs(ctx context.Context) (*BackfillReport, error) {
	report := &BackfillReport{}

	users, err := s.userRepo.ListMissingCustomerID(ctx, s.batchSize)
	if err != nil {
		return nil, fmt.Errorf("查询缺少 customer_id 的用户失败: %w", err)
	}
	for _, u := range users {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			id, err := sequence.NextCustomerID(ctx, tx, u.DateJoined)
			if err != nil {
				return err
			}
			return s.userRepo.AssignCustomerID(ctx, tx, u.ID, id)
		})
		if err != nil {
			report.Failed++
			s.log.Warn("补发 customer_id 失败", zap.Int64("userID", u.ID), zap.Error(err))
			continue
		}
		report.CustomerIDs++
	}

	partners, err := s.partnerRepo.ListMissingPartnerID(ctx, s.batchSize)
	if err != nil {
		return report, fmt.Errorf("查询缺少 partner_id 的合作伙伴失败: %w", err)
	}
	for _, p := range partners {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			created := p.CreatedAt
			if created.IsZero() {
				created = time.Now()
			}
			id, err := sequence.NextPartnerID(ctx, tx, created)
			if err != nil {
				return err
			}
			return s.partnerRepo.AssignPartnerID(ctx, tx, p.ID, id)
		})
		if err != nil {
			report.Failed++
			s.log.Warn("补发 partner_id 失败", zap.Int64("partnerID", p.ID), zap.Error(err))
			continue
		}
		report.PartnerIDs++
	}

	s.log.Info("编号补齐完成",
		zap.Int("customerIDs", report.CustomerIDs),
		zap.Int("partnerIDs", report.PartnerIDs),
		zap.Int("failed", report.Failed))
	return report, nil
}

// RequeueFailedEvents 后台手动重投：失败消息回到待发送并清零重试次数
func (s *AdminService) RequeueFailedEvents(ctx context.Context, limit int) (int, error) {
	messages, err := s.outboxRepo.GetFailedMessages(ctx, limit)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, msg := range messages {
		if err := s.outboxRepo.Requeue(ctx, msg.ID); err != nil {
			s.log.Warn("重投消息失败", zap.Int64("id", msg.ID), zap.Error(err))
			continue
		}
		n++
	}
	if n > 0 {
		s.log.Info("失败消息已放回队列", zap.Int("count", n))
	}
	return n, nil
}
