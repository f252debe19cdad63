package job

import (
	"context"
	"time"

	"servicemart/internal/config"
	"servicemart/internal/service"

	"go.uber.org/zap"
)

// ExpirySweepJob 定时清零过期钱包余额、失效过期订阅。
// 同一逻辑也可以通过 cmd/sweep 由外部 cron 单次触发
type ExpirySweepJob struct {
	wallet   *service.WalletService
	log      *zap.Logger
	stopCh   chan struct{}
	interval time.Duration
}

func NewExpirySweepJob(wallet *service.WalletService, cfg *config.Config, log *zap.Logger) *ExpirySweepJob {
	interval := cfg.Jobs.ExpirySweepInterval
	if interval <= 0 {
		interval = time.Hour
	}
	return &ExpirySweepJob{
		wallet:   wallet,
		log:      log.Named("ExpirySweepJob"),
		stopCh:   make(chan struct{}),
		interval: interval,
	}
}

func (j *ExpirySweepJob) Start(ctx context.Context) {
	j.log.Info("过期清理任务启动", zap.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info("收到停止信号，任务退出")
			return
		case <-j.stopCh:
			j.log.Info("任务停止")
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

func (j *ExpirySweepJob) Stop() {
	close(j.stopCh)
}

func (j *ExpirySweepJob) RunOnce(ctx context.Context) *service.ExpiryReport {
	report, err := j.wallet.ExpireBalances(ctx)
	if err != nil {
		j.log.Error("过期清理失败", zap.Error(err))
		return report
	}
	if report.WalletsFailed > 0 {
		j.log.Warn("部分钱包过期处理失败", zap.Int("failed", report.WalletsFailed))
	}
	return report
}

// InvoiceCompensateJob 付款已提交但发票没生成的订单，在这里补开
type InvoiceCompensateJob struct {
	invoices   *service.InvoiceService
	log        *zap.Logger
	stopCh     chan struct{}
	interval   time.Duration
	retryAfter time.Duration
	batchSize  int
}

func NewInvoiceCompensateJob(invoices *service.InvoiceService, cfg *config.Config, log *zap.Logger) *InvoiceCompensateJob {
	interval := cfg.Jobs.InvoiceInterval
	if interval <= 0 {
		interval = time.Minute
	}
	return &InvoiceCompensateJob{
		invoices:   invoices,
		log:        log.Named("InvoiceCompensateJob"),
		stopCh:     make(chan struct{}),
		interval:   interval,
		retryAfter: cfg.Jobs.InvoiceRetryAfter,
		batchSize:  50,
	}
}

func (j *InvoiceCompensateJob) Start(ctx context.Context) {
	j.log.Info("发票补偿任务启动", zap.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info("收到停止信号，任务退出")
			return
		case <-j.stopCh:
			j.log.Info("任务停止")
			return
		case <-ticker.C:
			n, err := j.invoices.RetryMissing(ctx, j.retryAfter, j.batchSize)
			if err != nil {
				j.log.Error("发票补偿失败", zap.Error(err))
			} else if n > 0 {
				j.log.Info("补开发票", zap.Int("count", n))
			}
		}
	}
}

func (j *InvoiceCompensateJob) Stop() {
	close(j.stopCh)
}
