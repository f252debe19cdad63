package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"servicemart/internal/admin"
	"servicemart/internal/config"
	"servicemart/internal/handler"
	"servicemart/internal/infrastructure/cache"
	"servicemart/internal/infrastructure/database"
	"servicemart/internal/infrastructure/invoice"
	"servicemart/internal/infrastructure/lock"
	"servicemart/internal/infrastructure/mailer"
	"servicemart/internal/infrastructure/metrics"
	"servicemart/internal/infrastructure/mq"
	"servicemart/internal/infrastructure/session"
	"servicemart/internal/infrastructure/storage"
	"servicemart/internal/job"
	"servicemart/internal/otp"
	"servicemart/internal/service"
	"servicemart/pkg/idgen"
	"servicemart/pkg/logger"

	"github.com/casbin/casbin/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	workerID := flag.Int64("worker", 1, "snowflake worker id")
	flag.Parse()

	// 加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	// 初始化 ID 生成器
	if err := idgen.Init(*workerID); err != nil {
		log.Fatal("初始化 ID 生成器失败", zap.Error(err))
	}

	// 初始化 MySQL
	db, err := database.InitMySQL(&cfg.MySQL, log)
	if err != nil {
		log.Fatal("连接数据库失败", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		log.Fatal("数据库迁移失败", zap.Error(err))
	}

	// 初始化 Redis
	redisClient, err := cache.InitRedis(&cfg.Redis, log)
	if err != nil {
		log.Fatal("连接 Redis 失败", zap.Error(err))
	}
	defer redisClient.Close()

	// 初始化 Kafka，未启用时事件只写日志
	var publisher mq.Publisher
	if cfg.Kafka.Enabled {
		kp, err := mq.NewKafkaPublisher(&cfg.Kafka, log)
		if err != nil {
			log.Fatal("初始化 Kafka 失败", zap.Error(err))
		}
		publisher = kp
	} else {
		publisher = mq.NewLogPublisher(log)
	}
	defer publisher.Close()

	if err := handler.RegisterValidators(); err != nil {
		log.Fatal("注册校验规则失败", zap.Error(err))
	}

	enforcer, err := casbin.NewEnforcer(cfg.Authz.ModelPath, cfg.Authz.PolicyPath)
	if err != nil {
		log.Fatal("加载权限策略失败", zap.Error(err))
	}

	store, err := storage.NewLocalStore(cfg.Storage.Root)
	if err != nil {
		log.Fatal("初始化文件存储失败", zap.Error(err))
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	kv := cache.NewCache(redisClient, "servicemart")
	locker := lock.NewRedisLocker(redisClient, cfg.Business.PayLockTTL)

	var limiter *otp.Limiter
	if cfg.OTP.RateLimit {
		limiter = otp.NewLimiter(kv, cfg.OTP.RateWindow, cfg.OTP.RateMax, cfg.OTP.RateCooldown, cfg.OTP.RateBlockFor)
	}
	engine := otp.NewEngine(mailer.NewSMTPSender(&cfg.SMTP, log), limiter, cfg.OTP.Digits, m, log)

	// 业务服务
	wallets := service.NewWalletService(db, cfg, m, log)
	subs := service.NewSubscriptionService(db, wallets, log)
	invoices := service.NewInvoiceService(db, invoice.NewPDFRenderer(cfg.SMTP.FromName), store, locker, m, log)
	payments := service.NewPayService(db, cfg, wallets, subs, invoices, locker, m, log)
	partners := service.NewPartnerService(db, wallets, subs, log)

	registry := admin.NewRegistry()
	if err := admin.RegisterDefaults(registry, db); err != nil {
		log.Fatal("登记后台实体失败", zap.Error(err))
	}

	h := handler.NewHandler(handler.Services{
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
	}, session.NewStore(redisClient, cfg.Session.TTL), store, cfg, log)

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动后台任务
	outboxSender := job.NewOutboxSender(db, publisher, cfg, log)
	go outboxSender.Start(ctx)

	expiryJob := job.NewExpirySweepJob(wallets, cfg, log)
	go expiryJob.Start(ctx)

	invoiceJob := job.NewInvoiceCompensateJob(invoices, cfg, log)
	go invoiceJob.Start(ctx)

	// 设置路由
	router := handler.SetupRouter(h, enforcer, m, cfg, log)

	// 启动 HTTP 服务
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// 在 goroutine 中启动服务器
	go func() {
		log.Info("服务启动", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("服务启动失败", zap.Error(err))
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("正在关闭服务...")

	// 取消上下文，停止后台任务
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("服务关闭异常", zap.Error(err))
	}

	log.Info("服务已关闭")
}
