// sweep 单次执行的维护任务，供外部 cron 调用：
//
//	sweep -task sweep          清零过期钱包余额、失效过期订阅
//	sweep -task backfill-ids   给历史数据补发 customer_id / partner_id
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"servicemart/internal/config"
	"servicemart/internal/infrastructure/database"
	"servicemart/internal/infrastructure/metrics"
	"servicemart/internal/job"
	"servicemart/internal/service"
	"servicemart/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	task := flag.String("task", "sweep", "sweep | backfill-ids")
	timeout := flag.Duration("timeout", 10*time.Minute, "整体超时")
	flag.Parse()

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

	db, err := database.InitMySQL(&cfg.MySQL, log)
	if err != nil {
		log.Fatal("连接数据库失败", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *task {
	case "sweep":
		wallets := service.NewWalletService(db, cfg, metrics.New(prometheus.NewRegistry()), log)
		report := job.NewExpirySweepJob(wallets, cfg, log).RunOnce(ctx)
		if report == nil {
			os.Exit(1)
		}
		log.Info("过期清理完成",
			zap.Int("walletsExpired", report.WalletsExpired),
			zap.Int("walletsFailed", report.WalletsFailed),
			zap.Int64("subscriptionsDeactivated", report.SubscriptionsDeactivated))
	case "backfill-ids":
		report, err := service.NewAdminService(db, log).BackfillIDs(ctx)
		if err != nil {
			log.Fatal("补齐编号失败", zap.Error(err))
		}
		if report.Failed > 0 {
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown task %q\n", *task)
		os.Exit(2)
	}
}
