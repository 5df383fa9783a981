package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/qs3c/visibility_server/config"
	"github.com/qs3c/visibility_server/internal/app"
	"github.com/qs3c/visibility_server/internal/database"
	"github.com/qs3c/visibility_server/internal/pkg/logger"
)

func main() {
	// 加载配置
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logr, err := logger.New(&cfg.Log)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logr.Sync()

	// worker 只消费远程队列，结果通过 pub/sub 交给 API 进程落库
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		logr.Fatalw("failed to connect redis", "addr", cfg.Redis.Addr(), "error", err)
	}
	defer rdb.Close()
	logr.Infow("redis connected", "addr", cfg.Redis.Addr())

	orchestrator, err := app.NewOrchestrator(cfg, app.NewBreaker(cfg), logr)
	if err != nil {
		logr.Fatalw("failed to init orchestrator", "error", err)
	}
	runner := app.NewWorkerRunner(cfg, rdb, orchestrator, cfg.Queue.MaxWorkers, logr)

	// 创建 context 用于优雅关闭
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logr.Infow("worker started", "queue", cfg.Queue.TrackingQueue, "max_workers", cfg.Queue.MaxWorkers)
	runner.Run(ctx)
}
