package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/qs3c/visibility_server/config"
	"github.com/qs3c/visibility_server/internal/app"
	"github.com/qs3c/visibility_server/internal/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := app.NewServer(ctx, cfg, logr)
	if err != nil {
		logr.Fatalw("failed to init server", "error", err)
	}

	if server.Cron != nil {
		server.Cron.Start()
		logr.Infow("cleanup scheduler started", "retention_days", cfg.Storage.DataRetentionDays)
	}

	// 嵌入式 worker 跟随 API 进程退出
	var workers sync.WaitGroup
	if server.Workers != nil {
		workers.Add(1)
		go func() {
			defer workers.Done()
			server.Workers.Run(ctx)
		}()
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server.Router.Setup(),
	}

	go func() {
		logr.Infow("server starting", "addr", addr, "execution_mode", server.Adapter.CurrentMode())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Errorw("server stopped unexpectedly", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logr.Info("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logr.Warnw("http shutdown incomplete", "error", err)
	}

	if server.Cron != nil {
		server.Cron.Stop()
	}
	workers.Wait()

	if err := server.Close(); err != nil {
		logr.Warnw("failed to release resources", "error", err)
	}
	logr.Info("server shutdown complete")
}
