package commands

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/urfave/cli/v3"

	"github.com/qs3c/visibility_server/internal/app"
	"github.com/qs3c/visibility_server/internal/database"
	"github.com/qs3c/visibility_server/internal/pkg/probe"
)

// CleanupAction 执行一轮保留期清理；Redis 不可达时只清理数据库
func CleanupAction(ctx context.Context, cmd *cli.Command) error {
	cfg, logr, err := loadEnv(cmd.String("config"))
	if err != nil {
		return err
	}
	defer logr.Sync()

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled && probe.IsReachable(ctx, cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.ProbeTimeout()) {
		rdb, err = database.NewRedis(&cfg.Redis)
		if err != nil {
			logr.Warnw("skipping queue cleanup", "error", err)
		} else {
			defer rdb.Close()
		}
	}

	summary := app.NewCleanup(cfg, db, rdb, logr).RunNow(ctx)
	fmt.Printf("history: %d, sessions: %d, queue: %d, total: %d\n",
		summary.History, summary.Sessions, summary.Queue, summary.Total())
	return nil
}
