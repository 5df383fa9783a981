package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/qs3c/visibility_server/internal/app"
	"github.com/qs3c/visibility_server/internal/model"
	"github.com/qs3c/visibility_server/internal/tracking"
)

// RunAction 不经过队列和数据库，直接执行一次追踪
func RunAction(ctx context.Context, cmd *cli.Command) error {
	cfg, logr, err := loadEnv(cmd.String("config"))
	if err != nil {
		return err
	}
	defer logr.Sync()

	if n := cmd.Int("prompts"); n > 0 {
		cfg.Processing.PromptCount = n
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	payload := model.TrackingPayload{
		Category:    cmd.String("category"),
		Brands:      cmd.StringSlice("brand"),
		Competitors: cmd.StringSlice("competitor"),
		Mode:        cmd.String("mode"),
	}
	if err := tracking.Normalize(&payload, &cfg.Validation); err != nil {
		return err
	}

	orchestrator, err := app.NewOrchestrator(cfg, app.NewBreaker(cfg), logr)
	if err != nil {
		return err
	}

	result, err := orchestrator.Execute(ctx, payload, tracking.Monotonic(func(progress int) {
		logr.Infow("progress", "percent", progress)
	}))
	if err != nil {
		return fmt.Errorf("tracking failed: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
