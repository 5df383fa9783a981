package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/qs3c/visibility_server/internal/pkg/probe"
)

// ProbeAction 输出 API 进程启动时会选择的执行方式
func ProbeAction(ctx context.Context, cmd *cli.Command) error {
	cfg, logr, err := loadEnv(cmd.String("config"))
	if err != nil {
		return err
	}
	defer logr.Sync()

	if !cfg.Redis.Enabled {
		fmt.Println("redis disabled, execution mode: direct")
		return nil
	}

	if probe.IsReachable(ctx, cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.ProbeTimeout()) {
		fmt.Printf("redis %s reachable, execution mode: queued\n", cfg.Redis.Addr())
		return nil
	}
	fmt.Printf("redis %s unreachable within %s, execution mode: direct\n", cfg.Redis.Addr(), cfg.Redis.ProbeTimeout())
	return nil
}
