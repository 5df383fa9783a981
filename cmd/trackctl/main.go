package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/qs3c/visibility_server/cmd/trackctl/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	configFlag := &cli.StringFlag{
		Name:  "config",
		Usage: "配置文件路径",
		Value: "config.yaml",
	}

	app := &cli.Command{
		Name:  "trackctl",
		Usage: "品牌可见度追踪的运维工具",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "在当前进程内执行一次追踪并输出 JSON 结果",
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{
						Name:     "category",
						Usage:    "产品类别",
						Required: true,
					},
					&cli.StringSliceFlag{
						Name:     "brand",
						Usage:    "追踪的品牌（可重复）",
						Required: true,
					},
					&cli.StringSliceFlag{
						Name:  "competitor",
						Usage: "竞品（可重复）",
					},
					&cli.StringFlag{
						Name:  "mode",
						Usage: "normal 或 competitor",
						Value: "normal",
					},
					&cli.IntFlag{
						Name:  "prompts",
						Usage: "提示词数量，0 表示使用配置值",
					},
				},
				Action: commands.RunAction,
			},
			{
				Name:   "probe",
				Usage:  "检查 Redis 是否可达，输出将使用的执行方式",
				Flags:  []cli.Flag{configFlag},
				Action: commands.ProbeAction,
			},
			{
				Name:   "cleanup",
				Usage:  "立即清理过期的历史记录、终态会话和队列记录",
				Flags:  []cli.Flag{configFlag},
				Action: commands.CleanupAction,
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
