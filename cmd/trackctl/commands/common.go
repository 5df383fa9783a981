package commands

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/qs3c/visibility_server/config"
	"github.com/qs3c/visibility_server/internal/pkg/logger"
)

// loadEnv 读取配置并创建日志器，日志只写 stderr 以免污染 JSON 输出
func loadEnv(configPath string) (*config.Config, *zap.SugaredLogger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logCfg := cfg.Log
	logCfg.File = ""
	logCfg.Stderr = true
	logr, err := logger.New(&logCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init logger: %w", err)
	}
	return cfg, logr, nil
}
