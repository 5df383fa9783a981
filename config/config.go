package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Queue          QueueConfig          `mapstructure:"queue"`
	Retry          RetryConfig          `mapstructure:"retry"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Processing     ProcessingConfig     `mapstructure:"processing"`
	OpenAI         OpenAIConfig         `mapstructure:"openai"`
	Storage        StorageConfig        `mapstructure:"storage"`
	Validation     ValidationConfig     `mapstructure:"validation"`
	CORS           CORSConfig           `mapstructure:"cors"`
	Log            LogConfig            `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // mysql, sqlite
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SQLitePath   string `mapstructure:"sqlite_path"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Password       string `mapstructure:"password"`
	DB             int    `mapstructure:"db"`
	PoolSize       int    `mapstructure:"pool_size"`
	ProbeTimeoutMs int    `mapstructure:"probe_timeout_ms"`
}

type QueueConfig struct {
	TrackingQueue    string `mapstructure:"tracking_queue"`
	MaxWorkers       int    `mapstructure:"max_workers"`
	EmbeddedWorkers  int    `mapstructure:"embedded_workers"`
	MaxAttempts      int    `mapstructure:"max_attempts"`
	BackoffDelayMs   int    `mapstructure:"backoff_delay_ms"`
	RemoveOnComplete bool   `mapstructure:"remove_on_complete"`
	RemoveOnFail     bool   `mapstructure:"remove_on_fail"`
	RetentionHours   int    `mapstructure:"retention_hours"`
}

type RetryConfig struct {
	MaxAttempts         int `mapstructure:"max_attempts"`
	BaseDelayMs         int `mapstructure:"base_delay_ms"`
	MaxDelayMs          int `mapstructure:"max_delay_ms"`
	PerAttemptTimeoutMs int `mapstructure:"per_attempt_timeout_ms"`
}

type CircuitBreakerConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold"`
	ResetTimeoutMs   int `mapstructure:"reset_timeout_ms"`
}

type ProcessingConfig struct {
	PromptCount      int `mapstructure:"prompt_count"`
	MaxPromptCount   int `mapstructure:"max_prompt_count"`
	ConcurrencyLimit int `mapstructure:"concurrency_limit"` // 1 表示顺序执行
	InterCallDelayMs int `mapstructure:"inter_call_delay_ms"`
	// 执行阶段结束时的进度（80 或 90）
	ExecuteProgressEnd int `mapstructure:"execute_progress_end"`
}

type OpenAIConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	PromptModel string  `mapstructure:"prompt_model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
	TimeoutMs   int     `mapstructure:"timeout_ms"`
}

type StorageConfig struct {
	DataRetentionDays int  `mapstructure:"data_retention_days"`
	AutoCleanup       bool `mapstructure:"auto_cleanup"`
}

type ValidationConfig struct {
	MaxBrands         int `mapstructure:"max_brands"`
	MaxCompetitors    int `mapstructure:"max_competitors"`
	MinCategoryLength int `mapstructure:"min_category_length"`
	MaxCategoryLength int `mapstructure:"max_category_length"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // console, json
	File       string `mapstructure:"file"`   // 为空时只输出到控制台
	Stderr     bool   `mapstructure:"stderr"` // 控制台输出改用 stderr
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

func (r RedisConfig) ProbeTimeout() time.Duration {
	return millis(r.ProbeTimeoutMs)
}

func (q QueueConfig) BackoffDelay() time.Duration {
	return millis(q.BackoffDelayMs)
}

func (q QueueConfig) Retention() time.Duration {
	return time.Duration(q.RetentionHours) * time.Hour
}

func (r RetryConfig) BaseDelay() time.Duration {
	return millis(r.BaseDelayMs)
}

func (r RetryConfig) MaxDelay() time.Duration {
	return millis(r.MaxDelayMs)
}

func (r RetryConfig) PerAttemptTimeout() time.Duration {
	return millis(r.PerAttemptTimeoutMs)
}

func (c CircuitBreakerConfig) ResetTimeout() time.Duration {
	return millis(c.ResetTimeoutMs)
}

func (p ProcessingConfig) InterCallDelay() time.Duration {
	return millis(p.InterCallDelayMs)
}

func (o OpenAIConfig) Timeout() time.Duration {
	return millis(o.TimeoutMs)
}

func (s StorageConfig) Retention() time.Duration {
	return time.Duration(s.DataRetentionDays) * 24 * time.Hour
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5001)
	v.SetDefault("server.mode", "debug")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.username", "root")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "visibility")
	v.SetDefault("database.sqlite_path", "visibility.db")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 50)

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.probe_timeout_ms", 5000)

	v.SetDefault("queue.tracking_queue", "visibility_tracking")
	v.SetDefault("queue.max_workers", 2)
	v.SetDefault("queue.embedded_workers", 0)
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.backoff_delay_ms", 2000)
	v.SetDefault("queue.remove_on_complete", false)
	v.SetDefault("queue.remove_on_fail", false)
	v.SetDefault("queue.retention_hours", 24)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay_ms", 1000)
	v.SetDefault("retry.max_delay_ms", 10000)
	v.SetDefault("retry.per_attempt_timeout_ms", 30000)

	v.SetDefault("circuit_breaker.failure_threshold", 5)
	v.SetDefault("circuit_breaker.reset_timeout_ms", 60000)

	v.SetDefault("processing.prompt_count", 5)
	v.SetDefault("processing.max_prompt_count", 20)
	v.SetDefault("processing.concurrency_limit", 1)
	v.SetDefault("processing.inter_call_delay_ms", 300)
	v.SetDefault("processing.execute_progress_end", 80)

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.prompt_model", "gpt-4o-mini")
	v.SetDefault("openai.max_tokens", 1000)
	v.SetDefault("openai.temperature", 0.7)
	v.SetDefault("openai.timeout_ms", 30000)

	v.SetDefault("storage.data_retention_days", 90)
	v.SetDefault("storage.auto_cleanup", true)

	v.SetDefault("validation.max_brands", 10)
	v.SetDefault("validation.max_competitors", 5)
	v.SetDefault("validation.min_category_length", 2)
	v.SetDefault("validation.max_category_length", 100)

	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Content-Type", "Authorization"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")
	v.SetDefault("log.stderr", false)
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
}

// Load 读取配置；文件不存在时仅使用默认值和环境变量
func Load(configPath string) (*Config, error) {
	// .env 中的变量先进入进程环境，再由 viper 覆盖
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	// 优先尝试读取 config.local.yaml（包含真实密钥，不提交到git）
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")
	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")

	// 环境变量覆盖
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate 检查无法运行的配置组合
func (c *Config) Validate() error {
	switch {
	case c.Retry.MaxAttempts < 1:
		return fmt.Errorf("retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts)
	case c.Retry.BaseDelayMs < 0 || c.Retry.MaxDelayMs < c.Retry.BaseDelayMs:
		return fmt.Errorf("retry delays invalid: base=%d max=%d", c.Retry.BaseDelayMs, c.Retry.MaxDelayMs)
	case c.Retry.PerAttemptTimeoutMs <= 0:
		return fmt.Errorf("retry.per_attempt_timeout_ms must be > 0")
	case c.CircuitBreaker.FailureThreshold < 1:
		return fmt.Errorf("circuit_breaker.failure_threshold must be >= 1")
	case c.Processing.ConcurrencyLimit < 1:
		return fmt.Errorf("processing.concurrency_limit must be >= 1, got %d", c.Processing.ConcurrencyLimit)
	case c.Processing.ExecuteProgressEnd < 80 || c.Processing.ExecuteProgressEnd > 90:
		return fmt.Errorf("processing.execute_progress_end must be within [80, 90], got %d", c.Processing.ExecuteProgressEnd)
	case c.Processing.PromptCount < 1 || c.Processing.PromptCount > c.Processing.MaxPromptCount:
		return fmt.Errorf("processing.prompt_count must be within [1, %d], got %d", c.Processing.MaxPromptCount, c.Processing.PromptCount)
	case c.Queue.MaxAttempts < 1:
		return fmt.Errorf("queue.max_attempts must be >= 1")
	}
	return nil
}
