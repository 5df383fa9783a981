package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/visibility_server/config"
	"github.com/qs3c/visibility_server/internal/api"
	"github.com/qs3c/visibility_server/internal/api/handler"
	"github.com/qs3c/visibility_server/internal/database"
	"github.com/qs3c/visibility_server/internal/dispatch"
	"github.com/qs3c/visibility_server/internal/pkg/cron"
	"github.com/qs3c/visibility_server/internal/pkg/llm"
	"github.com/qs3c/visibility_server/internal/pkg/pubsub"
	"github.com/qs3c/visibility_server/internal/pkg/queue"
	"github.com/qs3c/visibility_server/internal/pkg/resilience"
	"github.com/qs3c/visibility_server/internal/pkg/ws"
	"github.com/qs3c/visibility_server/internal/repository"
	"github.com/qs3c/visibility_server/internal/service"
	"github.com/qs3c/visibility_server/internal/tracking"
	"github.com/qs3c/visibility_server/internal/worker"
)

// Server API 进程的全部组件
type Server struct {
	Config  *config.Config
	DB      *gorm.DB
	Redis   *redis.Client // 直接执行模式下为 nil
	Breaker *resilience.CircuitBreaker
	Adapter *dispatch.Adapter
	Service *service.TrackingService
	Router  *api.Router
	Cron    *cron.Service  // storage.auto_cleanup 关闭时为 nil
	Workers *worker.Runner // 未嵌入 worker 时为 nil

	log *zap.SugaredLogger
}

// NewBreaker 同一进程内所有任务共享一个熔断器
func NewBreaker(cfg *config.Config) *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(cfg.CircuitBreaker.FailureThreshold, cfg.CircuitBreaker.ResetTimeout())
}

// NewOrchestrator 用 OpenAI 客户端和配置的重试策略组装编排器
func NewOrchestrator(cfg *config.Config, breaker *resilience.CircuitBreaker, log *zap.SugaredLogger) (*tracking.Orchestrator, error) {
	var opts []option.RequestOption
	if cfg.OpenAI.TimeoutMs > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.OpenAI.Timeout()))
	}
	client, err := llm.NewClient(&cfg.OpenAI, opts...)
	if err != nil {
		return nil, err
	}

	executor := resilience.NewExecutor(breaker, resilience.RetryOptions{
		MaxAttempts:       cfg.Retry.MaxAttempts,
		BaseDelay:         cfg.Retry.BaseDelay(),
		MaxDelay:          cfg.Retry.MaxDelay(),
		PerAttemptTimeout: cfg.Retry.PerAttemptTimeout(),
		OnRetry: func(attempt int, delay time.Duration, err error) {
			log.Warnw("query attempt failed, retrying",
				"attempt", attempt,
				"delay", delay.Round(time.Millisecond),
				"kind", resilience.KindOf(err),
				"error", err,
			)
		},
	})

	return tracking.NewOrchestrator(client, client, executor, tracking.Options{
		PromptCount:        cfg.Processing.PromptCount,
		ConcurrencyLimit:   cfg.Processing.ConcurrencyLimit,
		RateLimitDelay:     cfg.Processing.InterCallDelay(),
		ExecuteProgressEnd: cfg.Processing.ExecuteProgressEnd,
	}, log), nil
}

// NewQueue 按配置创建任务队列
func NewQueue(cfg *config.Config, rdb *redis.Client) *queue.Queue {
	return queue.NewQueue(rdb, cfg.Queue.TrackingQueue, queue.Options{
		RemoveOnComplete: cfg.Queue.RemoveOnComplete,
		RemoveOnFail:     cfg.Queue.RemoveOnFail,
	})
}

// NewWorkerRunner 消费远程队列的 worker；嵌入 API 进程时与 API 共用编排器和熔断器
func NewWorkerRunner(cfg *config.Config, rdb *redis.Client, orchestrator *tracking.Orchestrator, workers int, log *zap.SugaredLogger) *worker.Runner {
	q := NewQueue(cfg, rdb)
	processor := worker.NewProcessor(orchestrator, q, pubsub.NewPublisher(rdb), cfg.Queue.BackoffDelay(), log)
	return worker.NewRunner(q, processor, workers, log)
}

// NewCleanup 过期历史、终态会话和队列记录的清理任务；rdb 为 nil 时不清理队列
func NewCleanup(cfg *config.Config, db *gorm.DB, rdb *redis.Client, log *zap.SugaredLogger) *cron.Service {
	var trimmer cron.QueueTrimmer
	if rdb != nil {
		trimmer = NewQueue(cfg, rdb)
	}
	return cron.NewService(
		repository.NewHistoryRepository(db, cfg.Storage.Retention()),
		repository.NewSessionRepository(db),
		trimmer,
		cron.Options{
			Interval:       time.Hour,
			DataRetention:  cfg.Storage.Retention(),
			QueueRetention: cfg.Queue.Retention(),
			RunOnStart:     true,
		},
		log,
	)
}

// NewServer 组装 API 进程：存储、执行策略、HTTP 路由和清理任务
func NewServer(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) (*Server, error) {
	db, err := database.Open(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	log.Infow("database connected", "driver", cfg.Database.Driver)

	breaker := NewBreaker(cfg)
	orchestrator, err := NewOrchestrator(cfg, breaker, log)
	if err != nil {
		return nil, err
	}

	hub := ws.NewHub(log)
	sessions := repository.NewSessionRepository(db)
	history := repository.NewHistoryRepository(db, cfg.Storage.Retention())
	recorder := tracking.NewRecorder(sessions, history, hub, log)

	s := &Server{
		Config:  cfg,
		DB:      db,
		Breaker: breaker,
		log:     log,
	}

	newRemote := func(ctx context.Context) (dispatch.Strategy, error) {
		rdb, err := database.NewRedis(&cfg.Redis)
		if err != nil {
			return nil, err
		}
		remote := dispatch.NewRemoteStrategy(NewQueue(cfg, rdb), pubsub.NewSubscriber(rdb), recorder, cfg.Queue.MaxAttempts, log)
		if err := remote.Start(ctx); err != nil {
			rdb.Close()
			return nil, err
		}
		s.Redis = rdb
		return remote, nil
	}
	newDirect := func() dispatch.Strategy {
		return dispatch.NewDirectStrategy(orchestrator, recorder, log)
	}
	strategy := dispatch.SelectStrategy(ctx, &cfg.Redis, newRemote, newDirect, log)

	if s.Redis != nil && cfg.Queue.EmbeddedWorkers > 0 {
		s.Workers = NewWorkerRunner(cfg, s.Redis, orchestrator, cfg.Queue.EmbeddedWorkers, log)
	}

	s.Adapter = dispatch.NewAdapter(strategy, sessions, recorder, breaker, &cfg.Validation, log)
	s.Service = service.NewTrackingService(s.Adapter, sessions, history, log)
	s.Router = api.NewRouter(
		handler.NewTrackingHandler(s.Service, log),
		handler.NewWebSocketHandler(hub, s.Service, log),
		cfg,
	)

	if cfg.Storage.AutoCleanup {
		s.Cron = NewCleanup(cfg, db, s.Redis, log)
	}

	return s, nil
}

// Close 等待进行中的任务并释放连接
func (s *Server) Close() error {
	var errs []error
	if err := s.Adapter.Close(); err != nil {
		errs = append(errs, err)
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if sqlDB, err := s.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
