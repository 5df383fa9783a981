package dispatch

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/qs3c/visibility_server/config"
	"github.com/qs3c/visibility_server/internal/model"
	"github.com/qs3c/visibility_server/internal/pkg/probe"
	"github.com/qs3c/visibility_server/internal/pkg/queue"
	"github.com/qs3c/visibility_server/internal/pkg/resilience"
	"github.com/qs3c/visibility_server/internal/tracking"
)

// RemoteFactory 构建并启动远程策略
type RemoteFactory func(ctx context.Context) (Strategy, error)

// SelectStrategy 启动时选择一次执行策略：远程后端启用且可达并构建成功时用远程，否则直接执行
func SelectStrategy(ctx context.Context, cfg *config.RedisConfig, newRemote RemoteFactory, newDirect func() Strategy, log *zap.SugaredLogger) Strategy {
	if !cfg.Enabled || newRemote == nil {
		log.Infow("remote backend disabled, using direct execution")
		return newDirect()
	}

	if !probe.IsReachable(ctx, cfg.Host, cfg.Port, cfg.ProbeTimeout()) {
		log.Warnw("remote backend unreachable, using direct execution", "host", cfg.Host, "port", cfg.Port)
		return newDirect()
	}

	remote, err := newRemote(ctx)
	if err != nil {
		log.Warnw("failed to initialize remote backend, using direct execution", "error", err)
		return newDirect()
	}

	log.Infow("using remote queue execution", "host", cfg.Host, "port", cfg.Port)
	return remote
}

// Diagnostics 健康检查快照
type Diagnostics struct {
	Mode    string              `json:"mode"`
	Breaker resilience.Snapshot `json:"circuit_breaker"`
	Queue   *queue.Stats        `json:"queue,omitempty"`
}

// Adapter 对调用方屏蔽具体的执行策略
type Adapter struct {
	strategy Strategy
	sessions tracking.SessionStore
	recorder *tracking.Recorder
	breaker  *resilience.CircuitBreaker
	rules    *config.ValidationConfig
	log      *zap.SugaredLogger
}

func NewAdapter(
	strategy Strategy,
	sessions tracking.SessionStore,
	recorder *tracking.Recorder,
	breaker *resilience.CircuitBreaker,
	rules *config.ValidationConfig,
	log *zap.SugaredLogger,
) *Adapter {
	return &Adapter{
		strategy: strategy,
		sessions: sessions,
		recorder: recorder,
		breaker:  breaker,
		rules:    rules,
		log:      log,
	}
}

// Submit 校验参数、创建会话并交给当前策略执行，返回会话 ID
func (a *Adapter) Submit(ctx context.Context, payload model.TrackingPayload) (*model.TrackingSession, error) {
	if err := tracking.Normalize(&payload, a.rules); err != nil {
		return nil, err
	}

	session := &model.TrackingSession{
		ID:            uuid.NewString(),
		Category:      payload.Category,
		Brands:        payload.Brands,
		Competitors:   payload.Competitors,
		Mode:          payload.Mode,
		Status:        model.SessionStatusQueued,
		ExecutionMode: a.strategy.Mode(),
	}
	// 队列任务 ID 随会话一起写入，worker 可能在 Submit 返回前就把会话推到终态
	if session.ExecutionMode == model.ExecutionModeQueued {
		session.QueueJobID = uuid.NewString()
	}
	if err := a.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	jobID, err := a.strategy.Submit(ctx, session)
	if err != nil {
		if rerr := a.recorder.Failed(ctx, session.ID, err); rerr != nil {
			a.log.Errorw("failed to record submit failure", "session_id", session.ID, "error", rerr)
		}
		return nil, err
	}

	if jobID != "" && jobID != session.QueueJobID {
		session.QueueJobID = jobID
		if _, err := a.sessions.Update(ctx, session.ID, model.SessionUpdate{QueueJobID: &jobID}); err != nil {
			a.log.Warnw("failed to save queue job id", "session_id", session.ID, "job_id", jobID, "error", err)
		}
	}

	a.log.Infow("tracking submitted",
		"session_id", session.ID,
		"category", session.Category,
		"mode", session.Mode,
		"execution_mode", session.ExecutionMode,
	)
	return session, nil
}

// GetStatus 读取会话当前状态
func (a *Adapter) GetStatus(ctx context.Context, sessionID string) (*model.TrackingSession, error) {
	return a.sessions.GetByID(ctx, sessionID)
}

// CurrentMode 当前执行模式
func (a *Adapter) CurrentMode() string {
	return a.strategy.Mode()
}

func (a *Adapter) Diagnostics(ctx context.Context) *Diagnostics {
	d := &Diagnostics{Mode: a.strategy.Mode()}
	if a.breaker != nil {
		d.Breaker = a.breaker.Snapshot()
	}

	stats, err := a.strategy.QueueStats(ctx)
	if err != nil {
		a.log.Warnw("failed to read queue stats", "error", err)
	}
	d.Queue = stats
	return d
}

func (a *Adapter) Close() error {
	return a.strategy.Close()
}
