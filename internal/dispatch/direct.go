package dispatch

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/qs3c/visibility_server/internal/model"
	"github.com/qs3c/visibility_server/internal/pkg/queue"
	"github.com/qs3c/visibility_server/internal/tracking"
)

// DirectStrategy 在当前进程内立即执行任务
type DirectStrategy struct {
	orchestrator *tracking.Orchestrator
	recorder     *tracking.Recorder
	log          *zap.SugaredLogger
	wg           sync.WaitGroup
}

func NewDirectStrategy(orchestrator *tracking.Orchestrator, recorder *tracking.Recorder, log *zap.SugaredLogger) *DirectStrategy {
	return &DirectStrategy{
		orchestrator: orchestrator,
		recorder:     recorder,
		log:          log,
	}
}

func (d *DirectStrategy) Mode() string { return model.ExecutionModeDirect }

// Submit 启动后台 goroutine 执行，任务不随请求的 ctx 取消
func (d *DirectStrategy) Submit(ctx context.Context, session *model.TrackingSession) (string, error) {
	jobCtx := context.WithoutCancel(ctx)
	payload := session.Payload()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(jobCtx, session.ID, payload)
	}()
	return "", nil
}

func (d *DirectStrategy) run(ctx context.Context, sessionID string, payload model.TrackingPayload) {
	if err := d.recorder.Active(ctx, sessionID); err != nil {
		d.log.Errorw("failed to mark session active", "session_id", sessionID, "error", err)
	}

	sink := tracking.Monotonic(func(progress int) {
		if err := d.recorder.Progress(ctx, sessionID, progress); err != nil {
			d.log.Warnw("failed to record progress", "session_id", sessionID, "progress", progress, "error", err)
		}
	})

	result, err := d.orchestrator.Execute(ctx, payload, sink)
	if err != nil {
		if rerr := d.recorder.Failed(ctx, sessionID, err); rerr != nil {
			d.log.Errorw("failed to record failure", "session_id", sessionID, "error", rerr)
		}
		return
	}

	if err := d.recorder.Completed(ctx, sessionID, result); err != nil {
		d.log.Errorw("failed to record result", "session_id", sessionID, "error", err)
	}
}

func (d *DirectStrategy) QueueStats(context.Context) (*queue.Stats, error) { return nil, nil }

// Wait 等待所有进行中的任务结束
func (d *DirectStrategy) Wait() { d.wg.Wait() }

func (d *DirectStrategy) Close() error {
	d.wg.Wait()
	return nil
}
