package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/qs3c/visibility_server/internal/model"
	"github.com/qs3c/visibility_server/internal/pkg/pubsub"
	"github.com/qs3c/visibility_server/internal/pkg/queue"
	"github.com/qs3c/visibility_server/internal/tracking"
)

// RemoteStrategy 把任务推入 Redis 队列，由 worker 执行；worker 发布的事件在这里写入存储
type RemoteStrategy struct {
	queue       *queue.Queue
	subscriber  *pubsub.Subscriber
	recorder    *tracking.Recorder
	maxAttempts int
	log         *zap.SugaredLogger

	cancel context.CancelFunc
	done   chan struct{}
}

func NewRemoteStrategy(q *queue.Queue, subscriber *pubsub.Subscriber, recorder *tracking.Recorder, maxAttempts int, log *zap.SugaredLogger) *RemoteStrategy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &RemoteStrategy{
		queue:       q,
		subscriber:  subscriber,
		recorder:    recorder,
		maxAttempts: maxAttempts,
		log:         log,
	}
}

func (r *RemoteStrategy) Mode() string { return model.ExecutionModeQueued }

// Start 订阅 worker 事件，订阅确认后返回
func (r *RemoteStrategy) Start(ctx context.Context) error {
	listenCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ready := make(chan struct{})
	errCh := make(chan error, 1)
	r.cancel = cancel
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		if err := r.subscriber.Subscribe(listenCtx, ready, r.HandleEvent); err != nil && listenCtx.Err() == nil {
			r.log.Errorw("event listener stopped", "error", err)
			errCh <- err
		}
	}()

	select {
	case <-ready:
		r.log.Infow("listening for worker events", "channel", pubsub.ChannelTrackingEvents)
		return nil
	case err := <-errCh:
		cancel()
		return fmt.Errorf("failed to start event listener: %w", err)
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

// HandleEvent 把 worker 事件写入会话存储
func (r *RemoteStrategy) HandleEvent(ev *model.SessionEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.recorder.Apply(ctx, ev); err != nil {
		r.log.Errorw("failed to apply worker event", "type", ev.Type, "session_id", ev.SessionID, "error", err)
	}
}

// Submit 推入队列；会话已带 QueueJobID 时沿用
func (r *RemoteStrategy) Submit(ctx context.Context, session *model.TrackingSession) (string, error) {
	jobID := session.QueueJobID
	if jobID == "" {
		jobID = uuid.NewString()
	}
	msg := &queue.JobMessage{
		JobID:       jobID,
		SessionID:   session.ID,
		Payload:     session.Payload(),
		Attempt:     1,
		MaxAttempts: r.maxAttempts,
		EnqueuedAt:  time.Now(),
	}
	if err := r.queue.Push(ctx, msg); err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}
	return msg.JobID, nil
}

func (r *RemoteStrategy) QueueStats(ctx context.Context) (*queue.Stats, error) {
	return r.queue.Stats(ctx)
}

func (r *RemoteStrategy) Close() error {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
	return nil
}
