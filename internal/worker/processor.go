package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/qs3c/visibility_server/internal/model"
	"github.com/qs3c/visibility_server/internal/pkg/queue"
	"github.com/qs3c/visibility_server/internal/pkg/resilience"
	"github.com/qs3c/visibility_server/internal/tracking"
)

// EventPublisher 发布会话事件，由 API 进程写入存储
type EventPublisher interface {
	Publish(ctx context.Context, ev *model.SessionEvent) error
}

// JobQueue worker 需要的队列操作
type JobQueue interface {
	Pop(ctx context.Context, timeout time.Duration) (*queue.JobMessage, error)
	Retry(ctx context.Context, msg *queue.JobMessage, delay time.Duration) error
	PromoteDue(ctx context.Context, now time.Time, batch int64) (int, error)
	Complete(ctx context.Context, jobID string) error
	Fail(ctx context.Context, jobID string) error
}

// Processor 任务处理器
type Processor struct {
	orchestrator *tracking.Orchestrator
	queue        JobQueue
	publisher    EventPublisher
	backoffDelay time.Duration
	log          *zap.SugaredLogger
}

// NewProcessor 创建任务处理器
func NewProcessor(
	orchestrator *tracking.Orchestrator,
	jobQueue JobQueue,
	publisher EventPublisher,
	backoffDelay time.Duration,
	log *zap.SugaredLogger,
) *Processor {
	return &Processor{
		orchestrator: orchestrator,
		queue:        jobQueue,
		publisher:    publisher,
		backoffDelay: backoffDelay,
		log:          log,
	}
}

// Process 处理追踪任务
func (p *Processor) Process(ctx context.Context, msg *queue.JobMessage) error {
	// 终态事件和队列记录在关闭信号之后仍要写出
	finishCtx := context.WithoutCancel(ctx)

	publish := func(ev *model.SessionEvent) {
		ev.SessionID = msg.SessionID
		ev.JobID = msg.JobID
		ev.Attempt = msg.Attempt
		if err := p.publisher.Publish(finishCtx, ev); err != nil {
			p.log.Warnw("failed to publish event", "type", ev.Type, "job_id", msg.JobID, "error", err)
		}
	}

	p.log.Infow("processing job", "job_id", msg.JobID, "session_id", msg.SessionID, "attempt", msg.Attempt)
	publish(&model.SessionEvent{Type: model.EventActive, Status: model.SessionStatusActive})

	sink := tracking.Monotonic(func(progress int) {
		publish(&model.SessionEvent{
			Type:     model.EventProgress,
			Status:   model.SessionStatusActive,
			Progress: progress,
		})
	})

	start := time.Now()
	result, err := p.orchestrator.Execute(ctx, msg.Payload, sink)
	if err != nil {
		return p.handleError(finishCtx, msg, err, publish)
	}

	publish(&model.SessionEvent{
		Type:     model.EventCompleted,
		Status:   model.SessionStatusCompleted,
		Progress: tracking.ProgressDone,
		Result:   result,
	})
	if err := p.queue.Complete(finishCtx, msg.JobID); err != nil {
		p.log.Warnw("failed to mark job completed", "job_id", msg.JobID, "error", err)
	}

	p.log.Infow("job completed",
		"job_id", msg.JobID,
		"session_id", msg.SessionID,
		"elapsed", time.Since(start).Round(time.Millisecond),
		"prompts", len(result.PromptResults),
	)
	return nil
}

// handleError 可重试的错误在次数未用完时延迟重新入队，否则记为最终失败
func (p *Processor) handleError(ctx context.Context, msg *queue.JobMessage, cause error, publish func(*model.SessionEvent)) error {
	// worker 关闭导致的中断不计入失败，原样放回
	if errors.Is(cause, context.Canceled) {
		msg.Attempt--
		if err := p.queue.Retry(ctx, msg, 0); err != nil {
			return fmt.Errorf("failed to requeue interrupted job: %w", err)
		}
		p.log.Infow("job interrupted, requeued", "job_id", msg.JobID)
		return cause
	}

	if resilience.IsRetryable(cause) && msg.Attempt < msg.MaxAttempts {
		delay := p.JobBackoff(msg.Attempt)
		publish(&model.SessionEvent{
			Type:      model.EventRetrying,
			Status:    model.SessionStatusActive,
			Message:   fmt.Sprintf("Attempt %d failed, retrying in %s", msg.Attempt, delay),
			Error:     cause.Error(),
			ErrorKind: string(resilience.KindOf(cause)),
		})
		if err := p.queue.Retry(ctx, msg, delay); err != nil {
			return fmt.Errorf("failed to schedule retry: %w", err)
		}
		p.log.Warnw("job attempt failed, retry scheduled",
			"job_id", msg.JobID, "attempt", msg.Attempt-1, "delay", delay, "error", cause)
		return cause
	}

	publish(&model.SessionEvent{
		Type:      model.EventFailed,
		Status:    model.SessionStatusFailed,
		Error:     cause.Error(),
		ErrorKind: string(resilience.KindOf(cause)),
	})
	if err := p.queue.Fail(ctx, msg.JobID); err != nil {
		p.log.Warnw("failed to mark job failed", "job_id", msg.JobID, "error", err)
	}
	p.log.Errorw("job failed", "job_id", msg.JobID, "session_id", msg.SessionID, "attempt", msg.Attempt, "error", cause)
	return cause
}

// JobBackoff 任务级重试间隔：backoff × 2^(attempt-1)
func (p *Processor) JobBackoff(attempt int) time.Duration {
	return time.Duration(float64(p.backoffDelay) * math.Pow(2, float64(attempt-1)))
}
