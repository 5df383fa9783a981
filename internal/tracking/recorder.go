package tracking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/qs3c/visibility_server/internal/model"
	"github.com/qs3c/visibility_server/internal/pkg/resilience"
)

// Notifier 接收会话事件（WebSocket 推送）
type Notifier interface {
	Notify(ev *model.SessionEvent)
}

// Recorder 把任务生命周期写入会话存储和历史存储，只有实际生效的写入才会通知订阅者
type Recorder struct {
	sessions SessionStore
	history  HistoryStore
	notifier Notifier
	log      *zap.SugaredLogger
}

// NewRecorder history 和 notifier 可以为 nil
func NewRecorder(sessions SessionStore, history HistoryStore, notifier Notifier, log *zap.SugaredLogger) *Recorder {
	return &Recorder{
		sessions: sessions,
		history:  history,
		notifier: notifier,
		log:      log,
	}
}

func (r *Recorder) Active(ctx context.Context, sessionID string) error {
	status := model.SessionStatusActive
	now := time.Now()
	applied, err := r.sessions.Update(ctx, sessionID, model.SessionUpdate{Status: &status, StartedAt: &now})
	if err != nil {
		return fmt.Errorf("mark session %s active: %w", sessionID, err)
	}
	if applied {
		r.notify(&model.SessionEvent{Type: model.EventActive, SessionID: sessionID, Status: status})
	}
	return nil
}

func (r *Recorder) Progress(ctx context.Context, sessionID string, progress int) error {
	applied, err := r.sessions.Update(ctx, sessionID, model.SessionUpdate{Progress: &progress})
	if err != nil {
		return fmt.Errorf("update session %s progress: %w", sessionID, err)
	}
	if applied {
		r.notify(&model.SessionEvent{
			Type:      model.EventProgress,
			SessionID: sessionID,
			Status:    model.SessionStatusActive,
			Progress:  progress,
		})
	}
	return nil
}

// Completed 写入结果；历史记录写入失败只记日志
func (r *Recorder) Completed(ctx context.Context, sessionID string, result *model.TrackingResult) error {
	status := model.SessionStatusCompleted
	progress := ProgressDone
	completedAt := result.CompletedAt
	applied, err := r.sessions.Update(ctx, sessionID, model.SessionUpdate{
		Status:      &status,
		Progress:    &progress,
		Result:      result,
		CompletedAt: &completedAt,
	})
	if err != nil {
		return fmt.Errorf("complete session %s: %w", sessionID, err)
	}
	if !applied {
		return nil
	}

	if r.history != nil && result.Metrics != nil {
		entry := &model.HistoricalEntry{
			ID:         uuid.NewString(),
			SessionID:  sessionID,
			Timestamp:  completedAt,
			Category:   result.Category,
			Brands:     result.Brands,
			BrandStats: result.Metrics.BrandStats,
			Summary:    result.Metrics.Summary,
		}
		if err := r.history.Append(ctx, entry); err != nil {
			r.log.Errorw("failed to save historical data", "session_id", sessionID, "error", err)
		}
	}

	r.log.Infow("tracking completed", "session_id", sessionID)
	r.notify(&model.SessionEvent{
		Type:      model.EventCompleted,
		SessionID: sessionID,
		Status:    status,
		Progress:  progress,
	})
	return nil
}

// Failed 记录错误信息和分类，进度保持最后的值
func (r *Recorder) Failed(ctx context.Context, sessionID string, cause error) error {
	return r.FailedWith(ctx, sessionID, cause.Error(), string(resilience.KindOf(cause)))
}

func (r *Recorder) FailedWith(ctx context.Context, sessionID, message, kind string) error {
	status := model.SessionStatusFailed
	now := time.Now()
	applied, err := r.sessions.Update(ctx, sessionID, model.SessionUpdate{
		Status:       &status,
		ErrorMessage: &message,
		ErrorKind:    &kind,
		CompletedAt:  &now,
	})
	if err != nil {
		return fmt.Errorf("fail session %s: %w", sessionID, err)
	}
	if !applied {
		return nil
	}

	r.log.Warnw("tracking failed", "session_id", sessionID, "kind", kind, "error", message)
	r.notify(&model.SessionEvent{
		Type:      model.EventFailed,
		SessionID: sessionID,
		Status:    status,
		Error:     message,
		ErrorKind: kind,
	})
	return nil
}

// Apply 处理远程 worker 发来的事件
func (r *Recorder) Apply(ctx context.Context, ev *model.SessionEvent) error {
	switch ev.Type {
	case model.EventActive:
		return r.Active(ctx, ev.SessionID)
	case model.EventProgress:
		return r.Progress(ctx, ev.SessionID, ev.Progress)
	case model.EventRetrying:
		r.notify(ev)
		return nil
	case model.EventCompleted:
		if ev.Result == nil {
			return fmt.Errorf("completed event for session %s has no result", ev.SessionID)
		}
		return r.Completed(ctx, ev.SessionID, ev.Result)
	case model.EventFailed:
		return r.FailedWith(ctx, ev.SessionID, ev.Error, ev.ErrorKind)
	}
	return fmt.Errorf("unknown event type %q", ev.Type)
}

func (r *Recorder) notify(ev *model.SessionEvent) {
	if r.notifier == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	r.notifier.Notify(ev)
}
