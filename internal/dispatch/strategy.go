package dispatch

import (
	"context"

	"github.com/qs3c/visibility_server/internal/model"
	"github.com/qs3c/visibility_server/internal/pkg/queue"
)

// Strategy 执行策略。会话由 Adapter 创建后再交给策略执行
type Strategy interface {
	// Mode 返回 model.ExecutionModeQueued 或 model.ExecutionModeDirect
	Mode() string
	// Submit 开始执行会话，返回队列任务 ID（直接执行时为空）。
	// 远程策略收到的会话已持久化 QueueJobID
	Submit(ctx context.Context, session *model.TrackingSession) (string, error)
	// QueueStats 远程队列各状态数量，直接执行时返回 nil
	QueueStats(ctx context.Context) (*queue.Stats, error)
	Close() error
}
