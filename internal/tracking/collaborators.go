package tracking

import (
	"context"

	"github.com/qs3c/visibility_server/internal/model"
)

// PromptSource 生成查询提示词，失败时由编排器改用模板
type PromptSource interface {
	GeneratePrompts(ctx context.Context, category string, count int) ([]string, error)
}

// QueryRequest 一次外部查询的参数
type QueryRequest struct {
	Prompt      string
	Entities    []string // 品牌 + 竞品
	Competitors []string
	Mode        string
}

// ExternalQuery 外部生成服务，错误应通过 resilience 分类
type ExternalQuery interface {
	Ask(ctx context.Context, req QueryRequest) (*model.QueryResult, error)
}

// SessionStore 会话状态存储，重复的相同写入必须是幂等的。
// Update 返回 false 表示写入被忽略（会话已终结或进度回退）
type SessionStore interface {
	Create(ctx context.Context, session *model.TrackingSession) error
	GetByID(ctx context.Context, id string) (*model.TrackingSession, error)
	Update(ctx context.Context, id string, u model.SessionUpdate) (bool, error)
}

// HistoryStore 历史快照存储
type HistoryStore interface {
	Append(ctx context.Context, entry *model.HistoricalEntry) error
}

// ProgressSink 由编排器在阶段边界同步调用
type ProgressSink func(progress int)
