package dto

import (
	"github.com/qs3c/visibility_server/internal/model"
	"github.com/qs3c/visibility_server/internal/pkg/queue"
	"github.com/qs3c/visibility_server/internal/pkg/resilience"
)

// StartTrackingRequest 发起追踪请求
type StartTrackingRequest struct {
	Category    string   `json:"category" binding:"required"`
	Brands      []string `json:"brands" binding:"required,min=1"`
	Competitors []string `json:"competitors,omitempty"`
	Mode        string   `json:"mode,omitempty" binding:"omitempty,oneof=normal competitor"`
}

// StartTrackingResponse 发起追踪响应
type StartTrackingResponse struct {
	SessionID     string `json:"session_id"`
	Status        string `json:"status"`
	ExecutionMode string `json:"execution_mode"`
	QueueJobID    string `json:"queue_job_id,omitempty"`
}

// SessionListItem 会话列表项
type SessionListItem struct {
	ID            string   `json:"id"`
	Category      string   `json:"category"`
	Brands        []string `json:"brands"`
	Competitors   []string `json:"competitors"`
	Mode          string   `json:"mode"`
	Status        string   `json:"status"`
	Progress      int      `json:"progress"`
	ExecutionMode string   `json:"execution_mode"`
	CreatedAt     string   `json:"created_at"`
	CompletedAt   string   `json:"completed_at,omitempty"`
}

// SessionDetail 会话详情，完成后包含结果
type SessionDetail struct {
	SessionListItem
	ErrorMessage   string                `json:"error_message,omitempty"`
	ErrorKind      string                `json:"error_kind,omitempty"`
	QueueJobID     string                `json:"queue_job_id,omitempty"`
	StartedAt      string                `json:"started_at,omitempty"`
	ElapsedSeconds int                   `json:"elapsed_seconds,omitempty"`
	Result         *model.TrackingResult `json:"result,omitempty"`
}

// TrendResponse 品牌趋势
type TrendResponse struct {
	Category string             `json:"category"`
	Brand    string             `json:"brand"`
	Days     int                `json:"days"`
	Points   []model.TrendPoint `json:"points"`
}

// StoreStats 存储统计
type StoreStats struct {
	Sessions       map[string]int64 `json:"sessions"`
	HistoryEntries int64            `json:"history_entries"`
}

// HealthResponse 健康检查
type HealthResponse struct {
	Status         string              `json:"status"`
	Timestamp      string              `json:"timestamp"`
	ExecutionMode  string              `json:"execution_mode"`
	CircuitBreaker resilience.Snapshot `json:"circuit_breaker"`
	Queue          *queue.Stats        `json:"queue,omitempty"`
	Store          *StoreStats         `json:"store,omitempty"`
}
