package model

import "time"

// 会话事件类型
const (
	EventActive    = "active"
	EventProgress  = "progress"
	EventRetrying  = "retrying"
	EventCompleted = "completed"
	EventFailed    = "failed"
)

// SessionEvent 会话生命周期事件，worker 通过 Redis 发布，API 进程写入存储并推送给 WebSocket
type SessionEvent struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	JobID     string          `json:"job_id,omitempty"`
	Status    string          `json:"status,omitempty"`
	Step      string          `json:"step,omitempty"`
	Progress  int             `json:"progress"`
	Attempt   int             `json:"attempt,omitempty"`
	Message   string          `json:"message,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorKind string          `json:"error_kind,omitempty"`
	Result    *TrackingResult `json:"result,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}
