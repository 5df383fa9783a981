package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// 会话状态
const (
	SessionStatusQueued    = "queued"
	SessionStatusActive    = "active"
	SessionStatusCompleted = "completed"
	SessionStatusFailed    = "failed"
)

// 查询模式
const (
	ModeNormal     = "normal"
	ModeCompetitor = "competitor"
)

// 执行方式
const (
	ExecutionModeQueued = "queued"
	ExecutionModeDirect = "direct"
)

// IsTerminalStatus 已完成或已失败的会话不再变更
func IsTerminalStatus(status string) bool {
	return status == SessionStatusCompleted || status == SessionStatusFailed
}

// StringArray 用于 JSON 数组字段
type StringArray []string

func (s StringArray) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	return json.Marshal(s)
}

func (s *StringArray) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*s = []string{}
		return nil
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	}
	return nil
}

// TrackingSession 一次品牌可见度追踪任务
type TrackingSession struct {
	ID            string          `gorm:"primaryKey;size:36" json:"id"`
	Category      string          `gorm:"size:100;not null;index" json:"category"`
	Brands        StringArray     `gorm:"type:json" json:"brands"`
	Competitors   StringArray     `gorm:"type:json" json:"competitors"`
	Mode          string          `gorm:"size:20;default:normal" json:"mode"`
	Status        string          `gorm:"size:20;default:queued;index" json:"status"` // queued, active, completed, failed
	Progress      int             `gorm:"default:0" json:"progress"`
	Result        *TrackingResult `gorm:"type:json;serializer:json" json:"result,omitempty"`
	ErrorMessage  string          `gorm:"type:text" json:"error_message,omitempty"`
	ErrorKind     string          `gorm:"size:20" json:"error_kind,omitempty"`
	ExecutionMode string          `gorm:"size:10" json:"execution_mode"` // queued, direct
	QueueJobID    string          `gorm:"size:36" json:"queue_job_id,omitempty"`
	CreatedAt     time.Time       `gorm:"index" json:"created_at"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (TrackingSession) TableName() string {
	return "tracking_sessions"
}

// Payload 会话对应的任务参数
func (s *TrackingSession) Payload() TrackingPayload {
	return TrackingPayload{
		Category:    s.Category,
		Brands:      []string(s.Brands),
		Competitors: []string(s.Competitors),
		Mode:        s.Mode,
	}
}

// SessionUpdate 会话的部分更新，nil 字段不写入
type SessionUpdate struct {
	Status       *string
	Progress     *int
	Result       *TrackingResult
	ErrorMessage *string
	ErrorKind    *string
	QueueJobID   *string
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// TrackingPayload 任务参数
type TrackingPayload struct {
	Category    string   `json:"category"`
	Brands      []string `json:"brands"`
	Competitors []string `json:"competitors"`
	Mode        string   `json:"mode"`
}

// Mention 一个实体在一次回答中的出现记录
type Mention struct {
	Entity    string   `json:"entity"`
	Count     int      `json:"count"`
	Contexts  []string `json:"contexts"`
	Citations []string `json:"citations"`
	Position  int      `json:"position"`
}

// QueryResult 一次外部查询的结果
type QueryResult struct {
	Prompt   string    `json:"prompt"`
	Response string    `json:"response"`
	Mentions []Mention `json:"mentions"`
}

type BrandStats struct {
	TotalMentions   int      `json:"total_mentions"`
	TotalPrompts    int      `json:"total_prompts"`
	MentionedIn     []string `json:"mentioned_in"`
	MissingIn       []string `json:"missing_in"`
	Contexts        []string `json:"contexts"`
	CitedPages      []string `json:"cited_pages"`
	CitationShare   float64  `json:"citation_share"`
	VisibilityScore float64  `json:"visibility_score"`
}

type MetricsSummary struct {
	TotalPrompts    int `json:"total_prompts"`
	TotalMentions   int `json:"total_mentions"`
	TrackedCount    int `json:"tracked_count"`
	CompetitorCount int `json:"competitor_count"`
}

// MetricsReport 聚合后的指标，Entities 保留实体顺序
type MetricsReport struct {
	Entities   []string               `json:"entities"`
	BrandStats map[string]*BrandStats `json:"brand_stats"`
	Summary    MetricsSummary         `json:"summary"`
}

// TrackingResult 任务完成后的结果
type TrackingResult struct {
	Category      string         `json:"category"`
	Brands        []string       `json:"brands"`
	Competitors   []string       `json:"competitors"`
	Mode          string         `json:"mode"`
	Metrics       *MetricsReport `json:"metrics"`
	PromptResults []QueryResult  `json:"prompt_results"`
	CompletedAt   time.Time      `json:"completed_at"`
}
