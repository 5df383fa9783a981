package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/qs3c/visibility_server/internal/model"
)

// TestSession 创建测试会话
func TestSession(t *testing.T, db *gorm.DB, opts ...func(*model.TrackingSession)) *model.TrackingSession {
	t.Helper()

	session := &model.TrackingSession{
		ID:            uuid.NewString(),
		Category:      fmt.Sprintf("project management %d", time.Now().UnixNano()%10000),
		Brands:        model.StringArray{"Asana", "Trello"},
		Competitors:   model.StringArray{"Jira"},
		Mode:          model.ModeNormal,
		Status:        model.SessionStatusQueued,
		ExecutionMode: model.ExecutionModeDirect,
	}

	for _, opt := range opts {
		opt(session)
	}

	if err := db.Create(session).Error; err != nil {
		t.Fatalf("Failed to create test session: %v", err)
	}

	return session
}

// WithStatus 设置状态
func WithStatus(status string) func(*model.TrackingSession) {
	return func(s *model.TrackingSession) {
		s.Status = status
	}
}

// WithProgress 设置进度
func WithProgress(progress int) func(*model.TrackingSession) {
	return func(s *model.TrackingSession) {
		s.Progress = progress
	}
}

// WithCategory 设置类别
func WithCategory(category string) func(*model.TrackingSession) {
	return func(s *model.TrackingSession) {
		s.Category = category
	}
}

// WithCreatedAt 设置创建时间
func WithCreatedAt(at time.Time) func(*model.TrackingSession) {
	return func(s *model.TrackingSession) {
		s.CreatedAt = at
	}
}

// TestHistory 创建一条历史记录
func TestHistory(t *testing.T, db *gorm.DB, category string, at time.Time, stats map[string]*model.BrandStats) *model.HistoricalEntry {
	t.Helper()

	brands := make(model.StringArray, 0, len(stats))
	for name := range stats {
		brands = append(brands, name)
	}

	entry := &model.HistoricalEntry{
		ID:         uuid.NewString(),
		SessionID:  uuid.NewString(),
		Timestamp:  at,
		Category:   category,
		Brands:     brands,
		BrandStats: stats,
	}

	if err := db.Create(entry).Error; err != nil {
		t.Fatalf("Failed to create test history: %v", err)
	}

	return entry
}

// SampleResults 五条固定的查询结果：Asana 全部出现，Trello 出现两次，Jira 未出现
func SampleResults() []model.QueryResult {
	results := make([]model.QueryResult, 0, 5)
	for i := 1; i <= 5; i++ {
		r := model.QueryResult{
			Prompt:   fmt.Sprintf("prompt %d", i),
			Response: fmt.Sprintf("response %d", i),
			Mentions: []model.Mention{{
				Entity:    "Asana",
				Count:     1,
				Contexts:  []string{fmt.Sprintf("Asana is great (%d)", i)},
				Citations: []string{"https://asana.com"},
			}},
		}
		if i <= 2 {
			r.Mentions = append(r.Mentions, model.Mention{
				Entity:    "Trello",
				Count:     2,
				Contexts:  []string{"Trello boards"},
				Citations: []string{"Documentation", "Official Website"},
				Position:  10,
			})
		}
		results = append(results, r)
	}
	return results
}
