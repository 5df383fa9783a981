package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/visibility_server/internal/dispatch"
	"github.com/qs3c/visibility_server/internal/model"
	"github.com/qs3c/visibility_server/internal/model/dto"
	"github.com/qs3c/visibility_server/internal/pkg/resilience"
	"github.com/qs3c/visibility_server/internal/repository"
)

var ErrSessionNotFound = errors.New("tracking session not found")

const (
	defaultTrendDays = 30
	maxTrendDays     = 365
	maxPageSize      = 100
)

type TrackingService struct {
	adapter  *dispatch.Adapter
	sessions *repository.SessionRepository
	history  *repository.HistoryRepository
	log      *zap.SugaredLogger
}

func NewTrackingService(
	adapter *dispatch.Adapter,
	sessions *repository.SessionRepository,
	history *repository.HistoryRepository,
	log *zap.SugaredLogger,
) *TrackingService {
	return &TrackingService{
		adapter:  adapter,
		sessions: sessions,
		history:  history,
		log:      log,
	}
}

// Start 发起追踪
func (s *TrackingService) Start(ctx context.Context, req *dto.StartTrackingRequest) (*dto.StartTrackingResponse, error) {
	session, err := s.adapter.Submit(ctx, model.TrackingPayload{
		Category:    req.Category,
		Brands:      req.Brands,
		Competitors: req.Competitors,
		Mode:        req.Mode,
	})
	if err != nil {
		return nil, err
	}

	return &dto.StartTrackingResponse{
		SessionID:     session.ID,
		Status:        session.Status,
		ExecutionMode: session.ExecutionMode,
		QueueJobID:    session.QueueJobID,
	}, nil
}

// GetResults 获取会话状态和结果
func (s *TrackingService) GetResults(ctx context.Context, sessionID string) (*dto.SessionDetail, error) {
	session, err := s.adapter.GetStatus(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	detail := &dto.SessionDetail{
		SessionListItem: buildListItem(session),
		ErrorMessage:    session.ErrorMessage,
		ErrorKind:       session.ErrorKind,
		QueueJobID:      session.QueueJobID,
		Result:          session.Result,
	}
	if session.StartedAt != nil {
		detail.StartedAt = session.StartedAt.Format(time.RFC3339)
		end := time.Now()
		if session.CompletedAt != nil {
			end = *session.CompletedAt
		}
		detail.ElapsedSeconds = int(end.Sub(*session.StartedAt).Seconds())
	}
	return detail, nil
}

// ListSessions 会话列表，最新的在前
func (s *TrackingService) ListSessions(ctx context.Context, status string, page, pageSize int) ([]*dto.SessionListItem, int64, error) {
	if status != "" && !validStatus(status) {
		return nil, 0, resilience.Validation("unknown status %q", status)
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > maxPageSize {
		pageSize = 20
	}

	sessions, total, err := s.sessions.List(ctx, status, page, pageSize)
	if err != nil {
		return nil, 0, err
	}

	items := make([]*dto.SessionListItem, len(sessions))
	for i, session := range sessions {
		item := buildListItem(session)
		items[i] = &item
	}
	return items, total, nil
}

// GetTrends 某品牌在某类别下最近 days 天的指标变化
func (s *TrackingService) GetTrends(ctx context.Context, category, brand string, days int) (*dto.TrendResponse, error) {
	if category == "" || brand == "" {
		return nil, resilience.Validation("category and brand are required")
	}
	if days <= 0 {
		days = defaultTrendDays
	}
	if days > maxTrendDays {
		days = maxTrendDays
	}

	since := time.Now().AddDate(0, 0, -days)
	entries, err := s.history.ListByCategory(ctx, category, since)
	if err != nil {
		return nil, err
	}

	points := make([]model.TrendPoint, 0, len(entries))
	for _, e := range entries {
		stats, ok := e.BrandStats[brand]
		if !ok || stats == nil {
			continue
		}
		points = append(points, model.TrendPoint{
			Date:            e.Timestamp,
			VisibilityScore: stats.VisibilityScore,
			CitationShare:   stats.CitationShare,
			TotalMentions:   stats.TotalMentions,
		})
	}

	return &dto.TrendResponse{
		Category: category,
		Brand:    brand,
		Days:     days,
		Points:   points,
	}, nil
}

// Health 执行模式、熔断器、队列和存储统计
func (s *TrackingService) Health(ctx context.Context) *dto.HealthResponse {
	diag := s.adapter.Diagnostics(ctx)
	resp := &dto.HealthResponse{
		Status:         "ok",
		Timestamp:      time.Now().Format(time.RFC3339),
		ExecutionMode:  diag.Mode,
		CircuitBreaker: diag.Breaker,
		Queue:          diag.Queue,
	}
	if diag.Breaker.State != "" && diag.Breaker.State != resilience.StateClosed {
		resp.Status = "degraded"
	}

	counts, err := s.sessions.CountByStatus(ctx)
	if err != nil {
		s.log.Warnw("failed to count sessions", "error", err)
		return resp
	}
	entries, err := s.history.Count(ctx)
	if err != nil {
		s.log.Warnw("failed to count history entries", "error", err)
		return resp
	}
	resp.Store = &dto.StoreStats{Sessions: counts, HistoryEntries: entries}
	return resp
}

func buildListItem(s *model.TrackingSession) dto.SessionListItem {
	item := dto.SessionListItem{
		ID:            s.ID,
		Category:      s.Category,
		Brands:        s.Brands,
		Competitors:   s.Competitors,
		Mode:          s.Mode,
		Status:        s.Status,
		Progress:      s.Progress,
		ExecutionMode: s.ExecutionMode,
		CreatedAt:     s.CreatedAt.Format(time.RFC3339),
	}
	if item.Brands == nil {
		item.Brands = []string{}
	}
	if item.Competitors == nil {
		item.Competitors = []string{}
	}
	if s.CompletedAt != nil {
		item.CompletedAt = s.CompletedAt.Format(time.RFC3339)
	}
	return item
}

func validStatus(status string) bool {
	switch status {
	case model.SessionStatusQueued, model.SessionStatusActive, model.SessionStatusCompleted, model.SessionStatusFailed:
		return true
	}
	return false
}
