package tracking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/visibility_server/internal/model"
	"github.com/qs3c/visibility_server/internal/pkg/logger"
	"github.com/qs3c/visibility_server/internal/pkg/resilience"
	"github.com/qs3c/visibility_server/internal/repository"
	"github.com/qs3c/visibility_server/internal/testutil"
)

type eventLog struct {
	mu     sync.Mutex
	events []*model.SessionEvent
}

func (e *eventLog) Notify(ev *model.SessionEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *eventLog) types() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.Type)
	}
	return out
}

type failingHistory struct{}

func (failingHistory) Append(context.Context, *model.HistoricalEntry) error {
	return errors.New("disk full")
}

func sampleResult(category string) *model.TrackingResult {
	return &model.TrackingResult{
		Category:    category,
		Brands:      []string{"Asana", "Trello"},
		Competitors: []string{"Jira"},
		Mode:        model.ModeNormal,
		Metrics:     Compute(testutil.SampleResults(), []string{"Asana", "Trello"}, []string{"Jira"}),
		CompletedAt: time.Now(),
	}
}

func TestRecorder_Lifecycle(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	sessions := repository.NewSessionRepository(db)
	history := repository.NewHistoryRepository(db, 0)
	events := &eventLog{}
	rec := NewRecorder(sessions, history, events, logger.Nop())
	ctx := context.Background()

	s := testutil.TestSession(t, db)

	require.NoError(t, rec.Active(ctx, s.ID))
	require.NoError(t, rec.Progress(ctx, s.ID, 30))
	require.NoError(t, rec.Progress(ctx, s.ID, 20))
	require.NoError(t, rec.Completed(ctx, s.ID, sampleResult(s.Category)))

	found, err := sessions.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusCompleted, found.Status)
	assert.Equal(t, 100, found.Progress)
	require.NotNil(t, found.Result)
	assert.Equal(t, 40.0, found.Result.Metrics.BrandStats["Trello"].VisibilityScore)
	assert.NotNil(t, found.StartedAt)

	count, err := history.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// 回退的进度不通知
	assert.Equal(t, []string{model.EventActive, model.EventProgress, model.EventCompleted}, events.types())

	// 终态后的写入被忽略
	require.NoError(t, rec.Failed(ctx, s.ID, errors.New("late failure")))
	require.NoError(t, rec.Completed(ctx, s.ID, sampleResult(s.Category)))
	found, _ = sessions.GetByID(ctx, s.ID)
	assert.Equal(t, model.SessionStatusCompleted, found.Status)
	assert.Empty(t, found.ErrorMessage)
	count, _ = history.Count(ctx)
	assert.Equal(t, int64(1), count)
	assert.Len(t, events.types(), 3)
}

func TestRecorder_Failed(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	sessions := repository.NewSessionRepository(db)
	rec := NewRecorder(sessions, nil, nil, logger.Nop())
	ctx := context.Background()

	s := testutil.TestSession(t, db, testutil.WithStatus(model.SessionStatusActive), testutil.WithProgress(46))
	cause := &resilience.RetryExhaustedError{Attempts: 3, LastErr: resilience.FromStatus(502, errors.New("bad gateway"))}

	require.NoError(t, rec.Failed(ctx, s.ID, cause))

	found, err := sessions.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusFailed, found.Status)
	assert.Equal(t, 46, found.Progress)
	assert.Equal(t, cause.Error(), found.ErrorMessage)
	assert.Equal(t, string(resilience.KindTransient), found.ErrorKind)
	assert.Nil(t, found.Result)
}

func TestRecorder_HistoryFailureNotFatal(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	sessions := repository.NewSessionRepository(db)
	rec := NewRecorder(sessions, failingHistory{}, nil, logger.Nop())
	ctx := context.Background()

	s := testutil.TestSession(t, db, testutil.WithStatus(model.SessionStatusActive))
	require.NoError(t, rec.Completed(ctx, s.ID, sampleResult(s.Category)))

	found, _ := sessions.GetByID(ctx, s.ID)
	assert.Equal(t, model.SessionStatusCompleted, found.Status)
}

func TestRecorder_Apply(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	sessions := repository.NewSessionRepository(db)
	events := &eventLog{}
	rec := NewRecorder(sessions, nil, events, logger.Nop())
	ctx := context.Background()

	s := testutil.TestSession(t, db)

	require.NoError(t, rec.Apply(ctx, &model.SessionEvent{Type: model.EventActive, SessionID: s.ID}))
	require.NoError(t, rec.Apply(ctx, &model.SessionEvent{Type: model.EventProgress, SessionID: s.ID, Progress: 55}))
	require.NoError(t, rec.Apply(ctx, &model.SessionEvent{Type: model.EventRetrying, SessionID: s.ID, Attempt: 1}))
	require.NoError(t, rec.Apply(ctx, &model.SessionEvent{Type: model.EventFailed, SessionID: s.ID, Error: "boom", ErrorKind: "permanent"}))

	assert.Error(t, rec.Apply(ctx, &model.SessionEvent{Type: model.EventCompleted, SessionID: s.ID}))
	assert.Error(t, rec.Apply(ctx, &model.SessionEvent{Type: "paused", SessionID: s.ID}))

	found, _ := sessions.GetByID(ctx, s.ID)
	assert.Equal(t, model.SessionStatusFailed, found.Status)
	assert.Equal(t, 55, found.Progress)
	assert.Equal(t, "permanent", found.ErrorKind)
	assert.Equal(t, []string{model.EventActive, model.EventProgress, model.EventRetrying, model.EventFailed}, events.types())
}
