package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/visibility_server/config"
	"github.com/qs3c/visibility_server/internal/dispatch"
	"github.com/qs3c/visibility_server/internal/model"
	"github.com/qs3c/visibility_server/internal/pkg/logger"
	"github.com/qs3c/visibility_server/internal/pkg/resilience"
	"github.com/qs3c/visibility_server/internal/pkg/response"
	"github.com/qs3c/visibility_server/internal/pkg/ws"
	"github.com/qs3c/visibility_server/internal/repository"
	"github.com/qs3c/visibility_server/internal/service"
	"github.com/qs3c/visibility_server/internal/testutil"
	"github.com/qs3c/visibility_server/internal/tracking"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type templatePrompts struct{}

func (templatePrompts) GeneratePrompts(_ context.Context, category string, count int) ([]string, error) {
	return tracking.FallbackPrompts(category, count), nil
}

type firstBrandQuery struct{}

func (firstBrandQuery) Ask(_ context.Context, req tracking.QueryRequest) (*model.QueryResult, error) {
	return &model.QueryResult{
		Prompt:   req.Prompt,
		Response: req.Entities[0],
		Mentions: []model.Mention{{Entity: req.Entities[0], Count: 1}},
	}, nil
}

type testEnv struct {
	db       *gorm.DB
	direct   *dispatch.DirectStrategy
	hub      *ws.Hub
	svc      *service.TrackingService
	tracking *TrackingHandler
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	log := logger.Nop()
	hub := ws.NewHub(log)
	sessions := repository.NewSessionRepository(db)
	history := repository.NewHistoryRepository(db, 0)
	recorder := tracking.NewRecorder(sessions, history, hub, log)

	breaker := resilience.NewCircuitBreaker(5, time.Minute)
	executor := resilience.NewExecutor(breaker, resilience.RetryOptions{MaxAttempts: 1})
	orch := tracking.NewOrchestrator(templatePrompts{}, firstBrandQuery{}, executor, tracking.Options{
		PromptCount:      3,
		ConcurrencyLimit: 1,
	}, log)

	direct := dispatch.NewDirectStrategy(orch, recorder, log)
	adapter := dispatch.NewAdapter(direct, sessions, recorder, breaker, &config.ValidationConfig{
		MaxBrands:         10,
		MaxCompetitors:    5,
		MinCategoryLength: 2,
		MaxCategoryLength: 100,
	}, log)
	svc := service.NewTrackingService(adapter, sessions, history, log)

	return &testEnv{
		db:       db,
		direct:   direct,
		hub:      hub,
		svc:      svc,
		tracking: NewTrackingHandler(svc, log),
	}
}

func (e *testEnv) router() *gin.Engine {
	router := gin.New()
	router.POST("/tracking", e.tracking.Start)
	router.GET("/tracking", e.tracking.List)
	router.GET("/tracking/trends", e.tracking.Trends)
	router.GET("/tracking/:id", e.tracking.Get)
	router.GET("/health", e.tracking.Health)
	return router
}

func doRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}) (*httptest.ResponseRecorder, response.Response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

func TestTrackingHandler_StartAndGet(t *testing.T) {
	env := setupEnv(t)
	router := env.router()

	w, resp := doRequest(t, router, "POST", "/tracking", map[string]interface{}{
		"category":    "note taking apps",
		"brands":      []string{"Notion", "Evernote"},
		"competitors": []string{"Obsidian"},
	})
	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Equal(t, response.CodeSuccess, resp.Code)

	data := resp.Data.(map[string]interface{})
	sessionID := data["session_id"].(string)
	assert.Equal(t, model.ExecutionModeDirect, data["execution_mode"])

	env.direct.Wait()

	_, resp = doRequest(t, router, "GET", "/tracking/"+sessionID, nil)
	require.Equal(t, response.CodeSuccess, resp.Code)
	detail := resp.Data.(map[string]interface{})
	assert.Equal(t, model.SessionStatusCompleted, detail["status"])
	assert.Equal(t, float64(100), detail["progress"])
	assert.NotNil(t, detail["result"])
}

func TestTrackingHandler_StartInvalid(t *testing.T) {
	env := setupEnv(t)
	router := env.router()

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing brands", map[string]interface{}{"category": "crm"}},
		{"bad mode", map[string]interface{}{"category": "crm", "brands": []string{"A"}, "mode": "stealth"}},
		{"category too short", map[string]interface{}{"category": "c", "brands": []string{"A"}}},
		{"too many competitors", map[string]interface{}{
			"category":    "crm",
			"brands":      []string{"A"},
			"competitors": []string{"B", "C", "D", "E", "F", "G"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp := doRequest(t, router, "POST", "/tracking", tt.body)
			assert.Equal(t, response.CodeParamError, resp.Code)
		})
	}
}

func TestTrackingHandler_GetNotFound(t *testing.T) {
	env := setupEnv(t)

	_, resp := doRequest(t, env.router(), "GET", "/tracking/does-not-exist", nil)

	assert.Equal(t, response.CodeResourceNotFound, resp.Code)
}

func TestTrackingHandler_List(t *testing.T) {
	env := setupEnv(t)
	for i := 0; i < 3; i++ {
		testutil.TestSession(t, env.db, testutil.WithCreatedAt(time.Now().Add(-time.Duration(i)*time.Minute)))
	}
	testutil.TestSession(t, env.db, testutil.WithStatus(model.SessionStatusCompleted))

	_, resp := doRequest(t, env.router(), "GET", "/tracking?page=1&page_size=2", nil)
	require.Equal(t, response.CodeSuccess, resp.Code)
	page := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(4), page["total"])
	assert.Len(t, page["items"], 2)

	_, resp = doRequest(t, env.router(), "GET", "/tracking?status="+model.SessionStatusCompleted, nil)
	page = resp.Data.(map[string]interface{})
	assert.Equal(t, float64(1), page["total"])

	_, resp = doRequest(t, env.router(), "GET", "/tracking?status=unknown", nil)
	assert.Equal(t, response.CodeParamError, resp.Code)
}

func TestTrackingHandler_Trends(t *testing.T) {
	env := setupEnv(t)
	for i := 3; i >= 1; i-- {
		testutil.TestHistory(t, env.db, "crm", time.Now().AddDate(0, 0, -i), map[string]*model.BrandStats{
			"HubSpot": {VisibilityScore: float64(100 - i*10)},
		})
	}

	_, resp := doRequest(t, env.router(), "GET", "/tracking/trends?category=crm&brand=HubSpot&days=7", nil)
	require.Equal(t, response.CodeSuccess, resp.Code)
	trend := resp.Data.(map[string]interface{})
	points := trend["points"].([]interface{})
	require.Len(t, points, 3)
	assert.Equal(t, float64(70), points[0].(map[string]interface{})["visibility_score"])

	_, resp = doRequest(t, env.router(), "GET", "/tracking/trends?category=crm&brand=HubSpot&days=abc", nil)
	assert.Equal(t, response.CodeParamError, resp.Code)

	_, resp = doRequest(t, env.router(), "GET", "/tracking/trends?category=crm", nil)
	assert.Equal(t, response.CodeParamError, resp.Code)
}

func TestTrackingHandler_Health(t *testing.T) {
	env := setupEnv(t)

	_, resp := doRequest(t, env.router(), "GET", "/health", nil)

	require.Equal(t, response.CodeSuccess, resp.Code)
	health := resp.Data.(map[string]interface{})
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, model.ExecutionModeDirect, health["execution_mode"])
	breaker := health["circuit_breaker"].(map[string]interface{})
	assert.Equal(t, string(resilience.StateClosed), breaker["state"])
	assert.NotNil(t, health["store"])
}

func TestTrackingHandler_ListPaging(t *testing.T) {
	env := setupEnv(t)
	for i := 0; i < 5; i++ {
		testutil.TestSession(t, env.db, testutil.WithCategory("category "+strconv.Itoa(i)))
	}

	_, resp := doRequest(t, env.router(), "GET", "/tracking?page=3&page_size=2", nil)
	page := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(3), page["page"])
	assert.Len(t, page["items"], 1)
}
