package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/visibility_server/internal/pkg/resilience"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func parseResponse(t *testing.T, w *httptest.ResponseRecorder) Response {
	var resp Response
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	return resp
}

func serve(handler gin.HandlerFunc) *httptest.ResponseRecorder {
	router := gin.New()
	router.GET("/test", handler)

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSuccess(t *testing.T) {
	w := serve(func(c *gin.Context) {
		Success(c, gin.H{"key": "value"})
	})

	assert.Equal(t, http.StatusOK, w.Code)

	resp := parseResponse(t, w)
	assert.Equal(t, CodeSuccess, resp.Code)
	assert.Equal(t, "success", resp.Message)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "value", data["key"])
}

func TestAccepted(t *testing.T) {
	w := serve(func(c *gin.Context) {
		Accepted(c, gin.H{"session_id": "abc"})
	})

	assert.Equal(t, http.StatusAccepted, w.Code)
	resp := parseResponse(t, w)
	assert.Equal(t, CodeSuccess, resp.Code)
	assert.Equal(t, "accepted", resp.Message)
}

func TestSuccessPage(t *testing.T) {
	w := serve(func(c *gin.Context) {
		SuccessPage(c, 42, 2, 10, []string{"a", "b"})
	})

	resp := parseResponse(t, w)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(42), data["total"])
	assert.Equal(t, float64(2), data["page"])
	assert.Equal(t, float64(10), data["page_size"])
	assert.Len(t, data["items"], 2)
}

func TestError(t *testing.T) {
	tests := []struct {
		name        string
		call        func(c *gin.Context)
		wantCode    int
		wantMessage string
	}{
		{"custom message", func(c *gin.Context) { Error(c, CodeServerError, "boom") }, CodeServerError, "boom"},
		{"default message", func(c *gin.Context) { Error(c, CodeServerError, "") }, CodeServerError, "internal server error"},
		{"unknown code", func(c *gin.Context) { Error(c, 9999, "") }, 9999, ""},
		{"param error", func(c *gin.Context) { ParamError(c, "") }, CodeParamError, "invalid parameters"},
		{"not found", func(c *gin.Context) { NotFoundError(c, "session not found") }, CodeResourceNotFound, "session not found"},
		{"server error", func(c *gin.Context) { ServerError(c, "") }, CodeServerError, "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(tt.call)

			assert.Equal(t, http.StatusOK, w.Code)
			resp := parseResponse(t, w)
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.Equal(t, tt.wantMessage, resp.Message)
			assert.Nil(t, resp.Data)
		})
	}
}

func TestFromError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"validation", resilience.Validation("category is required"), CodeParamError},
		{"circuit open", resilience.ErrCircuitOpen, CodeServiceUnavailable},
		{"unclassified", errors.New("db down"), CodeServerError},
		{"transient", resilience.Transient(errors.New("reset")), CodeServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(func(c *gin.Context) { FromError(c, tt.err) })

			resp := parseResponse(t, w)
			assert.Equal(t, tt.wantCode, resp.Code)
		})
	}
}
