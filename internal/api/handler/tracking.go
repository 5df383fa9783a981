package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/qs3c/visibility_server/internal/model/dto"
	"github.com/qs3c/visibility_server/internal/pkg/resilience"
	"github.com/qs3c/visibility_server/internal/pkg/response"
	"github.com/qs3c/visibility_server/internal/service"
)

type TrackingHandler struct {
	trackingService *service.TrackingService
	log             *zap.SugaredLogger
}

func NewTrackingHandler(trackingService *service.TrackingService, log *zap.SugaredLogger) *TrackingHandler {
	return &TrackingHandler{
		trackingService: trackingService,
		log:             log,
	}
}

// Start 发起追踪
// POST /api/v1/tracking
func (h *TrackingHandler) Start(c *gin.Context) {
	var req dto.StartTrackingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	resp, err := h.trackingService.Start(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, "start tracking", err)
		return
	}

	response.Accepted(c, resp)
}

// Get 获取会话状态和结果
// GET /api/v1/tracking/:id
func (h *TrackingHandler) Get(c *gin.Context) {
	detail, err := h.trackingService.GetResults(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			response.NotFoundError(c, err.Error())
			return
		}
		h.fail(c, "get tracking session", err)
		return
	}

	response.Success(c, detail)
}

// List 会话列表
// GET /api/v1/tracking?page=1&page_size=20&status=completed
func (h *TrackingHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	items, total, err := h.trackingService.ListSessions(c.Request.Context(), c.Query("status"), page, pageSize)
	if err != nil {
		h.fail(c, "list tracking sessions", err)
		return
	}

	response.SuccessPage(c, total, page, pageSize, items)
}

// Trends 品牌趋势
// GET /api/v1/tracking/trends?category=&brand=&days=30
func (h *TrackingHandler) Trends(c *gin.Context) {
	days, err := strconv.Atoi(c.DefaultQuery("days", "30"))
	if err != nil {
		response.ParamError(c, "days must be an integer")
		return
	}

	trend, err := h.trackingService.GetTrends(c.Request.Context(), c.Query("category"), c.Query("brand"), days)
	if err != nil {
		h.fail(c, "get trends", err)
		return
	}

	response.Success(c, trend)
}

// Health 执行模式、熔断器、队列和存储统计
// GET /api/v1/health
func (h *TrackingHandler) Health(c *gin.Context) {
	response.Success(c, h.trackingService.Health(c.Request.Context()))
}

func (h *TrackingHandler) fail(c *gin.Context, op string, err error) {
	if resilience.KindOf(err) != resilience.KindValidation {
		h.log.Errorw("request failed", "op", op, "error", err)
	}
	response.FromError(c, err)
}
