package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/qs3c/visibility_server/internal/pkg/response"
	"github.com/qs3c/visibility_server/internal/pkg/ws"
	"github.com/qs3c/visibility_server/internal/service"
)

const MessageSnapshot = "snapshot"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type WebSocketHandler struct {
	hub             *ws.Hub
	trackingService *service.TrackingService
	log             *zap.SugaredLogger
}

func NewWebSocketHandler(hub *ws.Hub, trackingService *service.TrackingService, log *zap.SugaredLogger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:             hub,
		trackingService: trackingService,
		log:             log,
	}
}

// Handle 订阅某个会话的进度，连接建立后先推送一次当前状态
// GET /api/v1/ws?session_id=xxx
func (h *WebSocketHandler) Handle(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		response.ParamError(c, "missing session_id")
		return
	}

	detail, err := h.trackingService.GetResults(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			response.NotFoundError(c, err.Error())
			return
		}
		response.ServerError(c, "")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warnw("failed to upgrade connection", "error", err)
		return
	}

	client := &ws.Client{
		SessionID: sessionID,
		Conn:      conn,
	}
	if err := client.Send(&ws.Message{Type: MessageSnapshot, Data: detail}); err != nil {
		h.log.Warnw("failed to send snapshot", "session_id", sessionID, "error", err)
	}
	h.hub.Register(client)

	// 保持连接，读取消息（主要用于检测断开）
	go func() {
		defer h.hub.Unregister(client)
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}
