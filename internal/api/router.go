package api

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/visibility_server/config"
	"github.com/qs3c/visibility_server/internal/api/handler"
	"github.com/qs3c/visibility_server/internal/api/middleware"
)

type Router struct {
	trackingHandler  *handler.TrackingHandler
	websocketHandler *handler.WebSocketHandler
	cfg              *config.Config
}

func NewRouter(
	trackingHandler *handler.TrackingHandler,
	websocketHandler *handler.WebSocketHandler,
	cfg *config.Config,
) *Router {
	return &Router{
		trackingHandler:  trackingHandler,
		websocketHandler: websocketHandler,
		cfg:              cfg,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(r.cfg.CORS))

	api := engine.Group("/api/v1")
	{
		// WebSocket
		api.GET("/ws", r.websocketHandler.Handle)

		api.GET("/health", r.trackingHandler.Health)

		tracking := api.Group("/tracking")
		{
			tracking.POST("", r.trackingHandler.Start)
			tracking.GET("", r.trackingHandler.List)
			tracking.GET("/trends", r.trackingHandler.Trends)
			tracking.GET("/:id", r.trackingHandler.Get)
		}
	}

	return engine
}
