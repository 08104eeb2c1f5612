package http

import (
	"net/http"

	"github.com/EternisAI/silo-tunnel/internal/api/http/handler"
	"github.com/EternisAI/silo-tunnel/internal/api/http/middleware"
	"github.com/gin-gonic/gin"
)

type Services struct {
	Tunnels handler.TunnelController
	Setup   handler.SetupRunner
	Events  handler.StatusSource
	Metrics http.Handler
}

func SetupRoute(engine *gin.Engine, cfg Config, srvs *Services) {
	engine.Use(middleware.RequestLogger())

	healthHandler := handler.NewHealthHandler(srvs.Tunnels)
	engine.GET("/health", healthHandler.Check)

	if srvs.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(srvs.Metrics))
	}

	api := engine.Group("/api/v1")
	api.Use(middleware.APIKeyAuth(cfg.AdminAPIKey))

	if srvs.Setup != nil {
		setupHandler := handler.NewSetupHandler(srvs.Setup)
		api.POST("/servers/setup", setupHandler.Setup)
	}

	if srvs.Tunnels != nil {
		tunnelHandler := handler.NewTunnelHandler(srvs.Tunnels)
		api.GET("/tunnels", tunnelHandler.List)
		api.GET("/tunnels/active", tunnelHandler.Active)
		api.GET("/tunnels/:ip/status", tunnelHandler.Status)
		api.POST("/tunnels/:ip/start", tunnelHandler.Start)
		api.POST("/tunnels/stop", tunnelHandler.Stop)
		api.POST("/tunnels/quick-connect", tunnelHandler.QuickConnect)
	}

	if srvs.Events != nil {
		eventsHandler := handler.NewEventsHandler(srvs.Events)
		api.GET("/events", eventsHandler.Stream)
	}
}
