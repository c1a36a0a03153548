package http

import (
	"github.com/EternisAI/silo-device/internal/api/http/handler"
	"github.com/EternisAI/silo-device/internal/api/http/middleware"
	"github.com/gin-gonic/gin"
)

type Services struct {
	Identity handler.IdentityStatus
	Hub      handler.HubStatus
	Version  string
}

func SetupRoute(engine *gin.Engine, srvs *Services, cfg Config) {
	engine.Use(middleware.RequestLogger())

	healthHandler := handler.NewHealthHandler(srvs.Hub)
	engine.GET("/health", healthHandler.Check)

	statusHandler := handler.NewStatusHandler(srvs.Identity, srvs.Hub, srvs.Version)
	engine.GET("/status", statusHandler.Status)

	if srvs.Hub != nil {
		// Method invocation always requires the API key.
		methodHandler := handler.NewMethodHandler(srvs.Hub)
		methods := engine.Group("/api/v1/methods", middleware.APIKeyAuth(cfg.APIKey))
		methods.GET("", methodHandler.List)
		methods.POST("/:name", methodHandler.Invoke)
	}
}
