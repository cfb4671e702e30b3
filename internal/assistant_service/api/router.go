package api

import (
	"sre_assistant/internal/config"
	"sre_assistant/pkg/ratelimiter"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all routes of the diagnostics service.
func RegisterRoutes(router *gin.Engine, a *API, cfg *config.AppConfig) {
	router.GET("/healthz", a.HealthzHandler)
	router.GET("/readyz", a.ReadyzHandler)

	// All diagnostic routes live under /api/v1.
	v1 := router.Group("/api/v1")
	v1.Use(AuthMiddleware(cfg.Auth.JwtSecret))

	diagnostics := v1.Group("/diagnostics")
	if cfg.Middleware.RateLimiter.Enabled {
		limiter := ratelimiter.NewTokenBucket(cfg.Middleware.RateLimiter.Rate, cfg.Middleware.RateLimiter.Capacity)
		diagnostics.Use(RateLimitMiddleware(limiter))
	}
	{
		diagnostics.POST("/deployment", a.DiagnoseDeploymentHandler)
		diagnostics.POST("/alerts", a.AnalyzeAlertsHandler)
		diagnostics.POST("/capacity", a.AnalyzeCapacityHandler)
		diagnostics.GET("/:session_id/status", a.GetStatusHandler)
	}

	v1.POST("/execute", a.ExecuteHandler)
}
