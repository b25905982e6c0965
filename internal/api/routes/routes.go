// Package routes defines the HTTP routes for the session service.
package routes

import (
	"github.com/gin-gonic/gin"
	swaggerfiles "github.com/swaggo/files"
	ginswagger "github.com/swaggo/gin-swagger"

	"github.com/leylinehq/session-service/internal/api/handlers"
	"github.com/leylinehq/session-service/internal/api/middleware"
)

// Config holds the dependencies for setting up routes.
type Config struct {
	HealthHandler   *handlers.HealthHandler
	RealmsHandler   *handlers.RealmsHandler
	SessionsHandler *handlers.SessionsHandler
	ConfigHandler   *handlers.ConfigHandler
}

// Setup configures all routes on the Gin engine.
func Setup(r *gin.Engine, cfg *Config) {
	// API v1 routes - all routes under /api/v1/session-service
	v1 := r.Group("/api/v1/session-service")
	{
		// Health check routes
		v1.GET("/health", cfg.HealthHandler.Health)
		v1.GET("/ready", cfg.HealthHandler.Ready)
		v1.GET("/live", cfg.HealthHandler.Live)

		// Service configuration document
		v1.GET("/config", cfg.ConfigHandler.GetConfig)
		v1.PUT("/config", cfg.ConfigHandler.UpdateConfig)

		// Realm management
		v1.POST("/realms", cfg.RealmsHandler.CreateRealm)
		v1.GET("/realms", cfg.RealmsHandler.ListRealms)

		realms := v1.Group("/realms/:realmId")
		{
			realms.GET("", cfg.RealmsHandler.GetRealm)
			realms.PUT("/security-contexts/:contextName", cfg.RealmsHandler.UpsertSecurityContext)

			// Session lifecycle
			realms.POST("/sessions", cfg.SessionsHandler.CreateSession)
			realms.GET("/sessions", cfg.SessionsHandler.ListSessions)
			realms.GET("/sessions/:sessionId", cfg.SessionsHandler.GetSession)
			realms.DELETE("/sessions/:sessionId", cfg.SessionsHandler.InvalidateSession)

			// Credential adjudication
			realms.POST("/access-attempts", cfg.SessionsHandler.RecordAccessAttempt)
		}
	}

	// Swagger documentation
	r.GET("/swagger/*any", ginswagger.WrapHandler(swaggerfiles.Handler))
}

// SetupWithMiddleware sets up routes with common middleware.
func SetupWithMiddleware(r *gin.Engine, cfg *Config, loggingMw *middleware.LoggingMiddleware, errorMw *middleware.ErrorMiddleware) {
	r.Use(loggingMw.RequestID())
	r.Use(loggingMw.Logger())
	r.Use(errorMw.Recovery())
	r.Use(gin.Recovery())

	r.NoRoute(middleware.NotFound())
	r.NoMethod(middleware.MethodNotAllowed())

	Setup(r, cfg)
}
