package api

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	apimw "github.com/viperarr/viperarr/internal/api/middleware"
)

func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.echo.Use(middleware.Recover())

	// Request ID
	s.echo.Use(middleware.RequestID())

	// Security headers
	s.echo.Use(apimw.SecurityHeaders())

	// Request body size limit (2MB)
	s.echo.Use(middleware.BodyLimit("2M"))

	// CORS - allow same-origin only (origin hostname must match request hostname)
	s.echo.Use(apimw.SameOriginCORS())

	// Request logging
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogMethod:   true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Err(v.Error).
					Msg("request error")
			} else {
				s.logger.Info().
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Msg("request")
			}
			return nil
		},
	}))

	// Block proxy probes (absolute URI requests like GET http://www.google.com/)
	s.echo.Use(apimw.ProxyRequestBlock())
}

// setupRoutes configures API routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)

	api := s.echo.Group("/api/v1")
	api.GET("/status", s.getStatus)

	lifecycle := api.Group("/lifecycle")
	lifecycle.POST("/run", s.runAnalyzer)
	lifecycle.POST("/lock/reset", s.resetLock)

	rules := api.Group("/rules")
	rules.GET("", s.listRules)
	rules.POST("/:id/run", s.runRule)
	rules.GET("/:id/preview", s.previewRule)

	sync := api.Group("/sync")
	sync.GET("/status", s.getSyncStatus)
	sync.POST("/full", s.forceFullSync)

	velocity := api.Group("/velocity-cleanup")
	velocity.GET("", s.getVelocityCleanup)
	velocity.POST("/run", s.runVelocityCleanup)

	tasks := api.Group("/tasks")
	tasks.GET("", s.listTasks)
	tasks.POST("/:id/run", s.runTask)

	if s.logs != nil {
		NewLogsHandlers(s.logs).RegisterRoutes(api.Group("/logs"))
	}
}
