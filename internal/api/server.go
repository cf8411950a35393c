// Package api exposes the HTTP control surface: status, manual runs,
// lock reset, sync controls, task listing, and logs.
package api

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/viperarr/viperarr/internal/config"
	"github.com/viperarr/viperarr/internal/deltasync"
	"github.com/viperarr/viperarr/internal/orchestrator"
	"github.com/viperarr/viperarr/internal/scheduler"
	"github.com/viperarr/viperarr/internal/store"
	"github.com/viperarr/viperarr/internal/websocket"
)

// Server hosts the HTTP API.
type Server struct {
	echo   *echo.Echo
	cfg    *config.Config
	logger zerolog.Logger

	store *store.Store
	sync  *deltasync.Service
	orch  *orchestrator.Orchestrator
	sched *scheduler.Scheduler
	hub   *websocket.Hub
	logs  LogsProvider
}

// Deps carries the services the API surfaces. Logs and Hub may be nil.
type Deps struct {
	Config *config.Config
	Store  *store.Store
	Sync   *deltasync.Service
	Orch   *orchestrator.Orchestrator
	Sched  *scheduler.Scheduler
	Hub    *websocket.Hub
	Logs   LogsProvider
}

// NewServer creates the API server and wires middleware and routes.
func NewServer(deps Deps, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:   e,
		cfg:    deps.Config,
		logger: logger.With().Str("component", "api").Logger(),
		store:  deps.Store,
		sync:   deps.Sync,
		orch:   deps.Orch,
		sched:  deps.Sched,
		hub:    deps.Hub,
		logs:   deps.Logs,
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Start begins listening for HTTP requests.
func (s *Server) Start(address string) error {
	s.logger.Info().Str("address", address).Msg("starting HTTP server")
	return s.echo.Start(address)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Echo exposes the underlying echo instance for extra route registration.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
