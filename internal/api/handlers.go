package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/viperarr/viperarr/internal/deltasync"
	"github.com/viperarr/viperarr/internal/orchestrator"
)

const manualRunTimeout = 30 * time.Minute

func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// statusResponse is the combined engine status.
type statusResponse struct {
	Orchestrator orchestrator.Status `json:"orchestrator"`
	Sync         syncStatusResponse  `json:"sync"`
}

type syncStatusResponse struct {
	IsRunning bool                 `json:"isRunning"`
	Last      deltasync.SyncStatus `json:"last"`
}

func (s *Server) getStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, statusResponse{
		Orchestrator: s.orch.Status(c.Request().Context()),
		Sync: syncStatusResponse{
			IsRunning: s.sync.IsRunning(),
			Last:      s.sync.LastStatus(),
		},
	})
}

// runAnalyzer triggers a full analyzer pass in the background. A pass
// already holding the lock yields 409.
func (s *Server) runAnalyzer(c echo.Context) error {
	dryRun := c.QueryParam("dryRun") == "true"

	if s.orch.IsRunning() {
		return echo.NewHTTPError(http.StatusConflict, "a pass is already running")
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), manualRunTimeout)
		defer cancel()
		if err := s.orch.RunAnalyzer(ctx, dryRun); err != nil && !errors.Is(err, orchestrator.ErrPassRunning) {
			s.logger.Error().Err(err).Bool("dryRun", dryRun).Msg("manual analyzer run failed")
		}
	}()

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"started": true,
		"dryRun":  dryRun,
	})
}

func (s *Server) listRules(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string][]string{"rules": orchestrator.Rules()})
}

// runRule triggers one rule (the episode or movie pass) in the background.
func (s *Server) runRule(c echo.Context) error {
	id := c.Param("id")
	dryRun := c.QueryParam("dryRun") == "true"

	if err := validRule(id); err != nil {
		return err
	}
	if s.orch.IsRunning() {
		return echo.NewHTTPError(http.StatusConflict, "a pass is already running")
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), manualRunTimeout)
		defer cancel()
		if err := s.orch.RunRule(ctx, id, dryRun); err != nil && !errors.Is(err, orchestrator.ErrPassRunning) {
			s.logger.Error().Err(err).Str("rule", id).Bool("dryRun", dryRun).Msg("manual rule run failed")
		}
	}()

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"rule":    id,
		"started": true,
		"dryRun":  dryRun,
	})
}

// previewRule reports what a rule would do without acting on anything.
func (s *Server) previewRule(c echo.Context) error {
	preview, err := s.orch.PreviewRule(c.Request().Context(), c.Param("id"))
	if errors.Is(err, orchestrator.ErrUnknownRule) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, preview)
}

func validRule(id string) error {
	for _, r := range orchestrator.Rules() {
		if r == id {
			return nil
		}
	}
	return echo.NewHTTPError(http.StatusNotFound, "unknown rule: "+id)
}

// resetLock force-clears the pass lock after a crashed pass.
func (s *Server) resetLock(c echo.Context) error {
	s.orch.ResetLock()
	return c.JSON(http.StatusOK, map[string]string{"status": "lock reset"})
}

func (s *Server) getSyncStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, syncStatusResponse{
		IsRunning: s.sync.IsRunning(),
		Last:      s.sync.LastStatus(),
	})
}

// forceFullSync schedules a full resynchronization in the background.
func (s *Server) forceFullSync(c echo.Context) error {
	if s.sync.IsRunning() {
		return echo.NewHTTPError(http.StatusConflict, "a sync is already running")
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), manualRunTimeout)
		defer cancel()
		if err := s.sync.ForceFullSync(ctx); err != nil {
			s.logger.Error().Err(err).Msg("forced full sync failed")
		}
	}()

	return c.JSON(http.StatusAccepted, map[string]bool{"started": true})
}

func (s *Server) getVelocityCleanup(c echo.Context) error {
	last := s.orch.LastVelocityCleanup()
	if last == nil {
		return c.JSON(http.StatusOK, map[string]interface{}{"hasRun": false})
	}
	return c.JSON(http.StatusOK, last)
}

// runVelocityCleanup runs the velocity retention pass synchronously; it
// only touches the database and finishes quickly.
func (s *Server) runVelocityCleanup(c echo.Context) error {
	dryRun := c.QueryParam("dryRun") == "true"

	err := s.orch.RunVelocityCleanup(c.Request().Context(), dryRun)
	if errors.Is(err, orchestrator.ErrPassRunning) {
		return echo.NewHTTPError(http.StatusConflict, "a pass is already running")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, s.orch.LastVelocityCleanup())
}

func (s *Server) listTasks(c echo.Context) error {
	return c.JSON(http.StatusOK, s.sched.ListTasks())
}

func (s *Server) runTask(c echo.Context) error {
	id := c.Param("id")
	if err := s.sched.RunNow(id); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{"task": id, "status": "triggered"})
}
