// Package deltasync pulls library membership and per-user watch history from
// the media server on a fixed cadence, derives per-user-per-show viewing
// velocity, and keeps lifecycle records in step with what is actually on disk.
package deltasync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/viperarr/viperarr/internal/mediaserver"
	"github.com/viperarr/viperarr/internal/store"
	"github.com/viperarr/viperarr/internal/websocket"
)

const (
	// retrogradeWindow absorbs clock skew and out-of-order delivery when
	// advancing cursors. Events arriving more than this late are missed;
	// that bound is accepted.
	retrogradeWindow = 60 * time.Second

	// removalQuietInterval spaces out removal detection so transient
	// disappearances on the media server are not treated as deletions.
	removalQuietInterval = 5 * time.Minute

	// repairInterval spaces out the lifecycle-repair sub-pass.
	repairInterval = 5 * time.Minute

	// firstHistoryWindow bounds the initial watch-history fetch.
	firstHistoryWindow = 7 * 24 * time.Hour

	// historyFetchLimit caps events consumed in one tick.
	historyFetchLimit = 5000

	// pacingDelay sits between remote calls within a pass so the media
	// server is not hammered.
	pacingDelay = 100 * time.Millisecond

	maxConsecutiveErrors = 5
	errorBackoff         = 30 * time.Second
)

// SyncStatus holds the result of the last sync tick.
type SyncStatus struct {
	Running           bool      `json:"running"`
	LastRun           time.Time `json:"lastRun,omitempty"`
	ItemsAdded        int       `json:"itemsAdded"`
	ItemsUpdated      int       `json:"itemsUpdated"`
	ItemsRemoved      int       `json:"itemsRemoved"`
	EventsIngested    int       `json:"eventsIngested"`
	VelocitiesUpdated int       `json:"velocitiesUpdated"`
	UsersImported     int       `json:"usersImported"`
	ElapsedMs         int       `json:"elapsed"`
	ConsecutiveErrors int       `json:"consecutiveErrors"`
	Error             string    `json:"error,omitempty"`
}

// Service is the delta synchronizer. It serializes against itself with its
// own running flag; it never contends with the orchestrator's lock.
type Service struct {
	store  *store.Store
	media  mediaserver.Client
	hub    *websocket.Hub
	logger zerolog.Logger
	now    func() time.Time

	running atomic.Bool
	mu      sync.RWMutex
	status  SyncStatus

	consecutiveErrors int
	backoffUntil      time.Time
}

// NewService creates the synchronizer. hub may be nil.
func NewService(st *store.Store, media mediaserver.Client, hub *websocket.Hub, logger zerolog.Logger) *Service {
	return &Service{
		store:  st,
		media:  media,
		hub:    hub,
		logger: logger.With().Str("component", "deltasync").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// IsRunning reports whether a sync tick is in flight.
func (s *Service) IsRunning() bool { return s.running.Load() }

// LastStatus returns the last tick's result.
func (s *Service) LastStatus() SyncStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.status
	st.Running = s.running.Load()
	return st
}

// Run executes one sync tick: library, watch history, user import, then a
// periodic lifecycle repair. Overlapping ticks are skipped, and after too
// many consecutive failures ticks are suppressed for a back-off window.
func (s *Service) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Debug().Msg("sync already running, skipping tick")
		return nil
	}
	defer s.running.Store(false)

	start := s.now()

	s.mu.RLock()
	backoffUntil := s.backoffUntil
	s.mu.RUnlock()
	if start.Before(backoffUntil) {
		s.logger.Warn().Time("until", backoffUntil).Msg("sync backing off after repeated errors")
		return nil
	}

	cursors, err := s.store.GetSyncCursors(ctx)
	if err != nil {
		return s.failTick(start, err)
	}

	var status SyncStatus
	status.LastRun = start

	libResult, err := s.syncLibrary(ctx, &cursors)
	if err != nil {
		return s.failTick(start, err)
	}
	status.ItemsAdded = libResult.added
	status.ItemsUpdated = libResult.updated
	status.ItemsRemoved = libResult.removed

	events, velocities, err := s.syncWatchHistory(ctx, &cursors)
	if err != nil {
		return s.failTick(start, err)
	}
	status.EventsIngested = events
	status.VelocitiesUpdated = velocities

	users, err := s.syncUsers(ctx, &cursors)
	if err != nil {
		return s.failTick(start, err)
	}
	status.UsersImported = users

	if cursors.LastLifecycleRepair == nil || start.Sub(*cursors.LastLifecycleRepair) >= repairInterval {
		if err := s.repairLifecycle(ctx); err != nil {
			return s.failTick(start, err)
		}
		cursors.LastLifecycleRepair = &start
	}

	if err := s.store.SetSyncCursors(ctx, cursors); err != nil {
		return s.failTick(start, err)
	}

	status.ElapsedMs = int(s.now().Sub(start).Milliseconds())

	s.mu.Lock()
	s.consecutiveErrors = 0
	s.status = status
	s.mu.Unlock()

	s.broadcast("sync:completed", status)
	s.logger.Info().
		Int("added", status.ItemsAdded).
		Int("updated", status.ItemsUpdated).
		Int("removed", status.ItemsRemoved).
		Int("events", status.EventsIngested).
		Int("velocities", status.VelocitiesUpdated).
		Int("elapsedMs", status.ElapsedMs).
		Msg("delta sync completed")
	return nil
}

// ForceFullSync drops all cursors and runs a tick, re-pulling the entire
// library and the trailing history window.
func (s *Service) ForceFullSync(ctx context.Context) error {
	if err := s.store.ClearSyncCursors(ctx); err != nil {
		return err
	}
	s.logger.Info().Msg("cursors cleared, running full sync")
	return s.Run(ctx)
}

func (s *Service) failTick(start time.Time, err error) error {
	s.mu.Lock()
	s.consecutiveErrors++
	consecutive := s.consecutiveErrors
	if consecutive >= maxConsecutiveErrors {
		s.backoffUntil = s.now().Add(errorBackoff)
	}
	s.status = SyncStatus{
		LastRun:           start,
		ConsecutiveErrors: consecutive,
		Error:             err.Error(),
	}
	s.mu.Unlock()

	s.logger.Error().Err(err).Int("consecutiveErrors", consecutive).Msg("delta sync failed")
	s.broadcast("sync:failed", map[string]any{"error": err.Error()})
	return err
}

func (s *Service) broadcast(eventType string, payload any) {
	if s.hub == nil {
		return
	}
	if err := s.hub.Broadcast(eventType, payload); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("failed to broadcast sync event")
	}
}

// pace sleeps the pacing delay unless the context is done.
func (s *Service) pace(ctx context.Context) {
	select {
	case <-time.After(pacingDelay):
	case <-ctx.Done():
	}
}
