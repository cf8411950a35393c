// Package orchestrator owns the periodic passes: the analyzer, the
// redownload queue, velocity monitoring, and the cleanup jobs. All mutating
// passes serialize behind a single lock; the delta synchronizer runs on its
// own flag and never blocks here.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/viperarr/viperarr/internal/lifecycle"
	"github.com/viperarr/viperarr/internal/mediaserver"
	"github.com/viperarr/viperarr/internal/radarr"
	"github.com/viperarr/viperarr/internal/sonarr"
	"github.com/viperarr/viperarr/internal/store"
	"github.com/viperarr/viperarr/internal/websocket"
)

// ErrPassRunning is returned when a pass is skipped because another mutating
// pass holds the lock.
var ErrPassRunning = errors.New("orchestrator: another pass is running")

const (
	// pacingDelay sits between remote calls within a pass.
	pacingDelay = 100 * time.Millisecond

	// queueBatchSize bounds how many queue items one processor tick handles.
	queueBatchSize = 20

	// velocityRetentionDays is how long idle velocity rows survive cleanup.
	velocityRetentionDays = 90

	// staleQueueRetention is how long finished queue items are kept.
	staleQueueRetention = 7 * 24 * time.Hour

	// watchEventRetentionDays bounds the raw watch event log; velocities
	// keep the aggregate.
	watchEventRetentionDays = 180
)

// TVDownloader is the slice of the TV downloader API the passes use.
type TVDownloader interface {
	SeriesByTvdbID(ctx context.Context, tvdbID int64) (*sonarr.Series, error)
	EpisodesBySeries(ctx context.Context, seriesID int64) ([]sonarr.Episode, error)
	MonitorEpisodes(ctx context.Context, episodeIDs []int64, monitored bool) error
	SearchEpisodes(ctx context.Context, episodeIDs []int64) error
	DeleteEpisodeFile(ctx context.Context, episodeFileID int64) error
}

// MovieDownloader is the slice of the movie downloader API the passes use.
type MovieDownloader interface {
	MovieByTmdbID(ctx context.Context, tmdbID int64) (*radarr.Movie, error)
	DeleteMovie(ctx context.Context, movieID int64, deleteFiles bool) error
	SearchMovie(ctx context.Context, movieID int64) error
}

// AnalyzerSummary is the last analyzer pass result.
type AnalyzerSummary struct {
	Timestamp         time.Time `json:"timestamp"`
	DryRun            bool      `json:"dryRun"`
	ShowsAnalyzed     int       `json:"showsAnalyzed"`
	EpisodesAnalyzed  int       `json:"episodesAnalyzed"`
	EpisodesDeleted   int       `json:"episodesDeleted"`
	MoviesAnalyzed    int       `json:"moviesAnalyzed"`
	MoviesDeleted     int       `json:"moviesDeleted"`
	RedownloadsQueued int       `json:"redownloadsQueued"`
	Errors            int       `json:"errors"`
	ElapsedMs         int64     `json:"elapsedMs"`
}

// QueueSummary is the last queue processor result.
type QueueSummary struct {
	Timestamp time.Time `json:"timestamp"`
	Processed int       `json:"processed"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
}

// RedownloadSummary is the last redownload pass result.
type RedownloadSummary struct {
	Timestamp time.Time `json:"timestamp"`
	Emergency int       `json:"emergency"`
	Proactive int       `json:"proactive"`
	Errors    int       `json:"errors"`
}

// VelocityMonitorSummary is the last velocity monitor result.
type VelocityMonitorSummary struct {
	Timestamp         time.Time `json:"timestamp"`
	ChangesDetected   int       `json:"changesDetected"`
	RedownloadsQueued int       `json:"redownloadsQueued"`
	AlertsSent        int       `json:"alertsSent"`
}

// VelocityCleanupSummary is the last velocity cleanup result.
type VelocityCleanupSummary struct {
	Timestamp        time.Time `json:"timestamp"`
	DryRun           bool      `json:"dryRun"`
	VelocitiesPruned int64     `json:"velocitiesPruned"`
	SnapshotsPruned  int64     `json:"snapshotsPruned"`
}

// Status is the orchestrator's state for the API.
type Status struct {
	IsRunning           bool                    `json:"isRunning"`
	QueuedNormal        int64                   `json:"queuedNormal"`
	QueuedEmergency     int64                   `json:"queuedEmergency"`
	LastAnalyzer        *AnalyzerSummary        `json:"lastAnalyzer,omitempty"`
	LastQueue           *QueueSummary           `json:"lastQueue,omitempty"`
	LastRedownload      *RedownloadSummary      `json:"lastRedownload,omitempty"`
	LastVelocityMonitor *VelocityMonitorSummary `json:"lastVelocityMonitor,omitempty"`
	LastVelocityCleanup *VelocityCleanupSummary `json:"lastVelocityCleanup,omitempty"`
}

// Orchestrator coordinates the periodic passes.
type Orchestrator struct {
	store    *store.Store
	analyzer *lifecycle.Analyzer
	media    mediaserver.Client
	tv       TVDownloader
	movies   MovieDownloader
	hub      *websocket.Hub
	logger   zerolog.Logger
	now      func() time.Time

	running atomic.Bool

	mu                  sync.RWMutex
	lastAnalyzer        *AnalyzerSummary
	lastQueue           *QueueSummary
	lastRedownload      *RedownloadSummary
	lastVelocityMonitor *VelocityMonitorSummary
	lastVelocityCleanup *VelocityCleanupSummary
}

// New creates the orchestrator. tv and movies may be nil when the respective
// downloader is not configured; the passes degrade to cache-only operation.
func New(st *store.Store, analyzer *lifecycle.Analyzer, media mediaserver.Client,
	tv TVDownloader, movies MovieDownloader, hub *websocket.Hub, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:    st,
		analyzer: analyzer,
		media:    media,
		tv:       tv,
		movies:   movies,
		hub:      hub,
		logger:   logger.With().Str("component", "orchestrator").Logger(),
		now:      time.Now,
	}
}

// SetClock overrides the time source for tests.
func (o *Orchestrator) SetClock(now func() time.Time) { o.now = now }

// IsRunning reports whether a mutating pass holds the lock.
func (o *Orchestrator) IsRunning() bool { return o.running.Load() }

// ResetLock force-clears the pass lock. Operational escape hatch for a pass
// that died without releasing.
func (o *Orchestrator) ResetLock() {
	if o.running.Swap(false) {
		o.logger.Warn().Msg("pass lock force-cleared")
	}
}

// withLock runs fn while holding the pass lock; the lock release is
// unconditional even when fn panics.
func (o *Orchestrator) withLock(name string, fn func() error) error {
	if !o.running.CompareAndSwap(false, true) {
		o.logger.Warn().Str("pass", name).Msg("another pass holds the lock, skipping")
		return ErrPassRunning
	}
	defer o.running.Store(false)
	return fn()
}

// Status snapshots the orchestrator state.
func (o *Orchestrator) Status(ctx context.Context) Status {
	o.mu.RLock()
	st := Status{
		IsRunning:           o.running.Load(),
		LastAnalyzer:        o.lastAnalyzer,
		LastQueue:           o.lastQueue,
		LastRedownload:      o.lastRedownload,
		LastVelocityMonitor: o.lastVelocityMonitor,
		LastVelocityCleanup: o.lastVelocityCleanup,
	}
	o.mu.RUnlock()

	normal, emergency, err := o.store.CountQueuedRedownloads(ctx)
	if err != nil {
		o.logger.Warn().Err(err).Msg("counting queue for status")
	}
	st.QueuedNormal = normal
	st.QueuedEmergency = emergency
	return st
}

func (o *Orchestrator) broadcast(eventType string, payload any) {
	if o.hub == nil {
		return
	}
	if err := o.hub.Broadcast(eventType, payload); err != nil {
		o.logger.Warn().Err(err).Str("event", eventType).Msg("broadcast failed")
	}
}

// pace inserts the inter-call delay, honoring cancellation.
func (o *Orchestrator) pace(ctx context.Context) {
	select {
	case <-time.After(pacingDelay):
	case <-ctx.Done():
	}
}
