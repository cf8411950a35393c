// Package tasks wires the periodic jobs into the scheduler.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/viperarr/viperarr/internal/config"
	"github.com/viperarr/viperarr/internal/deltasync"
	applog "github.com/viperarr/viperarr/internal/logger"
	"github.com/viperarr/viperarr/internal/orchestrator"
	"github.com/viperarr/viperarr/internal/scheduler"
)

// Job ids, stable across restarts for the status API.
const (
	IDAnalyzer        = "analyzer"
	IDQueue           = "queue-processor"
	IDCleanup         = "cleanup"
	IDVelocityMonitor = "velocity-monitor"
	IDRedownload      = "redownload-pass"
	IDWatchlist       = "watchlist-priority"
	IDDeltaSync       = "delta-sync"
	IDVelocityCleanup = "velocity-cleanup"
	IDLogCleanup      = "log-cleanup"
)

// RegisterAll registers every periodic job. A job whose schedule fails to
// parse is logged and skipped; the rest keep running.
func RegisterAll(s *scheduler.Scheduler, cfg config.SchedulerConfig,
	sync *deltasync.Service, orch *orchestrator.Orchestrator,
	logs *applog.Logger, logger zerolog.Logger) {

	log := logger.With().Str("component", "tasks").Logger()

	register := func(tc scheduler.TaskConfig) {
		if err := s.RegisterTask(tc); err != nil {
			log.Error().Err(err).Str("id", tc.ID).Msg("job not registered")
		}
	}

	// A skipped tick because another pass holds the lock is routine, not a
	// job failure.
	quiet := func(fn func(ctx context.Context) error) scheduler.TaskFunc {
		return func(ctx context.Context) error {
			err := fn(ctx)
			if errors.Is(err, orchestrator.ErrPassRunning) {
				return nil
			}
			return err
		}
	}

	register(scheduler.TaskConfig{
		ID:          IDAnalyzer,
		Name:        "Lifecycle analyzer",
		Description: "Evaluate every show and movie, delete what is safe, queue what is needed",
		Cron:        cfg.AnalyzerCron,
		Func: quiet(func(ctx context.Context) error {
			return orch.RunAnalyzer(ctx, false)
		}),
	})

	register(scheduler.TaskConfig{
		ID:          IDQueue,
		Name:        "Queue processor",
		Description: "Trigger downloader searches for queued redownloads",
		Cron:        cfg.QueueCron,
		Func:        quiet(orch.ProcessQueue),
	})

	register(scheduler.TaskConfig{
		ID:          IDCleanup,
		Name:        "Cleanup",
		Description: "Prune finished queue items and aged snapshots",
		Cron:        cfg.CleanupCron,
		Func:        quiet(orch.RunCleanup),
	})

	register(scheduler.TaskConfig{
		ID:          IDVelocityCleanup,
		Name:        "Velocity cleanup",
		Description: "Drop velocity rows for viewers idle past retention",
		Cron:        cfg.VelocityCleanupCron,
		Func: quiet(func(ctx context.Context) error {
			return orch.RunVelocityCleanup(ctx, false)
		}),
	})

	register(scheduler.TaskConfig{
		ID:          IDVelocityMonitor,
		Name:        "Velocity monitor",
		Description: "Detect viewers speeding up and react",
		Interval:    minutes(cfg.VelocityCheckMinutes, 120),
		Func:        orch.RunVelocityMonitor,
	})

	register(scheduler.TaskConfig{
		ID:          IDRedownload,
		Name:        "Redownload pass",
		Description: "Queue upcoming needs, emergency first",
		Interval:    minutes(cfg.RedownloadMinutes, 360),
		Func:        quiet(orch.RunRedownloadPass),
	})

	register(scheduler.TaskConfig{
		ID:          IDWatchlist,
		Name:        "Watchlist priority",
		Description: "Promote queued redownloads for watchlisted shows",
		Interval:    minutes(cfg.WatchlistMinutes, 1),
		Func:        orch.PromoteWatchlistItems,
	})

	if logs != nil {
		register(scheduler.TaskConfig{
			ID:          IDLogCleanup,
			Name:        "Log cleanup",
			Description: "Delete rotated log files older than retention",
			Cron:        cfg.CleanupCron,
			Func: func(ctx context.Context) error {
				removed, err := logs.PruneRotated()
				if err != nil {
					return err
				}
				if removed > 0 {
					log.Info().Int("removed", removed).Msg("pruned rotated log files")
				}
				return nil
			},
		})
	}

	register(deltaSyncConfig(cfg.DeltaSyncSeconds, sync))
}

// deltaSyncConfig picks the scheduling primitive for the sync cadence:
// sub-minute cadences need an interval timer, minute multiples map onto
// cron, anything else stays an interval.
func deltaSyncConfig(seconds int, sync *deltasync.Service) scheduler.TaskConfig {
	if seconds <= 0 {
		seconds = 60
	}

	tc := scheduler.TaskConfig{
		ID:          IDDeltaSync,
		Name:        "Delta sync",
		Description: "Pull library and watch-history changes from the media server",
		RunOnStart:  true,
		Func:        sync.Run,
	}
	if seconds >= 60 && seconds%60 == 0 {
		tc.Cron = fmt.Sprintf("*/%d * * * *", seconds/60)
	} else {
		tc.Interval = time.Duration(seconds) * time.Second
	}
	return tc
}

func minutes(n, fallback int) time.Duration {
	if n <= 0 {
		n = fallback
	}
	return time.Duration(n) * time.Minute
}
