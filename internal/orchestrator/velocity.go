package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/viperarr/viperarr/internal/lifecycle"
	"github.com/viperarr/viperarr/internal/store"
)

// RunRedownloadPass re-evaluates every show for upcoming needs, queuing
// emergency items before proactive ones. It holds the pass lock because it
// writes verdicts alongside the queue.
func (o *Orchestrator) RunRedownloadPass(ctx context.Context) error {
	return o.withLock("redownload", func() error {
		summary := RedownloadSummary{Timestamp: o.now().UTC()}

		settings, err := o.analyzer.Settings(ctx)
		if err != nil {
			return fmt.Errorf("load settings: %w", err)
		}
		if !settings.Enabled || !settings.RedownloadEnabled {
			return nil
		}

		shows, err := o.store.ListLibraryItems(ctx, store.MediaTypeShow)
		if err != nil {
			return fmt.Errorf("list shows: %w", err)
		}

		type need struct {
			show     store.LibraryItem
			verdicts []lifecycle.Verdict
		}
		needs := make([]need, 0)
		for _, show := range shows {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			episodes, _, err := o.showEpisodes(ctx, show)
			if err != nil {
				o.logger.Warn().Err(err).Str("show", show.Title).Msg("skipping show in redownload pass")
				summary.Errors++
				continue
			}
			if len(episodes) == 0 {
				continue
			}
			verdicts, err := o.analyzer.AnalyzeShow(ctx, settings, show, episodes)
			if err != nil {
				o.logger.Warn().Err(err).Str("show", show.Title).Msg("analysis failed in redownload pass")
				summary.Errors++
				continue
			}
			needs = append(needs, need{show: show, verdicts: verdicts})
			o.pace(ctx)
		}

		// Emergency needs enter the queue first so the processor drains
		// them before anything proactive.
		for _, n := range needs {
			summary.Emergency += o.enqueueFiltered(ctx, settings, n.show, n.verdicts, true)
		}
		if settings.ProactiveRedownload {
			for _, n := range needs {
				summary.Proactive += o.enqueueFiltered(ctx, settings, n.show, n.verdicts, false)
			}
		}

		o.mu.Lock()
		o.lastRedownload = &summary
		o.mu.Unlock()

		if summary.Emergency+summary.Proactive > 0 {
			o.logger.Info().Int("emergency", summary.Emergency).
				Int("proactive", summary.Proactive).Msg("redownload pass queued items")
			o.broadcast("redownload:queued", summary)
		}
		return nil
	})
}

func (o *Orchestrator) enqueueFiltered(ctx context.Context, settings lifecycle.Settings,
	show store.LibraryItem, verdicts []lifecycle.Verdict, emergency bool) int {

	filtered := make([]lifecycle.Verdict, 0, len(verdicts))
	for _, v := range verdicts {
		if v.NeedsRedownload && v.NeedsEmergency(settings) == emergency {
			filtered = append(filtered, v)
		}
	}
	if len(filtered) == 0 {
		return 0
	}
	return o.enqueueFromVerdicts(ctx, settings, show, filtered)
}

// RunVelocityMonitor checks for viewers who sped up and reacts per the
// configured action: queue the show's upcoming needs, send an alert, or
// both. Runs outside the pass lock; it touches only snapshots and the queue.
func (o *Orchestrator) RunVelocityMonitor(ctx context.Context) error {
	summary := VelocityMonitorSummary{Timestamp: o.now().UTC()}

	settings, err := o.analyzer.Settings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if !settings.VelocityMonitoringEnabled {
		return nil
	}

	changes, err := o.analyzer.CheckVelocities(ctx, settings)
	if err != nil {
		return fmt.Errorf("check velocities: %w", err)
	}
	summary.ChangesDetected = len(changes)

	for _, change := range changes {
		if !change.Increased {
			continue
		}

		if settings.VelocityChangeAction == lifecycle.ActionAlert || settings.VelocityChangeAction == lifecycle.ActionBoth {
			o.broadcast("velocity:alert", change)
			summary.AlertsSent++
		}
		if settings.VelocityChangeAction == lifecycle.ActionRedownload || settings.VelocityChangeAction == lifecycle.ActionBoth {
			queued, err := o.queueShowNeeds(ctx, settings, change.ShowKey)
			if err != nil {
				o.logger.Warn().Err(err).Str("showKey", change.ShowKey).Msg("queueing after velocity change failed")
				continue
			}
			summary.RedownloadsQueued += queued
		}
	}

	o.mu.Lock()
	o.lastVelocityMonitor = &summary
	o.mu.Unlock()
	return nil
}

// queueShowNeeds re-analyzes one show and queues whatever it needs. Show
// keys derived from title hashes have no library row and are skipped.
func (o *Orchestrator) queueShowNeeds(ctx context.Context, settings lifecycle.Settings, showKey string) (int, error) {
	show, err := o.store.GetLibraryItem(ctx, showKey)
	if errors.Is(err, store.ErrNotFound) {
		o.logger.Debug().Str("showKey", showKey).Msg("no library row for show key, skipping")
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	episodes, _, err := o.showEpisodes(ctx, *show)
	if err != nil {
		return 0, err
	}
	verdicts, err := o.analyzer.AnalyzeShow(ctx, settings, *show, episodes)
	if err != nil {
		return 0, err
	}
	return o.enqueueFromVerdicts(ctx, settings, *show, verdicts), nil
}

// RunVelocityCleanup prunes velocity rows idle past the retention window and
// their snapshot history.
func (o *Orchestrator) RunVelocityCleanup(ctx context.Context, dryRun bool) error {
	return o.withLock("velocity-cleanup", func() error {
		now := o.now().UTC()
		cutoff := now.AddDate(0, 0, -velocityRetentionDays)
		summary := VelocityCleanupSummary{Timestamp: now, DryRun: dryRun}

		if dryRun {
			velocities, err := o.store.ListAllVelocities(ctx)
			if err != nil {
				return fmt.Errorf("list velocities: %w", err)
			}
			for _, v := range velocities {
				if v.LastWatchedAt != nil && v.LastWatchedAt.Before(cutoff) {
					summary.VelocitiesPruned++
				}
			}
		} else {
			pruned, err := o.store.DeleteVelocitiesInactiveSince(ctx, cutoff)
			if err != nil {
				return fmt.Errorf("prune velocities: %w", err)
			}
			summary.VelocitiesPruned = pruned

			snaps, err := o.store.DeleteSnapshotsBefore(ctx, cutoff)
			if err != nil {
				return fmt.Errorf("prune snapshots: %w", err)
			}
			summary.SnapshotsPruned = snaps
		}

		o.mu.Lock()
		o.lastVelocityCleanup = &summary
		o.mu.Unlock()

		o.logger.Info().Int64("velocities", summary.VelocitiesPruned).
			Int64("snapshots", summary.SnapshotsPruned).
			Bool("dryRun", dryRun).Msg("velocity cleanup completed")
		return nil
	})
}

// LastVelocityCleanup returns the last cleanup summary, if any.
func (o *Orchestrator) LastVelocityCleanup() *VelocityCleanupSummary {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lastVelocityCleanup
}
