package orchestrator

import (
	"context"
	"fmt"

	"github.com/viperarr/viperarr/internal/sonarr"
	"github.com/viperarr/viperarr/internal/store"
)

// ProcessQueue works through open redownload queue items: re-monitor the
// episode in the TV downloader and trigger a search. Emergency items come
// first by queue ordering.
func (o *Orchestrator) ProcessQueue(ctx context.Context) error {
	return o.withLock("queue", func() error {
		summary := QueueSummary{Timestamp: o.now().UTC()}

		items, err := o.store.ListQueuedRedownloads(ctx, queueBatchSize)
		if err != nil {
			return fmt.Errorf("list queue: %w", err)
		}

		for _, item := range items {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			summary.Processed++

			if err := o.processQueueItem(ctx, item); err != nil {
				o.logger.Warn().Err(err).Str("show", item.ShowTitle).
					Int("season", item.SeasonNumber).Int("episode", item.EpisodeNumber).
					Msg("queue item failed")
				if serr := o.store.SetQueueItemStatus(ctx, item.ID, store.QueueStatusFailed); serr != nil {
					o.logger.Error().Err(serr).Str("id", item.ID).Msg("marking queue item failed")
				}
				summary.Failed++
				continue
			}
			if err := o.store.SetQueueItemStatus(ctx, item.ID, store.QueueStatusDone); err != nil {
				o.logger.Error().Err(err).Str("id", item.ID).Msg("marking queue item done")
			}
			summary.Succeeded++
			o.pace(ctx)
		}

		o.mu.Lock()
		o.lastQueue = &summary
		o.mu.Unlock()

		if summary.Processed > 0 {
			o.logger.Info().Int("processed", summary.Processed).
				Int("succeeded", summary.Succeeded).Int("failed", summary.Failed).
				Msg("queue pass completed")
			o.broadcast("queue:processed", summary)
		}
		return nil
	})
}

func (o *Orchestrator) processQueueItem(ctx context.Context, item store.QueueItem) error {
	if o.tv == nil {
		return fmt.Errorf("no TV downloader configured")
	}
	if err := o.store.SetQueueItemStatus(ctx, item.ID, store.QueueStatusProcessing); err != nil {
		return err
	}

	show, err := o.store.GetLibraryItem(ctx, item.ShowRatingKey)
	if err != nil {
		return fmt.Errorf("show lookup: %w", err)
	}
	if show.TvdbID == 0 {
		return fmt.Errorf("show %s has no tvdb id", show.Title)
	}

	series, err := o.tv.SeriesByTvdbID(ctx, show.TvdbID)
	if err != nil {
		return fmt.Errorf("series lookup: %w", err)
	}
	if series == nil {
		return fmt.Errorf("series not managed by downloader")
	}

	eps, err := o.tv.EpisodesBySeries(ctx, series.ID)
	if err != nil {
		return fmt.Errorf("episode listing: %w", err)
	}
	var target *sonarr.Episode
	for i := range eps {
		if eps[i].SeasonNumber == item.SeasonNumber && eps[i].EpisodeNumber == item.EpisodeNumber {
			target = &eps[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("episode s%de%d not known to downloader", item.SeasonNumber, item.EpisodeNumber)
	}
	if target.HasFile {
		// Already back on disk; nothing to search for.
		return nil
	}

	if err := o.tv.MonitorEpisodes(ctx, []int64{target.ID}, true); err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	if err := o.tv.SearchEpisodes(ctx, []int64{target.ID}); err != nil {
		return fmt.Errorf("search: %w", err)
	}

	o.logger.Info().Str("show", item.ShowTitle).
		Int("season", item.SeasonNumber).Int("episode", item.EpisodeNumber).
		Str("priority", string(item.Priority)).Msg("redownload triggered")
	return nil
}

// PromoteWatchlistItems raises queued redownloads to emergency priority when
// the show sits on an active watchlist. Runs frequently and without the pass
// lock; it only flips priorities.
func (o *Orchestrator) PromoteWatchlistItems(ctx context.Context) error {
	items, err := o.store.ListQueuedRedownloads(ctx, 200)
	if err != nil {
		return fmt.Errorf("list queue: %w", err)
	}

	for _, item := range items {
		if item.Priority != store.PriorityNormal {
			continue
		}
		show, err := o.store.GetLibraryItem(ctx, item.ShowRatingKey)
		if err != nil || show.TmdbID == 0 {
			continue
		}
		entries, err := o.store.ListActiveWatchlistForTmdb(ctx, show.TmdbID, store.MediaTypeShow)
		if err != nil {
			o.logger.Warn().Err(err).Str("show", item.ShowTitle).Msg("watchlist lookup failed")
			continue
		}
		if len(entries) == 0 {
			continue
		}
		if err := o.store.PromoteQueueItem(ctx, item.ID); err != nil {
			o.logger.Warn().Err(err).Str("id", item.ID).Msg("promote failed")
			continue
		}
		o.logger.Info().Str("show", item.ShowTitle).
			Int("season", item.SeasonNumber).Int("episode", item.EpisodeNumber).
			Msg("queue item promoted for watchlist")
	}
	return nil
}

// RunCleanup prunes finished queue items and aged velocity snapshots.
func (o *Orchestrator) RunCleanup(ctx context.Context) error {
	return o.withLock("cleanup", func() error {
		now := o.now().UTC()

		queueN, err := o.store.DeleteStaleQueueItems(ctx, now.Add(-staleQueueRetention))
		if err != nil {
			return fmt.Errorf("prune queue: %w", err)
		}
		snapN, err := o.store.DeleteSnapshotsBefore(ctx, now.AddDate(0, 0, -velocityRetentionDays))
		if err != nil {
			return fmt.Errorf("prune snapshots: %w", err)
		}
		eventN, err := o.store.DeleteWatchEventsBefore(ctx, now.AddDate(0, 0, -watchEventRetentionDays))
		if err != nil {
			return fmt.Errorf("prune watch events: %w", err)
		}

		o.logger.Info().Int64("queueItems", queueN).Int64("snapshots", snapN).
			Int64("watchEvents", eventN).Msg("cleanup completed")
		return nil
	})
}
