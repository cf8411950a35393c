package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/viperarr/viperarr/internal/lifecycle"
	"github.com/viperarr/viperarr/internal/mediaserver"
	"github.com/viperarr/viperarr/internal/sonarr"
	"github.com/viperarr/viperarr/internal/store"
)

// RunAnalyzer executes the main lifecycle pass: every cached show's episodes
// get a verdict, deletions are carried out (unless dryRun), and needed
// redownloads are queued. The movie pass runs at the end.
func (o *Orchestrator) RunAnalyzer(ctx context.Context, dryRun bool) error {
	return o.withLock("analyzer", func() error {
		start := o.now()
		summary := AnalyzerSummary{Timestamp: start.UTC(), DryRun: dryRun}

		settings, err := o.analyzer.Settings(ctx)
		if err != nil {
			return fmt.Errorf("load settings: %w", err)
		}
		if !settings.Enabled {
			o.logger.Info().Msg("analyzer disabled, skipping pass")
			return nil
		}

		shows, err := o.store.ListLibraryItems(ctx, store.MediaTypeShow)
		if err != nil {
			return fmt.Errorf("list shows: %w", err)
		}

		for _, show := range shows {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := o.analyzeOneShow(ctx, settings, show, dryRun, &summary); err != nil {
				o.logger.Warn().Err(err).Str("show", show.Title).Msg("show analysis failed, continuing")
				summary.Errors++
			}
			summary.ShowsAnalyzed++
			o.pace(ctx)
		}

		if err := o.moviePass(ctx, settings, dryRun, &summary); err != nil {
			o.logger.Warn().Err(err).Msg("movie pass failed")
			summary.Errors++
		}

		summary.ElapsedMs = time.Since(start).Milliseconds()
		o.mu.Lock()
		o.lastAnalyzer = &summary
		o.mu.Unlock()

		o.logger.Info().
			Int("shows", summary.ShowsAnalyzed).
			Int("episodesDeleted", summary.EpisodesDeleted).
			Int("moviesDeleted", summary.MoviesDeleted).
			Int("redownloadsQueued", summary.RedownloadsQueued).
			Int("errors", summary.Errors).
			Bool("dryRun", dryRun).
			Int64("elapsedMs", summary.ElapsedMs).
			Msg("analyzer pass completed")
		o.broadcast("analyzer:completed", summary)
		return nil
	})
}

func (o *Orchestrator) analyzeOneShow(ctx context.Context, settings lifecycle.Settings,
	show store.LibraryItem, dryRun bool, summary *AnalyzerSummary) error {

	episodes, sonarrIndex, err := o.showEpisodes(ctx, show)
	if err != nil {
		return err
	}
	if len(episodes) == 0 {
		return nil
	}

	verdicts, err := o.analyzer.AnalyzeShow(ctx, settings, show, episodes)
	if err != nil {
		return err
	}
	summary.EpisodesAnalyzed += len(verdicts)

	for _, v := range verdicts {
		if v.SafeToDelete {
			if dryRun {
				o.logger.Info().Str("show", show.Title).
					Int("season", v.Season).Int("episode", v.Number).
					Str("reason", v.Reason).Msg("would delete episode")
				continue
			}
			if err := o.deleteEpisode(ctx, show, v, sonarrIndex); err != nil {
				o.logger.Warn().Err(err).Str("show", show.Title).
					Int("season", v.Season).Int("episode", v.Number).
					Msg("episode deletion failed")
				summary.Errors++
				continue
			}
			summary.EpisodesDeleted++
			o.pace(ctx)
		}
	}

	summary.RedownloadsQueued += o.enqueueFromVerdicts(ctx, settings, show, verdicts)
	return nil
}

// showEpisodes merges the media server's view (availability, view counts)
// with the TV downloader's episode list, which also covers episodes whose
// files are gone. The returned index maps position keys to downloader
// episodes for the delete and monitor calls.
func (o *Orchestrator) showEpisodes(ctx context.Context, show store.LibraryItem) ([]lifecycle.Episode, map[int]sonarr.Episode, error) {
	present, err := o.media.Children(ctx, show.RatingKey)
	if err != nil {
		return nil, nil, fmt.Errorf("list episodes for %s: %w", show.RatingKey, err)
	}

	byPos := make(map[int]lifecycle.Episode, len(present))
	for _, item := range present {
		if item.Type != mediaserver.ItemTypeEpisode {
			continue
		}
		ep := lifecycle.Episode{
			RatingKey:    item.RatingKey,
			Season:       item.SeasonNumber,
			Number:       item.EpisodeNumber,
			IsAvailable:  true,
			ViewCount:    item.ViewCount,
			LastViewedAt: item.LastViewedAt,
		}
		byPos[posKey(ep.Season, ep.Number)] = ep
	}

	sonarrIndex := make(map[int]sonarr.Episode)
	if o.tv != nil && show.TvdbID > 0 {
		series, err := o.tv.SeriesByTvdbID(ctx, show.TvdbID)
		if err != nil {
			o.logger.Warn().Err(err).Str("show", show.Title).Msg("downloader lookup failed, using cache only")
		} else if series != nil {
			eps, err := o.tv.EpisodesBySeries(ctx, series.ID)
			if err != nil {
				o.logger.Warn().Err(err).Str("show", show.Title).Msg("episode listing failed, using cache only")
			}
			for _, ep := range eps {
				key := posKey(ep.SeasonNumber, ep.EpisodeNumber)
				sonarrIndex[key] = ep
				if _, ok := byPos[key]; !ok {
					byPos[key] = lifecycle.Episode{
						Season:      ep.SeasonNumber,
						Number:      ep.EpisodeNumber,
						IsAvailable: ep.HasFile,
					}
				}
			}
		}
	}

	episodes := make([]lifecycle.Episode, 0, len(byPos))
	for _, ep := range byPos {
		episodes = append(episodes, ep)
	}
	return episodes, sonarrIndex, nil
}

// deleteEpisode removes the file through the downloader, the item from the
// media server, and stamps the stats row. A missing media-server item counts
// as success; the goal state is already reached.
func (o *Orchestrator) deleteEpisode(ctx context.Context, show store.LibraryItem,
	v lifecycle.Verdict, sonarrIndex map[int]sonarr.Episode) error {

	if o.tv != nil {
		if ep, ok := sonarrIndex[posKey(v.Season, v.Number)]; ok {
			if err := o.tv.MonitorEpisodes(ctx, []int64{ep.ID}, false); err != nil {
				return fmt.Errorf("unmonitor: %w", err)
			}
			if ep.EpisodeFileID > 0 {
				if err := o.tv.DeleteEpisodeFile(ctx, ep.EpisodeFileID); err != nil {
					return fmt.Errorf("delete episode file: %w", err)
				}
			}
		}
	}

	if v.RatingKey != "" {
		if err := o.media.DeleteItem(ctx, v.RatingKey); err != nil && !errors.Is(err, mediaserver.ErrItemNotFound) {
			return fmt.Errorf("delete media item: %w", err)
		}
	}

	if err := o.store.MarkEpisodeDeleted(ctx, show.RatingKey, v.Season, v.Number, true); err != nil {
		return err
	}

	o.logger.Info().Str("show", show.Title).
		Int("season", v.Season).Int("episode", v.Number).
		Str("reason", v.Reason).Msg("episode deleted")
	return nil
}

// enqueueFromVerdicts queues the redownloads a verdict set calls for,
// emergency needs first. Returns how many items were newly queued.
func (o *Orchestrator) enqueueFromVerdicts(ctx context.Context, settings lifecycle.Settings,
	show store.LibraryItem, verdicts []lifecycle.Verdict) int {

	if !settings.RedownloadEnabled {
		return 0
	}

	queued := 0
	for _, v := range verdicts {
		if !v.NeedsRedownload {
			continue
		}
		priority := store.PriorityNormal
		if v.NeedsEmergency(settings) {
			priority = store.PriorityEmergency
		} else if !settings.ProactiveRedownload {
			continue
		}

		neededBy := v.RedownloadBy
		added, err := o.store.EnqueueRedownload(ctx, store.QueueItem{
			ID:            uuid.NewString(),
			ShowRatingKey: show.RatingKey,
			ShowTitle:     show.Title,
			SeasonNumber:  v.Season,
			EpisodeNumber: v.Number,
			Priority:      priority,
			Reason:        v.Reason,
			NeededBy:      &neededBy,
		})
		if err != nil {
			o.logger.Warn().Err(err).Str("show", show.Title).
				Int("season", v.Season).Int("episode", v.Number).
				Msg("enqueue failed")
			continue
		}
		if added {
			queued++
		}
	}
	return queued
}

// moviePass evaluates cached movies and cascades deletions to the movie
// downloader with file removal.
func (o *Orchestrator) moviePass(ctx context.Context, settings lifecycle.Settings,
	dryRun bool, summary *AnalyzerSummary) error {

	movies, err := o.store.ListLibraryItems(ctx, store.MediaTypeMovie)
	if err != nil {
		return fmt.Errorf("list movies: %w", err)
	}

	for _, movie := range movies {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		summary.MoviesAnalyzed++

		verdict := o.analyzer.AnalyzeMovie(ctx, settings, movie)
		if !verdict.SafeToDelete {
			continue
		}
		if dryRun {
			o.logger.Info().Str("movie", movie.Title).Str("reason", verdict.Reason).Msg("would delete movie")
			continue
		}
		if err := o.deleteMovie(ctx, movie, verdict); err != nil {
			o.logger.Warn().Err(err).Str("movie", movie.Title).Msg("movie deletion failed")
			summary.Errors++
			continue
		}
		summary.MoviesDeleted++
		o.pace(ctx)
	}
	return nil
}

func (o *Orchestrator) deleteMovie(ctx context.Context, movie store.LibraryItem, verdict lifecycle.MovieVerdict) error {
	if o.movies != nil && movie.TmdbID > 0 {
		m, err := o.movies.MovieByTmdbID(ctx, movie.TmdbID)
		if err != nil {
			return fmt.Errorf("downloader lookup: %w", err)
		}
		if m != nil {
			if err := o.movies.DeleteMovie(ctx, m.ID, true); err != nil {
				return fmt.Errorf("delete from downloader: %w", err)
			}
		}
	}

	if err := o.media.DeleteItem(ctx, movie.RatingKey); err != nil && !errors.Is(err, mediaserver.ErrItemNotFound) {
		return fmt.Errorf("delete media item: %w", err)
	}

	if err := o.store.MarkLifecycleDeleted(ctx, movie.RatingKey); err != nil {
		return err
	}

	o.logger.Info().Str("movie", movie.Title).Str("reason", verdict.Reason).Msg("movie deleted")
	return nil
}

func posKey(season, number int) int {
	return season*1000 + number
}
