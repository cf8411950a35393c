package deltasync

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/viperarr/viperarr/internal/mediaserver"
	"github.com/viperarr/viperarr/internal/position"
	"github.com/viperarr/viperarr/internal/store"
)

// syncWatchHistory ingests watch events since the cursor (minus the
// retrograde window) and recomputes per-user-per-show velocity from the
// episode events in the batch.
func (s *Service) syncWatchHistory(ctx context.Context, cursors *store.SyncCursors) (ingested, velocities int, err error) {
	start := s.now()

	since := start.Add(-firstHistoryWindow)
	if cursors.LastWatchHistorySync != nil {
		since = cursors.LastWatchHistorySync.Add(-retrogradeWindow)
	}

	history, err := s.media.WatchHistory(ctx, since, historyFetchLimit)
	if err != nil {
		return 0, 0, fmt.Errorf("fetching watch history: %w", err)
	}

	events := make([]store.WatchEvent, 0, len(history))
	for _, h := range history {
		ev, err := s.toWatchEvent(h)
		if err != nil {
			// One malformed event never aborts the batch.
			s.logger.Warn().Err(err).
				Str("title", h.Title).
				Str("ratingKey", h.RatingKey).
				Msg("skipping malformed watch event")
			continue
		}
		events = append(events, ev)
	}

	// Velocity bookkeeping must only see events that are new: the retrograde
	// window refetches events already ingested on the previous tick, and
	// counting those again would inflate EpisodesWatched past
	// minVelocitySamples with a bogus measured rate.
	inserted, err := s.store.InsertWatchEvents(ctx, events)
	if err != nil {
		return 0, 0, err
	}
	ingested = len(inserted)

	velocities, err = s.updateVelocities(ctx, inserted)
	if err != nil {
		return ingested, 0, err
	}

	cursors.LastWatchHistorySync = &start
	return ingested, velocities, nil
}

func (s *Service) toWatchEvent(h mediaserver.HistoryEvent) (store.WatchEvent, error) {
	ev := store.WatchEvent{
		UserID:        h.AccountID,
		RatingKey:     h.RatingKey,
		MediaType:     store.MediaType(h.Type),
		ShowTitle:     h.GrandparentTitle,
		ShowRatingKey: h.GrandparentRatingKey,
		SeasonNumber:  h.SeasonNumber,
		EpisodeNumber: h.EpisodeNumber,
		WatchedAt:     h.ViewedAt.UTC(),
	}
	if ev.UserID == "" || ev.RatingKey == "" {
		return ev, errors.New("event missing account or rating key")
	}
	if h.Type == mediaserver.ItemTypeEpisode {
		if _, err := position.Encode(h.SeasonNumber, h.EpisodeNumber); err != nil {
			return ev, err
		}
	}
	return ev, nil
}

type velocityGroup struct {
	userID    string
	showKey   string
	showTitle string
	events    []store.WatchEvent
}

// updateVelocities groups the batch's episode events per (user, show) and
// upserts the derived position and rate. The store's monotonic merge keeps
// positions from regressing when events arrive out of order.
func (s *Service) updateVelocities(ctx context.Context, events []store.WatchEvent) (int, error) {
	groups := make(map[string]*velocityGroup)
	for _, ev := range events {
		if ev.MediaType != store.MediaTypeEpisode {
			continue
		}
		showKey := s.resolveShowKey(ev.ShowRatingKey, ev.ShowTitle)
		key := ev.UserID + "\x00" + showKey
		g, ok := groups[key]
		if !ok {
			g = &velocityGroup{userID: ev.UserID, showKey: showKey, showTitle: ev.ShowTitle}
			groups[key] = g
		}
		g.events = append(g.events, ev)
	}

	updated := 0
	for _, g := range groups {
		sort.Slice(g.events, func(i, j int) bool {
			return g.events[i].WatchedAt.Before(g.events[j].WatchedAt)
		})
		latest := g.events[len(g.events)-1]

		pos, err := position.Encode(latest.SeasonNumber, latest.EpisodeNumber)
		if err != nil {
			s.logger.Warn().Err(err).Str("show", g.showTitle).Msg("skipping velocity update")
			continue
		}

		velocity, haveVelocity := groupVelocity(g.events)
		episodesWatched := len(g.events)

		prev, err := s.store.GetUserVelocity(ctx, g.userID, g.showKey)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return updated, err
		}
		if prev != nil {
			episodesWatched += prev.EpisodesWatched
			if !haveVelocity {
				velocity = prev.EpisodesPerDay
			}
		}

		lastWatched := latest.WatchedAt
		if err := s.store.UpsertUserVelocity(ctx, store.UserVelocity{
			UserID:          g.userID,
			ShowKey:         g.showKey,
			ShowTitle:       g.showTitle,
			CurrentPosition: pos,
			CurrentSeason:   latest.SeasonNumber,
			CurrentEpisode:  latest.EpisodeNumber,
			EpisodesPerDay:  velocity,
			EpisodesWatched: episodesWatched,
			LastWatchedAt:   &lastWatched,
		}); err != nil {
			return updated, err
		}
		updated++
	}

	return updated, nil
}

// groupVelocity derives episodes/day from a sorted event group. It needs at
// least two events with a positive time span; otherwise the caller keeps the
// stored rate.
func groupVelocity(events []store.WatchEvent) (float64, bool) {
	if len(events) < 2 {
		return 0, false
	}
	span := events[len(events)-1].WatchedAt.Sub(events[0].WatchedAt)
	if span <= 0 {
		return 0, false
	}
	return float64(len(events)) / (span.Hours() / 24), true
}
