package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const watchEventColumns = `id, user_id, rating_key, media_type, show_title,
	show_rating_key, season_number, episode_number, watched_at`

func scanWatchEvent(scanner interface{ Scan(...any) error }) (WatchEvent, error) {
	var ev WatchEvent
	err := scanner.Scan(&ev.ID, &ev.UserID, &ev.RatingKey, &ev.MediaType, &ev.ShowTitle,
		&ev.ShowRatingKey, &ev.SeasonNumber, &ev.EpisodeNumber, &ev.WatchedAt)
	return ev, err
}

// InsertWatchEvents appends watch events, ignoring duplicates, and returns
// the events that were actually new. Refetches inside the retrograde window
// carry events already on file; only the returned subset may feed derived
// state like velocity sample counts.
func (s *Store) InsertWatchEvents(ctx context.Context, events []WatchEvent) ([]WatchEvent, error) {
	if len(events) == 0 {
		return nil, nil
	}

	var inserted []WatchEvent
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO watch_events (user_id, rating_key, media_type, show_title,
				show_rating_key, season_number, episode_number, watched_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id, rating_key, media_type, watched_at) DO NOTHING`)
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		defer stmt.Close()

		for _, ev := range events {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			res, err := stmt.ExecContext(ctx, ev.UserID, ev.RatingKey, ev.MediaType,
				ev.ShowTitle, ev.ShowRatingKey, ev.SeasonNumber, ev.EpisodeNumber,
				ev.WatchedAt.UTC())
			if err != nil {
				return fmt.Errorf("insert event %s/%s: %w", ev.UserID, ev.RatingKey, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				inserted = append(inserted, ev)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

// ListWatchEventsForShow returns a user's episode events for one show, oldest first.
func (s *Store) ListWatchEventsForShow(ctx context.Context, userID, showRatingKey string) ([]WatchEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+watchEventColumns+` FROM watch_events
		 WHERE user_id = ? AND show_rating_key = ? AND media_type = ?
		 ORDER BY watched_at ASC`,
		userID, showRatingKey, MediaTypeEpisode)
	if err != nil {
		return nil, fmt.Errorf("list watch events: %w", err)
	}
	defer rows.Close()

	var events []WatchEvent
	for rows.Next() {
		ev, err := scanWatchEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// HasWatchEventsForShow reports whether any user has an event for the show.
func (s *Store) HasWatchEventsForShow(ctx context.Context, showRatingKey string) (bool, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM watch_events WHERE show_rating_key = ?`, showRatingKey).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count watch events: %w", err)
	}
	return n > 0, nil
}

// DeleteWatchEventsBefore prunes events older than the cutoff. Velocity rows
// already hold the aggregate, so aged raw events are safe to drop.
func (s *Store) DeleteWatchEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM watch_events WHERE watched_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune watch events: %w", err)
	}
	return res.RowsAffected()
}
