package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const velocityColumns = `user_id, show_key, show_title, current_position, current_season,
	current_episode, episodes_per_day, episodes_watched, last_watched_at, updated_at`

func scanVelocity(scanner interface{ Scan(...any) error }) (UserVelocity, error) {
	var (
		v           UserVelocity
		lastWatched sql.NullTime
	)
	err := scanner.Scan(&v.UserID, &v.ShowKey, &v.ShowTitle, &v.CurrentPosition,
		&v.CurrentSeason, &v.CurrentEpisode, &v.EpisodesPerDay, &v.EpisodesWatched,
		&lastWatched, &v.UpdatedAt)
	v.LastWatchedAt = timePtr(lastWatched)
	return v, err
}

// UpsertUserVelocity writes a velocity row with the monotonic merge: the stored
// position and last-watched time never go backwards, even when events arrive
// out of order or two ingestions race.
func (s *Store) UpsertUserVelocity(ctx context.Context, v UserVelocity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_velocity (user_id, show_key, show_title, current_position,
			current_season, current_episode, episodes_per_day, episodes_watched,
			last_watched_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, show_key) DO UPDATE SET
			show_title = CASE WHEN excluded.show_title != '' THEN excluded.show_title ELSE user_velocity.show_title END,
			current_position = MAX(user_velocity.current_position, excluded.current_position),
			current_season = CASE WHEN excluded.current_position >= user_velocity.current_position
				THEN excluded.current_season ELSE user_velocity.current_season END,
			current_episode = CASE WHEN excluded.current_position >= user_velocity.current_position
				THEN excluded.current_episode ELSE user_velocity.current_episode END,
			episodes_per_day = excluded.episodes_per_day,
			episodes_watched = MAX(user_velocity.episodes_watched, excluded.episodes_watched),
			last_watched_at = CASE
				WHEN user_velocity.last_watched_at IS NULL THEN excluded.last_watched_at
				WHEN excluded.last_watched_at IS NOT NULL AND excluded.last_watched_at > user_velocity.last_watched_at
					THEN excluded.last_watched_at
				ELSE user_velocity.last_watched_at END,
			updated_at = excluded.updated_at`,
		v.UserID, v.ShowKey, v.ShowTitle, v.CurrentPosition, v.CurrentSeason,
		v.CurrentEpisode, v.EpisodesPerDay, v.EpisodesWatched,
		nullTime(v.LastWatchedAt), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert velocity %s/%s: %w", v.UserID, v.ShowKey, err)
	}
	return nil
}

// GetUserVelocity returns one user's velocity row for a show.
func (s *Store) GetUserVelocity(ctx context.Context, userID, showKey string) (*UserVelocity, error) {
	v, err := scanVelocity(s.db.QueryRowContext(ctx,
		`SELECT `+velocityColumns+` FROM user_velocity WHERE user_id = ? AND show_key = ?`,
		userID, showKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("velocity %s/%s: %w", userID, showKey, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get velocity: %w", err)
	}
	return &v, nil
}

// ListVelocitiesForShow returns every user's velocity row for a show.
func (s *Store) ListVelocitiesForShow(ctx context.Context, showKey string) ([]UserVelocity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+velocityColumns+` FROM user_velocity WHERE show_key = ? ORDER BY user_id`,
		showKey)
	if err != nil {
		return nil, fmt.Errorf("list velocities: %w", err)
	}
	defer rows.Close()

	var out []UserVelocity
	for rows.Next() {
		v, err := scanVelocity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ListAllVelocities returns every velocity row.
func (s *Store) ListAllVelocities(ctx context.Context) ([]UserVelocity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+velocityColumns+` FROM user_velocity ORDER BY user_id, show_key`)
	if err != nil {
		return nil, fmt.Errorf("list velocities: %w", err)
	}
	defer rows.Close()

	var out []UserVelocity
	for rows.Next() {
		v, err := scanVelocity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// DeleteVelocitiesInactiveSince removes velocity rows whose last watch predates
// the cutoff. Returns the number of deleted rows.
func (s *Store) DeleteVelocitiesInactiveSince(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM user_velocity WHERE last_watched_at IS NOT NULL AND last_watched_at < ?`,
		cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete stale velocities: %w", err)
	}
	return res.RowsAffected()
}

// snapshotRetention bounds stored snapshots per (user, show).
const snapshotRetention = 50

// AppendVelocitySnapshot records a point-in-time velocity reading and prunes
// history beyond the retention bound.
func (s *Store) AppendVelocitySnapshot(ctx context.Context, snap VelocitySnapshot) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO velocity_snapshots (user_id, show_key, velocity, position, recorded_at)
			 VALUES (?, ?, ?, ?, ?)`,
			snap.UserID, snap.ShowKey, snap.Velocity, snap.Position, snap.RecordedAt.UTC())
		if err != nil {
			return fmt.Errorf("insert snapshot: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			DELETE FROM velocity_snapshots
			WHERE user_id = ? AND show_key = ? AND id NOT IN (
				SELECT id FROM velocity_snapshots
				WHERE user_id = ? AND show_key = ?
				ORDER BY recorded_at DESC, id DESC LIMIT ?)`,
			snap.UserID, snap.ShowKey, snap.UserID, snap.ShowKey, snapshotRetention)
		if err != nil {
			return fmt.Errorf("prune snapshots: %w", err)
		}
		return nil
	})
}

// ListRecentSnapshots returns up to limit snapshots for a (user, show), newest first.
func (s *Store) ListRecentSnapshots(ctx context.Context, userID, showKey string, limit int) ([]VelocitySnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, show_key, velocity, position, recorded_at
		 FROM velocity_snapshots WHERE user_id = ? AND show_key = ?
		 ORDER BY recorded_at DESC, id DESC LIMIT ?`,
		userID, showKey, limit)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []VelocitySnapshot
	for rows.Next() {
		var snap VelocitySnapshot
		if err := rows.Scan(&snap.ID, &snap.UserID, &snap.ShowKey, &snap.Velocity,
			&snap.Position, &snap.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// DeleteSnapshotsBefore prunes snapshots older than the cutoff across all pairs.
func (s *Store) DeleteSnapshotsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM velocity_snapshots WHERE recorded_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete old snapshots: %w", err)
	}
	return res.RowsAffected()
}
