package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const episodeStatsColumns = `show_rating_key, season_number, episode_number,
	velocity_position, is_available, safe_to_delete, deletion_reason, users_beyond,
	users_approaching, last_analyzed_at, deleted_at, deleted_by_cleanup`

func scanEpisodeStats(scanner interface{ Scan(...any) error }) (EpisodeStats, error) {
	var (
		st                  EpisodeStats
		beyond, approaching string
		deletedAt           sql.NullTime
	)
	err := scanner.Scan(&st.ShowRatingKey, &st.SeasonNumber, &st.EpisodeNumber,
		&st.VelocityPosition, &st.IsAvailable, &st.SafeToDelete, &st.DeletionReason,
		&beyond, &approaching, &st.LastAnalyzedAt, &deletedAt, &st.DeletedByCleanup)
	if err != nil {
		return st, err
	}
	st.DeletedAt = timePtr(deletedAt)
	if err := json.Unmarshal([]byte(beyond), &st.UsersBeyond); err != nil {
		st.UsersBeyond = nil
	}
	if err := json.Unmarshal([]byte(approaching), &st.UsersApproaching); err != nil {
		st.UsersApproaching = nil
	}
	return st, nil
}

func marshalUsers(users []string) string {
	if users == nil {
		users = []string{}
	}
	b, err := json.Marshal(users)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// UpsertEpisodeStats writes analyzer verdicts for a batch of episodes.
// Deletion bookkeeping (deleted_at, deleted_by_cleanup) is preserved on update;
// it is only written through MarkEpisodeDeleted.
func (s *Store) UpsertEpisodeStats(ctx context.Context, stats []EpisodeStats) error {
	if len(stats) == 0 {
		return nil
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO episode_stats (show_rating_key, season_number, episode_number,
				velocity_position, is_available, safe_to_delete, deletion_reason,
				users_beyond, users_approaching, last_analyzed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(show_rating_key, season_number, episode_number) DO UPDATE SET
				velocity_position = excluded.velocity_position,
				is_available = excluded.is_available,
				safe_to_delete = excluded.safe_to_delete,
				deletion_reason = excluded.deletion_reason,
				users_beyond = excluded.users_beyond,
				users_approaching = excluded.users_approaching,
				last_analyzed_at = excluded.last_analyzed_at`)
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		defer stmt.Close()

		for _, st := range stats {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			_, err := stmt.ExecContext(ctx, st.ShowRatingKey, st.SeasonNumber,
				st.EpisodeNumber, st.VelocityPosition, st.IsAvailable, st.SafeToDelete,
				st.DeletionReason, marshalUsers(st.UsersBeyond),
				marshalUsers(st.UsersApproaching), st.LastAnalyzedAt.UTC())
			if err != nil {
				return fmt.Errorf("upsert stats %s s%de%d: %w",
					st.ShowRatingKey, st.SeasonNumber, st.EpisodeNumber, err)
			}
		}
		return nil
	})
}

// GetEpisodeStats returns the stored verdict for one episode.
func (s *Store) GetEpisodeStats(ctx context.Context, showRatingKey string, season, episode int) (*EpisodeStats, error) {
	st, err := scanEpisodeStats(s.db.QueryRowContext(ctx,
		`SELECT `+episodeStatsColumns+` FROM episode_stats
		 WHERE show_rating_key = ? AND season_number = ? AND episode_number = ?`,
		showRatingKey, season, episode))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("episode stats %s s%de%d: %w", showRatingKey, season, episode, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get episode stats: %w", err)
	}
	return &st, nil
}

// ListEpisodeStatsForShow returns stored verdicts for a show, in position order.
func (s *Store) ListEpisodeStatsForShow(ctx context.Context, showRatingKey string) ([]EpisodeStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+episodeStatsColumns+` FROM episode_stats
		 WHERE show_rating_key = ? ORDER BY season_number, episode_number`,
		showRatingKey)
	if err != nil {
		return nil, fmt.Errorf("list episode stats: %w", err)
	}
	defer rows.Close()

	var out []EpisodeStats
	for rows.Next() {
		st, err := scanEpisodeStats(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// MarkEpisodeDeleted stamps an episode's stats row after its file was removed.
// The row is retained for audit.
func (s *Store) MarkEpisodeDeleted(ctx context.Context, showRatingKey string, season, episode int, byCleanup bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE episode_stats
		SET is_available = 0, deleted_at = ?, deleted_by_cleanup = ?
		WHERE show_rating_key = ? AND season_number = ? AND episode_number = ?`,
		time.Now().UTC(), byCleanup, showRatingKey, season, episode)
	if err != nil {
		return fmt.Errorf("mark episode deleted: %w", err)
	}
	return nil
}
