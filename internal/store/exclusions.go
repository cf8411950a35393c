package store

import (
	"context"
	"fmt"
	"time"
)

// AddProtectionExclusion marks a (tmdbId, mediaType) pair as never deletable.
func (s *Store) AddProtectionExclusion(ctx context.Context, tmdbID int64, mediaType MediaType) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO protection_exclusions (tmdb_id, media_type, kind, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(tmdb_id, media_type, kind) DO NOTHING`,
		tmdbID, mediaType, KindManualProtection, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("add exclusion %d/%s: %w", tmdbID, mediaType, err)
	}
	return nil
}

// RemoveProtectionExclusion lifts a manual protection.
func (s *Store) RemoveProtectionExclusion(ctx context.Context, tmdbID int64, mediaType MediaType) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM protection_exclusions WHERE tmdb_id = ? AND media_type = ? AND kind = ?`,
		tmdbID, mediaType, KindManualProtection)
	if err != nil {
		return fmt.Errorf("remove exclusion %d/%s: %w", tmdbID, mediaType, err)
	}
	return nil
}

// HasProtectionExclusion reports whether a manual protection exists.
func (s *Store) HasProtectionExclusion(ctx context.Context, tmdbID int64, mediaType MediaType) (bool, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM protection_exclusions WHERE tmdb_id = ? AND media_type = ? AND kind = ?`,
		tmdbID, mediaType, KindManualProtection).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check exclusion: %w", err)
	}
	return n > 0, nil
}

// ListProtectionExclusions returns all exclusions.
func (s *Store) ListProtectionExclusions(ctx context.Context) ([]ProtectionExclusion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tmdb_id, media_type, kind, created_at FROM protection_exclusions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list exclusions: %w", err)
	}
	defer rows.Close()

	var out []ProtectionExclusion
	for rows.Next() {
		var e ProtectionExclusion
		if err := rows.Scan(&e.TmdbID, &e.MediaType, &e.Kind, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
