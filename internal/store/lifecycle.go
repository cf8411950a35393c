package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const lifecycleColumns = `tmdb_id, media_type, rating_key, status, deleted_at, updated_at`

func scanLifecycle(scanner interface{ Scan(...any) error }) (LifecycleRecord, error) {
	var (
		rec       LifecycleRecord
		deletedAt sql.NullTime
	)
	err := scanner.Scan(&rec.TmdbID, &rec.MediaType, &rec.RatingKey, &rec.Status,
		&deletedAt, &rec.UpdatedAt)
	rec.DeletedAt = timePtr(deletedAt)
	return rec, err
}

// UpsertLifecycleRecord links a TMDB id to a rating key and status.
func (s *Store) UpsertLifecycleRecord(ctx context.Context, rec LifecycleRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lifecycle_records (tmdb_id, media_type, rating_key, status, deleted_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(tmdb_id, media_type) DO UPDATE SET
			rating_key = CASE WHEN excluded.rating_key != '' THEN excluded.rating_key ELSE lifecycle_records.rating_key END,
			status = excluded.status,
			deleted_at = excluded.deleted_at,
			updated_at = excluded.updated_at`,
		rec.TmdbID, rec.MediaType, rec.RatingKey, rec.Status,
		nullTime(rec.DeletedAt), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert lifecycle %d/%s: %w", rec.TmdbID, rec.MediaType, err)
	}
	return nil
}

// GetLifecycleRecord returns the record for a (tmdbId, mediaType) pair.
func (s *Store) GetLifecycleRecord(ctx context.Context, tmdbID int64, mediaType MediaType) (*LifecycleRecord, error) {
	rec, err := scanLifecycle(s.db.QueryRowContext(ctx,
		`SELECT `+lifecycleColumns+` FROM lifecycle_records WHERE tmdb_id = ? AND media_type = ?`,
		tmdbID, mediaType))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lifecycle %d/%s: %w", tmdbID, mediaType, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get lifecycle: %w", err)
	}
	return &rec, nil
}

// GetLifecycleByRatingKey returns the record pointing at a rating key, if any.
func (s *Store) GetLifecycleByRatingKey(ctx context.Context, ratingKey string) (*LifecycleRecord, error) {
	rec, err := scanLifecycle(s.db.QueryRowContext(ctx,
		`SELECT `+lifecycleColumns+` FROM lifecycle_records WHERE rating_key = ?`, ratingKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lifecycle for %s: %w", ratingKey, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get lifecycle by rating key: %w", err)
	}
	return &rec, nil
}

// MarkLifecycleDeleted transitions the record for a rating key to deleted.
func (s *Store) MarkLifecycleDeleted(ctx context.Context, ratingKey string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE lifecycle_records SET status = ?, deleted_at = ?, updated_at = ?
		WHERE rating_key = ?`,
		LifecycleStatusDeleted, time.Now().UTC(), time.Now().UTC(), ratingKey)
	if err != nil {
		return fmt.Errorf("mark lifecycle deleted: %w", err)
	}
	return nil
}
