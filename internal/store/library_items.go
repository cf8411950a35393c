package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const libraryItemColumns = `rating_key, title, year, media_type, library_id, added_at,
	updated_at, view_count, last_viewed_at, tmdb_id, tvdb_id, imdb_id, synced_at`

func scanLibraryItem(scanner interface{ Scan(...any) error }) (LibraryItem, error) {
	var (
		item                           LibraryItem
		addedAt, updatedAt, lastViewed sql.NullTime
	)
	err := scanner.Scan(&item.RatingKey, &item.Title, &item.Year, &item.MediaType,
		&item.LibraryID, &addedAt, &updatedAt, &item.ViewCount, &lastViewed,
		&item.TmdbID, &item.TvdbID, &item.ImdbID, &item.SyncedAt)
	item.AddedAt = timePtr(addedAt)
	item.UpdatedAt = timePtr(updatedAt)
	item.LastViewedAt = timePtr(lastViewed)
	return item, err
}

// UpsertLibraryItems batch inserts/updates cached library items.
func (s *Store) UpsertLibraryItems(ctx context.Context, items []LibraryItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	count := 0
	now := time.Now().UTC()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO library_items (rating_key, title, year, media_type, library_id,
				added_at, updated_at, view_count, last_viewed_at, tmdb_id, tvdb_id, imdb_id, synced_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(rating_key) DO UPDATE SET
				title = excluded.title,
				year = excluded.year,
				media_type = excluded.media_type,
				library_id = excluded.library_id,
				updated_at = excluded.updated_at,
				view_count = excluded.view_count,
				last_viewed_at = excluded.last_viewed_at,
				tmdb_id = CASE WHEN excluded.tmdb_id > 0 THEN excluded.tmdb_id ELSE library_items.tmdb_id END,
				tvdb_id = CASE WHEN excluded.tvdb_id > 0 THEN excluded.tvdb_id ELSE library_items.tvdb_id END,
				imdb_id = CASE WHEN excluded.imdb_id != '' THEN excluded.imdb_id ELSE library_items.imdb_id END,
				synced_at = excluded.synced_at`)
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		defer stmt.Close()

		for _, item := range items {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			_, err := stmt.ExecContext(ctx, item.RatingKey, item.Title, item.Year,
				item.MediaType, item.LibraryID, nullTime(item.AddedAt), nullTime(item.UpdatedAt),
				item.ViewCount, nullTime(item.LastViewedAt), item.TmdbID, item.TvdbID,
				item.ImdbID, now)
			if err != nil {
				return fmt.Errorf("upsert item %s: %w", item.RatingKey, err)
			}
			count++
		}
		return nil
	})
	return count, err
}

// GetLibraryItem returns a single cached library item.
func (s *Store) GetLibraryItem(ctx context.Context, ratingKey string) (*LibraryItem, error) {
	item, err := scanLibraryItem(s.db.QueryRowContext(ctx,
		`SELECT `+libraryItemColumns+` FROM library_items WHERE rating_key = ?`, ratingKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("library item %s: %w", ratingKey, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get library item: %w", err)
	}
	return &item, nil
}

// ListLibraryItems returns all cached items, optionally filtered by media type.
func (s *Store) ListLibraryItems(ctx context.Context, mediaType MediaType) ([]LibraryItem, error) {
	query := `SELECT ` + libraryItemColumns + ` FROM library_items`
	args := []any{}
	if mediaType != "" {
		query += ` WHERE media_type = ?`
		args = append(args, mediaType)
	}
	query += ` ORDER BY rating_key`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list library items: %w", err)
	}
	defer rows.Close()

	var items []LibraryItem
	for rows.Next() {
		item, err := scanLibraryItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// DeleteLibraryItems removes cached rows for items gone from the server.
func (s *Store) DeleteLibraryItems(ctx context.Context, ratingKeys []string) (int, error) {
	if len(ratingKeys) == 0 {
		return 0, nil
	}

	count := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `DELETE FROM library_items WHERE rating_key = ?`)
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		defer stmt.Close()

		for _, key := range ratingKeys {
			res, err := stmt.ExecContext(ctx, key)
			if err != nil {
				return fmt.Errorf("delete item %s: %w", key, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				count++
			}
		}
		return nil
	})
	return count, err
}

// CountLibraryItems returns the number of cached library items.
func (s *Store) CountLibraryItems(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM library_items`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count library items: %w", err)
	}
	return n, nil
}
