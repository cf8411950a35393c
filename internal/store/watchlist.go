package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// UpsertWatchlistEntry inserts or reactivates a watchlist entry.
func (s *Store) UpsertWatchlistEntry(ctx context.Context, e WatchlistEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO watchlist (user_id, tmdb_id, media_type, title, added_at, is_active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, tmdb_id, media_type) DO UPDATE SET
			title = excluded.title,
			is_active = excluded.is_active`,
		e.UserID, e.TmdbID, e.MediaType, e.Title, e.AddedAt.UTC(), e.IsActive)
	if err != nil {
		return fmt.Errorf("upsert watchlist %s/%d: %w", e.UserID, e.TmdbID, err)
	}
	return nil
}

// ListActiveWatchlistForTmdb returns active watchlist entries for a TMDB id.
func (s *Store) ListActiveWatchlistForTmdb(ctx context.Context, tmdbID int64, mediaType MediaType) ([]WatchlistEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, tmdb_id, media_type, title, added_at, is_active
		FROM watchlist WHERE tmdb_id = ? AND media_type = ? AND is_active = 1`,
		tmdbID, mediaType)
	if err != nil {
		return nil, fmt.Errorf("list watchlist: %w", err)
	}
	defer rows.Close()

	var out []WatchlistEntry
	for rows.Next() {
		var e WatchlistEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.TmdbID, &e.MediaType, &e.Title,
			&e.AddedAt, &e.IsActive); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// FindWatchlistByTitle returns active entries whose title matches exactly
// (case-insensitive) for a media type.
func (s *Store) FindWatchlistByTitle(ctx context.Context, title string, mediaType MediaType) ([]WatchlistEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, tmdb_id, media_type, title, added_at, is_active
		FROM watchlist WHERE media_type = ? AND is_active = 1 AND LOWER(title) = LOWER(?)`,
		mediaType, title)
	if err != nil {
		return nil, fmt.Errorf("find watchlist by title: %w", err)
	}
	defer rows.Close()

	var out []WatchlistEntry
	for rows.Next() {
		var e WatchlistEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.TmdbID, &e.MediaType, &e.Title,
			&e.AddedAt, &e.IsActive); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListActiveWatchlist returns all active watchlist entries.
func (s *Store) ListActiveWatchlist(ctx context.Context) ([]WatchlistEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, tmdb_id, media_type, title, added_at, is_active
		FROM watchlist WHERE is_active = 1 ORDER BY added_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list active watchlist: %w", err)
	}
	defer rows.Close()

	var out []WatchlistEntry
	for rows.Next() {
		var e WatchlistEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.TmdbID, &e.MediaType, &e.Title,
			&e.AddedAt, &e.IsActive); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CreateRequest files an acquisition request (used by tests and the import path).
func (s *Store) CreateRequest(ctx context.Context, r Request) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO requests (user_id, tmdb_id, media_type, title, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.UserID, r.TmdbID, r.MediaType, r.Title, r.Status, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	return res.LastInsertId()
}

// ListOpenRequests returns requests not yet marked available.
func (s *Store) ListOpenRequests(ctx context.Context) ([]Request, error) {
	return s.listRequests(ctx,
		`SELECT id, user_id, tmdb_id, media_type, title, status, available_at, created_at
		 FROM requests WHERE status IN ('pending', 'processing')`)
}

// ListRequestsForTmdb returns all requests for a TMDB id and media type.
func (s *Store) ListRequestsForTmdb(ctx context.Context, tmdbID int64, mediaType MediaType) ([]Request, error) {
	return s.listRequests(ctx,
		`SELECT id, user_id, tmdb_id, media_type, title, status, available_at, created_at
		 FROM requests WHERE tmdb_id = ? AND media_type = ?`, tmdbID, mediaType)
}

// FindRequestsByTitle returns open requests whose title matches exactly
// (case-insensitive) for a media type.
func (s *Store) FindRequestsByTitle(ctx context.Context, title string, mediaType MediaType) ([]Request, error) {
	return s.listRequests(ctx,
		`SELECT id, user_id, tmdb_id, media_type, title, status, available_at, created_at
		 FROM requests WHERE media_type = ? AND LOWER(title) = LOWER(?)`, mediaType, title)
}

func (s *Store) listRequests(ctx context.Context, query string, args ...any) ([]Request, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	var out []Request
	for rows.Next() {
		var (
			r           Request
			availableAt sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.TmdbID, &r.MediaType, &r.Title,
			&r.Status, &availableAt, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.AvailableAt = timePtr(availableAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkRequestAvailable stamps a pending request once its media is in the library.
func (s *Store) MarkRequestAvailable(ctx context.Context, tmdbID int64, mediaType MediaType) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE requests SET status = 'available', available_at = ?
		WHERE tmdb_id = ? AND media_type = ? AND status IN ('pending', 'processing')`,
		time.Now().UTC(), tmdbID, mediaType)
	if err != nil {
		return fmt.Errorf("mark request available: %w", err)
	}
	return nil
}
