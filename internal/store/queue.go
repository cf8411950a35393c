package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const queueColumns = `id, show_rating_key, show_title, season_number, episode_number,
	priority, reason, needed_by, status, created_at, updated_at`

func scanQueueItem(scanner interface{ Scan(...any) error }) (QueueItem, error) {
	var (
		item     QueueItem
		neededBy sql.NullTime
	)
	err := scanner.Scan(&item.ID, &item.ShowRatingKey, &item.ShowTitle, &item.SeasonNumber,
		&item.EpisodeNumber, &item.Priority, &item.Reason, &neededBy, &item.Status,
		&item.CreatedAt, &item.UpdatedAt)
	item.NeededBy = timePtr(neededBy)
	return item, err
}

// EnqueueRedownload adds an episode to the redownload queue. Re-enqueueing the
// same episode at the same priority refreshes the open entry without counting
// as a new addition; only a fresh row or a re-opened done/failed row reports
// added, so pass summaries count real queue growth.
func (s *Store) EnqueueRedownload(ctx context.Context, item QueueItem) (bool, error) {
	now := time.Now().UTC()

	var added bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var status QueueStatus
		err := tx.QueryRowContext(ctx, `
			SELECT status FROM redownload_queue
			WHERE show_rating_key = ? AND season_number = ? AND episode_number = ?
				AND priority = ?`,
			item.ShowRatingKey, item.SeasonNumber, item.EpisodeNumber, item.Priority,
		).Scan(&status)

		if err == sql.ErrNoRows {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO redownload_queue (id, show_rating_key, show_title, season_number,
					episode_number, priority, reason, needed_by, status, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				item.ID, item.ShowRatingKey, item.ShowTitle, item.SeasonNumber,
				item.EpisodeNumber, item.Priority, item.Reason, nullTime(item.NeededBy),
				QueueStatusQueued, now, now)
			if err != nil {
				return fmt.Errorf("enqueue redownload: %w", err)
			}
			added = true
			return nil
		}
		if err != nil {
			return fmt.Errorf("enqueue lookup: %w", err)
		}

		// Closed entries re-open as a new need; open ones just get their
		// reason and deadline refreshed.
		reopened := status == QueueStatusDone || status == QueueStatusFailed
		_, err = tx.ExecContext(ctx, `
			UPDATE redownload_queue SET
				reason = ?, needed_by = ?, updated_at = ?,
				status = CASE WHEN status IN ('done', 'failed') THEN 'queued' ELSE status END
			WHERE show_rating_key = ? AND season_number = ? AND episode_number = ?
				AND priority = ?`,
			item.Reason, nullTime(item.NeededBy), now,
			item.ShowRatingKey, item.SeasonNumber, item.EpisodeNumber, item.Priority)
		if err != nil {
			return fmt.Errorf("refresh queue entry: %w", err)
		}
		added = reopened
		return nil
	})
	if err != nil {
		return false, err
	}
	return added, nil
}

// ListQueuedRedownloads returns open queue items, emergency priority first,
// then earliest need.
func (s *Store) ListQueuedRedownloads(ctx context.Context, limit int) ([]QueueItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+queueColumns+` FROM redownload_queue
		WHERE status = 'queued'
		ORDER BY CASE priority WHEN 'emergency' THEN 0 ELSE 1 END,
			needed_by IS NULL, needed_by ASC, created_at ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	defer rows.Close()

	var out []QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// SetQueueItemStatus transitions one queue item.
func (s *Store) SetQueueItemStatus(ctx context.Context, id string, status QueueStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE redownload_queue SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set queue status: %w", err)
	}
	return nil
}

// PromoteQueueItem raises an open item to emergency priority. Ignored when an
// emergency entry for the same episode already exists.
func (s *Store) PromoteQueueItem(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE OR IGNORE redownload_queue SET priority = 'emergency', updated_at = ?
		WHERE id = ? AND status = 'queued' AND priority = 'normal'`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("promote queue item: %w", err)
	}
	return nil
}

// DeleteStaleQueueItems drops finished or failed items older than the cutoff.
func (s *Store) DeleteStaleQueueItems(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM redownload_queue
		WHERE status IN ('done', 'failed') AND updated_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete stale queue items: %w", err)
	}
	return res.RowsAffected()
}

// CountQueuedRedownloads returns the number of open queue items per priority.
func (s *Store) CountQueuedRedownloads(ctx context.Context) (normal, emergency int64, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN priority = 'normal' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN priority = 'emergency' THEN 1 ELSE 0 END), 0)
		FROM redownload_queue WHERE status = 'queued'`).Scan(&normal, &emergency)
	if err != nil {
		return 0, 0, fmt.Errorf("count queue: %w", err)
	}
	return normal, emergency, nil
}
