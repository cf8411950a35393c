package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const settingUpsert = `INSERT INTO settings (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value`

// GetSetting returns a setting value, or "" when unset.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting setting %q: %w", key, err)
	}
	return value, nil
}

// SetSetting writes one setting.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	if _, err := s.db.ExecContext(ctx, settingUpsert, key, value); err != nil {
		return fmt.Errorf("setting %q: %w", key, err)
	}
	return nil
}

// DeleteSetting removes one setting.
func (s *Store) DeleteSetting(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting setting %q: %w", key, err)
	}
	return nil
}

// AllSettings returns the whole settings bag.
func (s *Store) AllSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// Sync cursor and cache-snapshot settings keys. Cursors are ISO-8601 strings;
// the snapshot is a JSON object of ratingKey -> item projection.
const (
	keyLastLibrarySync      = "sync.last_library_sync"
	keyLastWatchHistorySync = "sync.last_watch_history_sync"
	keyLastUserSync         = "sync.last_user_sync"
	keyLastLifecycleRepair  = "sync.last_lifecycle_repair"
	keyLastRemovalCheck     = "sync.last_removal_check"
	keyLibraryCacheSnapshot = "sync.library_cache_snapshot"
	keyUserDirectory        = "sync.user_directory"
)

// GetUserDirectory returns the imported media-server users (account id -> name).
func (s *Store) GetUserDirectory(ctx context.Context) (map[string]string, error) {
	raw, err := s.GetSetting(ctx, keyUserDirectory)
	if err != nil {
		return nil, err
	}
	users := make(map[string]string)
	if raw == "" {
		return users, nil
	}
	if err := json.Unmarshal([]byte(raw), &users); err != nil {
		return nil, fmt.Errorf("parse user directory: %w", err)
	}
	return users, nil
}

// SetUserDirectory persists the imported media-server users.
func (s *Store) SetUserDirectory(ctx context.Context, users map[string]string) error {
	b, err := json.Marshal(users)
	if err != nil {
		return fmt.Errorf("marshal user directory: %w", err)
	}
	return s.SetSetting(ctx, keyUserDirectory, string(b))
}

func (s *Store) getCursor(ctx context.Context, key string) (*time.Time, error) {
	raw, err := s.GetSetting(ctx, key)
	if err != nil || raw == "" {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("parse cursor %q: %w", key, err)
	}
	t = t.UTC()
	return &t, nil
}

func (s *Store) setCursor(ctx context.Context, key string, t *time.Time) error {
	if t == nil {
		return s.DeleteSetting(ctx, key)
	}
	return s.SetSetting(ctx, key, t.UTC().Format(time.RFC3339))
}

// GetSyncCursors loads all persisted sync high-water marks.
func (s *Store) GetSyncCursors(ctx context.Context) (SyncCursors, error) {
	var (
		cur SyncCursors
		err error
	)
	if cur.LastLibrarySync, err = s.getCursor(ctx, keyLastLibrarySync); err != nil {
		return cur, err
	}
	if cur.LastWatchHistorySync, err = s.getCursor(ctx, keyLastWatchHistorySync); err != nil {
		return cur, err
	}
	if cur.LastUserSync, err = s.getCursor(ctx, keyLastUserSync); err != nil {
		return cur, err
	}
	if cur.LastLifecycleRepair, err = s.getCursor(ctx, keyLastLifecycleRepair); err != nil {
		return cur, err
	}
	if cur.LastRemovalCheck, err = s.getCursor(ctx, keyLastRemovalCheck); err != nil {
		return cur, err
	}
	return cur, nil
}

// SetSyncCursors persists all sync high-water marks.
func (s *Store) SetSyncCursors(ctx context.Context, cur SyncCursors) error {
	for _, kv := range []struct {
		key string
		t   *time.Time
	}{
		{keyLastLibrarySync, cur.LastLibrarySync},
		{keyLastWatchHistorySync, cur.LastWatchHistorySync},
		{keyLastUserSync, cur.LastUserSync},
		{keyLastLifecycleRepair, cur.LastLifecycleRepair},
		{keyLastRemovalCheck, cur.LastRemovalCheck},
	} {
		if err := s.setCursor(ctx, kv.key, kv.t); err != nil {
			return err
		}
	}
	return nil
}

// ClearSyncCursors drops all cursors so the next tick performs a full sync.
func (s *Store) ClearSyncCursors(ctx context.Context) error {
	return s.SetSyncCursors(ctx, SyncCursors{})
}

// GetLibrarySnapshot loads the persisted library-cache snapshot.
func (s *Store) GetLibrarySnapshot(ctx context.Context) (map[string]LibraryItem, error) {
	raw, err := s.GetSetting(ctx, keyLibraryCacheSnapshot)
	if err != nil {
		return nil, err
	}
	snapshot := make(map[string]LibraryItem)
	if raw == "" {
		return snapshot, nil
	}
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return nil, fmt.Errorf("parse library snapshot: %w", err)
	}
	return snapshot, nil
}

// SetLibrarySnapshot persists the library-cache snapshot after a sync tick.
func (s *Store) SetLibrarySnapshot(ctx context.Context, snapshot map[string]LibraryItem) error {
	b, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal library snapshot: %w", err)
	}
	return s.SetSetting(ctx, keyLibraryCacheSnapshot, string(b))
}
