package deltasync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/viperarr/viperarr/internal/mediaserver"
	"github.com/viperarr/viperarr/internal/store"
)

type libraryResult struct {
	added   int
	updated int
	removed int
}

// syncLibrary performs the library sub-pass: delta (or full) fetch, diff
// against the persisted snapshot, upserts, and periodic removal detection.
// Removal detection needs a full fetch, so when it is due the whole pass
// falls back to full library listings.
func (s *Service) syncLibrary(ctx context.Context, cursors *store.SyncCursors) (libraryResult, error) {
	var result libraryResult
	start := s.now()

	snapshot, err := s.store.GetLibrarySnapshot(ctx)
	if err != nil {
		return result, err
	}

	removalDue := cursors.LastRemovalCheck == nil ||
		start.Sub(*cursors.LastRemovalCheck) >= removalQuietInterval
	fullFetch := cursors.LastLibrarySync == nil || removalDue

	libraries, err := s.media.Libraries(ctx)
	if err != nil {
		return result, fmt.Errorf("listing libraries: %w", err)
	}

	currentItems := make(map[string]store.LibraryItem)
	for _, lib := range libraries {
		if lib.Type != mediaserver.LibraryTypeMovie && lib.Type != mediaserver.LibraryTypeShow {
			continue
		}

		var items []mediaserver.Item
		if fullFetch {
			items, err = s.media.LibraryContents(ctx, lib.ID)
		} else {
			items, err = s.media.RecentlyAdded(ctx, lib.ID, cursors.LastLibrarySync.Add(-retrogradeWindow))
		}
		if err != nil {
			return result, fmt.Errorf("fetching library %s: %w", lib.Name, err)
		}

		for _, item := range items {
			if item.Type != mediaserver.ItemTypeMovie && item.Type != mediaserver.ItemTypeShow {
				continue
			}
			currentItems[item.RatingKey] = toStoreItem(item, start)
		}
		s.pace(ctx)
	}

	var changed []store.LibraryItem
	var added []store.LibraryItem
	for key, item := range currentItems {
		prev, known := snapshot[key]
		switch {
		case !known:
			added = append(added, item)
			changed = append(changed, item)
			result.added++
		case itemChanged(prev, item):
			changed = append(changed, item)
			result.updated++
		}
		snapshot[key] = item
	}

	if len(changed) > 0 {
		if _, err := s.store.UpsertLibraryItems(ctx, changed); err != nil {
			return result, err
		}
	}

	for _, item := range added {
		if err := s.processAddedItem(ctx, item); err != nil {
			// Shape problems on one item never abort the pass.
			s.logger.Warn().Err(err).Str("title", item.Title).Msg("failed to process added item")
		}
	}

	if removalDue && fullFetch {
		var removedKeys []string
		for key := range snapshot {
			if _, present := currentItems[key]; !present {
				removedKeys = append(removedKeys, key)
				delete(snapshot, key)
			}
		}
		if len(removedKeys) > 0 {
			if _, err := s.store.DeleteLibraryItems(ctx, removedKeys); err != nil {
				return result, err
			}
			for _, key := range removedKeys {
				if err := s.store.MarkLifecycleDeleted(ctx, key); err != nil {
					s.logger.Warn().Err(err).Str("ratingKey", key).Msg("failed to mark lifecycle deleted")
				}
			}
			result.removed = len(removedKeys)
			s.logger.Info().Int("removed", result.removed).Msg("pruned items no longer on the media server")
		}
		cursors.LastRemovalCheck = &start
	}

	if err := s.store.SetLibrarySnapshot(ctx, snapshot); err != nil {
		return result, err
	}
	cursors.LastLibrarySync = &start
	return result, nil
}

// processAddedItem resolves the TMDB id for a newly seen item, flips its
// lifecycle record to available, and marks any pending request fulfilled.
func (s *Service) processAddedItem(ctx context.Context, item store.LibraryItem) error {
	tmdbID, err := s.resolveTmdbID(ctx, item)
	if err != nil {
		return err
	}
	if tmdbID == 0 {
		s.logger.Debug().Str("title", item.Title).Msg("no tmdb id resolvable for added item")
		return nil
	}

	if err := s.store.UpsertLifecycleRecord(ctx, store.LifecycleRecord{
		TmdbID:    tmdbID,
		MediaType: item.MediaType,
		RatingKey: item.RatingKey,
		Status:    store.LifecycleStatusAvailable,
	}); err != nil {
		return err
	}
	if err := s.store.MarkRequestAvailable(ctx, tmdbID, item.MediaType); err != nil {
		return err
	}

	s.logger.Info().
		Str("title", item.Title).
		Int64("tmdbId", tmdbID).
		Str("mediaType", string(item.MediaType)).
		Msg("library item available")
	return nil
}

// syncUsers imports the media-server account list so velocity rows can be
// labeled with display names.
func (s *Service) syncUsers(ctx context.Context, cursors *store.SyncCursors) (int, error) {
	start := s.now()
	users, err := s.media.Users(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing users: %w", err)
	}

	directory := make(map[string]string, len(users))
	for _, u := range users {
		directory[u.ID] = u.Name
	}
	if err := s.store.SetUserDirectory(ctx, directory); err != nil {
		return 0, err
	}
	cursors.LastUserSync = &start
	return len(users), nil
}

// repairLifecycle walks the library cache and backfills lifecycle rows that
// are missing or lack a TMDB id.
func (s *Service) repairLifecycle(ctx context.Context) error {
	snapshot, err := s.store.GetLibrarySnapshot(ctx)
	if err != nil {
		return err
	}

	repaired := 0
	for _, item := range snapshot {
		rec, err := s.store.GetLifecycleByRatingKey(ctx, item.RatingKey)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if rec != nil && rec.TmdbID > 0 {
			continue
		}

		tmdbID, err := s.resolveTmdbID(ctx, item)
		if err != nil {
			s.logger.Warn().Err(err).Str("title", item.Title).Msg("lifecycle repair resolution failed")
			continue
		}
		if tmdbID == 0 {
			continue
		}

		if err := s.store.UpsertLifecycleRecord(ctx, store.LifecycleRecord{
			TmdbID:    tmdbID,
			MediaType: item.MediaType,
			RatingKey: item.RatingKey,
			Status:    store.LifecycleStatusAvailable,
		}); err != nil {
			return err
		}
		repaired++
	}

	if repaired > 0 {
		s.logger.Info().Int("repaired", repaired).Msg("lifecycle repair filled missing records")
	}
	return nil
}

func toStoreItem(item mediaserver.Item, syncedAt time.Time) store.LibraryItem {
	out := store.LibraryItem{
		RatingKey:    item.RatingKey,
		Title:        item.Title,
		Year:         item.Year,
		MediaType:    store.MediaType(item.Type),
		LibraryID:    item.LibraryID,
		ViewCount:    item.ViewCount,
		LastViewedAt: item.LastViewedAt,
		TmdbID:       item.ExternalIDs.TMDB,
		TvdbID:       item.ExternalIDs.TVDB,
		ImdbID:       item.ExternalIDs.IMDB,
		SyncedAt:     syncedAt,
	}
	if !item.AddedAt.IsZero() {
		t := item.AddedAt
		out.AddedAt = &t
	}
	if !item.UpdatedAt.IsZero() {
		t := item.UpdatedAt
		out.UpdatedAt = &t
	}
	return out
}

// itemChanged reports whether the view state moved since the cached copy.
func itemChanged(prev, cur store.LibraryItem) bool {
	if prev.ViewCount != cur.ViewCount {
		return true
	}
	switch {
	case prev.LastViewedAt == nil && cur.LastViewedAt == nil:
		return false
	case prev.LastViewedAt == nil || cur.LastViewedAt == nil:
		return true
	default:
		return !prev.LastViewedAt.Equal(*cur.LastViewedAt)
	}
}
