package jellyfin

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/viperarr/viperarr/internal/mediaserver"
)

// WatchHistory synthesizes watch events from per-user played state, since
// Jellyfin has no cross-user history endpoint. Each played item contributes
// one event at its LastPlayedDate, so repeated views collapse to the most
// recent one. Events come back oldest first, capped at limit when > 0.
func (c *Client) WatchHistory(ctx context.Context, since time.Time, limit int) ([]mediaserver.HistoryEvent, error) {
	users, err := c.Users(ctx)
	if err != nil {
		return nil, err
	}

	var events []mediaserver.HistoryEvent
	for _, user := range users {
		items, err := c.fetchItems(ctx, "", "Movie,Episode", time.Time{}, user.ID)
		if err != nil {
			return nil, fmt.Errorf("played items for user %s: %w", user.ID, err)
		}
		for _, item := range items {
			if item.LastViewedAt == nil {
				continue
			}
			viewedAt := *item.LastViewedAt
			if !since.IsZero() && viewedAt.Before(since) {
				continue
			}
			events = append(events, mediaserver.HistoryEvent{
				AccountID:            user.ID,
				RatingKey:            item.RatingKey,
				Type:                 item.Type,
				Title:                item.Title,
				GrandparentRatingKey: item.GrandparentRatingKey,
				GrandparentTitle:     item.GrandparentTitle,
				SeasonNumber:         item.SeasonNumber,
				EpisodeNumber:        item.EpisodeNumber,
				ViewedAt:             viewedAt,
			})
		}
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].ViewedAt.Before(events[j].ViewedAt)
	})
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}
