package plex

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/viperarr/viperarr/internal/mediaserver"
)

const historyBatchSize = 1000

type historyContainer struct {
	XMLName xml.Name         `xml:"MediaContainer"`
	Size    int              `xml:"totalSize,attr"`
	Videos  []historyElement `xml:"Video"`
}

type historyElement struct {
	RatingKey string `xml:"ratingKey,attr"`
	Type      string `xml:"type,attr"`
	Title     string `xml:"title,attr"`
	// GrandparentKey is a full metadata path ("/library/metadata/151929"),
	// unlike the sessions endpoint which reports a plain numeric ID.
	GrandparentKey   string `xml:"grandparentKey,attr"`
	GrandparentTitle string `xml:"grandparentTitle,attr"`
	ParentIndex      string `xml:"parentIndex,attr"`
	Index            string `xml:"index,attr"`
	ViewedAt         string `xml:"viewedAt,attr"`
	AccountID        string `xml:"accountID,attr"`
}

// WatchHistory returns watch events for all accounts viewed at or after
// since, oldest first, capped at limit entries. limit <= 0 means no cap.
func (c *Client) WatchHistory(ctx context.Context, since time.Time, limit int) ([]mediaserver.HistoryEvent, error) {
	var events []mediaserver.HistoryEvent
	offset := 0

	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		container, err := c.fetchHistoryBatch(ctx, since, offset)
		if err != nil {
			return nil, err
		}
		if len(container.Videos) == 0 {
			break
		}

		for _, v := range container.Videos {
			ts := atoi64(v.ViewedAt)
			if ts <= 0 {
				continue
			}
			events = append(events, mediaserver.HistoryEvent{
				AccountID:            v.AccountID,
				RatingKey:            v.RatingKey,
				Type:                 plexItemType(v.Type),
				Title:                v.Title,
				GrandparentRatingKey: ratingKeyFromPath(v.GrandparentKey),
				GrandparentTitle:     v.GrandparentTitle,
				SeasonNumber:         atoi(v.ParentIndex),
				EpisodeNumber:        atoi(v.Index),
				ViewedAt:             time.Unix(ts, 0).UTC(),
			})
			if limit > 0 && len(events) >= limit {
				return events, nil
			}
		}

		offset += len(container.Videos)
		if offset >= container.Size {
			break
		}
	}

	return events, nil
}

func (c *Client) fetchHistoryBatch(ctx context.Context, since time.Time, offset int) (*historyContainer, error) {
	u, err := url.Parse(c.url + "/status/sessions/history/all")
	if err != nil {
		return nil, fmt.Errorf("parse URL: %w", err)
	}
	q := u.Query()
	q.Set("sort", "viewedAt:asc")
	if !since.IsZero() {
		q.Set("viewedAt>", strconv.FormatInt(since.Unix(), 10))
	}
	q.Set("X-Plex-Container-Start", strconv.Itoa(offset))
	q.Set("X-Plex-Container-Size", strconv.Itoa(historyBatchSize))
	u.RawQuery = q.Encode()

	resp, err := c.get(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("plex history: %w", err)
	}
	defer drainBody(resp)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("plex history: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, err
	}

	var container historyContainer
	if err := xml.Unmarshal(body, &container); err != nil {
		return nil, fmt.Errorf("parsing history: %w", err)
	}
	return &container, nil
}
