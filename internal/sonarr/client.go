// Package sonarr wraps the Sonarr v3 API calls the cleanup passes need:
// series and episode lookups, monitoring toggles, searches, and file
// deletion.
package sonarr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/viperarr/viperarr/internal/arrutil"
)

type Client struct {
	arrutil.Client
}

func NewClient(baseURL, apiKey string) (*Client, error) {
	arr, err := arrutil.New("Sonarr", baseURL, apiKey)
	if err != nil {
		return nil, err
	}
	return &Client{Client: *arr}, nil
}

type Series struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	TvdbID    int64  `json:"tvdbId"`
	TmdbID    int64  `json:"tmdbId"`
	ImdbID    string `json:"imdbId"`
	TitleSlug string `json:"titleSlug"`
	Monitored bool   `json:"monitored"`
}

type Episode struct {
	ID            int64      `json:"id"`
	SeriesID      int64      `json:"seriesId"`
	SeasonNumber  int        `json:"seasonNumber"`
	EpisodeNumber int        `json:"episodeNumber"`
	Title         string     `json:"title"`
	Monitored     bool       `json:"monitored"`
	HasFile       bool       `json:"hasFile"`
	EpisodeFileID int64      `json:"episodeFileId"`
	AirDateUTC    *time.Time `json:"airDateUtc,omitempty"`
}

func (c *Client) Series(ctx context.Context) ([]Series, error) {
	raw, err := c.DoGet(ctx, "/series", nil)
	if err != nil {
		return nil, err
	}
	var series []Series
	if err := json.Unmarshal(raw, &series); err != nil {
		return nil, fmt.Errorf("parsing series list: %w", err)
	}
	return series, nil
}

// SeriesByTvdbID finds a series by its TVDB ID. Returns nil when Sonarr does
// not manage the show.
func (c *Client) SeriesByTvdbID(ctx context.Context, tvdbID int64) (*Series, error) {
	raw, err := c.DoGet(ctx, "/series", url.Values{"tvdbId": {strconv.FormatInt(tvdbID, 10)}})
	if err != nil {
		return nil, err
	}
	var series []Series
	if err := json.Unmarshal(raw, &series); err != nil {
		return nil, fmt.Errorf("parsing series list: %w", err)
	}
	if len(series) == 0 {
		return nil, nil
	}
	return &series[0], nil
}

func (c *Client) EpisodesBySeries(ctx context.Context, seriesID int64) ([]Episode, error) {
	raw, err := c.DoGet(ctx, "/episode", url.Values{"seriesId": {strconv.FormatInt(seriesID, 10)}})
	if err != nil {
		return nil, err
	}
	var episodes []Episode
	if err := json.Unmarshal(raw, &episodes); err != nil {
		return nil, fmt.Errorf("parsing episode list: %w", err)
	}
	return episodes, nil
}

// MonitorEpisodes flips the monitored flag on a batch of episodes. Sonarr
// only grabs releases for monitored episodes, so this gates redownloads.
func (c *Client) MonitorEpisodes(ctx context.Context, episodeIDs []int64, monitored bool) error {
	body, err := json.Marshal(map[string]any{
		"episodeIds": episodeIDs,
		"monitored":  monitored,
	})
	if err != nil {
		return err
	}
	_, err = c.DoPut(ctx, "/episode/monitor", body)
	return err
}

// SearchEpisodes queues an EpisodeSearch command for the given episodes.
func (c *Client) SearchEpisodes(ctx context.Context, episodeIDs []int64) error {
	body, err := json.Marshal(map[string]any{
		"name":       "EpisodeSearch",
		"episodeIds": episodeIDs,
	})
	if err != nil {
		return err
	}
	_, err = c.DoPost(ctx, "/command", body)
	return err
}

// DeleteEpisodeFile removes an episode file from disk via Sonarr.
func (c *Client) DeleteEpisodeFile(ctx context.Context, episodeFileID int64) error {
	return c.DoDelete(ctx, fmt.Sprintf("/episodefile/%d", episodeFileID), nil)
}
