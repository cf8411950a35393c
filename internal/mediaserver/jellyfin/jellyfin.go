// Package jellyfin implements the media server client against the Jellyfin
// HTTP API. Jellyfin speaks JSON and authenticates with an API key header.
package jellyfin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/viperarr/viperarr/internal/mediaserver"
)

const maxResponseBody = 50 << 20 // 50 MB

type Client struct {
	url    string
	apiKey string
	client *http.Client
}

func New(cfg mediaserver.Config) *Client {
	return &Client{
		url:    strings.TrimRight(cfg.URL, "/"),
		apiKey: cfg.Token,
		client: &http.Client{Timeout: cfg.HTTPTimeout()},
	}
}

func (c *Client) Type() mediaserver.ServerType { return mediaserver.ServerTypeJellyfin }

func (c *Client) TestConnection(ctx context.Context) error {
	resp, err := c.get(ctx, c.url+"/System/Info/Public")
	if err != nil {
		return err
	}
	defer drainBody(resp)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jellyfin returned status %d", resp.StatusCode)
	}
	return nil
}

type jellyfinUser struct {
	ID   string `json:"Id"`
	Name string `json:"Name"`
}

func (c *Client) Users(ctx context.Context) ([]mediaserver.User, error) {
	resp, err := c.get(ctx, c.url+"/Users")
	if err != nil {
		return nil, fmt.Errorf("jellyfin users: %w", err)
	}
	defer drainBody(resp)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jellyfin users: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	var raw []jellyfinUser
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parsing users: %w", err)
	}

	users := make([]mediaserver.User, 0, len(raw))
	for _, u := range raw {
		users = append(users, mediaserver.User{ID: u.ID, Name: u.Name})
	}
	return users, nil
}

func (c *Client) DeleteItem(ctx context.Context, ratingKey string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.url+"/Items/"+url.PathEscape(ratingKey), nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(c.addAuth(req))
	if err != nil {
		return fmt.Errorf("jellyfin delete %s: %w", ratingKey, err)
	}
	defer drainBody(resp)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("jellyfin delete %s: status %d", ratingKey, resp.StatusCode)
	}
	return nil
}

func (c *Client) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.client.Do(c.addAuth(req))
}

func (c *Client) addAuth(req *http.Request) *http.Request {
	req.Header.Set("X-Emby-Token", c.apiKey)
	req.Header.Set("Accept", "application/json")
	return req
}

func drainBody(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

type jellyfinItem struct {
	ID                string            `json:"Id"`
	Name              string            `json:"Name"`
	Type              string            `json:"Type"`
	ProductionYear    int               `json:"ProductionYear"`
	DateCreated       string            `json:"DateCreated"`
	SeriesID          string            `json:"SeriesId"`
	SeriesName        string            `json:"SeriesName"`
	ParentIndexNumber int               `json:"ParentIndexNumber"`
	IndexNumber       int               `json:"IndexNumber"`
	ProviderIds       map[string]string `json:"ProviderIds"`
	UserData          *jellyfinUserData `json:"UserData"`
}

type jellyfinUserData struct {
	Played         bool   `json:"Played"`
	PlayCount      int    `json:"PlayCount"`
	LastPlayedDate string `json:"LastPlayedDate"`
}

type itemsResponse struct {
	Items            []jellyfinItem `json:"Items"`
	TotalRecordCount int            `json:"TotalRecordCount"`
}

func toItem(ji jellyfinItem, libraryID string) mediaserver.Item {
	item := mediaserver.Item{
		RatingKey:            ji.ID,
		Title:                ji.Name,
		Year:                 ji.ProductionYear,
		Type:                 jellyfinItemType(ji.Type),
		LibraryID:            libraryID,
		AddedAt:              parseJellyfinTime(ji.DateCreated),
		GrandparentRatingKey: ji.SeriesID,
		GrandparentTitle:     ji.SeriesName,
		SeasonNumber:         ji.ParentIndexNumber,
		EpisodeNumber:        ji.IndexNumber,
		ExternalIDs:          parseProviderIds(ji.ProviderIds),
	}
	if ud := ji.UserData; ud != nil {
		item.ViewCount = ud.PlayCount
		if t := parseJellyfinTime(ud.LastPlayedDate); !t.IsZero() {
			item.LastViewedAt = &t
		}
	}
	return item
}

func jellyfinItemType(t string) mediaserver.ItemType {
	switch t {
	case "Movie":
		return mediaserver.ItemTypeMovie
	case "Series":
		return mediaserver.ItemTypeShow
	case "Season":
		return mediaserver.ItemTypeSeason
	case "Episode":
		return mediaserver.ItemTypeEpisode
	default:
		return mediaserver.ItemType(strings.ToLower(t))
	}
}

func parseProviderIds(ids map[string]string) mediaserver.ExternalIDs {
	var out mediaserver.ExternalIDs
	for k, v := range ids {
		switch strings.ToLower(k) {
		case "tmdb":
			out.TMDB, _ = strconv.ParseInt(v, 10, 64)
		case "tvdb":
			out.TVDB, _ = strconv.ParseInt(v, 10, 64)
		case "imdb":
			out.IMDB = v
		}
	}
	return out
}

func parseJellyfinTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.9999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
