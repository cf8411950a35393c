// Package plex implements the media server client against the Plex HTTP API.
// Plex speaks XML; every response is read through a bounded reader and the
// body is drained so connections are reused.
package plex

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/viperarr/viperarr/internal/mediaserver"
)

const maxResponseBody = 50 << 20 // 50 MB

type Client struct {
	url    string
	token  string
	client *http.Client
}

func New(cfg mediaserver.Config) *Client {
	return &Client{
		url:    strings.TrimRight(cfg.URL, "/"),
		token:  cfg.Token,
		client: &http.Client{Timeout: cfg.HTTPTimeout()},
	}
}

func (c *Client) Type() mediaserver.ServerType { return mediaserver.ServerTypePlex }

func (c *Client) TestConnection(ctx context.Context) error {
	resp, err := c.get(ctx, c.url+"/identity")
	if err != nil {
		return err
	}
	defer drainBody(resp)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("plex identity: status %d", resp.StatusCode)
	}
	return nil
}

type accountsContainer struct {
	XMLName  xml.Name         `xml:"MediaContainer"`
	Accounts []accountElement `xml:"Account"`
}

type accountElement struct {
	ID   string `xml:"id,attr"`
	Name string `xml:"name,attr"`
}

func (c *Client) Users(ctx context.Context) ([]mediaserver.User, error) {
	resp, err := c.get(ctx, c.url+"/accounts")
	if err != nil {
		return nil, fmt.Errorf("plex accounts: %w", err)
	}
	defer drainBody(resp)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("plex accounts: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	var container accountsContainer
	if err := xml.Unmarshal(body, &container); err != nil {
		return nil, fmt.Errorf("parsing accounts: %w", err)
	}

	users := make([]mediaserver.User, 0, len(container.Accounts))
	for _, a := range container.Accounts {
		if a.ID == "" || a.ID == "0" {
			continue
		}
		users = append(users, mediaserver.User{ID: a.ID, Name: a.Name})
	}
	return users, nil
}

func (c *Client) DeleteItem(ctx context.Context, ratingKey string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.url+"/library/metadata/"+ratingKey, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("plex delete %s: %w", ratingKey, err)
	}
	defer drainBody(resp)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("plex delete %s: status %d", ratingKey, resp.StatusCode)
	}
	return nil
}

func (c *Client) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)
	return c.client.Do(req)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("X-Plex-Token", c.token)
	req.Header.Set("Accept", "application/xml")
}

func drainBody(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

func plexItemType(t string) mediaserver.ItemType {
	switch t {
	case "movie":
		return mediaserver.ItemTypeMovie
	case "show":
		return mediaserver.ItemTypeShow
	case "season":
		return mediaserver.ItemTypeSeason
	case "episode":
		return mediaserver.ItemTypeEpisode
	default:
		return mediaserver.ItemType(t)
	}
}

type plexGuid struct {
	ID string `xml:"id,attr"`
}

func parseGuids(guids []plexGuid) mediaserver.ExternalIDs {
	var ids mediaserver.ExternalIDs
	for _, g := range guids {
		switch {
		case strings.HasPrefix(g.ID, "imdb://"):
			ids.IMDB = strings.TrimPrefix(g.ID, "imdb://")
		case strings.HasPrefix(g.ID, "tmdb://"):
			ids.TMDB = atoi64(strings.TrimPrefix(g.ID, "tmdb://"))
		case strings.HasPrefix(g.ID, "tvdb://"):
			ids.TVDB = atoi64(strings.TrimPrefix(g.ID, "tvdb://"))
		}
	}
	return ids
}

// ratingKeyFromPath extracts the numeric ID from a Plex metadata path,
// e.g. "/library/metadata/151929" becomes "151929". History entries report
// grandparentKey as a path while sessions report a plain ID.
func ratingKeyFromPath(path string) string {
	i := strings.LastIndex(path, "/")
	if i < 0 || i+1 >= len(path) {
		return ""
	}
	seg := path[i+1:]
	if _, err := strconv.Atoi(seg); err != nil {
		return ""
	}
	return seg
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atoi64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
