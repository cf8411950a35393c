// Package radarr wraps the Radarr v3 API calls the movie cleanup pass needs.
package radarr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/viperarr/viperarr/internal/arrutil"
)

type Client struct {
	arrutil.Client
}

func NewClient(baseURL, apiKey string) (*Client, error) {
	arr, err := arrutil.New("Radarr", baseURL, apiKey)
	if err != nil {
		return nil, err
	}
	return &Client{Client: *arr}, nil
}

type Movie struct {
	ID         int64  `json:"id"`
	Title      string `json:"title"`
	TmdbID     int64  `json:"tmdbId"`
	ImdbID     string `json:"imdbId"`
	Monitored  bool   `json:"monitored"`
	HasFile    bool   `json:"hasFile"`
	SizeOnDisk int64  `json:"sizeOnDisk"`
}

func (c *Client) Movies(ctx context.Context) ([]Movie, error) {
	raw, err := c.DoGet(ctx, "/movie", nil)
	if err != nil {
		return nil, err
	}
	var movies []Movie
	if err := json.Unmarshal(raw, &movies); err != nil {
		return nil, fmt.Errorf("parsing movie list: %w", err)
	}
	return movies, nil
}

// MovieByTmdbID finds a movie by its TMDB ID. Returns nil when Radarr does
// not manage it.
func (c *Client) MovieByTmdbID(ctx context.Context, tmdbID int64) (*Movie, error) {
	raw, err := c.DoGet(ctx, "/movie", url.Values{"tmdbId": {strconv.FormatInt(tmdbID, 10)}})
	if err != nil {
		return nil, err
	}
	var movies []Movie
	if err := json.Unmarshal(raw, &movies); err != nil {
		return nil, fmt.Errorf("parsing movie list: %w", err)
	}
	if len(movies) == 0 {
		return nil, nil
	}
	return &movies[0], nil
}

// DeleteMovie removes a movie from Radarr, optionally deleting its files.
func (c *Client) DeleteMovie(ctx context.Context, movieID int64, deleteFiles bool) error {
	q := url.Values{}
	if deleteFiles {
		q.Set("deleteFiles", "true")
	}
	return c.DoDelete(ctx, fmt.Sprintf("/movie/%d", movieID), q)
}

// SearchMovie queues a MoviesSearch command for the given movie.
func (c *Client) SearchMovie(ctx context.Context, movieID int64) error {
	body, err := json.Marshal(map[string]any{
		"name":     "MoviesSearch",
		"movieIds": []int64{movieID},
	})
	if err != nil {
		return err
	}
	_, err = c.DoPost(ctx, "/command", body)
	return err
}
