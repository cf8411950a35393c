package sonarr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewClientTrimsSlash(t *testing.T) {
	c, err := NewClient("http://localhost:8989/", "test-key")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.BaseURL != "http://localhost:8989" {
		t.Fatalf("expected trailing slash trimmed, got %s", c.BaseURL)
	}
}

func TestNewClientInvalidURL(t *testing.T) {
	if _, err := NewClient("", "test-key"); err == nil {
		t.Fatal("expected error for empty URL")
	}
}

func TestTestConnection(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/system/status" {
			t.Errorf("expected path /api/v3/system/status, got %s", r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "test-key" {
			t.Errorf("expected X-Api-Key header test-key, got %s", r.Header.Get("X-Api-Key"))
		}
		w.Write([]byte(`{"version":"4.0.0"}`))
	}))
	defer ts.Close()

	c, _ := NewClient(ts.URL, "test-key")
	if err := c.TestConnection(context.Background()); err != nil {
		t.Fatalf("TestConnection: %v", err)
	}
}

func TestSeriesByTvdbID(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/series" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("tvdbId"); got != "79126" {
			t.Errorf("tvdbId = %q", got)
		}
		w.Write([]byte(`[{"id":12,"title":"The Wire","tvdbId":79126,"monitored":true}]`))
	}))
	defer ts.Close()

	c, _ := NewClient(ts.URL, "k")
	s, err := c.SeriesByTvdbID(context.Background(), 79126)
	if err != nil {
		t.Fatal(err)
	}
	if s == nil || s.ID != 12 || !s.Monitored {
		t.Fatalf("series = %+v", s)
	}
}

func TestSeriesByTvdbIDNotManaged(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer ts.Close()

	c, _ := NewClient(ts.URL, "k")
	s, err := c.SeriesByTvdbID(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if s != nil {
		t.Fatalf("expected nil series, got %+v", s)
	}
}

func TestEpisodesBySeries(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("seriesId"); got != "12" {
			t.Errorf("seriesId = %q", got)
		}
		w.Write([]byte(`[
			{"id":1,"seriesId":12,"seasonNumber":1,"episodeNumber":1,"hasFile":true,"episodeFileId":55,"monitored":true},
			{"id":2,"seriesId":12,"seasonNumber":1,"episodeNumber":2,"hasFile":false,"monitored":false}
		]`))
	}))
	defer ts.Close()

	c, _ := NewClient(ts.URL, "k")
	eps, err := c.EpisodesBySeries(context.Background(), 12)
	if err != nil {
		t.Fatal(err)
	}
	if len(eps) != 2 {
		t.Fatalf("expected 2 episodes, got %d", len(eps))
	}
	if !eps[0].HasFile || eps[0].EpisodeFileID != 55 {
		t.Errorf("episode parsed wrong: %+v", eps[0])
	}
}

func TestMonitorEpisodes(t *testing.T) {
	var gotBody map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/api/v3/episode/monitor" {
			t.Errorf("got %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`[]`))
	}))
	defer ts.Close()

	c, _ := NewClient(ts.URL, "k")
	if err := c.MonitorEpisodes(context.Background(), []int64{1, 2}, true); err != nil {
		t.Fatal(err)
	}
	if gotBody["monitored"] != true {
		t.Errorf("body = %v", gotBody)
	}
}

func TestSearchEpisodes(t *testing.T) {
	var gotBody map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v3/command" {
			t.Errorf("got %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"id":1}`))
	}))
	defer ts.Close()

	c, _ := NewClient(ts.URL, "k")
	if err := c.SearchEpisodes(context.Background(), []int64{1, 2}); err != nil {
		t.Fatal(err)
	}
	if gotBody["name"] != "EpisodeSearch" {
		t.Errorf("command name = %v", gotBody["name"])
	}
}

func TestDeleteEpisodeFile(t *testing.T) {
	var method, path string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	c, _ := NewClient(ts.URL, "k")
	if err := c.DeleteEpisodeFile(context.Background(), 55); err != nil {
		t.Fatal(err)
	}
	if method != http.MethodDelete || path != "/api/v3/episodefile/55" {
		t.Errorf("got %s %s", method, path)
	}
}
