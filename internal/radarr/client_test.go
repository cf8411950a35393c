package radarr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMovies(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/movie" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "test-key" {
			t.Errorf("missing api key header")
		}
		w.Write([]byte(`[{"id":3,"title":"Heat","tmdbId":949,"hasFile":true,"sizeOnDisk":4000000000}]`))
	}))
	defer ts.Close()

	c, _ := NewClient(ts.URL, "test-key")
	movies, err := c.Movies(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(movies) != 1 || movies[0].TmdbID != 949 || !movies[0].HasFile {
		t.Fatalf("movies = %+v", movies)
	}
}

func TestMovieByTmdbID(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("tmdbId"); got != "949" {
			t.Errorf("tmdbId = %q", got)
		}
		w.Write([]byte(`[{"id":3,"title":"Heat","tmdbId":949}]`))
	}))
	defer ts.Close()

	c, _ := NewClient(ts.URL, "k")
	m, err := c.MovieByTmdbID(context.Background(), 949)
	if err != nil {
		t.Fatal(err)
	}
	if m == nil || m.ID != 3 {
		t.Fatalf("movie = %+v", m)
	}
}

func TestMovieByTmdbIDNotManaged(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer ts.Close()

	c, _ := NewClient(ts.URL, "k")
	m, err := c.MovieByTmdbID(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if m != nil {
		t.Fatalf("expected nil, got %+v", m)
	}
}

func TestDeleteMovie(t *testing.T) {
	var method, path, query string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path, query = r.Method, r.URL.Path, r.URL.RawQuery
		w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	c, _ := NewClient(ts.URL, "k")
	if err := c.DeleteMovie(context.Background(), 3, true); err != nil {
		t.Fatal(err)
	}
	if method != http.MethodDelete || path != "/api/v3/movie/3" || query != "deleteFiles=true" {
		t.Errorf("got %s %s?%s", method, path, query)
	}
}

func TestSearchMovie(t *testing.T) {
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
	if err := c.SearchMovie(context.Background(), 3); err != nil {
		t.Fatal(err)
	}
	if gotBody["name"] != "MoviesSearch" {
		t.Errorf("command name = %v", gotBody["name"])
	}
}
