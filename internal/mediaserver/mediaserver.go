// Package mediaserver defines the capability contract the sync and cleanup
// passes need from a media server, plus the DTOs shared by its backends.
package mediaserver

import (
	"context"
	"errors"
	"time"
)

// ErrItemNotFound is returned when the server no longer knows an item. Sync
// treats it as a removal rather than a transient failure.
var ErrItemNotFound = errors.New("mediaserver: item not found")

// ServerType identifies a backend implementation.
type ServerType string

const (
	ServerTypePlex     ServerType = "plex"
	ServerTypeJellyfin ServerType = "jellyfin"
)

// ItemType classifies a library item.
type ItemType string

const (
	ItemTypeMovie   ItemType = "movie"
	ItemTypeShow    ItemType = "show"
	ItemTypeSeason  ItemType = "season"
	ItemTypeEpisode ItemType = "episode"
)

// LibraryType classifies a library section.
type LibraryType string

const (
	LibraryTypeMovie LibraryType = "movie"
	LibraryTypeShow  LibraryType = "show"
	LibraryTypeOther LibraryType = "other"
)

// ExternalIDs are the provider ids attached to an item's metadata.
type ExternalIDs struct {
	TMDB int64  `json:"tmdb,omitempty"`
	TVDB int64  `json:"tvdb,omitempty"`
	IMDB string `json:"imdb,omitempty"`
}

// Library is one library section on the server.
type Library struct {
	ID   string
	Name string
	Type LibraryType
}

// Item is a media-server item projection shared by all endpoints.
type Item struct {
	RatingKey            string
	Title                string
	Year                 int
	Type                 ItemType
	LibraryID            string
	AddedAt              time.Time
	UpdatedAt            time.Time
	ViewCount            int
	LastViewedAt         *time.Time
	GrandparentRatingKey string
	GrandparentTitle     string
	SeasonNumber         int
	EpisodeNumber        int
	ExternalIDs          ExternalIDs
}

// HistoryEvent is one watch-history entry. AccountID is an opaque per-server
// user reference.
type HistoryEvent struct {
	AccountID            string
	RatingKey            string
	Type                 ItemType
	Title                string
	GrandparentRatingKey string
	GrandparentTitle     string
	SeasonNumber         int
	EpisodeNumber        int
	ViewedAt             time.Time
}

// User is a server account able to watch media.
type User struct {
	ID   string
	Name string
}

// Client is the capability set consumed from a media server. Implementations
// are stateless beyond their connection settings; callers retry transient
// failures on the next tick.
type Client interface {
	Type() ServerType
	TestConnection(ctx context.Context) error
	Libraries(ctx context.Context) ([]Library, error)
	LibraryContents(ctx context.Context, libraryID string) ([]Item, error)
	RecentlyAdded(ctx context.Context, libraryID string, since time.Time) ([]Item, error)
	Item(ctx context.Context, ratingKey string) (*Item, error)
	Children(ctx context.Context, ratingKey string) ([]Item, error)
	WatchHistory(ctx context.Context, since time.Time, limit int) ([]HistoryEvent, error)
	DeleteItem(ctx context.Context, ratingKey string) error
	Users(ctx context.Context) ([]User, error)
}
