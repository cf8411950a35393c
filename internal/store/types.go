package store

import "time"

// MediaType classifies a library item or watch event.
type MediaType string

const (
	MediaTypeMovie   MediaType = "movie"
	MediaTypeShow    MediaType = "show"
	MediaTypeSeason  MediaType = "season"
	MediaTypeEpisode MediaType = "episode"
)

// LifecycleStatus tracks where a (tmdbId, mediaType) pair is in its life.
type LifecycleStatus string

const (
	LifecycleStatusPending   LifecycleStatus = "pending"
	LifecycleStatusAvailable LifecycleStatus = "available"
	LifecycleStatusDeleted   LifecycleStatus = "deleted"
)

// QueuePriority orders redownload queue processing.
type QueuePriority string

const (
	PriorityNormal    QueuePriority = "normal"
	PriorityEmergency QueuePriority = "emergency"
)

// QueueStatus is the processing state of a redownload queue item.
type QueueStatus string

const (
	QueueStatusQueued     QueueStatus = "queued"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusDone       QueueStatus = "done"
	QueueStatusFailed     QueueStatus = "failed"
)

// KindManualProtection is the only exclusion kind currently written.
const KindManualProtection = "manual_protection"

// LibraryItem is a cached row for a media-server item currently known.
type LibraryItem struct {
	RatingKey    string     `json:"ratingKey"`
	Title        string     `json:"title"`
	Year         int        `json:"year,omitempty"`
	MediaType    MediaType  `json:"mediaType"`
	LibraryID    string     `json:"libraryId,omitempty"`
	AddedAt      *time.Time `json:"addedAt,omitempty"`
	UpdatedAt    *time.Time `json:"updatedAt,omitempty"`
	ViewCount    int        `json:"viewCount"`
	LastViewedAt *time.Time `json:"lastViewedAt,omitempty"`
	TmdbID       int64      `json:"tmdbId,omitempty"`
	TvdbID       int64      `json:"tvdbId,omitempty"`
	ImdbID       string     `json:"imdbId,omitempty"`
	SyncedAt     time.Time  `json:"syncedAt"`
}

// WatchEvent is an immutable per-view record.
type WatchEvent struct {
	ID            int64     `json:"id"`
	UserID        string    `json:"userId"`
	RatingKey     string    `json:"ratingKey"`
	MediaType     MediaType `json:"mediaType"`
	ShowTitle     string    `json:"showTitle,omitempty"`
	ShowRatingKey string    `json:"showRatingKey,omitempty"`
	SeasonNumber  int       `json:"seasonNumber,omitempty"`
	EpisodeNumber int       `json:"episodeNumber,omitempty"`
	WatchedAt     time.Time `json:"watchedAt"`
}

// UserVelocity tracks a user's position and consumption rate for one show.
// CurrentPosition and LastWatchedAt are monotonic: the store's upsert never
// lets either go backwards.
type UserVelocity struct {
	UserID          string     `json:"userId"`
	ShowKey         string     `json:"showKey"`
	ShowTitle       string     `json:"showTitle,omitempty"`
	CurrentPosition int        `json:"currentPosition"`
	CurrentSeason   int        `json:"currentSeason"`
	CurrentEpisode  int        `json:"currentEpisode"`
	EpisodesPerDay  float64    `json:"episodesPerDay"`
	EpisodesWatched int        `json:"episodesWatched"`
	LastWatchedAt   *time.Time `json:"lastWatchedAt,omitempty"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// EpisodeStats records the analyzer's verdict for one episode. Rows are kept
// after deletion for audit.
type EpisodeStats struct {
	ShowRatingKey    string     `json:"showRatingKey"`
	SeasonNumber     int        `json:"seasonNumber"`
	EpisodeNumber    int        `json:"episodeNumber"`
	VelocityPosition int        `json:"velocityPosition"`
	IsAvailable      bool       `json:"isAvailable"`
	SafeToDelete     bool       `json:"safeToDelete"`
	DeletionReason   string     `json:"deletionReason,omitempty"`
	UsersBeyond      []string   `json:"usersBeyond,omitempty"`
	UsersApproaching []string   `json:"usersApproaching,omitempty"`
	LastAnalyzedAt   time.Time  `json:"lastAnalyzedAt"`
	DeletedAt        *time.Time `json:"deletedAt,omitempty"`
	DeletedByCleanup bool       `json:"deletedByCleanup,omitempty"`
}

// VelocitySnapshot is an append-only point-in-time velocity reading.
type VelocitySnapshot struct {
	ID         int64     `json:"id"`
	UserID     string    `json:"userId"`
	ShowKey    string    `json:"showKey"`
	Velocity   float64   `json:"velocity"`
	Position   int       `json:"position"`
	RecordedAt time.Time `json:"recordedAt"`
}

// LifecycleRecord links a (tmdbId, mediaType) pair to a media-server rating key.
type LifecycleRecord struct {
	TmdbID    int64           `json:"tmdbId"`
	MediaType MediaType       `json:"mediaType"`
	RatingKey string          `json:"ratingKey,omitempty"`
	Status    LifecycleStatus `json:"status"`
	DeletedAt *time.Time      `json:"deletedAt,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// WatchlistEntry is an item a user wants kept around until watched.
type WatchlistEntry struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"userId"`
	TmdbID    int64     `json:"tmdbId"`
	MediaType MediaType `json:"mediaType"`
	Title     string    `json:"title"`
	AddedAt   time.Time `json:"addedAt"`
	IsActive  bool      `json:"isActive"`
}

// Request is an externally-filed acquisition request. Sync marks requests
// available when the matching item lands in the library.
type Request struct {
	ID          int64      `json:"id"`
	UserID      string     `json:"userId,omitempty"`
	TmdbID      int64      `json:"tmdbId"`
	MediaType   MediaType  `json:"mediaType"`
	Title       string     `json:"title"`
	Status      string     `json:"status"`
	AvailableAt *time.Time `json:"availableAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// ProtectionExclusion marks media that must never be deleted.
type ProtectionExclusion struct {
	TmdbID    int64     `json:"tmdbId"`
	MediaType MediaType `json:"mediaType"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"createdAt"`
}

// QueueItem is a pending episode redownload.
type QueueItem struct {
	ID            string        `json:"id"`
	ShowRatingKey string        `json:"showRatingKey"`
	ShowTitle     string        `json:"showTitle,omitempty"`
	SeasonNumber  int           `json:"seasonNumber"`
	EpisodeNumber int           `json:"episodeNumber"`
	Priority      QueuePriority `json:"priority"`
	Reason        string        `json:"reason,omitempty"`
	NeededBy      *time.Time    `json:"neededBy,omitempty"`
	Status        QueueStatus   `json:"status"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// SyncCursors are the synchronizer's persisted high-water marks.
type SyncCursors struct {
	LastLibrarySync      *time.Time `json:"lastLibrarySync,omitempty"`
	LastWatchHistorySync *time.Time `json:"lastWatchHistorySync,omitempty"`
	LastUserSync         *time.Time `json:"lastUserSync,omitempty"`
	LastLifecycleRepair  *time.Time `json:"lastLifecycleRepair,omitempty"`
	LastRemovalCheck     *time.Time `json:"lastRemovalCheck,omitempty"`
}
