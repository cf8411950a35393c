package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viperarr/viperarr/internal/lifecycle"
	"github.com/viperarr/viperarr/internal/mediaserver"
	"github.com/viperarr/viperarr/internal/radarr"
	"github.com/viperarr/viperarr/internal/sonarr"
	"github.com/viperarr/viperarr/internal/store"
	"github.com/viperarr/viperarr/internal/testutil"
)

var testNow = time.Date(2026, 8, 20, 2, 0, 0, 0, time.UTC)

type fakeMedia struct {
	children map[string][]mediaserver.Item
	deleted  []string
}

func (f *fakeMedia) Type() mediaserver.ServerType             { return mediaserver.ServerTypePlex }
func (f *fakeMedia) TestConnection(ctx context.Context) error { return nil }
func (f *fakeMedia) Libraries(ctx context.Context) ([]mediaserver.Library, error) {
	return nil, nil
}
func (f *fakeMedia) LibraryContents(ctx context.Context, libraryID string) ([]mediaserver.Item, error) {
	return nil, nil
}
func (f *fakeMedia) RecentlyAdded(ctx context.Context, libraryID string, since time.Time) ([]mediaserver.Item, error) {
	return nil, nil
}
func (f *fakeMedia) Item(ctx context.Context, ratingKey string) (*mediaserver.Item, error) {
	return nil, mediaserver.ErrItemNotFound
}
func (f *fakeMedia) Children(ctx context.Context, ratingKey string) ([]mediaserver.Item, error) {
	return f.children[ratingKey], nil
}
func (f *fakeMedia) WatchHistory(ctx context.Context, since time.Time, limit int) ([]mediaserver.HistoryEvent, error) {
	return nil, nil
}
func (f *fakeMedia) DeleteItem(ctx context.Context, ratingKey string) error {
	f.deleted = append(f.deleted, ratingKey)
	return nil
}
func (f *fakeMedia) Users(ctx context.Context) ([]mediaserver.User, error) { return nil, nil }

type fakeTV struct {
	series       map[int64]sonarr.Series
	episodes     map[int64][]sonarr.Episode
	monitored    map[int64]bool
	searched     []int64
	deletedFiles []int64
}

func newFakeTV() *fakeTV {
	return &fakeTV{
		series:    make(map[int64]sonarr.Series),
		episodes:  make(map[int64][]sonarr.Episode),
		monitored: make(map[int64]bool),
	}
}

func (f *fakeTV) SeriesByTvdbID(ctx context.Context, tvdbID int64) (*sonarr.Series, error) {
	s, ok := f.series[tvdbID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}
func (f *fakeTV) EpisodesBySeries(ctx context.Context, seriesID int64) ([]sonarr.Episode, error) {
	return f.episodes[seriesID], nil
}
func (f *fakeTV) MonitorEpisodes(ctx context.Context, ids []int64, monitored bool) error {
	for _, id := range ids {
		f.monitored[id] = monitored
	}
	return nil
}
func (f *fakeTV) SearchEpisodes(ctx context.Context, ids []int64) error {
	f.searched = append(f.searched, ids...)
	return nil
}
func (f *fakeTV) DeleteEpisodeFile(ctx context.Context, fileID int64) error {
	f.deletedFiles = append(f.deletedFiles, fileID)
	return nil
}

type fakeMovies struct {
	movies  map[int64]radarr.Movie
	deleted []int64
}

func (f *fakeMovies) MovieByTmdbID(ctx context.Context, tmdbID int64) (*radarr.Movie, error) {
	m, ok := f.movies[tmdbID]
	if !ok {
		return nil, nil
	}
	return &m, nil
}
func (f *fakeMovies) DeleteMovie(ctx context.Context, id int64, deleteFiles bool) error {
	f.deleted = append(f.deleted, id)
	return nil
}
func (f *fakeMovies) SearchMovie(ctx context.Context, id int64) error { return nil }

type testEnv struct {
	orch   *Orchestrator
	store  *store.Store
	media  *fakeMedia
	tv     *fakeTV
	movies *fakeMovies
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	tdb := testutil.NewTestDB(t)
	st := store.New(tdb.Conn)

	analyzer := lifecycle.NewAnalyzer(st, tdb.Logger)
	analyzer.SetClock(func() time.Time { return testNow })

	media := &fakeMedia{children: make(map[string][]mediaserver.Item)}
	tv := newFakeTV()
	movies := &fakeMovies{movies: make(map[int64]radarr.Movie)}

	orch := New(st, analyzer, media, tv, movies, nil, tdb.Logger)
	orch.SetClock(func() time.Time { return testNow })

	return &testEnv{orch: orch, store: st, media: media, tv: tv, movies: movies}
}

func seedShow(t *testing.T, env *testEnv, ratingKey string, tvdbID, tmdbID int64) {
	t.Helper()
	_, err := env.store.UpsertLibraryItems(context.Background(), []store.LibraryItem{{
		RatingKey: ratingKey,
		Title:     "Slow Burn",
		MediaType: store.MediaTypeShow,
		TvdbID:    tvdbID,
		TmdbID:    tmdbID,
	}})
	require.NoError(t, err)
}

func seedVelocity(t *testing.T, env *testEnv, userID, showKey string, position int, velocity float64, samples int) {
	t.Helper()
	watched := testNow.Add(-2 * 24 * time.Hour)
	require.NoError(t, env.store.UpsertUserVelocity(context.Background(), store.UserVelocity{
		UserID:          userID,
		ShowKey:         showKey,
		CurrentPosition: position,
		EpisodesPerDay:  velocity,
		EpisodesWatched: samples,
		LastWatchedAt:   &watched,
	}))
}

func TestAnalyzerDeletesSafeEpisode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	seedShow(t, env, "show-1", 5, 7)
	seedVelocity(t, env, "u1", "show-1", 305, 2, 8)

	viewed := testNow.Add(-20 * 24 * time.Hour)
	env.media.children["show-1"] = []mediaserver.Item{{
		RatingKey:     "e301",
		Type:          mediaserver.ItemTypeEpisode,
		SeasonNumber:  3,
		EpisodeNumber: 1,
		ViewCount:     1,
		LastViewedAt:  &viewed,
	}}
	env.tv.series[5] = sonarr.Series{ID: 9, TvdbID: 5}
	env.tv.episodes[9] = []sonarr.Episode{
		{ID: 101, SeriesID: 9, SeasonNumber: 3, EpisodeNumber: 1, HasFile: true, EpisodeFileID: 77},
	}

	require.NoError(t, env.orch.RunAnalyzer(ctx, false))

	assert.Contains(t, env.media.deleted, "e301")
	assert.Contains(t, env.tv.deletedFiles, int64(77))
	assert.False(t, env.tv.monitored[101])

	stats, err := env.store.GetEpisodeStats(ctx, "show-1", 3, 1)
	require.NoError(t, err)
	require.NotNil(t, stats.DeletedAt)
	assert.True(t, stats.DeletedByCleanup)

	st := env.orch.Status(ctx)
	require.NotNil(t, st.LastAnalyzer)
	assert.Equal(t, 1, st.LastAnalyzer.EpisodesDeleted)
	assert.False(t, st.IsRunning)
}

func TestAnalyzerDryRunDeletesNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	seedShow(t, env, "show-1", 5, 7)
	seedVelocity(t, env, "u1", "show-1", 305, 2, 8)

	viewed := testNow.Add(-20 * 24 * time.Hour)
	env.media.children["show-1"] = []mediaserver.Item{{
		RatingKey:     "e301",
		Type:          mediaserver.ItemTypeEpisode,
		SeasonNumber:  3,
		EpisodeNumber: 1,
		ViewCount:     1,
		LastViewedAt:  &viewed,
	}}

	require.NoError(t, env.orch.RunAnalyzer(ctx, true))

	assert.Empty(t, env.media.deleted)
	assert.Empty(t, env.tv.deletedFiles)

	stats, err := env.store.GetEpisodeStats(ctx, "show-1", 3, 1)
	require.NoError(t, err)
	assert.True(t, stats.SafeToDelete, "verdict is still recorded")
	assert.Nil(t, stats.DeletedAt)
}

func TestEmergencyEnqueuedOncePerPass(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	seedShow(t, env, "show-1", 5, 7)
	// 18 hours until the viewer reaches the missing S4E5.
	seedVelocity(t, env, "u1", "show-1", 404, 4.0/3.0, 6)

	env.tv.series[5] = sonarr.Series{ID: 9, TvdbID: 5}
	env.tv.episodes[9] = []sonarr.Episode{
		{ID: 200, SeriesID: 9, SeasonNumber: 4, EpisodeNumber: 5, HasFile: false},
	}

	require.NoError(t, env.orch.RunAnalyzer(ctx, false))

	normal, emergency, err := env.store.CountQueuedRedownloads(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), normal)
	assert.Equal(t, int64(1), emergency)

	// A second pass does not stack a duplicate entry.
	require.NoError(t, env.orch.RunAnalyzer(ctx, false))
	_, emergency, err = env.store.CountQueuedRedownloads(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), emergency)
}

func TestProcessQueueTriggersSearch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	seedShow(t, env, "show-1", 5, 7)
	env.tv.series[5] = sonarr.Series{ID: 9, TvdbID: 5}
	env.tv.episodes[9] = []sonarr.Episode{
		{ID: 200, SeriesID: 9, SeasonNumber: 4, EpisodeNumber: 5, HasFile: false},
	}

	_, err := env.store.EnqueueRedownload(ctx, store.QueueItem{
		ID:            "q1",
		ShowRatingKey: "show-1",
		ShowTitle:     "Slow Burn",
		SeasonNumber:  4,
		EpisodeNumber: 5,
		Priority:      store.PriorityEmergency,
	})
	require.NoError(t, err)

	require.NoError(t, env.orch.ProcessQueue(ctx))

	assert.True(t, env.tv.monitored[200])
	assert.Equal(t, []int64{200}, env.tv.searched)

	open, err := env.store.ListQueuedRedownloads(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, open, "item moved to done")

	st := env.orch.Status(ctx)
	require.NotNil(t, st.LastQueue)
	assert.Equal(t, 1, st.LastQueue.Succeeded)
}

func TestPassLockMutualExclusion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.orch.running.Store(true)
	assert.ErrorIs(t, env.orch.RunAnalyzer(ctx, false), ErrPassRunning)
	assert.ErrorIs(t, env.orch.ProcessQueue(ctx), ErrPassRunning)
	assert.ErrorIs(t, env.orch.RunVelocityCleanup(ctx, false), ErrPassRunning)

	env.orch.ResetLock()
	assert.NoError(t, env.orch.RunAnalyzer(ctx, false))
}

func TestPromoteWatchlistItems(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	seedShow(t, env, "show-1", 5, 7)
	require.NoError(t, env.store.UpsertWatchlistEntry(ctx, store.WatchlistEntry{
		UserID:    "carol",
		TmdbID:    7,
		MediaType: store.MediaTypeShow,
		Title:     "Slow Burn",
		AddedAt:   testNow,
		IsActive:  true,
	}))

	_, err := env.store.EnqueueRedownload(ctx, store.QueueItem{
		ID:            "q1",
		ShowRatingKey: "show-1",
		ShowTitle:     "Slow Burn",
		SeasonNumber:  4,
		EpisodeNumber: 5,
		Priority:      store.PriorityNormal,
	})
	require.NoError(t, err)

	require.NoError(t, env.orch.PromoteWatchlistItems(ctx))

	_, emergency, err := env.store.CountQueuedRedownloads(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), emergency)
}

func TestMoviePassDeletes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	watched := testNow.Add(-30 * 24 * time.Hour)
	_, err := env.store.UpsertLibraryItems(ctx, []store.LibraryItem{{
		RatingKey:    "m1",
		Title:        "The Heist",
		MediaType:    store.MediaTypeMovie,
		TmdbID:       900,
		ViewCount:    1,
		LastViewedAt: &watched,
	}})
	require.NoError(t, err)
	require.NoError(t, env.store.UpsertLifecycleRecord(ctx, store.LifecycleRecord{
		TmdbID:    900,
		MediaType: store.MediaTypeMovie,
		RatingKey: "m1",
		Status:    store.LifecycleStatusAvailable,
	}))
	env.movies.movies[900] = radarr.Movie{ID: 31, TmdbID: 900, Title: "The Heist"}

	require.NoError(t, env.orch.RunAnalyzer(ctx, false))

	assert.Equal(t, []int64{31}, env.movies.deleted)
	assert.Contains(t, env.media.deleted, "m1")

	rec, err := env.store.GetLifecycleRecord(ctx, 900, store.MediaTypeMovie)
	require.NoError(t, err)
	assert.Equal(t, store.LifecycleStatusDeleted, rec.Status)
}

func TestVelocityMonitorQueuesAfterSpeedup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	seedShow(t, env, "show-1", 5, 7)
	seedVelocity(t, env, "u1", "show-1", 404, 4.0/3.0, 6)
	for i := 0; i < 5; i++ {
		require.NoError(t, env.store.AppendVelocitySnapshot(ctx, store.VelocitySnapshot{
			UserID:     "u1",
			ShowKey:    "show-1",
			Velocity:   0.2,
			Position:   400,
			RecordedAt: testNow.Add(-time.Duration(5-i) * 24 * time.Hour),
		}))
	}

	env.tv.series[5] = sonarr.Series{ID: 9, TvdbID: 5}
	env.tv.episodes[9] = []sonarr.Episode{
		{ID: 200, SeriesID: 9, SeasonNumber: 4, EpisodeNumber: 5, HasFile: false},
	}

	require.NoError(t, env.orch.RunVelocityMonitor(ctx))

	_, emergency, err := env.store.CountQueuedRedownloads(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), emergency)

	st := env.orch.Status(ctx)
	require.NotNil(t, st.LastVelocityMonitor)
	assert.Equal(t, 1, st.LastVelocityMonitor.ChangesDetected)
}

func TestVelocityCleanup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	stale := testNow.AddDate(0, 0, -120)
	require.NoError(t, env.store.UpsertUserVelocity(ctx, store.UserVelocity{
		UserID:          "ghost",
		ShowKey:         "show-9",
		CurrentPosition: 101,
		LastWatchedAt:   &stale,
	}))
	seedVelocity(t, env, "u1", "show-1", 305, 2, 8)

	require.NoError(t, env.orch.RunVelocityCleanup(ctx, true))
	st := env.orch.LastVelocityCleanup()
	require.NotNil(t, st)
	assert.True(t, st.DryRun)
	assert.Equal(t, int64(1), st.VelocitiesPruned)

	all, err := env.store.ListAllVelocities(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2, "dry run removes nothing")

	require.NoError(t, env.orch.RunVelocityCleanup(ctx, false))
	all, err = env.store.ListAllVelocities(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
