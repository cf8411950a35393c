package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viperarr/viperarr/internal/store"
	"github.com/viperarr/viperarr/internal/testutil"
)

func newAnalyzer(t *testing.T) (*Analyzer, *store.Store) {
	t.Helper()
	tdb := testutil.NewTestDB(t)
	st := store.New(tdb.Conn)
	a := NewAnalyzer(st, tdb.Logger)
	a.SetClock(func() time.Time { return testNow })
	return a, st
}

func seedViewer(t *testing.T, st *store.Store, userID, showKey string, position int, velocity float64, samples int) {
	t.Helper()
	watched := testNow.Add(-2 * 24 * time.Hour)
	require.NoError(t, st.UpsertUserVelocity(context.Background(), store.UserVelocity{
		UserID:          userID,
		ShowKey:         showKey,
		CurrentPosition: position,
		CurrentSeason:   position / 100,
		CurrentEpisode:  position % 100,
		EpisodesPerDay:  velocity,
		EpisodesWatched: samples,
		LastWatchedAt:   &watched,
	}))
}

func TestAnalyzeShowPersistsVerdicts(t *testing.T) {
	a, st := newAnalyzer(t)
	ctx := context.Background()

	seedViewer(t, st, "u1", "show-1", 305, 2, 8)
	require.NoError(t, st.SetUserDirectory(ctx, map[string]string{"u1": "Alice"}))

	show := store.LibraryItem{RatingKey: "show-1", Title: "Slow Burn", MediaType: store.MediaTypeShow, TmdbID: 7}
	episodes := []Episode{
		{RatingKey: "e304", Season: 3, Number: 4, IsAvailable: true, ViewCount: 1, LastViewedAt: daysAgo(20)},
		{RatingKey: "e310", Season: 3, Number: 10, IsAvailable: true},
	}

	verdicts, err := a.AnalyzeShow(ctx, DefaultSettings(), show, episodes)
	require.NoError(t, err)
	require.Len(t, verdicts, 2)
	assert.True(t, verdicts[0].SafeToDelete)
	assert.Contains(t, verdicts[1].Reason, "In buffer for Alice")

	stats, err := st.GetEpisodeStats(ctx, "show-1", 3, 10)
	require.NoError(t, err)
	assert.False(t, stats.SafeToDelete)
	assert.Equal(t, 310, stats.VelocityPosition)
	assert.True(t, stats.IsAvailable)
	assert.Equal(t, []string{"Alice"}, stats.UsersApproaching)
}

func TestWatchlistGraceProtectsShow(t *testing.T) {
	a, st := newAnalyzer(t)
	ctx := context.Background()

	// Carol added the show three days ago and has not started it.
	require.NoError(t, st.UpsertWatchlistEntry(ctx, store.WatchlistEntry{
		UserID:    "carol",
		TmdbID:    42,
		MediaType: store.MediaTypeShow,
		Title:     "Slow Burn",
		AddedAt:   testNow.Add(-3 * 24 * time.Hour),
		IsActive:  true,
	}))
	require.NoError(t, st.SetUserDirectory(ctx, map[string]string{"carol": "Carol"}))
	seedViewer(t, st, "dave", "show-42", 512, 2, 10)

	show := store.LibraryItem{RatingKey: "show-42", MediaType: store.MediaTypeShow, TmdbID: 42}
	episodes := []Episode{
		{RatingKey: "e101", Season: 1, Number: 1, IsAvailable: true, ViewCount: 4, LastViewedAt: daysAgo(90)},
		{RatingKey: "e102", Season: 1, Number: 2, IsAvailable: true, ViewCount: 4, LastViewedAt: daysAgo(90)},
	}

	verdicts, err := a.AnalyzeShow(ctx, DefaultSettings(), show, episodes)
	require.NoError(t, err)
	require.Len(t, verdicts, 2)
	for _, v := range verdicts {
		assert.False(t, v.SafeToDelete)
		assert.Equal(t, "On watchlist for Carol (not started)", v.Reason)
	}
}

func TestGraceLiftsOnceViewerStarts(t *testing.T) {
	a, st := newAnalyzer(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertWatchlistEntry(ctx, store.WatchlistEntry{
		UserID:    "carol",
		TmdbID:    42,
		MediaType: store.MediaTypeShow,
		Title:     "Slow Burn",
		AddedAt:   testNow.Add(-3 * 24 * time.Hour),
		IsActive:  true,
	}))
	seedViewer(t, st, "carol", "show-42", 305, 2, 8)

	show := store.LibraryItem{RatingKey: "show-42", MediaType: store.MediaTypeShow, TmdbID: 42}
	episodes := []Episode{
		{RatingKey: "e101", Season: 1, Number: 1, IsAvailable: true, ViewCount: 1, LastViewedAt: daysAgo(60)},
	}

	verdicts, err := a.AnalyzeShow(ctx, DefaultSettings(), show, episodes)
	require.NoError(t, err)
	require.Len(t, verdicts, 1)
	assert.True(t, verdicts[0].SafeToDelete, "grace lifts once the watcher has a position")
}

func TestReAddedWatchlistEntryGetsGraceWindow(t *testing.T) {
	a, st := newAnalyzer(t)
	ctx := context.Background()

	// Carol watched the show months ago, then put it back on her watchlist
	// three days ago and has not picked it up yet.
	lastWatched := testNow.Add(-120 * 24 * time.Hour)
	require.NoError(t, st.UpsertUserVelocity(ctx, store.UserVelocity{
		UserID:          "carol",
		ShowKey:         "show-42",
		CurrentPosition: 305,
		CurrentSeason:   3,
		CurrentEpisode:  5,
		EpisodesPerDay:  2,
		EpisodesWatched: 8,
		LastWatchedAt:   &lastWatched,
	}))
	require.NoError(t, st.UpsertWatchlistEntry(ctx, store.WatchlistEntry{
		UserID:    "carol",
		TmdbID:    42,
		MediaType: store.MediaTypeShow,
		Title:     "Slow Burn",
		AddedAt:   testNow.Add(-3 * 24 * time.Hour),
		IsActive:  true,
	}))
	require.NoError(t, st.SetUserDirectory(ctx, map[string]string{"carol": "Carol"}))

	show := store.LibraryItem{RatingKey: "show-42", MediaType: store.MediaTypeShow, TmdbID: 42}
	episodes := []Episode{
		{RatingKey: "e101", Season: 1, Number: 1, IsAvailable: true, ViewCount: 4, LastViewedAt: daysAgo(90)},
	}

	verdicts, err := a.AnalyzeShow(ctx, DefaultSettings(), show, episodes)
	require.NoError(t, err)
	require.Len(t, verdicts, 1)
	assert.False(t, verdicts[0].SafeToDelete)
	assert.Equal(t, "On watchlist for Carol (grace window)", verdicts[0].Reason)
}

func TestGraceWindowExpires(t *testing.T) {
	a, st := newAnalyzer(t)
	ctx := context.Background()

	// Re-added 20 days ago: past the 14-day window, so the stale entry no
	// longer protects anything.
	lastWatched := testNow.Add(-120 * 24 * time.Hour)
	require.NoError(t, st.UpsertUserVelocity(ctx, store.UserVelocity{
		UserID:          "carol",
		ShowKey:         "show-42",
		CurrentPosition: 305,
		CurrentSeason:   3,
		CurrentEpisode:  5,
		EpisodesPerDay:  2,
		EpisodesWatched: 8,
		LastWatchedAt:   &lastWatched,
	}))
	require.NoError(t, st.UpsertWatchlistEntry(ctx, store.WatchlistEntry{
		UserID:    "carol",
		TmdbID:    42,
		MediaType: store.MediaTypeShow,
		Title:     "Slow Burn",
		AddedAt:   testNow.Add(-20 * 24 * time.Hour),
		IsActive:  true,
	}))

	show := store.LibraryItem{RatingKey: "show-42", MediaType: store.MediaTypeShow, TmdbID: 42}
	episodes := []Episode{
		{RatingKey: "e101", Season: 1, Number: 1, IsAvailable: true, ViewCount: 4, LastViewedAt: daysAgo(90)},
	}

	verdicts, err := a.AnalyzeShow(ctx, DefaultSettings(), show, episodes)
	require.NoError(t, err)
	require.Len(t, verdicts, 1)
	assert.True(t, verdicts[0].SafeToDelete)
}

func TestOpenRequestByNonStarterProtects(t *testing.T) {
	a, st := newAnalyzer(t)
	ctx := context.Background()

	_, err := st.CreateRequest(ctx, store.Request{
		UserID:    "erin",
		TmdbID:    42,
		MediaType: store.MediaTypeShow,
		Title:     "Slow Burn",
		Status:    "pending",
	})
	require.NoError(t, err)
	seedViewer(t, st, "dave", "show-42", 512, 2, 10)

	show := store.LibraryItem{RatingKey: "show-42", MediaType: store.MediaTypeShow, TmdbID: 42}
	episodes := []Episode{
		{RatingKey: "e101", Season: 1, Number: 1, IsAvailable: true, ViewCount: 4, LastViewedAt: daysAgo(90)},
	}

	verdicts, err := a.AnalyzeShow(ctx, DefaultSettings(), show, episodes)
	require.NoError(t, err)
	require.Len(t, verdicts, 1)
	assert.False(t, verdicts[0].SafeToDelete)
	assert.Equal(t, "Requested by erin (not started)", verdicts[0].Reason)
}

func TestManualProtectionFromStore(t *testing.T) {
	a, st := newAnalyzer(t)
	ctx := context.Background()

	require.NoError(t, st.AddProtectionExclusion(ctx, 42, store.MediaTypeShow))
	seedViewer(t, st, "dave", "show-42", 512, 2, 10)

	show := store.LibraryItem{RatingKey: "show-42", MediaType: store.MediaTypeShow, TmdbID: 42}
	episodes := []Episode{
		{RatingKey: "e101", Season: 1, Number: 1, IsAvailable: true, ViewCount: 4, LastViewedAt: daysAgo(90)},
	}

	verdicts, err := a.AnalyzeShow(ctx, DefaultSettings(), show, episodes)
	require.NoError(t, err)
	require.Len(t, verdicts, 1)
	assert.False(t, verdicts[0].SafeToDelete)
	assert.Equal(t, "Manually protected", verdicts[0].Reason)
}

func TestAnalyzeMovie(t *testing.T) {
	a, st := newAnalyzer(t)
	ctx := context.Background()

	watched := testNow.Add(-30 * 24 * time.Hour)
	movie := store.LibraryItem{
		RatingKey:    "m1",
		Title:        "The Heist",
		MediaType:    store.MediaTypeMovie,
		TmdbID:       900,
		ViewCount:    1,
		LastViewedAt: &watched,
	}

	v := a.AnalyzeMovie(ctx, DefaultSettings(), movie)
	assert.True(t, v.SafeToDelete)

	require.NoError(t, st.UpsertWatchlistEntry(ctx, store.WatchlistEntry{
		UserID:    "carol",
		TmdbID:    900,
		MediaType: store.MediaTypeMovie,
		Title:     "The Heist",
		AddedAt:   testNow,
		IsActive:  true,
	}))
	v = a.AnalyzeMovie(ctx, DefaultSettings(), movie)
	assert.False(t, v.SafeToDelete)
	assert.Equal(t, "On a watchlist", v.Reason)
}

func TestCheckVelocitiesDetectsSpeedup(t *testing.T) {
	a, st := newAnalyzer(t)
	ctx := context.Background()

	seedViewer(t, st, "u1", "show-1", 305, 3, 8)
	for i := 0; i < 5; i++ {
		require.NoError(t, st.AppendVelocitySnapshot(ctx, store.VelocitySnapshot{
			UserID:     "u1",
			ShowKey:    "show-1",
			Velocity:   1,
			Position:   300 + i,
			RecordedAt: testNow.Add(-time.Duration(5-i) * 24 * time.Hour),
		}))
	}

	changes, err := a.CheckVelocities(ctx, DefaultSettings())
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "u1", changes[0].UserID)
	assert.True(t, changes[0].Increased)
	assert.InDelta(t, 1.0, changes[0].Previous, 0.001)

	// A fresh snapshot of the current rate was appended.
	snaps, err := st.ListRecentSnapshots(ctx, "u1", "show-1", 10)
	require.NoError(t, err)
	require.Len(t, snaps, 6)
	assert.InDelta(t, 3.0, snaps[0].Velocity, 0.001)
}

func TestCheckVelocitiesNoBaseline(t *testing.T) {
	a, st := newAnalyzer(t)
	ctx := context.Background()

	seedViewer(t, st, "u1", "show-1", 305, 3, 8)

	changes, err := a.CheckVelocities(ctx, DefaultSettings())
	require.NoError(t, err)
	assert.Empty(t, changes)

	snaps, err := st.ListRecentSnapshots(ctx, "u1", "show-1", 10)
	require.NoError(t, err)
	require.Len(t, snaps, 1, "first snapshot seeds the baseline")
}
