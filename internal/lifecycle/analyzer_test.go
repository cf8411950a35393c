package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viperarr/viperarr/internal/store"
)

var testNow = time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

func activeViewer(t *testing.T, settings Settings, userID string, position int, velocity float64, samples int) Viewer {
	t.Helper()
	watched := testNow.Add(-2 * 24 * time.Hour)
	v := NewViewer(testNow, settings, store.UserVelocity{
		UserID:          userID,
		ShowKey:         "show-1",
		CurrentPosition: position,
		EpisodesPerDay:  velocity,
		EpisodesWatched: samples,
		LastWatchedAt:   &watched,
	}, userID)
	require.True(t, v.Active)
	return v
}

func daysAgo(d int) *time.Time {
	t := testNow.Add(-time.Duration(d) * 24 * time.Hour)
	return &t
}

func TestLoneViewerCaughtUp(t *testing.T) {
	settings := DefaultSettings()
	viewer := activeViewer(t, settings, "alice", 305, 2, 8)
	assert.Equal(t, 325, viewer.ProtectUntil, "buffer capped at maxEpisodesAhead")
	assert.Equal(t, BufferMeasured, viewer.Source)

	show := ShowContext{RatingKey: "show-1", Title: "Slow Burn"}
	episodes := []Episode{
		{RatingKey: "e304", Season: 3, Number: 4, IsAvailable: true, ViewCount: 1, LastViewedAt: daysAgo(20)},
		{RatingKey: "e310", Season: 3, Number: 10, IsAvailable: true},
		{RatingKey: "e405", Season: 4, Number: 5, IsAvailable: true},
	}

	verdicts := AnalyzeEpisodes(testNow, settings, show, episodes, []Viewer{viewer})
	require.Len(t, verdicts, 3)

	assert.True(t, verdicts[0].SafeToDelete, "watched long ago and passed")
	assert.Equal(t, "Past all active viewers", verdicts[0].Reason)

	assert.False(t, verdicts[1].SafeToDelete, "inside the buffer")
	assert.Contains(t, verdicts[1].Reason, "In buffer for alice")

	assert.True(t, verdicts[2].SafeToDelete, "beyond every horizon")
	assert.Equal(t, "Far ahead of all active viewers", verdicts[2].Reason)
}

func TestLaggingViewerDoesNotBlockDeletion(t *testing.T) {
	settings := DefaultSettings()
	alice := activeViewer(t, settings, "alice", 406, 3, 12)
	bob := activeViewer(t, settings, "bob", 302, 0.5, 5)
	assert.Equal(t, 310, bob.ProtectUntil)

	show := ShowContext{RatingKey: "show-1"}
	episodes := []Episode{
		{RatingKey: "e401", Season: 4, Number: 1, IsAvailable: true, ViewCount: 1, LastViewedAt: daysAgo(20)},
	}

	verdicts := AnalyzeEpisodes(testNow, settings, show, episodes, []Viewer{alice, bob})
	require.Len(t, verdicts, 1)
	assert.True(t, verdicts[0].SafeToDelete, "bob is too far behind to protect it")
	assert.Equal(t, []string{"alice"}, verdicts[0].UsersBeyond)
	assert.Equal(t, []string{"bob"}, verdicts[0].UsersApproaching)
}

func TestApproachingSoonProtects(t *testing.T) {
	settings := DefaultSettings()
	viewer := activeViewer(t, settings, "alice", 301, 1, 6)

	show := ShowContext{RatingKey: "show-1"}
	episodes := []Episode{
		{RatingKey: "e305", Season: 3, Number: 5, IsAvailable: true},
	}

	verdicts := AnalyzeEpisodes(testNow, settings, show, episodes, []Viewer{viewer})
	require.Len(t, verdicts, 1)
	assert.False(t, verdicts[0].SafeToDelete)
	assert.Contains(t, verdicts[0].Reason, "In buffer for alice")
}

func TestManualProtectionOverridesEverything(t *testing.T) {
	settings := DefaultSettings()
	viewer := activeViewer(t, settings, "alice", 500, 2, 8)

	show := ShowContext{RatingKey: "show-1", TmdbID: 42, ManuallyProtected: true}
	episodes := []Episode{
		{RatingKey: "e101", Season: 1, Number: 1, IsAvailable: true, ViewCount: 3, LastViewedAt: daysAgo(120)},
	}

	verdicts := AnalyzeEpisodes(testNow, settings, show, episodes, []Viewer{viewer})
	require.Len(t, verdicts, 1)
	assert.False(t, verdicts[0].SafeToDelete)
	assert.Equal(t, "Manually protected", verdicts[0].Reason)
}

func TestGraceProtectionNamesReason(t *testing.T) {
	settings := DefaultSettings()
	show := ShowContext{
		RatingKey:      "show-1",
		TmdbID:         42,
		GraceProtected: true,
		GraceReason:    "On watchlist for Carol (not started)",
	}
	episodes := []Episode{
		{RatingKey: "e101", Season: 1, Number: 1, IsAvailable: true, ViewCount: 2, LastViewedAt: daysAgo(60)},
		{RatingKey: "e102", Season: 1, Number: 2, IsAvailable: true},
	}

	verdicts := AnalyzeEpisodes(testNow, settings, show, episodes, nil)
	require.Len(t, verdicts, 2)
	for _, v := range verdicts {
		assert.False(t, v.SafeToDelete)
		assert.Equal(t, "On watchlist for Carol (not started)", v.Reason)
	}
}

func TestRequireAllUsersWatched(t *testing.T) {
	settings := DefaultSettings()
	settings.RequireAllUsersWatched = true

	alice := activeViewer(t, settings, "alice", 410, 3, 12)
	// Bob went idle with S4E8 still inside his buffer; only strict mode keeps it.
	stale := testNow.Add(-60 * 24 * time.Hour)
	bob := NewViewer(testNow, settings, store.UserVelocity{
		UserID:          "bob",
		CurrentPosition: 405,
		EpisodesPerDay:  0.2,
		EpisodesWatched: 6,
		LastWatchedAt:   &stale,
	}, "bob")
	require.False(t, bob.Active)
	require.True(t, bob.inBuffer(408))

	show := ShowContext{RatingKey: "show-1"}
	episodes := []Episode{
		{RatingKey: "e408", Season: 4, Number: 8, IsAvailable: true, ViewCount: 1, LastViewedAt: daysAgo(30)},
	}

	verdicts := AnalyzeEpisodes(testNow, settings, show, episodes, []Viewer{alice, bob})
	require.Len(t, verdicts, 1)
	assert.False(t, verdicts[0].SafeToDelete)
	assert.Equal(t, "Waiting for bob to watch", verdicts[0].Reason)
}

func TestNeverWatchedGuard(t *testing.T) {
	settings := DefaultSettings()
	settings.TrimAheadEnabled = false
	viewer := activeViewer(t, settings, "alice", 0, 0, 0)

	show := ShowContext{RatingKey: "show-1"}
	episodes := []Episode{
		{RatingKey: "e501", Season: 5, Number: 1, IsAvailable: true},
	}

	verdicts := AnalyzeEpisodes(testNow, settings, show, episodes, []Viewer{viewer})
	require.Len(t, verdicts, 1)
	assert.False(t, verdicts[0].SafeToDelete)
	assert.Equal(t, "Never watched", verdicts[0].Reason)
}

func TestRecentWatchProtects(t *testing.T) {
	settings := DefaultSettings()
	viewer := activeViewer(t, settings, "alice", 305, 2, 8)

	show := ShowContext{RatingKey: "show-1"}
	episodes := []Episode{
		{RatingKey: "e301", Season: 3, Number: 1, IsAvailable: true, ViewCount: 1, LastViewedAt: daysAgo(3)},
	}

	verdicts := AnalyzeEpisodes(testNow, settings, show, episodes, []Viewer{viewer})
	require.Len(t, verdicts, 1)
	assert.False(t, verdicts[0].SafeToDelete)
	assert.Contains(t, verdicts[0].Reason, "Watched 3 days ago")
}

func TestEmergencyRedownload(t *testing.T) {
	settings := DefaultSettings()
	// 18 hours until the viewer reaches S4E5.
	viewer := activeViewer(t, settings, "alice", 404, 4.0/3.0, 6)

	show := ShowContext{RatingKey: "show-1"}
	episodes := []Episode{
		{RatingKey: "e405", Season: 4, Number: 5, IsAvailable: false},
	}

	verdicts := AnalyzeEpisodes(testNow, settings, show, episodes, []Viewer{viewer})
	require.Len(t, verdicts, 1)

	v := verdicts[0]
	assert.True(t, v.NeedsRedownload)
	assert.True(t, v.NeedsEmergency(settings))
	assert.InDelta(t, 0.75, v.DaysUntilNeeded, 0.001)
	assert.True(t, v.RedownloadBy.After(testNow))
}

func TestRedownloadOutsideLeadWindow(t *testing.T) {
	settings := DefaultSettings()
	viewer := activeViewer(t, settings, "alice", 304, 0.5, 6)

	show := ShowContext{RatingKey: "show-1"}
	episodes := []Episode{
		{RatingKey: "e320", Season: 3, Number: 20, IsAvailable: false},
	}

	verdicts := AnalyzeEpisodes(testNow, settings, show, episodes, []Viewer{viewer})
	require.Len(t, verdicts, 1)
	assert.False(t, verdicts[0].NeedsRedownload, "32 days out is not urgent")
	assert.False(t, verdicts[0].NeedsEmergency(settings))
}

func TestBufferCappedAtMaxEpisodesAhead(t *testing.T) {
	settings := DefaultSettings()
	viewer := activeViewer(t, settings, "alice", 100, 50, 30)
	assert.LessOrEqual(t, viewer.ProtectUntil, viewer.Position+settings.MaxEpisodesAhead)
}

func TestInactiveViewerIgnored(t *testing.T) {
	settings := DefaultSettings()
	stale := testNow.Add(-60 * 24 * time.Hour)
	viewer := NewViewer(testNow, settings, store.UserVelocity{
		UserID:          "ghost",
		CurrentPosition: 101,
		EpisodesPerDay:  2,
		EpisodesWatched: 10,
		LastWatchedAt:   &stale,
	}, "ghost")
	require.False(t, viewer.Active)

	show := ShowContext{RatingKey: "show-1"}
	episodes := []Episode{
		{RatingKey: "e103", Season: 1, Number: 3, IsAvailable: true},
	}

	verdicts := AnalyzeEpisodes(testNow, settings, show, episodes, []Viewer{viewer})
	require.Len(t, verdicts, 1)
	assert.False(t, verdicts[0].SafeToDelete)
	assert.Equal(t, "Never watched", verdicts[0].Reason)
}

func TestOutOfRangeEpisodeSkipped(t *testing.T) {
	settings := DefaultSettings()
	show := ShowContext{RatingKey: "show-1"}
	episodes := []Episode{
		{RatingKey: "e1", Season: 1, Number: 150, IsAvailable: true},
		{RatingKey: "e2", Season: 1, Number: 2, IsAvailable: true},
	}

	verdicts := AnalyzeEpisodes(testNow, settings, show, episodes, nil)
	require.Len(t, verdicts, 1)
	assert.Equal(t, "e2", verdicts[0].RatingKey)
}

func TestDecideMovie(t *testing.T) {
	settings := DefaultSettings()

	tests := []struct {
		name   string
		facts  MovieFacts
		safe   bool
		reason string
	}{
		{
			name:   "manually protected",
			facts:  MovieFacts{ManuallyProtected: true, ViewCount: 2, LastViewedAt: daysAgo(200)},
			safe:   false,
			reason: "Manually protected",
		},
		{
			name:   "on a watchlist",
			facts:  MovieFacts{OnWatchlist: true},
			safe:   false,
			reason: "On a watchlist",
		},
		{
			name:  "watched long ago",
			facts: MovieFacts{ViewCount: 1, LastViewedAt: daysAgo(30)},
			safe:  true,
		},
		{
			name:  "watched recently",
			facts: MovieFacts{ViewCount: 1, LastViewedAt: daysAgo(5)},
			safe:  false,
		},
		{
			name:  "unwatched past retention",
			facts: MovieFacts{AddedAt: daysAgo(120)},
			safe:  true,
		},
		{
			name:  "unwatched within retention",
			facts: MovieFacts{AddedAt: daysAgo(30)},
			safe:  false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := DecideMovie(testNow, settings, tt.facts)
			assert.Equal(t, tt.safe, v.SafeToDelete)
			if tt.reason != "" {
				assert.Equal(t, tt.reason, v.Reason)
			}
		})
	}
}

func TestDetectVelocityChange(t *testing.T) {
	current := store.UserVelocity{UserID: "u1", ShowKey: "s1", EpisodesPerDay: 3}

	snaps := func(velocities ...float64) []store.VelocitySnapshot {
		out := make([]store.VelocitySnapshot, 0, len(velocities))
		for _, v := range velocities {
			out = append(out, store.VelocitySnapshot{UserID: "u1", ShowKey: "s1", Velocity: v})
		}
		return out
	}

	change := DetectVelocityChange(current, snaps(1, 1, 1, 1, 1), 0.5)
	require.NotNil(t, change)
	assert.True(t, change.Increased)
	assert.InDelta(t, 1.0, change.Previous, 0.001)
	assert.InDelta(t, 3.0, change.Current, 0.001)

	assert.Nil(t, DetectVelocityChange(current, nil, 0.5), "no baseline")
	assert.Nil(t, DetectVelocityChange(current, snaps(2.9, 3.1, 3.0), 0.5), "within threshold")
	assert.Nil(t, DetectVelocityChange(current, snaps(0, 0, 0), 0.5), "idle baseline ignored")

	slowed := store.UserVelocity{UserID: "u1", ShowKey: "s1", EpisodesPerDay: 0.5}
	change = DetectVelocityChange(slowed, snaps(2, 2, 2), 0.5)
	require.NotNil(t, change)
	assert.False(t, change.Increased)
}
