package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/viperarr/viperarr/internal/store"
)

// Analyzer wraps the pure decision core with state access: it assembles
// viewers and protection facts from the store, runs the checks, and persists
// per-episode verdicts.
type Analyzer struct {
	store  *store.Store
	logger zerolog.Logger
	now    func() time.Time
}

// NewAnalyzer creates the analyzer service.
func NewAnalyzer(st *store.Store, logger zerolog.Logger) *Analyzer {
	return &Analyzer{
		store:  st,
		logger: logger.With().Str("component", "lifecycle").Logger(),
		now:    time.Now,
	}
}

// SetClock overrides the time source for tests.
func (a *Analyzer) SetClock(now func() time.Time) { a.now = now }

// Settings loads the analyzer knobs from the store.
func (a *Analyzer) Settings(ctx context.Context) (Settings, error) {
	return LoadSettings(ctx, a.store)
}

// AnalyzeShow evaluates every episode of a show and persists the verdicts.
// The episodes slice comes from the caller's media-server view so the
// analyzer stays free of transport concerns.
func (a *Analyzer) AnalyzeShow(ctx context.Context, settings Settings, show store.LibraryItem, episodes []Episode) ([]Verdict, error) {
	now := a.now().UTC()

	showCtx, err := a.showContext(ctx, settings, show)
	if err != nil {
		return nil, err
	}

	viewers, err := a.viewers(ctx, settings, show.RatingKey, now)
	if err != nil {
		return nil, fmt.Errorf("viewers for %s: %w", show.RatingKey, err)
	}

	verdicts := AnalyzeEpisodes(now, settings, showCtx, episodes, viewers)

	available := make(map[int]bool, len(episodes))
	for _, ep := range episodes {
		available[ep.Season*1000+ep.Number] = ep.IsAvailable
	}
	stats := make([]store.EpisodeStats, 0, len(verdicts))
	for _, v := range verdicts {
		stats = append(stats, store.EpisodeStats{
			ShowRatingKey:    show.RatingKey,
			SeasonNumber:     v.Season,
			EpisodeNumber:    v.Number,
			VelocityPosition: v.Position,
			IsAvailable:      available[v.Season*1000+v.Number],
			SafeToDelete:     v.SafeToDelete,
			DeletionReason:   v.Reason,
			UsersBeyond:      v.UsersBeyond,
			UsersApproaching: v.UsersApproaching,
			LastAnalyzedAt:   now,
		})
	}
	if err := a.store.UpsertEpisodeStats(ctx, stats); err != nil {
		return nil, fmt.Errorf("persist verdicts for %s: %w", show.RatingKey, err)
	}

	return verdicts, nil
}

// AnalyzeMovie evaluates a cached movie. Any protection lookup failure makes
// the movie not safe; deletion must never ride on a failed check.
func (a *Analyzer) AnalyzeMovie(ctx context.Context, settings Settings, item store.LibraryItem) MovieVerdict {
	facts := MovieFacts{
		RatingKey:    item.RatingKey,
		Title:        item.Title,
		TmdbID:       item.TmdbID,
		AddedAt:      item.AddedAt,
		ViewCount:    item.ViewCount,
		LastViewedAt: item.LastViewedAt,
	}

	if item.TmdbID > 0 {
		protected, err := a.store.HasProtectionExclusion(ctx, item.TmdbID, store.MediaTypeMovie)
		if err != nil {
			a.logger.Error().Err(err).Str("ratingKey", item.RatingKey).Msg("exclusion check failed, keeping movie")
			return MovieVerdict{RatingKey: item.RatingKey, Title: item.Title, TmdbID: item.TmdbID, Reason: "Protection check failed"}
		}
		facts.ManuallyProtected = protected

		entries, err := a.store.ListActiveWatchlistForTmdb(ctx, item.TmdbID, store.MediaTypeMovie)
		if err != nil {
			a.logger.Error().Err(err).Str("ratingKey", item.RatingKey).Msg("watchlist check failed, keeping movie")
			return MovieVerdict{RatingKey: item.RatingKey, Title: item.Title, TmdbID: item.TmdbID, Reason: "Protection check failed"}
		}
		facts.OnWatchlist = len(entries) > 0
	}

	return DecideMovie(a.now().UTC(), settings, facts)
}

// CheckVelocities compares each viewer's current rate against their snapshot
// baseline, records a fresh snapshot, and returns the significant changes.
func (a *Analyzer) CheckVelocities(ctx context.Context, settings Settings) ([]VelocityChange, error) {
	velocities, err := a.store.ListAllVelocities(ctx)
	if err != nil {
		return nil, fmt.Errorf("list velocities: %w", err)
	}

	now := a.now().UTC()
	var changes []VelocityChange
	for _, v := range velocities {
		snapshots, err := a.store.ListRecentSnapshots(ctx, v.UserID, v.ShowKey, velocityBaselineSamples)
		if err != nil {
			return nil, fmt.Errorf("snapshots %s/%s: %w", v.UserID, v.ShowKey, err)
		}

		if change := DetectVelocityChange(v, snapshots, settings.VelocityChangeThreshold); change != nil {
			a.logger.Info().
				Str("userId", change.UserID).
				Str("show", change.ShowTitle).
				Float64("previous", change.Previous).
				Float64("current", change.Current).
				Bool("increased", change.Increased).
				Msg("velocity change detected")
			changes = append(changes, *change)
		}

		err = a.store.AppendVelocitySnapshot(ctx, store.VelocitySnapshot{
			UserID:     v.UserID,
			ShowKey:    v.ShowKey,
			Velocity:   v.EpisodesPerDay,
			Position:   v.CurrentPosition,
			RecordedAt: now,
		})
		if err != nil {
			return nil, fmt.Errorf("append snapshot %s/%s: %w", v.UserID, v.ShowKey, err)
		}
	}
	return changes, nil
}

// showContext assembles the show-level protection facts. Watchlist and
// request lookups fail safe: any error marks the show protected rather than
// letting a transient fault expose episodes to deletion.
func (a *Analyzer) showContext(ctx context.Context, settings Settings, show store.LibraryItem) (ShowContext, error) {
	showCtx := ShowContext{
		RatingKey: show.RatingKey,
		Title:     show.Title,
		TmdbID:    show.TmdbID,
	}

	if show.TmdbID > 0 {
		protected, err := a.store.HasProtectionExclusion(ctx, show.TmdbID, store.MediaTypeShow)
		if err != nil {
			return showCtx, fmt.Errorf("exclusion check for %s: %w", show.RatingKey, err)
		}
		showCtx.ManuallyProtected = protected
	}

	grace, reason, err := a.graceProtection(ctx, settings, show)
	if err != nil {
		a.logger.Error().Err(err).Str("ratingKey", show.RatingKey).Msg("grace check failed, protecting show")
		grace, reason = true, "Protection check failed"
	}
	showCtx.GraceProtected = grace
	showCtx.GraceReason = reason
	return showCtx, nil
}

// graceProtection reports whether an unstarted watchlist entry or open
// request protects the show. A user counts as started once their velocity
// row shows a position past zero. A started user who re-adds the show to
// their watchlist gets a fresh grace window until they watch again.
func (a *Analyzer) graceProtection(ctx context.Context, settings Settings, show store.LibraryItem) (bool, string, error) {
	if show.TmdbID == 0 {
		return false, "", nil
	}

	entries, err := a.store.ListActiveWatchlistForTmdb(ctx, show.TmdbID, store.MediaTypeShow)
	if err != nil {
		return false, "", err
	}
	names, err := a.store.GetUserDirectory(ctx)
	if err != nil {
		return false, "", err
	}

	now := a.now().UTC()
	graceWindow := time.Duration(settings.WatchlistGraceDays) * 24 * time.Hour

	for _, e := range entries {
		v, err := a.userVelocity(ctx, e.UserID, show.RatingKey)
		if err != nil {
			return false, "", err
		}
		if v == nil || v.CurrentPosition == 0 {
			return true, fmt.Sprintf("On watchlist for %s (not started)", displayName(names, e.UserID)), nil
		}
		if graceWindow > 0 && now.Sub(e.AddedAt) <= graceWindow &&
			(v.LastWatchedAt == nil || v.LastWatchedAt.Before(e.AddedAt)) {
			return true, fmt.Sprintf("On watchlist for %s (grace window)", displayName(names, e.UserID)), nil
		}
	}

	requests, err := a.store.ListRequestsForTmdb(ctx, show.TmdbID, store.MediaTypeShow)
	if err != nil {
		return false, "", err
	}
	for _, r := range requests {
		switch r.Status {
		case "pending", "processing", "available":
		default:
			continue
		}
		if r.UserID == "" {
			continue
		}
		v, err := a.userVelocity(ctx, r.UserID, show.RatingKey)
		if err != nil {
			return false, "", err
		}
		if v == nil || v.CurrentPosition == 0 {
			return true, fmt.Sprintf("Requested by %s (not started)", displayName(names, r.UserID)), nil
		}
	}

	return false, "", nil
}

// userVelocity returns the user's velocity row for the show, nil when the
// user has never watched it.
func (a *Analyzer) userVelocity(ctx context.Context, userID, showKey string) (*store.UserVelocity, error) {
	v, err := a.store.GetUserVelocity(ctx, userID, showKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// viewers builds the per-user view of a show from velocity rows, naming
// users through the imported directory.
func (a *Analyzer) viewers(ctx context.Context, settings Settings, showKey string, now time.Time) ([]Viewer, error) {
	velocities, err := a.store.ListVelocitiesForShow(ctx, showKey)
	if err != nil {
		return nil, err
	}
	names, err := a.store.GetUserDirectory(ctx)
	if err != nil {
		return nil, err
	}

	viewers := make([]Viewer, 0, len(velocities))
	for _, v := range velocities {
		viewers = append(viewers, NewViewer(now, settings, v, names[v.UserID]))
	}
	return viewers, nil
}

func displayName(names map[string]string, userID string) string {
	if name, ok := names[userID]; ok && name != "" {
		return name
	}
	return userID
}
