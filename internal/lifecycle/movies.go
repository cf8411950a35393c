package lifecycle

import (
	"fmt"
	"time"
)

// unwatchedMovieMaxDays is how long an unwatched movie is kept before it
// becomes a cleanup candidate.
const unwatchedMovieMaxDays = 90

// MovieFacts is the movie pass input, assembled by the Analyzer from the
// library cache and protection state.
type MovieFacts struct {
	RatingKey    string
	Title        string
	TmdbID       int64
	AddedAt      *time.Time
	ViewCount    int
	LastViewedAt *time.Time

	OnWatchlist       bool
	ManuallyProtected bool
}

// MovieVerdict is the movie pass output.
type MovieVerdict struct {
	RatingKey    string
	Title        string
	TmdbID       int64
	SafeToDelete bool
	Reason       string
}

// DecideMovie runs the movie checks. A movie is deletable only when nothing
// protects it and it is either watched long enough ago or has sat unwatched
// past the retention window.
func DecideMovie(now time.Time, settings Settings, m MovieFacts) MovieVerdict {
	verdict := MovieVerdict{RatingKey: m.RatingKey, Title: m.Title, TmdbID: m.TmdbID}

	if m.ManuallyProtected {
		verdict.Reason = "Manually protected"
		return verdict
	}
	if m.OnWatchlist {
		verdict.Reason = "On a watchlist"
		return verdict
	}

	if m.ViewCount > 0 {
		if m.LastViewedAt == nil {
			verdict.Reason = "Watched, but watch time unknown"
			return verdict
		}
		days := now.Sub(*m.LastViewedAt).Hours() / 24
		if days < float64(settings.MinDaysSinceWatch) {
			verdict.Reason = fmt.Sprintf("Watched %.0f days ago, keeping %d", days, settings.MinDaysSinceWatch)
			return verdict
		}
		verdict.SafeToDelete = true
		verdict.Reason = fmt.Sprintf("Watched %.0f days ago", days)
		return verdict
	}

	if m.AddedAt == nil {
		verdict.Reason = "Unwatched, age unknown"
		return verdict
	}
	age := now.Sub(*m.AddedAt).Hours() / 24
	if age <= unwatchedMovieMaxDays {
		verdict.Reason = fmt.Sprintf("Unwatched for %.0f days, keeping %d", age, unwatchedMovieMaxDays)
		return verdict
	}
	verdict.SafeToDelete = true
	verdict.Reason = fmt.Sprintf("Unwatched for %.0f days", age)
	return verdict
}
