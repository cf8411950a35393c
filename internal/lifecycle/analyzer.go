// Package lifecycle is the decision engine: given a show's episodes and its
// viewers' velocities it answers, per episode, whether the file is safe to
// delete, must be protected, or must be fetched back before a viewer
// reaches it. The decision core is pure; all state access happens in the
// Analyzer service around it.
package lifecycle

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/viperarr/viperarr/internal/position"
)

// Episode is the analyzer's per-episode input.
type Episode struct {
	RatingKey    string
	Season       int
	Number       int
	IsAvailable  bool
	ViewCount    int
	LastViewedAt *time.Time
}

// ShowContext carries the show-level facts the ordered checks consume.
type ShowContext struct {
	RatingKey string
	Title     string
	TmdbID    int64

	ManuallyProtected bool
	GraceProtected    bool
	GraceReason       string
}

// Verdict is the analyzer's output for one episode.
type Verdict struct {
	RatingKey        string
	Season           int
	Number           int
	Position         int
	SafeToDelete     bool
	Reason           string
	UsersBeyond      []string
	UsersApproaching []string

	NeedsRedownload bool
	RedownloadBy    time.Time
	DaysUntilNeeded float64
}

// AnalyzeEpisodes runs the ordered safe-to-delete checks for every episode
// of a show. The first matching check wins; a protective match stops
// further consideration of that episode.
func AnalyzeEpisodes(now time.Time, settings Settings, show ShowContext, episodes []Episode, viewers []Viewer) []Verdict {
	var active []Viewer
	for _, v := range viewers {
		if v.Active {
			active = append(active, v)
		}
	}

	showActivity := hasWatchActivity(episodes, active)
	fastest := fastestPosition(active)

	verdicts := make([]Verdict, 0, len(episodes))
	for _, ep := range episodes {
		pos, err := position.Encode(ep.Season, ep.Number)
		if err != nil {
			// Out-of-range numbering cannot be compared to positions;
			// skip the episode rather than guessing.
			continue
		}
		v := decide(now, settings, show, ep, pos, viewers, active, showActivity, fastest)
		verdicts = append(verdicts, v)
	}
	return verdicts
}

func decide(now time.Time, settings Settings, show ShowContext, ep Episode, pos int,
	viewers, active []Viewer, showActivity bool, fastest int) Verdict {

	verdict := Verdict{
		RatingKey: ep.RatingKey,
		Season:    ep.Season,
		Number:    ep.Number,
		Position:  pos,
	}
	for _, v := range viewers {
		if v.past(pos) {
			verdict.UsersBeyond = append(verdict.UsersBeyond, v.Name)
		} else if v.Active {
			verdict.UsersApproaching = append(verdict.UsersApproaching, v.Name)
		}
	}
	verdict.fillRedownload(now, settings, ep, pos, viewers)

	// 1. Manual protection overrides everything.
	if show.ManuallyProtected {
		verdict.Reason = "Manually protected"
		return verdict
	}

	// 2. Watchlist grace / unstarted viewers.
	if show.GraceProtected {
		verdict.Reason = show.GraceReason
		return verdict
	}

	// 3. Inside an active viewer's buffer.
	if names := inBufferNames(active, pos); len(names) > 0 {
		verdict.Reason = fmt.Sprintf("In buffer for %s", strings.Join(names, ", "))
		return verdict
	}

	// 4. An approaching viewer will need it soon.
	for _, v := range viewers {
		if v.past(pos) {
			continue
		}
		if v.daysUntilNeeded(settings, pos) <= float64(settings.VelocityBufferDays) && v.inBuffer(pos) {
			verdict.Reason = fmt.Sprintf("%s needs it within %d days", v.Name, settings.VelocityBufferDays)
			return verdict
		}
	}

	// 5. Strict mode: everyone with it buffered must have passed it.
	if settings.RequireAllUsersWatched {
		for _, v := range viewers {
			if v.inBuffer(pos) && !v.past(pos) {
				verdict.Reason = fmt.Sprintf("Waiting for %s to watch", v.Name)
				return verdict
			}
		}
	}

	// 6. Watched too recently.
	if ep.LastViewedAt != nil {
		if days := now.Sub(*ep.LastViewedAt).Hours() / 24; days < float64(settings.MinDaysSinceWatch) {
			verdict.Reason = fmt.Sprintf("Watched %.0f days ago, keeping %d", days, settings.MinDaysSinceWatch)
			return verdict
		}
	}

	// 7. Far-ahead trim: unwatched episodes beyond every viewer's horizon.
	if settings.TrimAheadEnabled && showActivity && len(active) > 0 && ep.ViewCount == 0 && !show.GraceProtected {
		if pos > trimHorizon(settings, active, fastest) {
			verdict.SafeToDelete = true
			verdict.Reason = "Far ahead of all active viewers"
			return verdict
		}
	}

	// 8. Never watched and nobody has passed it.
	if ep.ViewCount == 0 && len(verdict.UsersBeyond) == 0 {
		verdict.Reason = "Never watched"
		return verdict
	}

	verdict.SafeToDelete = true
	verdict.Reason = "Past all active viewers"
	return verdict
}

// fillRedownload marks an absent episode that an approaching viewer will hit
// within the lead window.
func (verdict *Verdict) fillRedownload(now time.Time, settings Settings, ep Episode, pos int, viewers []Viewer) {
	earliest := -1.0
	for _, v := range viewers {
		if v.past(pos) {
			continue
		}
		days := v.daysUntilNeeded(settings, pos)
		if earliest < 0 || days < earliest {
			earliest = days
		}
	}
	if earliest < 0 {
		return
	}
	verdict.DaysUntilNeeded = earliest
	if ep.IsAvailable {
		return
	}
	if earliest <= float64(settings.RedownloadLeadDays) {
		verdict.NeedsRedownload = true
		verdict.RedownloadBy = now.Add(time.Duration(earliest * 24 * float64(time.Hour)))
	}
}

// NeedsEmergency reports whether an absent episode is needed within the
// emergency window.
func (verdict Verdict) NeedsEmergency(settings Settings) bool {
	if verdict.DaysUntilNeeded <= 0 || len(verdict.UsersApproaching) == 0 {
		return false
	}
	return verdict.DaysUntilNeeded*24 <= float64(settings.EmergencyBufferHours)
}

func inBufferNames(active []Viewer, pos int) []string {
	var names []string
	for _, v := range active {
		if v.inBuffer(pos) {
			names = append(names, v.Name)
		}
	}
	sort.Strings(names)
	return names
}

// hasWatchActivity reports demonstrated viewing on the show: any episode
// view count, or any active viewer who has started. The media server may
// not expose per-user counts, so either signal suffices.
func hasWatchActivity(episodes []Episode, active []Viewer) bool {
	for _, ep := range episodes {
		if ep.ViewCount > 0 {
			return true
		}
	}
	for _, v := range active {
		if v.Position > 0 {
			return true
		}
	}
	return false
}

func fastestPosition(active []Viewer) int {
	fastest := 0
	for _, v := range active {
		if v.Position > fastest {
			fastest = v.Position
		}
	}
	return fastest
}

// trimHorizon is the furthest protected position across active viewers,
// falling back to the fastest viewer plus the default buffer when nobody
// has a velocity, and always capped relative to the fastest viewer.
func trimHorizon(settings Settings, active []Viewer, fastest int) int {
	maxProtect := 0
	haveVelocity := false
	for _, v := range active {
		if v.Velocity > 0 {
			haveVelocity = true
		}
		if v.ProtectUntil > maxProtect {
			maxProtect = v.ProtectUntil
		}
	}
	if !haveVelocity {
		maxProtect = fastest + settings.UnknownVelocityBuffer + settings.ProtectEpisodesAhead
	}
	if limit := fastest + settings.MaxEpisodesAhead; maxProtect > limit {
		maxProtect = limit
	}
	return maxProtect
}
