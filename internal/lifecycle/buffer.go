package lifecycle

import (
	"math"
	"time"

	"github.com/viperarr/viperarr/internal/store"
)

// BufferSource records how a user's protection buffer was derived.
type BufferSource string

const (
	BufferMeasured  BufferSource = "measured"
	BufferEstimated BufferSource = "estimated"
	BufferDefault   BufferSource = "default"
)

// Viewer is a user's state for one show, with the derived protection window.
type Viewer struct {
	UserID       string
	Name         string
	Position     int
	Velocity     float64
	Samples      int
	LastWatched  time.Time
	Active       bool
	ProtectUntil int
	Source       BufferSource
}

// NewViewer derives a viewer from a velocity row. A user is active when
// their last watch for the show is within activeViewerDays.
func NewViewer(now time.Time, settings Settings, v store.UserVelocity, name string) Viewer {
	viewer := Viewer{
		UserID:   v.UserID,
		Name:     name,
		Position: v.CurrentPosition,
		Velocity: v.EpisodesPerDay,
		Samples:  v.EpisodesWatched,
	}
	if viewer.Name == "" {
		viewer.Name = v.UserID
	}
	if v.LastWatchedAt != nil {
		viewer.LastWatched = *v.LastWatchedAt
		viewer.Active = now.Sub(viewer.LastWatched) <= time.Duration(settings.ActiveViewerDays)*24*time.Hour
	}
	viewer.ProtectUntil, viewer.Source = protectUntil(settings, viewer)
	return viewer
}

// protectUntil computes the last protected position for a viewer. The buffer
// is capped at maxEpisodesAhead so a misreported velocity cannot protect an
// unbounded run of episodes.
func protectUntil(settings Settings, v Viewer) (int, BufferSource) {
	var buffer int
	var source BufferSource
	switch {
	case v.Samples >= settings.MinVelocitySamples && v.Velocity > 0:
		source = BufferMeasured
		buffer = int(math.Ceil(v.Velocity*float64(settings.TrimDaysAhead))) + settings.ProtectEpisodesAhead
	case v.Velocity > 0:
		source = BufferEstimated
		ahead := int(math.Ceil(v.Velocity * float64(settings.TrimDaysAhead)))
		if ahead < settings.UnknownVelocityBuffer {
			ahead = settings.UnknownVelocityBuffer
		}
		buffer = ahead + settings.ProtectEpisodesAhead
	default:
		source = BufferDefault
		buffer = settings.UnknownVelocityBuffer + settings.ProtectEpisodesAhead
	}
	if buffer > settings.MaxEpisodesAhead {
		buffer = settings.MaxEpisodesAhead
	}
	return v.Position + buffer, source
}

// inBuffer reports whether pos falls in the viewer's protected window:
// strictly ahead of the viewer and at or before protectUntil.
func (v Viewer) inBuffer(pos int) bool {
	return v.Position < pos && pos <= v.ProtectUntil
}

// past reports whether the viewer has reached or passed pos.
func (v Viewer) past(pos int) bool {
	return v.Position >= pos
}

// daysUntilNeeded estimates when the viewer will reach pos. A zero velocity
// falls back to the configured default rate so the estimate stays finite.
func (v Viewer) daysUntilNeeded(settings Settings, pos int) float64 {
	if v.past(pos) {
		return 0
	}
	velocity := v.Velocity
	if velocity <= 0 {
		velocity = settings.DefaultVelocity
		if velocity <= 0 {
			velocity = 1
		}
	}
	return float64(pos-v.Position) / velocity
}
