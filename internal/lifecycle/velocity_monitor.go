package lifecycle

import (
	"github.com/viperarr/viperarr/internal/store"
)

// velocityBaselineSamples is how many recent snapshots form the comparison
// baseline for change detection.
const velocityBaselineSamples = 5

// VelocityChange reports a significant shift in a viewer's consumption rate.
type VelocityChange struct {
	UserID    string
	ShowKey   string
	ShowTitle string
	Previous  float64
	Current   float64
	Increased bool
}

// DetectVelocityChange compares the current velocity against the mean of the
// most recent snapshots. Returns nil when there is no baseline yet or the
// relative change is below the threshold.
func DetectVelocityChange(v store.UserVelocity, snapshots []store.VelocitySnapshot, threshold float64) *VelocityChange {
	if len(snapshots) == 0 || threshold <= 0 {
		return nil
	}

	n := len(snapshots)
	if n > velocityBaselineSamples {
		n = velocityBaselineSamples
	}
	sum := 0.0
	for _, snap := range snapshots[:n] {
		sum += snap.Velocity
	}
	baseline := sum / float64(n)
	if baseline <= 0 {
		// Nothing meaningful to compare against; a viewer going from idle
		// to watching is handled by the regular buffer math.
		return nil
	}

	delta := v.EpisodesPerDay - baseline
	if delta < 0 {
		delta = -delta
	}
	if delta/baseline < threshold {
		return nil
	}

	return &VelocityChange{
		UserID:    v.UserID,
		ShowKey:   v.ShowKey,
		ShowTitle: v.ShowTitle,
		Previous:  baseline,
		Current:   v.EpisodesPerDay,
		Increased: v.EpisodesPerDay > baseline,
	}
}
