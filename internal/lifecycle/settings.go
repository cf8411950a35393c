package lifecycle

import (
	"context"
	"strconv"
	"strings"

	"github.com/viperarr/viperarr/internal/store"
)

// VelocityChangeAction selects what happens when a viewer speeds up.
type VelocityChangeAction string

const (
	ActionRedownload VelocityChangeAction = "redownload"
	ActionAlert      VelocityChangeAction = "alert"
	ActionBoth       VelocityChangeAction = "both"
)

// Settings are the analyzer's knobs, loaded from the settings table. Every
// field has a default so a fresh database runs with sane behavior.
type Settings struct {
	Enabled                bool
	MinDaysSinceWatch      int
	VelocityBufferDays     int
	ProtectEpisodesAhead   int
	ActiveViewerDays       int
	RequireAllUsersWatched bool

	ProactiveRedownload bool
	RedownloadLeadDays  int
	RedownloadEnabled   bool

	EmergencyBufferHours int

	TrimAheadEnabled bool
	TrimDaysAhead    int
	MaxEpisodesAhead int

	UnknownVelocityBuffer int
	MinVelocitySamples    int
	DefaultVelocity       float64

	WatchlistGraceDays int

	VelocityMonitoringEnabled bool
	VelocityCheckInterval     int
	VelocityChangeThreshold   float64
	VelocityChangeAction      VelocityChangeAction
}

// DefaultSettings returns the analyzer defaults.
func DefaultSettings() Settings {
	return Settings{
		Enabled:                   true,
		MinDaysSinceWatch:         15,
		VelocityBufferDays:        7,
		ProtectEpisodesAhead:      3,
		ActiveViewerDays:          30,
		RequireAllUsersWatched:    false,
		ProactiveRedownload:       true,
		RedownloadLeadDays:        3,
		RedownloadEnabled:         true,
		EmergencyBufferHours:      24,
		TrimAheadEnabled:          true,
		TrimDaysAhead:             10,
		MaxEpisodesAhead:          20,
		UnknownVelocityBuffer:     5,
		MinVelocitySamples:        3,
		DefaultVelocity:           1,
		WatchlistGraceDays:        14,
		VelocityMonitoringEnabled: true,
		VelocityCheckInterval:     120,
		VelocityChangeThreshold:   0.5,
		VelocityChangeAction:      ActionRedownload,
	}
}

const settingsPrefix = "lifecycle."

// LoadSettings reads the analyzer settings from the store, falling back to
// defaults for missing or unparsable values.
func LoadSettings(ctx context.Context, st *store.Store) (Settings, error) {
	s := DefaultSettings()
	all, err := st.AllSettings(ctx)
	if err != nil {
		return s, err
	}

	get := func(key string) (string, bool) {
		v, ok := all[settingsPrefix+key]
		return v, ok && v != ""
	}
	boolVal := func(key string, dst *bool) {
		if v, ok := get(key); ok {
			*dst = v == "true" || v == "1"
		}
	}
	intVal := func(key string, dst *int) {
		if v, ok := get(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	floatVal := func(key string, dst *float64) {
		if v, ok := get(key); ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}

	boolVal("enabled", &s.Enabled)
	intVal("minDaysSinceWatch", &s.MinDaysSinceWatch)
	intVal("velocityBufferDays", &s.VelocityBufferDays)
	intVal("protectEpisodesAhead", &s.ProtectEpisodesAhead)
	intVal("activeViewerDays", &s.ActiveViewerDays)
	boolVal("requireAllUsersWatched", &s.RequireAllUsersWatched)
	boolVal("proactiveRedownload", &s.ProactiveRedownload)
	intVal("redownloadLeadDays", &s.RedownloadLeadDays)
	boolVal("redownloadEnabled", &s.RedownloadEnabled)
	intVal("emergencyBufferHours", &s.EmergencyBufferHours)
	boolVal("trimAheadEnabled", &s.TrimAheadEnabled)
	intVal("trimDaysAhead", &s.TrimDaysAhead)
	intVal("maxEpisodesAhead", &s.MaxEpisodesAhead)
	intVal("unknownVelocityBuffer", &s.UnknownVelocityBuffer)
	intVal("minVelocitySamples", &s.MinVelocitySamples)
	floatVal("defaultVelocity", &s.DefaultVelocity)
	intVal("watchlistGraceDays", &s.WatchlistGraceDays)
	boolVal("velocityMonitoringEnabled", &s.VelocityMonitoringEnabled)
	intVal("velocityCheckInterval", &s.VelocityCheckInterval)
	floatVal("velocityChangeThreshold", &s.VelocityChangeThreshold)
	if v, ok := get("velocityChangeAction"); ok {
		switch VelocityChangeAction(strings.ToLower(v)) {
		case ActionRedownload, ActionAlert, ActionBoth:
			s.VelocityChangeAction = VelocityChangeAction(strings.ToLower(v))
		}
	}

	return s, nil
}
