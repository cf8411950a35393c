package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/never-there.yaml")
	require.Error(t, err, "an explicit but missing config file is a hard error")

	cfg, err = Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "plex", cfg.MediaServer.Type)
	// Delta sync runs once a minute out of the box.
	assert.Equal(t, 60, cfg.Scheduler.DeltaSyncSeconds)
	assert.Equal(t, "0 2 * * *", cfg.Scheduler.AnalyzerCron)
}

func TestEnvOverridesDefaults(t *testing.T) {
	t.Setenv("VIPERARR_SCHEDULER_DELTA_SYNC_SECONDS", "120")
	t.Setenv("VIPERARR_SERVER_PORT", "9090")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 120, cfg.Scheduler.DeltaSyncSeconds)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestDefaultMatchesViperDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Scheduler, cfg.Scheduler)
}
