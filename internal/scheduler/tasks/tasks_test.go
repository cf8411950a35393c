package tasks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viperarr/viperarr/internal/config"
	applog "github.com/viperarr/viperarr/internal/logger"
	"github.com/viperarr/viperarr/internal/scheduler"
	"github.com/viperarr/viperarr/internal/testutil"
)

func TestRegisterAllWiresEveryJob(t *testing.T) {
	s, err := scheduler.New(testutil.NewTestLogger(t), "UTC")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop() })

	logs := applog.New(applog.Config{Level: "error", Format: "json", Path: t.TempDir()})
	t.Cleanup(func() { _ = logs.Close() })

	// Registration only captures the job funcs; nothing runs here, so the
	// services behind them are not needed.
	RegisterAll(s, config.Default().Scheduler, nil, nil, logs, testutil.NewTestLogger(t))

	ids := map[string]bool{}
	for _, ti := range s.ListTasks() {
		ids[ti.ID] = true
	}
	for _, want := range []string{
		IDAnalyzer, IDQueue, IDCleanup, IDVelocityCleanup,
		IDVelocityMonitor, IDRedownload, IDWatchlist, IDDeltaSync, IDLogCleanup,
	} {
		assert.True(t, ids[want], "job %s not registered", want)
	}
}

func TestRegisterAllSkipsLogCleanupWithoutLogger(t *testing.T) {
	s, err := scheduler.New(testutil.NewTestLogger(t), "UTC")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop() })

	RegisterAll(s, config.Default().Scheduler, nil, nil, nil, testutil.NewTestLogger(t))

	for _, ti := range s.ListTasks() {
		assert.NotEqual(t, IDLogCleanup, ti.ID)
	}
}

func TestDeltaSyncCadence(t *testing.T) {
	// Defaults to once a minute.
	tc := deltaSyncConfig(0, nil)
	assert.Equal(t, "*/1 * * * *", tc.Cron)
	assert.True(t, tc.RunOnStart)

	tc = deltaSyncConfig(60, nil)
	assert.Equal(t, "*/1 * * * *", tc.Cron)

	tc = deltaSyncConfig(300, nil)
	assert.Equal(t, "*/5 * * * *", tc.Cron)

	// Sub-minute and ragged cadences fall back to an interval timer.
	tc = deltaSyncConfig(30, nil)
	assert.Empty(t, tc.Cron)
	assert.Equal(t, 30*time.Second, tc.Interval)

	tc = deltaSyncConfig(90, nil)
	assert.Empty(t, tc.Cron)
	assert.Equal(t, 90*time.Second, tc.Interval)
}
