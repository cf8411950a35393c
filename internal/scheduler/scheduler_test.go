package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viperarr/viperarr/internal/testutil"
)

func newScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s, err := New(testutil.NewTestLogger(t), "UTC")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func TestRegisterCronAndIntervalTasks(t *testing.T) {
	s := newScheduler(t)

	require.NoError(t, s.RegisterTask(TaskConfig{
		ID:   "nightly",
		Name: "Nightly",
		Cron: "0 2 * * *",
		Func: func(ctx context.Context) error { return nil },
	}))
	require.NoError(t, s.RegisterTask(TaskConfig{
		ID:       "fast",
		Name:     "Fast",
		Interval: 30 * time.Second,
		Func:     func(ctx context.Context) error { return nil },
	}))

	tasks := s.ListTasks()
	require.Len(t, tasks, 2)

	byID := map[string]TaskInfo{}
	for _, ti := range tasks {
		byID[ti.ID] = ti
	}
	assert.Equal(t, "0 2 * * *", byID["nightly"].Cron)
	assert.Equal(t, 30, byID["fast"].IntervalSec)
}

func TestRegisterRejectsDuplicateID(t *testing.T) {
	s := newScheduler(t)

	cfg := TaskConfig{
		ID:   "once",
		Name: "Once",
		Cron: "0 2 * * *",
		Func: func(ctx context.Context) error { return nil },
	}
	require.NoError(t, s.RegisterTask(cfg))
	assert.Error(t, s.RegisterTask(cfg))
}

func TestRegisterRejectsInvalidCron(t *testing.T) {
	s := newScheduler(t)

	err := s.RegisterTask(TaskConfig{
		ID:   "broken",
		Name: "Broken",
		Cron: "not a cron",
		Func: func(ctx context.Context) error { return nil },
	})
	require.Error(t, err)

	// The bad job must not block others from registering.
	require.NoError(t, s.RegisterTask(TaskConfig{
		ID:   "fine",
		Name: "Fine",
		Cron: "0 3 * * *",
		Func: func(ctx context.Context) error { return nil },
	}))
	assert.Len(t, s.ListTasks(), 1)
}

func TestRegisterRequiresSchedule(t *testing.T) {
	s := newScheduler(t)

	err := s.RegisterTask(TaskConfig{
		ID:   "unscheduled",
		Name: "Unscheduled",
		Func: func(ctx context.Context) error { return nil },
	})
	assert.Error(t, err)
}

func TestRunNow(t *testing.T) {
	s := newScheduler(t)

	var runs atomic.Int32
	done := make(chan struct{})
	require.NoError(t, s.RegisterTask(TaskConfig{
		ID:   "manual",
		Name: "Manual",
		Cron: "0 2 * * *",
		Func: func(ctx context.Context) error {
			runs.Add(1)
			close(done)
			return nil
		},
	}))

	require.NoError(t, s.RunNow("manual"))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("task did not run")
	}
	assert.Equal(t, int32(1), runs.Load())

	assert.Error(t, s.RunNow("missing"))
}

func TestRefreshSwapsSchedule(t *testing.T) {
	s := newScheduler(t)

	require.NoError(t, s.RegisterTask(TaskConfig{
		ID:   "sync",
		Name: "Sync",
		Cron: "*/5 * * * *",
		Func: func(ctx context.Context) error { return nil },
	}))

	require.NoError(t, s.Refresh("sync", "", 45*time.Second))

	info, err := s.GetTask("sync")
	require.NoError(t, err)
	assert.Empty(t, info.Cron)
	assert.Equal(t, 45, info.IntervalSec)

	assert.Error(t, s.Refresh("missing", "0 2 * * *", 0))
}
