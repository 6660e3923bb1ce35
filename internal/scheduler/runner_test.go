package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"MailFlow/internal/backend"
	"MailFlow/internal/executor"
	"MailFlow/internal/models"
)

type fakeSchedBackend struct {
	mu sync.Mutex

	schedules map[int64]*models.Schedule
	lockErr   error

	lockCalls    int
	releaseCalls int
	releasedNext time.Time
	releasedLast time.Time
}

func newFakeSchedBackend() *fakeSchedBackend {
	return &fakeSchedBackend{schedules: make(map[int64]*models.Schedule)}
}

func (f *fakeSchedBackend) ListDueSchedules(_ context.Context, at time.Time) ([]models.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []models.Schedule
	for _, s := range f.schedules {
		if !s.NextRunAt.After(at) {
			due = append(due, *s)
		}
	}
	return due, nil
}

func (f *fakeSchedBackend) GetSchedule(_ context.Context, id int64) (*models.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.schedules[id]; ok {
		dup := *s
		return &dup, nil
	}
	return nil, backend.ErrNotFound
}

func (f *fakeSchedBackend) AcquireScheduleLock(_ context.Context, id int64, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lockCalls++
	if f.lockErr != nil {
		return f.lockErr
	}
	f.schedules[id].IsRunning = true
	return nil
}

func (f *fakeSchedBackend) ReleaseSchedule(_ context.Context, id int64, lastRun, nextRun time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releaseCalls++
	f.releasedLast = lastRun
	f.releasedNext = nextRun
	s := f.schedules[id]
	s.IsRunning = false
	s.LastRunAt = &lastRun
	s.NextRunAt = nextRun
	return nil
}

type fakeExec struct {
	mu    sync.Mutex
	calls []executor.RunRequest
}

func (f *fakeExec) Execute(_ context.Context, req executor.RunRequest) executor.RunResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	return executor.RunResult{Status: models.RunSuccess}
}

func activeSchedule(nextRun time.Time) *models.Schedule {
	return &models.Schedule{
		ID:         1,
		WorkflowID: 7,
		Status:     "active",
		Frequency:  models.FreqDaily,
		Interval:   1,
		NextRunAt:  nextRun,
		Parameters: map[string]any{"campaign": "q3"},
	}
}

func TestRunnerExecutesAndAdvances(t *testing.T) {
	fb := newFakeSchedBackend()
	now := time.Now()
	fb.schedules[1] = activeSchedule(now.Add(-time.Minute))
	exec := &fakeExec{}
	r := NewRunner(fb, exec, zap.NewNop(), 2*time.Hour)

	r.Run(context.Background(), 1)

	require.Len(t, exec.calls, 1)
	assert.Equal(t, int64(7), exec.calls[0].WorkflowID)
	assert.Equal(t, int64(1), exec.calls[0].ScheduleID)
	assert.NotEmpty(t, exec.calls[0].RunID)
	assert.Equal(t, "q3", exec.calls[0].Params["campaign"])

	assert.Equal(t, 1, fb.releaseCalls)
	assert.True(t, fb.releasedNext.After(now), "next run must be strictly in the future")
	assert.False(t, fb.schedules[1].IsRunning)
}

func TestRunnerLockHeldAbortsSilently(t *testing.T) {
	fb := newFakeSchedBackend()
	original := time.Now().Add(-time.Minute)
	fb.schedules[1] = activeSchedule(original)
	fb.lockErr = backend.ErrLockHeld
	exec := &fakeExec{}
	r := NewRunner(fb, exec, zap.NewNop(), time.Hour)

	r.Run(context.Background(), 1)

	assert.Empty(t, exec.calls, "executor must not be invoked")
	assert.Zero(t, fb.releaseCalls, "next_run_at must not be mutated")
	assert.Equal(t, original, fb.schedules[1].NextRunAt)
}

func TestRunnerSkipsInactiveSchedule(t *testing.T) {
	fb := newFakeSchedBackend()
	sched := activeSchedule(time.Now().Add(-time.Minute))
	sched.Status = "paused"
	fb.schedules[1] = sched
	exec := &fakeExec{}
	r := NewRunner(fb, exec, zap.NewNop(), time.Hour)

	r.Run(context.Background(), 1)

	assert.Empty(t, exec.calls)
	assert.Zero(t, fb.lockCalls, "no lock attempt for an inactive schedule")
}

func TestRunnerUnknownSchedule(t *testing.T) {
	fb := newFakeSchedBackend()
	exec := &fakeExec{}
	r := NewRunner(fb, exec, zap.NewNop(), time.Hour)

	r.Run(context.Background(), 42)
	assert.Empty(t, exec.calls)
}

func TestNextRunSkipsMissedSlots(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	s := &models.Schedule{
		Frequency: models.FreqDaily,
		Interval:  1,
		NextRunAt: now.AddDate(0, 0, -3).Add(-4 * time.Hour), // 3 days of downtime
	}

	next := NextRun(s, now)

	assert.Equal(t, now.Add(-4*time.Hour).AddDate(0, 0, 1), next,
		"missed slots collapse into the single next future slot")
	assert.True(t, next.After(now))
}

func TestNextRunFrequencies(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	base := now.Add(-30 * time.Minute)

	cases := []struct {
		freq     models.Frequency
		interval int
		want     time.Time
	}{
		{models.FreqHourly, 2, base.Add(2 * time.Hour)},
		{models.FreqDaily, 1, base.AddDate(0, 0, 1)},
		{models.FreqWeekly, 1, base.AddDate(0, 0, 7)},
		{models.FreqMonthly, 1, base.AddDate(0, 1, 0)},
	}
	for _, tc := range cases {
		s := &models.Schedule{Frequency: tc.freq, Interval: tc.interval, NextRunAt: base}
		assert.Equal(t, tc.want, NextRun(s, now), "freq=%s", tc.freq)
	}
}

func TestNextRunCronExpression(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	s := &models.Schedule{CronExpr: "0 8 * * *"}

	next := NextRun(s, now)

	assert.Equal(t, time.Date(2026, 8, 30, 8, 0, 0, 0, time.UTC), next)
}

func TestNextRunZeroStartsFromNow(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	s := &models.Schedule{Frequency: models.FreqDaily, Interval: 1}

	next := NextRun(s, now)
	assert.True(t, next.After(now))
}

func TestLoopLaunchesDueSchedules(t *testing.T) {
	fb := newFakeSchedBackend()
	fb.schedules[1] = activeSchedule(time.Now().Add(-time.Minute))
	exec := &fakeExec{}
	runner := NewRunner(fb, exec, zap.NewNop(), time.Hour)
	loop := NewLoop(fb, runner, 10*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		exec.mu.Lock()
		defer exec.mu.Unlock()
		return len(exec.calls) >= 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
