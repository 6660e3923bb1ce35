package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Loop polls the backend for due schedules at a fixed interval and launches
// one independent Runner invocation per due schedule. It never waits for a
// run to finish before the next tick; the per-schedule lock is what keeps
// executions single-flight.
type Loop struct {
	backend  Backend
	runner   *Runner
	interval time.Duration
	log      *zap.Logger

	wg sync.WaitGroup
}

func NewLoop(b Backend, runner *Runner, interval time.Duration, log *zap.Logger) *Loop {
	return &Loop{
		backend:  b,
		runner:   runner,
		interval: interval,
		log:      log,
	}
}

// Start blocks until ctx is cancelled, then waits for in-flight runs.
func (l *Loop) Start(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.log.Info("scheduler started", zap.Duration("interval", l.interval))

	for {
		select {
		case <-ctx.Done():
			l.log.Info("scheduler stopping, waiting for in-flight runs")
			l.wg.Wait()
			l.log.Info("scheduler stopped")
			return
		case now := <-ticker.C:
			l.tick(ctx, now)
		}
	}
}

func (l *Loop) tick(ctx context.Context, now time.Time) {
	schedules, err := l.backend.ListDueSchedules(ctx, now)
	if err != nil {
		l.log.Error("failed to list due schedules", zap.Error(err))
		return
	}

	for _, sched := range schedules {
		l.log.Info("schedule due",
			zap.Int64("schedule_id", sched.ID),
			zap.Time("next_run_at", sched.NextRunAt),
		)
		l.wg.Add(1)
		go func(id int64) {
			defer l.wg.Done()
			l.runner.Run(ctx, id)
		}(sched.ID)
	}
}
