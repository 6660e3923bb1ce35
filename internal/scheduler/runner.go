package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"MailFlow/internal/backend"
	"MailFlow/internal/executor"
	"MailFlow/internal/models"
)

// Backend is the slice of the remote backend the scheduler consumes.
type Backend interface {
	ListDueSchedules(ctx context.Context, at time.Time) ([]models.Schedule, error)
	GetSchedule(ctx context.Context, id int64) (*models.Schedule, error)
	AcquireScheduleLock(ctx context.Context, id int64, lease time.Duration) error
	ReleaseSchedule(ctx context.Context, id int64, lastRun, nextRun time.Time) error
}

// WorkflowRunner executes one workflow run to completion.
type WorkflowRunner interface {
	Execute(ctx context.Context, req executor.RunRequest) executor.RunResult
}

// Runner executes a single due schedule under the schedule's advisory lock.
// At most one execution per schedule is in flight at a time; losing the
// lock race means another runner owns this slot and we back off silently.
type Runner struct {
	backend Backend
	exec    WorkflowRunner
	log     *zap.Logger
	lease   time.Duration

	now func() time.Time
}

func NewRunner(b Backend, exec WorkflowRunner, log *zap.Logger, lease time.Duration) *Runner {
	return &Runner{
		backend: b,
		exec:    exec,
		log:     log,
		lease:   lease,
		now:     time.Now,
	}
}

// Run fetches the schedule, takes its lock, executes the workflow, then
// advances next_run_at and releases the lock in one update.
func (r *Runner) Run(ctx context.Context, scheduleID int64) {
	log := r.log.With(zap.Int64("schedule_id", scheduleID))

	sched, err := r.backend.GetSchedule(ctx, scheduleID)
	if err != nil {
		log.Warn("schedule fetch failed", zap.Error(err))
		return
	}
	if sched.Status != "active" {
		log.Warn("schedule is not active, skipping")
		return
	}

	if err := r.backend.AcquireScheduleLock(ctx, scheduleID, r.lease); err != nil {
		if errors.Is(err, backend.ErrLockHeld) {
			log.Info("schedule already running, skipping")
		} else {
			log.Error("schedule lock failed", zap.Error(err))
		}
		return
	}

	runID := uuid.NewString()
	log.Info("triggering scheduled run",
		zap.Int64("workflow_id", sched.WorkflowID),
		zap.String("run_id", runID),
	)

	result := r.exec.Execute(ctx, executor.RunRequest{
		WorkflowID: sched.WorkflowID,
		RunID:      runID,
		ScheduleID: sched.ID,
		Params:     sched.Parameters,
	})
	log.Info("scheduled run finished", zap.String("status", string(result.Status)))

	now := r.now()
	next := NextRun(sched, now)
	if err := r.backend.ReleaseSchedule(ctx, scheduleID, now, next); err != nil {
		log.Error("schedule release failed", zap.Error(err))
		return
	}
	log.Info("schedule advanced", zap.Time("next_run_at", next))
}

// NextRun computes the next due time strictly after now. Interval-based
// recurrences step from the previous next_run_at so slots stay aligned, and
// keep stepping past missed slots so downtime never causes a catch-up storm.
func NextRun(s *models.Schedule, now time.Time) time.Time {
	if s.CronExpr != "" {
		if expr, err := cron.ParseStandard(s.CronExpr); err == nil {
			return expr.Next(now)
		}
	}

	interval := s.Interval
	if interval <= 0 {
		interval = 1
	}

	step := func(t time.Time) time.Time {
		switch s.Frequency {
		case models.FreqHourly:
			return t.Add(time.Duration(interval) * time.Hour)
		case models.FreqWeekly:
			return t.AddDate(0, 0, 7*interval)
		case models.FreqMonthly:
			return t.AddDate(0, interval, 0)
		default:
			return t.AddDate(0, 0, interval)
		}
	}

	next := s.NextRunAt
	if next.IsZero() {
		next = now
	}
	for !next.After(now) {
		next = step(next)
	}
	return next
}
