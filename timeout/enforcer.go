package timeout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quailyquaily/nightshift/queue"
	"github.com/quailyquaily/nightshift/runtime"
)

type Queue interface {
	TimeoutExpired(ctx context.Context, maxAge time.Duration) ([]queue.Task, error)
}

type Workspaces interface {
	CleanupWorkspace(taskID int64, force bool) error
}

// timeoutCounter is implemented by monitor.HealthMonitor.
type timeoutCounter interface {
	RecordTimeout()
}

// Enforcer reclaims tasks stuck IN_PROGRESS past the task timeout. It runs
// beside the runtime and needs no coordination with it: the queue selects
// and fails expired tasks in one transaction.
type Enforcer struct {
	queue      Queue
	workspaces Workspaces
	observers  runtime.Observers
	maxAge     time.Duration
	log        *slog.Logger
	now        func() time.Time
}

type Option func(*Enforcer)

func WithLogger(log *slog.Logger) Option {
	return func(e *Enforcer) {
		if log != nil {
			e.log = log
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Enforcer) {
		if now != nil {
			e.now = now
		}
	}
}

func New(q Queue, ws Workspaces, obs runtime.Observers, maxAge time.Duration, opts ...Option) *Enforcer {
	e := &Enforcer{
		queue:      q,
		workspaces: ws,
		observers:  obs,
		maxAge:     maxAge,
		log:        slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enforce runs one sweep and returns the tasks it failed. A non-positive
// max age disables the sweep.
func (e *Enforcer) Enforce(ctx context.Context) ([]queue.Task, error) {
	if e.maxAge <= 0 {
		return nil, nil
	}
	expired, err := e.queue.TimeoutExpired(ctx, e.maxAge)
	if err != nil {
		return nil, fmt.Errorf("timeout sweep: %w", err)
	}
	now := e.now()
	for _, task := range expired {
		e.handle(ctx, task, now)
	}
	return expired, nil
}

func (e *Enforcer) handle(ctx context.Context, task queue.Task, now time.Time) {
	elapsed := Elapsed(task, now, e.maxAge)
	msg := task.ErrorMessage
	if msg == "" {
		msg = fmt.Sprintf("Timed out after %d minutes.", int(elapsed/time.Minute))
	}

	note := "workspace left in place"
	if e.workspaces != nil {
		if err := e.workspaces.CleanupWorkspace(task.ID, false); err != nil {
			note = "workspace cleanup failed"
			e.log.Debug("timeout_workspace_cleanup_failed", "task_id", task.ID, "error", err.Error())
		} else {
			note = "workspace cleaned"
		}
	}
	log := e.log.With("task_id", task.ID, "priority", string(task.Priority))
	log.Warn("task_timed_out", "elapsed_s", int(elapsed.Seconds()), "cleanup", note)

	if c, ok := e.observers.Health.(timeoutCounter); ok {
		c.RecordTimeout()
	}
	e.observers.RecordFailure(ctx, log, task, elapsed, msg, Notice(task.ID, elapsed))
}

// Run sweeps every interval until ctx is done.
func (e *Enforcer) Run(ctx context.Context, interval time.Duration) error {
	if e.maxAge <= 0 {
		e.log.Info("timeout_enforcer_disabled")
		<-ctx.Done()
		return nil
	}
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := e.Enforce(ctx); err != nil && ctx.Err() == nil {
				e.log.Warn("timeout_sweep_failed", "error", err.Error())
			}
		}
	}
}

// Elapsed is how long a timed-out task ran. It never reports less than
// maxAge, which guards against clock skew between started_at and
// completed_at.
func Elapsed(task queue.Task, now time.Time, maxAge time.Duration) time.Duration {
	started, completed := now, now
	if task.StartedAt != nil {
		started = *task.StartedAt
	}
	if task.CompletedAt != nil {
		completed = *task.CompletedAt
	}
	elapsed := completed.Sub(started).Truncate(time.Second)
	if elapsed < maxAge {
		return maxAge
	}
	return elapsed
}

func Notice(taskID int64, elapsed time.Duration) string {
	minutes := int(elapsed / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("⏱️ Task #%d timed out after %d minute(s). It has been marked as failed.", taskID, minutes)
}
