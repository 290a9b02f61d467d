package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/quailyquaily/nightshift/executor"
	"github.com/quailyquaily/nightshift/queue"
	"github.com/quailyquaily/nightshift/results"
)

// handlePause keeps the work done before a usage-limit stop, then suspends
// this execution path until the limit resets. Only cancellation of ctx
// cuts the sleep short.
func (r *Runtime) handlePause(ctx context.Context, log *slog.Logger, task queue.Task, start time.Time, p *executor.PauseError) error {
	bg := context.WithoutCancel(ctx)
	resetAt := ""
	if !p.ResetAt.IsZero() {
		resetAt = p.ResetAt.Format(time.RFC3339)
	}
	log.Warn("task_pause_limit", "usage_percent", p.UsagePercent, "reset_at", resetAt)

	part := p.Partial
	output := part.Output
	if strings.TrimSpace(output) == "" {
		output = pausePlaceholderOutput
	}
	res, err := r.deps.Results.Save(bg, results.SaveInput{
		TaskID:                task.ID,
		Output:                output,
		FilesModified:         part.FilesModified,
		CommandsExecuted:      part.CommandsExecuted,
		ProcessingTimeSeconds: int(r.now().Sub(start).Seconds()),
		WorkspacePath:         part.WorkspacePath,
	})
	if err != nil {
		log.Warn("task_pause_save_failed", "error", err.Error())
	} else if _, err := r.deps.Queue.MarkCompleted(bg, task.ID, res.ID); err != nil {
		log.Warn("task_pause_save_failed", "error", err.Error())
	}

	wait := r.pauseDuration(log, p)
	runSteps(bg, log, []step{
		{name: "health", run: func(context.Context) error {
			if r.deps.Health != nil {
				r.deps.Health.RecordPause()
			}
			return nil
		}},
		r.deps.Observers.clearStatusStep(task.ID),
		{name: "notify_pause", run: func(ctx context.Context) error {
			return r.deps.Observers.notify(ctx, task, pauseNotice(task.ID, p, wait))
		}},
	})

	if wait <= 0 {
		return nil
	}
	log.Warn("task_pause_sleep", "sleep_minutes", math.Round(wait.Minutes()*100)/100, "resume_at", resetAt)
	if err := r.sleep(ctx, wait); err != nil {
		log.Info("task_pause_interrupted", "error", err.Error())
		return err
	}
	log.Info("task_pause_resume")
	runSteps(bg, log, []step{{name: "notify_resume", run: func(ctx context.Context) error {
		return r.deps.Observers.notify(ctx, task, "▶️  Agent usage limit reset - resuming tasks")
	}}})
	return nil
}

func (r *Runtime) pauseDuration(log *slog.Logger, p *executor.PauseError) time.Duration {
	if p.ResetAt.IsZero() {
		log.Info("task_pause_reset_time_missing")
		return 0
	}
	wait := p.ResetAt.Sub(r.now())
	if wait < 0 {
		wait = 0
	}
	if limit := r.cfg.PauseMaxSleep; limit > 0 && wait > limit {
		log.Warn("task_pause_capped", "requested", wait.String(), "cap", limit.String())
		wait = limit
	}
	return wait
}

func pauseNotice(taskID int64, p *executor.PauseError, wait time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⏸️  Agent usage limit reached (%.0f%%)\n", p.UsagePercent)
	fmt.Fprintf(&b, "Task #%d completed successfully\n", taskID)
	if p.ResetAt.IsZero() {
		b.WriteString("Pausing execution until credits refresh.")
		return b.String()
	}
	fmt.Fprintf(&b, "Pausing execution until %s\n", p.ResetAt.Format("15:04:05"))
	fmt.Fprintf(&b, "Will resume automatically in ~%.0f minutes", wait.Minutes())
	return b.String()
}
