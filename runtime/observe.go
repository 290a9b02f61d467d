package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/quailyquaily/nightshift/executor"
	"github.com/quailyquaily/nightshift/internal/strutil"
	"github.com/quailyquaily/nightshift/monitor"
	"github.com/quailyquaily/nightshift/notify"
	"github.com/quailyquaily/nightshift/queue"
	"github.com/quailyquaily/nightshift/report"
)

const notifyOutputRunes = 3500

// RecordFailure runs the failure side effects for a task that someone else
// already marked failed: report line, health counters, perf log, a notice
// to the requester and clearing the live status.
func (o Observers) RecordFailure(ctx context.Context, log *slog.Logger, task queue.Task, elapsed time.Duration, errMsg, notice string) {
	runSteps(ctx, log, o.failureSteps(task, elapsed, errMsg, notice))
}

func (o Observers) failureSteps(task queue.Task, elapsed time.Duration, errMsg, notice string) []step {
	secs := int(elapsed.Seconds())
	return []step{
		{name: "report", run: func(context.Context) error {
			if o.Report == nil {
				return nil
			}
			return o.Report.AppendTaskCompletion(report.TaskMetrics{
				TaskID:          task.ID,
				Description:     task.Description,
				Priority:        string(task.Priority),
				Status:          string(queue.StatusFailed),
				DurationSeconds: secs,
				ErrorMessage:    errMsg,
			}, task.ProjectID)
		}},
		{name: "health", run: func(context.Context) error {
			if o.Health != nil {
				o.Health.RecordTaskCompletion(elapsed, false)
			}
			return nil
		}},
		{name: "perf", run: func(context.Context) error {
			if o.Perf == nil {
				return nil
			}
			return o.Perf.LogTaskExecution(monitor.PerfEntry{
				TaskID:          task.ID,
				Description:     task.Description,
				Priority:        priorityLabel(task.Priority),
				DurationSeconds: float64(secs),
			})
		}},
		{name: "notify", run: func(ctx context.Context) error {
			return o.notify(ctx, task, notice)
		}},
		o.clearStatusStep(task.ID),
	}
}

func (o Observers) successSteps(task queue.Task, elapsed time.Duration, files []string, out executor.Outcome, sha string) []step {
	secs := int(elapsed.Seconds())
	return []step{
		{name: "report", run: func(context.Context) error {
			if o.Report == nil {
				return nil
			}
			gitInfo := ""
			if sha != "" {
				gitInfo = "Commit: " + shortSHA(sha)
			}
			return o.Report.AppendTaskCompletion(report.TaskMetrics{
				TaskID:           task.ID,
				Description:      task.Description,
				Priority:         string(task.Priority),
				Status:           string(queue.StatusCompleted),
				DurationSeconds:  secs,
				FilesModified:    len(files),
				CommandsExecuted: len(out.CommandsExecuted),
				GitInfo:          gitInfo,
			}, task.ProjectID)
		}},
		{name: "health", run: func(context.Context) error {
			if o.Health != nil {
				o.Health.RecordTaskCompletion(elapsed, true)
			}
			return nil
		}},
		{name: "perf", run: func(context.Context) error {
			if o.Perf == nil {
				return nil
			}
			return o.Perf.LogTaskExecution(monitor.PerfEntry{
				TaskID:           task.ID,
				Description:      task.Description,
				Priority:         priorityLabel(task.Priority),
				DurationSeconds:  float64(secs),
				Success:          true,
				FilesModified:    len(files),
				CommandsExecuted: len(out.CommandsExecuted),
			})
		}},
		{name: "notify", run: func(ctx context.Context) error {
			return o.notify(ctx, task, completionNotice(task, secs, files, out, sha))
		}},
		o.clearStatusStep(task.ID),
	}
}

func (o Observers) clearStatusStep(taskID int64) step {
	return step{name: "live_status", run: func(context.Context) error {
		if o.Status != nil {
			o.Status.Clear(taskID)
		}
		return nil
	}}
}

func (o Observers) notify(ctx context.Context, task queue.Task, text string) error {
	if o.Notifier == nil || !notify.ShouldNotify(task.AssignedTo) || text == "" {
		return nil
	}
	return o.Notifier.Send(ctx, notify.Message{
		Recipient: task.AssignedTo,
		ThreadTS:  task.ThreadTS,
		Text:      text,
	})
}

func completionNotice(task queue.Task, secs int, files []string, out executor.Outcome, sha string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s Task #%d completed in %ds", priorityIcon(task.Priority), task.ID, secs)
	if len(files) > 0 {
		fmt.Fprintf(&b, "\n📝 Files modified: %d", len(files))
	}
	if len(out.CommandsExecuted) > 0 {
		fmt.Fprintf(&b, "\n⚙️ Commands: %d", len(out.CommandsExecuted))
	}
	if sha != "" {
		fmt.Fprintf(&b, "\n✅ Committed: %s", shortSHA(sha))
	}
	body := strutil.TruncateRunes(out.Output, notifyOutputRunes)
	if utf8.RuneCountInString(out.Output) > notifyOutputRunes {
		body += "\n\n_[Output truncated - see result file for full content]_"
	}
	fmt.Fprintf(&b, "\n```%s```", body)
	return b.String()
}

func failureNotice(taskID int64, errMsg string) string {
	return fmt.Sprintf("❌ Task #%d failed: %s", taskID, errMsg)
}

func priorityIcon(p queue.Priority) string {
	switch p {
	case queue.PrioritySerious:
		return "🔴"
	case queue.PriorityThought:
		return "🟡"
	case queue.PriorityGenerated:
		return "🟢"
	default:
		return "ℹ️"
	}
}

func priorityLabel(p queue.Priority) string {
	if p == "" {
		return "unknown"
	}
	return string(p)
}

func (r *Runtime) failureSteps(task queue.Task, elapsed time.Duration, errMsg string) []step {
	return r.deps.Observers.failureSteps(task, elapsed, errMsg, failureNotice(task.ID, errMsg))
}

func (r *Runtime) successSteps(task queue.Task, elapsed time.Duration, files []string, out executor.Outcome, sha string) []step {
	steps := r.deps.Observers.successSteps(task, elapsed, files, out, sha)
	usage := step{name: "usage", run: func(ctx context.Context) error {
		return r.deps.Results.RecordUsage(ctx, task.ID, task.ProjectID, out.Usage)
	}}
	// usage goes right after the report line
	return append(steps[:1], append([]step{usage}, steps[1:]...)...)
}
