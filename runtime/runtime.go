package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/quailyquaily/nightshift/executor"
	"github.com/quailyquaily/nightshift/gitflow"
	"github.com/quailyquaily/nightshift/queue"
	"github.com/quailyquaily/nightshift/results"
)

// State is where one task attempt ended up.
type State string

const (
	StateStarted             State = "started"
	StateRunning             State = "running"
	StateSucceeded           State = "succeeded"
	StateEvaluatedIncomplete State = "evaluated_incomplete"
	StateTimedOut            State = "timed_out"
	StatePaused              State = "paused"
	StateErrored             State = "errored"
)

const pausePlaceholderOutput = "[Task completed before pause]"

type Config struct {
	// TaskTimeout bounds one agent run. Zero means no deadline.
	TaskTimeout time.Duration
	// PauseMaxSleep caps the usage-limit pause. Zero sleeps until the
	// reported reset time however far away it is.
	PauseMaxSleep time.Duration
	// RefineIncomplete queues a refinement task when the agent rates its
	// own work INCOMPLETE or PARTIAL.
	RefineIncomplete bool
}

// TimeoutError is returned for an agent run that outlived TaskTimeout.
type TimeoutError struct {
	Limit time.Duration
}

func (e *TimeoutError) Minutes() int {
	m := int(e.Limit / time.Minute)
	if m < 1 {
		m = 1
	}
	return m
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("Timed out after %d minute(s)", e.Minutes())
}

func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

// Runtime drives a single task from IN_PROGRESS to a terminal status. It
// is not safe to Execute two tasks at once on the same Runtime.
type Runtime struct {
	cfg   Config
	deps  Deps
	log   *slog.Logger
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type Option func(*Runtime)

func WithLogger(log *slog.Logger) Option {
	return func(r *Runtime) {
		if log != nil {
			r.log = log
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Runtime) {
		if now != nil {
			r.now = now
		}
	}
}

// WithSleeper replaces the pause sleep. The function must return early with
// ctx.Err() when ctx is cancelled.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Runtime) {
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

func New(cfg Config, deps Deps, opts ...Option) *Runtime {
	r := &Runtime{
		cfg:   cfg,
		deps:  deps,
		log:   slog.Default(),
		now:   time.Now,
		sleep: sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Execute runs task once. Task outcomes, including agent failures, are
// recorded in the queue and reported through the returned State; the error
// is reserved for store failures and for cancellation during a pause.
func (r *Runtime) Execute(ctx context.Context, task queue.Task) (State, error) {
	log := r.log.With(taskAttrs(task)...)
	if _, err := r.deps.Queue.MarkInProgress(ctx, task.ID); err != nil {
		return StateErrored, fmt.Errorf("mark in progress: %w", err)
	}
	log.Info("task_start", "description", task.Description)
	if r.deps.Status != nil {
		r.deps.Status.Set(task.ID, task.Description, task.ProjectID, string(StateRunning))
	}

	start := r.now()
	out, err := r.run(ctx, log, task)

	// bookkeeping must still land when the daemon is shutting down
	bg := context.WithoutCancel(ctx)

	var pause *executor.PauseError
	if errors.As(err, &pause) {
		return StatePaused, r.handlePause(ctx, log, task, start, pause)
	}
	if err != nil {
		state := StateErrored
		var te *TimeoutError
		if errors.As(err, &te) {
			state = StateTimedOut
		}
		return state, r.fail(bg, log, task, start, err.Error())
	}
	return r.finish(bg, log, task, start, out)
}

func (r *Runtime) run(ctx context.Context, log *slog.Logger, task queue.Task) (executor.Outcome, error) {
	runCtx := ctx
	if r.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.cfg.TaskTimeout)
		defer cancel()
	}
	out, err := r.deps.Agent.ExecuteTask(runCtx, executor.Request{
		TaskID:      task.ID,
		Description: task.Description,
		Priority:    task.Priority,
		Timeout:     r.cfg.TaskTimeout,
		ProjectID:   task.ProjectID,
		TaskType:    task.TaskType,
		Context:     task.Context,
	})
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		te := &TimeoutError{Limit: r.cfg.TaskTimeout}
		log.Error("task_timeout", "timeout_minutes", te.Minutes())
		return out, te
	}
	return out, err
}

func (r *Runtime) finish(ctx context.Context, log *slog.Logger, task queue.Task, start time.Time, out executor.Outcome) (State, error) {
	elapsed := r.now().Sub(start)
	files := append([]string(nil), out.FilesModified...)
	sort.Strings(files)

	log.Debug("task_executor_done",
		"exit_code", out.ExitCode,
		"duration_s", int(elapsed.Seconds()),
		"total_cost_usd", out.Usage.TotalCostUSD,
		"turns", out.Usage.NumTurns,
		"eval_status", out.EvaluationStatus,
	)
	if out.ExitCode != 0 {
		log.Warn("task_exit_code", "exit_code", out.ExitCode)
	}

	branch := ""
	if r.deps.Committer != nil {
		branch = r.deps.Committer.DetermineBranch(task.ProjectID)
	}
	workspace := out.WorkspacePath
	if workspace == "" {
		workspace = r.deps.Agent.WorkspacePath(task.ID, task.ProjectID)
	}

	res, err := r.deps.Results.Save(ctx, results.SaveInput{
		TaskID:                task.ID,
		Output:                out.Output,
		FilesModified:         files,
		CommandsExecuted:      out.CommandsExecuted,
		ProcessingTimeSeconds: int(elapsed.Seconds()),
		GitBranch:             branch,
		WorkspacePath:         workspace,
	})
	if err != nil {
		return StateErrored, r.fail(ctx, log, task, start, fmt.Sprintf("save result: %v", err))
	}
	log.Debug("task_result_saved", "result_id", res.ID, "files", len(files), "commands", len(out.CommandsExecuted))

	sha := ""
	if isDir(workspace) {
		if _, err := r.deps.Agent.CleanupWorkspaceCaches(workspace); err != nil {
			log.Debug("task_cache_cleanup_failed", "error", err.Error())
		}
		sha = r.commit(ctx, log, task, workspace, files, out.Output, branch)
		if sha != "" {
			if _, err := r.deps.Results.UpdateCommitInfo(ctx, res.ID, sha, "", branch); err != nil {
				log.Warn("task_result_commit_update_failed", "result_id", res.ID, "error", err.Error())
			}
		}
	} else {
		log.Warn("task_git_skipped", "reason", "workspace_missing")
	}

	switch status := strings.ToUpper(strings.TrimSpace(out.EvaluationStatus)); status {
	case "INCOMPLETE", "FAILED", "PARTIAL":
		log.Warn("task_evaluator_incomplete", "eval_status", status)
		msg := "Evaluator status: " + status
		if _, err := r.deps.Queue.MarkFailed(ctx, task.ID, msg); err != nil {
			log.Error("task_mark_failed_error", "error", err.Error())
			return StateErrored, err
		}
		steps := r.failureSteps(task, elapsed, "Evaluator: "+status)
		if r.cfg.RefineIncomplete && status != "FAILED" {
			steps = append(steps, step{name: "refine", run: func(ctx context.Context) error {
				_, err := r.deps.Queue.EnsureRefinement(ctx, task)
				return err
			}})
		}
		runSteps(ctx, log, steps)
		log.Info("task_complete", "status", "failed", "duration_s", int(elapsed.Seconds()), "eval_status", status)
		return StateEvaluatedIncomplete, nil
	}

	if _, err := r.deps.Queue.MarkCompleted(ctx, task.ID, res.ID); err != nil {
		return StateErrored, r.fail(ctx, log, task, start, err.Error())
	}
	runSteps(ctx, log, r.successSteps(task, elapsed, files, out, sha))
	log.Info("task_complete",
		"status", "completed",
		"duration_s", int(elapsed.Seconds()),
		"git_commit", shortSHA(sha),
		"eval_status", out.EvaluationStatus,
	)
	return StateSucceeded, nil
}

// fail marks the task failed and runs the failure side effects. The
// returned error is the store's, if marking failed did not stick.
func (r *Runtime) fail(ctx context.Context, log *slog.Logger, task queue.Task, start time.Time, msg string) error {
	elapsed := r.now().Sub(start)
	log.Error("task_failure", "error", msg, "duration_s", int(elapsed.Seconds()))
	_, markErr := r.deps.Queue.MarkFailed(ctx, task.ID, msg)
	if markErr != nil {
		log.Error("task_mark_failed_error", "error", markErr.Error())
	}
	runSteps(ctx, log, r.failureSteps(task, elapsed, msg))
	log.Info("task_complete", "status", "failed", "duration_s", int(elapsed.Seconds()), "error", msg)
	if markErr != nil {
		return fmt.Errorf("mark failed: %w", markErr)
	}
	return nil
}

func (r *Runtime) commit(ctx context.Context, log *slog.Logger, task queue.Task, workspace string, files []string, output, branch string) string {
	c := r.deps.Committer
	if c == nil {
		return ""
	}
	policy := gitflow.PolicyFor(task.Priority, len(files))
	if policy.Skip {
		log.Debug("task_git_no_changes")
		return ""
	}
	targets := append([]string(nil), files...)
	if policy.SynthesizeSummary {
		rel, err := c.WriteSummaryFile(workspace, task.ID, string(task.Priority), task.Description, output)
		if err != nil {
			log.Warn("task_git_summary_failed", "error", err.Error())
		} else {
			targets = append(targets, rel)
		}
	}
	if policy.RequireValidation {
		if ok, msg := c.ValidateChanges(ctx, workspace, files); !ok {
			log.Warn("task_git_validation_failed", "reason", msg)
			return ""
		}
	}
	listing, err := r.deps.Agent.ListWorkspaceFiles(workspace)
	if err != nil {
		log.Debug("task_workspace_list_failed", "error", err.Error())
	}
	targets = gitflow.CollectCommitTargets(workspace, targets, listing)
	if len(targets) == 0 {
		return ""
	}
	sha, err := c.CommitWorkspaceChanges(ctx, branch, workspace, targets, policy.Message(task.ID, task.Description))
	if err != nil {
		log.Warn("task_git_commit_failed", "branch", branch, "error", err.Error())
		return ""
	}
	if sha == "" {
		log.Debug("task_git_no_commit")
		return ""
	}
	log.Info("task_git_commit", "branch", branch, "commit", shortSHA(sha), "files", len(targets))
	return sha
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func taskAttrs(t queue.Task) []any {
	attrs := []any{"task_id", t.ID, "priority", string(t.Priority)}
	if t.ProjectID != "" {
		attrs = append(attrs, "project_id", t.ProjectID)
	}
	if t.ProjectName != "" {
		attrs = append(attrs, "project_name", t.ProjectName)
	}
	return attrs
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}

func isDir(p string) bool {
	if p == "" {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}
