package runtime

import (
	"context"
	"time"

	"github.com/quailyquaily/nightshift/executor"
	"github.com/quailyquaily/nightshift/monitor"
	"github.com/quailyquaily/nightshift/notify"
	"github.com/quailyquaily/nightshift/queue"
	"github.com/quailyquaily/nightshift/report"
	"github.com/quailyquaily/nightshift/results"
)

type TaskQueue interface {
	MarkInProgress(ctx context.Context, id int64) (*queue.Task, error)
	MarkCompleted(ctx context.Context, id int64, resultID int64) (*queue.Task, error)
	MarkFailed(ctx context.Context, id int64, errMsg string) (*queue.Task, error)
	EnsureRefinement(ctx context.Context, parent queue.Task) (*queue.Task, error)
}

type Agent interface {
	ExecuteTask(ctx context.Context, req executor.Request) (executor.Outcome, error)
	WorkspacePath(taskID int64, projectID string) string
	ListWorkspaceFiles(root string) ([]string, error)
	CleanupWorkspaceCaches(root string) ([]string, error)
}

type ResultStore interface {
	Save(ctx context.Context, in results.SaveInput) (*results.Result, error)
	UpdateCommitInfo(ctx context.Context, resultID int64, sha, prURL, branch string) (*results.Result, error)
	RecordUsage(ctx context.Context, taskID int64, projectID string, u results.Usage) error
}

// Committer is the version-control side. A nil Committer disables commits.
type Committer interface {
	DetermineBranch(projectID string) string
	CommitWorkspaceChanges(ctx context.Context, branch, workspace string, files []string, message string) (string, error)
	ValidateChanges(ctx context.Context, workspace string, files []string) (bool, string)
	WriteSummaryFile(workspace string, taskID int64, priority, description, output string) (string, error)
}

type Reporter interface {
	AppendTaskCompletion(m report.TaskMetrics, projectID string) error
}

type Health interface {
	RecordTaskCompletion(d time.Duration, success bool)
	RecordPause()
}

type PerfLogger interface {
	LogTaskExecution(e monitor.PerfEntry) error
}

type StatusTracker interface {
	Set(taskID int64, description, projectID, phase string)
	Clear(taskID int64)
}

// Observers receive the best-effort side effects of a finished task. Any of
// them may be nil.
type Observers struct {
	Report   Reporter
	Health   Health
	Perf     PerfLogger
	Notifier notify.Notifier
	Status   StatusTracker
}

type Deps struct {
	Queue     TaskQueue
	Agent     Agent
	Results   ResultStore
	Committer Committer
	Observers
}
