package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/quailyquaily/nightshift/internal/pathutil"
	"github.com/quailyquaily/nightshift/internal/procexec"
	"github.com/quailyquaily/nightshift/internal/strutil"
	"github.com/quailyquaily/nightshift/queue"
	"github.com/quailyquaily/nightshift/results"
)

const stderrTailBytes = 2000

type Config struct {
	// Command is the agent binary, resolved through PATH.
	Command       string
	Args          []string
	Env           []string
	WorkspaceRoot string
	CachePatterns []string
	// PauseFallback is used when the agent reports a usage limit without a
	// reset time.
	PauseFallback time.Duration
}

func DefaultConfig() Config {
	return Config{
		Command:       "claude",
		Args:          []string{"--print", "--output-format", "json"},
		WorkspaceRoot: "~/.nightshift/workspace",
		CachePatterns: append([]string(nil), DefaultCachePatterns...),
		PauseFallback: 30 * time.Minute,
	}
}

type Request struct {
	TaskID      int64
	Description string
	Priority    queue.Priority
	Timeout     time.Duration
	ProjectID   string
	TaskType    queue.TaskType
	Context     map[string]any
}

type Outcome struct {
	Output           string
	FilesModified    []string
	CommandsExecuted []string
	ExitCode         int
	Usage            results.Usage
	EvaluationStatus string
	WorkspacePath    string
}

// Executor runs the external coding agent for one task inside its
// workspace.
type Executor struct {
	cfg    Config
	runner procexec.Runner
	log    *slog.Logger
	now    func() time.Time
}

func New(cfg Config, runner procexec.Runner, log *slog.Logger) *Executor {
	if strings.TrimSpace(cfg.Command) == "" {
		cfg.Command = "claude"
	}
	cfg.WorkspaceRoot = pathutil.ExpandHomePath(cfg.WorkspaceRoot)
	if cfg.WorkspaceRoot == "" {
		cfg.WorkspaceRoot = pathutil.ExpandHomePath(DefaultConfig().WorkspaceRoot)
	}
	if cfg.CachePatterns == nil {
		cfg.CachePatterns = append([]string(nil), DefaultCachePatterns...)
	}
	if cfg.PauseFallback <= 0 {
		cfg.PauseFallback = 30 * time.Minute
	}
	if runner == nil {
		runner = procexec.NewOSRunner()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Executor{cfg: cfg, runner: runner, log: log, now: time.Now}
}

func (e *Executor) Config() Config { return e.cfg }

// ExecuteTask runs the agent once. A deadline or cancellation is returned
// as the context error. A usage-limit stop comes back as *PauseError with
// whatever the agent produced before stopping.
func (e *Executor) ExecuteTask(ctx context.Context, req Request) (Outcome, error) {
	ws, err := e.prepareWorkspace(req)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{WorkspacePath: ws}
	before := e.snapshot(ws)

	runCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	cmd := procexec.Command{
		Name:  e.cfg.Command,
		Args:  e.cfg.Args,
		Dir:   ws,
		Stdin: buildPrompt(req),
		Env:   e.cfg.Env,
	}
	log := e.log.With("task_id", req.TaskID, "workspace", ws)
	log.Info("agent_start", "command", cmd.String(), "timeout", req.Timeout.String())
	start := e.now()
	res, runErr := e.runner.Run(runCtx, cmd)
	out.ExitCode = res.ExitCode
	if ctxErr := runCtx.Err(); ctxErr != nil {
		log.Warn("agent_aborted", "error", ctxErr.Error(), "elapsed", e.now().Sub(start).String())
		return out, fmt.Errorf("agent run: %w", ctxErr)
	}

	report := parseReport(string(res.Stdout))
	out.Output = report.Output
	out.EvaluationStatus = report.EvaluationStatus
	out.Usage = report.Usage
	out.CommandsExecuted = report.CommandsExecuted
	out.FilesModified = mergeFiles(changedFiles(before, e.snapshot(ws)), report.FilesModified)
	log.Info("agent_done",
		"exit_code", res.ExitCode,
		"files_modified", len(out.FilesModified),
		"evaluation_status", out.EvaluationStatus,
		"elapsed", e.now().Sub(start).String(),
	)

	if pause := e.detectPause(report, string(res.Stdout)+"\n"+string(res.Stderr)); pause != nil {
		pause.Partial = out
		return out, pause
	}
	if runErr != nil {
		return out, fmt.Errorf("agent exited with code %d: %s", res.ExitCode, errorDetail(report, res.Stderr, runErr))
	}
	if report.IsError {
		return out, errors.New(errorDetail(report, res.Stderr, nil))
	}
	return out, nil
}

func buildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(req.Description))
	if req.ProjectID != "" {
		b.WriteString("\n\nProject: ")
		b.WriteString(req.ProjectID)
	}
	if req.TaskType == queue.TaskTypeRefine {
		b.WriteString("\n\nThis is a refinement task: the workspace already holds earlier work; improve it rather than starting over.")
	}
	b.WriteString("\n\nWhen finished, end your reply with a line `Status: COMPLETE`, `Status: PARTIAL`, `Status: INCOMPLETE` or `Status: FAILED`.")
	return b.String()
}

func mergeFiles(detected, reported []string) []string {
	seen := make(map[string]bool, len(detected)+len(reported))
	out := make([]string, 0, len(detected)+len(reported))
	for _, list := range [][]string{detected, reported} {
		for _, f := range list {
			f = cleanRel(f)
			if f == "" || f == "." || seen[f] {
				continue
			}
			seen[f] = true
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

func errorDetail(report agentReport, stderr []byte, runErr error) string {
	if msg := strings.TrimSpace(report.Output); report.IsError && msg != "" {
		return strutil.TruncateUTF8(msg, stderrTailBytes)
	}
	if tail := strings.TrimSpace(string(stderr)); tail != "" {
		if len(tail) > stderrTailBytes {
			tail = strings.ToValidUTF8(tail[len(tail)-stderrTailBytes:], "")
		}
		return tail
	}
	if runErr != nil {
		return runErr.Error()
	}
	return "agent reported an error"
}
