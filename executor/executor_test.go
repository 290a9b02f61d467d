package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/quailyquaily/nightshift/internal/procexec"
	"github.com/quailyquaily/nightshift/queue"
)

type fakeRunner struct {
	calls []procexec.Command
	run   func(ctx context.Context, cmd procexec.Command) (procexec.Result, error)
}

func (f *fakeRunner) Run(ctx context.Context, cmd procexec.Command) (procexec.Result, error) {
	f.calls = append(f.calls, cmd)
	if f.run == nil {
		return procexec.Result{}, nil
	}
	return f.run(ctx, cmd)
}

func newTestExecutor(t *testing.T, runner procexec.Runner) *Executor {
	t.Helper()
	cfg := DefaultConfig()
	cfg.WorkspaceRoot = t.TempDir()
	return New(cfg, runner, nil)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestExecuteTask_ParsesResultAndDetectsFiles(t *testing.T) {
	runner := &fakeRunner{run: func(_ context.Context, cmd procexec.Command) (procexec.Result, error) {
		writeFile(t, filepath.Join(cmd.Dir, "src", "main.go"), "package main\n")
		stdout := `{"type":"result","result":"Implemented it.\nStatus: COMPLETE","total_cost_usd":0.42,"duration_ms":1500,"duration_api_ms":900,"num_turns":4,"commands_executed":["go test ./..."],"files_modified":["README.md"]}`
		return procexec.Result{Stdout: []byte(stdout)}, nil
	}}
	e := newTestExecutor(t, runner)

	out, err := e.ExecuteTask(context.Background(), Request{TaskID: 7, Description: "add main", Priority: queue.PrioritySerious})
	if err != nil {
		t.Fatalf("ExecuteTask: %v", err)
	}
	if !strings.HasPrefix(out.Output, "Implemented it.") {
		t.Fatalf("unexpected output: %q", out.Output)
	}
	if out.EvaluationStatus != "COMPLETE" {
		t.Fatalf("evaluation status = %q", out.EvaluationStatus)
	}
	if got := strings.Join(out.FilesModified, ","); got != "README.md,src/main.go" {
		t.Fatalf("files modified = %s", got)
	}
	if out.Usage.NumTurns != 4 || out.Usage.TotalCostUSD != 0.42 || out.Usage.DurationAPIMs != 900 {
		t.Fatalf("unexpected usage: %+v", out.Usage)
	}
	if len(out.CommandsExecuted) != 1 {
		t.Fatalf("commands = %v", out.CommandsExecuted)
	}
	if out.WorkspacePath != e.WorkspacePath(7, "") {
		t.Fatalf("workspace = %s", out.WorkspacePath)
	}
	if len(runner.calls) != 1 || !strings.Contains(runner.calls[0].Stdin, "add main") {
		t.Fatalf("prompt not passed on stdin: %+v", runner.calls)
	}
}

func TestExecuteTask_PlainTextOutput(t *testing.T) {
	runner := &fakeRunner{run: func(_ context.Context, _ procexec.Command) (procexec.Result, error) {
		return procexec.Result{Stdout: []byte("Did half of it.\nEvaluation status: partial\n")}, nil
	}}
	out, err := newTestExecutor(t, runner).ExecuteTask(context.Background(), Request{TaskID: 1, Description: "x"})
	if err != nil {
		t.Fatalf("ExecuteTask: %v", err)
	}
	if out.EvaluationStatus != "PARTIAL" {
		t.Fatalf("evaluation status = %q", out.EvaluationStatus)
	}
}

func TestExecuteTask_DeadlineExceeded(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, _ procexec.Command) (procexec.Result, error) {
		<-ctx.Done()
		return procexec.Result{ExitCode: -1}, ctx.Err()
	}}
	_, err := newTestExecutor(t, runner).ExecuteTask(context.Background(), Request{TaskID: 1, Description: "x", Timeout: 20 * time.Millisecond})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestExecuteTask_NonZeroExit(t *testing.T) {
	runner := &fakeRunner{run: func(_ context.Context, _ procexec.Command) (procexec.Result, error) {
		return procexec.Result{ExitCode: 2, Stderr: []byte("fatal: cannot continue")}, errors.New("exit status 2")
	}}
	_, err := newTestExecutor(t, runner).ExecuteTask(context.Background(), Request{TaskID: 1, Description: "x"})
	if err == nil || !strings.Contains(err.Error(), "cannot continue") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
	var pause *PauseError
	if errors.As(err, &pause) {
		t.Fatalf("plain failure reported as pause")
	}
}

func TestExecuteTask_PauseFromJSON(t *testing.T) {
	reset := time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC)
	runner := &fakeRunner{run: func(_ context.Context, cmd procexec.Command) (procexec.Result, error) {
		writeFile(t, filepath.Join(cmd.Dir, "notes.md"), "partial")
		stdout := `{"type":"result","result":"partial work","usage_limit":{"usage_percent":95,"reset_at":"` + reset.Format(time.RFC3339) + `"}}`
		return procexec.Result{Stdout: []byte(stdout)}, nil
	}}
	_, err := newTestExecutor(t, runner).ExecuteTask(context.Background(), Request{TaskID: 3, Description: "x"})
	var pause *PauseError
	if !errors.As(err, &pause) {
		t.Fatalf("expected PauseError, got %v", err)
	}
	if !pause.ResetAt.Equal(reset) || pause.UsagePercent != 95 {
		t.Fatalf("unexpected pause: %+v", pause)
	}
	if pause.Partial.Output != "partial work" || len(pause.Partial.FilesModified) != 1 {
		t.Fatalf("partial outcome lost: %+v", pause.Partial)
	}
}

func TestExecuteTask_PauseFromText(t *testing.T) {
	runner := &fakeRunner{run: func(_ context.Context, _ procexec.Command) (procexec.Result, error) {
		return procexec.Result{ExitCode: 1, Stdout: []byte("Claude AI usage limit reached|1780000000")}, errors.New("exit status 1")
	}}
	_, err := newTestExecutor(t, runner).ExecuteTask(context.Background(), Request{TaskID: 3, Description: "x"})
	var pause *PauseError
	if !errors.As(err, &pause) {
		t.Fatalf("expected PauseError, got %v", err)
	}
	if pause.ResetAt.Unix() != 1780000000 {
		t.Fatalf("reset = %v", pause.ResetAt)
	}
}

func TestParseResetTime(t *testing.T) {
	cases := []struct {
		in   string
		ok   bool
		unix int64
	}{
		{in: "1780000000", ok: true, unix: 1780000000},
		{in: "1780000000000", ok: true, unix: 1780000000},
		{in: "2026-06-01T18:00:00Z", ok: true, unix: time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC).Unix()},
		{in: "soon", ok: false},
		{in: "", ok: false},
	}
	for _, tc := range cases {
		got, ok := parseResetTime(tc.in)
		if ok != tc.ok || (ok && got.Unix() != tc.unix) {
			t.Fatalf("parseResetTime(%q) = (%v, %v)", tc.in, got, ok)
		}
	}
}
