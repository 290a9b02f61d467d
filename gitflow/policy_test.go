package gitflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/quailyquaily/nightshift/internal/procexec"
	"github.com/quailyquaily/nightshift/queue"
)

type recordingRunner struct {
	calls []procexec.Command
	err   error
}

func (r *recordingRunner) Run(_ context.Context, cmd procexec.Command) (procexec.Result, error) {
	r.calls = append(r.calls, cmd)
	if r.err != nil {
		return procexec.Result{ExitCode: 1}, r.err
	}
	return procexec.Result{}, nil
}

func TestPolicyFor(t *testing.T) {
	desc := strings.Repeat("x", 80)
	cases := []struct {
		name      string
		priority  queue.Priority
		files     int
		summary   bool
		validate  bool
		skip      bool
		msgPrefix string
	}{
		{name: "thought without files", priority: queue.PriorityThought, files: 0, summary: true, msgPrefix: "Capture thought: #7 "},
		{name: "thought with files", priority: queue.PriorityThought, files: 2, msgPrefix: "Capture thought: #7 "},
		{name: "generated without files", priority: queue.PriorityGenerated, files: 0, summary: true, msgPrefix: "Capture thought: #7 "},
		{name: "serious with files", priority: queue.PrioritySerious, files: 1, validate: true, msgPrefix: "Implement task #7: "},
		{name: "serious without files", priority: queue.PrioritySerious, files: 0, validate: true, skip: true, msgPrefix: "Implement task #7: "},
		{name: "other", priority: queue.Priority("legacy"), files: 0, msgPrefix: "Task #7 update: "},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := PolicyFor(tc.priority, tc.files)
			if p.SynthesizeSummary != tc.summary || p.RequireValidation != tc.validate || p.Skip != tc.skip {
				t.Fatalf("unexpected policy: %+v", p)
			}
			msg := p.Message(7, desc)
			if !strings.HasPrefix(msg, tc.msgPrefix) {
				t.Fatalf("message = %q", msg)
			}
			if got := strings.TrimPrefix(msg, tc.msgPrefix); got != strings.Repeat("x", 60) {
				t.Fatalf("description not cut at 60: %q", got)
			}
		})
	}
}

func TestCollectCommitTargets(t *testing.T) {
	root := t.TempDir()
	ws := filepath.Join(root, "tasks", "task_4")
	if err := os.MkdirAll(ws, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "data"), 0o755); err != nil {
		t.Fatal(err)
	}
	got := CollectCommitTargets(ws, []string{"b.txt", "a.txt", ""}, []string{"a.txt", "sub/c.txt"})
	want := []string{"..", "../../data", "a.txt", "b.txt", "sub/c.txt"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("targets = %v, want %v", got, want)
	}

	if err := os.RemoveAll(filepath.Join(root, "data")); err != nil {
		t.Fatal(err)
	}
	got = CollectCommitTargets(ws, nil, nil)
	if strings.Join(got, ",") != ".." {
		t.Fatalf("targets without data dir = %v", got)
	}
}

func TestValidateChanges(t *testing.T) {
	m := New(Config{RepoPath: t.TempDir(), Python: ""}, &recordingRunner{}, nil)
	ws := t.TempDir()
	writeFile(t, filepath.Join(ws, "config.env"), "API_KEY=xxx\n")
	writeFile(t, filepath.Join(ws, "readme.md"), "hello\n")
	writeFile(t, filepath.Join(ws, "notes.txt"), "my credentials live elsewhere\n")

	ok, msg := m.ValidateChanges(context.Background(), ws, []string{"readme.md"})
	if !ok || msg != "OK" {
		t.Fatalf("clean file rejected: %v %q", ok, msg)
	}
	ok, msg = m.ValidateChanges(context.Background(), ws, []string{"readme.md", "config.env", "notes.txt"})
	if ok {
		t.Fatalf("secret not detected")
	}
	if msg != "Potential secret in config.env\nPotential secret in notes.txt" {
		t.Fatalf("message = %q", msg)
	}
}

func TestValidateChanges_PythonSyntax(t *testing.T) {
	runner := &recordingRunner{err: errors.New("exit status 1")}
	m := New(Config{RepoPath: t.TempDir(), Python: "sh"}, runner, nil)
	if m.pythonBinary() == "" {
		t.Skip("sh not available")
	}
	ws := t.TempDir()
	writeFile(t, filepath.Join(ws, "bad.py"), "def broken(:\n")
	ok, msg := m.ValidateChanges(context.Background(), ws, []string{"bad.py"})
	if ok || msg != "Python syntax error in bad.py" {
		t.Fatalf("unexpected validation: %v %q", ok, msg)
	}
	if len(runner.calls) != 1 || runner.calls[0].Args[len(runner.calls[0].Args)-1] != filepath.Join(ws, "bad.py") {
		t.Fatalf("unexpected calls: %+v", runner.calls)
	}
}

func TestValidateChanges_RealPython(t *testing.T) {
	if !procexec.LookPath("python3") {
		t.Skip("python3 not available")
	}
	m := New(Config{RepoPath: t.TempDir(), Python: "python3"}, nil, nil)
	ws := t.TempDir()
	writeFile(t, filepath.Join(ws, "good.py"), "def ok():\n    return 1\n")
	writeFile(t, filepath.Join(ws, "bad.py"), "def broken(:\n")
	if ok, msg := m.ValidateChanges(context.Background(), ws, []string{"good.py"}); !ok {
		t.Fatalf("good.py rejected: %s", msg)
	}
	if ok, _ := m.ValidateChanges(context.Background(), ws, []string{"bad.py"}); ok {
		t.Fatalf("bad.py accepted")
	}
}

func TestWriteSummaryFile(t *testing.T) {
	m := New(Config{RepoPath: t.TempDir()}, &recordingRunner{}, nil)
	ws := t.TempDir()
	long := strings.Repeat("y", 2500)
	rel, err := m.WriteSummaryFile(ws, 9, "thought", "think about caching", long)
	if err != nil {
		t.Fatalf("WriteSummaryFile: %v", err)
	}
	if rel != "task_9_summary.md" {
		t.Fatalf("rel = %q", rel)
	}
	meta, body, err := ParseSummaryFile(filepath.Join(ws, rel))
	if err != nil {
		t.Fatalf("ParseSummaryFile: %v", err)
	}
	if meta.TaskID != 9 || meta.Priority != "thought" || !meta.Truncated {
		t.Fatalf("unexpected meta: %+v", meta)
	}
	if !strings.HasPrefix(body, "# Task #9 Summary") || !strings.Contains(body, "[output truncated for summary]") {
		t.Fatalf("unexpected body: %q", body[:80])
	}
	if !strings.Contains(body, strings.Repeat("y", 2000)) || strings.Contains(body, strings.Repeat("y", 2001)) {
		t.Fatalf("output not limited to 2000 bytes")
	}
}
