package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestGenerator(t *testing.T, now time.Time) *Generator {
	t.Helper()
	g, err := New(t.TempDir(), WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g
}

func TestAppendTaskCompletion_DailyAndProject(t *testing.T) {
	now := time.Date(2026, 3, 2, 14, 5, 9, 0, time.UTC)
	g := newTestGenerator(t, now)

	err := g.AppendTaskCompletion(TaskMetrics{
		TaskID:           7,
		Description:      "Write the parser",
		Priority:         "serious",
		Status:           "completed",
		DurationSeconds:  42,
		FilesModified:    3,
		CommandsExecuted: 5,
		GitInfo:          "Commit: abc123",
	}, "web-app")
	if err != nil {
		t.Fatalf("AppendTaskCompletion: %v", err)
	}
	if err := g.AppendTaskCompletion(TaskMetrics{
		TaskID:          8,
		Description:     "Think about caching",
		Priority:        "thought",
		Status:          "failed",
		DurationSeconds: 10,
		ErrorMessage:    "Evaluator status: PARTIAL",
	}, ""); err != nil {
		t.Fatalf("AppendTaskCompletion: %v", err)
	}

	daily, ok, err := g.Daily(now)
	if err != nil || !ok {
		t.Fatalf("Daily: ok=%v err=%v", ok, err)
	}
	if !strings.HasPrefix(daily, "# Daily Report - Monday, March 02, 2026\n") {
		t.Fatalf("unexpected header:\n%s", daily)
	}
	want := "- ✓ [14:05:09] Task #7: Write the parser 🔴\n  - Duration: 42s\n  - Files modified: 3, Commands: 5\n  - Project: web-app\n  - Git: Commit: abc123\n"
	if !strings.Contains(daily, want) {
		t.Fatalf("missing entry:\n%s", daily)
	}
	first := strings.Index(daily, "Task #7")
	second := strings.Index(daily, "Task #8")
	summary := strings.Index(daily, "## Summary")
	if first < 0 || second < first || summary < second {
		t.Fatalf("entries not in order above summary:\n%s", daily)
	}
	if !strings.Contains(daily, "  - Error: Evaluator status: PARTIAL\n") {
		t.Fatalf("missing error line:\n%s", daily)
	}

	project, ok, err := g.Project("web-app")
	if err != nil || !ok {
		t.Fatalf("Project: ok=%v err=%v", ok, err)
	}
	if !strings.HasPrefix(project, "# Project Report - web-app\n") || strings.Contains(project, "Task #8") {
		t.Fatalf("unexpected project report:\n%s", project)
	}
}

func TestSummarizeDaily_Idempotent(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	g := newTestGenerator(t, now)
	for i, status := range []string{"completed", "completed", "failed"} {
		_ = g.AppendTaskCompletion(TaskMetrics{
			TaskID: int64(i + 1), Description: "t", Priority: "thought", Status: status,
			DurationSeconds: 10, FilesModified: 1, CommandsExecuted: 2,
		}, "")
	}

	stats, err := g.SummarizeDaily(now)
	if err != nil {
		t.Fatalf("SummarizeDaily: %v", err)
	}
	want := Stats{Total: 3, Completed: 2, Failed: 1, TotalDuration: 30, FilesModified: 3, Commands: 6}
	if stats != want {
		t.Fatalf("stats = %+v, want %+v", stats, want)
	}
	first, _, _ := g.Daily(now)
	if !strings.Contains(first, "- Success Rate: 66.7%\n") || !strings.Contains(first, "**2026-03-02**") {
		t.Fatalf("summary not written:\n%s", first)
	}

	again, err := g.SummarizeDaily(now)
	if err != nil || again != want {
		t.Fatalf("second summarize: %+v %v", again, err)
	}
	second, _, _ := g.Daily(now)
	if first != second {
		t.Fatalf("summary not idempotent:\n%s\n---\n%s", first, second)
	}

	_ = g.AppendTaskCompletion(TaskMetrics{TaskID: 4, Description: "late", Status: "completed"}, "")
	content, _, _ := g.Daily(now)
	if strings.Index(content, "Task #4") > strings.Index(content, "## Summary") {
		t.Fatalf("late entry appended after summary:\n%s", content)
	}
}

func TestSummarize_MissingReport(t *testing.T) {
	g := newTestGenerator(t, time.Now())
	stats, err := g.SummarizeProject("nope")
	if err != nil || stats.Total != 0 {
		t.Fatalf("expected empty stats, got %+v %v", stats, err)
	}
	if _, ok, _ := g.Project("nope"); ok {
		t.Fatalf("missing report reported as present")
	}
}

func TestListRecentAndCleanup(t *testing.T) {
	now := time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)
	g := newTestGenerator(t, now)
	for _, d := range []string{"2026-01-01", "2026-03-01", "2026-03-30"} {
		if err := os.WriteFile(filepath.Join(g.Dir(), d+".md"), []byte("# r\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := g.UpdateRecent(2); err != nil {
		t.Fatalf("UpdateRecent: %v", err)
	}
	recent, err := os.ReadFile(filepath.Join(g.Dir(), "RECENT.md"))
	if err != nil {
		t.Fatal(err)
	}
	if string(recent) != "# Recent Reports\n\n- 2026-03-30\n- 2026-03-01\n" {
		t.Fatalf("unexpected RECENT.md:\n%s", recent)
	}

	dates, _ := g.ListDaily()
	if len(dates) != 3 || dates[0] != "2026-03-30" {
		t.Fatalf("ListDaily = %v", dates)
	}

	removed, err := g.CleanupOld(30)
	if err != nil {
		t.Fatalf("CleanupOld: %v", err)
	}
	if len(removed) != 1 || removed[0] != "2026-01-01" {
		t.Fatalf("removed = %v", removed)
	}

	_ = g.AppendTaskCompletion(TaskMetrics{TaskID: 1, Status: "completed"}, "b-proj")
	_ = g.AppendTaskCompletion(TaskMetrics{TaskID: 2, Status: "completed"}, "a-proj")
	projects, _ := g.ListProjects()
	if strings.Join(projects, ",") != "a-proj,b-proj" {
		t.Fatalf("ListProjects = %v", projects)
	}
}
