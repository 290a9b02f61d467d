package report

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/quailyquaily/nightshift/internal/fsutil"
	"github.com/quailyquaily/nightshift/internal/pathutil"
	"github.com/quailyquaily/nightshift/internal/strutil"
)

const (
	dateLayout        = "2006-01-02"
	summaryMarker     = "\n## Summary"
	recentIndexName   = "RECENT.md"
	projectsDirName   = "projects"
	descriptionRunes  = 80
	generatedTSLayout = "2006-01-02 15:04:05 UTC"
)

// TaskMetrics is one finished task as it appears in a report.
type TaskMetrics struct {
	TaskID           int64
	Description      string
	Priority         string
	Status           string
	DurationSeconds  int
	FilesModified    int
	CommandsExecuted int
	GitInfo          string
	ErrorMessage     string
	ProjectID        string
	Timestamp        time.Time
}

type Stats struct {
	Total         int
	Completed     int
	Failed        int
	TotalDuration int
	FilesModified int
	Commands      int
}

func (s Stats) SuccessRate() (float64, bool) {
	if s.Total == 0 {
		return 0, false
	}
	return float64(s.Completed) / float64(s.Total) * 100, true
}

// Generator keeps one markdown file per UTC day and one per project. Entries
// are appended above the "## Summary" section, which is only rewritten by
// the Summarize calls.
type Generator struct {
	dir string
	log *slog.Logger
	now func() time.Time
	mu  sync.Mutex
}

type Option func(*Generator)

func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		if now != nil {
			g.now = now
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(g *Generator) {
		if log != nil {
			g.log = log
		}
	}
}

func New(dir string, opts ...Option) (*Generator, error) {
	dir = pathutil.ExpandHomePath(dir)
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("missing report dir")
	}
	g := &Generator{dir: dir, log: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	if err := os.MkdirAll(filepath.Join(dir, projectsDirName), 0o755); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Generator) Dir() string { return g.dir }

func (g *Generator) DailyPath(day time.Time) string {
	return filepath.Join(g.dir, day.UTC().Format(dateLayout)+".md")
}

func (g *Generator) ProjectPath(projectID string) string {
	return filepath.Join(g.dir, projectsDirName, projectID+".md")
}

// AppendTaskCompletion adds m to today's report and, when a project is
// known, to that project's report. projectID overrides m.ProjectID.
func (g *Generator) AppendTaskCompletion(m TaskMetrics, projectID string) error {
	if strings.TrimSpace(projectID) != "" {
		m.ProjectID = strings.TrimSpace(projectID)
	}
	now := g.now().UTC()
	if m.Timestamp.IsZero() {
		m.Timestamp = now
	}
	entry := formatEntry(m)

	g.mu.Lock()
	defer g.mu.Unlock()

	daily := g.DailyPath(now)
	header := dailyHeader(now)
	if err := insertEntry(daily, header, entry); err != nil {
		g.log.Error("report_daily_append_failed", "path", daily, "error", err.Error())
		return err
	}
	if m.ProjectID == "" {
		return nil
	}
	project := g.ProjectPath(m.ProjectID)
	if err := insertEntry(project, projectHeader(m.ProjectID, now), entry); err != nil {
		g.log.Error("report_project_append_failed", "project_id", m.ProjectID, "path", project, "error", err.Error())
		return err
	}
	return nil
}

func insertEntry(path, header, entry string) error {
	content := header
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		content = string(b)
	case !os.IsNotExist(err):
		return err
	}
	if idx := strings.Index(content, summaryMarker); idx >= 0 {
		content = content[:idx] + "\n" + entry + content[idx:]
	} else {
		content += "\n" + entry
	}
	return fsutil.WriteFileAtomic(path, []byte(content), 0o644)
}

func formatEntry(m TaskMetrics) string {
	mark := "✗"
	if m.Status == "completed" {
		mark = "✓"
	}
	icon := "🟡"
	if m.Priority == "serious" {
		icon = "🔴"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "- %s [%s] Task #%d: %s %s\n",
		mark, m.Timestamp.UTC().Format("15:04:05"), m.TaskID,
		strutil.TruncateRunes(strutil.OneLine(m.Description), descriptionRunes), icon)
	fmt.Fprintf(&b, "  - Duration: %ds\n", m.DurationSeconds)
	fmt.Fprintf(&b, "  - Files modified: %d, Commands: %d\n", m.FilesModified, m.CommandsExecuted)
	if m.ProjectID != "" {
		fmt.Fprintf(&b, "  - Project: %s\n", m.ProjectID)
	}
	if m.GitInfo != "" {
		fmt.Fprintf(&b, "  - Git: %s\n", strutil.OneLine(m.GitInfo))
	}
	if m.ErrorMessage != "" {
		fmt.Fprintf(&b, "  - Error: %s\n", strutil.OneLine(m.ErrorMessage))
	}
	return b.String()
}

func dailyHeader(now time.Time) string {
	return fmt.Sprintf("# Daily Report - %s\n\nGenerated: %s\n\n## Tasks\n\n## Summary\n\n",
		now.Format("Monday, January 02, 2006"), now.Format(generatedTSLayout))
}

func projectHeader(projectID string, now time.Time) string {
	return fmt.Sprintf("# Project Report - %s\n\nGenerated: %s\n\n## Tasks\n\n## Summary\n\n",
		projectID, now.Format(generatedTSLayout))
}

// SummarizeDaily rewrites the Summary section of the report for day. A
// missing report is not an error.
func (g *Generator) SummarizeDaily(day time.Time) (Stats, error) {
	day = day.UTC()
	return g.summarize(g.DailyPath(day), day.Format(dateLayout))
}

func (g *Generator) SummarizeProject(projectID string) (Stats, error) {
	return g.summarize(g.ProjectPath(projectID), "Project "+projectID)
}

func (g *Generator) summarize(path, title string) (Stats, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		g.log.Debug("report_missing", "path", path)
		return Stats{}, nil
	}
	if err != nil {
		return Stats{}, err
	}
	content := string(b)
	stats := ParseStats(content)
	section := formatSummary(stats, title)

	if idx := strings.Index(content, summaryMarker); idx >= 0 {
		rest := ""
		body := idx + len(summaryMarker)
		if next := strings.Index(content[body:], "\n##"); next >= 0 {
			rest = content[body+next:]
		}
		content = content[:idx] + section + rest
	} else {
		content += "\n" + section
	}
	if err := fsutil.WriteFileAtomic(path, []byte(content), 0o644); err != nil {
		return Stats{}, err
	}
	g.log.Info("report_summarized", "path", path)
	return stats, nil
}

// ParseStats totals the task entries in a report. Only entry lines count,
// so an existing Summary section does not change the result.
func ParseStats(content string) Stats {
	var s Stats
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "- ✓"):
			s.Completed++
			s.Total++
		case strings.HasPrefix(line, "- ✗"):
			s.Failed++
			s.Total++
		case strings.HasPrefix(line, "- Duration:"):
			v := strings.TrimSuffix(strings.TrimSpace(strings.TrimPrefix(line, "- Duration:")), "s")
			if n, err := strconv.Atoi(v); err == nil {
				s.TotalDuration += n
			}
		case strings.HasPrefix(line, "- Files modified:"):
			rest := strings.TrimPrefix(line, "- Files modified:")
			files, cmds, _ := strings.Cut(rest, ", Commands:")
			if n, err := strconv.Atoi(strings.TrimSpace(files)); err == nil {
				s.FilesModified += n
			}
			if n, err := strconv.Atoi(strings.TrimSpace(cmds)); err == nil {
				s.Commands += n
			}
		}
	}
	return s
}

func formatSummary(s Stats, title string) string {
	var b strings.Builder
	b.WriteString("\n## Summary\n\n")
	fmt.Fprintf(&b, "**%s**\n\n", title)
	fmt.Fprintf(&b, "- Total Tasks: %d\n", s.Total)
	fmt.Fprintf(&b, "- Completed: %d ✓\n", s.Completed)
	fmt.Fprintf(&b, "- Failed: %d ✗\n", s.Failed)
	if rate, ok := s.SuccessRate(); ok {
		fmt.Fprintf(&b, "- Success Rate: %.1f%%\n", rate)
	} else {
		b.WriteString("- Success Rate: N/A\n")
	}
	fmt.Fprintf(&b, "\n- Total Duration: %ds\n", s.TotalDuration)
	fmt.Fprintf(&b, "- Files Modified: %d\n", s.FilesModified)
	fmt.Fprintf(&b, "- Commands Executed: %d\n", s.Commands)
	return b.String()
}

// Daily returns the report for day; ok is false when none exists.
func (g *Generator) Daily(day time.Time) (string, bool, error) {
	return readReport(g.DailyPath(day))
}

func (g *Generator) Project(projectID string) (string, bool, error) {
	return readReport(g.ProjectPath(projectID))
}

func readReport(path string) (string, bool, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(b), true, nil
}

// ListDaily returns report dates, newest first.
func (g *Generator) ListDaily() ([]string, error) {
	entries, err := os.ReadDir(g.dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".md") {
			continue
		}
		stem := strings.TrimSuffix(name, ".md")
		if _, err := time.Parse(dateLayout, stem); err != nil {
			continue
		}
		out = append(out, stem)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out, nil
}

func (g *Generator) ListProjects() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(g.dir, projectsDirName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
			out = append(out, strings.TrimSuffix(e.Name(), ".md"))
		}
	}
	sort.Strings(out)
	return out, nil
}

// UpdateRecent rewrites RECENT.md with the newest retain daily reports.
func (g *Generator) UpdateRecent(retain int) error {
	dates, err := g.ListDaily()
	if err != nil {
		return err
	}
	if retain > 0 && len(dates) > retain {
		dates = dates[:retain]
	}
	var b strings.Builder
	b.WriteString("# Recent Reports\n\n")
	for _, d := range dates {
		fmt.Fprintf(&b, "- %s\n", d)
	}
	return fsutil.WriteFileAtomic(filepath.Join(g.dir, recentIndexName), []byte(b.String()), 0o644)
}

// CleanupOld deletes daily reports dated more than days before today and
// returns the removed dates.
func (g *Generator) CleanupOld(days int) ([]string, error) {
	dates, err := g.ListDaily()
	if err != nil {
		return nil, err
	}
	today := g.now().UTC().Truncate(24 * time.Hour)
	cutoff := today.AddDate(0, 0, -days)
	var removed []string
	for _, d := range dates {
		t, err := time.Parse(dateLayout, d)
		if err != nil || !t.Before(cutoff) {
			continue
		}
		path := filepath.Join(g.dir, d+".md")
		if err := os.Remove(path); err != nil {
			g.log.Warn("report_cleanup_failed", "path", path, "error", err.Error())
			continue
		}
		g.log.Info("report_deleted", "date", d)
		removed = append(removed, d)
	}
	return removed, nil
}
