package gitflow

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/quailyquaily/nightshift/internal/strutil"
	"gopkg.in/yaml.v3"
)

const summaryOutputLimit = 2000

// SummaryMeta is the YAML frontmatter of a synthesized summary file.
type SummaryMeta struct {
	TaskID      int64     `yaml:"task_id"`
	Priority    string    `yaml:"priority"`
	Description string    `yaml:"description"`
	CreatedAt   time.Time `yaml:"created_at"`
	Truncated   bool      `yaml:"truncated,omitempty"`
}

// WriteSummaryFile writes task_<id>_summary.md into workspace and returns
// its path relative to workspace.
func (m *Manager) WriteSummaryFile(workspace string, taskID int64, priority, description, output string) (string, error) {
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("task_%d_summary.md", taskID)

	body := strutil.TruncateUTF8(output, summaryOutputLimit)
	truncated := len(body) < len(output)
	if truncated {
		body += "\n\n[output truncated for summary]"
	}
	meta := SummaryMeta{
		TaskID:      taskID,
		Priority:    priority,
		Description: description,
		CreatedAt:   m.now().UTC(),
		Truncated:   truncated,
	}
	front, err := yaml.Marshal(meta)
	if err != nil {
		return "", err
	}

	var b bytes.Buffer
	b.WriteString("---\n")
	b.Write(front)
	b.WriteString("---\n\n")
	fmt.Fprintf(&b, "# Task #%d Summary\n\n", taskID)
	fmt.Fprintf(&b, "**When**: %s UTC\n", meta.CreatedAt.Format("2006-01-02T15:04:05"))
	fmt.Fprintf(&b, "**Priority**: %s\n", priority)
	fmt.Fprintf(&b, "**Description**: %s\n\n", description)
	fmt.Fprintf(&b, "## Output\n\n%s\n", body)

	if err := os.WriteFile(filepath.Join(workspace, name), b.Bytes(), 0o644); err != nil {
		return "", err
	}
	return name, nil
}

// ParseSummaryFile reads back the frontmatter and markdown body of a
// summary file.
func ParseSummaryFile(path string) (SummaryMeta, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SummaryMeta{}, "", err
	}
	content := strings.ReplaceAll(string(data), "\r\n", "\n")
	if !strings.HasPrefix(content, "---\n") {
		return SummaryMeta{}, content, fmt.Errorf("missing frontmatter")
	}
	rest := content[len("---\n"):]
	end := strings.Index(rest, "\n---\n")
	if end < 0 {
		return SummaryMeta{}, content, fmt.Errorf("unterminated frontmatter")
	}
	var meta SummaryMeta
	if err := yaml.Unmarshal([]byte(rest[:end]), &meta); err != nil {
		return SummaryMeta{}, content, fmt.Errorf("decode frontmatter: %w", err)
	}
	return meta, strings.TrimLeft(rest[end+len("\n---\n"):], "\n"), nil
}
