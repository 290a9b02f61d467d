package gitflow

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/quailyquaily/nightshift/internal/strutil"
	"github.com/quailyquaily/nightshift/queue"
)

const messageDescriptionRunes = 60

// CommitPolicy is how one finished task gets committed.
type CommitPolicy struct {
	// SynthesizeSummary asks for a summary markdown file to be written and
	// committed because the task touched no files.
	SynthesizeSummary bool
	// RequireValidation gates the commit on ValidateChanges.
	RequireValidation bool
	// Skip means the task produced nothing worth committing.
	Skip          bool
	messageFormat string
}

// PolicyFor picks the commit policy from the task priority and the number
// of files the agent modified.
func PolicyFor(p queue.Priority, filesModified int) CommitPolicy {
	switch p {
	case queue.PriorityThought, queue.PriorityGenerated:
		return CommitPolicy{
			SynthesizeSummary: filesModified == 0,
			messageFormat:     "Capture thought: #%d %s",
		}
	case queue.PrioritySerious:
		return CommitPolicy{
			RequireValidation: true,
			Skip:              filesModified == 0,
			messageFormat:     "Implement task #%d: %s",
		}
	default:
		return CommitPolicy{messageFormat: "Task #%d update: %s"}
	}
}

func (c CommitPolicy) Message(taskID int64, description string) string {
	format := c.messageFormat
	if format == "" {
		format = "Task #%d update: %s"
	}
	return fmt.Sprintf(format, taskID, strutil.TruncateRunes(description, messageDescriptionRunes))
}

// CollectCommitTargets unions the caller's files with the workspace listing,
// the directory holding the workspace and the shared data directory next to
// it. Paths are relative to workspace, deduplicated and sorted.
func CollectCommitTargets(workspace string, base []string, listing []string) []string {
	set := map[string]bool{}
	add := func(p string) {
		p = filepath.ToSlash(strings.TrimSpace(p))
		if p != "" && p != "." {
			set[p] = true
		}
	}
	for _, f := range base {
		add(f)
	}
	for _, f := range listing {
		add(f)
	}

	tasksRoot := filepath.Dir(filepath.Clean(workspace))
	if isDir(tasksRoot) {
		if rel, err := filepath.Rel(workspace, tasksRoot); err == nil {
			add(rel)
		}
	}
	dataDir := filepath.Join(filepath.Dir(tasksRoot), "data")
	if isDir(dataDir) {
		if rel, err := filepath.Rel(workspace, dataDir); err == nil {
			add(rel)
		}
	}

	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}
