package executor

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/quailyquaily/nightshift/internal/taskinput"
	"github.com/quailyquaily/nightshift/queue"
)

// RefinementParentKey is re-exported for callers that only import executor.
const RefinementParentKey = queue.RefinementParentKey

// Context key naming a directory to seed a refine workspace from.
const SourcePathKey = "source_path"

var DefaultCachePatterns = []string{
	"**/node_modules",
	"**/__pycache__",
	"**/.venv",
	"**/.pytest_cache",
	"**/.mypy_cache",
	"**/.ruff_cache",
	"**/.cache",
	"**/target",
}

// WorkspacePath returns the directory a task runs in: a shared per-project
// directory when projectID is set, otherwise a private per-task one.
func (e *Executor) WorkspacePath(taskID int64, projectID string) string {
	if slug := taskinput.SlugifyProject(projectID); slug != "" {
		return filepath.Join(e.projectsRoot(), slug)
	}
	return e.taskWorkspace(taskID)
}

// TasksRoot is the parent of every per-task workspace.
func (e *Executor) TasksRoot() string {
	return filepath.Join(e.cfg.WorkspaceRoot, "tasks")
}

func (e *Executor) projectsRoot() string {
	return filepath.Join(e.cfg.WorkspaceRoot, "projects")
}

func (e *Executor) taskWorkspace(taskID int64) string {
	return filepath.Join(e.TasksRoot(), fmt.Sprintf("task_%d", taskID))
}

// prepareWorkspace creates the workspace. A refine task whose workspace is
// still empty is seeded from its parent task or from an explicit source
// directory.
func (e *Executor) prepareWorkspace(req Request) (string, error) {
	ws := e.WorkspacePath(req.TaskID, req.ProjectID)
	if err := os.MkdirAll(ws, 0o755); err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}
	if req.TaskType != queue.TaskTypeRefine {
		return ws, nil
	}
	empty, err := isEmptyDir(ws)
	if err != nil || !empty {
		return ws, err
	}
	src := e.refineSource(req)
	if src == "" {
		e.log.Debug("refine_workspace_unseeded", "task_id", req.TaskID)
		return ws, nil
	}
	if err := e.copyTree(src, ws); err != nil {
		return "", fmt.Errorf("seed refine workspace from %s: %w", src, err)
	}
	e.log.Info("refine_workspace_seeded", "task_id", req.TaskID, "source", src)
	return ws, nil
}

func (e *Executor) refineSource(req Request) string {
	if v, ok := req.Context[SourcePathKey].(string); ok {
		if p := strings.TrimSpace(v); p != "" && isDir(p) {
			return p
		}
	}
	if parent, ok := queue.ParentTaskID(req.Context[RefinementParentKey]); ok && parent != req.TaskID {
		if p := e.taskWorkspace(parent); isDir(p) {
			return p
		}
	}
	return ""
}

// ListWorkspaceFiles returns every regular file under root as a slash
// separated relative path, skipping .git and cache directories.
func (e *Executor) ListWorkspaceFiles(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			return nil
		}
		rel, rerr := filepath.Rel(root, p)
		if rerr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if d.Name() == ".git" || e.isCacheDir(rel) {
				return fs.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			out = append(out, rel)
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// CleanupWorkspaceCaches removes dependency and build caches under root and
// returns the relative paths it deleted.
func (e *Executor) CleanupWorkspaceCaches(root string) ([]string, error) {
	if !isDir(root) {
		return nil, nil
	}
	fsys := os.DirFS(root)
	seen := map[string]bool{}
	var matches []string
	for _, pattern := range e.cfg.CachePatterns {
		err := doublestar.GlobWalk(fsys, pattern, func(p string, d fs.DirEntry) error {
			if !d.IsDir() || seen[p] || strings.HasPrefix(p, ".git/") || p == ".git" {
				return nil
			}
			seen[p] = true
			matches = append(matches, p)
			return fs.SkipDir
		})
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", pattern, err)
		}
	}
	sort.Strings(matches)

	removed := make([]string, 0, len(matches))
	for _, rel := range matches {
		if hasRemovedParent(rel, removed) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(root, filepath.FromSlash(rel))); err != nil {
			e.log.Warn("workspace_cache_cleanup_error", "path", rel, "error", err.Error())
			continue
		}
		removed = append(removed, rel)
	}
	if len(removed) > 0 {
		e.log.Debug("workspace_caches_removed", "workspace", root, "paths", removed)
	}
	return removed, nil
}

// CleanupWorkspace handles the private workspace of taskID. Without force
// only caches are pruned so the files stay around for inspection; with force
// the directory is removed. Shared project workspaces are never touched.
func (e *Executor) CleanupWorkspace(taskID int64, force bool) error {
	ws := e.taskWorkspace(taskID)
	if !isDir(ws) {
		return nil
	}
	if force {
		if err := os.RemoveAll(ws); err != nil {
			return fmt.Errorf("remove workspace: %w", err)
		}
		e.log.Info("workspace_removed", "task_id", taskID, "workspace", ws)
		return nil
	}
	_, err := e.CleanupWorkspaceCaches(ws)
	return err
}

func (e *Executor) isCacheDir(rel string) bool {
	for _, pattern := range e.cfg.CachePatterns {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

func (e *Executor) copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil || rel == "." {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" || e.isCacheDir(filepath.ToSlash(rel)) {
				return fs.SkipDir
			}
			return os.MkdirAll(filepath.Join(dst, rel), 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(p, filepath.Join(dst, rel))
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

type fileStamp struct {
	size    int64
	modTime int64
}

func (e *Executor) snapshot(root string) map[string]fileStamp {
	files, err := e.ListWorkspaceFiles(root)
	if err != nil {
		return nil
	}
	out := make(map[string]fileStamp, len(files))
	for _, rel := range files {
		info, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			continue
		}
		out[rel] = fileStamp{size: info.Size(), modTime: info.ModTime().UnixNano()}
	}
	return out
}

// changedFiles lists paths created, modified or deleted between two
// snapshots.
func changedFiles(before, after map[string]fileStamp) []string {
	var out []string
	for p, st := range after {
		if prev, ok := before[p]; !ok || prev != st {
			out = append(out, p)
		}
	}
	for p := range before {
		if _, ok := after[p]; !ok {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

func hasRemovedParent(rel string, removed []string) bool {
	for _, r := range removed {
		if strings.HasPrefix(rel, r+"/") {
			return true
		}
	}
	return false
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

func isEmptyDir(p string) (bool, error) {
	entries, err := os.ReadDir(p)
	if err != nil {
		return false, err
	}
	for _, entry := range entries {
		if entry.Name() != ".git" {
			return false, nil
		}
	}
	return true, nil
}

func cleanRel(p string) string {
	return strings.TrimPrefix(path.Clean(filepath.ToSlash(strings.TrimSpace(p))), "./")
}
