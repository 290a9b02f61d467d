package gitflow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/quailyquaily/nightshift/internal/pathutil"
	"github.com/quailyquaily/nightshift/internal/procexec"
	"github.com/quailyquaily/nightshift/internal/taskinput"
)

const (
	defaultMainBranch = "main"
	defaultTaskBranch = "tasks"
	defaultTimeout    = 60 * time.Second
	managedHeader     = "# nightshift managed ignores"
	remoteName        = "origin"
)

var managedIgnores = []string{"data/"}

type Config struct {
	RepoPath          string
	MainBranch        string
	DefaultTaskBranch string
	UserName          string
	UserEmail         string
	CommandTimeout    time.Duration
	// Python runs syntax checks on .py files. Empty disables the check.
	Python string
}

func DefaultConfig() Config {
	return Config{
		MainBranch:        defaultMainBranch,
		DefaultTaskBranch: defaultTaskBranch,
		UserName:          "nightshift",
		UserEmail:         "agent@nightshift.local",
		CommandTimeout:    defaultTimeout,
		Python:            "python3",
	}
}

// GitError carries the stderr of a failed git invocation.
type GitError struct {
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *GitError) Error() string {
	msg := e.Stderr
	if msg == "" {
		msg = fmt.Sprintf("exit code %d", e.ExitCode)
	}
	return fmt.Sprintf("git %s: %s", strings.Join(e.Args, " "), msg)
}

// Manager drives the single workspace repository: one branch per project,
// a shared branch for loose tasks, everything merged back into main.
type Manager struct {
	cfg    Config
	runner procexec.Runner
	log    *slog.Logger
	now    func() time.Time

	// serializes checkouts; the repo has a single working tree
	mu         sync.Mutex
	pushWarned bool
}

func New(cfg Config, runner procexec.Runner, log *slog.Logger) *Manager {
	def := DefaultConfig()
	if strings.TrimSpace(cfg.MainBranch) == "" {
		cfg.MainBranch = def.MainBranch
	}
	if strings.TrimSpace(cfg.DefaultTaskBranch) == "" {
		cfg.DefaultTaskBranch = def.DefaultTaskBranch
	}
	if strings.TrimSpace(cfg.UserName) == "" {
		cfg.UserName = def.UserName
	}
	if strings.TrimSpace(cfg.UserEmail) == "" {
		cfg.UserEmail = def.UserEmail
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = def.CommandTimeout
	}
	cfg.RepoPath = pathutil.ExpandHomePath(cfg.RepoPath)
	if abs, err := filepath.Abs(cfg.RepoPath); err == nil {
		cfg.RepoPath = abs
	}
	if runner == nil {
		runner = procexec.NewOSRunner()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{cfg: cfg, runner: runner, log: log, now: time.Now}
}

func (m *Manager) RepoPath() string { return m.cfg.RepoPath }

// DetermineBranch maps a project to its branch. The project is slugged the
// same way as its workspace directory, so "My App" commits to
// project/my-app.
func (m *Manager) DetermineBranch(projectID string) string {
	if p := taskinput.SlugifyProject(strings.TrimSpace(projectID)); p != "" {
		return "project/" + p
	}
	return m.cfg.DefaultTaskBranch
}

// InitRepo makes sure the repository exists with at least one commit, the
// default task branch and the managed .gitignore entries.
func (m *Manager) InitRepo(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initRepo(ctx)
}

func (m *Manager) initRepo(ctx context.Context) error {
	if err := os.MkdirAll(m.cfg.RepoPath, 0o755); err != nil {
		return fmt.Errorf("create repo dir: %w", err)
	}
	created := false
	if _, err := os.Stat(filepath.Join(m.cfg.RepoPath, ".git")); err != nil {
		if _, err := m.git(ctx, "init"); err != nil {
			return err
		}
		if _, err := m.git(ctx, "symbolic-ref", "HEAD", "refs/heads/"+m.cfg.MainBranch); err != nil {
			return err
		}
		if _, err := m.git(ctx, "config", "user.email", m.cfg.UserEmail); err != nil {
			return err
		}
		if _, err := m.git(ctx, "config", "user.name", m.cfg.UserName); err != nil {
			return err
		}
		created = true
	}

	if _, err := m.git(ctx, "rev-parse", "HEAD"); err != nil {
		keep := filepath.Join(m.cfg.RepoPath, ".gitkeep")
		if err := os.WriteFile(keep, nil, 0o644); err != nil {
			return fmt.Errorf("write .gitkeep: %w", err)
		}
		if _, err := m.git(ctx, "add", ".gitkeep"); err != nil {
			return err
		}
		if _, err := m.git(ctx, "commit", "-m", "Initial commit"); err != nil {
			return err
		}
		if created {
			m.log.Info("git_repo_initialized", "path", m.cfg.RepoPath)
		}
	}

	if m.cfg.DefaultTaskBranch != m.cfg.MainBranch {
		if err := m.ensureBranch(ctx, m.cfg.DefaultTaskBranch); err != nil {
			return err
		}
	}
	return m.ensureGitignore()
}

// EnsureBranch creates branch from main when it does not exist yet.
func (m *Manager) EnsureBranch(ctx context.Context, branch string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureBranch(ctx, branch)
}

func (m *Manager) ensureBranch(ctx context.Context, branch string) error {
	if m.branchExists(ctx, branch) {
		return nil
	}
	if _, err := m.git(ctx, "branch", branch, m.cfg.MainBranch); err != nil {
		return err
	}
	m.log.Debug("git_branch_created", "branch", branch, "from", m.cfg.MainBranch)
	return nil
}

// CommitWorkspaceChanges stages files (relative to workspace) on branch,
// commits when the staged diff is non-empty, merges the branch into main
// and pushes. It returns "" when there was nothing to commit.
func (m *Manager) CommitWorkspaceChanges(ctx context.Context, branch, workspace string, files []string, message string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.initRepo(ctx); err != nil {
		return "", err
	}
	if err := m.ensureBranch(ctx, branch); err != nil {
		return "", err
	}
	paths := m.normalizeFiles(workspace, files)
	if len(paths) == 0 {
		m.log.Info("git_nothing_to_stage", "branch", branch)
		return "", nil
	}

	if _, err := m.git(ctx, "checkout", branch); err != nil {
		return "", err
	}
	m.fastForwardWithMain(ctx, branch)

	if err := m.stage(ctx, paths); err != nil {
		m.checkoutMain(ctx)
		return "", err
	}
	staged, err := m.git(ctx, "diff", "--cached", "--name-only")
	if err != nil {
		m.checkoutMain(ctx)
		return "", err
	}
	if strings.TrimSpace(staged) == "" {
		m.log.Info("git_no_changes", "branch", branch)
		m.checkoutMain(ctx)
		return "", nil
	}
	if _, err := m.git(ctx, "commit", "-m", message); err != nil {
		m.checkoutMain(ctx)
		return "", err
	}
	sha, err := m.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		m.checkoutMain(ctx)
		return "", err
	}
	if err := m.mergeIntoMain(ctx, branch); err != nil {
		return sha, err
	}
	if err := m.pushAll(ctx); err != nil {
		return sha, err
	}
	return sha, nil
}

// PushAll pushes every branch to origin when it is configured. An
// unreachable remote is reported once as a warning and then only at debug
// level; other push failures are returned.
func (m *Manager) PushAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pushAll(ctx)
}

func (m *Manager) pushAll(ctx context.Context) error {
	if !m.hasRemote(ctx, remoteName) {
		m.log.Debug("git_push_skipped", "reason", "no_remote")
		return nil
	}
	_, err := m.git(ctx, "push", "--all", remoteName)
	if err == nil {
		if m.pushWarned {
			m.log.Info("git_push_recovered")
			m.pushWarned = false
		}
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "Repository not found") || strings.Contains(msg, "Could not read from remote repository") {
		if !m.pushWarned {
			m.log.Warn("git_push_unavailable", "remote", remoteName, "error", msg)
			m.pushWarned = true
		} else {
			m.log.Debug("git_push_unavailable", "remote", remoteName)
		}
		return nil
	}
	m.log.Error("git_push_error", "remote", remoteName, "error", msg)
	return err
}

// ConfigureRemote adds or updates origin.
func (m *Manager) ConfigureRemote(ctx context.Context, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.initRepo(ctx); err != nil {
		return err
	}
	url = strings.TrimSpace(url)
	if url == "" {
		m.log.Warn("git_remote_skipped", "reason", "empty_url")
		return nil
	}
	if m.hasRemote(ctx, remoteName) {
		if _, err := m.git(ctx, "remote", "set-url", remoteName, url); err != nil {
			return err
		}
		m.log.Info("git_remote_updated", "remote", remoteName, "url", url)
		return nil
	}
	if _, err := m.git(ctx, "remote", "add", remoteName, url); err != nil {
		return err
	}
	m.log.Info("git_remote_added", "remote", remoteName, "url", url)
	return nil
}

// BranchHead returns the commit a branch points at.
func (m *Manager) BranchHead(ctx context.Context, branch string) (string, error) {
	return m.git(ctx, "rev-parse", "--verify", branch)
}

func (m *Manager) fastForwardWithMain(ctx context.Context, branch string) {
	if branch == m.cfg.MainBranch {
		return
	}
	if _, err := m.git(ctx, "merge", "--ff-only", m.cfg.MainBranch); err != nil {
		m.log.Debug("git_fast_forward_skipped", "branch", branch, "error", err.Error())
	}
}

func (m *Manager) mergeIntoMain(ctx context.Context, branch string) error {
	if branch == m.cfg.MainBranch {
		return nil
	}
	if _, err := m.git(ctx, "checkout", m.cfg.MainBranch); err != nil {
		return err
	}
	if _, err := m.git(ctx, "merge", "--ff-only", branch); err == nil {
		m.log.Debug("git_merged", "branch", branch, "mode", "ff")
		return nil
	}
	if _, err := m.git(ctx, "merge", "--no-ff", branch, "-m", fmt.Sprintf("Merge branch '%s'", branch)); err != nil {
		return err
	}
	m.log.Debug("git_merged", "branch", branch, "mode", "no-ff")
	return nil
}

func (m *Manager) checkoutMain(ctx context.Context) {
	if _, err := m.git(ctx, "checkout", m.cfg.MainBranch); err != nil {
		m.log.Warn("git_checkout_main_error", "error", err.Error())
	}
}

// stage adds paths, dropping the ones .gitignore excludes and missing paths
// git does not track.
func (m *Manager) stage(ctx context.Context, paths []string) error {
	ignored := m.ignoredPaths(ctx, paths)
	var missing []string
	var keep []string
	var skipped []string
	for _, p := range paths {
		if ignored[p] {
			skipped = append(skipped, p)
			continue
		}
		if _, err := os.Lstat(filepath.Join(m.cfg.RepoPath, filepath.FromSlash(p))); err != nil {
			missing = append(missing, p)
			continue
		}
		keep = append(keep, p)
	}
	if len(missing) > 0 {
		tracked := m.trackedPaths(ctx, missing)
		for _, p := range missing {
			if tracked[p] {
				keep = append(keep, p)
			} else {
				skipped = append(skipped, p)
			}
		}
	}
	if len(skipped) > 0 {
		m.log.Debug("git_stage_skipped", "paths", skipped)
	}
	if len(keep) == 0 {
		return nil
	}
	_, err := m.git(ctx, append([]string{"add", "-A", "--"}, keep...)...)
	return err
}

func (m *Manager) ignoredPaths(ctx context.Context, paths []string) map[string]bool {
	out := map[string]bool{}
	res, err := m.run(ctx, append([]string{"check-ignore", "--"}, paths...)...)
	if err != nil && res.ExitCode != 1 {
		m.log.Debug("git_check_ignore_error", "error", err.Error())
		return out
	}
	for _, line := range strings.Split(string(res.Stdout), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out[line] = true
		}
	}
	return out
}

func (m *Manager) trackedPaths(ctx context.Context, paths []string) map[string]bool {
	out := map[string]bool{}
	listed, err := m.git(ctx, append([]string{"ls-files", "--"}, paths...)...)
	if err != nil {
		return out
	}
	for _, line := range strings.Split(listed, "\n") {
		line = strings.TrimSpace(line)
		for _, p := range paths {
			if line == p || strings.HasPrefix(line, p+"/") {
				out[p] = true
			}
		}
	}
	return out
}

// normalizeFiles resolves workspace-relative paths to repo-relative ones,
// dropping anything outside the repository.
func (m *Manager) normalizeFiles(workspace string, files []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, f := range files {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		abs := pathutil.Resolve(workspace, f)
		rel, ok := pathutil.RelWithin(m.cfg.RepoPath, abs)
		if !ok {
			m.log.Warn("git_file_outside_repo", "path", abs)
			continue
		}
		if rel == "." || seen[rel] {
			continue
		}
		seen[rel] = true
		out = append(out, rel)
	}
	return out
}

func (m *Manager) ensureGitignore() error {
	path := filepath.Join(m.cfg.RepoPath, ".gitignore")
	var existing []string
	if data, err := os.ReadFile(path); err == nil {
		existing = strings.Split(strings.TrimRight(string(data), "\n"), "\n")
		if len(existing) == 1 && existing[0] == "" {
			existing = nil
		}
	}
	lines := append([]string(nil), existing...)
	if !containsLine(lines, managedHeader) {
		if n := len(lines); n > 0 && strings.TrimSpace(lines[n-1]) != "" {
			lines = append(lines, "")
		}
		lines = append(lines, managedHeader)
	}
	for _, entry := range managedIgnores {
		if !containsLine(lines, entry) {
			lines = append(lines, entry)
		}
	}
	if len(lines) == len(existing) {
		return nil
	}
	return os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644)
}

func (m *Manager) branchExists(ctx context.Context, branch string) bool {
	_, err := m.git(ctx, "rev-parse", "--verify", "--quiet", "refs/heads/"+branch)
	return err == nil
}

func (m *Manager) hasRemote(ctx context.Context, name string) bool {
	out, err := m.git(ctx, "remote")
	if err != nil {
		return false
	}
	return containsLine(strings.Split(out, "\n"), name)
}

func (m *Manager) git(ctx context.Context, args ...string) (string, error) {
	res, err := m.run(ctx, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(res.Stdout)), nil
}

func (m *Manager) run(ctx context.Context, args ...string) (procexec.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.CommandTimeout)
	defer cancel()
	res, err := m.runner.Run(ctx, procexec.Command{Name: "git", Args: args, Dir: m.cfg.RepoPath})
	if err != nil {
		return res, &GitError{Args: args, ExitCode: res.ExitCode, Stderr: strings.TrimSpace(string(res.Stderr))}
	}
	return res, nil
}

func containsLine(lines []string, want string) bool {
	for _, l := range lines {
		if strings.TrimSpace(l) == want {
			return true
		}
	}
	return false
}
