package gitflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/quailyquaily/nightshift/internal/procexec"
)

var secretMarkers = []string{
	"PRIVATE_KEY",
	"API_KEY",
	"PASSWORD",
	"SECRET",
	"TOKEN",
	"CREDENTIAL",
}

const pythonParseScript = "import ast,sys\nast.parse(open(sys.argv[1],encoding='utf-8').read(),sys.argv[1])"

// ValidateChanges checks files (relative to workspace) before a commit. It
// rejects files that mention secret-like keywords and .py files that do not
// parse. The message is "OK" on success, otherwise one issue per line.
func (m *Manager) ValidateChanges(ctx context.Context, workspace string, files []string) (bool, string) {
	var issues []string
	python := m.pythonBinary()
	for _, f := range files {
		path := filepath.Join(workspace, filepath.FromSlash(f))
		if containsSecret(path) {
			issues = append(issues, fmt.Sprintf("Potential secret in %s", f))
		}
		if strings.HasSuffix(f, ".py") && python != "" && !m.pythonParses(ctx, python, path) {
			issues = append(issues, fmt.Sprintf("Python syntax error in %s", f))
		}
	}
	if len(issues) > 0 {
		return false, strings.Join(issues, "\n")
	}
	return true, "OK"
}

func containsSecret(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	upper := strings.ToUpper(string(data))
	for _, marker := range secretMarkers {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return false
}

func (m *Manager) pythonBinary() string {
	python := strings.TrimSpace(m.cfg.Python)
	if python == "" || !procexec.LookPath(python) {
		return ""
	}
	return python
}

func (m *Manager) pythonParses(ctx context.Context, python, path string) bool {
	if _, err := os.Stat(path); err != nil {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.CommandTimeout)
	defer cancel()
	_, err := m.runner.Run(ctx, procexec.Command{Name: python, Args: []string{"-c", pythonParseScript, path}})
	return err == nil
}
