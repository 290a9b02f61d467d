// Package procexec runs external commands behind an interface so callers can
// be tested without spawning processes.
package procexec

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
)

const defaultWaitDelay = 5 * time.Second

type Command struct {
	Name  string
	Args  []string
	Dir   string
	Stdin string
	// Env is appended to the parent environment. Nil inherits it unchanged.
	Env []string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Runner executes one command to completion. A non-zero exit is reported
// through both Result.ExitCode and a non-nil error.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

type OSRunner struct {
	// WaitDelay bounds how long Run waits for output pipes after the
	// context kills the process.
	WaitDelay time.Duration
}

func NewOSRunner() *OSRunner {
	return &OSRunner{WaitDelay: defaultWaitDelay}
}

func (r *OSRunner) Run(ctx context.Context, c Command) (Result, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if c.Env != nil {
		cmd.Env = append(cmd.Environ(), c.Env...)
	}
	if c.Stdin != "" {
		cmd.Stdin = strings.NewReader(c.Stdin)
	}
	cmd.WaitDelay = r.WaitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		res.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		return res, err
	}
	return res, nil
}

// LookPath reports whether name resolves to an executable on PATH.
func LookPath(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
