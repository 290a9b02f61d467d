package procexec

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestOSRunner_StdinAndExitCode(t *testing.T) {
	if !LookPath("sh") {
		t.Skip("sh not available")
	}
	r := NewOSRunner()
	res, err := r.Run(context.Background(), Command{
		Name:  "sh",
		Args:  []string{"-c", "cat; echo oops >&2; exit 3"},
		Stdin: "hello",
	})
	if err == nil {
		t.Fatalf("expected error for exit 3")
	}
	if res.ExitCode != 3 {
		t.Fatalf("exit code = %d, want 3", res.ExitCode)
	}
	if string(res.Stdout) != "hello" || strings.TrimSpace(string(res.Stderr)) != "oops" {
		t.Fatalf("unexpected output: stdout=%q stderr=%q", res.Stdout, res.Stderr)
	}
}

func TestOSRunner_DeadlineReturnsContextError(t *testing.T) {
	if !LookPath("sleep") {
		t.Skip("sleep not available")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := NewOSRunner().Run(ctx, Command{Name: "sleep", Args: []string{"10"}})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("process was not abandoned on deadline")
	}
}
