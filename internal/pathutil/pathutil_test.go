package pathutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExpandHomePath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		t.Skip("no home dir")
	}
	cases := map[string]string{
		"":               "",
		"~":              filepath.Clean(home),
		"~/x/../y":       filepath.Join(home, "y"),
		"/tmp/a/":        "/tmp/a",
		"  relative/./p": "relative/p",
	}
	for in, want := range cases {
		if got := ExpandHomePath(in); got != want {
			t.Fatalf("ExpandHomePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRelWithin(t *testing.T) {
	cases := []struct {
		root, p string
		want    string
		ok      bool
	}{
		{"/repo", "/repo/tasks/a.txt", "tasks/a.txt", true},
		{"/repo", "/repo", ".", true},
		{"/repo", "/repo/../other", "", false},
		{"/repo", "/repository/x", "", false},
		{"/repo", "/elsewhere", "", false},
	}
	for _, tc := range cases {
		got, ok := RelWithin(tc.root, tc.p)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("RelWithin(%q, %q) = %q, %v", tc.root, tc.p, got, ok)
		}
	}
}

func TestResolve(t *testing.T) {
	if got := Resolve("/ws/tasks/task_1", "../../data"); got != "/ws/data" {
		t.Fatalf("got %q", got)
	}
	if got := Resolve("/ws", "/abs/./p"); got != "/abs/p" {
		t.Fatalf("got %q", got)
	}
}
