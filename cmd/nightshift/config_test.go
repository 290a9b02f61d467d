package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/quailyquaily/nightshift/notify"
	"github.com/spf13/viper"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	setDefaults()
	t.Cleanup(viper.Reset)
}

func TestDBConfigFromViper_ZerosFallBack(t *testing.T) {
	resetViper(t)
	viper.Set("db.dsn", "/tmp/x.db")
	viper.Set("db.pool.max_open_conns", 0)
	viper.Set("db.pool.max_idle_conns", -3)
	viper.Set("db.pool.conn_max_lifetime", -time.Second)
	viper.Set("db.sqlite.busy_timeout_ms", 0)

	cfg := dbConfigFromViper()
	if cfg.DSN != "/tmp/x.db" {
		t.Fatalf("dsn = %q", cfg.DSN)
	}
	if cfg.Pool.MaxOpenConns != 1 || cfg.Pool.MaxIdleConns != 1 {
		t.Fatalf("pool = %+v", cfg.Pool)
	}
	if cfg.Pool.ConnMaxLifetime != 0 {
		t.Fatalf("conn max lifetime = %s", cfg.Pool.ConnMaxLifetime)
	}
	if cfg.SQLite.BusyTimeoutMs != 5000 {
		t.Fatalf("busy timeout = %d", cfg.SQLite.BusyTimeoutMs)
	}
	if !cfg.AutoMigrate || !cfg.SQLite.WAL {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestExecutorConfigFromViper(t *testing.T) {
	resetViper(t)
	viper.Set("agent.command", "  my-agent ")
	viper.Set("agent.args", []string{"-p"})
	viper.Set("agent.cache_patterns", []string{"**/tmp"})

	cfg := executorConfigFromViper()
	if cfg.Command != "my-agent" {
		t.Fatalf("command = %q", cfg.Command)
	}
	if len(cfg.Args) != 1 || cfg.Args[0] != "-p" {
		t.Fatalf("args = %v", cfg.Args)
	}
	if len(cfg.CachePatterns) != 1 || cfg.CachePatterns[0] != "**/tmp" {
		t.Fatalf("cache patterns = %v", cfg.CachePatterns)
	}
	if cfg.PauseFallback != 30*time.Minute {
		t.Fatalf("pause fallback = %s", cfg.PauseFallback)
	}
}

func TestGitConfigFromViper(t *testing.T) {
	resetViper(t)
	viper.Set("agent.workspace_root", "/srv/ws")

	cfg, ok := gitConfigFromViper()
	if !ok {
		t.Fatalf("expected git enabled by default")
	}
	if cfg.RepoPath != "/srv/ws" {
		t.Fatalf("repo path = %q, want workspace root", cfg.RepoPath)
	}
	if cfg.MainBranch != "main" || cfg.DefaultTaskBranch != "tasks" {
		t.Fatalf("branches = %q/%q", cfg.MainBranch, cfg.DefaultTaskBranch)
	}

	viper.Set("git.repo_path", "/srv/repo")
	if cfg, _ := gitConfigFromViper(); cfg.RepoPath != "/srv/repo" {
		t.Fatalf("repo path = %q", cfg.RepoPath)
	}

	viper.Set("git.enabled", false)
	if _, ok := gitConfigFromViper(); ok {
		t.Fatalf("expected git disabled")
	}
}

func TestRuntimeConfigFromViper(t *testing.T) {
	resetViper(t)
	cfg := runtimeConfigFromViper()
	if cfg.TaskTimeout != 30*time.Minute {
		t.Fatalf("task timeout = %s", cfg.TaskTimeout)
	}
	if cfg.PauseMaxSleep != 0 {
		t.Fatalf("pause cap should default to uncapped, got %s", cfg.PauseMaxSleep)
	}
	if !cfg.RefineIncomplete {
		t.Fatalf("refine should default on")
	}

	viper.Set("agent.task_timeout", -time.Minute)
	viper.Set("pause.max_sleep", "2h")
	cfg = runtimeConfigFromViper()
	if cfg.TaskTimeout != 0 {
		t.Fatalf("negative timeout should clamp to 0, got %s", cfg.TaskTimeout)
	}
	if cfg.PauseMaxSleep != 2*time.Hour {
		t.Fatalf("pause cap = %s", cfg.PauseMaxSleep)
	}
}

func TestNotifierFromViper_Redacts(t *testing.T) {
	resetViper(t)
	viper.Set("notify.redaction.patterns", []string{`ticket-\d+`, `(`})

	var got []string
	next := notify.Func(func(_ context.Context, msg notify.Message) error {
		got = append(got, msg.Text)
		return nil
	})
	n := notifierFromViper(next, newDiscardLogger())
	if err := n.Send(context.Background(), notify.Message{Recipient: "u1", Text: "see ticket-42 and Bearer abcdefghijklmnop"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d messages", len(got))
	}
	if strings.Contains(got[0], "ticket-42") || strings.Contains(got[0], "abcdefghijklmnop") {
		t.Fatalf("not redacted: %q", got[0])
	}

	viper.Set("notify.redaction.enabled", false)
	got = nil
	n = notifierFromViper(next, nil)
	_ = n.Send(context.Background(), notify.Message{Text: "ticket-42"})
	if len(got) != 1 || got[0] != "ticket-42" {
		t.Fatalf("redaction should be off, got %v", got)
	}
}

func TestNewLogger(t *testing.T) {
	cases := []struct {
		level, format string
		wantErr       bool
		wantDebug     bool
	}{
		{"", "", false, false},
		{"debug", "json", false, true},
		{"WARN", "text", false, false},
		{"loud", "text", true, false},
		{"info", "xml", true, false},
	}
	for _, tc := range cases {
		t.Run(tc.level+"/"+tc.format, func(t *testing.T) {
			var buf bytes.Buffer
			log, err := newLogger(&buf, tc.level, tc.format)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("newLogger: %v", err)
			}
			log.Debug("debug-line")
			if got := strings.Contains(buf.String(), "debug-line"); got != tc.wantDebug {
				t.Fatalf("debug emitted = %v, want %v", got, tc.wantDebug)
			}
		})
	}
}
