package main

import (
	"log/slog"
	"strings"
	"time"

	"github.com/quailyquaily/nightshift/db"
	"github.com/quailyquaily/nightshift/executor"
	"github.com/quailyquaily/nightshift/gitflow"
	"github.com/quailyquaily/nightshift/notify"
	"github.com/quailyquaily/nightshift/runtime"
	"github.com/spf13/viper"
)

func setDefaults() {
	viper.SetDefault("db.driver", "sqlite")
	viper.SetDefault("db.dsn", "~/.nightshift/nightshift.db")
	viper.SetDefault("db.automigrate", true)
	viper.SetDefault("db.pool.max_open_conns", 1)
	viper.SetDefault("db.pool.max_idle_conns", 1)
	viper.SetDefault("db.sqlite.busy_timeout_ms", 5000)
	viper.SetDefault("db.sqlite.wal", true)
	viper.SetDefault("db.sqlite.foreign_keys", true)

	viper.SetDefault("queue.write_retries", 2)
	viper.SetDefault("queue.poll_interval", 5*time.Second)

	viper.SetDefault("agent.command", "claude")
	viper.SetDefault("agent.args", []string{"--print", "--output-format", "json"})
	viper.SetDefault("agent.task_timeout", 30*time.Minute)
	viper.SetDefault("agent.workspace_root", "~/.nightshift/workspace")
	viper.SetDefault("agent.pause_fallback", 30*time.Minute)
	viper.SetDefault("agent.refine_incomplete", true)

	viper.SetDefault("git.enabled", true)
	viper.SetDefault("git.main_branch", "main")
	viper.SetDefault("git.default_task_branch", "tasks")
	viper.SetDefault("git.user_name", "nightshift")
	viper.SetDefault("git.user_email", "agent@nightshift.local")
	viper.SetDefault("git.command_timeout", 60*time.Second)
	viper.SetDefault("git.python", "python3")

	viper.SetDefault("results.dir", "~/.nightshift/results")
	viper.SetDefault("report.dir", "~/.nightshift/reports")
	viper.SetDefault("report.recent", 7)
	viper.SetDefault("report.retain_days", 30)
	viper.SetDefault("perf.jsonl_path", "~/.nightshift/perf.jsonl")
	viper.SetDefault("perf.rotate_max_bytes", int64(50*1024*1024))
	viper.SetDefault("status.ttl", 6*time.Hour)

	viper.SetDefault("timeout.interval", time.Minute)
	viper.SetDefault("pause.max_sleep", time.Duration(0))
	viper.SetDefault("notify.redaction.enabled", true)

	viper.SetDefault("metrics.listen", "")
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
}

func dbConfigFromViper() db.Config {
	cfg := db.DefaultConfig()

	cfg.Driver = viper.GetString("db.driver")
	cfg.DSN = viper.GetString("db.dsn")
	cfg.AutoMigrate = viper.GetBool("db.automigrate")

	cfg.Pool.MaxOpenConns = viper.GetInt("db.pool.max_open_conns")
	cfg.Pool.MaxIdleConns = viper.GetInt("db.pool.max_idle_conns")
	cfg.Pool.ConnMaxLifetime = viper.GetDuration("db.pool.conn_max_lifetime")
	if cfg.Pool.ConnMaxLifetime < 0 {
		cfg.Pool.ConnMaxLifetime = 0
	}

	cfg.SQLite.BusyTimeoutMs = viper.GetInt("db.sqlite.busy_timeout_ms")
	cfg.SQLite.WAL = viper.GetBool("db.sqlite.wal")
	cfg.SQLite.ForeignKeys = viper.GetBool("db.sqlite.foreign_keys")

	// A zero pool means a config file cleared the value; sqlite still wants
	// one writer.
	if cfg.Pool.MaxOpenConns <= 0 {
		cfg.Pool.MaxOpenConns = 1
	}
	if cfg.Pool.MaxIdleConns <= 0 {
		cfg.Pool.MaxIdleConns = 1
	}
	if cfg.SQLite.BusyTimeoutMs <= 0 {
		cfg.SQLite.BusyTimeoutMs = 5000
	}
	return cfg
}

func executorConfigFromViper() executor.Config {
	cfg := executor.DefaultConfig()
	if v := strings.TrimSpace(viper.GetString("agent.command")); v != "" {
		cfg.Command = v
	}
	if viper.IsSet("agent.args") {
		cfg.Args = viper.GetStringSlice("agent.args")
	}
	cfg.Env = viper.GetStringSlice("agent.env")
	if v := strings.TrimSpace(viper.GetString("agent.workspace_root")); v != "" {
		cfg.WorkspaceRoot = v
	}
	if viper.IsSet("agent.cache_patterns") {
		cfg.CachePatterns = viper.GetStringSlice("agent.cache_patterns")
	}
	if d := viper.GetDuration("agent.pause_fallback"); d > 0 {
		cfg.PauseFallback = d
	}
	return cfg
}

// gitConfigFromViper returns ok=false when commits are switched off. The
// repository defaults to the agent workspace root.
func gitConfigFromViper() (gitflow.Config, bool) {
	if !viper.GetBool("git.enabled") {
		return gitflow.Config{}, false
	}
	cfg := gitflow.DefaultConfig()
	cfg.RepoPath = strings.TrimSpace(viper.GetString("git.repo_path"))
	if cfg.RepoPath == "" {
		cfg.RepoPath = strings.TrimSpace(viper.GetString("agent.workspace_root"))
	}
	cfg.MainBranch = viper.GetString("git.main_branch")
	cfg.DefaultTaskBranch = viper.GetString("git.default_task_branch")
	cfg.UserName = viper.GetString("git.user_name")
	cfg.UserEmail = viper.GetString("git.user_email")
	cfg.CommandTimeout = viper.GetDuration("git.command_timeout")
	if viper.IsSet("git.python") {
		cfg.Python = strings.TrimSpace(viper.GetString("git.python"))
	}
	return cfg, true
}

func runtimeConfigFromViper() runtime.Config {
	cfg := runtime.Config{
		TaskTimeout:      viper.GetDuration("agent.task_timeout"),
		PauseMaxSleep:    viper.GetDuration("pause.max_sleep"),
		RefineIncomplete: viper.GetBool("agent.refine_incomplete"),
	}
	if cfg.TaskTimeout < 0 {
		cfg.TaskTimeout = 0
	}
	if cfg.PauseMaxSleep < 0 {
		cfg.PauseMaxSleep = 0
	}
	return cfg
}

// notifierFromViper wraps next with secret redaction unless it is disabled.
// Patterns that fail to compile are logged and skipped.
func notifierFromViper(next notify.Notifier, log *slog.Logger) notify.Notifier {
	if !viper.GetBool("notify.redaction.enabled") {
		return next
	}
	if log == nil {
		log = slog.Default()
	}
	r, bad := notify.NewRedactor(viper.GetStringSlice("notify.redaction.patterns"))
	for _, p := range bad {
		log.Warn("notify_redaction_pattern_invalid", "pattern", p)
	}
	return notify.Redacting{Next: next, Redactor: r, Log: log}
}
