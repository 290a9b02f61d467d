package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/quailyquaily/nightshift/executor"
	"github.com/quailyquaily/nightshift/gitflow"
	"github.com/quailyquaily/nightshift/internal/procexec"
	"github.com/quailyquaily/nightshift/monitor"
	"github.com/quailyquaily/nightshift/notify"
	"github.com/quailyquaily/nightshift/queue"
	"github.com/quailyquaily/nightshift/report"
	"github.com/quailyquaily/nightshift/runtime"
	"github.com/quailyquaily/nightshift/timeout"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

const (
	housekeepingInterval = time.Hour
	shutdownGrace        = 5 * time.Second
)

func newDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run queued tasks until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := loggerFromViper(os.Stderr)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx, log)
		},
	}
}

func runDaemon(ctx context.Context, log *slog.Logger) error {
	a, err := openApp(ctx, log)
	if err != nil {
		return err
	}
	defer a.Close()

	runner := procexec.NewOSRunner()
	agent := executor.New(executorConfigFromViper(), runner, log)
	health := monitor.NewHealthMonitor(prometheus.DefaultRegisterer)
	live := monitor.NewLiveStatus(viper.GetDuration("status.ttl"))
	defer live.Close()

	obs := runtime.Observers{
		Report:   a.reports,
		Health:   health,
		Notifier: notifierFromViper(notify.LogNotifier{Log: log}, log),
		Status:   live,
	}
	if perf, err := monitor.NewPerfLog(viper.GetString("perf.jsonl_path"), viper.GetInt64("perf.rotate_max_bytes")); err != nil {
		log.Warn("perf_log_disabled", "error", err.Error())
	} else {
		defer perf.Close()
		obs.Perf = perf
	}

	deps := runtime.Deps{
		Queue:     a.queue,
		Agent:     agent,
		Results:   a.results,
		Observers: obs,
	}
	if gcfg, ok := gitConfigFromViper(); ok {
		git := gitflow.New(gcfg, runner, log)
		if err := git.InitRepo(ctx); err != nil {
			log.Warn("git_init_failed", "repo", git.RepoPath(), "error", err.Error())
		} else {
			if url := strings.TrimSpace(viper.GetString("git.remote_url")); url != "" {
				if err := git.ConfigureRemote(ctx, url); err != nil {
					log.Warn("git_remote_failed", "error", err.Error())
				}
			}
			deps.Committer = git
		}
	}

	rtCfg := runtimeConfigFromViper()
	rt := runtime.New(rtCfg, deps, runtime.WithLogger(log))
	sweepEvery := viper.GetDuration("timeout.interval")
	enforcer := timeout.New(a.queue, agent, obs, enforcerMaxAge(rtCfg.TaskTimeout, sweepEvery), timeout.WithLogger(log))

	log.Info("daemon_start",
		"db", viper.GetString("db.dsn"),
		"workspace", agent.Config().WorkspaceRoot,
		"commits", deps.Committer != nil,
		"task_timeout", rtCfg.TaskTimeout.String(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runScheduler(gctx, a.queue, rt, viper.GetDuration("queue.poll_interval"), log)
	})
	g.Go(func() error {
		return enforcer.Run(gctx, sweepEvery)
	})
	g.Go(func() error {
		return runHousekeeping(gctx, a.reports, viper.GetInt("report.recent"), viper.GetInt("report.retain_days"), housekeepingInterval, log)
	})
	if addr := strings.TrimSpace(viper.GetString("metrics.listen")); addr != "" {
		g.Go(func() error {
			return serveMetrics(gctx, addr, health, live, log)
		})
	}

	err = g.Wait()
	snap := health.Snapshot()
	log.Info("daemon_stop",
		"successes", snap.Successes,
		"failures", snap.Failures,
		"timed_out", snap.TimedOut,
		"uptime", snap.Uptime.Round(time.Second).String(),
	)
	return err
}

type pendingSource interface {
	Pending(ctx context.Context, limit int) ([]queue.Task, error)
}

type taskRunner interface {
	Execute(ctx context.Context, task queue.Task) (runtime.State, error)
}

// runScheduler executes pending tasks one at a time, highest priority
// first. It sleeps for interval when the queue is empty or unreadable, or
// when Execute fails, since a failed Execute usually leaves the task pending.
func runScheduler(ctx context.Context, src pendingSource, rt taskRunner, interval time.Duration, log *slog.Logger) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		tasks, err := src.Pending(ctx, 1)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn("scheduler_poll_failed", "error", err.Error())
		} else if len(tasks) > 0 {
			task := tasks[0]
			state, err := rt.Execute(ctx, task)
			if err == nil {
				log.Debug("task_execute_done", "task_id", task.ID, "state", string(state))
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			log.Error("task_execute_failed", "task_id", task.ID, "state", string(state), "error", err.Error(), "retry_in", interval.String())
		}

		if !sleepCtx(ctx, interval) {
			return nil
		}
	}
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// enforcerMaxAge is the age at which the sweep fails a running task. It
// trails the runtime's own deadline by one sweep interval so a task the
// runtime is already failing is not failed and announced twice.
func enforcerMaxAge(taskTimeout, sweepEvery time.Duration) time.Duration {
	if taskTimeout <= 0 {
		return 0
	}
	if sweepEvery <= 0 {
		sweepEvery = time.Minute
	}
	return taskTimeout + sweepEvery
}

// runHousekeeping keeps today's summary, RECENT.md and report retention up
// to date.
func runHousekeeping(ctx context.Context, reports *report.Generator, recent, retainDays int, interval time.Duration, log *slog.Logger) error {
	sweep := func() {
		if _, err := reports.SummarizeDaily(time.Now().UTC()); err != nil {
			log.Warn("report_summarize_failed", "error", err.Error())
		}
		if recent > 0 {
			if err := reports.UpdateRecent(recent); err != nil {
				log.Warn("report_recent_failed", "error", err.Error())
			}
		}
		if retainDays > 0 {
			removed, err := reports.CleanupOld(retainDays)
			if err != nil {
				log.Warn("report_cleanup_failed", "error", err.Error())
			} else if len(removed) > 0 {
				log.Info("report_cleanup", "removed", len(removed))
			}
		}
	}

	sweep()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sweep()
		}
	}
}

func serveMetrics(ctx context.Context, addr string, health *monitor.HealthMonitor, live *monitor.LiveStatus, log *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           metricsMux(health, live),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info("metrics_listen", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	}
}

func metricsMux(health *monitor.HealthMonitor, live *monitor.LiveStatus) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, health.Snapshot())
	})
	mux.HandleFunc("/tasks/live", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, live.All())
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
