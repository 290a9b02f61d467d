package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/quailyquaily/nightshift/monitor"
	"github.com/quailyquaily/nightshift/queue"
	"github.com/quailyquaily/nightshift/runtime"
)

func newDiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSource struct {
	mu    sync.Mutex
	tasks []queue.Task
	polls int
	err   error
}

func (f *fakeSource) Pending(_ context.Context, limit int) ([]queue.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.tasks) == 0 {
		return nil, nil
	}
	if limit > len(f.tasks) {
		limit = len(f.tasks)
	}
	return append([]queue.Task(nil), f.tasks[:limit]...), nil
}

type fakeRunner struct {
	src    *fakeSource
	mu     sync.Mutex
	ran    []int64
	onRun  func()
	result error
}

func (f *fakeRunner) Execute(_ context.Context, task queue.Task) (runtime.State, error) {
	f.mu.Lock()
	f.ran = append(f.ran, task.ID)
	f.mu.Unlock()

	f.src.mu.Lock()
	f.src.tasks = f.src.tasks[1:]
	f.src.mu.Unlock()
	if f.onRun != nil {
		f.onRun()
	}
	return runtime.StateSucceeded, f.result
}

func TestRunScheduler_DrainsQueueInOrder(t *testing.T) {
	src := &fakeSource{tasks: []queue.Task{{ID: 3}, {ID: 1}, {ID: 2}}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	run := &fakeRunner{src: src}
	run.onRun = func() {
		if len(run.ran) == 3 {
			cancel()
		}
	}

	done := make(chan error, 1)
	go func() { done <- runScheduler(ctx, src, run, time.Hour, newDiscardLogger()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runScheduler: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	want := []int64{3, 1, 2}
	for i, id := range want {
		if run.ran[i] != id {
			t.Fatalf("ran = %v, want %v", run.ran, want)
		}
	}
}

func TestRunScheduler_PollErrorKeepsRunning(t *testing.T) {
	src := &fakeSource{err: errors.New("database is locked")}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runScheduler(ctx, src, &fakeRunner{src: src}, 5*time.Millisecond, newDiscardLogger()) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		src.mu.Lock()
		polls := src.polls
		src.mu.Unlock()
		if polls >= 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("only %d polls", polls)
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("runScheduler: %v", err)
	}
}

func TestRunScheduler_ExecuteErrorDoesNotStop(t *testing.T) {
	src := &fakeSource{tasks: []queue.Task{{ID: 1}, {ID: 2}}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	run := &fakeRunner{src: src, result: errors.New("store failed")}
	run.onRun = func() {
		if len(run.ran) == 2 {
			cancel()
		}
	}
	if err := runScheduler(ctx, src, run, 5*time.Millisecond, newDiscardLogger()); err != nil {
		t.Fatalf("runScheduler: %v", err)
	}
	if len(run.ran) != 2 {
		t.Fatalf("ran = %v", run.ran)
	}
}

// stuckRunner fails every task and leaves it pending, the way a readonly
// database rejects MarkInProgress.
type stuckRunner struct {
	mu    sync.Mutex
	calls int
}

func (s *stuckRunner) Execute(context.Context, queue.Task) (runtime.State, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return runtime.StateErrored, errors.New("attempt to write a readonly database")
}

func TestRunScheduler_ExecuteErrorBacksOff(t *testing.T) {
	src := &fakeSource{tasks: []queue.Task{{ID: 7}}}
	run := &stuckRunner{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runScheduler(ctx, src, run, time.Hour, newDiscardLogger()) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runScheduler: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop during backoff")
	}

	run.mu.Lock()
	calls := run.calls
	run.mu.Unlock()
	if calls != 1 {
		t.Fatalf("Execute called %d times within one interval, want 1", calls)
	}
	src.mu.Lock()
	polls := src.polls
	src.mu.Unlock()
	if polls != 1 {
		t.Fatalf("polled %d times within one interval, want 1", polls)
	}
}

func TestEnforcerMaxAge(t *testing.T) {
	cases := []struct {
		name          string
		timeout, tick time.Duration
		want          time.Duration
	}{
		{"disabled", 0, time.Minute, 0},
		{"negative", -time.Minute, time.Minute, 0},
		{"grace", 30 * time.Minute, time.Minute, 31 * time.Minute},
		{"default tick", 10 * time.Minute, 0, 11 * time.Minute},
		{"custom tick", time.Hour, 5 * time.Minute, 65 * time.Minute},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := enforcerMaxAge(tc.timeout, tc.tick); got != tc.want {
				t.Fatalf("enforcerMaxAge(%s, %s) = %s, want %s", tc.timeout, tc.tick, got, tc.want)
			}
		})
	}
}

func TestMetricsMux(t *testing.T) {
	health := monitor.NewHealthMonitor(prometheus.NewRegistry())
	health.RecordTaskCompletion(2*time.Second, true)
	live := monitor.NewLiveStatus(time.Hour)
	defer live.Close()
	live.Set(9, "Fix the build", "web", "running")

	srv := httptest.NewServer(metricsMux(health, live))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	var snap monitor.HealthSnapshot
	err = json.NewDecoder(resp.Body).Decode(&snap)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Successes != 1 {
		t.Fatalf("successes = %d", snap.Successes)
	}

	resp, err = http.Get(srv.URL + "/tasks/live")
	if err != nil {
		t.Fatalf("GET /tasks/live: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "Fix the build") {
		t.Fatalf("live status body = %s", body)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}
}
