package monitor

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHealthMonitor_RecordsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHealthMonitor(reg)
	m.RecordTaskCompletion(10*time.Second, true)
	m.RecordTaskCompletion(30*time.Second, true)
	m.RecordTaskCompletion(20*time.Second, false)
	m.RecordTimeout()
	m.RecordPause()

	if got := testutil.ToFloat64(m.completions.WithLabelValues("success")); got != 2 {
		t.Fatalf("success counter = %v", got)
	}
	if got := testutil.ToFloat64(m.completions.WithLabelValues("failure")); got != 1 {
		t.Fatalf("failure counter = %v", got)
	}
	if got := testutil.ToFloat64(m.timeouts); got != 1 {
		t.Fatalf("timeouts = %v", got)
	}

	snap := m.Snapshot()
	if snap.Successes != 2 || snap.Failures != 1 || snap.TimedOut != 1 || snap.Paused != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.AverageDuration != 20*time.Second {
		t.Fatalf("average = %v", snap.AverageDuration)
	}
	if snap.LastTaskAt == nil {
		t.Fatalf("last task time not set")
	}
}

func TestHealthMonitor_SharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := NewHealthMonitor(reg)
	b := NewHealthMonitor(reg)
	a.RecordTaskCompletion(time.Second, true)
	b.RecordTaskCompletion(time.Second, true)
	if got := testutil.ToFloat64(b.completions.WithLabelValues("success")); got != 2 {
		t.Fatalf("collectors not shared: %v", got)
	}
}

func TestPerfLog_AppendsAndRotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perf", "tasks.jsonl")
	l, err := NewPerfLog(path, 250)
	if err != nil {
		t.Fatalf("NewPerfLog: %v", err)
	}
	defer l.Close()

	for i := int64(1); i <= 3; i++ {
		err := l.LogTaskExecution(PerfEntry{TaskID: i, Description: "task", Priority: "thought", DurationSeconds: 1.5, Success: true})
		if err != nil {
			t.Fatalf("LogTaskExecution: %v", err)
		}
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected rotation, got %d files", len(entries))
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	var last PerfEntry
	lines := 0
	for sc.Scan() {
		lines++
		if err := json.Unmarshal(sc.Bytes(), &last); err != nil {
			t.Fatalf("bad json line: %v", err)
		}
	}
	if lines == 0 || last.TaskID != 3 || last.Timestamp.IsZero() {
		t.Fatalf("unexpected last entry: %+v (lines=%d)", last, lines)
	}
}

func TestLiveStatus(t *testing.T) {
	s := NewLiveStatus(time.Hour)
	defer s.Close()

	s.Set(2, "second", "", "running")
	s.Set(1, "first", "web", "queued")
	s.Set(1, "", "", "running")

	e, ok := s.Get(1)
	if !ok || e.Phase != "running" || e.Description != "first" || e.ProjectID != "web" {
		t.Fatalf("unexpected entry: %+v", e)
	}
	all := s.All()
	if len(all) != 2 || all[0].TaskID != 1 {
		t.Fatalf("unexpected listing: %+v", all)
	}
	s.Clear(1)
	if _, ok := s.Get(1); ok {
		t.Fatalf("entry not cleared")
	}

	now := time.Now()
	s.now = func() time.Time { return now.Add(2 * time.Hour) }
	s.evictExpired()
	if len(s.All()) != 0 {
		t.Fatalf("stale entry not evicted")
	}
	s.Close()
	s.Close()
}
