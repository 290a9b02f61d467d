package monitor

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

// HealthMonitor counts task outcomes. Counters are exported through
// Prometheus; Snapshot gives the same numbers for the CLI.
type HealthMonitor struct {
	completions *prometheus.CounterVec
	durations   *prometheus.HistogramVec
	timeouts    prometheus.Counter
	pauses      prometheus.Counter

	mu        sync.Mutex
	startedAt time.Time
	successes int
	failures  int
	timedOut  int
	paused    int
	totalTime time.Duration
	lastTask  time.Time
}

type HealthSnapshot struct {
	Uptime          time.Duration `json:"uptime"`
	Successes       int           `json:"successes"`
	Failures        int           `json:"failures"`
	TimedOut        int           `json:"timed_out"`
	Paused          int           `json:"paused"`
	SuccessRate     float64       `json:"success_rate"`
	AverageDuration time.Duration `json:"average_duration"`
	LastTaskAt      *time.Time    `json:"last_task_at,omitempty"`
}

// NewHealthMonitor registers its collectors with reg. Collectors that are
// already registered are reused, so several monitors may share one registry.
func NewHealthMonitor(reg prometheus.Registerer) *HealthMonitor {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	completions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nightshift",
			Name:      "tasks_total",
			Help:      "Finished task executions by outcome.",
		},
		[]string{"outcome"},
	)
	durations := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nightshift",
			Name:      "task_duration_seconds",
			Help:      "Wall-clock time of task executions.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		},
		[]string{"outcome"},
	)
	timeouts := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "nightshift",
		Name:      "tasks_timed_out_total",
		Help:      "Tasks reclaimed by the timeout sweep.",
	})
	pauses := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "nightshift",
		Name:      "usage_pauses_total",
		Help:      "Times execution paused on an agent usage limit.",
	})

	completions = register(reg, completions)
	durations = register(reg, durations)
	timeouts = register(reg, timeouts)
	pauses = register(reg, pauses)

	return &HealthMonitor{
		completions: completions,
		durations:   durations,
		timeouts:    timeouts,
		pauses:      pauses,
		startedAt:   time.Now(),
	}
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *HealthMonitor) RecordTaskCompletion(d time.Duration, success bool) {
	if m == nil {
		return
	}
	outcome := outcomeFailure
	if success {
		outcome = outcomeSuccess
	}
	m.completions.WithLabelValues(outcome).Inc()
	m.durations.WithLabelValues(outcome).Observe(d.Seconds())

	m.mu.Lock()
	defer m.mu.Unlock()
	if success {
		m.successes++
	} else {
		m.failures++
	}
	m.totalTime += d
	m.lastTask = time.Now()
}

func (m *HealthMonitor) RecordTimeout() {
	if m == nil {
		return
	}
	m.timeouts.Inc()
	m.mu.Lock()
	m.timedOut++
	m.mu.Unlock()
}

func (m *HealthMonitor) RecordPause() {
	if m == nil {
		return
	}
	m.pauses.Inc()
	m.mu.Lock()
	m.paused++
	m.mu.Unlock()
}

func (m *HealthMonitor) Snapshot() HealthSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := HealthSnapshot{
		Uptime:    time.Since(m.startedAt),
		Successes: m.successes,
		Failures:  m.failures,
		TimedOut:  m.timedOut,
		Paused:    m.paused,
	}
	if total := m.successes + m.failures; total > 0 {
		snap.SuccessRate = float64(m.successes) / float64(total)
		snap.AverageDuration = m.totalTime / time.Duration(total)
	}
	if !m.lastTask.IsZero() {
		t := m.lastTask
		snap.LastTaskAt = &t
	}
	return snap
}
