package monitor

import (
	"sort"
	"sync"
	"time"
)

const defaultLiveStatusTTL = 6 * time.Hour

// LiveStatus tracks what each running task is doing right now. Entries that
// are never cleared expire after the TTL.
type LiveStatus struct {
	mu        sync.RWMutex
	entries   map[int64]*StatusEntry
	done      chan struct{}
	closeOnce sync.Once
	ttl       time.Duration
	now       func() time.Time
}

type StatusEntry struct {
	TaskID      int64     `json:"task_id"`
	Description string    `json:"description"`
	ProjectID   string    `json:"project_id,omitempty"`
	Phase       string    `json:"phase"`
	StartedAt   time.Time `json:"started_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func NewLiveStatus(ttl time.Duration) *LiveStatus {
	if ttl <= 0 {
		ttl = defaultLiveStatusTTL
	}
	s := &LiveStatus{
		entries: make(map[int64]*StatusEntry),
		done:    make(chan struct{}),
		ttl:     ttl,
		now:     time.Now,
	}
	go s.evictLoop()
	return s
}

// Set records phase for a task, creating the entry on first use.
func (s *LiveStatus) Set(taskID int64, description, projectID, phase string) {
	if s == nil {
		return
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[taskID]
	if !ok {
		e = &StatusEntry{TaskID: taskID, StartedAt: now}
		s.entries[taskID] = e
	}
	if description != "" {
		e.Description = description
	}
	if projectID != "" {
		e.ProjectID = projectID
	}
	e.Phase = phase
	e.UpdatedAt = now
}

func (s *LiveStatus) Get(taskID int64) (StatusEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[taskID]
	if !ok {
		return StatusEntry{}, false
	}
	return *e, true
}

// All returns entries ordered by task id.
func (s *LiveStatus) All() []StatusEntry {
	s.mu.RLock()
	out := make([]StatusEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}

func (s *LiveStatus) Clear(taskID int64) {
	if s == nil {
		return
	}
	s.mu.Lock()
	delete(s.entries, taskID)
	s.mu.Unlock()
}

func (s *LiveStatus) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

func (s *LiveStatus) evictLoop() {
	interval := s.ttl / 4
	if interval > 10*time.Minute {
		interval = 10 * time.Minute
	}
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.evictExpired()
		case <-s.done:
			return
		}
	}
}

func (s *LiveStatus) evictExpired() {
	cutoff := s.now().Add(-s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entries {
		if e.UpdatedAt.Before(cutoff) {
			delete(s.entries, id)
		}
	}
}
