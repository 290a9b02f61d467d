package monitor

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/quailyquaily/nightshift/internal/pathutil"
)

const defaultRotateMaxBytes = 50 * 1024 * 1024

type PerfEntry struct {
	Timestamp        time.Time `json:"ts"`
	TaskID           int64     `json:"task_id"`
	Description      string    `json:"description"`
	Priority         string    `json:"priority"`
	DurationSeconds  float64   `json:"duration_seconds"`
	Success          bool      `json:"success"`
	FilesModified    int       `json:"files_modified"`
	CommandsExecuted int       `json:"commands_executed"`
}

// PerfLog appends one JSON line per task execution and rotates the file
// once it grows past RotateMaxBytes.
type PerfLog struct {
	Path           string
	RotateMaxBytes int64

	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	size int64
	now  func() time.Time
}

func NewPerfLog(path string, rotateMaxBytes int64) (*PerfLog, error) {
	path = pathutil.ExpandHomePath(path)
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("missing jsonl path")
	}
	if rotateMaxBytes <= 0 {
		rotateMaxBytes = defaultRotateMaxBytes
	}
	l := &PerfLog{Path: path, RotateMaxBytes: rotateMaxBytes, now: time.Now}
	if err := l.openLocked(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *PerfLog) LogTaskExecution(e PerfEntry) error {
	if l == nil {
		return nil
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now().UTC()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.rotateIfNeededLocked(int64(len(b)) + 1); err != nil {
		return err
	}
	if l.w == nil {
		return fmt.Errorf("perf log is closed")
	}
	n, err := l.w.Write(append(b, '\n'))
	if err != nil {
		return err
	}
	l.size += int64(n)
	return l.w.Flush()
}

func (l *PerfLog) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w != nil {
		_ = l.w.Flush()
	}
	if l.f != nil {
		err := l.f.Close()
		l.f = nil
		l.w = nil
		l.size = 0
		return err
	}
	return nil
}

func (l *PerfLog) openLocked() error {
	if dir := filepath.Dir(l.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(l.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if st, err := f.Stat(); err == nil {
		l.size = st.Size()
	}
	l.f = f
	l.w = bufio.NewWriterSize(f, 16*1024)
	return nil
}

func (l *PerfLog) rotateIfNeededLocked(addBytes int64) error {
	if l.RotateMaxBytes <= 0 || l.size+addBytes <= l.RotateMaxBytes {
		return nil
	}
	if l.w != nil {
		_ = l.w.Flush()
	}
	if l.f != nil {
		_ = l.f.Close()
	}
	rotated := fmt.Sprintf("%s.%s", l.Path, l.now().UTC().Format("20060102T150405.000Z"))
	if err := os.Rename(l.Path, rotated); err != nil {
		return l.openLocked()
	}
	l.f = nil
	l.w = nil
	l.size = 0
	return l.openLocked()
}
