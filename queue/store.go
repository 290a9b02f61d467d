package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	sqlite "github.com/glebarez/go-sqlite"
	"gorm.io/gorm"
)

const defaultWriteAttempts = 2

// sqlite primary result codes that indicate contention rather than a bad
// statement.
const (
	sqliteBusy     = 5
	sqliteLocked   = 6
	sqliteReadonly = 8
)

// Opener reconnects to the backing database. Store calls it between write
// attempts after a transient failure.
type Opener func(ctx context.Context) (*gorm.DB, error)

type StoreOptions struct {
	// WriteAttempts is the total number of tries for one write, including
	// the first. Values < 1 fall back to 2.
	WriteAttempts int
	Logger        *slog.Logger
}

// Store owns the gorm handle shared by the task queue and the result store.
// Writes run in a transaction and are retried on lock/readonly errors with a
// fresh connection; reads go straight to the current handle.
type Store struct {
	mu       sync.RWMutex
	db       *gorm.DB
	open     Opener
	attempts int
	log      *slog.Logger
}

func NewStore(gdb *gorm.DB, open Opener, opts StoreOptions) *Store {
	attempts := opts.WriteAttempts
	if attempts < 1 {
		attempts = defaultWriteAttempts
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Store{db: gdb, open: open, attempts: attempts, log: log}
}

// DB returns the current handle for read queries.
func (s *Store) DB() *gorm.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db
}

// Write runs fn inside a transaction. fn may be invoked more than once and
// must reset any state it captures at the start of each call.
func (s *Store) Write(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil {
		return fmt.Errorf("nil store")
	}
	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		gdb := s.DB()
		if gdb == nil {
			return fmt.Errorf("store is closed")
		}
		err := gdb.WithContext(ctx).Transaction(fn)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsTransient(err) || attempt == s.attempts {
			return err
		}
		s.log.Warn("sqlite_write_retry",
			"attempt", attempt,
			"attempts", s.attempts,
			"error", err.Error(),
		)
		if rerr := s.reopen(ctx); rerr != nil {
			s.log.Warn("sqlite_reopen_error", "error", rerr.Error())
		}
	}
	return lastErr
}

func (s *Store) reopen(ctx context.Context) error {
	if s.open == nil {
		return nil
	}
	fresh, err := s.open(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	old := s.db
	s.db = fresh
	s.mu.Unlock()
	if old != nil && old != fresh {
		if sqlDB, err := old.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	gdb := s.db
	s.db = nil
	s.mu.Unlock()
	if gdb == nil {
		return nil
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// IsTransient reports whether err is a sqlite lock or readonly condition
// that a fresh connection may clear.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqliteBusy, sqliteLocked, sqliteReadonly:
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "readonly") {
		return true
	}
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}
