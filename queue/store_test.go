package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"gorm.io/gorm"
)

func TestIsTransient(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{err: nil, want: false},
		{err: errors.New("database is locked (5) (SQLITE_BUSY)"), want: true},
		{err: fmt.Errorf("wrap: %w", errors.New("attempt to write a readonly database")), want: true},
		{err: errors.New("database table is locked"), want: true},
		{err: errors.New("UNIQUE constraint failed: tasks.id"), want: false},
	}
	for _, tc := range cases {
		if got := IsTransient(tc.err); got != tc.want {
			t.Fatalf("IsTransient(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestStore_WriteRetriesTransientAndReopens(t *testing.T) {
	store, open := openTestStore(t)
	reopened := 0
	store.open = func(ctx context.Context) (*gorm.DB, error) {
		reopened++
		return open(ctx)
	}

	calls := 0
	err := store.Write(context.Background(), func(tx *gorm.DB) error {
		calls++
		if calls == 1 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if calls != 2 || reopened != 1 {
		t.Fatalf("calls=%d reopened=%d, want 2 and 1", calls, reopened)
	}
}

func TestStore_WriteGivesUpAfterAttempts(t *testing.T) {
	store, _ := openTestStore(t)
	store.attempts = 3
	calls := 0
	err := store.Write(context.Background(), func(tx *gorm.DB) error {
		calls++
		return errors.New("attempt to write a readonly database")
	})
	if err == nil {
		t.Fatalf("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestStore_WriteDoesNotRetryOtherErrors(t *testing.T) {
	store, _ := openTestStore(t)
	boom := errors.New("constraint failed")
	calls := 0
	err := store.Write(context.Background(), func(tx *gorm.DB) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}
