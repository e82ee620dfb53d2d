package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Attempts() AttemptStore
}

// AttemptStore manages the override journal.
type AttemptStore interface {
	Record(ctx context.Context, attempt Attempt) error
	Get(ctx context.Context, id string) (*Attempt, error)
	List(ctx context.Context, filter AttemptFilter) ([]Attempt, error)
	CountForDay(ctx context.Context, day time.Time) (int, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// AttemptFilter defines criteria for listing attempts. Results are newest
// first.
type AttemptFilter struct {
	Path      string
	Outcome   Outcome
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
}

// Matches reports whether a satisfies the filter, ignoring Limit.
func (f AttemptFilter) Matches(a Attempt) bool {
	if f.Path != "" && a.Path != f.Path {
		return false
	}
	if f.Outcome != "" && a.Outcome != f.Outcome {
		return false
	}
	if f.StartTime != nil && a.StartedAt.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && !a.StartedAt.Before(*f.EndTime) {
		return false
	}
	return true
}

// DayKey is the journal's calendar day for t, in t's location.
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}
