package bolt

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/goodtune/lockbox/internal/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "state", "journal.bolt"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}

func attemptAt(id string, started time.Time, outcome storage.Outcome) storage.Attempt {
	return storage.Attempt{
		ID:           id,
		Path:         "guided",
		Trigger:      "stress",
		StartedAt:    started,
		EndedAt:      started.Add(12 * time.Minute),
		Interactions: 6,
		Outcome:      outcome,
	}
}

func TestAttemptStoreRecordAndGet(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	started := time.Date(2025, 3, 1, 21, 0, 0, 0, time.UTC)
	attempt := attemptAt("a1", started, storage.OutcomeUnlocked)
	attempt.PenaltyMinutes = 15

	if err := store.Attempts().Record(ctx, attempt); err != nil {
		t.Fatalf("record attempt: %v", err)
	}

	got, err := store.Attempts().Get(ctx, "a1")
	if err != nil {
		t.Fatalf("get attempt: %v", err)
	}
	if got.PenaltyMinutes != 15 || got.Outcome != storage.OutcomeUnlocked || !got.StartedAt.Equal(started) {
		t.Fatalf("unexpected attempt: %+v", got)
	}
	if got.Duration() != 12*time.Minute {
		t.Fatalf("expected 12m duration, got %s", got.Duration())
	}

	if _, err := store.Attempts().Get(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAttemptStoreListNewestFirst(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, outcome := range []storage.Outcome{storage.OutcomeCancelled, storage.OutcomeUnlocked, storage.OutcomeCancelled} {
		a := attemptAt(string(rune('a'+i)), base.Add(time.Duration(i)*time.Hour), outcome)
		if err := store.Attempts().Record(ctx, a); err != nil {
			t.Fatalf("record attempt: %v", err)
		}
	}

	all, err := store.Attempts().List(ctx, storage.AttemptFilter{})
	if err != nil {
		t.Fatalf("list attempts: %v", err)
	}
	if len(all) != 3 || all[0].ID != "c" || all[2].ID != "a" {
		t.Fatalf("unexpected order: %+v", all)
	}

	cancelled, err := store.Attempts().List(ctx, storage.AttemptFilter{Outcome: storage.OutcomeCancelled, Limit: 1})
	if err != nil {
		t.Fatalf("list cancelled: %v", err)
	}
	if len(cancelled) != 1 || cancelled[0].ID != "c" {
		t.Fatalf("unexpected filtered result: %+v", cancelled)
	}
}

func TestAttemptStoreCountForDay(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for _, a := range []storage.Attempt{
		attemptAt("a", day.Add(8*time.Hour), storage.OutcomeUnlocked),
		attemptAt("b", day.Add(20*time.Hour), storage.OutcomeCancelled),
		attemptAt("c", day.Add(30*time.Hour), storage.OutcomeUnlocked),
	} {
		if err := store.Attempts().Record(ctx, a); err != nil {
			t.Fatalf("record attempt: %v", err)
		}
	}

	count, err := store.Attempts().CountForDay(ctx, day.Add(12*time.Hour))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 attempts, got %d", count)
	}

	// re-recording must not double count
	if err := store.Attempts().Record(ctx, attemptAt("a", day.Add(8*time.Hour), storage.OutcomeFailed)); err != nil {
		t.Fatalf("record attempt: %v", err)
	}
	count, _ = store.Attempts().CountForDay(ctx, day)
	if count != 2 {
		t.Fatalf("expected 2 attempts after re-record, got %d", count)
	}
}

func TestAttemptStoreDeleteBefore(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	old := now.Add(-100 * 24 * time.Hour)

	if err := store.Attempts().Record(ctx, attemptAt("old", old, storage.OutcomeUnlocked)); err != nil {
		t.Fatalf("record attempt: %v", err)
	}
	if err := store.Attempts().Record(ctx, attemptAt("new", now, storage.OutcomeUnlocked)); err != nil {
		t.Fatalf("record attempt: %v", err)
	}

	deleted, err := store.Attempts().DeleteBefore(ctx, now.Add(-90*24*time.Hour))
	if err != nil {
		t.Fatalf("delete before: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted attempt, got %d", deleted)
	}

	if count, _ := store.Attempts().CountForDay(ctx, old); count != 0 {
		t.Fatalf("expected old day index to be empty, got %d", count)
	}
	if _, err := store.Attempts().Get(ctx, "new"); err != nil {
		t.Fatalf("new attempt should remain: %v", err)
	}
}

func TestAttemptStoreRerecordReplaces(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	started := time.Date(2025, 3, 1, 21, 0, 0, 0, time.UTC)
	journal := store.Attempts()

	if err := journal.Record(ctx, attemptAt("a1", started, storage.OutcomeCancelled)); err != nil {
		t.Fatalf("record attempt: %v", err)
	}
	if err := journal.Record(ctx, attemptAt("a1", started, storage.OutcomeUnlocked)); err != nil {
		t.Fatalf("re-record attempt: %v", err)
	}

	got, err := journal.Get(ctx, "a1")
	if err != nil {
		t.Fatalf("get attempt: %v", err)
	}
	if got.Outcome != storage.OutcomeUnlocked {
		t.Fatalf("expected unlocked, got %s", got.Outcome)
	}

	count, err := journal.CountForDay(ctx, started)
	if err != nil {
		t.Fatalf("count for day: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 attempt for the day, got %d", count)
	}

	all, err := journal.List(ctx, storage.AttemptFilter{})
	if err != nil {
		t.Fatalf("list attempts: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(all))
	}
}
