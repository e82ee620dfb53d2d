package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goodtune/lockbox/internal/config"
	"github.com/goodtune/lockbox/internal/storage"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	// miniredis.Addr() returns "host:port", so Port stays zero
	cfg := config.RedisConfig{
		Host:         mr.Addr(),
		Port:         0,
		DB:           0,
		PoolSize:     4,
		MinIdleConns: 1,
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
	}

	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("Failed to open Redis store: %v", err)
	}

	return store, mr
}

func testAttempt(id string, started time.Time, outcome storage.Outcome) storage.Attempt {
	return storage.Attempt{
		ID:           id,
		Path:         "delay",
		StartedAt:    started,
		EndedAt:      started.Add(5 * time.Minute),
		Outcome:      outcome,
		Interactions: 0,
	}
}

func TestAttemptStore_RecordAndGet(t *testing.T) {
	store, mr := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	started := time.Date(2025, 3, 1, 21, 30, 0, 0, time.UTC)
	attempt := testAttempt("attempt-1", started, storage.OutcomeUnlocked)
	attempt.PenaltyMinutes = 15

	if err := store.Attempts().Record(ctx, attempt); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	got, err := store.Attempts().Get(ctx, "attempt-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.PenaltyMinutes != 15 {
		t.Errorf("Expected penalty 15, got %d", got.PenaltyMinutes)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("Expected start %s, got %s", started, got.StartedAt)
	}

	ttl := mr.TTL(attemptKey("attempt-1"))
	if ttl != journalTTLSeconds*time.Second {
		t.Errorf("Expected 90 day TTL, got %s", ttl)
	}

	if _, err := store.Attempts().Get(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestAttemptStore_ListFilters(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	outcomes := []storage.Outcome{storage.OutcomeUnlocked, storage.OutcomeCancelled, storage.OutcomeUnlocked, storage.OutcomeBlocked}
	for i, outcome := range outcomes {
		a := testAttempt(string(rune('a'+i)), base.Add(time.Duration(i)*time.Hour), outcome)
		if err := store.Attempts().Record(ctx, a); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	all, err := store.Attempts().List(ctx, storage.AttemptFilter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 4 || all[0].ID != "d" || all[3].ID != "a" {
		t.Fatalf("Unexpected list order: %+v", all)
	}

	unlocked, err := store.Attempts().List(ctx, storage.AttemptFilter{Outcome: storage.OutcomeUnlocked})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(unlocked) != 2 || unlocked[0].ID != "c" {
		t.Fatalf("Unexpected unlocked attempts: %+v", unlocked)
	}

	start := base.Add(time.Hour)
	end := base.Add(3 * time.Hour)
	window, err := store.Attempts().List(ctx, storage.AttemptFilter{StartTime: &start, EndTime: &end, Limit: 1})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(window) != 1 || window[0].ID != "c" {
		t.Fatalf("Unexpected window: %+v", window)
	}
}

func TestAttemptStore_CountForDay(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	_ = store.Attempts().Record(ctx, testAttempt("a", day.Add(time.Hour), storage.OutcomeUnlocked))
	_ = store.Attempts().Record(ctx, testAttempt("b", day.Add(23*time.Hour), storage.OutcomeCancelled))
	_ = store.Attempts().Record(ctx, testAttempt("c", day.Add(25*time.Hour), storage.OutcomeUnlocked))

	count, err := store.Attempts().CountForDay(ctx, day)
	if err != nil {
		t.Fatalf("CountForDay failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 attempts, got %d", count)
	}

	// moving an attempt to another day updates both indexes
	_ = store.Attempts().Record(ctx, testAttempt("b", day.Add(26*time.Hour), storage.OutcomeCancelled))
	count, _ = store.Attempts().CountForDay(ctx, day)
	if count != 1 {
		t.Errorf("Expected 1 attempt after move, got %d", count)
	}
	count, _ = store.Attempts().CountForDay(ctx, day.Add(24*time.Hour))
	if count != 2 {
		t.Errorf("Expected 2 attempts on next day, got %d", count)
	}
}

func TestAttemptStore_DeleteBefore(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	_ = store.Attempts().Record(ctx, testAttempt("old-1", now.Add(-72*time.Hour), storage.OutcomeUnlocked))
	_ = store.Attempts().Record(ctx, testAttempt("old-2", now.Add(-48*time.Hour), storage.OutcomeCancelled))
	_ = store.Attempts().Record(ctx, testAttempt("new", now, storage.OutcomeUnlocked))

	deleted, err := store.Attempts().DeleteBefore(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteBefore failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("Expected 2 deleted, got %d", deleted)
	}

	remaining, _ := store.Attempts().List(ctx, storage.AttemptFilter{})
	if len(remaining) != 1 || remaining[0].ID != "new" {
		t.Errorf("Unexpected remaining attempts: %+v", remaining)
	}
	if count, _ := store.Attempts().CountForDay(ctx, now.Add(-72*time.Hour)); count != 0 {
		t.Errorf("Expected empty day index, got %d", count)
	}
}
