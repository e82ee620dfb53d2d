package bolt

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/goodtune/lockbox/internal/storage"
	"go.etcd.io/bbolt"
)

type attemptStore struct {
	db *bbolt.DB
}

// Record stores an attempt and indexes it by day. Recording the same ID
// again replaces the earlier record.
func (s *attemptStore) Record(ctx context.Context, attempt storage.Attempt) error {
	if attempt.ID == "" {
		return fmt.Errorf("attempt has no id")
	}
	data, err := encodeAttempt(attempt)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		b := tx.Bucket([]byte(bucketAttempts))

		// a re-recorded attempt may have moved day
		if prev := b.Get([]byte(attempt.ID)); prev != nil {
			if old, err := decodeAttempt(prev); err == nil {
				idx, err := dayIndex(tx, storage.DayKey(old.StartedAt), false)
				if err != nil {
					return err
				}
				if idx != nil {
					if err := idx.Delete([]byte(old.ID)); err != nil {
						return err
					}
				}
			}
		}

		if err := b.Put([]byte(attempt.ID), data); err != nil {
			return err
		}

		idx, err := dayIndex(tx, storage.DayKey(attempt.StartedAt), true)
		if err != nil {
			return err
		}
		return idx.Put([]byte(attempt.ID), nil)
	})
}

// Get retrieves an attempt by ID.
func (s *attemptStore) Get(ctx context.Context, id string) (*storage.Attempt, error) {
	var found *storage.Attempt
	err := s.db.View(func(tx *bbolt.Tx) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		data := tx.Bucket([]byte(bucketAttempts)).Get([]byte(id))
		if data == nil {
			return storage.ErrNotFound
		}
		a, err := decodeAttempt(data)
		if err != nil {
			return err
		}
		found = &a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// List returns matching attempts, newest first.
func (s *attemptStore) List(ctx context.Context, filter storage.AttemptFilter) ([]storage.Attempt, error) {
	attempts := make([]storage.Attempt, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return eachAttempt(ctx, tx, func(a storage.Attempt) error {
			if filter.Matches(a) {
				attempts = append(attempts, a)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(attempts, func(i, j int) bool {
		return attempts[i].StartedAt.After(attempts[j].StartedAt)
	})

	if filter.Limit > 0 && len(attempts) > filter.Limit {
		attempts = attempts[:filter.Limit]
	}
	return attempts, nil
}

// CountForDay returns the number of attempts started on day's date.
func (s *attemptStore) CountForDay(ctx context.Context, day time.Time) (int, error) {
	count := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		idx, err := dayIndex(tx, storage.DayKey(day), false)
		if err != nil || idx == nil {
			return err
		}
		count = idx.Stats().KeyN
		return nil
	})
	return count, err
}

// DeleteBefore removes attempts started before cutoff.
func (s *attemptStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	deleted := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		var stale []storage.Attempt
		err := eachAttempt(ctx, tx, func(a storage.Attempt) error {
			if a.StartedAt.Before(cutoff) {
				stale = append(stale, a)
			}
			return nil
		})
		if err != nil {
			return err
		}

		b := tx.Bucket([]byte(bucketAttempts))
		days := tx.Bucket([]byte(bucketIndexes)).Bucket([]byte(bucketIndexDay))
		for _, a := range stale {
			if err := b.Delete([]byte(a.ID)); err != nil {
				return err
			}
			day := []byte(storage.DayKey(a.StartedAt))
			if idx := days.Bucket(day); idx != nil {
				if err := idx.Delete([]byte(a.ID)); err != nil {
					return err
				}
				if k, _ := idx.Cursor().First(); k == nil {
					if err := days.DeleteBucket(day); err != nil {
						return err
					}
				}
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}
