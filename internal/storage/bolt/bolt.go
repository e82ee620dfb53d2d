package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/goodtune/lockbox/internal/storage"
	"go.etcd.io/bbolt"
)

const (
	bucketAttempts = "attempts"
	bucketIndexes  = "indexes"
	bucketIndexDay = "day"
)

// Store implements the storage.Store interface using bbolt.
type Store struct {
	db *bbolt.DB
}

// Open opens a BoltDB-backed store.
func Open(path string) (*Store, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	store := &Store{db: db}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return storage.EnsureDir(dir)
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{bucketAttempts, bucketIndexes} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}

		indexes := tx.Bucket([]byte(bucketIndexes))
		if _, err := indexes.CreateBucketIfNotExists([]byte(bucketIndexDay)); err != nil {
			return fmt.Errorf("create day index: %w", err)
		}
		return nil
	})
}

// Close closes the underlying store database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Attempts returns the override journal.
func (s *Store) Attempts() storage.AttemptStore { return &attemptStore{db: s.db} }

func encodeAttempt(a storage.Attempt) ([]byte, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode attempt %s: %w", a.ID, err)
	}
	return data, nil
}

func decodeAttempt(data []byte) (storage.Attempt, error) {
	var a storage.Attempt
	if err := json.Unmarshal(data, &a); err != nil {
		return storage.Attempt{}, fmt.Errorf("decode attempt: %w", err)
	}
	return a, nil
}

// eachAttempt decodes every journaled attempt in key order.
func eachAttempt(ctx context.Context, tx *bbolt.Tx, fn func(storage.Attempt) error) error {
	b := tx.Bucket([]byte(bucketAttempts))
	if b == nil {
		return nil
	}
	return b.ForEach(func(_, v []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		a, err := decodeAttempt(v)
		if err != nil {
			return err
		}
		return fn(a)
	})
}

// dayIndex returns the index bucket for a YYYY-MM-DD day key. With create
// unset it returns nil when the day has no attempts.
func dayIndex(tx *bbolt.Tx, day string, create bool) (*bbolt.Bucket, error) {
	days := tx.Bucket([]byte(bucketIndexes)).Bucket([]byte(bucketIndexDay))
	if days == nil {
		return nil, fmt.Errorf("day index missing")
	}
	if !create {
		return days.Bucket([]byte(day)), nil
	}
	return days.CreateBucketIfNotExists([]byte(day))
}
