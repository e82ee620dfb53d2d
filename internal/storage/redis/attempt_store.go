package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/lockbox/internal/storage"
	"github.com/redis/go-redis/v9"
)

type attemptStore struct {
	client *redis.Client
	record *redis.Script
	prune  *redis.Script
}

func newAttemptStore(client *redis.Client) *attemptStore {
	return &attemptStore{
		client: client,
		record: redis.NewScript(recordAttemptScript),
		prune:  redis.NewScript(deleteAttemptsBeforeScript),
	}
}

// Record stores an attempt with a 90 day TTL
func (s *attemptStore) Record(ctx context.Context, attempt storage.Attempt) error {
	if attempt.ID == "" {
		return fmt.Errorf("attempt has no id")
	}
	payload, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("marshal attempt: %w", err)
	}

	keys := []string{
		attemptKey(attempt.ID),
		timelineKey,
		dayKey(storage.DayKey(attempt.StartedAt)),
	}
	args := []interface{}{
		attempt.ID,
		string(payload),
		attempt.StartedAt.UnixMilli(),
		journalTTLSeconds,
		dayPrefix,
	}

	return s.record.Run(ctx, s.client, keys, args...).Err()
}

// Get retrieves an attempt by ID
func (s *attemptStore) Get(ctx context.Context, id string) (*storage.Attempt, error) {
	data, err := s.client.HGetAll(ctx, attemptKey(id)).Result()
	if err != nil {
		return nil, err
	}
	return parseAttempt(data)
}

// List returns matching attempts, newest first
func (s *attemptStore) List(ctx context.Context, filter storage.AttemptFilter) ([]storage.Attempt, error) {
	rangeBy := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if filter.StartTime != nil {
		rangeBy.Min = strconv.FormatInt(filter.StartTime.UnixMilli(), 10)
	}
	if filter.EndTime != nil {
		rangeBy.Max = "(" + strconv.FormatInt(filter.EndTime.UnixMilli(), 10)
	}

	ids, err := s.client.ZRevRangeByScore(ctx, timelineKey, rangeBy).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []storage.Attempt{}, nil
	}

	// Use pipeline for efficient batch retrieval
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, attemptKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	attempts := make([]storage.Attempt, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			// expired by TTL
			continue
		}
		attempt, err := parseAttempt(data)
		if err != nil || !filter.Matches(*attempt) {
			continue
		}
		attempts = append(attempts, *attempt)
		if filter.Limit > 0 && len(attempts) == filter.Limit {
			break
		}
	}

	return attempts, nil
}

// CountForDay returns the number of attempts started on day's date
func (s *attemptStore) CountForDay(ctx context.Context, day time.Time) (int, error) {
	n, err := s.client.SCard(ctx, dayKey(storage.DayKey(day))).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// DeleteBefore removes attempts started before cutoff
func (s *attemptStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := s.prune.Run(ctx, s.client, []string{timelineKey},
		cutoff.UnixMilli(), attemptPrefix, dayPrefix).Int()
	if err != nil {
		return 0, err
	}
	return n, nil
}
