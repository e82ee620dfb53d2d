package redis

import (
	"encoding/json"
	"fmt"

	"github.com/goodtune/lockbox/internal/storage"
)

const (
	attemptPrefix = "lockbox:attempt:"
	timelineKey   = "lockbox:attempts"
	dayPrefix     = "lockbox:attempts:day:"
)

func attemptKey(id string) string {
	return attemptPrefix + id
}

func dayKey(day string) string {
	return dayPrefix + day
}

// parseAttempt converts a Redis hash to Attempt
func parseAttempt(data map[string]string) (*storage.Attempt, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	var attempt storage.Attempt
	if err := json.Unmarshal([]byte(data["data"]), &attempt); err != nil {
		return nil, fmt.Errorf("failed to parse attempt %s: %w", data["id"], err)
	}
	return &attempt, nil
}
