package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goodtune/lockbox/internal/config"
	"github.com/goodtune/lockbox/internal/device"
	"github.com/goodtune/lockbox/internal/policy"
	"github.com/goodtune/lockbox/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
device:
  base_url: http://quitbox.local
  retries: 3
overide:
  delay_minutes: 5
`), 0o600))

	unknown, err := findUnknownKeys(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"device.retries", "overide.delay_minutes"}, unknown)
}

func TestGuidedConfig(t *testing.T) {
	cfg := config.OverrideConfig{
		PenaltyMinutes: 20,
		Guided: config.GuidedConfig{
			MinDuration:     "12m",
			MinInteractions: 4,
			ReflectionDelay: "bogus",
			CopingEvery:     2,
		},
	}

	g := guidedConfig(cfg)
	assert.Equal(t, 12*time.Minute, g.MinDuration)
	assert.Equal(t, 4, g.MinInteractions)
	assert.Equal(t, 30*time.Second, g.ReflectionDelay)
	assert.Equal(t, 2, g.CopingEvery)
	assert.Equal(t, 20, g.PenaltyMinutes)
}

func TestOpenStorageNone(t *testing.T) {
	store, err := openStorage(config.StorageConfig{Type: "none"})
	require.NoError(t, err)
	assert.Nil(t, store)

	_, err = openStorage(config.StorageConfig{Type: "sqlite"})
	assert.Error(t, err)
}

func TestOpenStorageBolt(t *testing.T) {
	store, err := openStorage(config.StorageConfig{Type: "bolt", Path: filepath.Join(t.TempDir(), "journal.bolt")})
	require.NoError(t, err)
	defer store.Close()

	journal := store.Attempts()
	pruneJournal(journal, quietLogger())

	list, err := journal.List(t.Context(), storage.AttemptFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStatusLine(t *testing.T) {
	st := device.Status{State: device.Locked, OverrideCount: 1, OverrideLimit: 3}
	line := statusLine(st, policy.Decision{Route: policy.RouteDelay})
	assert.Equal(t, "locked, 1/3 overrides used, override delay", line)

	line = statusLine(st, policy.Decision{Route: policy.RouteBlocked, Reason: policy.ReasonLimitReached})
	assert.Contains(t, line, "blocked(limit_reached)")
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "***", maskSecret("abc"))
	assert.Equal(t, "****5678", maskSecret("12345678"))
}

func TestAttemptDetail(t *testing.T) {
	assert.Equal(t, "limit_reached", attemptDetail(storage.Attempt{Reason: "limit_reached", PenaltyMinutes: 15}))
	assert.Equal(t, "+15 min penalty", attemptDetail(storage.Attempt{PenaltyMinutes: 15, Trigger: "stress"}))
	assert.Equal(t, "stress", attemptDetail(storage.Attempt{Trigger: "stress"}))
}
