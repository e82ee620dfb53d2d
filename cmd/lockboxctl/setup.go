package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/goodtune/lockbox/internal/clock"
	"github.com/goodtune/lockbox/internal/config"
	"github.com/goodtune/lockbox/internal/device"
	"github.com/goodtune/lockbox/internal/status"
	"github.com/goodtune/lockbox/internal/storage"
	"github.com/goodtune/lockbox/internal/storage/bolt"
	"github.com/goodtune/lockbox/internal/storage/redis"
	"github.com/rs/zerolog"
)

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "bolt", "":
		return bolt.Open(cfg.Path)
	case "redis":
		return redis.Open(cfg.Redis)
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// openJournal opens the attempt journal for commands that keep working
// without one. The returned close func is never nil.
func openJournal(cfg config.StorageConfig, logger zerolog.Logger) (storage.AttemptStore, func()) {
	store, err := openStorage(cfg)
	if err != nil {
		logger.Warn().Err(err).Str("type", cfg.Type).Msg("Override journal unavailable")
		return nil, func() {}
	}
	if store == nil {
		return nil, func() {}
	}
	return store.Attempts(), func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close override journal")
		}
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig, out io.Writer) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: out, NoColor: out != os.Stdout && out != os.Stderr}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(out).With().Timestamp().Logger()
}

// setupInteractiveLogger keeps log output off the terminal while a
// full-screen view is running: logs go to logging.file, or nowhere.
func setupInteractiveLogger(cfg config.LoggingConfig) (zerolog.Logger, func(), error) {
	if cfg.File == "" {
		return setupLogger(cfg, io.Discard), func() {}, nil
	}
	if err := storage.EnsureDir(filepath.Dir(cfg.File)); err != nil {
		return zerolog.Nop(), nil, err
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return setupLogger(cfg, f), func() { _ = f.Close() }, nil
}

// quietLogger is used by one-shot commands; only errors reach stderr.
func quietLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()
}

func newDeviceClient(cfg *config.Config, logger zerolog.Logger) *device.Client {
	return device.NewClient(device.Config{
		BaseURL:  cfg.Device.BaseURL,
		FeedPath: cfg.Device.FeedPath,
		Timeout:  config.ParseDuration(cfg.Device.RequestTimeout, 5*time.Second),
	}, logger)
}

func newStatusChannel(cfg *config.Config, client *device.Client, logger zerolog.Logger) *status.Channel {
	return status.NewChannel(status.DeviceSource(client), status.Config{
		PollInterval:     config.ParseDuration(cfg.Status.PollInterval, 2*time.Second),
		ReconnectBackoff: config.ParseDuration(cfg.Status.ReconnectBackoff, 5*time.Second),
	}, clock.Real{}, logger)
}

// waitForStatus blocks until the channel has a status or ctx ends.
func waitForStatus(ctx context.Context, ch *status.Channel) bool {
	ready := make(chan struct{}, 1)
	unsubscribe := ch.OnUpdate(func(device.Status) {
		select {
		case ready <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	if !ch.Current().Stale {
		return true
	}
	select {
	case <-ready:
		return true
	case <-ctx.Done():
		return !ch.Current().Stale
	}
}
