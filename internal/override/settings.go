package override

import (
	"context"
	"time"

	"github.com/goodtune/lockbox/internal/device"
	"github.com/goodtune/lockbox/internal/guided"
	"github.com/rs/zerolog"
)

// SettingsReader reads override settings from the device
type SettingsReader interface {
	OverrideSettings(ctx context.Context) (device.OverrideSettings, error)
}

// DeviceSettings takes the guided flag from the device, falling back to
// the local value when the device cannot be reached.
type DeviceSettings struct {
	reader   SettingsReader
	fallback bool
	logger   zerolog.Logger
}

// NewDeviceSettings creates a settings provider backed by the device.
func NewDeviceSettings(reader SettingsReader, fallback bool, logger zerolog.Logger) *DeviceSettings {
	return &DeviceSettings{
		reader:   reader,
		fallback: fallback,
		logger:   logger.With().Str("component", "settings").Logger(),
	}
}

// GuidedEnabled reports whether the device has guided sessions enabled.
func (d *DeviceSettings) GuidedEnabled(ctx context.Context) bool {
	settings, err := d.reader.OverrideSettings(ctx)
	if err != nil {
		d.logger.Warn().Err(err).Bool("fallback", d.fallback).Msg("Failed to read device override settings")
		return d.fallback
	}
	return settings.Enabled
}

// ApplyDeviceSettings overrides the guided minimum duration with the
// device's configured value. The config is left untouched on error.
func ApplyDeviceSettings(ctx context.Context, reader SettingsReader, cfg *guided.Config) error {
	settings, err := reader.OverrideSettings(ctx)
	if err != nil {
		return err
	}
	if settings.DelayMinutes > 0 {
		cfg.MinDuration = time.Duration(settings.DelayMinutes) * time.Minute
	}
	return nil
}
