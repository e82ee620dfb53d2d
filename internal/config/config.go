package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Device   DeviceConfig   `mapstructure:"device"`
	Status   StatusConfig   `mapstructure:"status"`
	Override OverrideConfig `mapstructure:"override"`
	Policy   PolicyConfig   `mapstructure:"policy"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// DeviceConfig defines how to reach the lockbox service
type DeviceConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	FeedPath       string `mapstructure:"feed_path"`
	RequestTimeout string `mapstructure:"request_timeout"`
}

// StatusConfig defines status channel timing
type StatusConfig struct {
	PollInterval     string `mapstructure:"poll_interval"`
	ReconnectBackoff string `mapstructure:"reconnect_backoff"`
}

// OverrideConfig defines emergency override behaviour
type OverrideConfig struct {
	GuidedEnabled  bool         `mapstructure:"guided_enabled"`
	DelayMinutes   int          `mapstructure:"delay_minutes"`
	PenaltyMinutes int          `mapstructure:"penalty_minutes"`
	SettingsSource string       `mapstructure:"settings_source"` // "local" or "device"
	Guided         GuidedConfig `mapstructure:"guided"`
}

// GuidedConfig defines guided session gates
type GuidedConfig struct {
	MinDuration     string `mapstructure:"min_duration"`
	MinInteractions int    `mapstructure:"min_interactions"`
	ReflectionDelay string `mapstructure:"reflection_delay"`
	CopingEvery     int    `mapstructure:"coping_every"`
	Seed            int64  `mapstructure:"seed"` // 0 = random
}

// PolicyConfig defines where the trigger gate policy comes from
type PolicyConfig struct {
	Dir string `mapstructure:"dir"` // empty = embedded default policy
}

// StorageConfig defines journal storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // "bolt", "redis" or "none"
	Path  string      `mapstructure:"path"`
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"` // used by interactive commands
}

// MetricsConfig defines the metrics endpoint used by watch mode
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("LOCKBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if !isNotFound(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// isNotFound reports whether err means the config file does not exist.
// SetConfigFile makes viper return the raw os error instead of
// ConfigFileNotFoundError, so both are accepted.
func isNotFound(err error) bool {
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return true
	}
	return os.IsNotExist(err)
}

// KnownKeys returns every configuration key that has a default, which is
// every key the application reads.
func KnownKeys() map[string]bool {
	v := viper.New()
	setDefaults(v)

	keys := make(map[string]bool)
	for _, key := range v.AllKeys() {
		keys[key] = true
	}
	return keys
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Device defaults
	v.SetDefault("device.base_url", "http://quitbox.local")
	v.SetDefault("device.feed_path", "/ws")
	v.SetDefault("device.request_timeout", "5s")

	// Status channel defaults
	v.SetDefault("status.poll_interval", "2s")
	v.SetDefault("status.reconnect_backoff", "5s")

	// Override defaults (firmware: 5 min delay, 15 min penalty, 10 min guided session, 5 messages)
	v.SetDefault("override.guided_enabled", false)
	v.SetDefault("override.delay_minutes", 5)
	v.SetDefault("override.penalty_minutes", 15)
	v.SetDefault("override.settings_source", "local")
	v.SetDefault("override.guided.min_duration", "10m")
	v.SetDefault("override.guided.min_interactions", 5)
	v.SetDefault("override.guided.reflection_delay", "30s")
	v.SetDefault("override.guided.coping_every", 3)
	v.SetDefault("override.guided.seed", 0)

	// Policy defaults
	v.SetDefault("policy.dir", "")

	// Storage defaults
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.path", defaultJournalPath())
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 4)
	v.SetDefault("storage.redis.min_idle_conns", 1)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.address", "127.0.0.1:9464")
}

// defaultJournalPath places the journal under the user's state directory
func defaultJournalPath() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "lockbox", "journal.bolt")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "state", "lockbox", "journal.bolt")
	}
	return "lockbox-journal.bolt"
}

// validate validates the configuration
func validate(cfg *Config) error {
	u, err := url.Parse(cfg.Device.BaseURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid device base URL: %q", cfg.Device.BaseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("device base URL must be http or https: %q", cfg.Device.BaseURL)
	}
	cfg.Device.BaseURL = strings.TrimRight(cfg.Device.BaseURL, "/")

	durations := map[string]string{
		"device.request_timeout":           cfg.Device.RequestTimeout,
		"status.poll_interval":             cfg.Status.PollInterval,
		"status.reconnect_backoff":         cfg.Status.ReconnectBackoff,
		"override.guided.min_duration":     cfg.Override.Guided.MinDuration,
		"override.guided.reflection_delay": cfg.Override.Guided.ReflectionDelay,
	}
	for key, value := range durations {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative", key)
		}
	}

	if cfg.Override.DelayMinutes < 0 {
		return fmt.Errorf("override.delay_minutes must not be negative: %d", cfg.Override.DelayMinutes)
	}
	if cfg.Override.PenaltyMinutes < 0 {
		return fmt.Errorf("override.penalty_minutes must not be negative: %d", cfg.Override.PenaltyMinutes)
	}
	if cfg.Override.Guided.MinInteractions < 0 {
		return fmt.Errorf("override.guided.min_interactions must not be negative: %d", cfg.Override.Guided.MinInteractions)
	}
	if cfg.Override.Guided.CopingEvery <= 0 {
		cfg.Override.Guided.CopingEvery = 3
	}

	switch cfg.Override.SettingsSource {
	case "", "local":
		cfg.Override.SettingsSource = "local"
	case "device":
	default:
		return fmt.Errorf("override.settings_source must be local or device: %q", cfg.Override.SettingsSource)
	}

	switch cfg.Storage.Type {
	case "":
		cfg.Storage.Type = "bolt"
	case "bolt", "redis", "none":
	default:
		return fmt.Errorf("unsupported storage type: %q", cfg.Storage.Type)
	}
	if cfg.Storage.Type == "bolt" && cfg.Storage.Path == "" {
		return fmt.Errorf("storage path is required")
	}

	return nil
}

// ParseDuration parses a duration string with a fallback
func ParseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
