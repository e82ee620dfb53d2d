package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/lockbox/internal/clock"
	"github.com/goodtune/lockbox/internal/config"
	"github.com/goodtune/lockbox/internal/device"
	"github.com/goodtune/lockbox/internal/metrics"
	"github.com/goodtune/lockbox/internal/policy"
	"github.com/goodtune/lockbox/internal/policy/opa"
	"github.com/goodtune/lockbox/internal/storage"
	"github.com/goodtune/lockbox/internal/systemd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// journalRetention matches the redis journal TTL
const journalRetention = 90 * 24 * time.Hour

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the lockbox status feed",
	Long: `Follow the lockbox live status feed, falling back to polling while it is
down. Every applied status is logged together with the override route the
trigger gate would choose. Runs as a systemd service with sd_notify and
socket activation for the metrics listener.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging, os.Stdout)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Str("device", cfg.Device.BaseURL).
		Msg("Starting lockbox watch")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	journal, closeJournal := openJournal(cfg.Storage, logger)
	defer closeJournal()
	pruneJournal(journal, logger)
	pruner := clock.NewTicker(clock.Real{}, 24*time.Hour, func() { pruneJournal(journal, logger) })
	defer pruner.Stop()

	// Initialize Policy Engine
	policyEngine, err := opa.NewEngine(cfg.Policy.Dir, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize policy engine: %w", err)
	}
	gate := policy.NewGate(policyEngine, nil, nil, logger)

	// Initialize status channel
	client := newDeviceClient(cfg, logger)
	channel := newStatusChannel(cfg, client, logger)

	updates := make(chan device.Status, 16)
	channel.OnUpdate(func(st device.Status) {
		select {
		case updates <- st:
		default:
			logger.Warn().Msg("Status log backlog full, skipping update")
		}
	})
	channel.OnAdvisory(func(msg string) {
		logger.Warn().Msg(msg)
		if err := systemd.NotifyStatus(msg); err != nil {
			logger.Debug().Err(err).Msg("Failed to send systemd status")
		}
	})

	// Initialize Metrics Server
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled || sdListeners.Metrics != nil {
		metricsServer = metrics.NewServer(cfg.Metrics.Address, func() bool {
			return !channel.Current().Stale
		}, logger)

		// Use systemd socket-activated listener if available
		if sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}

		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := channel.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect status channel: %w", err)
	}

	// Notify systemd that we're ready
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}

	var watchdog <-chan time.Time
	if interval := systemd.WatchdogInterval(); interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		watchdog = ticker.C
		logger.Debug().Dur("interval", interval).Msg("systemd watchdog enabled")
	}

	// Wait for signals (shutdown or reload)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	var last policy.Decision
loop:
	for {
		select {
		case st := <-updates:
			decision := gate.Check(ctx, channel.Current(), cfg.Override.GuidedEnabled)
			logStatus(logger, st, decision, decision != last)
			last = decision
			if err := systemd.NotifyStatus(statusLine(st, decision)); err != nil {
				logger.Debug().Err(err).Msg("Failed to send systemd status")
			}

		case <-watchdog:
			if err := systemd.NotifyWatchdog(); err != nil {
				logger.Warn().Err(err).Msg("Failed to send systemd watchdog notification")
			}

		case sig := <-sigChan:
			switch sig {
			case syscall.SIGHUP:
				logger.Info().Msg("SIGHUP received, reloading policies...")
				if err := policyEngine.Reload(); err != nil {
					logger.Error().Err(err).Msg("Failed to reload policies")
				} else {
					logger.Info().Msg("Policies reloaded successfully")
				}
			default:
				logger.Info().Msg("Shutdown signal received, gracefully stopping...")
				break loop
			}
		}
	}

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	if err := channel.Close(); err != nil {
		logger.Error().Err(err).Msg("Error closing status channel")
	}

	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping metrics server")
		}
	}

	logger.Info().Msg("lockbox watch stopped")
	return nil
}

func logStatus(logger zerolog.Logger, st device.Status, decision policy.Decision, changed bool) {
	event := logger.Debug()
	if changed {
		event = logger.Info()
	}
	event.
		Str("state", st.State.String()).
		Int("remaining", st.RemainingSeconds).
		Int("overrides", st.OverrideCount).
		Int("override_limit", st.OverrideLimit).
		Str("network", string(st.Network)).
		Str("override_route", decision.String()).
		Time("stamp", st.Timestamp).
		Msg("Status update")
}

func statusLine(st device.Status, decision policy.Decision) string {
	return fmt.Sprintf("%s, %d/%d overrides used, override %s",
		st.State, st.OverrideCount, st.OverrideLimit, decision)
}

// pruneJournal drops attempts older than the retention period. Redis
// expires them on its own; bolt needs this.
func pruneJournal(journal storage.AttemptStore, logger zerolog.Logger) {
	if journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	removed, err := journal.DeleteBefore(ctx, time.Now().Add(-journalRetention))
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to prune override journal")
		return
	}
	if removed > 0 {
		logger.Info().Int("removed", removed).Msg("Pruned override journal")
	}
}
