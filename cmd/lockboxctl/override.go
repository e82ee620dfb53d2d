package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/goodtune/lockbox/internal/clock"
	"github.com/goodtune/lockbox/internal/config"
	"github.com/goodtune/lockbox/internal/conversation"
	"github.com/goodtune/lockbox/internal/device"
	"github.com/goodtune/lockbox/internal/guided"
	"github.com/goodtune/lockbox/internal/override"
	"github.com/goodtune/lockbox/internal/policy"
	"github.com/goodtune/lockbox/internal/policy/opa"
	"github.com/goodtune/lockbox/internal/tui"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var overrideTrigger string

var overrideCmd = &cobra.Command{
	Use:   "override",
	Short: "Request an emergency override",
	Long: `Request an emergency unlock. The trigger gate decides whether the request
is allowed and which path it takes: a cooling-off countdown, or a guided
session that must run for a minimum time and number of messages before the
unlock can be confirmed.`,
	Example: `  lockboxctl override
  lockboxctl override --trigger stress`,
	RunE: runOverride,
}

func init() {
	overrideCmd.Flags().StringVar(&overrideTrigger, "trigger", "", "Preselect the guided session trigger (stress, boredom, anger, habit, social, other, none)")
	rootCmd.AddCommand(overrideCmd)
}

func runOverride(cmd *cobra.Command, args []string) error {
	trigger, haveTrigger := conversation.Category(""), false
	if overrideTrigger != "" {
		var ok bool
		trigger, ok = conversation.ParseCategory(overrideTrigger)
		if !ok {
			return fmt.Errorf("unknown trigger %q", overrideTrigger)
		}
		haveTrigger = true
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, closeLog, err := setupInteractiveLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := newDeviceClient(cfg, logger)
	channel := newStatusChannel(cfg, client, logger)
	if err := channel.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect status channel: %w", err)
	}
	defer channel.Close()

	waitCtx, waitCancel := context.WithTimeout(ctx, config.ParseDuration(cfg.Device.RequestTimeout, 5*time.Second))
	ok := waitForStatus(waitCtx, channel)
	waitCancel()
	if ok && channel.Current().Status.State == device.Unlocked {
		color.New(color.FgGreen, color.Bold).Println("The box is already unlocked.")
		return nil
	}

	policyEngine, err := opa.NewEngine(cfg.Policy.Dir, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	guidedCfg := guidedConfig(cfg.Override)
	var settings policy.Settings = policy.StaticSettings{Guided: cfg.Override.GuidedEnabled}
	if cfg.Override.SettingsSource == "device" {
		settings = override.NewDeviceSettings(client, cfg.Override.GuidedEnabled, logger)
		if err := override.ApplyDeviceSettings(ctx, client, &guidedCfg); err != nil {
			logger.Warn().Err(err).Msg("Using local guided session settings")
		}
	}
	gate := policy.NewGate(policyEngine, channel, settings, logger)

	journal, closeJournal := openJournal(cfg.Storage, logger)
	defer closeJournal()

	coord := override.NewCoordinator(gate, client, journal, clock.Real{}, override.Config{
		DelayMinutes: cfg.Override.DelayMinutes,
		Guided:       guidedCfg,
		Seed:         cfg.Override.Guided.Seed,
	}, logger)
	defer coord.Close()

	decision := coord.Request(ctx)
	if decision.Route == policy.RouteGuided && !haveTrigger {
		final, err := tea.NewProgram(tui.NewTriggerPicker()).Run()
		if err != nil {
			return fmt.Errorf("trigger picker failed: %w", err)
		}
		chosen, picked := final.(tui.TriggerPicker).Chosen()
		if !picked {
			fmt.Println("Override request cancelled.")
			return nil
		}
		trigger = chosen
	}

	session, err := coord.Start(ctx, trigger)
	if err != nil {
		var blocked *override.BlockedError
		if errors.As(err, &blocked) {
			color.New(color.FgRed, color.Bold).Printf("Override not available: %s\n", blocked.Reason.Message())
		}
		return err
	}

	notices := &tui.Notices{}
	channel.OnAdvisory(notices.Post)

	var model tea.Model
	switch session.Path {
	case override.PathDelay:
		model = tui.NewCountdown(ctx, session, notices)
	default:
		model = tui.NewGuided(ctx, session, notices)
	}

	final, err := tea.NewProgram(model, tea.WithAltScreen()).Run()
	if err != nil {
		session.Cancel()
		return fmt.Errorf("override view failed: %w", err)
	}

	printOverrideOutcome(final, session, logger)
	return nil
}

// guidedConfig converts the configured guided session gates.
func guidedConfig(cfg config.OverrideConfig) guided.Config {
	defaults := guided.DefaultConfig()
	return guided.Config{
		MinDuration:     config.ParseDuration(cfg.Guided.MinDuration, defaults.MinDuration),
		MinInteractions: cfg.Guided.MinInteractions,
		ReflectionDelay: config.ParseDuration(cfg.Guided.ReflectionDelay, defaults.ReflectionDelay),
		CopingEvery:     cfg.Guided.CopingEvery,
		PenaltyMinutes:  cfg.PenaltyMinutes,
	}
}

func printOverrideOutcome(final tea.Model, session *override.Session, logger zerolog.Logger) {
	type resulter interface {
		Result() (device.OverrideResult, bool)
	}

	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)

	if r, ok := final.(resulter); ok {
		if result, unlocked := r.Result(); unlocked {
			green.Println("Emergency unlock granted.")
			if result.Message != "" {
				fmt.Println(result.Message)
			}
			if result.PenaltyMinutes > 0 {
				fmt.Printf("%d minutes have been added to your next lock.\n", result.PenaltyMinutes)
			}
			return
		}
	}

	// The view exited without an unlock; make sure the session is over.
	session.Cancel()
	switch session.Status() {
	case override.StatusUnlocked:
		green.Println("The override was granted before the session closed; the box is unlocked.")
	case override.StatusFailed:
		yellow.Println("Override failed; the box stays locked.")
	default:
		yellow.Println("Override cancelled; the box stays locked. Well done.")
	}
	logger.Info().Str("session", session.ID).Str("status", string(session.Status())).Msg("Override view closed")
}
