package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/lockbox/internal/config"
	"github.com/goodtune/lockbox/internal/device"
	"github.com/spf13/cobra"
)

var (
	settingsEnabled      bool
	settingsDelayMinutes int
	settingsPersonality  string
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Read or change the device override settings",
	Long:  `Read or change the override settings held by the device.`,
}

var settingsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show the device override settings",
	Args:  cobra.NoArgs,
	RunE:  runSettingsGet,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change the device override settings",
	Long:  `Change the device override settings. Only the flags given are changed.`,
	Example: `  lockboxctl settings set --guided=true
  lockboxctl settings set --delay-minutes 15`,
	Args: cobra.NoArgs,
	RunE: runSettingsSet,
}

func init() {
	settingsSetCmd.Flags().BoolVar(&settingsEnabled, "guided", false, "Enable guided override sessions")
	settingsSetCmd.Flags().IntVar(&settingsDelayMinutes, "delay-minutes", 0, "Guided session minimum duration in minutes")
	settingsSetCmd.Flags().StringVar(&settingsPersonality, "personality", "", "Guide personality")

	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	rootCmd.AddCommand(settingsCmd)
}

func runSettingsGet(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	settings, err := newDeviceClient(cfg, quietLogger()).OverrideSettings(ctx)
	if err != nil {
		return fmt.Errorf("failed to read settings: %w", err)
	}

	printSettings(settings)
	return nil
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	if !flags.Changed("guided") && !flags.Changed("delay-minutes") && !flags.Changed("personality") {
		return fmt.Errorf("nothing to change: use --guided, --delay-minutes or --personality")
	}
	if flags.Changed("delay-minutes") && settingsDelayMinutes <= 0 {
		return fmt.Errorf("--delay-minutes must be positive")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := newDeviceClient(cfg, quietLogger())
	settings, err := client.OverrideSettings(ctx)
	if err != nil {
		return fmt.Errorf("failed to read settings: %w", err)
	}

	if flags.Changed("guided") {
		settings.Enabled = settingsEnabled
	}
	if flags.Changed("delay-minutes") {
		settings.DelayMinutes = settingsDelayMinutes
	}
	if flags.Changed("personality") {
		settings.Personality = settingsPersonality
	}

	if err := client.SaveOverrideSettings(ctx, settings); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}

	color.New(color.FgGreen, color.Bold).Println("Settings saved")
	printSettings(settings)
	return nil
}

func printSettings(s device.OverrideSettings) {
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)

	fmt.Print("Guided sessions:  ")
	if s.Enabled {
		green.Println("enabled")
	} else {
		yellow.Println("disabled")
	}
	fmt.Printf("Minimum duration: %d minutes\n", s.DelayMinutes)
	if s.Personality != "" {
		fmt.Printf("Personality:      %s\n", s.Personality)
	}
	if s.Provider != "" {
		fmt.Printf("Provider:         %s\n", s.Provider)
	}
	if s.APIKey != "" {
		fmt.Printf("API key:          %s\n", maskSecret(s.APIKey))
	}
}

func maskSecret(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}
