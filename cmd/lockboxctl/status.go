package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/lockbox/internal/config"
	"github.com/goodtune/lockbox/internal/device"
	"github.com/spf13/cobra"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current lockbox status",
	Long:  `Fetch the lockbox status once and print it.`,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the raw device status as JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	client := newDeviceClient(cfg, quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st, err := client.FetchStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch status: %w", err)
	}

	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	printStatus(cfg.Device.BaseURL, st)
	return nil
}

// printStatus prints a device status with colors
func printStatus(addr string, st device.Status) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Println("LOCKBOX STATUS")
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	fmt.Printf("Device:     %s\n", addr)
	fmt.Print("State:      ")
	switch st.State {
	case device.Locked:
		red.Println("LOCKED")
	case device.Unlocked:
		green.Println("UNLOCKED")
	default:
		yellow.Println(stateLabel(st.State))
	}
	if st.RemainingSeconds > 0 {
		fmt.Printf("Remaining:  %s\n", (time.Duration(st.RemainingSeconds) * time.Second).String())
	}

	fmt.Print("Overrides:  ")
	if st.LimitReached() {
		red.Printf("%d of %d used (limit reached)\n", st.OverrideCount, st.OverrideLimit)
	} else {
		fmt.Printf("%d of %d used\n", st.OverrideCount, st.OverrideLimit)
	}

	fmt.Print("Network:    ")
	if st.OverridePermission() {
		green.Printf("%s (override allowed)\n", st.Network)
	} else {
		red.Printf("%s (override not allowed)\n", st.Network)
	}
	if !st.Timestamp.IsZero() {
		fmt.Printf("Updated:    %s\n", st.Timestamp.Local().Format(time.DateTime))
	}
	fmt.Println()
}

func stateLabel(s device.LockState) string {
	switch s {
	case device.CountdownActive:
		return "COUNTDOWN ACTIVE"
	case device.EmergencyActive:
		return "EMERGENCY UNLOCK ACTIVE"
	case device.SetupRequired:
		return "SETUP REQUIRED"
	default:
		return s.String()
	}
}
