package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/lockbox/internal/config"
	"github.com/goodtune/lockbox/internal/device"
	"github.com/goodtune/lockbox/internal/policy"
	"github.com/goodtune/lockbox/internal/policy/opa"
	"github.com/goodtune/lockbox/internal/status"
	"github.com/spf13/cobra"
)

var (
	checkOverrides     int
	checkOverrideLimit int
	checkNetwork       string
	checkGuided        bool
	checkStale         bool
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the trigger gate decision for a hypothetical status",
	Long:  `Check which override route the trigger gate would choose for a given device status.`,
	Example: `  lockboxctl check --overrides 1 --override-limit 3 --network trusted
  lockboxctl check --network untrusted --guided
  lockboxctl -c config.yaml check --stale`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().IntVar(&checkOverrides, "overrides", 0, "Overrides already used in the current period")
	checkCmd.Flags().IntVar(&checkOverrideLimit, "override-limit", 3, "Overrides allowed per period")
	checkCmd.Flags().StringVar(&checkNetwork, "network", "trusted", "Network classification (trusted, untrusted, access-point)")
	checkCmd.Flags().BoolVar(&checkGuided, "guided", false, "Guided sessions enabled (defaults to override.guided_enabled)")
	checkCmd.Flags().BoolVar(&checkStale, "stale", false, "Simulate no status received yet")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	network := device.NetworkTrust(checkNetwork)
	switch network {
	case device.NetworkTrusted, device.NetworkUntrusted, device.NetworkAccessPoint:
	default:
		return fmt.Errorf("invalid network: %s", checkNetwork)
	}
	if checkOverrides < 0 || checkOverrideLimit < 0 {
		return fmt.Errorf("override counts must not be negative")
	}

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	guidedEnabled := cfg.Override.GuidedEnabled
	if cmd.Flags().Changed("guided") {
		guidedEnabled = checkGuided
	}

	// Create a quiet logger for check mode
	logger := quietLogger()

	policyEngine, err := opa.NewEngine(cfg.Policy.Dir, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize policy engine: %w", err)
	}
	gate := policy.NewGate(policyEngine, nil, nil, logger)

	snap := status.Snapshot{Stale: checkStale}
	if !checkStale {
		snap.Status = device.Status{
			State:         device.Locked,
			OverrideCount: checkOverrides,
			OverrideLimit: checkOverrideLimit,
			Network:       network,
			Timestamp:     time.Now(),
		}
	}

	decision := gate.Check(context.Background(), snap, guidedEnabled)

	// Display result with colors
	printCheckResult(snap, guidedEnabled, policyEngine.Source(), decision)
	return nil
}

// printCheckResult prints the gate decision with colors
func printCheckResult(snap status.Snapshot, guidedEnabled bool, source string, decision policy.Decision) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Println("OVERRIDE GATE CHECK")
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	fmt.Printf("Policy:     %s\n", source)
	if snap.Stale {
		fmt.Printf("Status:     (none received)\n")
	} else {
		fmt.Printf("Overrides:  %d of %d used\n", snap.Status.OverrideCount, snap.Status.OverrideLimit)
		fmt.Printf("Network:    %s\n", snap.Status.Network)
	}
	fmt.Printf("Guided:     %t\n", guidedEnabled)
	fmt.Println()

	fmt.Print("Decision:   ")
	switch decision.Route {
	case policy.RouteGuided:
		green.Println("GUIDED SESSION")
	case policy.RouteDelay:
		yellow.Println("COOLING-OFF DELAY")
	default:
		red.Println("BLOCKED")
		fmt.Printf("Reason:     %s\n", decision.Reason.Message())
	}
	fmt.Println()
}
