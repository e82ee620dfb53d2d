package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/lockbox/internal/config"
	"github.com/goodtune/lockbox/internal/storage"
	"github.com/spf13/cobra"
)

var (
	historyLimit   int
	historyPath    string
	historyOutcome string
	historySince   time.Duration
)

var historyCmd = &cobra.Command{
	Use:   "history [flags] [ATTEMPT-ID]",
	Short: "List past override attempts",
	Long:  `List override attempts from the local journal, newest first, or show one attempt in detail.`,
	Example: `  lockboxctl history
  lockboxctl history --since 168h --outcome unlocked
  lockboxctl history 6f1c2e0a-9d8b-4c1e-8e59-3f0f6f2b7a11`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of attempts to list (0 for all)")
	historyCmd.Flags().StringVar(&historyPath, "path", "", "Only list attempts on this path (delay, guided)")
	historyCmd.Flags().StringVar(&historyOutcome, "outcome", "", "Only list attempts with this outcome (unlocked, cancelled, failed, blocked)")
	historyCmd.Flags().DurationVar(&historySince, "since", 0, "Only list attempts started within this long ago")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	if store == nil {
		return fmt.Errorf("the override journal is disabled (storage.type is none)")
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	attempts := store.Attempts()

	if len(args) == 1 {
		attempt, err := attempts.Get(ctx, args[0])
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("no attempt with id %s", args[0])
		}
		if err != nil {
			return fmt.Errorf("failed to read attempt: %w", err)
		}
		printAttempt(*attempt)
		return nil
	}

	switch storage.Outcome(historyOutcome) {
	case "", storage.OutcomeUnlocked, storage.OutcomeCancelled, storage.OutcomeFailed, storage.OutcomeBlocked:
	default:
		return fmt.Errorf("unknown outcome %q", historyOutcome)
	}

	filter := storage.AttemptFilter{
		Path:    historyPath,
		Outcome: storage.Outcome(historyOutcome),
		Limit:   historyLimit,
	}
	if historySince > 0 {
		start := time.Now().Add(-historySince)
		filter.StartTime = &start
	}

	list, err := attempts.List(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to list attempts: %w", err)
	}

	today, err := attempts.CountForDay(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("failed to count attempts: %w", err)
	}

	cyan := color.New(color.FgCyan, color.Bold)
	cyan.Printf("%-19s  %-6s  %-9s  %-8s  %5s  %s\n", "STARTED", "PATH", "OUTCOME", "DURATION", "MSGS", "DETAIL")
	for _, a := range list {
		path := a.Path
		if path == "" {
			path = "-"
		}
		fmt.Printf("%-19s  %-6s  ", a.StartedAt.Local().Format(time.DateTime), path)
		outcomeColor(a.Outcome).Printf("%-9s", a.Outcome)
		fmt.Printf("  %-8s  %5d  %s\n", a.Duration().Round(time.Second), a.Interactions, attemptDetail(a))
	}
	fmt.Printf("\n%d attempt(s) shown, %d today\n", len(list), today)
	return nil
}

func printAttempt(a storage.Attempt) {
	fmt.Printf("ID:           %s\n", a.ID)
	fmt.Printf("Path:         %s\n", a.Path)
	if a.Trigger != "" {
		fmt.Printf("Trigger:      %s\n", a.Trigger)
	}
	fmt.Printf("Started:      %s\n", a.StartedAt.Local().Format(time.DateTime))
	fmt.Printf("Ended:        %s\n", a.EndedAt.Local().Format(time.DateTime))
	fmt.Printf("Duration:     %s\n", a.Duration().Round(time.Second))
	fmt.Printf("Interactions: %d\n", a.Interactions)
	fmt.Print("Outcome:      ")
	outcomeColor(a.Outcome).Println(a.Outcome)
	if a.PenaltyMinutes > 0 {
		fmt.Printf("Penalty:      %d minutes\n", a.PenaltyMinutes)
	}
	if a.Reason != "" {
		fmt.Printf("Reason:       %s\n", a.Reason)
	}
}

func attemptDetail(a storage.Attempt) string {
	switch {
	case a.Reason != "":
		return a.Reason
	case a.PenaltyMinutes > 0:
		return fmt.Sprintf("+%d min penalty", a.PenaltyMinutes)
	case a.Trigger != "":
		return a.Trigger
	default:
		return ""
	}
}

func outcomeColor(o storage.Outcome) *color.Color {
	switch o {
	case storage.OutcomeUnlocked:
		return color.New(color.FgRed, color.Bold)
	case storage.OutcomeCancelled:
		return color.New(color.FgGreen, color.Bold)
	default:
		return color.New(color.FgYellow, color.Bold)
	}
}
