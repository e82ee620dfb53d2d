package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/lockbox/internal/config"
	"github.com/spf13/cobra"
)

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Unlock the box when its timer allows it",
	Long:  `Send a plain unlock. The device only accepts it when the lock period is over.`,
	Args:  cobra.NoArgs,
	RunE:  runUnlock,
}

func init() {
	rootCmd.AddCommand(unlockCmd)
}

func runUnlock(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	client := newDeviceClient(cfg, quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	message, err := client.Unlock(ctx)
	if err != nil {
		color.New(color.FgRed, color.Bold).Println("Unlock refused")
		return err
	}

	color.New(color.FgGreen, color.Bold).Println("Unlocked")
	if message != "" {
		fmt.Println(message)
	}
	return nil
}
