package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	version    = "dev"
	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "lockboxctl",
	Short: "lockboxctl - client controller for the lockbox",
	Long: `lockboxctl talks to a lockbox on the local network. It follows the box's
live status feed, and runs the emergency override flow: a cooling-off
countdown or a guided session, chosen by an Open Policy Agent (OPA) trigger
gate.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default to status command when no subcommand is provided
		return runStatus(cmd, args)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to configuration file")
}

// defaultConfigPath follows the XDG base directory layout.
func defaultConfigPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "lockbox", "config.yaml")
	}
	return "/etc/lockbox/config.yaml"
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
