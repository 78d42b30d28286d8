// Package cli implements the datalayerd command-line interface using
// Cobra: serve, status, regions, and failover subcommands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgPath  string
	apiAddr  string
	apiToken string
)

var rootCmd = &cobra.Command{
	Use:   "datalayerd",
	Short: "datalayerd — multi-region data-layer resilience daemon",
	Long: `datalayerd keeps the relational store and cache layer available across
regions: it probes endpoint health, promotes standby regions when the
primary fails, and routes requests to the region that should serve them.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "datalayer.toml", "Path to the TOML configuration file")
	rootCmd.PersistentFlags().StringVar(&apiAddr, "addr", "http://127.0.0.1:7410", "Address of a running datalayerd instance")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", os.Getenv("DATALAYER_ADMIN_TOKEN"), "Admin bearer token for operator commands")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
