package commands

import (
	"github.com/spf13/cobra"

	"github.com/quantagrify/terrafactor/pkg/config"
)

var (
	// Global flags
	symbol  string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "terrafactor",
	Short: "Commodity futures factor research engine",
	Long: `TerraFactor Unified CLI

Quantitative research pipeline for agricultural futures:
roll adjustment, temporal fusion, factor library, factor
evaluation and regime-adaptive multi-factor composites.

Usage:
  go run ./cmd/terrafactor [command]

Examples:
  go run ./cmd/terrafactor api
  go run ./cmd/terrafactor run --symbol A9999.XDCE
  go run ./cmd/terrafactor fetch --from 2024-01-01
  go run ./cmd/terrafactor status`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&symbol, "symbol", "", "continuous contract symbol (default from config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// loadConfig loads configuration and applies global CLI overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}
