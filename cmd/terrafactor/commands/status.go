package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantagrify/terrafactor/pkg/database"
	"github.com/quantagrify/terrafactor/pkg/redis"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and backing service health",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	fmt.Println("=== TerraFactor Status ===")
	fmt.Printf("env:                 %s\n", cfg.Env)
	fmt.Printf("symbol:              %s\n", cfg.Pipeline.Symbol)
	fmt.Printf("gap threshold mult:  %.1f\n", cfg.Pipeline.GapThresholdMult)
	fmt.Printf("regime boost:        %.1f\n", cfg.Pipeline.RegimeBoost)
	fmt.Printf("ic min samples:      %d\n", cfg.Pipeline.ICMinSamples)
	fmt.Printf("quantile buckets:    %d\n", cfg.Pipeline.QuantileBuckets)

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	if cfg.Database.URL == "" {
		fmt.Println("database:            not configured")
	} else if db, err := database.New(cfg); err != nil {
		fmt.Printf("database:            unreachable (%v)\n", err)
	} else {
		defer db.Close()
		if err := db.Ping(ctx); err != nil {
			fmt.Printf("database:            ping failed (%v)\n", err)
		} else {
			fmt.Println("database:            ok")
		}
	}

	if !cfg.Redis.Enabled {
		fmt.Println("redis:               disabled")
	} else if rc, err := redis.New(cfg); err != nil {
		fmt.Printf("redis:               unreachable (%v)\n", err)
	} else {
		defer rc.Close()
		fmt.Println("redis:               ok")
	}

	return nil
}
