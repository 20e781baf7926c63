package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantagrify/terrafactor/internal/external/collector"
	"github.com/quantagrify/terrafactor/internal/external/jqdata"
	"github.com/quantagrify/terrafactor/internal/registry"
	"github.com/quantagrify/terrafactor/internal/store"
	"github.com/quantagrify/terrafactor/pkg/database"
	"github.com/quantagrify/terrafactor/pkg/httputil"
	"github.com/quantagrify/terrafactor/pkg/logger"
	"github.com/quantagrify/terrafactor/pkg/redis"
)

// fetchCmd represents the fetch command
var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch daily bars and external layers",
	Long: `Fetches continuous-contract daily bars from the price gateway
and upserts them into the bar store, then collects the configured
external layers (weather, crop condition, spot quotes) to validate
the sources and warm the response cache. Requires DATABASE_URL.

Example:
  go run ./cmd/terrafactor fetch --from 2024-01-01
  go run ./cmd/terrafactor fetch --symbol A9999.XDCE --from 2023-01-01 --to 2024-12-31`,
	RunE: runFetch,
}

var (
	fetchFrom string
	fetchTo   string
)

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().StringVar(&fetchFrom, "from", "", "start date YYYY-MM-DD (required)")
	fetchCmd.Flags().StringVar(&fetchTo, "to", "", "end date YYYY-MM-DD (default today)")
	fetchCmd.MarkFlagRequired("from")
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("fetch requires DATABASE_URL")
	}

	log := logger.New(cfg)

	sym := cfg.Pipeline.Symbol
	if symbol != "" {
		sym = symbol
	}
	to := fetchTo
	if to == "" {
		to = time.Now().UTC().Format("2006-01-02")
	}

	db, err := database.New(cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	httpClient := httputil.New(log).WithRateLimit(2, 2)
	priceClient := jqdata.NewClient(cfg, httpClient, log)
	barRepo := store.NewBarRepository(db.Pool)

	bars, err := priceClient.FetchBars(cmd.Context(), sym, fetchFrom, to)
	if err != nil {
		return fmt.Errorf("fetch bars: %w", err)
	}

	if err := barRepo.SaveBatch(cmd.Context(), sym, bars); err != nil {
		return fmt.Errorf("save bars: %w", err)
	}
	fmt.Printf("Saved %d bars for %s (%s .. %s)\n", len(bars), sym, fetchFrom, to)

	// Layer collection validates the sources and warms the response
	// cache; the layers themselves are rebuilt per session.
	rc, err := redis.New(cfg)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer rc.Close()

	layerCollector := collector.New(cfg, httpClient, redis.NewCache(rc, "terrafactor"), log)
	scratch := registry.NewSession(sym, log)
	layers := layerCollector.Collect(cmd.Context(), scratch, fetchFrom, to)
	fmt.Printf("Collected %d external layers\n", layers)
	return nil
}
