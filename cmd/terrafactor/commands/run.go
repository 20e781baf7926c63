package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantagrify/terrafactor/internal/adjust"
	"github.com/quantagrify/terrafactor/internal/external/collector"
	"github.com/quantagrify/terrafactor/internal/external/jqdata"
	"github.com/quantagrify/terrafactor/pkg/httputil"
	"github.com/quantagrify/terrafactor/pkg/logger"
	"github.com/quantagrify/terrafactor/pkg/redis"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one pipeline run and print the summary",
	Long: `Fetches bars from the price gateway, runs the full pipeline
(adjust, align, factors, evaluate, fuse) and prints the result
summary as JSON.

Example:
  go run ./cmd/terrafactor run
  go run ./cmd/terrafactor run --symbol A9999.XDCE --method FRONT_ADJ`,
	RunE: runPipeline,
}

var (
	runMethod string
	runFrom   string
	runTo     string
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runMethod, "method", "FRONT_ADJ", "roll adjustment method (NONE|FRONT_ADJ|BACK_ADJ)")
	runCmd.Flags().StringVar(&runFrom, "from", "", "start date YYYY-MM-DD (default 500 days back)")
	runCmd.Flags().StringVar(&runTo, "to", "", "end date YYYY-MM-DD (default today)")
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg)

	method := adjust.Method(runMethod)
	switch method {
	case adjust.MethodNone, adjust.MethodFront, adjust.MethodBack:
	default:
		return fmt.Errorf("invalid method %q", runMethod)
	}

	from, to := runFrom, runTo
	if to == "" {
		to = time.Now().UTC().Format("2006-01-02")
	}
	if from == "" {
		from = time.Now().UTC().AddDate(0, 0, -500).Format("2006-01-02")
	}

	httpClient := httputil.New(log).WithRateLimit(2, 2)
	priceClient := jqdata.NewClient(cfg, httpClient, log)

	rc, err := redis.New(cfg)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer rc.Close()
	layerCollector := collector.New(cfg, httpClient, redis.NewCache(rc, "terrafactor"), log)

	session, orchestrator := buildEngine(cfg, log)
	session.SetAdjustMethod(method)

	bars, err := priceClient.FetchBars(cmd.Context(), session.Symbol(), from, to)
	if err != nil {
		return fmt.Errorf("fetch bars: %w", err)
	}
	if err := session.SetMasterBars(bars); err != nil {
		return fmt.Errorf("register bars: %w", err)
	}

	layers := layerCollector.Collect(cmd.Context(), session, from, to)

	result, err := orchestrator.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("pipeline run: %w", err)
	}

	summary := map[string]interface{}{
		"symbol":    result.Symbol,
		"rows":      len(result.Table.Rows),
		"layers":    layers,
		"gap_count": result.Adjustment.GapCount,
		"metrics":   result.Table.Metrics,
		"quality":   result.Quality,
		"elapsed":   result.Elapsed.String(),
	}
	if result.Composite != nil {
		summary["composite_ic"] = result.Composite.IC
		summary["composite_win_rate"] = result.Composite.WinRate
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
