package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantagrify/terrafactor/internal/api"
	"github.com/quantagrify/terrafactor/internal/api/handlers"
	"github.com/quantagrify/terrafactor/internal/external/collector"
	"github.com/quantagrify/terrafactor/internal/external/jqdata"
	"github.com/quantagrify/terrafactor/internal/scheduler"
	"github.com/quantagrify/terrafactor/internal/scheduler/jobs"
	"github.com/quantagrify/terrafactor/internal/store"
	"github.com/quantagrify/terrafactor/pkg/database"
	"github.com/quantagrify/terrafactor/pkg/httputil"
	"github.com/quantagrify/terrafactor/pkg/logger"
	"github.com/quantagrify/terrafactor/pkg/redis"
)

// apiCmd represents the api command
var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the research API server",
	Long: `Starts the REST API server plus the daily recompute scheduler.

Endpoints:
  GET  /health                     - Health check
  GET  /ws                         - Run-event websocket stream
  POST /api/pipeline/run           - Execute the pipeline
  GET  /api/pipeline/composite     - Composite signal
  GET  /api/pipeline/features      - Engineered feature table
  GET  /api/pipeline/quality       - Per-factor quality metrics
  PUT  /api/pipeline/adjust        - Roll-adjustment policy
  PUT  /api/pipeline/adaptive      - Regime-adaptive weighting toggle
  GET  /api/layers                 - Registered layers
  POST /api/layers                 - Register a layer
  PUT  /api/layers/{name}/activate - Select the active layer
  GET  /api/factors                - Factor roster
  POST /api/factors                - Register a factor
  GET  /api/jobs                   - Scheduled jobs with run history
  POST /api/jobs/{name}/run        - Trigger a job immediately

Example:
  go run ./cmd/terrafactor api
  go run ./cmd/terrafactor api --port 8090`,
	RunE: runAPIServer,
}

var apiPort string

func init() {
	rootCmd.AddCommand(apiCmd)

	apiCmd.Flags().StringVar(&apiPort, "port", "", "API server port (default from config)")
}

func runAPIServer(cmd *cobra.Command, args []string) error {
	fmt.Println("=== TerraFactor API Server ===")

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if apiPort != "" {
		cfg.Port = apiPort
	}

	log := logger.New(cfg)

	log.WithFields(map[string]interface{}{
		"port":   cfg.Port,
		"env":    cfg.Env,
		"symbol": cfg.Pipeline.Symbol,
	}).Info("Initializing API server")

	// Database is optional: bars load from the gateway when absent.
	var barRepo *store.BarRepository
	if cfg.Database.URL != "" {
		db, err := database.New(cfg)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()
		barRepo = store.NewBarRepository(db.Pool)
		log.Info("Connected to database")
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

	// Warm the session from storage when bars are already ingested.
	to := time.Now().UTC().Format("2006-01-02")
	from := time.Now().UTC().AddDate(-2, 0, 0).Format("2006-01-02")
	if barRepo != nil {
		if bars, err := barRepo.GetBySymbolAndRange(cmd.Context(), session.Symbol(), from, to); err == nil && len(bars) > 0 {
			if err := session.SetMasterBars(bars); err != nil {
				log.WithError(err).Warn("Stored bars failed validation")
			}
		}
	}
	layerCollector.Collect(cmd.Context(), session, from, to)

	hub := api.NewHub(log)
	broadcaster := &api.RunBroadcaster{Hub: hub}

	sched := scheduler.New(log)
	if err := sched.AddJob(jobs.NewRecomputeJob(orchestrator, priceClient, barRepo, layerCollector, broadcaster, log)); err != nil {
		return fmt.Errorf("schedule recompute: %w", err)
	}

	pipelineHandler := handlers.NewPipelineHandler(orchestrator, broadcaster, log)
	layersHandler := handlers.NewLayersHandler(session, log)
	jobsHandler := handlers.NewJobsHandler(sched, log)

	router := api.NewRouter(pipelineHandler, layersHandler, jobsHandler, hub, log)
	server := api.New(cfg, log, router)

	sched.Start()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		sched.Stop()
		return err
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("Shutdown signal received")
	}

	sched.Stop()
	hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
