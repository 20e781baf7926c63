package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/quantagrify/terrafactor/internal/external/collector"
	"github.com/quantagrify/terrafactor/internal/external/jqdata"
	"github.com/quantagrify/terrafactor/internal/pipeline"
	"github.com/quantagrify/terrafactor/internal/store"
	"github.com/quantagrify/terrafactor/pkg/logger"
)

// lookbackDays bounds the master series length on refresh.
const lookbackDays = 500

// Notifier receives a run-complete signal after each recompute.
type Notifier interface {
	BroadcastRun(symbol string, stages pipeline.Stages)
}

// RecomputeJob refreshes the master bar series and external layers,
// then reruns the pipeline. Runs after the daily settlement window.
type RecomputeJob struct {
	orchestrator *pipeline.Orchestrator
	prices       *jqdata.Client
	bars         *store.BarRepository // nil when no database is configured
	layers       *collector.Collector // nil skips layer refresh
	notifier     Notifier
	logger       *logger.Logger
}

// NewRecomputeJob creates the daily recompute job
func NewRecomputeJob(orch *pipeline.Orchestrator, prices *jqdata.Client, bars *store.BarRepository, layers *collector.Collector, notifier Notifier, log *logger.Logger) *RecomputeJob {
	return &RecomputeJob{
		orchestrator: orch,
		prices:       prices,
		bars:         bars,
		layers:       layers,
		notifier:     notifier,
		logger:       log,
	}
}

// Name returns the job name
func (j *RecomputeJob) Name() string {
	return "daily_recompute"
}

// Schedule runs daily at 18:00, after settlement prices publish.
func (j *RecomputeJob) Schedule() string {
	return "0 0 18 * * *"
}

// Run fetches fresh bars, persists them when a store is configured,
// updates the session and reruns the pipeline.
func (j *RecomputeJob) Run(ctx context.Context) error {
	session := j.orchestrator.Session()
	symbol := session.Symbol()

	to := time.Now().UTC().Format("2006-01-02")
	from := time.Now().UTC().AddDate(0, 0, -lookbackDays).Format("2006-01-02")

	bars, err := j.prices.FetchBars(ctx, symbol, from, to)
	if err != nil {
		return fmt.Errorf("recompute fetch for %s: %w", symbol, err)
	}

	if j.bars != nil {
		if err := j.bars.SaveBatch(ctx, symbol, bars); err != nil {
			// Persistence is ingestion-side only; a failed save does
			// not block the recompute.
			j.logger.WithError(err).Warn("Bar persistence failed")
		}
	}

	if err := session.SetMasterBars(bars); err != nil {
		return fmt.Errorf("recompute register for %s: %w", symbol, err)
	}

	if j.layers != nil {
		j.layers.Collect(ctx, session, from, to)
	}

	result, err := j.orchestrator.Run(ctx)
	if err != nil {
		return fmt.Errorf("recompute run for %s: %w", symbol, err)
	}

	if j.notifier != nil {
		j.notifier.BroadcastRun(result.Symbol, result.Stages)
	}

	j.logger.WithFields(map[string]interface{}{
		"symbol": symbol,
		"bars":   len(bars),
		"rows":   len(result.Table.Rows),
	}).Info("Daily recompute complete")
	return nil
}
