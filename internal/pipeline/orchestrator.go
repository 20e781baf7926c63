package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/quantagrify/terrafactor/internal/adjust"
	"github.com/quantagrify/terrafactor/internal/composite"
	"github.com/quantagrify/terrafactor/internal/contracts"
	"github.com/quantagrify/terrafactor/internal/evaluate"
	"github.com/quantagrify/terrafactor/internal/factors"
	"github.com/quantagrify/terrafactor/internal/fusion"
	"github.com/quantagrify/terrafactor/internal/registry"
	"github.com/quantagrify/terrafactor/pkg/config"
	"github.com/quantagrify/terrafactor/pkg/logger"
)

// ErrNoMasterData is returned when a run is requested before any
// master price series has been registered.
var ErrNoMasterData = errors.New("pipeline: no master price series registered")

// Stages records which pipeline stages actually recomputed during one
// run. A run against unchanged session state recomputes nothing and
// returns the cached result.
type Stages struct {
	Align     bool `json:"align"`
	Factors   bool `json:"factors"`
	Composite bool `json:"composite"`
}

// Result is the full output of one pipeline run.
type Result struct {
	Symbol     string                              `json:"symbol"`
	Table      *contracts.AlignedTable             `json:"table"`
	Adjustment adjust.Result                       `json:"adjustment"`
	Features   []contracts.FeatureRow              `json:"features"`
	Quality    map[string]contracts.QualityMetrics `json:"quality"` // factor id -> metrics
	Composite  *contracts.CompositeResult          `json:"composite"`
	Stages     Stages                              `json:"stages"`
	Elapsed    time.Duration                       `json:"elapsed"`
}

// Orchestrator drives the adjust -> align -> factors -> evaluate ->
// fuse chain over one session. Stage outputs are cached and keyed by
// the session's version counters, so mutating only the weights reruns
// only the fusion stage, and an untouched session reruns nothing.
//
// Run calls are serialized internally; the API layer and the scheduler
// share one instance per session.
// SSOT: stage sequencing lives here and nowhere else
type Orchestrator struct {
	mu        sync.Mutex
	session   *registry.Session
	adjuster  *adjust.Adjuster
	engine    *fusion.Engine
	library   *factors.Library
	evaluator *evaluate.Evaluator
	fuser     *composite.Fuser
	logger    *logger.Logger

	minSamples int

	// Stage cache. alignEpoch feeds the factor memo cache as the
	// aligned-snapshot version.
	lastMaster  uint64
	lastLayers  uint64
	lastFactors uint64
	lastWeights uint64
	alignEpoch  uint64
	primed      bool

	cachedAdj       adjust.Result
	cachedTable     *contracts.AlignedTable
	cachedSeries    map[string]contracts.Series
	cachedFeatures  []contracts.FeatureRow
	cachedQuality   map[string]contracts.QualityMetrics
	cachedComposite *contracts.CompositeResult
}

// New wires an orchestrator from config-tuned stage components.
func New(session *registry.Session, cfg *config.Config, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		session:    session,
		adjuster:   adjust.New(cfg.Pipeline.GapThresholdMult, log),
		engine:     fusion.New(log),
		library:    factors.New(log),
		evaluator:  evaluate.New(cfg.Pipeline.ICMinSamples, cfg.Pipeline.QuantileBuckets, log),
		fuser:      composite.New(cfg.Pipeline.RegimeBoost, log),
		logger:     log,
		minSamples: cfg.Pipeline.ICMinSamples,
	}
}

// Session exposes the underlying registry session.
func (o *Orchestrator) Session() *registry.Session {
	return o.session
}

// CacheStats reports the factor memo cache counters.
func (o *Orchestrator) CacheStats() (hits, misses uint64) {
	return o.library.CacheStats()
}

// Run executes the pipeline, recomputing only the stages whose inputs
// changed since the previous run.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	start := time.Now()

	bars, _ := o.session.MasterBars()
	if len(bars) == 0 {
		return nil, fmt.Errorf("run for %s: %w", o.session.Symbol(), ErrNoMasterData)
	}

	masterV, layersV, factorsV, weightsV := o.session.Versions()

	result := &Result{
		Symbol:  o.session.Symbol(),
		Quality: make(map[string]contracts.QualityMetrics),
	}

	// Stage 1+2: roll adjustment and temporal alignment. One stage from
	// the cache's point of view; the aligned table embeds the adjusted
	// backbone.
	alignDirty := !o.primed || masterV != o.lastMaster || layersV != o.lastLayers
	if alignDirty {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("run for %s: %w", o.session.Symbol(), err)
		}
		layers, _ := o.session.Layers()
		o.cachedAdj = o.adjuster.Apply(bars, o.session.AdjustMethod())
		o.cachedTable = o.engine.Align(bars, o.cachedAdj, layers, o.session.ActiveColumn())
		o.alignEpoch++
		result.Stages.Align = true
	}
	result.Adjustment = o.cachedAdj
	result.Table = o.cachedTable

	// Stage 3+4: factor computation and quality evaluation. The factor
	// library memoizes per definition content key and align epoch, so a
	// roster change recomputes only the added definitions.
	defs, _ := o.session.Factors()
	factorsDirty := alignDirty || factorsV != o.lastFactors
	if factorsDirty {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("run for %s: %w", o.session.Symbol(), err)
		}
		o.cachedSeries = make(map[string]contracts.Series, len(defs))
		o.cachedQuality = make(map[string]contracts.QualityMetrics, len(defs))
		forward := evaluate.ForwardReturns(o.cachedTable.AdjustedCloses())
		for _, def := range defs {
			series := o.library.Compute(def, o.cachedTable, o.alignEpoch)
			o.cachedSeries[def.ID] = series
			o.cachedQuality[def.ID] = o.evaluator.Evaluate(series, forward)
		}
		o.cachedFeatures = buildFeatureRows(o.cachedTable, defs, o.cachedSeries)
		o.session.PublishFeatures(o.cachedFeatures)
		result.Stages.Factors = true
	}
	result.Features = o.cachedFeatures
	result.Quality = o.cachedQuality

	// Stage 5: multi-factor fusion.
	compositeDirty := factorsDirty || weightsV != o.lastWeights
	if compositeDirty {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("run for %s: %w", o.session.Symbol(), err)
		}
		weights, _ := o.session.Weights()
		o.cachedComposite = o.fuser.Fuse(composite.Input{
			Table:       o.cachedTable,
			Definitions: defs,
			Series:      o.cachedSeries,
			Weights:     weights,
			Regime:      o.session.Regime(),
			Adaptive:    o.session.Adaptive(),
			MinSamples:  o.minSamples,
		})
		o.session.PublishComposite(o.cachedComposite)
		result.Stages.Composite = true
	}
	result.Composite = o.cachedComposite

	o.lastMaster = masterV
	o.lastLayers = layersV
	o.lastFactors = factorsV
	o.lastWeights = weightsV
	o.primed = true

	result.Elapsed = time.Since(start)
	o.logger.WithFields(map[string]interface{}{
		"symbol":     result.Symbol,
		"rows":       len(result.Table.Rows),
		"factors":    len(defs),
		"align":      result.Stages.Align,
		"recomputed": result.Stages.Factors,
		"fused":      result.Stages.Composite,
		"elapsed_ms": result.Elapsed.Milliseconds(),
	}).Info("Pipeline run complete")

	return result, nil
}

// buildFeatureRows widens the aligned table with one column per factor,
// keyed by factor name.
func buildFeatureRows(table *contracts.AlignedTable, defs []contracts.FactorDefinition, series map[string]contracts.Series) []contracts.FeatureRow {
	rows := make([]contracts.FeatureRow, len(table.Rows))
	for i, row := range table.Rows {
		fr := contracts.FeatureRow{
			Date:         row.Date,
			Open:         row.Open,
			High:         row.High,
			Low:          row.Low,
			Close:        row.Close,
			Volume:       row.Volume,
			OpenInterest: row.OpenInterest,
			Factors:      make(map[string]*float64, len(defs)),
		}
		for _, def := range defs {
			s := series[def.ID]
			if i < len(s) {
				fr.Factors[def.Name] = s[i]
			} else {
				fr.Factors[def.Name] = nil
			}
		}
		rows[i] = fr
	}
	return rows
}
