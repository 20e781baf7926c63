package composite

import (
	"math"
	"sort"

	"github.com/quantagrify/terrafactor/internal/contracts"
	"github.com/quantagrify/terrafactor/internal/evaluate"
	"github.com/quantagrify/terrafactor/pkg/logger"
)

var annualization = math.Sqrt(252)

// sentimentThreshold is the regime-sentiment magnitude above which the
// adaptive weighting engages.
const sentimentThreshold = 0.3

// Input bundles everything the fuser consumes for one run.
type Input struct {
	Table       *contracts.AlignedTable
	Definitions []contracts.FactorDefinition
	Series      map[string]contracts.Series // factor id -> series, table-length
	Weights     map[string]float64          // factor id -> base weight
	Regime      *contracts.RegimeState      // nil when no regime layer registered
	Adaptive    bool
	MinSamples  int // IC minimum pair count, shared with the evaluator
}

// Fuser blends factor series into one composite signal per bar.
// SSOT: fusion weighting and scoring live here and nowhere else
type Fuser struct {
	regimeBoost float64
	logger      *logger.Logger
}

// New creates a fuser. regimeBoost is the multiplier applied to
// regime-favored factor classes (typically 1.5, see
// config.Pipeline.RegimeBoost).
func New(regimeBoost float64, log *logger.Logger) *Fuser {
	return &Fuser{
		regimeBoost: regimeBoost,
		logger:      log,
	}
}

// Fuse computes effective weights, per-bar composite scores, the
// cross-factor correlation matrix, and fusion-level performance
// proxies. Rows where no factor has a value carry a nil score.
func (f *Fuser) Fuse(in Input) *contracts.CompositeResult {
	result := &contracts.CompositeResult{
		Weights: f.EffectiveWeights(in.Definitions, in.Weights, in.Regime, in.Adaptive),
	}
	result.RegimeAdjusted = in.Adaptive && in.Regime != nil &&
		math.Abs(in.Regime.SentimentScore) > sentimentThreshold

	if in.Table == nil || len(in.Table.Rows) == 0 {
		return result
	}

	result.Points = f.scorePoints(in, result.Weights, result.RegimeAdjusted)
	result.Correlation = f.CorrelationMatrix(in.Definitions, in.Series, in.MinSamples)

	// Composite quality: IC of the score column against forward returns
	// of the adjusted closes, plus derived proxies. Sharpe here is a
	// heuristic scaling of the IR, not a backtest statistic.
	forward := evaluate.ForwardReturns(in.Table.AdjustedCloses())
	result.IC = evaluate.Pearson(result.Scores(), forward, in.MinSamples)
	result.Sharpe = math.Abs(result.IC) * annualization * 2
	result.WinRate = 0.5 + result.IC*0.5

	f.logger.WithFields(map[string]interface{}{
		"factors":         len(in.Definitions),
		"points":          len(result.Points),
		"ic":              result.IC,
		"regime_adjusted": result.RegimeAdjusted,
	}).Debug("Fused composite signal")

	return result
}

// EffectiveWeights resolves the weight vector actually used for
// scoring. Without adaptation the base weights pass through as-is.
// With adaptation and a decisive regime, the favored class is boosted
// and the vector renormalized to sum 1: bullish sentiment (> +0.3)
// favors momentum-class factors, bearish (< -0.3) favors
// volatility-class ones.
func (f *Fuser) EffectiveWeights(defs []contracts.FactorDefinition, base map[string]float64, regime *contracts.RegimeState, adaptive bool) map[string]float64 {
	out := make(map[string]float64, len(defs))
	for _, def := range defs {
		out[def.ID] = base[def.ID]
	}

	if !adaptive || regime == nil {
		return out
	}

	var favored contracts.FactorClass
	switch {
	case regime.SentimentScore > sentimentThreshold:
		favored = contracts.ClassMomentum
	case regime.SentimentScore < -sentimentThreshold:
		favored = contracts.ClassVolatility
	default:
		return out
	}

	var sum float64
	for _, def := range defs {
		if def.EffectiveClass() == favored {
			out[def.ID] *= f.regimeBoost
		}
		sum += out[def.ID]
	}
	if sum > 0 {
		for id := range out {
			out[id] /= sum
		}
	}
	return out
}

// scorePoints produces one composite point per aligned row:
// score = tanh(2 * sum(w_k * v_k)) over the factors valid that row.
func (f *Fuser) scorePoints(in Input, weights map[string]float64, regimeAdjusted bool) []contracts.CompositePoint {
	points := make([]contracts.CompositePoint, len(in.Table.Rows))
	for i, row := range in.Table.Rows {
		point := contracts.CompositePoint{
			Date:           row.Date,
			Price:          row.Adjusted,
			Open:           row.Open,
			High:           row.High,
			Low:            row.Low,
			Close:          row.Close,
			Volume:         row.Volume,
			OpenInterest:   row.OpenInterest,
			RegimeAdjusted: regimeAdjusted,
		}

		var weighted float64
		var valid bool
		for _, def := range in.Definitions {
			series := in.Series[def.ID]
			if i >= len(series) || series[i] == nil {
				continue
			}
			weighted += weights[def.ID] * *series[i]
			valid = true
		}

		if valid {
			score := math.Tanh(2 * weighted)
			point.Score = contracts.Float(score)
			point.Strength = math.Abs(score) * 100
		}
		points[i] = point
	}
	return points
}

// CorrelationMatrix builds the pairwise matrix over the active factor
// series, ordered by factor ID for stable output. Diagonal entries are
// exactly 1 regardless of the series' own degeneracy.
func (f *Fuser) CorrelationMatrix(defs []contracts.FactorDefinition, series map[string]contracts.Series, minPairs int) *contracts.CorrelationMatrix {
	ids := make([]string, 0, len(defs))
	for _, def := range defs {
		ids = append(ids, def.ID)
	}
	sort.Strings(ids)

	m := &contracts.CorrelationMatrix{
		FactorIDs: ids,
		Values:    make([][]float64, len(ids)),
	}
	for i := range ids {
		m.Values[i] = make([]float64, len(ids))
		m.Values[i][i] = 1
		for j := 0; j < i; j++ {
			corr := evaluate.Pearson(series[ids[i]], series[ids[j]], minPairs)
			m.Values[i][j] = corr
			m.Values[j][i] = corr
		}
	}
	return m
}
