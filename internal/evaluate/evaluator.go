package evaluate

import (
	"fmt"
	"math"
	"sort"

	"github.com/quantagrify/terrafactor/internal/contracts"
	"github.com/quantagrify/terrafactor/pkg/logger"
)

var annualization = math.Sqrt(252)

// Evaluator scores factor series against forward returns. All metrics
// degrade to neutral values (0) on sparse or degenerate inputs; the
// evaluator never errors on data shape.
// SSOT: factor quality math lives here and nowhere else
type Evaluator struct {
	minSamples int // minimum valid pairs before IC is reported
	buckets    int // quantile bucket count
	logger     *logger.Logger
}

// New creates an evaluator. minSamples is typically 10 and buckets 5
// (config.Pipeline).
func New(minSamples, buckets int, log *logger.Logger) *Evaluator {
	return &Evaluator{
		minSamples: minSamples,
		buckets:    buckets,
		logger:     log,
	}
}

// ForwardReturns builds return[i] = (price[i+1]-price[i])/price[i].
// The final element is null (no next bar), as is any element with a
// zero denominator.
func ForwardReturns(prices []float64) contracts.Series {
	out := make(contracts.Series, len(prices))
	for i := 0; i+1 < len(prices); i++ {
		if prices[i] == 0 {
			continue
		}
		out[i] = contracts.Float((prices[i+1] - prices[i]) / prices[i])
	}
	return out
}

// Evaluate computes the full quality report for one factor series.
func (e *Evaluator) Evaluate(factor contracts.Series, forwardReturns contracts.Series) contracts.QualityMetrics {
	ic := e.IC(factor, forwardReturns)
	autocorr := e.Autocorrelation(factor)

	metrics := contracts.QualityMetrics{
		IC:              ic,
		IR:              math.Abs(ic) * annualization,
		Autocorrelation: autocorr,
		Turnover:        1 - autocorr,
		QuantileReturns: e.QuantileReturns(factor, forwardReturns, e.buckets),
	}

	e.logger.WithFields(map[string]interface{}{
		"ic":       metrics.IC,
		"ir":       metrics.IR,
		"autocorr": metrics.Autocorrelation,
		"turnover": metrics.Turnover,
	}).Debug("Evaluated factor")

	return metrics
}

// IC is the Pearson correlation between factor values and forward
// returns, computed only over index pairs where both are non-null.
// Returns 0 when fewer than minSamples valid pairs exist or either
// side has zero variance.
func (e *Evaluator) IC(factor, forwardReturns contracts.Series) float64 {
	return pearson(factor, forwardReturns, e.minSamples)
}

// Autocorrelation is the IC-style correlation between the factor and
// itself lagged by one bar, over non-null pairs. Needs more than two
// valid points.
func (e *Evaluator) Autocorrelation(factor contracts.Series) float64 {
	if len(factor) < 2 {
		return 0
	}
	lagged := make(contracts.Series, len(factor))
	copy(lagged[1:], factor[:len(factor)-1])
	return pearson(factor, lagged, 3)
}

// QuantileReturns sorts valid (factor, forward return) pairs by factor
// value ascending, splits them into buckets contiguous equal-size
// chunks, and reports the mean forward return x100 per bucket labeled
// Q1..Qn. Empty buckets report 0. A well-formed factor shows
// monotonically ordered bucket returns.
func (e *Evaluator) QuantileReturns(factor, forwardReturns contracts.Series, buckets int) []contracts.QuantileBucket {
	if buckets < 1 {
		return nil
	}

	type pair struct {
		factor float64
		ret    float64
	}
	pairs := make([]pair, 0, len(factor))
	for i := 0; i < len(factor) && i < len(forwardReturns); i++ {
		if factor[i] == nil || forwardReturns[i] == nil {
			continue
		}
		pairs = append(pairs, pair{factor: *factor[i], ret: *forwardReturns[i]})
	}

	sort.SliceStable(pairs, func(a, b int) bool { return pairs[a].factor < pairs[b].factor })

	out := make([]contracts.QuantileBucket, buckets)
	n := len(pairs)
	for b := 0; b < buckets; b++ {
		// Integer chunk boundaries partition the sorted set exactly:
		// no pair dropped, none duplicated.
		start := b * n / buckets
		end := (b + 1) * n / buckets

		bucket := contracts.QuantileBucket{
			Label: fmt.Sprintf("Q%d", b+1),
			Count: end - start,
		}
		if end > start {
			var sum float64
			for _, p := range pairs[start:end] {
				sum += p.ret
			}
			bucket.MeanReturnPct = sum / float64(end-start) * 100
		}
		out[b] = bucket
	}
	return out
}

// pearson computes the correlation over non-null pairs, returning 0
// below minPairs or on zero variance in either series.
func pearson(a, b contracts.Series, minPairs int) float64 {
	var xs, ys []float64
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] == nil || b[i] == nil {
			continue
		}
		xs = append(xs, *a[i])
		ys = append(ys, *b[i])
	}

	n := len(xs)
	if n < minPairs {
		return 0
	}

	var sumX, sumY float64
	for i := 0; i < n; i++ {
		sumX += xs[i]
		sumY += ys[i]
	}
	meanX := sumX / float64(n)
	meanY := sumY / float64(n)

	var cov, varX, varY float64
	for i := 0; i < n; i++ {
		dx := xs[i] - meanX
		dy := ys[i] - meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}

	if varX == 0 || varY == 0 {
		return 0
	}
	return cov / math.Sqrt(varX*varY)
}

// Pearson exposes the null-masked correlation for the fusion stage,
// which builds its matrix with the same rule.
func Pearson(a, b contracts.Series, minPairs int) float64 {
	return pearson(a, b, minPairs)
}
