package evaluate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantagrify/terrafactor/internal/contracts"
	"github.com/quantagrify/terrafactor/pkg/logger"
)

func series(values ...float64) contracts.Series {
	out := make(contracts.Series, len(values))
	for i, v := range values {
		out[i] = contracts.Float(v)
	}
	return out
}

func TestForwardReturns(t *testing.T) {
	returns := ForwardReturns([]float64{100, 110, 99})

	require.Len(t, returns, 3)
	require.NotNil(t, returns[0])
	assert.InDelta(t, 0.1, *returns[0], 1e-9)
	require.NotNil(t, returns[1])
	assert.InDelta(t, -0.1, *returns[1], 1e-9)
	assert.Nil(t, returns[2], "last bar has no next price")
}

func TestForwardReturns_ZeroDenominator(t *testing.T) {
	returns := ForwardReturns([]float64{0, 110})
	assert.Nil(t, returns[0])
}

func TestEvaluator_SelfICIsOne(t *testing.T) {
	e := New(3, 5, logger.NewNop())
	f := series(1, 2, 3, 4, 5, 6)

	assert.InDelta(t, 1.0, e.IC(f, f), 1e-9)
}

func TestEvaluator_ICSignFlipsWithFactor(t *testing.T) {
	e := New(3, 5, logger.NewNop())
	f := series(1, 2, 3, 4, 5, 7)
	r := series(0.1, 0.3, 0.2, 0.5, 0.4, 0.6)

	negated := make(contracts.Series, len(f))
	for i, v := range f {
		negated[i] = contracts.Float(-*v)
	}

	assert.InDelta(t, -e.IC(f, r), e.IC(negated, r), 1e-9)
}

func TestEvaluator_ConstantFactorHasZeroIC(t *testing.T) {
	e := New(3, 5, logger.NewNop())
	f := series(5, 5, 5, 5, 5, 5)
	r := series(0.1, -0.2, 0.3, -0.1, 0.2, 0.05)

	assert.Equal(t, 0.0, e.IC(f, r), "zero variance reports neutral IC")
}

func TestEvaluator_ICBelowMinSamplesIsZero(t *testing.T) {
	e := New(10, 5, logger.NewNop())
	f := series(1, 2, 3)
	r := series(0.1, 0.2, 0.3)

	assert.Equal(t, 0.0, e.IC(f, r))
}

func TestEvaluator_ICIgnoresNullPairs(t *testing.T) {
	e := New(3, 5, logger.NewNop())
	f := contracts.Series{contracts.Float(1), nil, contracts.Float(2), contracts.Float(3), contracts.Float(4)}
	r := contracts.Series{contracts.Float(1), contracts.Float(9), contracts.Float(2), nil, contracts.Float(4)}

	// Only indices 0, 2, 4 pair up, and they correlate perfectly.
	assert.InDelta(t, 1.0, e.IC(f, r), 1e-9)
}

func TestEvaluator_EvaluateDerivedMetrics(t *testing.T) {
	e := New(3, 2, logger.NewNop())
	f := series(1, 2, 3, 4, 5, 6, 7, 8)
	r := series(0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8)

	m := e.Evaluate(f, r)

	assert.InDelta(t, 1.0, m.IC, 1e-9)
	assert.InDelta(t, math.Sqrt(252), m.IR, 1e-9)
	assert.InDelta(t, 1.0, m.Autocorrelation, 1e-9, "linear ramp is perfectly persistent")
	assert.InDelta(t, 0.0, m.Turnover, 1e-9)
	require.Len(t, m.QuantileReturns, 2)
}

func TestEvaluator_QuantilePartition(t *testing.T) {
	e := New(3, 5, logger.NewNop())
	f := series(10, 9, 8, 7, 6, 5, 4, 3, 2, 1)
	r := series(1.0, 0.9, 0.8, 0.7, 0.6, 0.5, 0.4, 0.3, 0.2, 0.1)

	buckets := e.QuantileReturns(f, r, 5)
	require.Len(t, buckets, 5)

	total := 0
	for i, b := range buckets {
		assert.Equal(t, 2, b.Count, "10 pairs over 5 buckets")
		assert.Equal(t, []string{"Q1", "Q2", "Q3", "Q4", "Q5"}[i], b.Label)
		total += b.Count
	}
	assert.Equal(t, 10, total, "partition is exact")

	// Factor and return move together, so bucket means ascend.
	assert.InDelta(t, 15.0, buckets[0].MeanReturnPct, 1e-9) // mean(0.1, 0.2) x100
	assert.InDelta(t, 95.0, buckets[4].MeanReturnPct, 1e-9) // mean(0.9, 1.0) x100
	for i := 1; i < len(buckets); i++ {
		assert.Greater(t, buckets[i].MeanReturnPct, buckets[i-1].MeanReturnPct)
	}
}

func TestEvaluator_QuantileUnevenCounts(t *testing.T) {
	e := New(3, 5, logger.NewNop())
	f := series(1, 2, 3, 4, 5, 6, 7)
	r := series(0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7)

	buckets := e.QuantileReturns(f, r, 3)
	require.Len(t, buckets, 3)

	total := 0
	for _, b := range buckets {
		total += b.Count
	}
	assert.Equal(t, 7, total, "no pair dropped or duplicated")
}

func TestEvaluator_QuantileEmptyInput(t *testing.T) {
	e := New(3, 5, logger.NewNop())

	buckets := e.QuantileReturns(contracts.Series{}, contracts.Series{}, 5)
	require.Len(t, buckets, 5)
	for _, b := range buckets {
		assert.Equal(t, 0, b.Count)
		assert.Equal(t, 0.0, b.MeanReturnPct)
	}
}

func TestEvaluator_AutocorrelationSparse(t *testing.T) {
	e := New(3, 5, logger.NewNop())

	assert.Equal(t, 0.0, e.Autocorrelation(series(1)), "too short")
	assert.Equal(t, 0.0, e.Autocorrelation(series(1, 2)), "not enough lagged pairs")
}
