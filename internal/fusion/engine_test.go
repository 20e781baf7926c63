package fusion

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantagrify/terrafactor/internal/adjust"
	"github.com/quantagrify/terrafactor/internal/contracts"
	"github.com/quantagrify/terrafactor/pkg/logger"
)

func makeBars(n int) []contracts.PriceBar {
	bars := make([]contracts.PriceBar, n)
	for i := 0; i < n; i++ {
		bars[i] = contracts.PriceBar{
			Date:         fmt.Sprintf("2024-03-%02d", i+1),
			Open:         100,
			High:         101,
			Low:          99,
			Close:        100,
			Volume:       1000,
			OpenInterest: 5000,
		}
	}
	return bars
}

func applyNone(t *testing.T, bars []contracts.PriceBar) adjust.Result {
	t.Helper()
	return adjust.New(4.0, logger.NewNop()).Apply(bars, adjust.MethodNone)
}

func TestEngine_ForwardFillCarriesSparseObservations(t *testing.T) {
	e := New(logger.NewNop())
	bars := makeBars(5)

	satellite := &contracts.Layer{
		Name: "modis",
		Kind: contracts.LayerSatellite,
		Points: []contracts.ObservationPoint{
			{Date: "2024-03-02", Fields: map[string]*float64{"ndvi": contracts.Float(0.6)}},
			{Date: "2024-03-04", Fields: map[string]*float64{"ndvi": contracts.Float(0.7)}},
		},
	}

	table := e.Align(bars, applyNone(t, bars), []*contracts.Layer{satellite}, "modis_ndvi")
	require.Len(t, table.Rows, 5)

	ndvi := table.Column("modis_ndvi")
	assert.Nil(t, ndvi[0], "no history before first observation")
	require.NotNil(t, ndvi[1])
	assert.Equal(t, 0.6, *ndvi[1])
	require.NotNil(t, ndvi[2], "carried forward")
	assert.Equal(t, 0.6, *ndvi[2])
	require.NotNil(t, ndvi[3])
	assert.Equal(t, 0.7, *ndvi[3])
	require.NotNil(t, ndvi[4])
	assert.Equal(t, 0.7, *ndvi[4])

	// Active column projects into LayerValue.
	assert.Equal(t, ndvi, table.LayerValues())
	assert.Equal(t, 1, table.Metrics.FusedCount)
}

func TestEngine_DirectJoinRequiresExactDate(t *testing.T) {
	e := New(logger.NewNop())
	bars := makeBars(3)

	spot := &contracts.Layer{
		Name: "dalian",
		Kind: contracts.LayerSpot,
		Points: []contracts.ObservationPoint{
			{Date: "2024-03-02", Fields: map[string]*float64{"basis": contracts.Float(12)}},
		},
	}

	table := e.Align(bars, applyNone(t, bars), []*contracts.Layer{spot}, "")

	basis := table.Column("dalian_basis")
	assert.Nil(t, basis[0])
	require.NotNil(t, basis[1])
	assert.Equal(t, 12.0, *basis[1])
	assert.Nil(t, basis[2], "spot values never carry forward")
}

func TestEngine_NonJoinableLayersSkipped(t *testing.T) {
	e := New(logger.NewNop())
	bars := makeBars(2)

	regime := &contracts.Layer{
		Name:   "policy",
		Kind:   contracts.LayerRegime,
		Regime: &contracts.RegimeState{SentimentScore: 0.8},
	}

	table := e.Align(bars, applyNone(t, bars), []*contracts.Layer{regime}, "")
	assert.Equal(t, 0, table.Metrics.FusedCount)
	assert.Empty(t, table.Rows[0].Fields)
}

func TestEngine_EmptyBars(t *testing.T) {
	e := New(logger.NewNop())

	table := e.Align(nil, adjust.Result{}, nil, "")
	assert.Empty(t, table.Rows)
	assert.Equal(t, contracts.AlignmentMetrics{}, table.Metrics)
}

func TestEngine_MetricsOnSmoothSeries(t *testing.T) {
	e := New(logger.NewNop())
	bars := makeBars(10)

	table := e.Align(bars, applyNone(t, bars), nil, "")

	m := table.Metrics
	assert.Equal(t, 0, m.GapCount)
	assert.Equal(t, 100.0, m.DataIntegrity)
	assert.Equal(t, 100.0, m.TrendContinuity, "no gaps means perfect continuity")
	assert.Equal(t, 100.0, m.VolatilitySmoothness, "flat series has zero step noise")
	assert.Equal(t, 100.0, m.HealthScore)
}

func TestEngine_MetricsDegradeWithGaps(t *testing.T) {
	e := New(logger.NewNop())

	bars := makeBars(6)
	for i := 3; i < 6; i++ {
		bars[i].Close = 150
	}
	adjusted := adjust.New(4.0, logger.NewNop()).Apply(bars, adjust.MethodNone)
	require.Greater(t, adjusted.GapCount, 0)

	table := e.Align(bars, adjusted, nil, "")

	assert.Equal(t, adjusted.GapCount, table.Metrics.GapCount)
	assert.Less(t, table.Metrics.TrendContinuity, 100.0)
	assert.Less(t, table.Metrics.HealthScore, 100.0)
}

func TestEngine_RowPerBarInvariant(t *testing.T) {
	e := New(logger.NewNop())
	bars := makeBars(7)

	weather := &contracts.Layer{
		Name: "iowa",
		Kind: contracts.LayerWeather,
		Points: []contracts.ObservationPoint{
			{Date: "2024-03-01", Fields: map[string]*float64{"precip": contracts.Float(2)}},
			{Date: "2024-03-05", Fields: map[string]*float64{"precip": contracts.Float(8)}},
		},
	}

	table := e.Align(bars, applyNone(t, bars), []*contracts.Layer{weather}, "")
	require.Len(t, table.Rows, len(bars))
	for i, row := range table.Rows {
		assert.Equal(t, bars[i].Date, row.Date)
	}
}
