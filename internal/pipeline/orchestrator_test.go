package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantagrify/terrafactor/internal/adjust"
	"github.com/quantagrify/terrafactor/internal/contracts"
	"github.com/quantagrify/terrafactor/internal/registry"
	"github.com/quantagrify/terrafactor/pkg/config"
	"github.com/quantagrify/terrafactor/pkg/logger"
)

func testConfig() *config.Config {
	return &config.Config{
		Pipeline: config.PipelineConfig{
			Symbol:           "A9999.XDCE",
			GapThresholdMult: 4.0,
			RegimeBoost:      1.5,
			ICMinSamples:     3,
			QuantileBuckets:  5,
		},
	}
}

func trendingBars(n int) []contracts.PriceBar {
	bars := make([]contracts.PriceBar, n)
	price := 100.0
	for i := 0; i < n; i++ {
		if i%3 == 0 {
			price += 2
		} else {
			price -= 0.5
		}
		bars[i] = contracts.PriceBar{
			Date:         fmt.Sprintf("2024-01-%02d", i+1),
			Open:         price,
			High:         price + 1,
			Low:          price - 1,
			Close:        price,
			Volume:       1000,
			OpenInterest: 5000,
		}
	}
	return bars
}

func newTestOrchestrator(t *testing.T) (*registry.Session, *Orchestrator) {
	t.Helper()
	session := registry.NewSession("A9999.XDCE", logger.NewNop())
	require.NoError(t, session.AddFactor(contracts.FactorDefinition{
		ID: "mom_2", Name: "momentum_2d", Class: contracts.ClassMomentum,
		Kind: contracts.KindMomentum, Window: 2,
	}))
	return session, New(session, testConfig(), logger.NewNop())
}

func TestOrchestrator_RunWithoutBars(t *testing.T) {
	_, orch := newTestOrchestrator(t)

	_, err := orch.Run(context.Background())
	assert.True(t, errors.Is(err, ErrNoMasterData))
}

func TestOrchestrator_EndToEnd(t *testing.T) {
	session, orch := newTestOrchestrator(t)
	require.NoError(t, session.SetMasterBars(trendingBars(20)))
	session.SetAdjustMethod(adjust.MethodFront)

	result, err := orch.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, result.Table.Rows, 20)
	assert.True(t, result.Stages.Align)
	assert.True(t, result.Stages.Factors)
	assert.True(t, result.Stages.Composite)

	require.Contains(t, result.Quality, "mom_2")
	require.NotNil(t, result.Composite)
	assert.Len(t, result.Composite.Points, 20)
	assert.Len(t, result.Features, 20)

	// Feature rows carry the factor column by name.
	_, ok := result.Features[5].Factors["momentum_2d"]
	assert.True(t, ok)

	// Outputs published back to the session.
	assert.NotNil(t, session.Composite())
	assert.Len(t, session.Features(), 20)
}

func TestOrchestrator_UnchangedSessionRecomputesNothing(t *testing.T) {
	session, orch := newTestOrchestrator(t)
	require.NoError(t, session.SetMasterBars(trendingBars(20)))

	_, err := orch.Run(context.Background())
	require.NoError(t, err)

	result, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Stages.Align)
	assert.False(t, result.Stages.Factors)
	assert.False(t, result.Stages.Composite)
	assert.NotNil(t, result.Composite, "cached output still returned")
}

func TestOrchestrator_WeightChangeRerunsFusionOnly(t *testing.T) {
	session, orch := newTestOrchestrator(t)
	require.NoError(t, session.SetMasterBars(trendingBars(20)))

	_, err := orch.Run(context.Background())
	require.NoError(t, err)

	require.NoError(t, session.SetWeight("mom_2", 0.5))

	result, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Stages.Align)
	assert.False(t, result.Stages.Factors)
	assert.True(t, result.Stages.Composite)
}

func TestOrchestrator_FactorChangeSkipsAlign(t *testing.T) {
	session, orch := newTestOrchestrator(t)
	require.NoError(t, session.SetMasterBars(trendingBars(20)))

	_, err := orch.Run(context.Background())
	require.NoError(t, err)

	require.NoError(t, session.AddFactor(contracts.FactorDefinition{
		ID: "rsi_5", Name: "rsi_5d", Kind: contracts.KindRSI, Window: 5,
	}))

	result, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Stages.Align)
	assert.True(t, result.Stages.Factors)
	assert.True(t, result.Stages.Composite)

	// The untouched factor comes from the memo cache.
	hits, _ := orch.CacheStats()
	assert.GreaterOrEqual(t, hits, uint64(1))
}

func TestOrchestrator_MasterChangeRerunsEverything(t *testing.T) {
	session, orch := newTestOrchestrator(t)
	require.NoError(t, session.SetMasterBars(trendingBars(20)))

	_, err := orch.Run(context.Background())
	require.NoError(t, err)

	require.NoError(t, session.SetMasterBars(trendingBars(25)))

	result, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Stages.Align)
	assert.True(t, result.Stages.Factors)
	assert.True(t, result.Stages.Composite)
	assert.Len(t, result.Table.Rows, 25)
}

func TestOrchestrator_LayerJoinFeedsExternalFactor(t *testing.T) {
	session, orch := newTestOrchestrator(t)
	require.NoError(t, session.SetMasterBars(trendingBars(10)))

	require.NoError(t, session.RegisterLayer(&contracts.Layer{
		Name: "modis",
		Kind: contracts.LayerSatellite,
		Points: []contracts.ObservationPoint{
			{Date: "2024-01-03", Fields: map[string]*float64{"ndvi": contracts.Float(0.55)}},
		},
	}))
	require.NoError(t, session.SetActiveLayer("modis", ""))
	require.NoError(t, session.AddFactor(contracts.FactorDefinition{
		ID: "ext", Name: "ndvi_signal", Kind: contracts.KindExternal,
	}))

	result, err := orch.Run(context.Background())
	require.NoError(t, err)

	ext := result.Features[5].Factors["ndvi_signal"]
	require.NotNil(t, ext)
	assert.Equal(t, 0.55, *ext)
	assert.Nil(t, result.Features[0].Factors["ndvi_signal"], "before first observation")
}

func TestOrchestrator_CancelledContext(t *testing.T) {
	session, orch := newTestOrchestrator(t)
	require.NoError(t, session.SetMasterBars(trendingBars(10)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := orch.Run(ctx)
	assert.Error(t, err)
}
