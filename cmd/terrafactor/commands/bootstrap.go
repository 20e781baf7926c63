package commands

import (
	"github.com/quantagrify/terrafactor/internal/contracts"
	"github.com/quantagrify/terrafactor/internal/pipeline"
	"github.com/quantagrify/terrafactor/internal/registry"
	"github.com/quantagrify/terrafactor/pkg/config"
	"github.com/quantagrify/terrafactor/pkg/logger"
)

// templateFactors is the default roster seeded into every new session.
// Research sessions add generated factors on top via the API.
var templateFactors = []contracts.FactorDefinition{
	{
		ID:       "mom_20",
		Name:     "momentum_20d",
		Category: contracts.CategoryMarket,
		Source:   contracts.SourceTemplate,
		Class:    contracts.ClassMomentum,
		Kind:     contracts.KindMomentum,
		Window:   20,
	},
	{
		ID:       "vol_20",
		Name:     "volatility_20d",
		Category: contracts.CategoryMarket,
		Source:   contracts.SourceTemplate,
		Class:    contracts.ClassVolatility,
		Kind:     contracts.KindVolatility,
		Window:   20,
	},
	{
		ID:       "rsi_14",
		Name:     "rsi_14d",
		Category: contracts.CategoryMarket,
		Source:   contracts.SourceTemplate,
		Class:    contracts.ClassMomentum,
		Kind:     contracts.KindRSI,
		Window:   14,
	},
	{
		ID:       "liq",
		Name:     "liquidity_pressure",
		Category: contracts.CategoryMarket,
		Source:   contracts.SourceTemplate,
		Class:    contracts.ClassNeutral,
		Kind:     contracts.KindLiquidity,
	},
	{
		ID:       "basis_5",
		Name:     "basis_momentum_5d",
		Category: contracts.CategoryFundamental,
		Source:   contracts.SourceTemplate,
		Class:    contracts.ClassNeutral,
		Kind:     contracts.KindBasisMomentum,
		Window:   5,
	},
}

// buildEngine creates a session seeded with the template roster and its
// orchestrator.
func buildEngine(cfg *config.Config, log *logger.Logger) (*registry.Session, *pipeline.Orchestrator) {
	sym := cfg.Pipeline.Symbol
	if symbol != "" {
		sym = symbol
	}

	session := registry.NewSession(sym, log)
	for _, def := range templateFactors {
		// Seeding cannot collide on a fresh session.
		_ = session.AddFactor(def)
	}

	return session, pipeline.New(session, cfg, log)
}
