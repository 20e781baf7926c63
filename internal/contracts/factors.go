package contracts

import (
	"fmt"
	"strings"
)

// FactorCategory groups factors by data domain.
type FactorCategory string

const (
	CategoryMarket      FactorCategory = "MARKET"
	CategoryGeo         FactorCategory = "GEO"
	CategoryFundamental FactorCategory = "FUNDAMENTAL"
	CategorySentiment   FactorCategory = "SENTIMENT"
)

// FactorSource records where a definition came from.
type FactorSource string

const (
	SourceTemplate  FactorSource = "TEMPLATE"
	SourceGenerated FactorSource = "GENERATED"
)

// FactorClass tags a factor for regime-adaptive weighting. Carried
// explicitly on the definition rather than inferred from the name at
// fusion time; ClassifyName keeps the legacy naming convention working
// for definitions that never set a class.
type FactorClass string

const (
	ClassMomentum   FactorClass = "momentum"
	ClassVolatility FactorClass = "volatility"
	ClassNeutral    FactorClass = "neutral"
)

// FactorKind identifies a built-in transform in the factor library.
type FactorKind string

const (
	KindMomentum      FactorKind = "momentum"
	KindVolatility    FactorKind = "volatility"
	KindRSI           FactorKind = "rsi"
	KindLiquidity     FactorKind = "liquidity_pressure"
	KindBasisMomentum FactorKind = "basis_momentum"
	KindExternal      FactorKind = "external_signal"
	KindGDD           FactorKind = "gdd_accumulation"
)

// FactorDefinition is a named transform plus parameters. ID is unique
// within a session.
type FactorDefinition struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Category FactorCategory `json:"category"`
	Source   FactorSource   `json:"source"`
	Class    FactorClass    `json:"class,omitempty"`
	Kind     FactorKind     `json:"kind"`
	Window   int            `json:"window,omitempty"`
}

// EffectiveClass returns the explicit class tag, falling back to the
// name-substring convention ("mom"/"rsi" momentum, "vol" volatility)
// that the factor library's built-in names respect.
func (d FactorDefinition) EffectiveClass() FactorClass {
	if d.Class != "" {
		return d.Class
	}
	return ClassifyName(d.Name)
}

// ClassifyName maps a factor name to its regime class by substring.
func ClassifyName(name string) FactorClass {
	lower := strings.ToLower(name)
	if strings.Contains(lower, "mom") || strings.Contains(lower, "rsi") {
		return ClassMomentum
	}
	if strings.Contains(lower, "vol") {
		return ClassVolatility
	}
	return ClassNeutral
}

// ContentKey is a content-addressed identity for memoization: two
// definitions with the same key compute the same series over the same
// inputs.
func (d FactorDefinition) ContentKey() string {
	return fmt.Sprintf("%s|w=%d", d.Kind, d.Window)
}

// QuantileBucket is one equal-size chunk of factor-sorted observations.
type QuantileBucket struct {
	Label         string  `json:"label"` // Q1..Qn, ascending factor value
	MeanReturnPct float64 `json:"mean_return_pct"`
	Count         int     `json:"count"`
}

// QualityMetrics evaluates one factor series against forward returns.
// IC and Autocorrelation are in [-1, 1]; Turnover = 1 - Autocorrelation.
type QualityMetrics struct {
	IC              float64          `json:"ic"`
	IR              float64          `json:"ir"`
	Autocorrelation float64          `json:"autocorrelation"`
	Turnover        float64          `json:"turnover"`
	QuantileReturns []QuantileBucket `json:"quantile_returns"`
}

// FeatureRow is one row of the engineered-feature wide table published
// back to the registry.
type FeatureRow struct {
	Date         string              `json:"date"`
	Open         float64             `json:"open"`
	High         float64             `json:"high"`
	Low          float64             `json:"low"`
	Close        float64             `json:"close"`
	Volume       float64             `json:"volume"`
	OpenInterest float64             `json:"open_interest"`
	Factors      map[string]*float64 `json:"factors"` // factor name -> value
}
