package contracts

// CorrelationMatrix holds pairwise Pearson correlations across the
// active factors. Symmetric, diagonal 1, computed only over positions
// where both factors are non-null.
type CorrelationMatrix struct {
	FactorIDs []string    `json:"factor_ids"`
	Values    [][]float64 `json:"values"`
}

// At returns the correlation between factors i and j.
func (m *CorrelationMatrix) At(i, j int) float64 {
	return m.Values[i][j]
}

// CompositePoint is one bar of the fused output. Score is nil only
// when zero active factors contributed that row.
type CompositePoint struct {
	Date           string   `json:"date"`
	Score          *float64 `json:"score"` // bounded to (-1, 1)
	Strength       float64  `json:"strength"`
	Price          float64  `json:"price"`
	Open           float64  `json:"open"`
	High           float64  `json:"high"`
	Low            float64  `json:"low"`
	Close          float64  `json:"close"`
	Volume         float64  `json:"volume"`
	OpenInterest   float64  `json:"open_interest"`
	RegimeAdjusted bool     `json:"regime_adjusted"`
}

// CompositeResult is the composite-signal package published back to
// the registry: per-bar scores, the effective weight vector, and
// fusion-level performance proxies.
type CompositeResult struct {
	Points         []CompositePoint   `json:"points"`
	Weights        map[string]float64 `json:"weights"` // factor id -> effective weight
	Correlation    *CorrelationMatrix `json:"correlation,omitempty"`
	IC             float64            `json:"ic"`
	Sharpe         float64            `json:"sharpe"`   // heuristic proxy, not a backtest
	WinRate        float64            `json:"win_rate"` // 0.5 + IC*0.5
	RegimeAdjusted bool               `json:"regime_adjusted"`
}

// Scores extracts the composite score column.
func (r *CompositeResult) Scores() Series {
	out := make(Series, len(r.Points))
	for i := range r.Points {
		out[i] = r.Points[i].Score
	}
	return out
}
