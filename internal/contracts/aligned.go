package contracts

// AlignedRow is one master-index day with every registered source
// joined in. There is exactly one row per master PriceBar date.
// External columns are forward-filled or nil when the source has no
// history yet.
type AlignedRow struct {
	Date         string  `json:"date"`
	Raw          float64 `json:"raw"`
	Adjusted     float64 `json:"adjusted"`
	Open         float64 `json:"open"`
	High         float64 `json:"high"`
	Low          float64 `json:"low"`
	Close        float64 `json:"close"`
	Volume       float64 `json:"volume"`
	OpenInterest float64 `json:"open_interest"`
	Gap          float64 `json:"gap"` // signed roll jump at this bar, 0 if none

	// Fields holds every external column, keyed <layer>_<field>.
	Fields map[string]*float64 `json:"fields,omitempty"`

	// LayerValue is the active layer's field projected for downstream
	// consumers that don't know source-specific column names.
	LayerValue *float64 `json:"layer_value,omitempty"`
}

// AlignmentMetrics summarizes the quality of one alignment pass.
type AlignmentMetrics struct {
	GapCount             int     `json:"gap_count"`
	TrendContinuity      float64 `json:"trend_continuity"`
	VolatilitySmoothness float64 `json:"volatility_smoothness"`
	DataIntegrity        float64 `json:"data_integrity"`
	RolloverEfficiency   float64 `json:"rollover_efficiency"`
	HealthScore          float64 `json:"health_score"`
	FusedCount           int     `json:"fused_count"`
}

// AlignedTable is the wide output of the temporal fusion engine.
type AlignedTable struct {
	Rows    []AlignedRow     `json:"rows"`
	Metrics AlignmentMetrics `json:"metrics"`
}

// Column extracts a namespaced external column as a Series.
func (t *AlignedTable) Column(key string) Series {
	out := make(Series, len(t.Rows))
	for i := range t.Rows {
		out[i] = t.Rows[i].Fields[key]
	}
	return out
}

// LayerValues extracts the projected active-layer column.
func (t *AlignedTable) LayerValues() Series {
	out := make(Series, len(t.Rows))
	for i := range t.Rows {
		out[i] = t.Rows[i].LayerValue
	}
	return out
}

// AdjustedCloses extracts the adjusted price backbone.
func (t *AlignedTable) AdjustedCloses() []float64 {
	out := make([]float64, len(t.Rows))
	for i := range t.Rows {
		out[i] = t.Rows[i].Adjusted
	}
	return out
}
