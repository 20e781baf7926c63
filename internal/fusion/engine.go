package fusion

import (
	"math"

	"github.com/quantagrify/terrafactor/internal/adjust"
	"github.com/quantagrify/terrafactor/internal/contracts"
	"github.com/quantagrify/terrafactor/pkg/logger"
)

// rolloverEfficiencyStub is a placeholder policy carried over from the
// research build: no independent rollover-quality signal is computed
// yet. TODO: derive from volume/open-interest crossover sharpness at
// detected roll bars.
const rolloverEfficiencyStub = 95.0

// Engine merges the adjusted price backbone with every registered
// external source onto one master date index.
// SSOT: temporal alignment happens here and nowhere else
type Engine struct {
	logger *logger.Logger
}

// New creates a fusion engine.
func New(log *logger.Logger) *Engine {
	return &Engine{logger: log}
}

// Align produces one wide row per master bar. Direct-match sources
// join by exact date; sparse sources advance a monotonic cursor per
// source and carry the last observed value forward (O(n) total, no
// re-scanning). activeLayer selects the namespaced column projected
// into LayerValue; empty means no projection.
func (e *Engine) Align(bars []contracts.PriceBar, adj adjust.Result, layers []*contracts.Layer, activeColumn string) *contracts.AlignedTable {
	table := &contracts.AlignedTable{}
	if len(bars) == 0 {
		return table
	}

	// One forward cursor and carried-value map per sparse source.
	type sourceState struct {
		layer   *contracts.Layer
		mode    contracts.JoinMode
		cursor  int
		carried map[string]*float64
		joined  bool
	}

	states := make([]*sourceState, 0, len(layers))
	for _, l := range layers {
		if l.Kind == contracts.LayerRegime || l.Kind == contracts.LayerFeatures || l.Kind == contracts.LayerComposite {
			continue // not joinable time series
		}
		states = append(states, &sourceState{
			layer:   l,
			mode:    contracts.JoinModeFor(l.Kind),
			carried: make(map[string]*float64),
		})
	}

	rows := make([]contracts.AlignedRow, len(bars))
	for i, bar := range bars {
		row := contracts.AlignedRow{
			Date:         bar.Date,
			Raw:          bar.Close,
			Adjusted:     adj.Adjusted[i],
			Open:         bar.Open,
			High:         bar.High,
			Low:          bar.Low,
			Close:        bar.Close,
			Volume:       bar.Volume,
			OpenInterest: bar.OpenInterest,
			Gap:          adj.Gaps[i],
			Fields:       make(map[string]*float64),
		}

		for _, st := range states {
			switch st.mode {
			case contracts.JoinDirect:
				// Advance past older observations, then join only on
				// an exact date match.
				for st.cursor < len(st.layer.Points) && st.layer.Points[st.cursor].Date < bar.Date {
					st.cursor++
				}
				if st.cursor < len(st.layer.Points) && st.layer.Points[st.cursor].Date == bar.Date {
					for field, v := range st.layer.Points[st.cursor].Fields {
						if v != nil {
							row.Fields[st.layer.Name+"_"+field] = v
							st.joined = true
						}
					}
				}
			case contracts.JoinForwardFill:
				// Consume every observation up to and including the
				// master date, keeping the last non-null value per
				// field; carry it until a newer observation arrives.
				for st.cursor < len(st.layer.Points) && st.layer.Points[st.cursor].Date <= bar.Date {
					for field, v := range st.layer.Points[st.cursor].Fields {
						if v != nil {
							st.carried[field] = v
						}
					}
					st.cursor++
				}
				for field, v := range st.carried {
					row.Fields[st.layer.Name+"_"+field] = v
					st.joined = true
				}
			}
		}

		if activeColumn != "" {
			row.LayerValue = row.Fields[activeColumn]
		}

		rows[i] = row
	}

	table.Rows = rows
	table.Metrics = e.computeMetrics(rows, adj)
	for _, st := range states {
		if st.joined {
			table.Metrics.FusedCount++
		}
	}

	e.logger.WithFields(map[string]interface{}{
		"rows":         len(rows),
		"sources":      len(states),
		"fused_count":  table.Metrics.FusedCount,
		"gap_count":    table.Metrics.GapCount,
		"health_score": table.Metrics.HealthScore,
	}).Debug("Aligned master table")

	return table
}

// computeMetrics derives the alignment quality summary. The reference
// price is the most recent raw close.
func (e *Engine) computeMetrics(rows []contracts.AlignedRow, adj adjust.Result) contracts.AlignmentMetrics {
	m := contracts.AlignmentMetrics{}
	if len(rows) == 0 {
		return m
	}

	m.GapCount = adj.GapCount
	m.DataIntegrity = 100
	m.RolloverEfficiency = rolloverEfficiencyStub

	refPrice := rows[len(rows)-1].Raw
	if refPrice == 0 {
		m.HealthScore = 0
		return m
	}

	var maxJump float64
	for _, g := range adj.Gaps {
		if a := math.Abs(g); a > maxJump {
			maxJump = a
		}
	}
	m.TrendContinuity = math.Max(0, 100-maxJump/refPrice*1000)

	var absStepSum float64
	for i := 1; i < len(rows); i++ {
		absStepSum += math.Abs(rows[i].Adjusted - rows[i-1].Adjusted)
	}
	meanAbsStep := 0.0
	if len(rows) > 1 {
		meanAbsStep = absStepSum / float64(len(rows)-1)
	}
	m.VolatilitySmoothness = math.Max(0, 100-meanAbsStep/refPrice*5000)

	m.HealthScore = (m.TrendContinuity + m.VolatilitySmoothness) / 2
	return m
}
