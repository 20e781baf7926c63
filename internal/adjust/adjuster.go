package adjust

import (
	"math"

	"github.com/quantagrify/terrafactor/internal/contracts"
	"github.com/quantagrify/terrafactor/pkg/logger"
)

// Method selects the contract-roll adjustment policy.
type Method string

const (
	// MethodNone leaves gaps visible: adjusted == raw.
	MethodNone Method = "NONE"
	// MethodFront anchors the past: early history unchanged, recent
	// history shifted down by the accumulated roll offset.
	MethodFront Method = "FRONT_ADJ"
	// MethodBack anchors the present: the most recent bar unchanged,
	// history shifted to match.
	MethodBack Method = "BACK_ADJ"
)

// Result holds the adjusted series plus per-bar gap annotations.
// Invariant: Offsets[i] = Offsets[i-1] + Gaps[i]; TotalOffset is the
// cumulative offset at the last bar.
type Result struct {
	Method      Method    `json:"method"`
	Adjusted    []float64 `json:"adjusted"`
	Gaps        []float64 `json:"gaps"`    // signed jump per bar, 0 if no roll detected
	Offsets     []float64 `json:"offsets"` // cumulative jump up to each bar
	GapCount    int       `json:"gap_count"`
	TotalOffset float64   `json:"total_offset"`
}

// Adjuster detects abnormal close-to-close jumps (contract rollovers)
// and produces a continuous adjusted series.
//
// The detector is a threshold heuristic: a bar is flagged when its
// absolute percentage change exceeds thresholdMult times the mean
// absolute percentage change of the remaining bars. It cannot
// distinguish a genuine rollover from a large market move; that is a
// known approximation, not a defect.
type Adjuster struct {
	thresholdMult float64
	logger        *logger.Logger
}

// New creates an adjuster with the given detection multiplier
// (typically 4.0, see config.Pipeline.GapThresholdMult).
func New(thresholdMult float64, log *logger.Logger) *Adjuster {
	return &Adjuster{
		thresholdMult: thresholdMult,
		logger:        log,
	}
}

// Apply detects roll gaps in the bar series and applies the selected
// adjustment policy. Empty or single-bar input yields no gaps and
// adjusted == raw.
func (a *Adjuster) Apply(bars []contracts.PriceBar, method Method) Result {
	closes := contracts.Closes(bars)
	n := len(closes)

	result := Result{
		Method:   method,
		Adjusted: make([]float64, n),
		Gaps:     make([]float64, n),
		Offsets:  make([]float64, n),
	}
	copy(result.Adjusted, closes)

	if n < 2 {
		return result
	}

	// Percentage change between consecutive closes. A zero previous
	// close contributes a zero step rather than an undefined one.
	steps := make([]float64, n) // steps[i] for i >= 1
	var absSum float64
	for i := 1; i < n; i++ {
		if closes[i-1] != 0 {
			steps[i] = (closes[i] - closes[i-1]) / closes[i-1]
		}
		absSum += math.Abs(steps[i])
	}

	// Flag bars against a baseline that excludes the step under test,
	// so a single dominant jump cannot raise the baseline enough to
	// mask itself. Requires at least two other steps to form a
	// baseline; shorter series never flag.
	for i := 1; i < n; i++ {
		others := n - 2 // steps excluding steps[i]
		if others < 2 {
			continue
		}
		baseline := (absSum - math.Abs(steps[i])) / float64(others)
		if math.Abs(steps[i]) > a.thresholdMult*baseline {
			result.Gaps[i] = closes[i] - closes[i-1]
			result.GapCount++
		}
	}

	// Cumulative offsets.
	for i := 1; i < n; i++ {
		result.Offsets[i] = result.Offsets[i-1] + result.Gaps[i]
	}
	result.TotalOffset = result.Offsets[n-1]

	switch method {
	case MethodFront:
		for i := 0; i < n; i++ {
			result.Adjusted[i] = closes[i] - result.Offsets[i]
		}
	case MethodBack:
		for i := 0; i < n; i++ {
			result.Adjusted[i] = closes[i] - result.Offsets[i] + result.TotalOffset
		}
	default:
		// MethodNone: gaps stay visible.
	}

	if result.GapCount > 0 {
		a.logger.WithFields(map[string]interface{}{
			"method":       string(method),
			"gap_count":    result.GapCount,
			"total_offset": result.TotalOffset,
		}).Debug("Detected roll gaps")
	}

	return result
}
