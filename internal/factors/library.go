package factors

import (
	"math"

	"github.com/quantagrify/terrafactor/internal/contracts"
	"github.com/quantagrify/terrafactor/pkg/logger"
)

// annualization converts daily statistics to annual ones assuming 252
// trading days.
var annualization = math.Sqrt(252)

// Library computes deterministic factor series over an aligned table.
// Every factor is a pure function over aligned columns producing one
// value-or-null per row. Unknown factor kinds yield an all-null series,
// never a fabricated default.
// SSOT: factor math lives here and nowhere else
type Library struct {
	cache  *Cache
	logger *logger.Logger
}

// New creates a factor library with a fresh memo cache.
func New(log *logger.Logger) *Library {
	return &Library{
		cache:  NewCache(),
		logger: log,
	}
}

// Compute returns the series for a definition, consulting the memo
// cache first. inputVersion identifies the aligned-table snapshot the
// series is computed over; a changed version invalidates the entry.
func (l *Library) Compute(def contracts.FactorDefinition, table *contracts.AlignedTable, inputVersion uint64) contracts.Series {
	if series, ok := l.cache.Get(def, inputVersion); ok {
		l.logger.WithFields(map[string]interface{}{
			"factor": def.Name,
			"kind":   string(def.Kind),
		}).Debug("Factor cache hit")
		return series
	}

	series := l.compute(def, table)
	l.cache.Put(def, inputVersion, series)

	l.logger.WithFields(map[string]interface{}{
		"factor": def.Name,
		"kind":   string(def.Kind),
		"valid":  series.ValidCount(),
		"rows":   len(series),
	}).Debug("Computed factor series")

	return series
}

// CacheStats exposes memo cache hit/miss counters.
func (l *Library) CacheStats() (hits, misses uint64) {
	return l.cache.Stats()
}

func (l *Library) compute(def contracts.FactorDefinition, table *contracts.AlignedTable) contracts.Series {
	prices := table.AdjustedCloses()

	switch def.Kind {
	case contracts.KindMomentum:
		return momentum(prices, windowOrDefault(def.Window, 20))
	case contracts.KindVolatility:
		return volatility(prices, windowOrDefault(def.Window, 20))
	case contracts.KindRSI:
		return rsi(prices, windowOrDefault(def.Window, 14))
	case contracts.KindLiquidity:
		return liquidityPressure(table)
	case contracts.KindBasisMomentum:
		return basisMomentum(table, windowOrDefault(def.Window, 5))
	case contracts.KindExternal:
		return table.LayerValues()
	case contracts.KindGDD:
		return gddAccumulation(table.LayerValues())
	default:
		// Unknown identifier: no silent substitution.
		return make(contracts.Series, len(table.Rows))
	}
}

func windowOrDefault(window, fallback int) int {
	if window > 0 {
		return window
	}
	return fallback
}

// momentum is (price[i]-price[i-w])/price[i-w]; null during warm-up or
// on a zero denominator.
func momentum(prices []float64, window int) contracts.Series {
	out := make(contracts.Series, len(prices))
	for i := window; i < len(prices); i++ {
		base := prices[i-window]
		if base == 0 {
			continue
		}
		out[i] = contracts.Float((prices[i] - base) / base)
	}
	return out
}

// volatility is the rolling standard deviation of log returns over
// window samples, annualized by sqrt(252). A return is 0 when either
// price is 0. Needs window >= 2 returns ending at the current index.
func volatility(prices []float64, window int) contracts.Series {
	out := make(contracts.Series, len(prices))
	if window < 2 || len(prices) < 2 {
		return out
	}

	returns := make([]float64, len(prices))
	for i := 1; i < len(prices); i++ {
		if prices[i] > 0 && prices[i-1] > 0 {
			returns[i] = math.Log(prices[i] / prices[i-1])
		}
	}

	for i := window; i < len(prices); i++ {
		// window returns ending at i: returns[i-window+1..i]
		var sum float64
		for j := i - window + 1; j <= i; j++ {
			sum += returns[j]
		}
		mean := sum / float64(window)

		var sq float64
		for j := i - window + 1; j <= i; j++ {
			d := returns[j] - mean
			sq += d * d
		}
		std := math.Sqrt(sq / float64(window-1))
		out[i] = contracts.Float(std * annualization)
	}
	return out
}

// rsi uses the simple-moving-average gain/loss variant: average gain
// and loss over window steps, RSI = 100 - 100/(1+avgGain/avgLoss).
// All losses zero means RSI 100. Null through the warm-up period.
func rsi(prices []float64, window int) contracts.Series {
	out := make(contracts.Series, len(prices))
	for i := window; i < len(prices); i++ {
		var gains, losses float64
		for j := i - window + 1; j <= i; j++ {
			change := prices[j] - prices[j-1]
			if change > 0 {
				gains += change
			} else {
				losses += -change
			}
		}
		avgGain := gains / float64(window)
		avgLoss := losses / float64(window)

		if avgLoss == 0 {
			out[i] = contracts.Float(100)
			continue
		}
		rs := avgGain / avgLoss
		out[i] = contracts.Float(100 - 100/(1+rs))
	}
	return out
}

// liquidityPressure is volume/open_interest*100; null when open
// interest is 0 or NaN.
func liquidityPressure(table *contracts.AlignedTable) contracts.Series {
	out := make(contracts.Series, len(table.Rows))
	for i, row := range table.Rows {
		oi := row.OpenInterest
		if oi == 0 || math.IsNaN(oi) {
			continue
		}
		out[i] = contracts.Float(row.Volume / oi * 100)
	}
	return out
}

// basisMomentum is the negated momentum of the spot-minus-future
// quantity over window bars: rising basis tightness reads positive.
// Needs a joined spot layer carrying a "basis" column.
func basisMomentum(table *contracts.AlignedTable, window int) contracts.Series {
	out := make(contracts.Series, len(table.Rows))
	basis := spotBasisColumn(table)
	if basis == nil {
		return out
	}

	for i := window; i < len(basis); i++ {
		curr, prev := basis[i], basis[i-window]
		if curr == nil || prev == nil || *prev == 0 {
			continue
		}
		out[i] = contracts.Float(-((*curr - *prev) / *prev))
	}
	return out
}

// spotBasisColumn finds the first <layer>_basis column in the table.
func spotBasisColumn(table *contracts.AlignedTable) contracts.Series {
	for i := range table.Rows {
		for key := range table.Rows[i].Fields {
			if len(key) > 6 && key[len(key)-6:] == "_basis" {
				return table.Column(key)
			}
		}
	}
	return nil
}

// gddAccumulation is the running sum of the active layer's daily
// values. Nulls are non-contributing: the sum carries through
// unchanged instead of resetting. Null until the first observation.
func gddAccumulation(values contracts.Series) contracts.Series {
	out := make(contracts.Series, len(values))
	var sum float64
	seen := false
	for i, v := range values {
		if v != nil {
			sum += *v
			seen = true
		}
		if seen {
			out[i] = contracts.Float(sum)
		}
	}
	return out
}

// RollingWindow applies fn over window-size slices of a nullable
// series. A value is produced only once window consecutive non-null
// samples end at the current index; otherwise null. Shared helper for
// factors over sparse external columns.
func RollingWindow(values contracts.Series, window int, fn func(window []float64) float64) contracts.Series {
	out := make(contracts.Series, len(values))
	if window <= 0 {
		return out
	}

	run := 0 // consecutive non-null samples ending here
	buf := make([]float64, 0, window)
	for i, v := range values {
		if v == nil {
			run = 0
			continue
		}
		run++
		if run < window {
			continue
		}
		buf = buf[:0]
		for j := i - window + 1; j <= i; j++ {
			buf = append(buf, *values[j])
		}
		out[i] = contracts.Float(fn(buf))
	}
	return out
}
