package contracts

import "fmt"

// PriceBar represents one trading day of a futures contract.
// Bars are immutable inputs for a pipeline run; the engine never
// mutates a bar in place.
type PriceBar struct {
	Date         string  `json:"date"` // 2006-01-02
	Open         float64 `json:"open"`
	High         float64 `json:"high"`
	Low          float64 `json:"low"`
	Close        float64 `json:"close"`
	Volume       float64 `json:"volume"`
	OpenInterest float64 `json:"open_interest"`
}

// ValidateBars checks the master series invariant: dates strictly
// increasing, no duplicates. Date strings in 2006-01-02 format compare
// correctly as strings.
func ValidateBars(bars []PriceBar) error {
	for i := 1; i < len(bars); i++ {
		if bars[i].Date <= bars[i-1].Date {
			return fmt.Errorf("bars out of order at index %d: %s after %s", i, bars[i].Date, bars[i-1].Date)
		}
	}
	return nil
}

// Closes extracts the close column from a bar series.
func Closes(bars []PriceBar) []float64 {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	return closes
}

// Float returns a pointer to v. Nullable columns are represented as
// *float64 throughout the engine: nil means "no value", never zero.
func Float(v float64) *float64 {
	return &v
}

// Series is a positionally aligned column of nullable values.
// len(Series) always equals the aligned row count it was computed over.
type Series []*float64

// ValidCount returns the number of non-null entries.
func (s Series) ValidCount() int {
	n := 0
	for _, v := range s {
		if v != nil {
			n++
		}
	}
	return n
}

// AllNull reports whether the series carries no values at all.
func (s Series) AllNull() bool {
	return s.ValidCount() == 0
}
