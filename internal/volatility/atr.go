// Package volatility computes an average-true-range style volatility
// estimate from OHLC history.
//
// The estimator is a pure function of its inputs and degrades to "no
// estimate" on any internal failure — it never returns an error and never
// emits a non-positive value. An optional per-instance cache avoids
// recomputing the estimate for an unchanged bar history.
package volatility

import (
	"math"

	"tradeledgerv1/internal/model"
)

// Estimate computes an ATR-like volatility value over the given OHLC
// series. high, low, and close must be the same length; rows containing
// NaN in any field are dropped before computation.
//
// With at least period valid bars the true ranges are aggregated with
// Wilder smoothing (seed = mean of the first period TRs, then
// atr = (atr*(period-1) + tr) / period). With fewer bars, but at least 2,
// a plain arithmetic mean of true ranges is used instead.
//
// ok=false when fewer than 2 valid bars remain, the lengths disagree,
// period < 1, or the computed value is non-positive or not a number.
func Estimate(high, low, close []float64, period int) (float64, bool) {
	if period < 1 || len(high) != len(low) || len(high) != len(close) {
		return 0, false
	}

	// Drop rows with missing values.
	h := make([]float64, 0, len(high))
	l := make([]float64, 0, len(low))
	c := make([]float64, 0, len(close))
	for i := range high {
		if math.IsNaN(high[i]) || math.IsNaN(low[i]) || math.IsNaN(close[i]) {
			continue
		}
		h = append(h, high[i])
		l = append(l, low[i])
		c = append(c, close[i])
	}
	if len(h) < 2 {
		return 0, false
	}

	tr := trueRanges(h, l, c)

	var atr float64
	if len(tr) >= period {
		// Wilder smoothing: SMA seed over the first period TRs, then
		// geometric weighting with factor 1/period.
		var sum float64
		for _, v := range tr[:period] {
			sum += v
		}
		atr = sum / float64(period)
		for _, v := range tr[period:] {
			atr = (atr*float64(period-1) + v) / float64(period)
		}
	} else {
		// Short history: arithmetic mean of what we have.
		var sum float64
		for _, v := range tr {
			sum += v
		}
		atr = sum / float64(len(tr))
	}

	if atr <= 0 || math.IsNaN(atr) || math.IsInf(atr, 0) {
		return 0, false
	}
	return atr, true
}

// EstimateBars is Estimate over a bar slice (oldest first).
func EstimateBars(bars []model.Bar, period int) (float64, bool) {
	h := make([]float64, len(bars))
	l := make([]float64, len(bars))
	c := make([]float64, len(bars))
	for i, b := range bars {
		h[i], l[i], c[i] = b.High, b.Low, b.Close
	}
	return Estimate(h, l, c, period)
}

// trueRanges computes per-bar true range. The first bar has no previous
// close, so its TR is defined as its high-low range.
func trueRanges(high, low, close []float64) []float64 {
	tr := make([]float64, len(high))
	tr[0] = high[0] - low[0]
	for i := 1; i < len(high); i++ {
		prevClose := close[i-1]
		tr[i] = math.Max(high[i]-low[i],
			math.Max(math.Abs(high[i]-prevClose), math.Abs(low[i]-prevClose)))
	}
	return tr
}
