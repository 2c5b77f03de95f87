package indicators

import "math"

// ATR calculates the Average True Range with Wilder's smoothing.
// Returns 0 when there is not enough data for the period.
func ATR(highs, lows, closes []float64, period int) float64 {
	n := len(closes)
	if period < 1 || n < period+1 || len(highs) != n || len(lows) != n {
		return 0
	}

	trueRanges := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		highLow := highs[i] - lows[i]
		highClose := math.Abs(highs[i] - closes[i-1])
		lowClose := math.Abs(lows[i] - closes[i-1])
		trueRanges = append(trueRanges, math.Max(highLow, math.Max(highClose, lowClose)))
	}

	if len(trueRanges) < period {
		return 0
	}

	// Seed with the simple average of the first period, then Wilder-smooth
	atr := 0.0
	for i := 0; i < period; i++ {
		atr += trueRanges[i]
	}
	atr /= float64(period)

	for i := period; i < len(trueRanges); i++ {
		atr = (atr*float64(period-1) + trueRanges[i]) / float64(period)
	}

	return atr
}
