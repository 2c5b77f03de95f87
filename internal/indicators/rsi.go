package indicators

import (
	"github.com/cinar/indicator/v2/momentum"
)

// RSI calculates the Relative Strength Index with Wilder's smoothing.
// Returns 50 (neutral) when there is not enough data for the period.
func RSI(closes []float64, period int) float64 {
	if period < 1 || len(closes) <= period {
		return 50
	}

	rsi := momentum.NewRsiWithPeriod[float64](period)
	values := drain(rsi.Compute(sliceToChan(closes)))
	if len(values) == 0 {
		return 50
	}

	return values[len(values)-1]
}
