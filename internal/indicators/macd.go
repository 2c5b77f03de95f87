package indicators

import (
	"github.com/cinar/indicator/v2/trend"
)

// MACD calculates the Moving Average Convergence Divergence.
// Returns zeros when there is not enough data for the slow and signal periods.
func MACD(closes []float64, fast, slow, signal int) MACDResult {
	if fast < 1 || slow <= fast || signal < 1 {
		return MACDResult{}
	}
	if len(closes) < slow+signal {
		return MACDResult{}
	}

	macd := trend.NewMacdWithPeriod[float64](fast, slow, signal)
	lineChan, signalChan := macd.Compute(sliceToChan(closes))

	var lineValues, signalValues []float64
	for {
		l, lok := <-lineChan
		s, sok := <-signalChan
		if !lok || !sok {
			break
		}
		lineValues = append(lineValues, l)
		signalValues = append(signalValues, s)
	}

	if len(lineValues) == 0 {
		return MACDResult{}
	}

	line := lineValues[len(lineValues)-1]
	sig := signalValues[len(signalValues)-1]

	return MACDResult{
		Line:      line,
		Signal:    sig,
		Histogram: line - sig,
	}
}
