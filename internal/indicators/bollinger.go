package indicators

import (
	"github.com/cinar/indicator/v2/volatility"
)

// Bollinger calculates Bollinger Bands (2 standard deviations) and the
// position of the last close within the band, clamped to [0, 1].
// Returns a neutral mid-band position when there is not enough data.
func Bollinger(closes []float64, period int) BollingerResult {
	if period < 2 || len(closes) < period {
		return BollingerResult{Position: 0.5}
	}

	bb := volatility.NewBollingerBandsWithPeriod[float64](period)
	upperChan, middleChan, lowerChan := bb.Compute(sliceToChan(closes))

	var lower, middle, upper []float64
	for {
		l, lok := <-lowerChan
		m, mok := <-middleChan
		u, uok := <-upperChan
		if !lok || !mok || !uok {
			break
		}
		lower = append(lower, l)
		middle = append(middle, m)
		upper = append(upper, u)
	}

	if len(middle) == 0 {
		return BollingerResult{Position: 0.5}
	}

	result := BollingerResult{
		Upper:  upper[len(upper)-1],
		Middle: middle[len(middle)-1],
		Lower:  lower[len(lower)-1],
	}

	last := closes[len(closes)-1]
	width := result.Upper - result.Lower
	if width <= 0 {
		result.Position = 0.5
		return result
	}

	result.Position = clamp((last-result.Lower)/width, 0, 1)
	return result
}
