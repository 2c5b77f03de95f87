package indicators

// Default indicator periods
const (
	DefaultRSIPeriod       = 14
	DefaultMACDFast        = 12
	DefaultMACDSlow        = 26
	DefaultMACDSignal      = 9
	DefaultBollingerPeriod = 20
	DefaultATRPeriod       = 14
	DefaultVolumePeriod    = 20
)

// Composite computes the full indicator bundle for a timeframe plus an
// integer bias score in [-4, +4]. Four contributors each add ±1:
// RSI extremes, MACD histogram sign, Bollinger band extremes, and the
// position of the last close versus the middle band.
func Composite(highs, lows, closes, volumes []float64) Bundle {
	b := Bundle{
		RSI:         RSI(closes, DefaultRSIPeriod),
		MACD:        MACD(closes, DefaultMACDFast, DefaultMACDSlow, DefaultMACDSignal),
		Bollinger:   Bollinger(closes, DefaultBollingerPeriod),
		ATR:         ATR(highs, lows, closes, DefaultATRPeriod),
		VolumeRatio: VolumeRatio(volumes, DefaultVolumePeriod),
	}

	score := 0

	if b.RSI < 30 {
		score++ // oversold, mean-reversion bullish
	} else if b.RSI > 70 {
		score--
	}

	if b.MACD.Histogram > 0 {
		score++
	} else if b.MACD.Histogram < 0 {
		score--
	}

	if b.Bollinger.Position <= 0.2 {
		score++
	} else if b.Bollinger.Position >= 0.8 {
		score--
	}

	if len(closes) > 0 && b.Bollinger.Middle > 0 {
		last := closes[len(closes)-1]
		if last > b.Bollinger.Middle {
			score++
		} else if last < b.Bollinger.Middle {
			score--
		}
	}

	b.BiasScore = score
	switch {
	case score >= 2:
		b.Bias = "bullish"
	case score <= -2:
		b.Bias = "bearish"
	default:
		b.Bias = "neutral"
	}

	return b
}
