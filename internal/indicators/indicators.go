// Package indicators provides pure technical indicator calculations over
// ordered candle series. All functions return safe neutral defaults on
// insufficient data and never panic.
package indicators

// Bundle aggregates all indicators computed for a single timeframe
type Bundle struct {
	RSI         float64         `json:"rsi"`
	MACD        MACDResult      `json:"macd"`
	Bollinger   BollingerResult `json:"bollinger"`
	ATR         float64         `json:"atr"`
	VolumeRatio float64         `json:"volume_ratio"`
	BiasScore   int             `json:"bias_score"` // [-4, +4]
	Bias        string          `json:"bias"`       // "bullish", "bearish", "neutral"
}

// MACDResult represents the MACD calculation result
type MACDResult struct {
	Line      float64 `json:"line"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

// BollingerResult represents the Bollinger Bands calculation result
type BollingerResult struct {
	Upper    float64 `json:"upper"`
	Middle   float64 `json:"middle"`
	Lower    float64 `json:"lower"`
	Position float64 `json:"position"` // clamped to [0, 1]
}

// sliceToChan feeds a slice into a closed channel for cinar/indicator pipelines
func sliceToChan(values []float64) chan float64 {
	ch := make(chan float64, len(values))
	for _, v := range values {
		ch <- v
	}
	close(ch)
	return ch
}

// drain collects every value from an indicator output channel
func drain(ch <-chan float64) []float64 {
	var out []float64
	for v := range ch {
		out = append(out, v)
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
