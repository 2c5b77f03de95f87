// Package strategy defines the typed trading strategy used by the arena's
// decision engine, plus the validator that coerces arbitrary externally
// supplied parameter trees into a guaranteed-safe strategy.
package strategy

// Timeframe keys in canonical order
var TimeframeKeys = []string{"1d", "4h", "1h", "15m", "5m"}

// Regime keys recognised by the regime preference vector
var RegimeKeys = []string{"trending", "ranging", "volatile"}

// Strategy is a fully validated, safe-to-execute strategy
type Strategy struct {
	Name        string `json:"name" yaml:"name"`
	Style       string `json:"style" yaml:"style"`
	Description string `json:"description" yaml:"description"`

	TimeframeWeights map[string]float64 `json:"timeframe_weights" yaml:"timeframe_weights"` // sums to 100

	Leverage             float64 `json:"leverage" yaml:"leverage"`
	CautiousMarginPct    float64 `json:"cautious_margin_percent" yaml:"cautious_margin_percent"` // [5, 20]
	FullMarginPct        float64 `json:"full_margin_percent" yaml:"full_margin_percent"`         // [5, 20]
	EntryConfidence      float64 `json:"entry_confidence" yaml:"entry_confidence"`               // [40, 95]
	DCAConfidence        float64 `json:"dca_confidence" yaml:"dca_confidence"`                   // [40, 95]
	MaxDCACount          int     `json:"max_dca_count" yaml:"max_dca_count"`                     // [0, 3]
	MaxHours             float64 `json:"max_hours" yaml:"max_hours"`                             // [0.5, session hours]
	RSIOversold          float64 `json:"rsi_oversold" yaml:"rsi_oversold"`
	RSIOverbought        float64 `json:"rsi_overbought" yaml:"rsi_overbought"`
	RegimePreference     map[string]float64 `json:"regime_preference" yaml:"regime_preference"` // bonus points per regime

	// Safety rails, forced by the validator
	UseStopLoss       bool `json:"use_stop_loss" yaml:"use_stop_loss"`             // always false
	AcceptLiquidation bool `json:"accept_liquidation" yaml:"accept_liquidation"`   // always true
	UseFixedTP        bool `json:"use_fixed_take_profit" yaml:"use_fixed_take_profit"` // always false
}

// Default returns the built-in default strategy that external parameter
// trees are merged onto
func Default() *Strategy {
	return &Strategy{
		Name:        "Balanced",
		Style:       "balanced",
		Description: "Default balanced multi-timeframe strategy",
		TimeframeWeights: map[string]float64{
			"1d": 30, "4h": 25, "1h": 20, "15m": 15, "5m": 10,
		},
		Leverage:          10,
		CautiousMarginPct: 8,
		FullMarginPct:     15,
		EntryConfidence:   65,
		DCAConfidence:     60,
		MaxDCACount:       2,
		MaxHours:          6,
		RSIOversold:       30,
		RSIOverbought:     70,
		RegimePreference: map[string]float64{
			"trending": 5, "ranging": 3, "volatile": 3,
		},
		UseStopLoss:       false,
		AcceptLiquidation: true,
		UseFixedTP:        false,
	}
}

// Clone returns a deep copy
func (s *Strategy) Clone() *Strategy {
	out := *s
	out.TimeframeWeights = make(map[string]float64, len(s.TimeframeWeights))
	for k, v := range s.TimeframeWeights {
		out.TimeframeWeights[k] = v
	}
	out.RegimePreference = make(map[string]float64, len(s.RegimePreference))
	for k, v := range s.RegimePreference {
		out.RegimePreference[k] = v
	}
	return &out
}
