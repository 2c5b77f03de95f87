package strategy

import (
	"fmt"
	"math"
)

// SessionLimits are the session-level constraints every strategy must obey
type SessionLimits struct {
	Leverage      float64 // uniform leverage for the session
	DurationHours float64 // upper bound for max_hours
}

// Report collects the corrections the validator applied. Errors are
// structural defects in the input; warnings are values that were clamped.
type Report struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func (r *Report) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Report) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Validate coerces an arbitrary key/value tree into a guaranteed-safe
// strategy. It never rejects: structural defects fall back to defaults and
// are reported as errors, out-of-range values are clamped and reported as
// warnings. The returned strategy is always usable.
func Validate(raw map[string]any, limits SessionLimits) (*Strategy, Report) {
	var report Report
	s := Default()

	if limits.Leverage <= 0 {
		limits.Leverage = 10
	}
	if limits.DurationHours <= 0 {
		limits.DurationHours = 8
	}

	if raw == nil {
		report.errorf("strategy input is empty, using defaults")
		s.Leverage = limits.Leverage
		s.MaxHours = clampF(s.MaxHours, 0.5, limits.DurationHours)
		return s, report
	}

	// Meta strings, defaults when missing or wrong type
	s.Name = stringField(raw, "name", s.Name, &report)
	s.Style = stringField(raw, "style", s.Style, &report)
	s.Description = stringField(raw, "description", s.Description, &report)

	// Timeframe weights must cover the fixed key set and sum to 100
	if rawWeights, ok := raw["timeframe_weights"]; ok {
		weights, ok := toFloatMap(rawWeights)
		if !ok {
			report.errorf("timeframe_weights is not an object, using defaults")
		} else {
			for _, key := range TimeframeKeys {
				v, ok := weights[key]
				if !ok {
					report.warnf("timeframe_weights.%s missing, using default %.0f", key, s.TimeframeWeights[key])
					continue
				}
				if v < 0 {
					report.warnf("timeframe_weights.%s negative (%.2f), clamped to 0", key, v)
					v = 0
				}
				s.TimeframeWeights[key] = v
			}
		}
	}
	normalizeWeights(s, &report)

	// Leverage is uniform per session
	if lev, ok := floatField(raw, "leverage"); ok && lev != limits.Leverage {
		report.warnf("leverage %.1f overridden by session leverage %.1f", lev, limits.Leverage)
	}
	s.Leverage = limits.Leverage

	s.CautiousMarginPct = clampField(raw, "cautious_margin_percent", s.CautiousMarginPct, 5, 20, &report)
	s.FullMarginPct = clampField(raw, "full_margin_percent", s.FullMarginPct, 5, 20, &report)
	if s.CautiousMarginPct > s.FullMarginPct {
		report.warnf("cautious margin %.1f exceeds full margin %.1f, swapped", s.CautiousMarginPct, s.FullMarginPct)
		s.CautiousMarginPct, s.FullMarginPct = s.FullMarginPct, s.CautiousMarginPct
	}

	s.EntryConfidence = clampField(raw, "entry_confidence", s.EntryConfidence, 40, 95, &report)
	s.DCAConfidence = clampField(raw, "dca_confidence", s.DCAConfidence, 40, 95, &report)

	if v, ok := floatField(raw, "max_dca_count"); ok {
		n := int(math.Round(v))
		if n < 0 || n > 3 {
			report.warnf("max_dca_count %d clamped to [0, 3]", n)
		}
		s.MaxDCACount = int(clampF(float64(n), 0, 3))
	}

	s.MaxHours = clampField(raw, "max_hours", s.MaxHours, 0.5, limits.DurationHours, &report)

	s.RSIOversold = clampField(raw, "rsi_oversold", s.RSIOversold, 10, 45, &report)
	s.RSIOverbought = clampField(raw, "rsi_overbought", s.RSIOverbought, 55, 90, &report)

	if rawPref, ok := raw["regime_preference"]; ok {
		pref, ok := toFloatMap(rawPref)
		if !ok {
			report.errorf("regime_preference is not an object, using defaults")
		} else {
			for _, key := range RegimeKeys {
				if v, ok := pref[key]; ok {
					if v < 0 || v > 15 {
						report.warnf("regime_preference.%s %.1f clamped to [0, 15]", key, v)
					}
					s.RegimePreference[key] = clampF(v, 0, 15)
				}
			}
		}
	}

	// Safety rails cannot be opted out of
	if b, ok := boolField(raw, "use_stop_loss"); ok && b {
		report.warnf("use_stop_loss forced to false")
	}
	if b, ok := boolField(raw, "accept_liquidation"); ok && !b {
		report.warnf("accept_liquidation forced to true")
	}
	if b, ok := boolField(raw, "use_fixed_take_profit"); ok && b {
		report.warnf("use_fixed_take_profit forced to false")
	}
	s.UseStopLoss = false
	s.AcceptLiquidation = true
	s.UseFixedTP = false

	return s, report
}

// normalizeWeights rescales the timeframe weights to sum to exactly 100
func normalizeWeights(s *Strategy, report *Report) {
	sum := 0.0
	for _, key := range TimeframeKeys {
		sum += s.TimeframeWeights[key]
	}

	if sum <= 0 {
		report.errorf("timeframe weights sum to zero, using defaults")
		s.TimeframeWeights = Default().TimeframeWeights
		return
	}

	if math.Abs(sum-100) > 0.01 {
		report.warnf("timeframe weights sum to %.2f, normalised to 100", sum)
		for _, key := range TimeframeKeys {
			s.TimeframeWeights[key] = s.TimeframeWeights[key] / sum * 100
		}
	}
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampField(raw map[string]any, key string, def, lo, hi float64, report *Report) float64 {
	v, ok := floatField(raw, key)
	if !ok {
		return clampF(def, lo, hi)
	}
	if v < lo || v > hi {
		report.warnf("%s %.2f clamped to [%.1f, %.1f]", key, v, lo, hi)
	}
	return clampF(v, lo, hi)
}

func floatField(raw map[string]any, key string) (float64, bool) {
	v, ok := raw[key]
	if !ok {
		return 0, false
	}
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	default:
		return 0, false
	}
}

func boolField(raw map[string]any, key string) (bool, bool) {
	v, ok := raw[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

func stringField(raw map[string]any, key, def string, report *Report) string {
	v, ok := raw[key]
	if !ok {
		return def
	}
	str, ok := v.(string)
	if !ok || str == "" {
		report.errorf("%s is not a usable string, using default", key)
		return def
	}
	return str
}

func toFloatMap(v any) (map[string]float64, bool) {
	out := make(map[string]float64)
	switch m := v.(type) {
	case map[string]float64:
		return m, true
	case map[string]any:
		for k, raw := range m {
			switch x := raw.(type) {
			case float64:
				out[k] = x
			case int:
				out[k] = float64(x)
			}
		}
		return out, true
	default:
		return nil, false
	}
}
