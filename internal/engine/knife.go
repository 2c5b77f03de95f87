package engine

import (
	"time"

	"github.com/pr3m/xrparena/internal/arena"
	"github.com/pr3m/xrparena/internal/market"
)

// KnifePhase is the lifecycle stage of a sharp break through a key level
type KnifePhase string

const (
	KnifeNone         KnifePhase = "none"
	KnifeImpulse      KnifePhase = "impulse"
	KnifeCapitulation KnifePhase = "capitulation"
	KnifeStabilizing  KnifePhase = "stabilizing"
	KnifeConfirming   KnifePhase = "confirming"
	KnifeSafe         KnifePhase = "safe"
)

// KnifeDirection says which way the level broke
type KnifeDirection string

const (
	KnifeDown KnifeDirection = "down" // support broken, falling knife
	KnifeUp   KnifeDirection = "up"   // resistance broken, vertical squeeze
)

const (
	knifeLevelLookback   = 20  // candles used to establish the key level
	knifeVolumeTrigger   = 2.0 // break volume vs baseline to call it an impulse
	knifeCandleTTL       = 48  // candles since break before expiry
	knifeInactivityTTL   = 6 * time.Hour
	knifeCapitulationVol = 1.5
)

// KnifeState tracks one pair/timeframe break through its phases. The
// decision engine uses it to gate or shrink counter-trend entries.
type KnifeState struct {
	Phase         KnifePhase     `json:"phase"`
	Direction     KnifeDirection `json:"direction"`
	BrokenLevel   float64        `json:"broken_level"`
	BreakIndex    int            `json:"break_index"`
	ImpulseVolume float64        `json:"impulse_volume"`
	LastActivity  time.Time      `json:"last_activity"`
	candlesSeen   int
}

// BlocksCounterTrend reports whether entering against the break direction
// is still suicidal: catching a falling knife in its impulse or
// capitulation phase.
func (k *KnifeState) BlocksCounterTrend(side arena.Side) bool {
	if k == nil || (k.Phase != KnifeImpulse && k.Phase != KnifeCapitulation) {
		return false
	}
	if k.Direction == KnifeDown {
		return side == arena.SideLong
	}
	return side == arena.SideShort
}

// MarginScale shrinks counter-trend sizing to half while the break is
// stabilizing or awaiting confirmation, 1.0 otherwise
func (k *KnifeState) MarginScale(side arena.Side) float64 {
	if k == nil || (k.Phase != KnifeStabilizing && k.Phase != KnifeConfirming) {
		return 1.0
	}
	counterTrend := (k.Direction == KnifeDown && side == arena.SideLong) ||
		(k.Direction == KnifeUp && side == arena.SideShort)
	if counterTrend {
		return 0.5
	}
	return 1.0
}

// KnifeTracker maintains knife state per timeframe for the session pair
type KnifeTracker struct {
	states map[string]*KnifeState
}

// NewKnifeTracker creates an empty tracker
func NewKnifeTracker() *KnifeTracker {
	return &KnifeTracker{states: make(map[string]*KnifeState)}
}

// State returns the tracked knife for a timeframe, or nil
func (t *KnifeTracker) State(timeframe string) *KnifeState {
	return t.states[timeframe]
}

// Observe advances the FSM for one timeframe from its latest candles.
// Phases: none → impulse → capitulation → stabilizing → confirming → safe,
// subject to the dual TTL (candle count since break, inactivity interval).
func (t *KnifeTracker) Observe(timeframe string, candles []market.Candle, now time.Time) *KnifeState {
	if len(candles) < knifeLevelLookback+1 {
		return t.states[timeframe]
	}

	k := t.states[timeframe]
	last := candles[len(candles)-1]
	prior := candles[len(candles)-1-knifeLevelLookback : len(candles)-1]

	if k != nil && k.Phase != KnifeNone && k.Phase != KnifeSafe {
		k.candlesSeen++
		if k.candlesSeen > knifeCandleTTL || now.Sub(k.LastActivity) > knifeInactivityTTL {
			k.Phase = KnifeSafe
			return k
		}
		t.advance(k, last, now)
		return k
	}

	// No active knife: look for a fresh break of the lookback extreme on
	// elevated volume.
	support, resistance := extremes(prior)
	baseline := meanVolume(prior)
	if baseline <= 0 {
		return k
	}
	volRatio := last.Volume / baseline

	if last.Close < support && volRatio >= knifeVolumeTrigger {
		k = &KnifeState{
			Phase:         KnifeImpulse,
			Direction:     KnifeDown,
			BrokenLevel:   support,
			BreakIndex:    len(candles) - 1,
			ImpulseVolume: last.Volume,
			LastActivity:  now,
		}
		t.states[timeframe] = k
	} else if last.Close > resistance && volRatio >= knifeVolumeTrigger {
		k = &KnifeState{
			Phase:         KnifeImpulse,
			Direction:     KnifeUp,
			BrokenLevel:   resistance,
			BreakIndex:    len(candles) - 1,
			ImpulseVolume: last.Volume,
			LastActivity:  now,
		}
		t.states[timeframe] = k
	}
	return k
}

func (t *KnifeTracker) advance(k *KnifeState, last market.Candle, now time.Time) {
	continuing := (k.Direction == KnifeDown && last.Close < last.Open) ||
		(k.Direction == KnifeUp && last.Close > last.Open)
	recrossed := (k.Direction == KnifeDown && last.Close > k.BrokenLevel) ||
		(k.Direction == KnifeUp && last.Close < k.BrokenLevel)

	switch k.Phase {
	case KnifeImpulse:
		if continuing && last.Volume >= k.ImpulseVolume*knifeCapitulationVol {
			k.Phase = KnifeCapitulation
			k.LastActivity = now
		} else if !continuing {
			k.Phase = KnifeStabilizing
			k.LastActivity = now
		}
	case KnifeCapitulation:
		if !continuing {
			k.Phase = KnifeStabilizing
			k.LastActivity = now
		}
	case KnifeStabilizing:
		if continuing && last.Volume >= k.ImpulseVolume {
			// break resumes
			k.Phase = KnifeImpulse
			k.LastActivity = now
		} else if !continuing {
			k.Phase = KnifeConfirming
			k.LastActivity = now
		}
	case KnifeConfirming:
		if recrossed {
			k.Phase = KnifeSafe
			k.LastActivity = now
		} else if continuing && last.Volume >= k.ImpulseVolume {
			k.Phase = KnifeImpulse
			k.LastActivity = now
		}
	}
}

func extremes(candles []market.Candle) (low, high float64) {
	low, high = candles[0].Low, candles[0].High
	for _, c := range candles[1:] {
		if c.Low < low {
			low = c.Low
		}
		if c.High > high {
			high = c.High
		}
	}
	return low, high
}

func meanVolume(candles []market.Candle) float64 {
	sum := 0.0
	for _, c := range candles {
		sum += c.Volume
	}
	return sum / float64(len(candles))
}
