package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pr3m/xrparena/internal/arena"
	"github.com/pr3m/xrparena/internal/market"
)

// flatCandles builds a quiet range around 0.60 with unit volume
func flatCandles(n int) []market.Candle {
	candles := make([]market.Candle, n)
	for i := range candles {
		candles[i] = market.Candle{
			Open: 0.600, High: 0.605, Low: 0.595, Close: 0.600,
			Volume: 1.0,
		}
	}
	return candles
}

func TestKnifeBreakDetection(t *testing.T) {
	tracker := NewKnifeTracker()
	candles := flatCandles(25)

	// quiet market: no knife
	k := tracker.Observe("1h", candles, t0)
	assert.Nil(t, k)

	// support break on 3x volume
	candles = append(candles, market.Candle{
		Open: 0.595, High: 0.596, Low: 0.580, Close: 0.582, Volume: 3.0,
	})
	k = tracker.Observe("1h", candles, t0)
	require.NotNil(t, k)
	assert.Equal(t, KnifeImpulse, k.Phase)
	assert.Equal(t, KnifeDown, k.Direction)
	assert.InDelta(t, 0.595, k.BrokenLevel, 1e-9)

	assert.True(t, k.BlocksCounterTrend(arena.SideLong))
	assert.False(t, k.BlocksCounterTrend(arena.SideShort))
}

func TestKnifeBreakNeedsVolume(t *testing.T) {
	tracker := NewKnifeTracker()
	candles := append(flatCandles(25), market.Candle{
		Open: 0.595, High: 0.596, Low: 0.580, Close: 0.582, Volume: 1.1,
	})

	// same break on thin volume is just drift
	assert.Nil(t, tracker.Observe("1h", candles, t0))
}

func TestKnifePhaseProgression(t *testing.T) {
	tracker := NewKnifeTracker()
	candles := append(flatCandles(25), market.Candle{
		Open: 0.595, High: 0.596, Low: 0.580, Close: 0.582, Volume: 3.0,
	})
	k := tracker.Observe("1h", candles, t0)
	require.Equal(t, KnifeImpulse, k.Phase)

	// heavier continuation: capitulation
	candles = append(candles, market.Candle{
		Open: 0.582, High: 0.583, Low: 0.560, Close: 0.562, Volume: 5.0,
	})
	k = tracker.Observe("1h", candles, t0.Add(time.Hour))
	assert.Equal(t, KnifeCapitulation, k.Phase)

	// first green candle: stabilizing
	candles = append(candles, market.Candle{
		Open: 0.562, High: 0.570, Low: 0.561, Close: 0.568, Volume: 2.0,
	})
	k = tracker.Observe("1h", candles, t0.Add(2*time.Hour))
	assert.Equal(t, KnifeStabilizing, k.Phase)
	assert.InDelta(t, 0.5, k.MarginScale(arena.SideLong), 1e-9)
	assert.InDelta(t, 1.0, k.MarginScale(arena.SideShort), 1e-9)
	assert.False(t, k.BlocksCounterTrend(arena.SideLong))

	// another green candle: confirming
	candles = append(candles, market.Candle{
		Open: 0.568, High: 0.575, Low: 0.567, Close: 0.573, Volume: 1.5,
	})
	k = tracker.Observe("1h", candles, t0.Add(3*time.Hour))
	assert.Equal(t, KnifeConfirming, k.Phase)

	// reclaiming the broken level: safe
	candles = append(candles, market.Candle{
		Open: 0.573, High: 0.600, Low: 0.572, Close: 0.598, Volume: 1.5,
	})
	k = tracker.Observe("1h", candles, t0.Add(4*time.Hour))
	assert.Equal(t, KnifeSafe, k.Phase)
	assert.InDelta(t, 1.0, k.MarginScale(arena.SideLong), 1e-9)
}

func TestKnifeInactivityExpiry(t *testing.T) {
	tracker := NewKnifeTracker()
	candles := append(flatCandles(25), market.Candle{
		Open: 0.595, High: 0.596, Low: 0.580, Close: 0.582, Volume: 3.0,
	})
	k := tracker.Observe("1h", candles, t0)
	require.Equal(t, KnifeImpulse, k.Phase)

	// nothing for over six hours: the knife is stale
	candles = append(candles, market.Candle{
		Open: 0.582, High: 0.583, Low: 0.580, Close: 0.581, Volume: 0.5,
	})
	k = tracker.Observe("1h", candles, t0.Add(7*time.Hour))
	assert.Equal(t, KnifeSafe, k.Phase)
}

func TestKnifeUpwardBreakGatesShorts(t *testing.T) {
	tracker := NewKnifeTracker()
	candles := append(flatCandles(25), market.Candle{
		Open: 0.604, High: 0.625, Low: 0.603, Close: 0.622, Volume: 4.0,
	})

	k := tracker.Observe("1h", candles, t0)
	require.NotNil(t, k)
	assert.Equal(t, KnifeUp, k.Direction)
	assert.True(t, k.BlocksCounterTrend(arena.SideShort))
	assert.False(t, k.BlocksCounterTrend(arena.SideLong))
}

func TestNilKnifeIsNeutral(t *testing.T) {
	var k *KnifeState
	assert.False(t, k.BlocksCounterTrend(arena.SideLong))
	assert.InDelta(t, 1.0, k.MarginScale(arena.SideLong), 1e-9)
}
