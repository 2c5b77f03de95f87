package market

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKrakenPair(t *testing.T) {
	assert.Equal(t, "XRPEUR", krakenPair("XRP/EUR"))
	assert.Equal(t, "BTCEUR", krakenPair("BTC/EUR"))
	assert.Equal(t, "XRPEUR", krakenPair("XRPEUR"))
}

func TestParseOHLCSeries(t *testing.T) {
	raw := json.RawMessage(`[
		[1700000000, "0.6000", "0.6100", "0.5900", "0.6050", "0.6010", "12345.6", 42],
		[1700000300, "0.6050", "0.6200", "0.6000", "0.6150", "0.6100", "9876.5", 30]
	]`)

	candles, err := parseOHLCSeries(raw)
	require.NoError(t, err)
	require.Len(t, candles, 2)

	assert.Equal(t, int64(1700000000), candles[0].Time)
	assert.InDelta(t, 0.60, candles[0].Open, 1e-9)
	assert.InDelta(t, 0.61, candles[0].High, 1e-9)
	assert.InDelta(t, 0.59, candles[0].Low, 1e-9)
	assert.InDelta(t, 0.605, candles[0].Close, 1e-9)
	assert.InDelta(t, 0.601, candles[0].VWAP, 1e-9)
	assert.InDelta(t, 12345.6, candles[0].Volume, 1e-9)
	assert.Equal(t, 42, candles[0].Count)
}

func TestParseOHLCSeriesShortRow(t *testing.T) {
	raw := json.RawMessage(`[[1700000000, "0.6"]]`)
	_, err := parseOHLCSeries(raw)
	require.Error(t, err)
}

func TestParseTicker(t *testing.T) {
	raw := json.RawMessage(`{
		"a": ["0.6052", "5000", "5000.000"],
		"b": ["0.6048", "3000", "3000.000"],
		"c": ["0.6050", "150.0"],
		"v": ["100000.0", "250000.0"],
		"h": ["0.6100", "0.6200"],
		"l": ["0.5900", "0.5850"],
		"o": "0.5950"
	}`)

	ticker, err := parseTicker(raw)
	require.NoError(t, err)

	assert.InDelta(t, 0.6052, ticker.Ask, 1e-9)
	assert.InDelta(t, 0.6048, ticker.Bid, 1e-9)
	assert.InDelta(t, 0.6050, ticker.Last, 1e-9)
	assert.InDelta(t, 0.5950, ticker.Open24h, 1e-9)
	// 24h window values, not today's
	assert.InDelta(t, 0.6200, ticker.High24h, 1e-9)
	assert.InDelta(t, 0.5850, ticker.Low24h, 1e-9)
	assert.InDelta(t, 250000.0, ticker.Volume24h, 1e-9)
}

func TestParseTickerMissingFields(t *testing.T) {
	raw := json.RawMessage(`{"a": [], "b": [], "c": []}`)
	_, err := parseTicker(raw)
	require.Error(t, err)
}
