// Package market fetches and caches shared market data for the arena.
// One snapshot per refresh interval is shared by reference across every
// agent, so all agents always decide on identical data.
package market

import (
	"context"
	"time"

	"github.com/pr3m/xrparena/internal/indicators"
)

// Candle is a single OHLC bar
type Candle struct {
	Time   int64   `json:"time"` // unix seconds
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	VWAP   float64 `json:"vwap"`
	Volume float64 `json:"volume"`
	Count  int     `json:"count"`
}

// Ticker is the top-of-book plus 24h statistics for a pair
type Ticker struct {
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	Last      float64 `json:"last"`
	Open24h   float64 `json:"open_24h"`
	High24h   float64 `json:"high_24h"`
	Low24h    float64 `json:"low_24h"`
	Volume24h float64 `json:"volume_24h"`
}

// TimeframeData bundles the candle series and indicators for one timeframe
type TimeframeData struct {
	Candles    []Candle          `json:"candles"`
	Indicators indicators.Bundle `json:"indicators"`
}

// Recommendation is the cache's base trading recommendation, derived from
// the weighted per-timeframe bias scores
type Recommendation struct {
	Action     string  `json:"action"` // "LONG", "SHORT", "WAIT"
	Confidence float64 `json:"confidence"`
	Bias       float64 `json:"bias"` // weighted score in [-4, +4]
}

// Snapshot is an immutable view of the market produced once per refresh
type Snapshot struct {
	Pair           string                    `json:"pair"`
	LastPrice      float64                   `json:"last_price"`
	Bid            float64                   `json:"bid"`
	Ask            float64                   `json:"ask"`
	High24h        float64                   `json:"high_24h"`
	Low24h         float64                   `json:"low_24h"`
	Volume24h      float64                   `json:"volume_24h"`
	Timeframes     map[string]*TimeframeData `json:"timeframes"`
	BTCTrend       string                    `json:"btc_trend"` // "bull", "bear", "neut"
	BTCChange24h   float64                   `json:"btc_change_24h"`
	Recommendation *Recommendation           `json:"recommendation,omitempty"`
	FetchedAt      time.Time                 `json:"fetched_at"`
}

// Source is the upstream market data contract
type Source interface {
	FetchCandles(ctx context.Context, pair string, intervalMinutes int) ([]Candle, error)
	FetchTicker(ctx context.Context, pair string) (*Ticker, error)
}

// Timeframe names in deterministic order, with their candle intervals
var timeframeOrder = []string{"5m", "15m", "1h", "4h", "1d"}

var timeframeMinutes = map[string]int{
	"5m":  5,
	"15m": 15,
	"1h":  60,
	"4h":  240,
	"1d":  1440,
}

// Timeframe weights used for the base recommendation, summing to 100
var recommendationWeights = map[string]float64{
	"1d":  30,
	"4h":  25,
	"1h":  20,
	"15m": 15,
	"5m":  10,
}
