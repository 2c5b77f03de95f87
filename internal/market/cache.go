package market

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/pr3m/xrparena/internal/indicators"
)

// Circuit breaker settings for the upstream market source
const (
	sourceMinRequests  = 5
	sourceFailureRatio = 0.6
	sourceOpenTimeout  = 30 * time.Second
)

// Cache holds at most one market snapshot and refreshes it on demand.
// Within a refresh interval every caller sees the identical snapshot.
// A refresh is all-or-nothing: if any upstream read fails the previous
// snapshot is retained and the error is returned to the caller.
type Cache struct {
	source     Source
	pair       string
	refPair    string
	minRefresh time.Duration
	breaker    *gobreaker.CircuitBreaker
	mirror     *Mirror
	log        zerolog.Logger

	mu   sync.Mutex
	snap *Snapshot
}

// CacheConfig contains cache settings
type CacheConfig struct {
	Pair          string
	ReferencePair string // BTC pair used for the market trend tag
	MinRefresh    time.Duration
	Mirror        *Mirror // optional redis mirror for external readers
}

// NewCache creates a market data cache over the given source
func NewCache(source Source, cfg CacheConfig, log zerolog.Logger) *Cache {
	if cfg.MinRefresh == 0 {
		cfg.MinRefresh = 30 * time.Second
	}
	if cfg.ReferencePair == "" {
		cfg.ReferencePair = "BTC/EUR"
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "market-source",
		Timeout: sourceOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= sourceMinRequests && ratio >= sourceFailureRatio
		},
	})

	return &Cache{
		source:     source,
		pair:       cfg.Pair,
		refPair:    cfg.ReferencePair,
		minRefresh: cfg.MinRefresh,
		breaker:    breaker,
		mirror:     cfg.Mirror,
		log:        log.With().Str("component", "market_cache").Logger(),
	}
}

// Fetch returns the cached snapshot when it is fresh enough, otherwise
// refreshes from upstream. forceRefresh bypasses the freshness check.
func (c *Cache) Fetch(ctx context.Context, forceRefresh bool) (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snap != nil && !forceRefresh && time.Since(c.snap.FetchedAt) < c.minRefresh {
		return c.snap, nil
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.refresh(ctx)
	})
	if err != nil {
		c.log.Warn().Err(err).Msg("Market refresh failed, retaining previous snapshot")
		return nil, err
	}

	snap := result.(*Snapshot)
	c.snap = snap

	if c.mirror != nil {
		go c.mirror.Write(snap)
	}

	return snap, nil
}

// Peek returns the last cached snapshot without fetching, or nil
func (c *Cache) Peek() *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// refresh issues all upstream reads concurrently and joins before computing
// indicators, so a snapshot is either complete or absent
func (c *Cache) refresh(ctx context.Context) (*Snapshot, error) {
	g, gctx := errgroup.WithContext(ctx)

	series := make(map[string][]Candle, len(timeframeOrder))
	var seriesMu sync.Mutex
	var pairTicker, refTicker *Ticker

	for _, tf := range timeframeOrder {
		tf := tf
		g.Go(func() error {
			candles, err := c.source.FetchCandles(gctx, c.pair, timeframeMinutes[tf])
			if err != nil {
				return fmt.Errorf("candles %s: %w", tf, err)
			}
			seriesMu.Lock()
			series[tf] = candles
			seriesMu.Unlock()
			return nil
		})
	}

	g.Go(func() error {
		t, err := c.source.FetchTicker(gctx, c.pair)
		if err != nil {
			return fmt.Errorf("ticker %s: %w", c.pair, err)
		}
		pairTicker = t
		return nil
	})

	g.Go(func() error {
		t, err := c.source.FetchTicker(gctx, c.refPair)
		if err != nil {
			return fmt.Errorf("ticker %s: %w", c.refPair, err)
		}
		refTicker = t
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Pair:       c.pair,
		LastPrice:  pairTicker.Last,
		Bid:        pairTicker.Bid,
		Ask:        pairTicker.Ask,
		High24h:    pairTicker.High24h,
		Low24h:     pairTicker.Low24h,
		Volume24h:  pairTicker.Volume24h,
		Timeframes: make(map[string]*TimeframeData, len(timeframeOrder)),
		FetchedAt:  time.Now(),
	}

	for _, tf := range timeframeOrder {
		candles := series[tf]
		highs := make([]float64, len(candles))
		lows := make([]float64, len(candles))
		closes := make([]float64, len(candles))
		volumes := make([]float64, len(candles))
		for i, cd := range candles {
			highs[i] = cd.High
			lows[i] = cd.Low
			closes[i] = cd.Close
			volumes[i] = cd.Volume
		}
		snap.Timeframes[tf] = &TimeframeData{
			Candles:    candles,
			Indicators: indicators.Composite(highs, lows, closes, volumes),
		}
	}

	snap.BTCChange24h = change24h(refTicker)
	snap.BTCTrend = trendTag(snap.BTCChange24h)
	snap.Recommendation = computeRecommendation(snap)

	c.log.Debug().
		Float64("price", snap.LastPrice).
		Str("btc_trend", snap.BTCTrend).
		Str("recommendation", snap.Recommendation.Action).
		Msg("Market snapshot refreshed")

	return snap, nil
}

func change24h(t *Ticker) float64 {
	if t == nil || t.Open24h == 0 {
		return 0
	}
	return (t.Last - t.Open24h) / t.Open24h * 100
}

func trendTag(changePct float64) string {
	switch {
	case changePct >= 1:
		return "bull"
	case changePct <= -1:
		return "bear"
	default:
		return "neut"
	}
}

// computeRecommendation folds the per-timeframe bias scores into a single
// weighted bias and maps it onto LONG/SHORT/WAIT
func computeRecommendation(snap *Snapshot) *Recommendation {
	weighted := 0.0
	for tf, data := range snap.Timeframes {
		weighted += recommendationWeights[tf] * float64(data.Indicators.BiasScore) / 100
	}

	action := "WAIT"
	switch {
	case weighted >= 1.5:
		action = "LONG"
	case weighted <= -1.5:
		action = "SHORT"
	}

	confidence := math.Min(95, 50+math.Abs(weighted)*12)

	return &Recommendation{
		Action:     action,
		Confidence: confidence,
		Bias:       weighted,
	}
}
