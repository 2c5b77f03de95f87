package market

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubSource is an in-memory Source with controllable failures
type stubSource struct {
	mu          sync.Mutex
	price       float64
	btcLast     float64
	btcOpen     float64
	failCandles bool
	failTicker  bool
	candleCalls int
	tickerCalls int
}

func newStubSource() *stubSource {
	return &stubSource{price: 0.60, btcLast: 51000, btcOpen: 50000}
}

func (s *stubSource) FetchCandles(ctx context.Context, pair string, intervalMinutes int) ([]Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candleCalls++
	if s.failCandles {
		return nil, errors.New("upstream candles unavailable")
	}

	candles := make([]Candle, 40)
	for i := range candles {
		candles[i] = Candle{
			Time:   int64(i) * int64(intervalMinutes) * 60,
			Open:   s.price,
			High:   s.price * 1.01,
			Low:    s.price * 0.99,
			Close:  s.price,
			VWAP:   s.price,
			Volume: 1000,
			Count:  10,
		}
	}
	return candles, nil
}

func (s *stubSource) FetchTicker(ctx context.Context, pair string) (*Ticker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickerCalls++
	if s.failTicker {
		return nil, errors.New("upstream ticker unavailable")
	}

	if pair == "BTC/EUR" {
		return &Ticker{Bid: s.btcLast - 10, Ask: s.btcLast + 10, Last: s.btcLast, Open24h: s.btcOpen}, nil
	}
	return &Ticker{
		Bid:       s.price - 0.0005,
		Ask:       s.price + 0.0005,
		Last:      s.price,
		Open24h:   s.price * 0.98,
		High24h:   s.price * 1.03,
		Low24h:    s.price * 0.97,
		Volume24h: 5_000_000,
	}, nil
}

func newTestCache(source Source) *Cache {
	return NewCache(source, CacheConfig{
		Pair:          "XRP/EUR",
		ReferencePair: "BTC/EUR",
		MinRefresh:    30 * time.Second,
	}, zerolog.Nop())
}

func TestCacheFetchSharesSnapshot(t *testing.T) {
	source := newStubSource()
	cache := newTestCache(source)

	first, err := cache.Fetch(context.Background(), false)
	require.NoError(t, err)
	require.NotNil(t, first)

	// 5 candle series + 2 tickers
	assert.Equal(t, 5, source.candleCalls)
	assert.Equal(t, 2, source.tickerCalls)

	second, err := cache.Fetch(context.Background(), false)
	require.NoError(t, err)
	assert.Same(t, first, second, "fresh snapshot must be shared, not refetched")
	assert.Equal(t, 5, source.candleCalls)
}

func TestCacheForceRefresh(t *testing.T) {
	source := newStubSource()
	cache := newTestCache(source)

	first, err := cache.Fetch(context.Background(), false)
	require.NoError(t, err)

	source.mu.Lock()
	source.price = 0.62
	source.mu.Unlock()

	second, err := cache.Fetch(context.Background(), true)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.InDelta(t, 0.62, second.LastPrice, 1e-9)
}

func TestCacheRetainsSnapshotOnFailure(t *testing.T) {
	source := newStubSource()
	cache := newTestCache(source)

	first, err := cache.Fetch(context.Background(), false)
	require.NoError(t, err)

	source.mu.Lock()
	source.failTicker = true
	source.mu.Unlock()

	_, err = cache.Fetch(context.Background(), true)
	require.Error(t, err)

	// Previous snapshot survives the failed refresh
	assert.Same(t, first, cache.Peek())
}

func TestCachePeekBeforeFetch(t *testing.T) {
	cache := newTestCache(newStubSource())
	assert.Nil(t, cache.Peek())
}

func TestSnapshotDerivedFields(t *testing.T) {
	source := newStubSource()
	cache := newTestCache(source)

	snap, err := cache.Fetch(context.Background(), false)
	require.NoError(t, err)

	assert.Len(t, snap.Timeframes, 5)
	for _, tf := range []string{"5m", "15m", "1h", "4h", "1d"} {
		require.Contains(t, snap.Timeframes, tf)
		assert.Len(t, snap.Timeframes[tf].Candles, 40)
	}

	// BTC moved +2% on the day
	assert.InDelta(t, 2.0, snap.BTCChange24h, 1e-9)
	assert.Equal(t, "bull", snap.BTCTrend)

	require.NotNil(t, snap.Recommendation)
	assert.Contains(t, []string{"LONG", "SHORT", "WAIT"}, snap.Recommendation.Action)
	assert.GreaterOrEqual(t, snap.Recommendation.Confidence, 50.0)
	assert.LessOrEqual(t, snap.Recommendation.Confidence, 95.0)
}

func TestTrendTag(t *testing.T) {
	assert.Equal(t, "bull", trendTag(1.5))
	assert.Equal(t, "bear", trendTag(-2.3))
	assert.Equal(t, "neut", trendTag(0.4))
}
