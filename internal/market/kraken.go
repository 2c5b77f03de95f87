package market

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Supported candle intervals in minutes
var validIntervals = map[int]bool{5: true, 15: true, 60: true, 240: true, 1440: true}

// KrakenClient reads public OHLC and ticker data from the Kraken REST API
type KrakenClient struct {
	client  *resty.Client
	limiter *rate.Limiter
	log     zerolog.Logger
}

// KrakenConfig contains settings for the Kraken client
type KrakenConfig struct {
	BaseURL           string
	RequestsPerSecond int
	Timeout           time.Duration
}

// NewKrakenClient creates a rate-limited Kraken public API client
func NewKrakenClient(cfg KrakenConfig, log zerolog.Logger) *KrakenClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.kraken.com"
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)

	return &KrakenClient{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.RequestsPerSecond),
		log:     log.With().Str("component", "kraken").Logger(),
	}
}

type krakenResponse struct {
	Error  []string                   `json:"error"`
	Result map[string]json.RawMessage `json:"result"`
}

// FetchCandles retrieves the OHLC series for a pair at the given interval
func (k *KrakenClient) FetchCandles(ctx context.Context, pair string, intervalMinutes int) ([]Candle, error) {
	if !validIntervals[intervalMinutes] {
		return nil, fmt.Errorf("unsupported candle interval: %d minutes", intervalMinutes)
	}

	if err := k.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := k.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"pair":     krakenPair(pair),
			"interval": strconv.Itoa(intervalMinutes),
		}).
		Get("/0/public/OHLC")
	if err != nil {
		return nil, fmt.Errorf("OHLC request failed: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("OHLC request returned status %d", resp.StatusCode())
	}

	var kr krakenResponse
	if err := json.Unmarshal(resp.Body(), &kr); err != nil {
		return nil, fmt.Errorf("failed to parse OHLC response: %w", err)
	}
	if len(kr.Error) > 0 {
		return nil, fmt.Errorf("kraken OHLC error: %s", strings.Join(kr.Error, "; "))
	}

	// The result holds the pair series under Kraken's canonical pair name
	// plus a "last" cursor; take the single array entry.
	for key, raw := range kr.Result {
		if key == "last" {
			continue
		}
		return parseOHLCSeries(raw)
	}

	return nil, fmt.Errorf("OHLC response missing series for pair %s", pair)
}

// FetchTicker retrieves top-of-book and 24h stats for a pair
func (k *KrakenClient) FetchTicker(ctx context.Context, pair string) (*Ticker, error) {
	if err := k.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := k.client.R().
		SetContext(ctx).
		SetQueryParam("pair", krakenPair(pair)).
		Get("/0/public/Ticker")
	if err != nil {
		return nil, fmt.Errorf("ticker request failed: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("ticker request returned status %d", resp.StatusCode())
	}

	var kr krakenResponse
	if err := json.Unmarshal(resp.Body(), &kr); err != nil {
		return nil, fmt.Errorf("failed to parse ticker response: %w", err)
	}
	if len(kr.Error) > 0 {
		return nil, fmt.Errorf("kraken ticker error: %s", strings.Join(kr.Error, "; "))
	}

	for _, raw := range kr.Result {
		return parseTicker(raw)
	}

	return nil, fmt.Errorf("ticker response missing pair %s", pair)
}

// krakenPair converts "XRP/EUR" into Kraken's request form "XRPEUR"
func krakenPair(pair string) string {
	return strings.ReplaceAll(pair, "/", "")
}

// Kraken mixes numbers and decimal strings in OHLC rows and ticker fields
func parseOHLCSeries(raw json.RawMessage) ([]Candle, error) {
	var rows [][]any
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse OHLC series: %w", err)
	}

	candles := make([]Candle, 0, len(rows))
	for i, row := range rows {
		if len(row) < 8 {
			return nil, fmt.Errorf("OHLC row %d has %d fields, want 8", i, len(row))
		}
		c := Candle{
			Time:   int64(toFloat(row[0])),
			Open:   toFloat(row[1]),
			High:   toFloat(row[2]),
			Low:    toFloat(row[3]),
			Close:  toFloat(row[4]),
			VWAP:   toFloat(row[5]),
			Volume: toFloat(row[6]),
			Count:  int(toFloat(row[7])),
		}
		candles = append(candles, c)
	}

	return candles, nil
}

type krakenTicker struct {
	Ask    []string `json:"a"`
	Bid    []string `json:"b"`
	Last   []string `json:"c"`
	Volume []string `json:"v"`
	High   []string `json:"h"`
	Low    []string `json:"l"`
	Open   string   `json:"o"`
}

func parseTicker(raw json.RawMessage) (*Ticker, error) {
	var kt krakenTicker
	if err := json.Unmarshal(raw, &kt); err != nil {
		return nil, fmt.Errorf("failed to parse ticker: %w", err)
	}
	if len(kt.Ask) == 0 || len(kt.Bid) == 0 || len(kt.Last) == 0 {
		return nil, fmt.Errorf("ticker missing book fields")
	}

	t := &Ticker{
		Ask:     parseFloat(kt.Ask[0]),
		Bid:     parseFloat(kt.Bid[0]),
		Last:    parseFloat(kt.Last[0]),
		Open24h: parseFloat(kt.Open),
	}

	// Kraken reports [today, last 24h]; use the 24h window when present
	if len(kt.High) > 1 {
		t.High24h = parseFloat(kt.High[1])
	} else if len(kt.High) > 0 {
		t.High24h = parseFloat(kt.High[0])
	}
	if len(kt.Low) > 1 {
		t.Low24h = parseFloat(kt.Low[1])
	} else if len(kt.Low) > 0 {
		t.Low24h = parseFloat(kt.Low[0])
	}
	if len(kt.Volume) > 1 {
		t.Volume24h = parseFloat(kt.Volume[1])
	} else if len(kt.Volume) > 0 {
		t.Volume24h = parseFloat(kt.Volume[0])
	}

	return t, nil
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		return parseFloat(x)
	default:
		return 0
	}
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
