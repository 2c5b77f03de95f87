package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pr3m/xrparena/internal/config"
	"github.com/pr3m/xrparena/internal/market"
	"github.com/pr3m/xrparena/internal/orchestrator"
	"github.com/pr3m/xrparena/internal/store"
)

// nopStore satisfies the orchestrator store contract without a database
type nopStore struct{}

func (nopStore) CreateSession(context.Context, *store.ArenaSession) error { return nil }
func (nopStore) MarkSessionStarted(context.Context, uuid.UUID, time.Time, float64) error {
	return nil
}
func (nopStore) UpdateSessionStatus(context.Context, uuid.UUID, store.SessionStatus) error {
	return nil
}
func (nopStore) CompleteSession(context.Context, uuid.UUID, time.Time, float64, int64, map[string]interface{}) error {
	return nil
}
func (nopStore) CreateAgent(context.Context, *store.ArenaAgent) error { return nil }
func (nopStore) UpdateAgent(context.Context, *store.ArenaAgent) error { return nil }
func (nopStore) ListAgentsBySession(context.Context, uuid.UUID) ([]*store.ArenaAgent, error) {
	return nil, nil
}
func (nopStore) CreatePosition(context.Context, *store.ArenaPosition) error          { return nil }
func (nopStore) UpdatePositionAveraging(context.Context, *store.ArenaPosition) error { return nil }
func (nopStore) ClosePosition(context.Context, *store.ArenaPosition) error           { return nil }
func (nopStore) AppendDecisions(context.Context, []*store.ArenaDecision) error       { return nil }
func (nopStore) WriteSnapshot(context.Context, *store.ArenaSnapshot) error           { return nil }

// flatSource serves a constant synthetic market
type flatSource struct{ price float64 }

func (f flatSource) FetchCandles(_ context.Context, _ string, _ int) ([]market.Candle, error) {
	candles := make([]market.Candle, 40)
	base := time.Now().Add(-40 * time.Hour)
	for i := range candles {
		candles[i] = market.Candle{
			Time: base.Add(time.Duration(i) * time.Hour).Unix(),
			Open: f.price, High: f.price * 1.002, Low: f.price * 0.998, Close: f.price,
			Volume: 1000, Count: 10,
		}
	}
	return candles, nil
}

func (f flatSource) FetchTicker(_ context.Context, _ string) (*market.Ticker, error) {
	return &market.Ticker{
		Last: f.price, Bid: f.price, Ask: f.price,
		Open24h: f.price, High24h: f.price * 1.01, Low24h: f.price * 0.99, Volume24h: 100000,
	}, nil
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cache := market.NewCache(flatSource{price: 0.60}, market.CacheConfig{Pair: "XRP/EUR"}, zerolog.Nop())
	orch := orchestrator.New(t.Name(), orchestrator.Deps{
		Cache:  cache,
		Store:  nopStore{},
		Logger: zerolog.Nop(),
	})

	cfg := &config.Config{
		App:  config.AppConfig{Environment: "development"},
		HTTP: config.HTTPConfig{AllowedOrigins: []string{"*"}},
		Arena: config.ArenaConfig{
			Pair:               "XRP/EUR",
			ReferencePair:      "BTC/EUR",
			AgentCount:         2,
			StartingCapital:    1000,
			DecisionIntervalMs: 60000,
			MaxDurationHours:   1,
			Leverage:           10,
		},
	}

	hub := NewHub(orch)
	go hub.Run()
	return newServer(orch, cache, nil, hub, cfg).router()
}

func doRequest(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(t)
	w := doRequest(router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	router := newTestRouter(t)

	w := doRequest(router, http.MethodPost, "/api/v1/session", `{"agent_count":2}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var created struct {
		SessionID string `json:"session_id"`
		Theme     string `json:"theme"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.NotEmpty(t, created.SessionID)
	assert.NotEmpty(t, created.Theme)

	w = doRequest(router, http.MethodPost, "/api/v1/session/start", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, http.MethodGet, "/api/v1/session", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"running"`)

	w = doRequest(router, http.MethodPost, "/api/v1/session/pause", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, http.MethodPost, "/api/v1/session/resume", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, http.MethodPost, "/api/v1/session/stop", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "winner")

	// a second stop has nothing to act on
	w = doRequest(router, http.MethodPost, "/api/v1/session/stop", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCreateSessionRejectsBadConfig(t *testing.T) {
	router := newTestRouter(t)
	w := doRequest(router, http.MethodPost, "/api/v1/session", `{"agent_count":1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStartWithoutSessionConflicts(t *testing.T) {
	router := newTestRouter(t)
	w := doRequest(router, http.MethodPost, "/api/v1/session/start", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAgentStrategyExport(t *testing.T) {
	router := newTestRouter(t)

	w := doRequest(router, http.MethodPost, "/api/v1/session", `{"agent_count":2}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var created struct {
		Agents []struct {
			ID string `json:"id"`
		} `json:"agents"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.Len(t, created.Agents, 2)

	w = doRequest(router, http.MethodGet, "/api/v1/agents/"+created.Agents[0].ID+"/strategy", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "entry_confidence")

	w = doRequest(router, http.MethodGet, "/api/v1/agents/"+created.Agents[0].ID+"/strategy?format=yaml", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "yaml")
	assert.Contains(t, w.Body.String(), "entry_confidence:")

	w = doRequest(router, http.MethodGet, "/api/v1/agents/"+uuid.NewString()+"/strategy", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(router, http.MethodGet, "/api/v1/agents/not-a-uuid/strategy", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestValidateStrategyAcceptsYAMLAndJSON(t *testing.T) {
	router := newTestRouter(t)

	w := doRequest(router, http.MethodPost, "/api/v1/strategy/validate",
		"style: scalping\nentry_confidence: 200\n")
	require.Equal(t, http.StatusOK, w.Code)

	var result struct {
		Strategy struct {
			Style           string  `json:"style"`
			EntryConfidence float64 `json:"entry_confidence"`
		} `json:"strategy"`
		Warnings []string `json:"warnings"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "scalping", result.Strategy.Style)
	assert.Equal(t, 95.0, result.Strategy.EntryConfidence)
	assert.NotEmpty(t, result.Warnings)

	w = doRequest(router, http.MethodPost, "/api/v1/strategy/validate",
		`{"style":"momentum","max_dca_count":1}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"style":"momentum"`)

	w = doRequest(router, http.MethodPost, "/api/v1/strategy/validate", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRankingsEmptyWhenIdle(t *testing.T) {
	router := newTestRouter(t)
	w := doRequest(router, http.MethodGet, "/api/v1/rankings", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
