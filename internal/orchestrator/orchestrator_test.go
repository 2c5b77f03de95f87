package orchestrator

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pr3m/xrparena/internal/arena"
	"github.com/pr3m/xrparena/internal/engine"
	"github.com/pr3m/xrparena/internal/market"
	"github.com/pr3m/xrparena/internal/roster"
	"github.com/pr3m/xrparena/internal/store"
	"github.com/pr3m/xrparena/internal/strategy"
)

// stubSource serves a flat synthetic market so ticks never hit the network
type stubSource struct {
	mu    sync.Mutex
	price float64
	err   error
}

func (s *stubSource) setPrice(p float64) {
	s.mu.Lock()
	s.price = p
	s.mu.Unlock()
}

func (s *stubSource) FetchCandles(_ context.Context, _ string, _ int) ([]market.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	candles := make([]market.Candle, 40)
	base := time.Now().Add(-40 * time.Hour)
	for i := range candles {
		candles[i] = market.Candle{
			Time:   base.Add(time.Duration(i) * time.Hour).Unix(),
			Open:   s.price,
			High:   s.price * 1.002,
			Low:    s.price * 0.998,
			Close:  s.price,
			Volume: 1000,
			Count:  10,
		}
	}
	return candles, nil
}

func (s *stubSource) FetchTicker(_ context.Context, _ string) (*market.Ticker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return &market.Ticker{
		Last: s.price, Bid: s.price * 0.999, Ask: s.price * 1.001,
		Open24h: s.price, High24h: s.price * 1.01, Low24h: s.price * 0.99,
		Volume24h: 500000,
	}, nil
}

// memStore is an in-memory Store for orchestrator tests
type memStore struct {
	mu              sync.Mutex
	sessions        map[uuid.UUID]*store.ArenaSession
	statuses        map[uuid.UUID]store.SessionStatus
	completed       map[uuid.UUID]map[string]interface{}
	agents          map[uuid.UUID]*store.ArenaAgent
	positions       map[uuid.UUID]*store.ArenaPosition
	closedPositions int
	decisions       []*store.ArenaDecision
	snapshots       int
	appendErr       error
	listFixture     []*store.ArenaAgent
}

func newMemStore() *memStore {
	return &memStore{
		sessions:  make(map[uuid.UUID]*store.ArenaSession),
		statuses:  make(map[uuid.UUID]store.SessionStatus),
		completed: make(map[uuid.UUID]map[string]interface{}),
		agents:    make(map[uuid.UUID]*store.ArenaAgent),
		positions: make(map[uuid.UUID]*store.ArenaPosition),
	}
}

func (m *memStore) CreateSession(_ context.Context, s *store.ArenaSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	m.statuses[s.ID] = s.Status
	return nil
}

func (m *memStore) MarkSessionStarted(_ context.Context, id uuid.UUID, _ time.Time, _ float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[id] = store.SessionRunning
	return nil
}

func (m *memStore) UpdateSessionStatus(_ context.Context, id uuid.UUID, status store.SessionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[id] = status
	return nil
}

func (m *memStore) CompleteSession(_ context.Context, id uuid.UUID, _ time.Time, _ float64, _ int64, summary map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[id] = store.SessionCompleted
	m.completed[id] = summary
	return nil
}

func (m *memStore) CreateAgent(_ context.Context, a *store.ArenaAgent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[a.ID] = a
	return nil
}

func (m *memStore) UpdateAgent(_ context.Context, a *store.ArenaAgent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[a.ID] = a
	return nil
}

func (m *memStore) ListAgentsBySession(_ context.Context, _ uuid.UUID) ([]*store.ArenaAgent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listFixture, nil
}

func (m *memStore) CreatePosition(_ context.Context, p *store.ArenaPosition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[p.ID] = p
	return nil
}

func (m *memStore) UpdatePositionAveraging(_ context.Context, p *store.ArenaPosition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[p.ID] = p
	return nil
}

func (m *memStore) ClosePosition(_ context.Context, _ *store.ArenaPosition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closedPositions++
	return nil
}

func (m *memStore) AppendDecisions(_ context.Context, decisions []*store.ArenaDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	m.decisions = append(m.decisions, decisions...)
	return nil
}

func (m *memStore) WriteSnapshot(_ context.Context, _ *store.ArenaSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots++
	return nil
}

func testConfig() arena.SessionConfig {
	return arena.SessionConfig{
		Pair:             "XRP/EUR",
		AgentCount:       2,
		StartingCapital:  1000,
		DecisionInterval: time.Second,
		MaxDuration:      time.Hour,
		Leverage:         10,
	}
}

func testRoster(t *testing.T, count int) *roster.Roster {
	t.Helper()
	lineup, err := roster.FromArchetypes(count, nil, strategy.SessionLimits{Leverage: 10, DurationHours: 1}, rand.New(rand.NewSource(7)))
	require.NoError(t, err)
	return lineup
}

func testArena(t *testing.T, db Store, src market.Source) *Orchestrator {
	t.Helper()
	cache := market.NewCache(src, market.CacheConfig{Pair: "XRP/EUR"}, zerolog.Nop())
	return New(t.Name(), Deps{
		Cache:          cache,
		Store:          db,
		Logger:         zerolog.Nop(),
		AutoPauseAfter: time.Minute,
	})
}

func createdArena(t *testing.T, db *memStore, src *stubSource) *Orchestrator {
	t.Helper()
	o := testArena(t, db, src)
	cfg := testConfig()
	_, _, err := o.CreateSession(context.Background(), cfg, testRoster(t, cfg.AgentCount))
	require.NoError(t, err)
	return o
}

func startedArena(t *testing.T, db *memStore, src *stubSource) *Orchestrator {
	t.Helper()
	o := createdArena(t, db, src)
	require.NoError(t, o.Start(context.Background()))
	return o
}

func TestCreateSessionPersistsRoster(t *testing.T) {
	db := newMemStore()
	o := testArena(t, db, &stubSource{price: 0.60})

	cfg := testConfig()
	sessionID, agents, err := o.CreateSession(context.Background(), cfg, testRoster(t, cfg.AgentCount))
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, sessionID)
	assert.Len(t, agents, 2)
	for _, st := range agents {
		assert.Equal(t, 100.0, st.Health)
		assert.Equal(t, 1000.0, st.Balance)
	}
	assert.Len(t, db.agents, 2)
	assert.Equal(t, store.SessionPending, db.statuses[sessionID])
}

func TestCreateSessionRejectsRosterMismatch(t *testing.T) {
	o := testArena(t, newMemStore(), &stubSource{price: 0.60})
	cfg := testConfig()
	_, _, err := o.CreateSession(context.Background(), cfg, testRoster(t, 3))
	assert.ErrorContains(t, err, "roster has 3 agents")
}

func TestStartFailsWhenMarketDown(t *testing.T) {
	db := newMemStore()
	src := &stubSource{price: 0.60, err: fmt.Errorf("kraken down")}
	o := testArena(t, db, src)
	cfg := testConfig()
	_, _, err := o.CreateSession(context.Background(), cfg, testRoster(t, cfg.AgentCount))
	require.NoError(t, err)

	err = o.Start(context.Background())
	assert.ErrorContains(t, err, "initial market fetch failed")
	assert.Equal(t, StatusIdle, o.Status())

	// the session is retryable once the market recovers
	src.mu.Lock()
	src.err = nil
	src.mu.Unlock()
	require.NoError(t, o.Start(context.Background()))
	assert.Equal(t, StatusRunning, o.Status())
	_, _ = o.Stop(context.Background())
}

func TestStopReturnsSummaryAndIsFinal(t *testing.T) {
	db := newMemStore()
	o := startedArena(t, db, &stubSource{price: 0.60})
	sessionID := o.SessionID()

	summary, err := o.Stop(context.Background())
	require.NoError(t, err)
	require.NotNil(t, summary)

	assert.Equal(t, sessionID, summary.SessionID)
	assert.Len(t, summary.Rankings, 2)
	assert.NotEmpty(t, summary.Winner)
	assert.Equal(t, 0.60, summary.StartPrice)
	assert.Equal(t, StatusIdle, o.Status())
	assert.Equal(t, store.SessionCompleted, db.statuses[sessionID])

	_, err = o.Stop(context.Background())
	assert.Error(t, err)
}

func TestStopForceClosesOpenPositions(t *testing.T) {
	db := newMemStore()
	o := startedArena(t, db, &stubSource{price: 0.60})

	o.mu.Lock()
	rt := o.agents[o.agentIDs[0]]
	next, _, err := engine.OpenPosition(rt.state, arena.SideLong, 0.60, 10, 10, "test entry", time.Now())
	require.NoError(t, err)
	rt.state = next
	o.mu.Unlock()

	summary, err := o.Stop(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, db.closedPositions)
	for _, view := range summary.Rankings {
		assert.Nil(t, view.Position)
	}
}

func TestTicksNeverOverlap(t *testing.T) {
	db := newMemStore()
	o := startedArena(t, db, &stubSource{price: 0.60})
	defer o.Stop(context.Background())

	before := o.CurrentTick()
	o.mu.Lock()
	o.runTick() // TryLock fails, the cadence is skipped
	o.mu.Unlock()
	assert.Equal(t, before, o.CurrentTick())
}

func TestTickAdvancesAndEmits(t *testing.T) {
	db := newMemStore()
	o := startedArena(t, db, &stubSource{price: 0.60})
	defer o.Stop(context.Background())

	var received []arena.Event
	var recvMu sync.Mutex
	unsubscribe := o.Subscribe(SinkFunc(func(e arena.Event) error {
		recvMu.Lock()
		received = append(received, e)
		recvMu.Unlock()
		return nil
	}))
	defer unsubscribe()

	o.runTick()

	assert.Equal(t, 1, o.CurrentTick())
	recvMu.Lock()
	defer recvMu.Unlock()
	var sawTick bool
	for _, e := range received {
		if e.Type == arena.EventTick {
			sawTick = true
			assert.Equal(t, 1, e.Metadata["tick"])
		}
	}
	assert.True(t, sawTick)
}

func TestAutoPauseAndResumeOnSubscribe(t *testing.T) {
	db := newMemStore()
	src := &stubSource{price: 0.60}
	cache := market.NewCache(src, market.CacheConfig{Pair: "XRP/EUR"}, zerolog.Nop())
	o := New(t.Name(), Deps{
		Cache:          cache,
		Store:          db,
		Logger:         zerolog.Nop(),
		AutoPauseAfter: time.Millisecond,
	})
	cfg := testConfig()
	_, _, err := o.CreateSession(context.Background(), cfg, testRoster(t, cfg.AgentCount))
	require.NoError(t, err)
	require.NoError(t, o.Start(context.Background()))
	defer o.Stop(context.Background())

	time.Sleep(5 * time.Millisecond)
	o.runTick()
	assert.Equal(t, StatusPaused, o.Status())

	unsubscribe := o.Subscribe(SinkFunc(func(arena.Event) error { return nil }))
	defer unsubscribe()
	assert.Equal(t, StatusRunning, o.Status())
}

func TestMaxDurationStopsSession(t *testing.T) {
	db := newMemStore()
	o := startedArena(t, db, &stubSource{price: 0.60})
	sessionID := o.SessionID()

	o.mu.Lock()
	o.startedAt = time.Now().Add(-2 * time.Hour)
	o.mu.Unlock()

	o.runTick()
	assert.Equal(t, StatusIdle, o.Status())
	assert.Equal(t, store.SessionCompleted, db.statuses[sessionID])
}

func TestEventRingStaysBounded(t *testing.T) {
	db := newMemStore()
	o := createdArena(t, db, &stubSource{price: 0.60})

	o.mu.Lock()
	o.ring = nil
	for i := 0; i < eventRingSize+100; i++ {
		o.emitLocked(arena.NewEvent(arena.EventMilestone, arena.ImportanceLow,
			fmt.Sprintf("event %d", i), "", 0.60))
	}
	o.mu.Unlock()

	buffer := o.EventBuffer()
	assert.Len(t, buffer, eventRingSize)
	assert.Equal(t, "event 100", buffer[0].Title)
}

func TestTickEventsSkipReplayRing(t *testing.T) {
	db := newMemStore()
	o := createdArena(t, db, &stubSource{price: 0.60})

	o.mu.Lock()
	o.ring = nil
	o.emitLocked(arena.NewEvent(arena.EventTick, arena.ImportanceLow, "Tick 1", "", 0.60))
	o.emitLocked(arena.NewEvent(arena.EventTradeOpen, arena.ImportanceHigh, "open", "", 0.60))
	o.mu.Unlock()

	buffer := o.EventBuffer()
	require.Len(t, buffer, 1)
	assert.Equal(t, arena.EventTradeOpen, buffer[0].Type)
}

func TestFailedFlushKeepsBuffer(t *testing.T) {
	db := newMemStore()
	o := createdArena(t, db, &stubSource{price: 0.60})

	o.mu.Lock()
	o.decisionBuf = []*store.ArenaDecision{{Tick: 1, Action: "open_long"}}
	db.appendErr = fmt.Errorf("postgres down")
	o.flushDecisionsLocked(context.Background())
	assert.Len(t, o.decisionBuf, 1)

	db.appendErr = nil
	o.flushDecisionsLocked(context.Background())
	assert.Empty(t, o.decisionBuf)
	o.mu.Unlock()

	db.mu.Lock()
	defer db.mu.Unlock()
	assert.Len(t, db.decisions, 1)
}

func TestDegradedStopReconstructsFromStore(t *testing.T) {
	db := newMemStore()
	aliceID, bobID := uuid.New(), uuid.New()
	db.listFixture = []*store.ArenaAgent{
		{ID: aliceID, Name: "Blade", Rank: 2, Status: "alive", CurrentCapital: 900},
		{ID: bobID, Name: "Surge", Rank: 1, Status: "alive", CurrentCapital: 1200},
	}
	o := testArena(t, db, &stubSource{price: 0.60})

	o.mu.Lock()
	o.sessionID = uuid.New()
	o.status = StatusRunning
	o.mu.Unlock()

	summary, err := o.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Surge", summary.Winner)
	assert.Len(t, summary.Rankings, 2)
	assert.Equal(t, StatusIdle, o.Status())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	db := newMemStore()
	o := createdArena(t, db, &stubSource{price: 0.60})

	var count int
	var countMu sync.Mutex
	unsubscribe := o.Subscribe(SinkFunc(func(arena.Event) error {
		countMu.Lock()
		count++
		countMu.Unlock()
		return nil
	}))

	o.mu.Lock()
	o.emitLocked(arena.NewEvent(arena.EventMilestone, arena.ImportanceLow, "one", "", 0))
	o.mu.Unlock()
	unsubscribe()
	o.mu.Lock()
	o.emitLocked(arena.NewEvent(arena.EventMilestone, arena.ImportanceLow, "two", "", 0))
	o.mu.Unlock()

	countMu.Lock()
	defer countMu.Unlock()
	assert.Equal(t, 1, count)
}

func TestSinkErrorsAreIsolated(t *testing.T) {
	db := newMemStore()
	o := createdArena(t, db, &stubSource{price: 0.60})

	var delivered bool
	unsubBroken := o.Subscribe(SinkFunc(func(arena.Event) error {
		return fmt.Errorf("sink broken")
	}))
	defer unsubBroken()
	unsubGood := o.Subscribe(SinkFunc(func(arena.Event) error {
		delivered = true
		return nil
	}))
	defer unsubGood()

	o.mu.Lock()
	o.emitLocked(arena.NewEvent(arena.EventMilestone, arena.ImportanceLow, "x", "", 0))
	o.mu.Unlock()
	assert.True(t, delivered)
}

func TestRegistryReturnsSameInstance(t *testing.T) {
	deps := Deps{Logger: zerolog.Nop()}
	defer Remove(t.Name())

	a := GetOrCreate(t.Name(), deps)
	b := GetOrCreate(t.Name(), deps)
	assert.Same(t, a, b)
}
