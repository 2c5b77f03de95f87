// Package orchestrator runs the arena session: the tick loop, the agent
// lifecycle, event fan-out with replay, and persistence scheduling. It is
// the only component that mutates agent state; everything it calls is a
// data-in/data-out transformation.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pr3m/xrparena/internal/arena"
	"github.com/pr3m/xrparena/internal/engine"
	"github.com/pr3m/xrparena/internal/llm"
	"github.com/pr3m/xrparena/internal/market"
	"github.com/pr3m/xrparena/internal/roster"
	"github.com/pr3m/xrparena/internal/store"
)

// Status is the orchestrator lifecycle state
type Status string

const (
	StatusIdle     Status = "idle"
	StatusRunning  Status = "running"
	StatusPaused   Status = "paused"
	StatusStopping Status = "stopping"
)

// Sink receives every emitted event. Sinks must be non-blocking; a sink
// error is isolated and never affects other subscribers.
type Sink interface {
	Deliver(event arena.Event) error
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(event arena.Event) error

// Deliver calls f
func (f SinkFunc) Deliver(event arena.Event) error { return f(event) }

const (
	eventRingSize      = 500
	decisionFlushTicks = 10
	holdSampleTicks    = 10
)

// Deps are the external capabilities an orchestrator needs
type Deps struct {
	Cache   *market.Cache
	Store   Store
	Invoker llm.Invoker // optional; nil disables tier-2 and model rosters
	Logger  zerolog.Logger

	// AutoPauseAfter pauses the session after this long without any
	// subscriber. Zero means the 30s default.
	AutoPauseAfter time.Duration
	// SnapshotEvery is the wall-clock snapshot cadence, default 5m
	SnapshotEvery time.Duration
}

// agentRuntime bundles everything the tick path needs per agent
type agentRuntime struct {
	state        *arena.AgentState
	engine       *engine.DecisionEngine
	roster       *roster.Agent
	budgetUSD    float64
	budgetWarned bool
}

// Orchestrator is a single logical arena instance, keyed by name in the
// process registry
type Orchestrator struct {
	name    string
	log     zerolog.Logger
	cache   *market.Cache
	store   Store
	invoker llm.Invoker
	metrics *Metrics

	autoPauseAfter time.Duration
	snapshotEvery  time.Duration

	// mu serialises lifecycle operations and the tick path; the tick
	// skips its turn when it cannot take the lock immediately
	mu sync.Mutex

	status    Status
	sessionID uuid.UUID
	config    arena.SessionConfig
	theme     string

	agents   map[uuid.UUID]*agentRuntime
	agentIDs []uuid.UUID // deterministic iteration order

	detector *arena.Detector
	knives   *engine.KnifeTracker

	tick         int
	startedAt    time.Time
	startPrice   float64
	currentPrice float64

	ring      []arena.Event
	prevOrder []uuid.UUID

	subMu            sync.Mutex
	subscribers      map[int]Sink
	nextSubID        int
	lastSubscriberAt time.Time

	decisionBuf    []*store.ArenaDecision
	lastFlushTick  int
	lastSnapshotAt time.Time

	schedulerStop chan struct{}
}

// New creates an orchestrator. Use GetOrCreate for the shared instance.
func New(name string, deps Deps) *Orchestrator {
	autoPause := deps.AutoPauseAfter
	if autoPause == 0 {
		autoPause = 30 * time.Second
	}
	snapshotEvery := deps.SnapshotEvery
	if snapshotEvery == 0 {
		snapshotEvery = 5 * time.Minute
	}
	return &Orchestrator{
		name:           name,
		log:            deps.Logger.With().Str("component", "orchestrator").Str("arena", name).Logger(),
		cache:          deps.Cache,
		store:          deps.Store,
		invoker:        deps.Invoker,
		metrics:        getOrCreateMetrics(),
		autoPauseAfter: autoPause,
		snapshotEvery:  snapshotEvery,
		status:         StatusIdle,
		subscribers:    make(map[int]Sink),
	}
}

// CreateSession persists a new session with its roster and seeds the
// in-memory maps. Requires idle status.
func (o *Orchestrator) CreateSession(ctx context.Context, config arena.SessionConfig, lineup *roster.Roster) (uuid.UUID, []*arena.AgentState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.status != StatusIdle {
		return uuid.Nil, nil, fmt.Errorf("cannot create session while %s", o.status)
	}
	if err := config.Validate(); err != nil {
		return uuid.Nil, nil, fmt.Errorf("invalid session config: %w", err)
	}
	if len(lineup.Agents) != config.AgentCount {
		return uuid.Nil, nil, fmt.Errorf("roster has %d agents, config wants %d", len(lineup.Agents), config.AgentCount)
	}

	sessionID := uuid.New()
	session := &store.ArenaSession{
		ID:     sessionID,
		Status: store.SessionPending,
		Config: configMap(config),
	}
	if err := o.store.CreateSession(ctx, session); err != nil {
		return uuid.Nil, nil, fmt.Errorf("failed to persist session: %w", err)
	}

	perAgentBudget := config.PerAgentBudgetUSD
	if perAgentBudget == 0 && config.SessionBudgetUSD > 0 {
		perAgentBudget = config.SessionBudgetUSD / float64(config.AgentCount)
	}

	o.agents = make(map[uuid.UUID]*agentRuntime, config.AgentCount)
	o.agentIDs = nil
	var snapshots []*arena.AgentState

	for _, entry := range lineup.Agents {
		st := arena.NewAgentState(entry.Name, entry.Archetype, entry.AvatarShape, entry.ColorIndex, config.StartingCapital)

		record := &store.ArenaAgent{
			ID:              st.ID,
			SessionID:       sessionID,
			Name:            entry.Name,
			Personality:     entry.Personality,
			AvatarShape:     entry.AvatarShape,
			ColourIndex:     entry.ColorIndex,
			StrategyConfig:  strategyMap(entry),
			StartingCapital: config.StartingCapital,
			CurrentCapital:  config.StartingCapital,
			PeakEquity:      config.StartingCapital,
			Health:          100,
			Status:          string(arena.StatusAlive),
		}
		if err := o.store.CreateAgent(ctx, record); err != nil {
			return uuid.Nil, nil, fmt.Errorf("failed to persist agent %s: %w", entry.Name, err)
		}

		o.agents[st.ID] = &agentRuntime{
			state:     st,
			engine:    engine.NewDecisionEngine(entry.Name, entry.Personality, entry.Strategy, o.invoker, config.ModelID, o.log),
			roster:    entry,
			budgetUSD: perAgentBudget,
		}
		o.agentIDs = append(o.agentIDs, st.ID)
		snapshots = append(snapshots, st.Clone())
	}

	o.sessionID = sessionID
	o.config = config
	o.theme = lineup.Theme
	o.detector = arena.NewDetector()
	o.knives = engine.NewKnifeTracker()
	o.tick = 0
	o.ring = nil
	o.decisionBuf = nil
	o.lastFlushTick = 0

	o.log.Info().
		Str("session_id", sessionID.String()).
		Int("agents", config.AgentCount).
		Str("theme", lineup.Theme).
		Msg("Arena session created")

	o.emitLocked(arena.NewEvent(arena.EventRosterReveal, arena.ImportanceHigh,
		"The roster is set", lineup.MasterCommentary, 0).
		WithMetadata(map[string]any{"theme": lineup.Theme, "agents": agentNames(lineup)}))

	return sessionID, snapshots, nil
}

// Start performs the initial forced market fetch, transitions to running
// and arms the tick scheduler. A fetch failure leaves the status idle so
// the caller can retry.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.sessionID == uuid.Nil || len(o.agents) == 0 {
		return fmt.Errorf("no session created")
	}
	if o.status != StatusIdle {
		return fmt.Errorf("cannot start while %s", o.status)
	}

	snap, err := o.cache.Fetch(ctx, true)
	if err != nil {
		return fmt.Errorf("initial market fetch failed: %w", err)
	}

	o.status = StatusRunning
	o.startedAt = time.Now()
	o.startPrice = snap.LastPrice
	o.currentPrice = snap.LastPrice
	o.lastSnapshotAt = o.startedAt
	o.subMu.Lock()
	o.lastSubscriberAt = o.startedAt
	o.subMu.Unlock()

	if err := o.store.MarkSessionStarted(ctx, o.sessionID, o.startedAt, o.startPrice); err != nil {
		o.log.Error().Err(err).Msg("Failed to persist session start")
	}

	o.emitLocked(arena.NewEvent(arena.EventSessionStarted, arena.ImportanceCritical,
		"The arena is live",
		fmt.Sprintf("%d agents enter at %.4f", len(o.agents), o.startPrice),
		o.startPrice))

	o.armSchedulerLocked()
	o.log.Info().Str("session_id", o.sessionID.String()).Msg("Arena session started")
	return nil
}

// Pause stops the scheduler and persists the paused status
func (o *Orchestrator) Pause(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pauseLocked(ctx, "paused by operator")
}

func (o *Orchestrator) pauseLocked(ctx context.Context, reason string) error {
	if o.status != StatusRunning {
		return fmt.Errorf("cannot pause while %s", o.status)
	}
	o.disarmSchedulerLocked()
	o.status = StatusPaused

	if err := o.store.UpdateSessionStatus(ctx, o.sessionID, store.SessionPaused); err != nil {
		o.log.Error().Err(err).Msg("Failed to persist pause")
	}
	o.emitLocked(arena.NewEvent(arena.EventSessionPaused, arena.ImportanceMedium,
		"Session paused", reason, o.currentPrice))
	o.log.Info().Str("reason", reason).Msg("Arena session paused")
	return nil
}

// Resume re-arms the scheduler and resets the subscriber-idle timer
func (o *Orchestrator) Resume(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.resumeLocked(ctx)
}

func (o *Orchestrator) resumeLocked(ctx context.Context) error {
	if o.status != StatusPaused {
		return fmt.Errorf("cannot resume while %s", o.status)
	}
	o.status = StatusRunning
	o.subMu.Lock()
	o.lastSubscriberAt = time.Now()
	o.subMu.Unlock()

	if err := o.store.UpdateSessionStatus(ctx, o.sessionID, store.SessionRunning); err != nil {
		o.log.Error().Err(err).Msg("Failed to persist resume")
	}
	o.emitLocked(arena.NewEvent(arena.EventSessionResumed, arena.ImportanceMedium,
		"Session resumed", "The arena is live again", o.currentPrice))
	o.armSchedulerLocked()
	return nil
}

// Stop cancels the scheduler, force-closes all positions at one price,
// flushes buffers, persists and returns the session summary. Idempotent.
func (o *Orchestrator) Stop(ctx context.Context) (*SessionSummary, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stopLocked(ctx)
}

func (o *Orchestrator) stopLocked(ctx context.Context) (*SessionSummary, error) {
	if o.status == StatusIdle && o.sessionID == uuid.Nil {
		return nil, fmt.Errorf("no session to stop")
	}
	if o.status == StatusStopping {
		return nil, fmt.Errorf("stop already in progress")
	}
	o.disarmSchedulerLocked()
	o.status = StatusStopping

	// Degraded path: reconstruct last-known agent state from the store
	// when in-memory maps are gone.
	if len(o.agents) == 0 {
		summary := o.reconstructSummary(ctx)
		o.clearSessionLocked()
		return summary, nil
	}

	price := o.currentPrice
	if snap := o.cache.Peek(); snap != nil {
		price = snap.LastPrice
	}
	now := time.Now()

	for _, id := range o.agentIDs {
		rt := o.agents[id]
		st := rt.state
		if st.Position == nil || !st.Position.IsOpen {
			continue
		}
		closedPos := st.Position
		next, outcome, err := engine.ClosePosition(st, price, now)
		if err != nil {
			o.log.Error().Err(err).Str("agent", st.Name).Msg("Force close failed")
			continue
		}
		rt.state = next
		o.persistClosedPosition(ctx, next, closedPos, outcome, price, "session ended", now)
		o.emitLocked(arena.NewEvent(arena.EventTradeClose, arena.ImportanceMedium,
			fmt.Sprintf("%s closes at the bell", next.Name),
			fmt.Sprintf("Forced close at %.4f for %+.2f", price, outcome.RealizedPnL),
			price).WithAgent(next))
	}

	o.flushDecisionsLocked(ctx)

	states := o.stateSlice()
	arena.Rank(states)
	summary := o.buildSummary(states, price, now)

	if err := o.store.CompleteSession(ctx, o.sessionID, now, price, summary.DurationMs, summaryMap(summary)); err != nil {
		o.log.Error().Err(err).Msg("Failed to persist session summary")
	}
	for _, rt := range o.agents {
		o.persistAgent(ctx, rt)
	}

	o.emitLocked(arena.NewEvent(arena.EventSessionEnded, arena.ImportanceCritical,
		"The arena falls silent",
		fmt.Sprintf("%s takes the crown", summary.Winner),
		price).WithMetadata(map[string]any{"winner": summary.Winner, "ticks": summary.TotalTicks}))

	o.clearSessionLocked()
	o.log.Info().Str("winner", summary.Winner).Msg("Arena session stopped")
	return summary, nil
}

// Subscribe registers an event sink, replays nothing by itself (use
// EventBuffer for replay) and auto-resumes a paused session. The returned
// function unsubscribes.
func (o *Orchestrator) Subscribe(sink Sink) func() {
	o.mu.Lock()
	o.subMu.Lock()
	id := o.nextSubID
	o.nextSubID++
	o.subscribers[id] = sink
	count := len(o.subscribers)
	o.subMu.Unlock()
	o.metrics.Subscribers.Set(float64(count))

	if o.status == StatusPaused && o.sessionID != uuid.Nil {
		if err := o.resumeLocked(context.Background()); err != nil {
			o.log.Warn().Err(err).Msg("Auto-resume on subscribe failed")
		}
	}
	o.mu.Unlock()

	return func() {
		o.subMu.Lock()
		delete(o.subscribers, id)
		if len(o.subscribers) == 0 {
			o.lastSubscriberAt = time.Now()
		}
		count := len(o.subscribers)
		o.subMu.Unlock()
		o.metrics.Subscribers.Set(float64(count))
	}
}

// armSchedulerLocked starts the tick goroutine at the decision interval
func (o *Orchestrator) armSchedulerLocked() {
	stop := make(chan struct{})
	o.schedulerStop = stop
	interval := o.config.DecisionInterval

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				o.runTick()
			case <-stop:
				return
			}
		}
	}()
}

func (o *Orchestrator) disarmSchedulerLocked() {
	if o.schedulerStop != nil {
		close(o.schedulerStop)
		o.schedulerStop = nil
	}
}

// runTick executes one tick. Ticks never overlap: if the previous tick
// (or a lifecycle operation) still holds the lock, this cadence is
// skipped entirely.
func (o *Orchestrator) runTick() {
	if !o.mu.TryLock() {
		o.log.Debug().Msg("Tick skipped, previous still running")
		return
	}
	defer o.mu.Unlock()

	if o.status != StatusRunning {
		return
	}

	started := time.Now()
	ctx := context.Background()

	// 1. advance the clock
	o.tick++
	o.metrics.TicksTotal.Inc()
	elapsed := time.Since(o.startedAt)
	if elapsed >= o.config.MaxDuration {
		if _, err := o.stopLocked(ctx); err != nil {
			o.log.Error().Err(err).Msg("Stop at max duration failed")
		}
		return
	}

	// 2. countdown events
	remaining := o.config.MaxDuration - elapsed
	for _, e := range o.detector.Countdowns(remaining, o.currentPrice) {
		o.emitLocked(e)
	}

	// 3. auto-pause with nobody watching
	o.subMu.Lock()
	subscriberCount := len(o.subscribers)
	idleSince := o.lastSubscriberAt
	o.subMu.Unlock()
	if subscriberCount == 0 && time.Since(idleSince) >= o.autoPauseAfter {
		if err := o.pauseLocked(ctx, "no subscribers"); err != nil {
			o.log.Error().Err(err).Msg("Auto-pause failed")
		}
		return
	}

	// 4. shared market fetch; a failure skips the tick without mutation
	snap, err := o.cache.Fetch(ctx, false)
	if err != nil {
		o.log.Warn().Err(err).Int("tick", o.tick).Msg("Market fetch failed, skipping tick")
		return
	}
	o.currentPrice = snap.LastPrice
	if data, ok := snap.Timeframes["1h"]; ok {
		o.knives.Observe("1h", data.Candles, started)
	}

	// 5. the arena needs at least two standing agents
	if o.aliveCount() <= 1 {
		if _, err := o.stopLocked(ctx); err != nil {
			o.log.Error().Err(err).Msg("Stop on last survivor failed")
		}
		return
	}

	// 6. per-agent decisions, deterministic order
	for _, id := range o.agentIDs {
		o.tickAgent(ctx, o.agents[id], snap, elapsed, remaining)
	}

	// 7. detector scan and re-ranking
	states := o.stateSlice()
	for _, e := range o.detector.Scan(states, snap.LastPrice) {
		o.emitLocked(e)
		if e.Type == arena.EventComeback && e.AgentID != nil {
			if rt, ok := o.agents[*e.AgentID]; ok {
				o.awardBadge(rt, "comeback_kid", fmt.Sprintf("%s claws back", rt.state.Name), snap.LastPrice)
			}
		}
	}
	arena.Rank(states)
	o.emitLeaderboardChange(states, snap.LastPrice)
	o.metrics.AliveAgents.Set(float64(o.aliveCount()))

	// 8. the composite tick event
	o.emitLocked(arena.NewEvent(arena.EventTick, arena.ImportanceLow,
		fmt.Sprintf("Tick %d", o.tick), "", snap.LastPrice).
		WithMetadata(map[string]any{
			"tick":       o.tick,
			"elapsed_ms": elapsed.Milliseconds(),
			"price":      snap.LastPrice,
			"agents":     o.agentViews(),
		}))

	// 9. persistence cadences
	if o.tick-o.lastFlushTick >= decisionFlushTicks {
		o.flushDecisionsLocked(ctx)
	}
	if time.Since(o.lastSnapshotAt) >= o.snapshotEvery {
		o.writeSnapshotLocked(ctx, snap.LastPrice)
	}

	o.metrics.TickDuration.Observe(time.Since(started).Seconds())
}

// tickAgent runs liquidation, decision and execution for one agent
func (o *Orchestrator) tickAgent(ctx context.Context, rt *agentRuntime, snap *market.Snapshot, elapsed, remaining time.Duration) {
	st := rt.state
	if st.Dead {
		return
	}
	now := time.Now()
	price := snap.LastPrice

	// liquidation check comes before anything else
	if st.Position != nil && st.Position.IsOpen {
		pos := st.Position
		next, outcome, liquidated := engine.CheckLiquidation(st, price, o.tick, now)
		if liquidated {
			rt.state = next
			o.persistClosedPosition(ctx, next, pos, outcome, outcome.Price, "liquidated", now)
			o.persistAgent(ctx, rt)
			o.emitDeath(rt, "liquidated at the threshold", outcome.Price)
			return
		}
	}

	rt.state = engine.UpdateUnrealized(st, price)
	st = rt.state
	st.Activity = arena.ActivityThinking

	decision := rt.engine.Decide(ctx, engine.DecisionInput{
		State:              st,
		Snapshot:           snap,
		Knife:              o.knives.State("1h"),
		RemainingBudgetUSD: rt.budgetUSD,
		Elapsed:            elapsed,
		Remaining:          remaining,
		Now:                now,
	})

	if decision.UsedModel {
		o.emitLocked(arena.NewEvent(arena.EventAgentThinking, arena.ImportanceLow,
			fmt.Sprintf("%s consults the model", st.Name), decision.Rationale, price).WithAgent(st))
	}

	o.applyDecision(ctx, rt, decision, price, now)
	o.accountModelUsage(rt, decision, price)
	o.bufferDecision(rt, decision, price)
	o.metrics.DecisionsTotal.WithLabelValues(string(decision.Action)).Inc()
}

// applyDecision executes the decision and emits its events
func (o *Orchestrator) applyDecision(ctx context.Context, rt *agentRuntime, decision *engine.Decision, price float64, now time.Time) {
	st := rt.state
	st.LastRationale = decision.Rationale

	switch decision.Action {
	case engine.ActionOpenLong, engine.ActionOpenShort:
		side := arena.SideLong
		if decision.Action == engine.ActionOpenShort {
			side = arena.SideShort
		}
		next, outcome, err := engine.OpenPosition(st, side, price, decision.MarginPercent, o.config.Leverage, decision.Rationale, now)
		if err != nil {
			o.log.Warn().Err(err).Str("agent", st.Name).Msg("Open rejected")
			st.Activity = arena.ActivityWaiting
			return
		}
		next.Position.Pair = o.config.Pair
		next.Activity = arena.ActivityTrading
		rt.state = next

		o.persistOpenedPosition(ctx, rt, next.Position)
		o.emitLocked(arena.NewEvent(arena.EventTradeOpen, arena.ImportanceHigh,
			fmt.Sprintf("%s goes %s", next.Name, side),
			o.speak(rt, "on_entry")+fmt.Sprintf(" (%.1f%% margin at %.4f)", decision.MarginPercent, price),
			price).WithAgent(next).WithMetadata(map[string]any{
			"side": side, "volume": outcome.Volume, "margin": outcome.Margin, "confidence": decision.Confidence,
		}))

	case engine.ActionClose:
		closedPos := st.Position
		next, outcome, err := engine.ClosePosition(st, price, now)
		if err != nil {
			o.log.Warn().Err(err).Str("agent", st.Name).Msg("Close rejected")
			return
		}
		next.Activity = arena.ActivityIdle
		rt.state = next
		o.persistClosedPosition(ctx, next, closedPos, outcome, price, decision.Rationale, now)

		trigger := "on_exit_loss"
		importance := arena.ImportanceMedium
		if outcome.Profitable {
			trigger = "on_exit_profit"
			importance = arena.ImportanceHigh
		}
		o.emitLocked(arena.NewEvent(arena.EventTradeClose, importance,
			fmt.Sprintf("%s closes for %+.2f", next.Name, outcome.RealizedPnL),
			o.speak(rt, trigger),
			price).WithAgent(next).WithMetadata(map[string]any{
			"realized_pnl": outcome.RealizedPnL, "fees": outcome.Fees, "hours_open": outcome.HoursOpen,
		}))

		if e := o.detector.RecordTradeClose(next, outcome.Profitable, price); e != nil {
			o.emitLocked(*e)
			if e.Type == arena.EventHotStreak {
				o.awardBadge(rt, "hot_streak", fmt.Sprintf("%s is on fire", next.Name), price)
			}
		}
		if outcome.Profitable && next.WinCount == 1 {
			o.awardBadge(rt, "first_blood", fmt.Sprintf("%s draws first blood", next.Name), price)
		}
		if next.Equity >= next.StartingCapital*2 {
			o.awardBadge(rt, "doubled_up", fmt.Sprintf("%s doubled the stake", next.Name), price)
		}
		if next.TradeCount > 0 && next.TradeCount%10 == 0 {
			o.emitLocked(arena.NewEvent(arena.EventMilestone, arena.ImportanceLow,
				fmt.Sprintf("%s completes trade %d", next.Name, next.TradeCount), "", price).WithAgent(next))
		}
		if outcome.Bankrupt {
			next.MarkDead(arena.StatusBankrupt, o.tick, "balance wiped out")
			o.persistAgent(ctx, rt)
			o.emitDeath(rt, "bankrupt", price)
		}

	case engine.ActionDCA:
		next, outcome, err := engine.DCA(st, price, decision.MarginPercent, rt.engine.Strategy().MaxDCACount, decision.Rationale, now)
		if err != nil {
			o.log.Warn().Err(err).Str("agent", st.Name).Msg("DCA rejected")
			return
		}
		next.Activity = arena.ActivityTrading
		rt.state = next
		o.persistAveragedPosition(ctx, next.Position)
		o.emitLocked(arena.NewEvent(arena.EventTradeDCA, arena.ImportanceMedium,
			fmt.Sprintf("%s doubles down", next.Name),
			fmt.Sprintf("Averaged in %.2f more at %.4f, entry now %.4f", outcome.Margin, price, next.Position.AvgEntryPrice),
			price).WithAgent(next))

	case engine.ActionHold:
		st.Activity = arena.ActivityHolding
		o.emitLocked(arena.NewEvent(arena.EventAgentHold, arena.ImportanceLow,
			fmt.Sprintf("%s holds", st.Name), decision.Rationale, price).WithAgent(st))

	case engine.ActionWait:
		st.Activity = arena.ActivityWaiting
		o.emitLocked(arena.NewEvent(arena.EventAgentWait, arena.ImportanceLow,
			fmt.Sprintf("%s waits", st.Name), decision.Rationale, price).WithAgent(st))
	}

	// bankruptcy without a position ends the agent
	st = rt.state
	if !st.Dead && st.Balance <= 0 && (st.Position == nil || !st.Position.IsOpen) {
		st.MarkDead(arena.StatusBankrupt, o.tick, "out of capital")
		o.persistAgent(ctx, rt)
		o.emitDeath(rt, "out of capital", price)
	}
}

// accountModelUsage charges tier-2 spend against the agent's budget
func (o *Orchestrator) accountModelUsage(rt *agentRuntime, decision *engine.Decision, price float64) {
	if !decision.UsedModel {
		return
	}
	st := rt.state
	st.ModelCalls++
	st.InputTokens += int64(decision.InputTokens)
	st.OutputTokens += int64(decision.OutputTokens)
	st.EstimatedCostUSD += decision.CostUSD
	rt.budgetUSD -= decision.CostUSD
	if rt.budgetUSD < 0 {
		rt.budgetUSD = 0
	}
	o.metrics.ModelCostUSD.Add(decision.CostUSD)

	initial := o.config.PerAgentBudgetUSD
	if initial == 0 && o.config.SessionBudgetUSD > 0 {
		initial = o.config.SessionBudgetUSD / float64(o.config.AgentCount)
	}
	if !rt.budgetWarned && initial > 0 && rt.budgetUSD <= initial*0.1 {
		rt.budgetWarned = true
		o.emitLocked(arena.NewEvent(arena.EventBudgetWarning, arena.ImportanceMedium,
			fmt.Sprintf("%s is running out of thinking money", st.Name),
			fmt.Sprintf("$%.4f of model budget left", rt.budgetUSD),
			price).WithAgent(st))
	}
}

// bufferDecision records the decision for batched persistence. Every
// actionable decision is kept; holds and waits are sampled every 10th
// tick so the record stays bounded.
func (o *Orchestrator) bufferDecision(rt *agentRuntime, decision *engine.Decision, price float64) {
	isQuiet := decision.Action == engine.ActionHold || decision.Action == engine.ActionWait
	if isQuiet && o.tick%holdSampleTicks != 0 {
		return
	}
	st := rt.state
	pnl := 0.0
	if st.Position != nil {
		pnl = st.Position.UnrealizedPnL
	}
	o.decisionBuf = append(o.decisionBuf, &store.ArenaDecision{
		AgentID:      st.ID,
		Tick:         o.tick,
		Action:       string(decision.Action),
		Reasoning:    decision.Rationale,
		Confidence:   decision.Confidence,
		UsedModel:    decision.UsedModel,
		PriceAt:      price,
		BalanceAt:    st.Balance,
		PnLAt:        pnl,
		InputTokens:  decision.InputTokens,
		OutputTokens: decision.OutputTokens,
	})
}

// emitLeaderboardChange fires when the ranked order differs from the
// previous tick. states must already be ranked.
func (o *Orchestrator) emitLeaderboardChange(states []*arena.AgentState, price float64) {
	order := make([]uuid.UUID, len(states))
	names := make([]string, len(states))
	for i, st := range states {
		order[i] = st.ID
		names[i] = st.Name
	}

	changed := len(order) != len(o.prevOrder)
	if !changed {
		for i := range order {
			if order[i] != o.prevOrder[i] {
				changed = true
				break
			}
		}
	}
	if changed && o.prevOrder != nil {
		o.emitLocked(arena.NewEvent(arena.EventLeaderboardUpdate, arena.ImportanceMedium,
			"Leaderboard shuffles", strings.Join(names, " > "), price).
			WithMetadata(map[string]any{"order": names}))
	}
	o.prevOrder = order
}

// awardBadge grants a badge at most once per agent
func (o *Orchestrator) awardBadge(rt *agentRuntime, badge, title string, price float64) {
	st := rt.state
	for _, b := range st.Badges {
		if b == badge {
			return
		}
	}
	st.Badges = append(st.Badges, badge)
	o.emitLocked(arena.NewEvent(arena.EventBadgeEarned, arena.ImportanceMedium,
		title, "", price).WithAgent(st).WithMetadata(map[string]any{"badge": badge}))
}

func (o *Orchestrator) emitDeath(rt *agentRuntime, reason string, price float64) {
	st := rt.state
	o.metrics.AliveAgents.Set(float64(o.aliveCount()))
	o.emitLocked(arena.NewEvent(arena.EventAgentDeath, arena.ImportanceCritical,
		fmt.Sprintf("%s is eliminated", st.Name),
		o.speak(rt, "on_death")+" ("+reason+")",
		price).WithAgent(st).WithMetadata(map[string]any{
		"status": st.Status, "tick": st.DeathTick,
	}))

	// rivals get a word in
	for _, id := range o.agentIDs {
		other := o.agents[id]
		if other.state.Dead || other.state.ID == st.ID {
			continue
		}
		o.emitLocked(arena.NewEvent(arena.EventAgentAction, arena.ImportanceLow,
			fmt.Sprintf("%s reacts", other.state.Name),
			o.speak(other, "on_rival_death"),
			price).WithAgent(other.state))
	}
}

// speak renders an agent's commentary template for a trigger
func (o *Orchestrator) speak(rt *agentRuntime, trigger string) string {
	line := rt.roster.CommentaryFor(trigger)
	return strings.ReplaceAll(line, "{name}", rt.state.Name)
}

// emitLocked appends non-tick events to the replay ring and fans the
// event out synchronously to every sink. A failing sink is isolated.
func (o *Orchestrator) emitLocked(event arena.Event) {
	o.metrics.EventsTotal.WithLabelValues(string(event.Type)).Inc()

	if event.Type != arena.EventTick {
		o.ring = append(o.ring, event)
		if len(o.ring) > eventRingSize {
			o.ring = o.ring[len(o.ring)-eventRingSize:]
		}
	}

	o.subMu.Lock()
	sinks := make([]Sink, 0, len(o.subscribers))
	for _, s := range o.subscribers {
		sinks = append(sinks, s)
	}
	o.subMu.Unlock()

	for _, s := range sinks {
		if err := s.Deliver(event); err != nil {
			o.log.Warn().Err(err).Str("event", string(event.Type)).Msg("Sink delivery failed")
		}
	}
}

func (o *Orchestrator) flushDecisionsLocked(ctx context.Context) {
	if len(o.decisionBuf) == 0 {
		o.lastFlushTick = o.tick
		return
	}
	if err := o.store.AppendDecisions(ctx, o.decisionBuf); err != nil {
		// keep the buffer; it is retried on the next cadence
		o.metrics.FlushFailures.Inc()
		o.log.Error().Err(err).Int("buffered", len(o.decisionBuf)).Msg("Decision flush failed")
		return
	}
	o.decisionBuf = nil
	o.lastFlushTick = o.tick
}

func (o *Orchestrator) writeSnapshotLocked(ctx context.Context, price float64) {
	o.lastSnapshotAt = time.Now()
	snapshot := &store.ArenaSnapshot{
		SessionID:   o.sessionID,
		MarketPrice: price,
		Data:        map[string]interface{}{"agents": o.agentViews()},
	}
	if err := o.store.WriteSnapshot(ctx, snapshot); err != nil {
		o.log.Error().Err(err).Msg("Snapshot write failed")
	}
	for _, rt := range o.agents {
		o.persistAgent(ctx, rt)
	}
}

func (o *Orchestrator) persistAgent(ctx context.Context, rt *agentRuntime) {
	st := rt.state
	record := &store.ArenaAgent{
		ID:               st.ID,
		SessionID:        o.sessionID,
		Name:             st.Name,
		Personality:      rt.roster.Personality,
		AvatarShape:      st.AvatarShape,
		ColourIndex:      st.ColorIndex,
		CurrentCapital:   st.Balance,
		StartingCapital:  st.StartingCapital,
		PeakEquity:       st.PeakEquity,
		TotalPnL:         st.RealizedPnL,
		TotalFees:        st.TotalFees,
		WinCount:         st.WinCount,
		LossCount:        st.LossCount,
		MaxDrawdown:      st.MaxDrawdownPct,
		Health:           st.Health,
		Rank:             st.Rank,
		Status:           string(st.Status),
		ModelCalls:       st.ModelCalls,
		InputTokens:      st.InputTokens,
		OutputTokens:     st.OutputTokens,
		EstimatedCostUSD: st.EstimatedCostUSD,
	}
	if st.Dead {
		tick := st.DeathTick
		reason := st.DeathReason
		record.DeathTick = &tick
		record.DeathReason = &reason
	}
	if err := o.store.UpdateAgent(ctx, record); err != nil {
		o.log.Error().Err(err).Str("agent", st.Name).Msg("Agent persist failed")
	}
}

func (o *Orchestrator) persistOpenedPosition(ctx context.Context, rt *agentRuntime, pos *arena.Position) {
	history, _ := json.Marshal(pos.DCAHistory)
	record := &store.ArenaPosition{
		ID:             pos.ID,
		AgentID:        rt.state.ID,
		Pair:           pos.Pair,
		Side:           string(pos.Side),
		Volume:         pos.Volume,
		AvgEntryPrice:  pos.AvgEntryPrice,
		Leverage:       pos.Leverage,
		MarginUsed:     pos.MarginUsed,
		TotalFees:      pos.TotalFees,
		DCACount:       pos.DCACount,
		DCAHistory:     history,
		IsOpen:         true,
		EntryReasoning: pos.EntryReasoning,
		OpenedAt:       pos.OpenedAt,
	}
	if err := o.store.CreatePosition(ctx, record); err != nil {
		o.log.Error().Err(err).Str("agent", rt.state.Name).Msg("Position persist failed")
	}
}

func (o *Orchestrator) persistAveragedPosition(ctx context.Context, pos *arena.Position) {
	history, _ := json.Marshal(pos.DCAHistory)
	record := &store.ArenaPosition{
		ID:            pos.ID,
		Volume:        pos.Volume,
		AvgEntryPrice: pos.AvgEntryPrice,
		MarginUsed:    pos.MarginUsed,
		TotalFees:     pos.TotalFees,
		DCACount:      pos.DCACount,
		DCAHistory:    history,
	}
	if err := o.store.UpdatePositionAveraging(ctx, record); err != nil {
		o.log.Error().Err(err).Msg("Position averaging persist failed")
	}
}

func (o *Orchestrator) persistClosedPosition(ctx context.Context, st *arena.AgentState, pos *arena.Position, outcome engine.Outcome, exitPrice float64, exitReasoning string, now time.Time) {
	holdMs := int64(outcome.HoursOpen * float64(time.Hour/time.Millisecond))
	realized := outcome.RealizedPnL
	record := &store.ArenaPosition{
		ID:             pos.ID,
		TotalFees:      outcome.Fees,
		ExitPrice:      &exitPrice,
		RealizedPnL:    &realized,
		HoldDurationMs: &holdMs,
		ExitReasoning:  &exitReasoning,
		ClosedAt:       &now,
	}
	if err := o.store.ClosePosition(ctx, record); err != nil {
		o.log.Error().Err(err).Str("agent", st.Name).Msg("Position close persist failed")
	}
}

func (o *Orchestrator) aliveCount() int {
	count := 0
	for _, rt := range o.agents {
		if !rt.state.Dead {
			count++
		}
	}
	return count
}

func (o *Orchestrator) stateSlice() []*arena.AgentState {
	states := make([]*arena.AgentState, 0, len(o.agentIDs))
	for _, id := range o.agentIDs {
		states = append(states, o.agents[id].state)
	}
	return states
}

func (o *Orchestrator) clearSessionLocked() {
	o.agents = nil
	o.agentIDs = nil
	o.detector = nil
	o.knives = nil
	o.decisionBuf = nil
	o.prevOrder = nil
	o.sessionID = uuid.Nil
	o.tick = 0
	o.status = StatusIdle
	o.metrics.AliveAgents.Set(0)
}

func agentNames(lineup *roster.Roster) []string {
	names := make([]string, len(lineup.Agents))
	for i, a := range lineup.Agents {
		names[i] = a.Name
	}
	return names
}

func configMap(config arena.SessionConfig) map[string]interface{} {
	raw, _ := json.Marshal(config)
	var out map[string]interface{}
	_ = json.Unmarshal(raw, &out)
	return out
}

func strategyMap(entry *roster.Agent) map[string]interface{} {
	raw, _ := json.Marshal(entry.Strategy)
	var out map[string]interface{}
	_ = json.Unmarshal(raw, &out)
	return out
}
