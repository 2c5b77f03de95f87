package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pr3m/xrparena/internal/arena"
	"github.com/pr3m/xrparena/internal/strategy"
)

// AgentView is the wire shape of an agent for tick payloads, snapshots
// and API responses
type AgentView struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Archetype   string  `json:"archetype"`
	AvatarShape string  `json:"avatar_shape"`
	ColorIndex  int     `json:"color_index"`
	Balance     float64 `json:"balance"`
	Equity      float64 `json:"equity"`
	RealizedPnL float64 `json:"realized_pnl"`
	TotalFees   float64 `json:"total_fees"`
	Health      float64 `json:"health"`
	Zone        string  `json:"zone"`
	Rank        int     `json:"rank"`
	Dead        bool    `json:"dead"`
	Status      string  `json:"status"`
	TradeCount  int     `json:"trade_count"`
	WinCount    int     `json:"win_count"`
	LossCount   int     `json:"loss_count"`
	ModelCalls  int     `json:"model_calls"`
	CostUSD     float64 `json:"cost_usd"`
	Activity    string  `json:"activity"`
	Rationale   string  `json:"rationale,omitempty"`

	Position *PositionView `json:"position,omitempty"`
}

// PositionView is the open-position portion of an AgentView
type PositionView struct {
	Side             string  `json:"side"`
	Volume           float64 `json:"volume"`
	AvgEntryPrice    float64 `json:"avg_entry_price"`
	Leverage         float64 `json:"leverage"`
	MarginUsed       float64 `json:"margin_used"`
	UnrealizedPnL    float64 `json:"unrealized_pnl"`
	UnrealizedPnLPct float64 `json:"unrealized_pnl_pct"`
	LiquidationPrice float64 `json:"liquidation_price"`
	DCACount         int     `json:"dca_count"`
	HoursOpen        float64 `json:"hours_open"`
}

// SessionSummary is the final report returned by Stop
type SessionSummary struct {
	SessionID         uuid.UUID     `json:"session_id"`
	Theme             string        `json:"theme"`
	Winner            string        `json:"winner"`
	StartPrice        float64       `json:"start_price"`
	EndPrice          float64       `json:"end_price"`
	DurationMs        int64         `json:"duration_ms"`
	TotalTicks        int           `json:"total_ticks"`
	Rankings          []AgentView   `json:"rankings"`
	Titles            []arena.Title `json:"titles"`
	TotalModelCostUSD float64       `json:"total_model_cost_usd"`
}

func viewOf(st *arena.AgentState) AgentView {
	view := AgentView{
		ID:          st.ID.String(),
		Name:        st.Name,
		Archetype:   st.Archetype,
		AvatarShape: st.AvatarShape,
		ColorIndex:  st.ColorIndex,
		Balance:     st.Balance,
		Equity:      st.Equity,
		RealizedPnL: st.RealizedPnL,
		TotalFees:   st.TotalFees,
		Health:      st.Health,
		Zone:        string(st.Zone),
		Rank:        st.Rank,
		Dead:        st.Dead,
		Status:      string(st.Status),
		TradeCount:  st.TradeCount,
		WinCount:    st.WinCount,
		LossCount:   st.LossCount,
		ModelCalls:  st.ModelCalls,
		CostUSD:     st.EstimatedCostUSD,
		Activity:    string(st.Activity),
		Rationale:   st.LastRationale,
	}
	if pos := st.Position; pos != nil && pos.IsOpen {
		view.Position = &PositionView{
			Side:             string(pos.Side),
			Volume:           pos.Volume,
			AvgEntryPrice:    pos.AvgEntryPrice,
			Leverage:         pos.Leverage,
			MarginUsed:       pos.MarginUsed,
			UnrealizedPnL:    pos.UnrealizedPnL,
			UnrealizedPnLPct: pos.UnrealizedPnLPct,
			LiquidationPrice: pos.LiquidationPrice,
			DCACount:         pos.DCACount,
			HoursOpen:        pos.HoursOpen(time.Now()),
		}
	}
	return view
}

func (o *Orchestrator) agentViews() []AgentView {
	views := make([]AgentView, 0, len(o.agentIDs))
	for _, id := range o.agentIDs {
		views = append(views, viewOf(o.agents[id].state))
	}
	return views
}

// buildSummary assembles the final report from already-ranked states
func (o *Orchestrator) buildSummary(states []*arena.AgentState, endPrice float64, now time.Time) *SessionSummary {
	summary := &SessionSummary{
		SessionID:  o.sessionID,
		Theme:      o.theme,
		StartPrice: o.startPrice,
		EndPrice:   endPrice,
		DurationMs: now.Sub(o.startedAt).Milliseconds(),
		TotalTicks: o.tick,
		Titles:     arena.Titles(states),
	}
	for _, st := range states {
		summary.TotalModelCostUSD += st.EstimatedCostUSD
	}
	for _, st := range states {
		summary.Rankings = append(summary.Rankings, viewOf(st))
	}
	// ranks are 1-based; slot 1 is the winner
	for _, st := range states {
		if st.Rank == 1 {
			summary.Winner = st.Name
		}
	}
	return summary
}

// reconstructSummary rebuilds a best-effort summary from persisted agent
// rows when the in-memory session is gone
func (o *Orchestrator) reconstructSummary(ctx context.Context) *SessionSummary {
	summary := &SessionSummary{
		SessionID:  o.sessionID,
		Theme:      o.theme,
		StartPrice: o.startPrice,
		EndPrice:   o.currentPrice,
		TotalTicks: o.tick,
	}
	agents, err := o.store.ListAgentsBySession(ctx, o.sessionID)
	if err != nil {
		o.log.Error().Err(err).Msg("Degraded stop could not load agents")
		return summary
	}
	bestRank := 0
	for _, a := range agents {
		summary.TotalModelCostUSD += a.EstimatedCostUSD
		summary.Rankings = append(summary.Rankings, AgentView{
			ID:          a.ID.String(),
			Name:        a.Name,
			AvatarShape: a.AvatarShape,
			ColorIndex:  a.ColourIndex,
			Balance:     a.CurrentCapital,
			Health:      a.Health,
			Rank:        a.Rank,
			Status:      a.Status,
			Dead:        a.Status != string(arena.StatusAlive),
			WinCount:    a.WinCount,
			LossCount:   a.LossCount,
			ModelCalls:  a.ModelCalls,
			CostUSD:     a.EstimatedCostUSD,
		})
		if a.Rank > 0 && (bestRank == 0 || a.Rank < bestRank) {
			bestRank = a.Rank
			summary.Winner = a.Name
		}
	}
	return summary
}

func summaryMap(summary *SessionSummary) map[string]interface{} {
	raw, _ := json.Marshal(summary)
	var out map[string]interface{}
	_ = json.Unmarshal(raw, &out)
	return out
}

// Accessors below take the lock and return copies; callers never see
// live tick-loop state.

// Status returns the lifecycle state
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// SessionID returns the active session ID, uuid.Nil when idle
func (o *Orchestrator) SessionID() uuid.UUID {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessionID
}

// CurrentTick returns the last completed tick number
func (o *Orchestrator) CurrentTick() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tick
}

// ElapsedMs returns milliseconds since the session started
func (o *Orchestrator) ElapsedMs() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.startedAt.IsZero() {
		return 0
	}
	return time.Since(o.startedAt).Milliseconds()
}

// Config returns the active session configuration
func (o *Orchestrator) Config() arena.SessionConfig {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.config
}

// CurrentPrice returns the last observed market price
func (o *Orchestrator) CurrentPrice() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.currentPrice
}

// Rankings returns agent views sorted by rank ascending
func (o *Orchestrator) Rankings() []AgentView {
	o.mu.Lock()
	defer o.mu.Unlock()
	states := o.stateSlice()
	arena.Rank(states)
	views := make([]AgentView, 0, len(states))
	for _, st := range states {
		views = append(views, viewOf(st))
	}
	return views
}

// AgentStates returns deep copies of every agent state
func (o *Orchestrator) AgentStates() []*arena.AgentState {
	o.mu.Lock()
	defer o.mu.Unlock()
	states := make([]*arena.AgentState, 0, len(o.agentIDs))
	for _, id := range o.agentIDs {
		states = append(states, o.agents[id].state.Clone())
	}
	return states
}

// EventBuffer returns the replay ring, oldest first
func (o *Orchestrator) EventBuffer() []arena.Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]arena.Event, len(o.ring))
	copy(out, o.ring)
	return out
}

// AgentStrategy returns a copy of an agent's validated strategy
func (o *Orchestrator) AgentStrategy(agentID uuid.UUID) (*strategy.Strategy, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rt, ok := o.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("no agent %s in the current session", agentID)
	}
	return rt.engine.Strategy().Clone(), nil
}
