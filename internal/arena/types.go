// Package arena defines the domain model of the paper-trading competition:
// session configuration, per-agent state, positions, events, the dramatic
// event detector, and the RARS scorer. Everything here is data and pure
// transformations; the orchestrator owns all mutation.
package arena

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Side of a position
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// AgentStatus is the terminal status of an agent
type AgentStatus string

const (
	StatusAlive      AgentStatus = "alive"
	StatusLiquidated AgentStatus = "liquidated"
	StatusBankrupt   AgentStatus = "bankrupt"
)

// Activity is the agent's current activity tag, for the UI feed
type Activity string

const (
	ActivityIdle     Activity = "idle"
	ActivityThinking Activity = "thinking"
	ActivityTrading  Activity = "trading"
	ActivityHolding  Activity = "holding"
	ActivityWaiting  Activity = "waiting"
)

// HealthZone is the fixed band an agent's health falls into
type HealthZone string

const (
	ZoneSafe     HealthZone = "safe"      // > 80
	ZoneCaution  HealthZone = "caution"   // 60–80
	ZoneDanger   HealthZone = "danger"    // 40–60
	ZoneCritical HealthZone = "critical"  // 20–40
	ZoneDeathRow HealthZone = "death_row" // 0–20
	ZoneDead     HealthZone = "dead"      // ≤ 0
)

// ZoneForHealth maps a health value onto its fixed band
func ZoneForHealth(health float64) HealthZone {
	switch {
	case health <= 0:
		return ZoneDead
	case health <= 20:
		return ZoneDeathRow
	case health <= 40:
		return ZoneCritical
	case health <= 60:
		return ZoneDanger
	case health <= 80:
		return ZoneCaution
	default:
		return ZoneSafe
	}
}

// SessionConfig is immutable after session creation
type SessionConfig struct {
	Pair              string        `json:"pair"`
	ReferencePair     string        `json:"reference_pair"`
	AgentCount        int           `json:"agent_count"` // 2–8
	StartingCapital   float64       `json:"starting_capital"`
	DecisionInterval  time.Duration `json:"decision_interval"` // ≥ 1s
	MaxDuration       time.Duration `json:"max_duration"`      // > interval
	ModelID           string        `json:"model_id"`
	Leverage          float64       `json:"leverage"` // uniform, default 10
	SessionBudgetUSD  float64       `json:"session_budget_usd"`
	PerAgentBudgetUSD float64       `json:"per_agent_budget_usd"`
	ArchetypeIDs      []string      `json:"archetype_ids,omitempty"`
	UseMasterAgent    bool          `json:"use_master_agent"`
}

// Validate checks the session config invariants
func (c *SessionConfig) Validate() error {
	if c.Pair == "" {
		return fmt.Errorf("pair is required")
	}
	if c.AgentCount < 2 || c.AgentCount > 8 {
		return fmt.Errorf("agent count must be between 2 and 8, got %d", c.AgentCount)
	}
	if c.StartingCapital <= 0 {
		return fmt.Errorf("starting capital must be positive, got %f", c.StartingCapital)
	}
	if c.DecisionInterval < time.Second {
		return fmt.Errorf("decision interval must be at least 1s, got %s", c.DecisionInterval)
	}
	if c.MaxDuration <= c.DecisionInterval {
		return fmt.Errorf("max duration %s must exceed decision interval %s", c.MaxDuration, c.DecisionInterval)
	}
	if c.Leverage <= 0 {
		c.Leverage = 10
	}
	return nil
}

// DCAEntry records one averaging-in step of a position
type DCAEntry struct {
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	Margin    float64   `json:"margin"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
}

// Position is the at-most-one open trade per agent
type Position struct {
	ID               uuid.UUID  `json:"id"`
	Pair             string     `json:"pair"`
	Side             Side       `json:"side"`
	Volume           float64    `json:"volume"` // base units, > 0 while open
	AvgEntryPrice    float64    `json:"avg_entry_price"`
	Leverage         float64    `json:"leverage"`
	MarginUsed       float64    `json:"margin_used"` // notional / leverage
	TotalFees        float64    `json:"total_fees"`
	DCACount         int        `json:"dca_count"`
	DCAHistory       []DCAEntry `json:"dca_history,omitempty"`
	IsOpen           bool       `json:"is_open"`
	OpenedAt         time.Time  `json:"opened_at"`
	UnrealizedPnL    float64    `json:"unrealized_pnl"`
	UnrealizedPnLPct float64    `json:"unrealized_pnl_pct"` // percent of margin
	LiquidationPrice float64    `json:"liquidation_price"`
	EntryReasoning   string     `json:"entry_reasoning,omitempty"`
}

// Clone returns a deep copy
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	out := *p
	out.DCAHistory = append([]DCAEntry(nil), p.DCAHistory...)
	return &out
}

// HoursOpen returns how long the position has been open
func (p *Position) HoursOpen(now time.Time) float64 {
	return now.Sub(p.OpenedAt).Hours()
}

// AgentState is the full mutable state of one arena agent. It is mutated
// only by the orchestrator tick path; the public API exposes copies.
type AgentState struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Archetype   string    `json:"archetype"`
	AvatarShape string    `json:"avatar_shape"`
	ColorIndex  int       `json:"color_index"`

	Balance         float64   `json:"balance"` // free quote currency
	StartingCapital float64   `json:"starting_capital"`
	Equity          float64   `json:"equity"`
	Position        *Position `json:"position,omitempty"`

	RealizedPnL    float64 `json:"realized_pnl"`
	TotalFees      float64 `json:"total_fees"`
	WinCount       int     `json:"win_count"`
	LossCount      int     `json:"loss_count"`
	PeakEquity     float64 `json:"peak_equity"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`

	Health float64    `json:"health"` // [0, 100]
	Zone   HealthZone `json:"zone"`
	Rank   int        `json:"rank"` // 1-based among alive, dead last

	Dead        bool        `json:"dead"`
	Status      AgentStatus `json:"status"`
	DeathTick   int         `json:"death_tick,omitempty"`
	DeathReason string      `json:"death_reason,omitempty"`

	ModelCalls       int     `json:"model_calls"`
	InputTokens      int64   `json:"input_tokens"`
	OutputTokens     int64   `json:"output_tokens"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`

	TradeCount       int      `json:"trade_count"`
	Badges           []string `json:"badges,omitempty"`
	Activity         Activity `json:"activity"`
	LastRationale    string   `json:"last_rationale,omitempty"`
	ConsecutiveHolds int      `json:"consecutive_holds"`
}

// NewAgentState creates an alive agent with full health
func NewAgentState(name, archetype, avatarShape string, colorIndex int, startingCapital float64) *AgentState {
	return &AgentState{
		ID:              uuid.New(),
		Name:            name,
		Archetype:       archetype,
		AvatarShape:     avatarShape,
		ColorIndex:      colorIndex,
		Balance:         startingCapital,
		StartingCapital: startingCapital,
		Equity:          startingCapital,
		PeakEquity:      startingCapital,
		Health:          100,
		Zone:            ZoneSafe,
		Status:          StatusAlive,
		Activity:        ActivityIdle,
	}
}

// Clone returns a deep copy
func (a *AgentState) Clone() *AgentState {
	out := *a
	out.Position = a.Position.Clone()
	out.Badges = append([]string(nil), a.Badges...)
	return &out
}

// WinRate returns wins / (wins + losses), or 0 with no closed trades
func (a *AgentState) WinRate() float64 {
	total := a.WinCount + a.LossCount
	if total == 0 {
		return 0
	}
	return float64(a.WinCount) / float64(total)
}

// MarkDead freezes the agent with a terminal status
func (a *AgentState) MarkDead(status AgentStatus, tick int, reason string) {
	a.Dead = true
	a.Status = status
	a.DeathTick = tick
	a.DeathReason = reason
	a.Health = 0
	a.Zone = ZoneDead
	a.Activity = ActivityIdle
}
