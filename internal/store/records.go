package store

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the persisted lifecycle status of a session
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionRunning   SessionStatus = "running"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
)

// ArenaSession is one bounded competition run
type ArenaSession struct {
	ID             uuid.UUID              `db:"id"`
	Status         SessionStatus          `db:"status"`
	Config         map[string]interface{} `db:"config"`
	StartedAt      *time.Time             `db:"started_at"`
	EndedAt        *time.Time             `db:"ended_at"`
	StartPrice     *float64               `db:"start_price"`
	EndPrice       *float64               `db:"end_price"`
	TotalRuntimeMs *int64                 `db:"total_runtime_ms"`
	Summary        map[string]interface{} `db:"summary"`
}

// ArenaAgent is the persisted view of one agent's state
type ArenaAgent struct {
	ID               uuid.UUID              `db:"id"`
	SessionID        uuid.UUID              `db:"session_id"`
	Name             string                 `db:"name"`
	Personality      string                 `db:"personality"`
	AvatarShape      string                 `db:"avatar_shape"`
	ColourIndex      int                    `db:"colour_index"`
	StrategyConfig   map[string]interface{} `db:"strategy_config"`
	StartingCapital  float64                `db:"starting_capital"`
	CurrentCapital   float64                `db:"current_capital"`
	PeakEquity       float64                `db:"peak_equity"`
	TotalPnL         float64                `db:"total_pnl"`
	TotalFees        float64                `db:"total_fees"`
	WinCount         int                    `db:"win_count"`
	LossCount        int                    `db:"loss_count"`
	MaxDrawdown      float64                `db:"max_drawdown"`
	Health           float64                `db:"health"`
	Rank             int                    `db:"rank"`
	Status           string                 `db:"status"`
	DeathTick        *int                   `db:"death_tick"`
	DeathReason      *string                `db:"death_reason"`
	ModelCalls       int                    `db:"model_calls"`
	InputTokens      int64                  `db:"input_tokens"`
	OutputTokens     int64                  `db:"output_tokens"`
	EstimatedCostUSD float64                `db:"estimated_cost_usd"`
}

// ArenaPosition is one opened (and possibly closed) trade
type ArenaPosition struct {
	ID             uuid.UUID              `db:"id"`
	AgentID        uuid.UUID              `db:"agent_id"`
	Pair           string                 `db:"pair"`
	Side           string                 `db:"side"`
	Volume         float64                `db:"volume"`
	AvgEntryPrice  float64                `db:"avg_entry_price"`
	Leverage       float64                `db:"leverage"`
	MarginUsed     float64                `db:"margin_used"`
	TotalFees      float64                `db:"total_fees"`
	DCACount       int                    `db:"dca_count"`
	DCAHistory     []byte                 `db:"dca_history"`
	IsOpen         bool                   `db:"is_open"`
	EntryConditions map[string]interface{} `db:"entry_conditions"`
	EntryReasoning string                 `db:"entry_reasoning"`
	ExitPrice      *float64               `db:"exit_price"`
	RealizedPnL    *float64               `db:"realized_pnl"`
	HoldDurationMs *int64                 `db:"hold_duration_ms"`
	ExitReasoning  *string                `db:"exit_reasoning"`
	OpenedAt       time.Time              `db:"opened_at"`
	ClosedAt       *time.Time             `db:"closed_at"`
}

// ArenaDecision is one per-tick decision record, appended in batches
type ArenaDecision struct {
	AgentID      uuid.UUID `db:"agent_id"`
	Tick         int       `db:"tick"`
	Action       string    `db:"action"`
	Reasoning    string    `db:"reasoning"`
	Confidence   float64   `db:"confidence"`
	UsedModel    bool      `db:"used_model"`
	PriceAt      float64   `db:"price_at"`
	BalanceAt    float64   `db:"balance_at"`
	PnLAt        float64   `db:"pnl_at"`
	InputTokens  int       `db:"input_tokens"`
	OutputTokens int       `db:"output_tokens"`
}

// ArenaSnapshot is a periodic full-state capture for session replay
type ArenaSnapshot struct {
	SessionID   uuid.UUID              `db:"session_id"`
	MarketPrice float64                `db:"market_price"`
	Data        map[string]interface{} `db:"data"`
}
