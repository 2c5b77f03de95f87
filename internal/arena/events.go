package arena

import (
	"time"

	"github.com/google/uuid"
)

// EventType is the closed set of arena event tags
type EventType string

const (
	EventTick              EventType = "tick"
	EventAgentAction       EventType = "agent_action"
	EventTradeOpen         EventType = "trade_open"
	EventTradeClose        EventType = "trade_close"
	EventTradeDCA          EventType = "trade_dca"
	EventAgentDeath        EventType = "agent_death"
	EventLeaderboardUpdate EventType = "leaderboard_update"
	EventFaceOff           EventType = "face_off"
	EventLeadChange        EventType = "lead_change"
	EventNearDeath         EventType = "near_death"
	EventHotStreak         EventType = "hot_streak"
	EventComeback          EventType = "comeback"
	EventMarketShock       EventType = "market_shock"
	EventBadgeEarned       EventType = "badge_earned"
	EventMilestone         EventType = "milestone"
	EventSessionStarted    EventType = "session_started"
	EventSessionPaused     EventType = "session_paused"
	EventSessionResumed    EventType = "session_resumed"
	EventSessionEnded      EventType = "session_ended"
	EventBudgetWarning     EventType = "budget_warning"
	EventAgentHold         EventType = "agent_hold"
	EventAgentWait         EventType = "agent_wait"
	EventAgentAnalyzing    EventType = "agent_analyzing"
	EventAgentThinking     EventType = "agent_thinking"
	EventRosterReveal      EventType = "roster_reveal"
	EventSessionCountdown  EventType = "session_countdown"
)

// Importance of an event for subscribers that filter or style by weight
type Importance string

const (
	ImportanceLow      Importance = "low"
	ImportanceMedium   Importance = "medium"
	ImportanceHigh     Importance = "high"
	ImportanceCritical Importance = "critical"
)

// Event is an immutable, append-only arena event record
type Event struct {
	ID         uuid.UUID      `json:"id"`
	Type       EventType      `json:"type"`
	AgentID    *uuid.UUID     `json:"agent_id,omitempty"`
	AgentName  string         `json:"agent_name,omitempty"`
	Importance Importance     `json:"importance"`
	Title      string         `json:"title"`
	Detail     string         `json:"detail"`
	PriceAt    float64        `json:"price_at"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewEvent builds an event with a fresh id and timestamp
func NewEvent(eventType EventType, importance Importance, title, detail string, price float64) Event {
	return Event{
		ID:         uuid.New(),
		Type:       eventType,
		Importance: importance,
		Title:      title,
		Detail:     detail,
		PriceAt:    price,
		Timestamp:  time.Now().UTC(),
	}
}

// WithAgent attaches the originating agent
func (e Event) WithAgent(agent *AgentState) Event {
	id := agent.ID
	e.AgentID = &id
	e.AgentName = agent.Name
	return e
}

// WithMetadata attaches the free-form metadata map
func (e Event) WithMetadata(meta map[string]any) Event {
	e.Metadata = meta
	return e
}
