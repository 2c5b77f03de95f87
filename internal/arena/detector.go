package arena

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Detector inspects per-tick agent snapshots and emits dramatic narrative
// events. It is stateful per session: streak counters, alert latches and
// the face-off pair set live here, never on the agents.
type Detector struct {
	prevLeader      uuid.UUID
	hasLeader       bool
	priceRing       []float64 // bounded at priceRingSize
	winStreaks      map[uuid.UUID]int
	lowestHealth    map[uuid.UUID]float64
	nearDeathAlerts map[uuid.UUID]bool
	comebackAlerts  map[uuid.UUID]bool
	faceOffPairs    map[pairKey]bool
	countdownsFired map[time.Duration]bool
}

const (
	priceRingSize        = 100
	nearDeathThreshold   = 25.0
	nearDeathRearm       = 40.0
	comebackLowWatermark = 40.0
	comebackHigh         = 70.0
	hotStreakMin         = 3
	hotStreakEscalation  = 5
	marketShockPct       = 1.0
)

// countdownThresholds are the remaining-time marks that fire exactly once
var countdownThresholds = []time.Duration{time.Hour, 15 * time.Minute, 5 * time.Minute}

type pairKey struct {
	a, b uuid.UUID
}

func makePairKey(x, y uuid.UUID) pairKey {
	if y.String() < x.String() {
		x, y = y, x
	}
	return pairKey{a: x, b: y}
}

// NewDetector creates a detector with empty session memory
func NewDetector() *Detector {
	return &Detector{
		winStreaks:      make(map[uuid.UUID]int),
		lowestHealth:    make(map[uuid.UUID]float64),
		nearDeathAlerts: make(map[uuid.UUID]bool),
		comebackAlerts:  make(map[uuid.UUID]bool),
		faceOffPairs:    make(map[pairKey]bool),
		countdownsFired: make(map[time.Duration]bool),
	}
}

// Scan runs the per-tick checks against the updated agent states and the
// current price, returning zero or more events in a deterministic order:
// face-offs, lead change, near-death, comeback, market shock.
func (d *Detector) Scan(agents []*AgentState, price float64) []Event {
	var events []Event

	events = append(events, d.checkFaceOffs(agents, price)...)
	if e := d.checkLeadChange(agents, price); e != nil {
		events = append(events, *e)
	}
	events = append(events, d.checkNearDeath(agents, price)...)
	events = append(events, d.checkComebacks(agents, price)...)
	if e := d.checkMarketShock(price); e != nil {
		events = append(events, *e)
	}

	d.pushPrice(price)
	return events
}

// RecordTradeClose updates the win streak for a closed trade and returns a
// hot-streak event once the streak reaches three, escalating at five.
func (d *Detector) RecordTradeClose(agent *AgentState, profitable bool, price float64) *Event {
	if !profitable {
		d.winStreaks[agent.ID] = 0
		return nil
	}

	d.winStreaks[agent.ID]++
	streak := d.winStreaks[agent.ID]
	if streak < hotStreakMin {
		return nil
	}

	importance := ImportanceMedium
	if streak >= hotStreakEscalation {
		importance = ImportanceHigh
	}
	e := NewEvent(EventHotStreak, importance,
		fmt.Sprintf("%s is on fire", agent.Name),
		fmt.Sprintf("%d winning trades in a row", streak),
		price).WithAgent(agent)
	e.Metadata = map[string]any{"streak": streak}
	return &e
}

// Countdowns emits a session_countdown event for each remaining-time
// threshold crossed since the previous call, each at most once.
func (d *Detector) Countdowns(remaining time.Duration, price float64) []Event {
	var events []Event
	for _, threshold := range countdownThresholds {
		if remaining <= threshold && !d.countdownsFired[threshold] {
			d.countdownsFired[threshold] = true
			events = append(events, NewEvent(EventSessionCountdown, ImportanceMedium,
				"Session countdown",
				fmt.Sprintf("%s remaining", threshold),
				price).WithMetadata(map[string]any{"remaining_ms": remaining.Milliseconds()}))
		}
	}
	return events
}

func (d *Detector) checkFaceOffs(agents []*AgentState, price float64) []Event {
	active := make(map[pairKey]bool)
	var events []Event

	for i := 0; i < len(agents); i++ {
		for j := i + 1; j < len(agents); j++ {
			a, b := agents[i], agents[j]
			if a.Dead || b.Dead || a.Position == nil || b.Position == nil {
				continue
			}
			if !a.Position.IsOpen || !b.Position.IsOpen || a.Position.Side == b.Position.Side {
				continue
			}

			key := makePairKey(a.ID, b.ID)
			active[key] = true
			if d.faceOffPairs[key] {
				continue
			}
			d.faceOffPairs[key] = true

			long, short := a, b
			if a.Position.Side == SideShort {
				long, short = b, a
			}
			e := NewEvent(EventFaceOff, ImportanceHigh,
				fmt.Sprintf("%s vs %s", long.Name, short.Name),
				fmt.Sprintf("%s is long while %s is short — only one can be right", long.Name, short.Name),
				price)
			e.Metadata = map[string]any{
				"long_agent":  long.ID.String(),
				"short_agent": short.ID.String(),
			}
			events = append(events, e)
		}
	}

	// Clear pairs that are no longer opposed so a fresh face-off can fire
	for key := range d.faceOffPairs {
		if !active[key] {
			delete(d.faceOffPairs, key)
		}
	}
	return events
}

func (d *Detector) checkLeadChange(agents []*AgentState, price float64) *Event {
	var leader *AgentState
	for _, a := range agents {
		if a.Dead {
			continue
		}
		if leader == nil || a.Equity > leader.Equity {
			leader = a
		}
	}
	if leader == nil {
		return nil
	}

	if !d.hasLeader {
		d.hasLeader = true
		d.prevLeader = leader.ID
		return nil
	}
	if leader.ID == d.prevLeader {
		return nil
	}

	prev := d.prevLeader
	d.prevLeader = leader.ID
	e := NewEvent(EventLeadChange, ImportanceHigh,
		fmt.Sprintf("%s takes the lead", leader.Name),
		fmt.Sprintf("%s overtakes the previous leader with equity %.2f", leader.Name, leader.Equity),
		price).WithAgent(leader)
	e.Metadata = map[string]any{"previous_leader": prev.String()}
	return &e
}

func (d *Detector) checkNearDeath(agents []*AgentState, price float64) []Event {
	var events []Event
	for _, a := range agents {
		if a.Dead {
			continue
		}
		if low, ok := d.lowestHealth[a.ID]; !ok || a.Health < low {
			d.lowestHealth[a.ID] = a.Health
		}

		if a.Health > nearDeathRearm {
			d.nearDeathAlerts[a.ID] = false
			continue
		}
		if a.Health <= nearDeathThreshold && !d.nearDeathAlerts[a.ID] {
			d.nearDeathAlerts[a.ID] = true
			events = append(events, NewEvent(EventNearDeath, ImportanceCritical,
				fmt.Sprintf("%s is on death row", a.Name),
				fmt.Sprintf("Health down to %.0f — one bad move from elimination", a.Health),
				price).WithAgent(a))
		}
	}
	return events
}

func (d *Detector) checkComebacks(agents []*AgentState, price float64) []Event {
	var events []Event
	for _, a := range agents {
		if a.Dead || d.comebackAlerts[a.ID] {
			continue
		}
		low, seen := d.lowestHealth[a.ID]
		if seen && low < comebackLowWatermark && a.Health > comebackHigh {
			d.comebackAlerts[a.ID] = true
			events = append(events, NewEvent(EventComeback, ImportanceHigh,
				fmt.Sprintf("%s claws back", a.Name),
				fmt.Sprintf("From health %.0f back up to %.0f", low, a.Health),
				price).WithAgent(a).WithMetadata(map[string]any{"lowest_health": low}))
		}
	}
	return events
}

func (d *Detector) checkMarketShock(price float64) *Event {
	if len(d.priceRing) == 0 || price <= 0 {
		return nil
	}
	last := d.priceRing[len(d.priceRing)-1]
	if last <= 0 {
		return nil
	}
	changePct := (price - last) / last * 100
	if changePct < marketShockPct && changePct > -marketShockPct {
		return nil
	}

	direction := "surges"
	if changePct < 0 {
		direction = "plunges"
	}
	e := NewEvent(EventMarketShock, ImportanceCritical,
		fmt.Sprintf("Market %s %.2f%%", direction, changePct),
		fmt.Sprintf("Price moved from %.4f to %.4f in one tick", last, price),
		price)
	e.Metadata = map[string]any{"change_pct": changePct}
	return &e
}

func (d *Detector) pushPrice(price float64) {
	d.priceRing = append(d.priceRing, price)
	if len(d.priceRing) > priceRingSize {
		d.priceRing = d.priceRing[len(d.priceRing)-priceRingSize:]
	}
}

// WinStreak returns the current consecutive-win count for an agent
func (d *Detector) WinStreak(agentID uuid.UUID) int {
	return d.winStreaks[agentID]
}

// PriceHistory returns a copy of the bounded price ring, oldest first
func (d *Detector) PriceHistory() []float64 {
	return append([]float64(nil), d.priceRing...)
}

// SortAgentsByID orders agents deterministically for per-tick iteration
func SortAgentsByID(agents []*AgentState) {
	sort.Slice(agents, func(i, j int) bool {
		return agents[i].ID.String() < agents[j].ID.String()
	})
}
