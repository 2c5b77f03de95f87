package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pr3m/xrparena/internal/arena"
	"github.com/pr3m/xrparena/internal/llm"
	"github.com/pr3m/xrparena/internal/market"
	"github.com/pr3m/xrparena/internal/strategy"
)

// Action is one of the six decisions an agent can make per tick
type Action string

const (
	ActionOpenLong  Action = "open_long"
	ActionOpenShort Action = "open_short"
	ActionClose     Action = "close"
	ActionDCA       Action = "dca"
	ActionHold      Action = "hold"
	ActionWait      Action = "wait"
)

// Decision is the engine's per-tick output
type Decision struct {
	Action        Action  `json:"action"`
	Confidence    float64 `json:"confidence"` // [0, 100]
	Rationale     string  `json:"rationale"`
	UsedModel     bool    `json:"used_model"`
	MarginPercent float64 `json:"margin_percent,omitempty"`
	InputTokens   int     `json:"input_tokens,omitempty"`
	OutputTokens  int     `json:"output_tokens,omitempty"`
	CostUSD       float64 `json:"cost_usd,omitempty"`
}

// Tier-2 escalation window: rule decisions this uncertain go to the model
const (
	escalateMinConfidence = 30.0
	escalateMaxConfidence = 70.0
	reversalConfidence    = 75.0
	maxModelTokens        = 400
)

// zoneMarginScale shrinks position sizing as health degrades. Death row is
// deliberately back at full size: the last stand.
var zoneMarginScale = map[arena.HealthZone]float64{
	arena.ZoneSafe:     1.0,
	arena.ZoneCaution:  0.9,
	arena.ZoneDanger:   0.7,
	arena.ZoneCritical: 0.5,
	arena.ZoneDeathRow: 1.0,
}

// DecisionEngine produces one decision per tick for one agent. Tier 1 is
// deterministic rules over the shared snapshot; tier 2 escalates uncertain
// actionable decisions to a language model within the agent's budget;
// tier 3 falls back to tier 1 silently.
type DecisionEngine struct {
	agentName   string
	personality string
	strat       *strategy.Strategy
	invoker     llm.Invoker
	modelID     string
	log         zerolog.Logger
}

// NewDecisionEngine creates an engine for one agent. A nil invoker or
// empty model id disables tier 2 entirely.
func NewDecisionEngine(agentName, personality string, strat *strategy.Strategy, invoker llm.Invoker, modelID string, logger zerolog.Logger) *DecisionEngine {
	return &DecisionEngine{
		agentName:   agentName,
		personality: personality,
		strat:       strat,
		invoker:     invoker,
		modelID:     modelID,
		log:         logger,
	}
}

// Strategy returns the engine's validated strategy
func (e *DecisionEngine) Strategy() *strategy.Strategy {
	return e.strat
}

// DecisionInput is everything one decision needs
type DecisionInput struct {
	State              *arena.AgentState
	Snapshot           *market.Snapshot
	Knife              *KnifeState
	RemainingBudgetUSD float64
	Elapsed            time.Duration
	Remaining          time.Duration
	Now                time.Time
}

// Decide runs the three tiers and returns exactly one decision. It also
// maintains the agent's consecutive-hold counter.
func (e *DecisionEngine) Decide(ctx context.Context, in DecisionInput) *Decision {
	decision := e.tier1(in)

	if e.shouldEscalate(decision, in) {
		decision = e.tier2(ctx, decision, in)
	}

	if decision.Action == ActionHold || decision.Action == ActionWait {
		in.State.ConsecutiveHolds++
	} else {
		in.State.ConsecutiveHolds = 0
	}
	return decision
}

func (e *DecisionEngine) tier1(in DecisionInput) *Decision {
	if in.State.Position != nil && in.State.Position.IsOpen {
		return e.positionRules(in)
	}
	return e.entryRules(in)
}

// entryRules decides whether to open a position from the shared
// recommendation, adjusted for health zone, regime preference and any
// active knife.
func (e *DecisionEngine) entryRules(in DecisionInput) *Decision {
	rec := in.Snapshot.Recommendation
	if rec == nil || rec.Action == "WAIT" {
		return &Decision{
			Action:     ActionWait,
			Confidence: 60,
			Rationale:  "No directional edge across timeframes, staying flat",
		}
	}

	threshold := e.strat.EntryConfidence
	switch in.State.Zone {
	case arena.ZoneCritical:
		threshold += 20
	case arena.ZoneDanger:
		threshold += 10
	case arena.ZoneDeathRow:
		// last stand: baseline threshold, nothing left to protect
	}

	regime := inferRegime(in.Snapshot)
	bonus := e.strat.RegimePreference[regime]
	adjusted := rec.Confidence + bonus

	if adjusted < threshold {
		return &Decision{
			Action:     ActionWait,
			Confidence: clamp(adjusted, 0, 100),
			Rationale:  fmt.Sprintf("%s signal at %.0f below my %.0f bar in a %s market", rec.Action, adjusted, threshold, regime),
		}
	}

	side := arena.SideLong
	action := ActionOpenLong
	if rec.Action == "SHORT" {
		side = arena.SideShort
		action = ActionOpenShort
	}

	if in.Knife.BlocksCounterTrend(side) {
		return &Decision{
			Action:     ActionWait,
			Confidence: 70,
			Rationale:  fmt.Sprintf("Price is knifing through a key level, not catching it %s", side),
		}
	}

	margin := e.entryMargin(adjusted, threshold, in.State.Zone) * in.Knife.MarginScale(side)

	return &Decision{
		Action:        action,
		Confidence:    clamp(adjusted, 0, 100),
		Rationale:     fmt.Sprintf("%s bias %.1f with %.0f%% confidence in a %s market, sizing %.1f%%", rec.Action, rec.Bias, adjusted, regime, margin),
		MarginPercent: margin,
	}
}

// positionRules evaluates the fixed-order exit/DCA ladder and returns on
// the first match
func (e *DecisionEngine) positionRules(in DecisionInput) *Decision {
	pos := in.State.Position
	rec := in.Snapshot.Recommendation
	hoursOpen := in.Now.Sub(pos.OpenedAt).Hours()
	pnlPct := pos.UnrealizedPnLPct

	// (i) time stop
	if hoursOpen >= e.strat.MaxHours {
		return &Decision{
			Action:     ActionClose,
			Confidence: 90,
			Rationale:  fmt.Sprintf("Position open %.1fh, past my %.1fh limit", hoursOpen, e.strat.MaxHours),
		}
	}

	// (ii) strong reversal against the position
	if rec != nil && rec.Confidence >= reversalConfidence && reversed(rec.Action, pos.Side) {
		return &Decision{
			Action:     ActionClose,
			Confidence: rec.Confidence,
			Rationale:  fmt.Sprintf("Market flipped %s against my %s with %.0f%% conviction", rec.Action, pos.Side, rec.Confidence),
		}
	}

	// (iii) anti-greed take-profit
	timeRatio := 0.0
	if e.strat.MaxHours > 0 {
		timeRatio = hoursOpen / e.strat.MaxHours
	}
	if pnlPct > 5 || (pnlPct > 3 && timeRatio > 0.6) {
		return &Decision{
			Action:     ActionClose,
			Confidence: 80,
			Rationale:  fmt.Sprintf("Banking %.1f%% on margin before the market takes it back", pnlPct),
		}
	}

	// (iv) average into a drawdown while healthy and the signal agrees
	if pnlPct <= -2 &&
		in.State.Zone != arena.ZoneCritical && in.State.Zone != arena.ZoneDeathRow &&
		pos.DCACount < e.strat.MaxDCACount &&
		rec != nil && aligned(rec.Action, pos.Side) && rec.Confidence >= e.strat.DCAConfidence {
		margin := e.entryMargin(rec.Confidence, e.strat.EntryConfidence, in.State.Zone) / 2
		return &Decision{
			Action:        ActionDCA,
			Confidence:    rec.Confidence,
			Rationale:     fmt.Sprintf("Down %.1f%% but the %s signal holds, averaging in at half size", -pnlPct, rec.Action),
			MarginPercent: margin,
		}
	}

	// (v) cut losses when critical
	if in.State.Zone == arena.ZoneCritical && pnlPct <= -5 {
		return &Decision{
			Action:     ActionClose,
			Confidence: 85,
			Rationale:  fmt.Sprintf("Health critical and down %.1f%%, cutting the loss", -pnlPct),
		}
	}

	// (vi) default
	return &Decision{
		Action:     ActionHold,
		Confidence: 55,
		Rationale:  fmt.Sprintf("Holding %s, %.1f%% on margin after %.1fh", pos.Side, pnlPct, hoursOpen),
	}
}

// entryMargin interpolates between the cautious and full margin bounds by
// confidence above threshold, then scales by health zone
func (e *DecisionEngine) entryMargin(confidence, threshold float64, zone arena.HealthZone) float64 {
	span := 95 - threshold
	t := 0.0
	if span > 0 {
		t = clamp((confidence-threshold)/span, 0, 1)
	}
	margin := e.strat.CautiousMarginPct + (e.strat.FullMarginPct-e.strat.CautiousMarginPct)*t

	scale, ok := zoneMarginScale[zone]
	if !ok {
		scale = 1.0
	}
	return margin * scale
}

func (e *DecisionEngine) shouldEscalate(d *Decision, in DecisionInput) bool {
	if e.invoker == nil || e.modelID == "" || in.RemainingBudgetUSD <= 0 {
		return false
	}
	switch d.Action {
	case ActionOpenLong, ActionOpenShort, ActionClose, ActionDCA:
	default:
		return false // holds and waits are never escalated
	}
	return d.Confidence >= escalateMinConfidence && d.Confidence < escalateMaxConfidence
}

type modelDecision struct {
	Action        string  `json:"action"`
	Confidence    float64 `json:"confidence"`
	Reasoning     string  `json:"reasoning"`
	MarginPercent float64 `json:"margin_percent"`
}

// tier2 asks the model to confirm or override an uncertain rule decision.
// Transport failures fall back without charging; parse failures fall back
// but still account the tokens that were spent.
func (e *DecisionEngine) tier2(ctx context.Context, tier1 *Decision, in DecisionInput) *Decision {
	completion, err := e.invoker.Invoke(ctx, e.modelID, e.systemPrompt(), e.userPrompt(tier1, in), maxModelTokens)
	if err != nil {
		e.log.Warn().Err(err).Str("agent", e.agentName).Msg("Model call failed, falling back to rules")
		fallback := *tier1
		fallback.UsedModel = true
		return &fallback
	}

	cost := llm.Cost(e.modelID, completion.InputTokens, completion.OutputTokens)

	parsed, perr := parseModelDecision(completion.Text)
	if perr != nil {
		e.log.Warn().Err(perr).Str("agent", e.agentName).Msg("Unparseable model decision, falling back to rules")
		fallback := *tier1
		fallback.UsedModel = true
		fallback.InputTokens = completion.InputTokens
		fallback.OutputTokens = completion.OutputTokens
		fallback.CostUSD = cost
		return &fallback
	}

	margin := parsed.MarginPercent
	if margin <= 0 {
		margin = tier1.MarginPercent
	}
	return &Decision{
		Action:        parsed.action(),
		Confidence:    clamp(parsed.Confidence, 0, 100),
		Rationale:     parsed.Reasoning,
		UsedModel:     true,
		MarginPercent: clamp(margin, 0, MaxMarginPercent),
		InputTokens:   completion.InputTokens,
		OutputTokens:  completion.OutputTokens,
		CostUSD:       cost,
	}
}

func parseModelDecision(text string) (*modelDecision, error) {
	raw, err := llm.ExtractJSON(text)
	if err != nil {
		return nil, err
	}
	var parsed modelDecision
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("invalid decision JSON: %w", err)
	}
	if parsed.action() == "" {
		return nil, fmt.Errorf("unknown action %q in model decision", parsed.Action)
	}
	if parsed.Reasoning == "" {
		parsed.Reasoning = "Model decision without stated reasoning"
	}
	return &parsed, nil
}

func (m *modelDecision) action() Action {
	switch strings.ToLower(strings.TrimSpace(m.Action)) {
	case "open_long", "long", "buy":
		return ActionOpenLong
	case "open_short", "short", "sell":
		return ActionOpenShort
	case "close", "exit":
		return ActionClose
	case "dca", "average":
		return ActionDCA
	case "hold":
		return ActionHold
	case "wait":
		return ActionWait
	}
	return ""
}

func (e *DecisionEngine) systemPrompt() string {
	return fmt.Sprintf(`You are %s, a trading agent in a paper-trading arena. Personality: %s.
You receive your current state, the market snapshot and a preliminary rule-based decision.
Respond with a single JSON object: {"action": "open_long|open_short|close|dca|hold|wait", "confidence": 0-100, "reasoning": "...", "margin_percent": 5-20}.
No text outside the JSON object.`, e.agentName, e.personality)
}

func (e *DecisionEngine) userPrompt(tier1 *Decision, in DecisionInput) string {
	var b strings.Builder
	st := in.State
	snap := in.Snapshot

	fmt.Fprintf(&b, "State: balance %.2f, equity %.2f, health %.0f (%s), realized pnl %.2f, win rate %.0f%%\n",
		st.Balance, st.Equity, st.Health, st.Zone, st.RealizedPnL, st.WinRate()*100)
	if pos := st.Position; pos != nil && pos.IsOpen {
		fmt.Fprintf(&b, "Position: %s %.2f @ %.4f, %.1f%% on margin, liquidation at %.4f, dca %d\n",
			pos.Side, pos.Volume, pos.AvgEntryPrice, pos.UnrealizedPnLPct, pos.LiquidationPrice, pos.DCACount)
	} else {
		b.WriteString("Position: none\n")
	}

	fmt.Fprintf(&b, "Market: %s at %.4f, 24h range %.4f-%.4f, BTC %s (%.1f%%)\n",
		snap.Pair, snap.LastPrice, snap.Low24h, snap.High24h, snap.BTCTrend, snap.BTCChange24h)
	if rec := snap.Recommendation; rec != nil {
		fmt.Fprintf(&b, "Base signal: %s, confidence %.0f, weighted bias %.2f\n", rec.Action, rec.Confidence, rec.Bias)
	}
	for _, tf := range []string{"1h", "4h"} {
		if data, ok := snap.Timeframes[tf]; ok {
			ind := data.Indicators
			fmt.Fprintf(&b, "%s: rsi %.1f, macd hist %.5f, boll pos %.2f, bias %s\n",
				tf, ind.RSI, ind.MACD.Histogram, ind.Bollinger.Position, ind.Bias)
		}
	}

	fmt.Fprintf(&b, "Session: %.0f%% elapsed, budget left $%.4f\n",
		sessionProgress(in.Elapsed, in.Remaining)*100, in.RemainingBudgetUSD)
	fmt.Fprintf(&b, "Rule decision: %s (confidence %.0f) — %s\n", tier1.Action, tier1.Confidence, tier1.Rationale)
	b.WriteString("Confirm or override. JSON only.")
	return b.String()
}

func sessionProgress(elapsed, remaining time.Duration) float64 {
	total := elapsed + remaining
	if total <= 0 {
		return 0
	}
	return float64(elapsed) / float64(total)
}

// inferRegime classifies the market from the 1h indicators: elevated ATR
// relative to price means volatile, a strong composite bias means
// trending, anything else is ranging.
func inferRegime(snap *market.Snapshot) string {
	data, ok := snap.Timeframes["1h"]
	if !ok || snap.LastPrice <= 0 {
		return "ranging"
	}
	ind := data.Indicators

	if ind.ATR/snap.LastPrice*100 >= 1.0 {
		return "volatile"
	}
	if ind.BiasScore >= 2 || ind.BiasScore <= -2 {
		return "trending"
	}
	return "ranging"
}

func reversed(recAction string, side arena.Side) bool {
	return (side == arena.SideLong && recAction == "SHORT") ||
		(side == arena.SideShort && recAction == "LONG")
}

func aligned(recAction string, side arena.Side) bool {
	return (side == arena.SideLong && recAction == "LONG") ||
		(side == arena.SideShort && recAction == "SHORT")
}
