package roster

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/pr3m/xrparena/internal/llm"
	"github.com/pr3m/xrparena/internal/strategy"
)

// GeneratorConfig controls model-mode roster generation
type GeneratorConfig struct {
	AgentCount    int
	DurationHours float64
	ModelID       string
	MarketContext string // optional one-line market summary for flavour
	Limits        strategy.SessionLimits
}

// rawRoster mirrors the JSON schema the model is asked to produce
type rawRoster struct {
	Theme            string     `json:"theme"`
	MasterCommentary string     `json:"master_commentary"`
	Agents           []rawAgent `json:"agents"`
}

type rawAgent struct {
	Name        string            `json:"name"`
	Personality string            `json:"personality"`
	Strategy    json.RawMessage   `json:"strategy"`
	Commentary  map[string]string `json:"commentary"`
}

// strategyTree decodes the agent's strategy blob leniently: anything that
// is not a JSON object becomes nil, which the validator turns into the
// default strategy plus an error report
func (ra *rawAgent) strategyTree() map[string]any {
	var tree map[string]any
	if err := json.Unmarshal(ra.Strategy, &tree); err != nil {
		return nil
	}
	return tree
}

// FromModel generates a themed roster with a single model call. Every
// returned strategy has been through the validator, so a malformed model
// response degrades to defaults instead of failing the session.
func FromModel(ctx context.Context, invoker llm.Invoker, cfg GeneratorConfig) (*Roster, error) {
	completion, err := invoker.Invoke(ctx, cfg.ModelID, rosterSystemPrompt, rosterUserPrompt(cfg), 4000)
	if err != nil {
		return nil, fmt.Errorf("roster generation failed: %w", err)
	}

	cost := llm.Cost(cfg.ModelID, completion.InputTokens, completion.OutputTokens)

	raw, err := llm.ExtractJSON(completion.Text)
	if err != nil {
		return nil, fmt.Errorf("roster response contained no JSON: %w", err)
	}
	var parsed rawRoster
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse roster JSON: %w", err)
	}
	if len(parsed.Agents) == 0 {
		return nil, fmt.Errorf("roster response contained no agents")
	}
	if len(parsed.Agents) > cfg.AgentCount {
		parsed.Agents = parsed.Agents[:cfg.AgentCount]
	}

	out := &Roster{
		Theme:            parsed.Theme,
		MasterCommentary: parsed.MasterCommentary,
		InputTokens:      completion.InputTokens,
		OutputTokens:     completion.OutputTokens,
		CostUSD:          cost,
	}
	for i, ra := range parsed.Agents {
		strat, report := strategy.Validate(ra.strategyTree(), cfg.Limits)
		if len(report.Errors) > 0 {
			log.Warn().
				Str("agent", ra.Name).
				Strs("errors", report.Errors).
				Msg("Model roster strategy coerced to defaults")
		}

		name := strings.TrimSpace(ra.Name)
		if name == "" {
			name = fmt.Sprintf("Agent %d", i+1)
		}
		commentary := ra.Commentary
		if commentary == nil {
			commentary = map[string]string{}
		}
		out.Agents = append(out.Agents, &Agent{
			Name:        name,
			Archetype:   strat.Style,
			Personality: ra.Personality,
			Strategy:    strat,
			Commentary:  commentary,
			Report:      report,
		})
	}
	assignVisuals(out.Agents)
	return out, nil
}

const rosterSystemPrompt = `You design rosters of fictional trading agents for a paper-trading arena.
Respond with a single JSON object and nothing else.`

func rosterUserPrompt(cfg GeneratorConfig) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Create %d distinct trading agents for a %.1f-hour XRP/EUR leveraged paper-trading competition.\n", cfg.AgentCount, cfg.DurationHours)
	if cfg.MarketContext != "" {
		fmt.Fprintf(&b, "Current market: %s\n", cfg.MarketContext)
	}
	b.WriteString(`
Schema:
{
  "theme": "a short theme naming the cast",
  "master_commentary": "one line of announcer flavour",
  "agents": [
    {
      "name": "short memorable name",
      "personality": "one or two sentences of trading personality",
      "strategy": {
        "name": "...", "style": "...",
        "timeframe_weights": {"1d": 30, "4h": 25, "1h": 20, "15m": 15, "5m": 10},
        "cautious_margin_percent": 5-20, "full_margin_percent": 5-20,
        "entry_confidence": 40-95, "dca_confidence": 40-95,
        "max_dca_count": 0-3, "max_hours": 0.5-` + fmt.Sprintf("%.1f", cfg.Limits.DurationHours) + `,
        "rsi_oversold": 10-40, "rsi_overbought": 60-90,
        "regime_preference": {"trending": 0-6, "ranging": 0-6, "volatile": 0-6}
      },
      "commentary": {
        "on_entry": "...", "on_exit_profit": "...", "on_exit_loss": "...",
        "on_death": "...", "on_rival_death": "..."
      }
    }
  ]
}

Timeframe weights must sum to 100. Make the agents stylistically different from each other.
Use {name} as a placeholder inside commentary lines.`)
	return b.String()
}
