package roster

import (
	"fmt"
	"math/rand"

	"github.com/pr3m/xrparena/internal/strategy"
)

// archetype is a named partial strategy tree merged onto the default by
// the validator, plus static commentary
type archetype struct {
	id          string
	name        string
	personality string
	overrides   map[string]any
	commentary  map[string]string
}

var archetypes = []archetype{
	{
		id:          "scalper",
		name:        "Blade",
		personality: "Hyperactive scalper who lives for quick in-and-out trades and hates holding overnight",
		overrides: map[string]any{
			"name":  "Scalper",
			"style": "scalping",
			"timeframe_weights": map[string]any{
				"1d": 5.0, "4h": 10.0, "1h": 20.0, "15m": 30.0, "5m": 35.0,
			},
			"cautious_margin_percent": 6.0,
			"full_margin_percent":     12.0,
			"entry_confidence":        55.0,
			"max_dca_count":           0.0,
			"max_hours":               1.0,
			"regime_preference": map[string]any{
				"trending": 3.0, "ranging": 5.0, "volatile": 4.0,
			},
		},
		commentary: map[string]string{
			"on_entry":       "{name} darts in — blink and you'll miss it.",
			"on_exit_profit": "{name} snatches the profit and is already gone.",
			"on_exit_loss":   "{name} cuts it instantly. Next.",
			"on_death":       "{name} scalped one knife too many.",
			"on_rival_death": "{name} shrugs: too slow, too greedy.",
		},
	},
	{
		id:          "momentum",
		name:        "Surge",
		personality: "Momentum rider who piles in when the market is already moving and never fights the tape",
		overrides: map[string]any{
			"name":  "Momentum",
			"style": "momentum",
			"timeframe_weights": map[string]any{
				"1d": 15.0, "4h": 25.0, "1h": 30.0, "15m": 20.0, "5m": 10.0,
			},
			"cautious_margin_percent": 9.0,
			"full_margin_percent":     18.0,
			"entry_confidence":        60.0,
			"max_hours":               4.0,
			"regime_preference": map[string]any{
				"trending": 6.0, "ranging": 1.0, "volatile": 4.0,
			},
		},
		commentary: map[string]string{
			"on_entry":       "{name} jumps on the moving train.",
			"on_exit_profit": "{name} rode the wave all the way in.",
			"on_exit_loss":   "{name} got on one stop too late.",
			"on_death":       "{name} chased momentum into the wall.",
			"on_rival_death": "{name} nods: the trend forgives no one.",
		},
	},
	{
		id:          "mean-reversion",
		name:        "Pendulum",
		personality: "Patient mean-reversion trader who fades extremes and trusts that everything returns to the middle",
		overrides: map[string]any{
			"name":  "Mean Reversion",
			"style": "mean_reversion",
			"timeframe_weights": map[string]any{
				"1d": 25.0, "4h": 25.0, "1h": 25.0, "15m": 15.0, "5m": 10.0,
			},
			"entry_confidence": 70.0,
			"dca_confidence":   55.0,
			"max_dca_count":    3.0,
			"max_hours":        6.0,
			"rsi_oversold":     25.0,
			"rsi_overbought":   75.0,
			"regime_preference": map[string]any{
				"trending": 1.0, "ranging": 6.0, "volatile": 3.0,
			},
		},
		commentary: map[string]string{
			"on_entry":       "{name} fades the crowd at the extreme.",
			"on_exit_profit": "{name} collects as price swings back to centre.",
			"on_exit_loss":   "{name} learns the hard way that extremes can extend.",
			"on_death":       "{name} reverted to zero instead.",
			"on_rival_death": "{name} murmurs: they forgot about the mean.",
		},
	},
	{
		id:          "trend-follower",
		name:        "Drift",
		personality: "Calm trend follower who waits for alignment across timeframes and then simply holds on",
		overrides: map[string]any{
			"name":  "Trend Follower",
			"style": "trend_following",
			"timeframe_weights": map[string]any{
				"1d": 40.0, "4h": 30.0, "1h": 15.0, "15m": 10.0, "5m": 5.0,
			},
			"cautious_margin_percent": 8.0,
			"full_margin_percent":     16.0,
			"entry_confidence":        68.0,
			"max_hours":               8.0,
			"regime_preference": map[string]any{
				"trending": 6.0, "ranging": 0.0, "volatile": 2.0,
			},
		},
		commentary: map[string]string{
			"on_entry":       "{name} settles in for the long haul.",
			"on_exit_profit": "{name} let the trend do the heavy lifting.",
			"on_exit_loss":   "{name} admits the trend was a mirage.",
			"on_death":       "{name} followed the trend off a cliff.",
			"on_rival_death": "{name} stays calm. Patience survives.",
		},
	},
	{
		id:          "breakout",
		name:        "Hammer",
		personality: "Aggressive breakout hunter who waits at key levels and strikes hard the moment they crack",
		overrides: map[string]any{
			"name":  "Breakout",
			"style": "breakout",
			"timeframe_weights": map[string]any{
				"1d": 20.0, "4h": 25.0, "1h": 25.0, "15m": 20.0, "5m": 10.0,
			},
			"cautious_margin_percent": 10.0,
			"full_margin_percent":     20.0,
			"entry_confidence":        62.0,
			"max_dca_count":           1.0,
			"max_hours":               3.0,
			"regime_preference": map[string]any{
				"trending": 4.0, "ranging": 1.0, "volatile": 6.0,
			},
		},
		commentary: map[string]string{
			"on_entry":       "{name} smashes through with the breakout.",
			"on_exit_profit": "{name} caught the level break clean.",
			"on_exit_loss":   "{name} got trapped in a fakeout.",
			"on_death":       "{name} broke out of the arena entirely.",
			"on_rival_death": "{name} grins: another one stopped out of existence.",
		},
	},
	{
		id:          "contrarian",
		name:        "Mirror",
		personality: "Stubborn contrarian who bets against the herd and doubles down when everyone disagrees",
		overrides: map[string]any{
			"name":  "Contrarian",
			"style": "contrarian",
			"timeframe_weights": map[string]any{
				"1d": 30.0, "4h": 20.0, "1h": 20.0, "15m": 15.0, "5m": 15.0,
			},
			"entry_confidence": 72.0,
			"dca_confidence":   50.0,
			"max_dca_count":    3.0,
			"max_hours":        7.0,
			"rsi_oversold":     20.0,
			"rsi_overbought":   80.0,
			"regime_preference": map[string]any{
				"trending": 1.0, "ranging": 4.0, "volatile": 5.0,
			},
		},
		commentary: map[string]string{
			"on_entry":       "{name} takes the other side. Obviously.",
			"on_exit_profit": "{name} was right when nobody else was.",
			"on_exit_loss":   "{name} fought the crowd and the crowd won.",
			"on_death":       "{name} was contrarian to the very end.",
			"on_rival_death": "{name} notes the herd claims another.",
		},
	},
}

// ArchetypeIDs lists the built-in archetype ids
func ArchetypeIDs() []string {
	ids := make([]string, len(archetypes))
	for i, a := range archetypes {
		ids[i] = a.id
	}
	return ids
}

// FromArchetypes builds a roster by shuffling the built-in archetypes
// without replacement and validating each merged strategy. An empty
// allowed list permits all six; token and cost totals are always zero.
func FromArchetypes(count int, allowed []string, limits strategy.SessionLimits, rng *rand.Rand) (*Roster, error) {
	pool := archetypes
	if len(allowed) > 0 {
		allowedSet := make(map[string]bool, len(allowed))
		for _, id := range allowed {
			allowedSet[id] = true
		}
		pool = nil
		for _, a := range archetypes {
			if allowedSet[a.id] {
				pool = append(pool, a)
			}
		}
	}
	if count > len(pool) {
		return nil, fmt.Errorf("requested %d agents but only %d archetypes available", count, len(pool))
	}

	order := make([]int, len(pool))
	for i := range order {
		order[i] = i
	}
	rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	out := &Roster{
		Theme:            "House Rules",
		MasterCommentary: "Six styles walk in, one walks out on top.",
	}
	for _, idx := range order[:count] {
		a := pool[idx]
		strat, report := strategy.Validate(a.overrides, limits)
		out.Agents = append(out.Agents, &Agent{
			Name:        a.name,
			Archetype:   a.id,
			Personality: a.personality,
			Strategy:    strat,
			Commentary:  a.commentary,
			Report:      report,
		})
	}
	assignVisuals(out.Agents)
	return out, nil
}
