package arena

import "sort"

// deadPenalty guarantees dead agents sort below any alive agent
const deadPenalty = 10000.0

// RARS is the risk-adjusted return score:
// return percent, scaled by consistency and survival, with a flat penalty
// for dead agents.
func RARS(agent *AgentState) float64 {
	returnPct := 0.0
	if agent.StartingCapital > 0 {
		returnPct = agent.RealizedPnL / agent.StartingCapital * 100
	}

	consistency := 1 + (agent.WinRate()-0.5)*0.5

	survival := 1.0
	if agent.StartingCapital > 0 {
		ratio := agent.Equity / agent.StartingCapital
		if ratio < 1 {
			survival = ratio
		}
	}
	if survival < 0 {
		survival = 0
	}

	score := returnPct * consistency * survival
	if agent.Dead {
		score -= deadPenalty
	}
	return score
}

// Rank sorts agents by RARS descending and assigns 1-based ranks in place.
// Ties break by agent id so ranking is stable across ticks.
func Rank(agents []*AgentState) {
	sort.SliceStable(agents, func(i, j int) bool {
		si, sj := RARS(agents[i]), RARS(agents[j])
		if si != sj {
			return si > sj
		}
		return agents[i].ID.String() < agents[j].ID.String()
	})
	for i, a := range agents {
		a.Rank = i + 1
	}
}

// Title is an end-of-session award
type Title struct {
	Name    string    `json:"name"`
	AgentID string    `json:"agent_id"`
	Agent   string    `json:"agent"`
	Detail  string    `json:"detail"`
	Value   float64   `json:"value"`
}

// Titles computes the fixed taxonomy of session titles. Each title names at
// most one winner; titles with no qualifying agent are omitted.
func Titles(agents []*AgentState) []Title {
	var titles []Title

	if winner := maxBy(agents, func(a *AgentState) (float64, bool) {
		return a.RealizedPnL, a.TradeCount > 0
	}); winner != nil {
		titles = append(titles, Title{
			Name: "Best Trader", AgentID: winner.ID.String(), Agent: winner.Name,
			Detail: "Highest realized P&L", Value: winner.RealizedPnL,
		})
	}

	if winner := maxBy(agents, func(a *AgentState) (float64, bool) {
		return a.WinRate(), a.WinCount+a.LossCount >= 3
	}); winner != nil {
		titles = append(titles, Title{
			Name: "Most Consistent", AgentID: winner.ID.String(), Agent: winner.Name,
			Detail: "Best win rate over at least 3 trades", Value: winner.WinRate(),
		})
	}

	if winner := maxBy(agents, func(a *AgentState) (float64, bool) {
		if a.TradeCount == 0 {
			return 0, false
		}
		return a.TotalFees / float64(a.TradeCount), true
	}); winner != nil {
		titles = append(titles, Title{
			Name: "Biggest Risk Taker", AgentID: winner.ID.String(), Agent: winner.Name,
			Detail: "Largest average fee per trade", Value: winner.TotalFees / float64(winner.TradeCount),
		})
	}

	if winner := maxBy(agents, func(a *AgentState) (float64, bool) {
		return a.Health, !a.Dead && a.TradeCount > 0
	}); winner != nil {
		titles = append(titles, Title{
			Name: "Survivor", AgentID: winner.ID.String(), Agent: winner.Name,
			Detail: "Still standing after trading through the session", Value: winner.Health,
		})
	}

	if winner := maxBy(agents, func(a *AgentState) (float64, bool) {
		return float64(a.TradeCount), a.TradeCount > 0
	}); winner != nil {
		titles = append(titles, Title{
			Name: "Speed Demon", AgentID: winner.ID.String(), Agent: winner.Name,
			Detail: "Most trades executed", Value: float64(winner.TradeCount),
		})
	}

	return titles
}

// maxBy returns the qualifying agent with the highest key, ties broken by
// agent id, or nil when no agent qualifies
func maxBy(agents []*AgentState, key func(*AgentState) (float64, bool)) *AgentState {
	var best *AgentState
	var bestVal float64
	for _, a := range agents {
		val, ok := key(a)
		if !ok {
			continue
		}
		if best == nil || val > bestVal || (val == bestVal && a.ID.String() < best.ID.String()) {
			best = a
			bestVal = val
		}
	}
	return best
}
