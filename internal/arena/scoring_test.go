package arena

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRARSComponents(t *testing.T) {
	a := NewAgentState("Alpha", "momentum", "circle", 0, 10000)
	a.RealizedPnL = 1000 // +10%
	a.Equity = 11000
	a.WinCount = 3
	a.LossCount = 1 // win rate 0.75 → consistency 1.125

	// survival capped at 1 when equity exceeds starting capital
	assert.InDelta(t, 10*1.125*1.0, RARS(a), 1e-9)

	// underwater equity scales the score down
	a.Equity = 8000
	assert.InDelta(t, 10*1.125*0.8, RARS(a), 1e-9)
}

func TestRARSDeadPenalty(t *testing.T) {
	a := NewAgentState("Alpha", "momentum", "circle", 0, 10000)
	a.RealizedPnL = 5000
	a.Equity = 15000
	a.WinCount = 5

	alive := RARS(a)
	a.Dead = true
	assert.InDelta(t, alive-10000, RARS(a), 1e-9)
}

func TestRankDeadAlwaysLast(t *testing.T) {
	// S6: alive B edges alive A on RARS; dead C scored high before death
	a := NewAgentState("A", "momentum", "circle", 0, 10000)
	a.RealizedPnL = 2460 // 24.6% × 0.5 survival = 12.3 with winrate 0.5
	a.Equity = 5000
	a.WinCount, a.LossCount = 1, 1

	b := NewAgentState("B", "scalper", "square", 1, 10000)
	b.RealizedPnL = 2460.02
	b.Equity = 5000
	b.WinCount, b.LossCount = 1, 1

	c := NewAgentState("C", "breakout", "triangle", 2, 10000)
	c.RealizedPnL = 10000
	c.Equity = 15000
	c.WinCount = 4
	c.Dead = true

	agents := []*AgentState{a, b, c}
	Rank(agents)

	require.Equal(t, "B", agents[0].Name)
	require.Equal(t, "A", agents[1].Name)
	require.Equal(t, "C", agents[2].Name)
	assert.Equal(t, 1, agents[0].Rank)
	assert.Equal(t, 3, agents[2].Rank)
}

func TestRankMixedStates(t *testing.T) {
	agents := []*AgentState{
		NewAgentState("Loser", "momentum", "circle", 0, 10000),
		NewAgentState("Dead", "scalper", "square", 1, 10000),
		NewAgentState("Winner", "breakout", "triangle", 2, 10000),
	}
	agents[0].RealizedPnL = -2000
	agents[0].Equity = 8000
	agents[0].LossCount = 2
	agents[1].Dead = true
	agents[2].RealizedPnL = 3000
	agents[2].Equity = 13000
	agents[2].WinCount = 2

	Rank(agents)

	assert.Equal(t, "Winner", agents[0].Name)
	assert.Equal(t, "Dead", agents[2].Name)
}

func TestTitles(t *testing.T) {
	best := NewAgentState("Best", "momentum", "circle", 0, 10000)
	best.RealizedPnL = 3000
	best.TradeCount = 4
	best.WinCount, best.LossCount = 3, 1
	best.TotalFees = 40
	best.Health = 90

	busy := NewAgentState("Busy", "scalper", "square", 1, 10000)
	busy.RealizedPnL = 100
	busy.TradeCount = 12
	busy.WinCount, busy.LossCount = 6, 6
	busy.TotalFees = 600 // avg 50/trade
	busy.Health = 60

	idle := NewAgentState("Idle", "contrarian", "triangle", 2, 10000)

	titles := Titles([]*AgentState{best, busy, idle})

	byName := make(map[string]Title)
	for _, title := range titles {
		byName[title.Name] = title
	}

	require.Contains(t, byName, "Best Trader")
	assert.Equal(t, "Best", byName["Best Trader"].Agent)
	assert.Equal(t, "Best", byName["Most Consistent"].Agent)
	assert.Equal(t, "Busy", byName["Biggest Risk Taker"].Agent)
	assert.Equal(t, "Best", byName["Survivor"].Agent)
	assert.Equal(t, "Busy", byName["Speed Demon"].Agent)

	// an agent that never traded wins nothing
	for _, title := range titles {
		assert.NotEqual(t, "Idle", title.Agent)
	}
}

func TestTitlesEmptyWithoutTrades(t *testing.T) {
	agents := []*AgentState{
		NewAgentState("A", "momentum", "circle", 0, 10000),
		NewAgentState("B", "scalper", "square", 1, 10000),
	}
	assert.Empty(t, Titles(agents))
}

func TestZoneForHealth(t *testing.T) {
	tests := []struct {
		health float64
		want   HealthZone
	}{
		{100, ZoneSafe},
		{80.01, ZoneSafe},
		{80, ZoneCaution},
		{60, ZoneDanger},
		{40, ZoneCritical},
		{20, ZoneDeathRow},
		{0.5, ZoneDeathRow},
		{0, ZoneDead},
		{-5, ZoneDead},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ZoneForHealth(tt.health), "health %.2f", tt.health)
	}
}
