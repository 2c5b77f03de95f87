package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pr3m/xrparena/internal/arena"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestAgent(capital float64) *arena.AgentState {
	return arena.NewAgentState("Tester", "momentum", "circle", 0, capital)
}

func TestLongProfitableClose(t *testing.T) {
	st := newTestAgent(1000)

	st, opened, err := OpenPosition(st, arena.SideLong, 0.6000, 10, 10, "test entry", t0)
	require.NoError(t, err)

	assert.InDelta(t, 100, opened.Margin, 1e-9)
	assert.InDelta(t, 1666.6667, opened.Volume, 0.001)
	assert.InDelta(t, 1000*(TakerFeeRate+MarginOpenFeeRate), opened.Fees, 1e-9)
	assert.InDelta(t, 900, st.Balance, 1e-9)
	require.NotNil(t, st.Position)
	assert.InDelta(t, 0.6*(1-0.02), st.Position.LiquidationPrice, 1e-9)
	assert.InDelta(t, -opened.Fees, st.Position.UnrealizedPnL, 1e-9)

	st, closed, err := ClosePosition(st, 0.6200, t0.Add(time.Hour))
	require.NoError(t, err)

	rawPnL := (0.62 - 0.60) * opened.Volume
	closingFee := 0.62 * opened.Volume * TakerFeeRate
	expectedRealized := rawPnL - (opened.Fees + closingFee) // 1h open, no rollover

	assert.InDelta(t, expectedRealized, closed.RealizedPnL, 1e-6)
	assert.True(t, closed.Profitable)
	assert.InDelta(t, 900+100+expectedRealized, st.Balance, 1e-6)
	assert.Equal(t, 1, st.WinCount)
	assert.Nil(t, st.Position)
	assert.InDelta(t, st.Balance, st.Equity, 1e-9)
}

func TestShortLiquidation(t *testing.T) {
	st := newTestAgent(1000)

	st, _, err := OpenPosition(st, arena.SideShort, 0.5000, 15, 10, "short entry", t0)
	require.NoError(t, err)
	assert.InDelta(t, 0.5100, st.Position.LiquidationPrice, 1e-9)

	// +1.9%: still alive
	_, _, liquidated := CheckLiquidation(st, 0.5095, 3, t0.Add(time.Minute))
	assert.False(t, liquidated)

	// +2.0% hits the 20/leverage threshold
	st, outcome, liquidated := CheckLiquidation(st, 0.5100, 4, t0.Add(2*time.Minute))
	require.True(t, liquidated)

	assert.Equal(t, OutcomeLiquidation, outcome.Kind)
	assert.True(t, st.Dead)
	assert.Equal(t, arena.StatusLiquidated, st.Status)
	assert.Equal(t, 4, st.DeathTick)
	assert.GreaterOrEqual(t, st.Balance, 0.0)
	assert.Nil(t, st.Position)
}

func TestDCAAveraging(t *testing.T) {
	st := newTestAgent(1000)

	st, _, err := OpenPosition(st, arena.SideLong, 0.600, 6, 10, "entry", t0)
	require.NoError(t, err)
	assert.InDelta(t, 60, st.Position.MarginUsed, 1e-9)
	assert.InDelta(t, 1000, st.Position.Volume, 1e-6)

	// 57 margin out of the remaining 940 balance
	st, outcome, err := DCA(st, 0.570, 57.0/940*100, 3, "averaging the dip", t0.Add(30*time.Minute))
	require.NoError(t, err)

	assert.InDelta(t, 57, outcome.Margin, 1e-6)
	assert.InDelta(t, 1000, outcome.Volume, 1e-6)

	pos := st.Position
	assert.InDelta(t, 0.585, pos.AvgEntryPrice, 1e-9)
	assert.InDelta(t, 2000, pos.Volume, 1e-6)
	assert.InDelta(t, 117, pos.MarginUsed, 1e-6)
	assert.InDelta(t, 0.585*(1-0.02), pos.LiquidationPrice, 1e-9)
	assert.Equal(t, 1, pos.DCACount)
	require.Len(t, pos.DCAHistory, 1)
	assert.Equal(t, "averaging the dip", pos.DCAHistory[0].Reason)
}

func TestDCALimitAndMissingPosition(t *testing.T) {
	st := newTestAgent(1000)

	same, outcome, err := DCA(st, 0.6, 10, 3, "no position", t0)
	require.Error(t, err)
	assert.Equal(t, OutcomeNoop, outcome.Kind)
	assert.Same(t, st, same)

	st, _, err = OpenPosition(st, arena.SideLong, 0.6, 10, 10, "", t0)
	require.NoError(t, err)
	st.Position.DCACount = 2

	_, _, err = DCA(st, 0.58, 10, 2, "over limit", t0)
	require.Error(t, err)
}

func TestOpenWhileOpenRejected(t *testing.T) {
	st := newTestAgent(1000)

	st, _, err := OpenPosition(st, arena.SideLong, 0.6, 10, 10, "", t0)
	require.NoError(t, err)

	same, outcome, err := OpenPosition(st, arena.SideShort, 0.6, 10, 10, "", t0)
	require.Error(t, err)
	assert.Equal(t, OutcomeNoop, outcome.Kind)
	assert.Same(t, st, same)
}

func TestMarginPercentClamped(t *testing.T) {
	st := newTestAgent(1000)

	st, opened, err := OpenPosition(st, arena.SideLong, 0.6, 50, 10, "", t0)
	require.NoError(t, err)
	assert.InDelta(t, 1000*MaxMarginPercent/100, opened.Margin, 1e-9)

	st, _, err = ClosePosition(st, 0.6, t0)
	require.NoError(t, err)

	_, opened, err = OpenPosition(st, arena.SideLong, 0.6, 1, 10, "", t0)
	require.NoError(t, err)
	assert.InDelta(t, st.Balance*MinMarginPercent/100, opened.Margin, 1e-9)
}

func TestRolloverFeeAccrual(t *testing.T) {
	st := newTestAgent(1000)

	st, opened, err := OpenPosition(st, arena.SideLong, 0.6000, 10, 10, "", t0)
	require.NoError(t, err)

	// 9h open: two full 4-hour periods
	_, closed, err := ClosePosition(st, 0.6000, t0.Add(9*time.Hour))
	require.NoError(t, err)

	notionalAtOpen := 0.6 * opened.Volume
	expectedRollover := 2 * RolloverFeeRate * notionalAtOpen
	closingFee := 0.6 * opened.Volume * TakerFeeRate
	assert.InDelta(t, opened.Fees+closingFee+expectedRollover, closed.Fees, 1e-9)
	assert.False(t, closed.Profitable)
}

func TestBankruptcyOnClose(t *testing.T) {
	st := newTestAgent(1000)
	st, _, err := OpenPosition(st, arena.SideShort, 0.5000, 20, 10, "", t0)
	require.NoError(t, err)

	// ruinous adverse move wipes more than the free balance
	st.Balance = 1
	_, closed, err := ClosePosition(st, 0.5600, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, closed.Bankrupt)
}

func TestUpdateUnrealizedDerivedFields(t *testing.T) {
	st := newTestAgent(1000)
	st, _, err := OpenPosition(st, arena.SideLong, 0.6000, 10, 10, "", t0)
	require.NoError(t, err)

	// price drops 1%: raw loss 10% of margin plus carried fees
	st = UpdateUnrealized(st, 0.5940)

	rawLoss := (0.5940 - 0.6000) * st.Position.Volume
	assert.InDelta(t, rawLoss-st.Position.TotalFees, st.Position.UnrealizedPnL, 1e-6)
	assert.Less(t, st.Equity, 1000.0)
	assert.Less(t, st.Health, 100.0)
	assert.Greater(t, st.MaxDrawdownPct, 0.0)

	// recovery clamps health at 100 and raises the peak
	st = UpdateUnrealized(st, 0.6600)
	assert.Equal(t, 100.0, st.Health)
	assert.Equal(t, arena.ZoneSafe, st.Zone)
	assert.Greater(t, st.PeakEquity, 1000.0)
}

func TestHealthZoneTransitions(t *testing.T) {
	st := newTestAgent(1000)
	st, _, err := OpenPosition(st, arena.SideLong, 0.6000, 20, 10, "", t0)
	require.NoError(t, err)

	// a hard drawdown pushes equity down through the zones
	st = UpdateUnrealized(st, 0.5900)
	assert.Equal(t, arena.ZoneForHealth(st.Health), st.Zone)
	assert.Less(t, st.Health, 100.0)
}
