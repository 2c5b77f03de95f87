package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/pr3m/xrparena/internal/arena"
)

// OutcomeKind tags what an execution call did
type OutcomeKind string

const (
	OutcomeOpen        OutcomeKind = "open"
	OutcomeClose       OutcomeKind = "close"
	OutcomeDCA         OutcomeKind = "dca"
	OutcomeLiquidation OutcomeKind = "liquidation"
	OutcomeNoop        OutcomeKind = "noop"
)

// Outcome is the record of one execution call
type Outcome struct {
	Kind        OutcomeKind `json:"kind"`
	Side        arena.Side  `json:"side,omitempty"`
	Price       float64     `json:"price"`
	Volume      float64     `json:"volume"`
	Margin      float64     `json:"margin"`
	Fees        float64     `json:"fees"`
	RealizedPnL float64     `json:"realized_pnl"`
	Profitable  bool        `json:"profitable"`
	Bankrupt    bool        `json:"bankrupt"`
	HoursOpen   float64     `json:"hours_open"`
}

// OpenPosition opens a leveraged position, deducting margin from balance.
// The opening fees are carried as negative unrealized P&L and settle at
// close. Returns the input state unchanged on error.
func OpenPosition(st *arena.AgentState, side arena.Side, price, marginPct, leverage float64, reasoning string, now time.Time) (*arena.AgentState, Outcome, error) {
	if st.Position != nil && st.Position.IsOpen {
		return st, Outcome{Kind: OutcomeNoop, Price: price}, fmt.Errorf("agent %s already has an open position", st.Name)
	}
	if price <= 0 {
		return st, Outcome{Kind: OutcomeNoop, Price: price}, fmt.Errorf("invalid price %f", price)
	}

	marginPct = clamp(marginPct, MinMarginPercent, MaxMarginPercent)
	margin := st.Balance * marginPct / 100
	if margin <= 0 || margin > st.Balance {
		return st, Outcome{Kind: OutcomeNoop, Price: price}, fmt.Errorf("insufficient balance %.2f for margin %.2f", st.Balance, margin)
	}

	notional := margin * leverage
	volume := notional / price
	fees := notional * (TakerFeeRate + MarginOpenFeeRate)

	out := st.Clone()
	out.Balance -= margin
	out.TradeCount++
	out.Position = &arena.Position{
		ID:               uuid.New(),
		Pair:             "", // orchestrator fills the session pair
		Side:             side,
		Volume:           volume,
		AvgEntryPrice:    price,
		Leverage:         leverage,
		MarginUsed:       margin,
		TotalFees:        fees,
		IsOpen:           true,
		OpenedAt:         now,
		UnrealizedPnL:    -fees,
		UnrealizedPnLPct: -fees / margin * 100,
		LiquidationPrice: liquidationPrice(side, price, leverage),
		EntryReasoning:   reasoning,
	}
	recompute(out, price)

	return out, Outcome{
		Kind:   OutcomeOpen,
		Side:   side,
		Price:  price,
		Volume: volume,
		Margin: margin,
		Fees:   fees,
	}, nil
}

// ClosePosition settles the open position at the given price: closing fee
// on notional at exit, rollover fees per started 4-hour period on notional
// at open, realized P&L returned to balance along with the margin.
func ClosePosition(st *arena.AgentState, price float64, now time.Time) (*arena.AgentState, Outcome, error) {
	if st.Position == nil || !st.Position.IsOpen {
		return st, Outcome{Kind: OutcomeNoop, Price: price}, fmt.Errorf("agent %s has no open position", st.Name)
	}

	out := st.Clone()
	pos := out.Position

	hoursOpen := now.Sub(pos.OpenedAt).Hours()
	if hoursOpen < 0 {
		hoursOpen = 0
	}
	notionalAtExit := price * pos.Volume
	notionalAtOpen := pos.AvgEntryPrice * pos.Volume

	closingFee := notionalAtExit * TakerFeeRate
	rolloverFee := math.Floor(hoursOpen/RolloverPeriodHours) * RolloverFeeRate * notionalAtOpen

	rawPnL := (price - pos.AvgEntryPrice) * pos.Volume
	if pos.Side == arena.SideShort {
		rawPnL = -rawPnL
	}
	totalFees := pos.TotalFees + closingFee + rolloverFee
	realized := rawPnL - totalFees

	out.Balance += pos.MarginUsed + realized
	out.RealizedPnL += realized
	out.TotalFees += totalFees
	if realized > 0 {
		out.WinCount++
	} else {
		out.LossCount++
	}

	side := pos.Side
	margin := pos.MarginUsed
	volume := pos.Volume
	out.Position = nil
	recompute(out, price)

	bankrupt := out.Balance <= 0
	return out, Outcome{
		Kind:        OutcomeClose,
		Side:        side,
		Price:       price,
		Volume:      volume,
		Margin:      margin,
		Fees:        totalFees,
		RealizedPnL: realized,
		Profitable:  realized > 0,
		Bankrupt:    bankrupt,
		HoursOpen:   hoursOpen,
	}, nil
}

// DCA averages additional margin into the open position at the current
// price and recomputes the liquidation threshold from the new average.
func DCA(st *arena.AgentState, price, addMarginPct float64, maxDCACount int, reason string, now time.Time) (*arena.AgentState, Outcome, error) {
	if st.Position == nil || !st.Position.IsOpen {
		return st, Outcome{Kind: OutcomeNoop, Price: price}, fmt.Errorf("agent %s has no open position to average into", st.Name)
	}
	if st.Position.DCACount >= maxDCACount {
		return st, Outcome{Kind: OutcomeNoop, Price: price}, fmt.Errorf("dca limit %d reached", maxDCACount)
	}
	if price <= 0 {
		return st, Outcome{Kind: OutcomeNoop, Price: price}, fmt.Errorf("invalid price %f", price)
	}

	addMarginPct = clamp(addMarginPct, MinMarginPercent/2, MaxMarginPercent)
	addMargin := st.Balance * addMarginPct / 100
	if addMargin <= 0 || addMargin > st.Balance {
		return st, Outcome{Kind: OutcomeNoop, Price: price}, fmt.Errorf("insufficient balance %.2f for dca margin %.2f", st.Balance, addMargin)
	}

	out := st.Clone()
	pos := out.Position

	addNotional := addMargin * pos.Leverage
	addVolume := addNotional / price
	addFees := addNotional * (TakerFeeRate + MarginOpenFeeRate)

	newVolume := pos.Volume + addVolume
	pos.AvgEntryPrice = (pos.AvgEntryPrice*pos.Volume + price*addVolume) / newVolume
	pos.Volume = newVolume
	pos.MarginUsed += addMargin
	pos.TotalFees += addFees
	pos.DCACount++
	pos.LiquidationPrice = liquidationPrice(pos.Side, pos.AvgEntryPrice, pos.Leverage)
	pos.DCAHistory = append(pos.DCAHistory, arena.DCAEntry{
		Price:     price,
		Volume:    addVolume,
		Margin:    addMargin,
		Timestamp: now,
		Reason:    reason,
	})

	out.Balance -= addMargin
	recompute(out, price)

	return out, Outcome{
		Kind:   OutcomeDCA,
		Side:   pos.Side,
		Price:  price,
		Volume: addVolume,
		Margin: addMargin,
		Fees:   addFees,
	}, nil
}

// CheckLiquidation tests whether the adverse move from average entry has
// reached the liquidation distance. If so the position is force-closed at
// the threshold price and the agent is marked dead with status liquidated.
func CheckLiquidation(st *arena.AgentState, price float64, tick int, now time.Time) (*arena.AgentState, Outcome, bool) {
	pos := st.Position
	if pos == nil || !pos.IsOpen || price <= 0 {
		return st, Outcome{Kind: OutcomeNoop, Price: price}, false
	}

	distance := liquidationDistancePct(pos.Leverage)
	movePct := (price - pos.AvgEntryPrice) / pos.AvgEntryPrice * 100
	liquidated := (pos.Side == arena.SideLong && movePct <= -distance) ||
		(pos.Side == arena.SideShort && movePct >= distance)
	if !liquidated {
		return st, Outcome{Kind: OutcomeNoop, Price: price}, false
	}

	out, outcome, err := ClosePosition(st, pos.LiquidationPrice, now)
	if err != nil {
		return st, Outcome{Kind: OutcomeNoop, Price: price}, false
	}
	if out.Balance < 0 {
		out.Balance = 0
	}
	out.MarkDead(arena.StatusLiquidated, tick, fmt.Sprintf("liquidated at %.4f", pos.LiquidationPrice))
	outcome.Kind = OutcomeLiquidation
	return out, outcome, true
}

// UpdateUnrealized refreshes P&L, equity, peak equity, drawdown, health
// and zone at the current price without trading
func UpdateUnrealized(st *arena.AgentState, price float64) *arena.AgentState {
	out := st.Clone()
	recompute(out, price)
	return out
}

func liquidationPrice(side arena.Side, entry, leverage float64) float64 {
	distance := liquidationDistancePct(leverage) / 100
	if side == arena.SideLong {
		p := entry * (1 - distance)
		if p < 0 {
			p = 0
		}
		return p
	}
	return entry * (1 + distance)
}

// recompute refreshes every derived field on the state at the given price
func recompute(st *arena.AgentState, price float64) {
	marginLocked := 0.0
	unrealized := 0.0

	if pos := st.Position; pos != nil && pos.IsOpen && price > 0 {
		raw := (price - pos.AvgEntryPrice) * pos.Volume
		if pos.Side == arena.SideShort {
			raw = -raw
		}
		pos.UnrealizedPnL = raw - pos.TotalFees
		if pos.MarginUsed > 0 {
			pos.UnrealizedPnLPct = pos.UnrealizedPnL / pos.MarginUsed * 100
		}
		marginLocked = pos.MarginUsed
		unrealized = pos.UnrealizedPnL
	}

	st.Equity = st.Balance + marginLocked + unrealized
	if st.Equity > st.PeakEquity {
		st.PeakEquity = st.Equity
	}
	if st.PeakEquity > 0 {
		drawdown := (st.PeakEquity - st.Equity) / st.PeakEquity * 100
		if drawdown > st.MaxDrawdownPct {
			st.MaxDrawdownPct = drawdown
		}
	}

	if st.StartingCapital > 0 {
		st.Health = clamp(st.Equity/st.StartingCapital*100, 0, 100)
	}
	st.Zone = arena.ZoneForHealth(st.Health)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
