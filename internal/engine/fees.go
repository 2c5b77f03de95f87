// Package engine contains the execution engine and the per-agent decision
// engine. Execution is pure functions over agent state; the decision engine
// layers deterministic rules under an optional budget-gated model tier.
package engine

// Kraken-style margin fee schedule. Rates apply to notional value.
const (
	TakerFeeRate      = 0.0026
	MakerFeeRate      = 0.0016
	MarginOpenFeeRate = 0.0002
	RolloverFeeRate   = 0.0002 // per completed 4-hour period, on notional at open
)

// RolloverPeriodHours is the margin rollover billing period
const RolloverPeriodHours = 4.0

// Margin percent band enforced on every sizing decision
const (
	MinMarginPercent = 5.0
	MaxMarginPercent = 20.0
)

// liquidationDistancePct returns the adverse move, in percent of entry
// price, that wipes the margin at the given leverage. Maintenance margin
// is modelled at 20% of initial margin.
func liquidationDistancePct(leverage float64) float64 {
	if leverage <= 0 {
		return 100
	}
	return 20 / leverage
}
