package detector

import (
	"github.com/shopspring/decimal"
)

// sharePlaces is the venue's share granularity: quantities are quoted to two
// decimal places, so sizing truncates (never rounds up) to that precision.
const sharePlaces = 2

// Sizing is the balanced two-leg order plan for one market.
type Sizing struct {
	Qty      decimal.Decimal // shares on each leg
	SpendYes decimal.Decimal
	SpendNo  decimal.Decimal
}

// TotalSpend returns the combined cost of both legs.
func (s Sizing) TotalSpend() decimal.Decimal {
	return s.SpendYes.Add(s.SpendNo)
}

// BalanceRatio returns min(qty_yes, qty_no) / max(qty_yes, qty_no) for the
// plan. Both legs share one quantity, so the ratio is 1 whenever qty > 0.
func (s Sizing) BalanceRatio() decimal.Decimal {
	return balanceRatio(s.Qty, s.Qty)
}

// sizeBalanced computes equal share counts for both legs so the whole budget
// buys matched pairs: qty = floor_2dp(bankroll * maxSpendFraction / pairCost).
// Equal quantities mean no structural excess on either side; any later
// imbalance can only come from fills.
func sizeBalanced(bankroll, maxSpendFraction, yesPrice, noPrice decimal.Decimal) Sizing {
	pairCost := yesPrice.Add(noPrice)
	if !pairCost.IsPositive() {
		return Sizing{}
	}
	budget := bankroll.Mul(maxSpendFraction)
	qty := budget.Div(pairCost).RoundDown(sharePlaces)
	if !qty.IsPositive() {
		return Sizing{}
	}
	return Sizing{
		Qty:      qty,
		SpendYes: qty.Mul(yesPrice),
		SpendNo:  qty.Mul(noPrice),
	}
}

// balanceRatio returns min/max of two quantities, or zero when either is not
// positive.
func balanceRatio(a, b decimal.Decimal) decimal.Decimal {
	if !a.IsPositive() || !b.IsPositive() {
		return decimal.Zero
	}
	min := decimal.Min(a, b)
	max := decimal.Max(a, b)
	return min.Div(max)
}

// withinTolerance reports whether the plan's leg quantities are balanced:
// min/max >= 1 - tolerance.
func (s Sizing) withinTolerance(tolerance decimal.Decimal) bool {
	return s.BalanceRatio().GreaterThanOrEqual(decimal.New(1, 0).Sub(tolerance))
}

// expectedProfit is the guaranteed-payout P&L of a fully filled plan:
// qty * $1 at settlement, minus both spends, minus gas for two orders, minus
// the per-share fee on the payout.
func expectedProfit(s Sizing, gasPerOrder, feeRate decimal.Decimal) decimal.Decimal {
	payout := s.Qty // one matched pair pays $1
	gas := gasPerOrder.Mul(decimal.New(2, 0))
	fee := feeRate.Mul(payout)
	return payout.Sub(s.TotalSpend()).Sub(gas).Sub(fee)
}
