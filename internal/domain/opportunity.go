package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Opportunity is a priced, sized arbitrage candidate derived from one market
// snapshot. It is computed fresh each scan cycle and discarded if not
// executed immediately; quoted prices go stale in seconds.
type Opportunity struct {
	MarketID   string
	Question   string
	YesTokenID string
	NoTokenID  string

	YesPrice decimal.Decimal
	NoPrice  decimal.Decimal
	PairCost decimal.Decimal

	QtyYes   decimal.Decimal
	QtyNo    decimal.Decimal
	SpendYes decimal.Decimal
	SpendNo  decimal.Decimal

	// ExpectedProfit is net of both gas charges and the settlement fee on the
	// guaranteed payout.
	ExpectedProfit decimal.Decimal

	DetectedAt time.Time
}

// TotalSpend is the combined cost of both legs at the requested quantities.
func (o Opportunity) TotalSpend() decimal.Decimal {
	return o.SpendYes.Add(o.SpendNo)
}

// MatchedQty is the number of fully paired shares: each pair pays out $1 at
// resolution no matter which outcome wins.
func (o Opportunity) MatchedQty() decimal.Decimal {
	return decimal.Min(o.QtyYes, o.QtyNo)
}
