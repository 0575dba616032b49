package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus represents the lifecycle state of a paired position.
type PositionStatus string

const (
	// PositionStatusPending: created, legs not yet both submitted.
	PositionStatusPending PositionStatus = "pending"
	// PositionStatusOpen: both legs submitted; fills may still be arriving.
	PositionStatusOpen PositionStatus = "open"
	// PositionStatusImbalanced: one leg failed or fills diverged; requires
	// operator follow-up, never unwound automatically.
	PositionStatusImbalanced PositionStatus = "imbalanced"
	// PositionStatusSettled: market resolved, realized profit final.
	PositionStatusSettled PositionStatus = "settled"
)

// Position pairs one YES and one NO order on the same market. The guaranteed
// payout is $1 per matched pair: min(filled YES, filled NO). Shares on the
// heavier leg beyond that minimum earn nothing and are tracked as
// ImbalanceQty rather than silently dropped.
type Position struct {
	ID       string
	MarketID string
	Question string

	YesOrder Order
	NoOrder  Order

	PairCost decimal.Decimal // yes+no price at detection time
	GasCost  decimal.Decimal // total gas for both submissions
	FeeRate  decimal.Decimal // settlement fee as a fraction of payout

	Status         PositionStatus
	ImbalanceQty   decimal.Decimal
	RealizedProfit decimal.Decimal // meaningful once settled

	CreatedAt time.Time
	UpdatedAt time.Time
	SettledAt *time.Time
}

// Leg returns the order for the given side.
func (p *Position) Leg(side Side) *Order {
	if side == SideYes {
		return &p.YesOrder
	}
	return &p.NoOrder
}

// MatchedQty is the guaranteed-payout share count across both filled legs.
func (p *Position) MatchedQty() decimal.Decimal {
	return decimal.Min(p.YesOrder.FilledQty, p.NoOrder.FilledQty)
}

// UnpairedQty is the excess of the heavier leg over the matched minimum.
func (p *Position) UnpairedQty() decimal.Decimal {
	return decimal.Max(p.YesOrder.FilledQty, p.NoOrder.FilledQty).Sub(p.MatchedQty())
}

// FilledCost is the total spend across both legs, filled quantities only.
func (p *Position) FilledCost() decimal.Decimal {
	return p.YesOrder.FilledCost().Add(p.NoOrder.FilledCost())
}
