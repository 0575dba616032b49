package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusActive MarketStatus = "active"
	MarketStatusClosed MarketStatus = "closed"
)

// Market is one binary-outcome Polymarket market snapshot. YesPrice and
// NoPrice are the current ask prices for the two outcome tokens; they do not
// have to sum to 1, and a sum below 1 is the tradable signal.
type Market struct {
	ID          string
	Question    string
	Slug        string
	ConditionID string
	YesTokenID  string
	NoTokenID   string
	YesPrice    decimal.Decimal
	NoPrice     decimal.Decimal
	Liquidity   decimal.Decimal
	Status      MarketStatus
	EndTime     *time.Time // nil when the venue reports no end date
	FetchedAt   time.Time
}

// PairCost is the combined cost of buying one YES and one NO share.
func (m Market) PairCost() decimal.Decimal {
	return m.YesPrice.Add(m.NoPrice)
}

// ExpiresWithin reports whether the market ends inside the given safety
// margin from now. Markets with no end time are treated as expiring so the
// detector never sizes a position it cannot bound.
func (m Market) ExpiresWithin(now time.Time, margin time.Duration) bool {
	if m.EndTime == nil {
		return true
	}
	return m.EndTime.Before(now.Add(margin))
}
