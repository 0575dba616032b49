package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side identifies which outcome token a leg buys.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// Opposite returns the other leg of a pair.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// OrderStatus represents the fill state of one leg.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// Terminal reports whether no further fills can arrive for this status.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFilled || s == OrderStatusRejected
}

// Order is one leg (YES or NO) of a position. Exactly two orders belong to
// every position and the position owns both records.
type Order struct {
	ID           string
	PositionID   string
	MarketID     string
	TokenID      string
	Side         Side
	RequestedQty decimal.Decimal
	LimitPrice   decimal.Decimal
	Status       OrderStatus
	FilledQty    decimal.Decimal
	AvgFillPrice decimal.Decimal // zero until the first fill is recorded
	Hash         string          // gateway order handle, empty until submitted
	SubmittedAt  *time.Time
	UpdatedAt    time.Time
}

// FillPrice is the price used for cost accounting: the average fill price
// when fills have been recorded, otherwise the requested limit price.
func (o Order) FillPrice() decimal.Decimal {
	if o.AvgFillPrice.IsPositive() {
		return o.AvgFillPrice
	}
	return o.LimitPrice
}

// FilledCost is the money actually spent on this leg, filled quantity only.
func (o Order) FilledCost() decimal.Decimal {
	return o.FilledQty.Mul(o.FillPrice())
}

// OrderRequest is what the core hands to the execution gateway for one leg.
type OrderRequest struct {
	MarketID   string
	TokenID    string
	Side       Side
	Qty        decimal.Decimal
	LimitPrice decimal.Decimal
}

// OrderHandle identifies a submitted order at the gateway for fill polling.
type OrderHandle struct {
	Hash string
}

// Fill is the gateway's view of an order's progress. FilledQty may be less
// than the requested quantity for either leg independently.
type Fill struct {
	FilledQty decimal.Decimal
	AvgPrice  decimal.Decimal
	Status    OrderStatus
}
