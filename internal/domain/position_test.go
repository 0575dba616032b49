package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSideOpposite(t *testing.T) {
	assert.Equal(t, SideNo, SideYes.Opposite())
	assert.Equal(t, SideYes, SideNo.Opposite())
}

func TestOrderStatusTerminal(t *testing.T) {
	assert.False(t, OrderStatusPending.Terminal())
	assert.False(t, OrderStatusPartiallyFilled.Terminal())
	assert.True(t, OrderStatusFilled.Terminal())
	assert.True(t, OrderStatusRejected.Terminal())
}

func TestOrderFillPriceFallsBackToLimit(t *testing.T) {
	o := Order{LimitPrice: d("0.40")}
	assert.True(t, o.FillPrice().Equal(d("0.40")))

	o.AvgFillPrice = d("0.38")
	assert.True(t, o.FillPrice().Equal(d("0.38")))
}

func TestOrderFilledCost(t *testing.T) {
	o := Order{FilledQty: d("50"), AvgFillPrice: d("0.40"), LimitPrice: d("0.42")}
	assert.True(t, o.FilledCost().Equal(d("20")))
}

func TestPositionLeg(t *testing.T) {
	p := Position{
		YesOrder: Order{Side: SideYes, TokenID: "y"},
		NoOrder:  Order{Side: SideNo, TokenID: "n"},
	}
	assert.Equal(t, "y", p.Leg(SideYes).TokenID)
	assert.Equal(t, "n", p.Leg(SideNo).TokenID)

	p.Leg(SideYes).Hash = "0xabc"
	assert.Equal(t, "0xabc", p.YesOrder.Hash, "Leg returns a pointer into the position")
}

func TestPositionMatchedAndUnpairedQty(t *testing.T) {
	p := Position{
		YesOrder: Order{Side: SideYes, FilledQty: d("50")},
		NoOrder:  Order{Side: SideNo, FilledQty: d("80")},
	}
	assert.True(t, p.MatchedQty().Equal(d("50")))
	assert.True(t, p.UnpairedQty().Equal(d("30")))

	balanced := Position{
		YesOrder: Order{FilledQty: d("70")},
		NoOrder:  Order{FilledQty: d("70")},
	}
	assert.True(t, balanced.MatchedQty().Equal(d("70")))
	assert.True(t, balanced.UnpairedQty().IsZero())
}

func TestOpportunityTotals(t *testing.T) {
	opp := Opportunity{
		QtyYes:   d("51.54"),
		QtyNo:    d("51.54"),
		SpendYes: d("26.8008"),
		SpendNo:  d("23.193"),
	}
	assert.True(t, opp.TotalSpend().Equal(d("49.9938")))
	assert.True(t, opp.MatchedQty().Equal(d("51.54")))
}
