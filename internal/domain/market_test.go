package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestPairCost(t *testing.T) {
	m := Market{
		YesPrice: decimal.RequireFromString("0.52"),
		NoPrice:  decimal.RequireFromString("0.45"),
	}
	assert.True(t, m.PairCost().Equal(decimal.RequireFromString("0.97")))
}

func TestExpiresWithin(t *testing.T) {
	now := time.Now()
	margin := 2 * time.Minute

	soon := now.Add(time.Minute)
	late := now.Add(10 * time.Minute)

	assert.True(t, Market{EndTime: &soon}.ExpiresWithin(now, margin))
	assert.False(t, Market{EndTime: &late}.ExpiresWithin(now, margin))
	assert.True(t, Market{EndTime: nil}.ExpiresWithin(now, margin), "no end time means unbounded settlement risk")

	past := now.Add(-time.Minute)
	assert.True(t, Market{EndTime: &past}.ExpiresWithin(now, margin))
}
