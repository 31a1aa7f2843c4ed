package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrder(qty string) *Order {
	return &Order{
		OrderID:   "ord_1",
		Owner:     "alice",
		Pair:      Pair{Base: "CC", Quote: "CBTC"},
		Side:      Buy,
		Mode:      Limit,
		Quantity:  decimal.RequireFromString(qty),
		Status:    StatusOpen,
		Timestamp: time.Now(),
	}
}

func TestApplyFillPartial(t *testing.T) {
	o := newOrder("3.0")
	o.ApplyFill(decimal.RequireFromString("1.0"))

	assert.Equal(t, StatusPartiallyFilled, o.Status)
	assert.True(t, o.Filled.Equal(decimal.RequireFromString("1.0")))
	assert.True(t, o.Remaining().Equal(decimal.RequireFromString("2.0")))
	assert.False(t, o.IsFullyFilled())
}

func TestApplyFillToCompletion(t *testing.T) {
	o := newOrder("1.0")
	o.ApplyFill(decimal.RequireFromString("1.0"))

	require.Equal(t, StatusFilled, o.Status)
	assert.True(t, o.IsFullyFilled())
	assert.True(t, o.Remaining().Sign() == 0)
}

func TestApplyFillNeverExceedsQuantity(t *testing.T) {
	o := newOrder("1.0")
	o.ApplyFill(decimal.RequireFromString("5.0"))

	assert.True(t, o.Filled.Equal(o.Quantity))
	assert.Equal(t, StatusFilled, o.Status)
}

func TestResAsset(t *testing.T) {
	buy := newOrder("1.0")
	assert.Equal(t, "CBTC", buy.ResAsset())

	sell := newOrder("1.0")
	sell.Side = Sell
	assert.Equal(t, "CC", sell.ResAsset())
}
