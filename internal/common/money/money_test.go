package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestRoundDownTruncatesNotRounds(t *testing.T) {
	d := decimal.RequireFromString("1.999999999999999999999")
	got := RoundDown(d)
	assert.True(t, got.LessThanOrEqual(d))
	assert.True(t, got.LessThan(decimal.RequireFromString("2")))
}

func TestMulQuoteAmount(t *testing.T) {
	price := decimal.RequireFromString("100")
	qty := decimal.RequireFromString("1.0")
	assert.True(t, decimal.RequireFromString("100").Equal(Mul(price, qty)))
}

func TestIsDust(t *testing.T) {
	threshold := decimal.RequireFromString("0.000001")
	assert.True(t, IsDust(decimal.RequireFromString("0.0000001"), threshold))
	assert.False(t, IsDust(decimal.RequireFromString("0.00001"), threshold))
	assert.False(t, IsDust(decimal.RequireFromString("0.0000001"), decimal.Zero))
}

func TestAboveEpsilon(t *testing.T) {
	assert.False(t, AboveEpsilon(decimal.RequireFromString("0.00000001")))
	assert.True(t, AboveEpsilon(decimal.RequireFromString("0.001")))
}
