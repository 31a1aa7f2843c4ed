package balance

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestReserveWithinAvailable(t *testing.T) {
	r := New()

	require.NoError(t, r.Reserve("alice", "USD", d("10"), d("100")))
	assert.True(t, r.Reserved("alice", "USD").Equal(d("10")))

	require.NoError(t, r.Reserve("alice", "USD", d("20"), d("100")))
	assert.True(t, r.Reserved("alice", "USD").Equal(d("30")))
}

func TestReserveRejectsOverAvailable(t *testing.T) {
	r := New()
	require.NoError(t, r.Reserve("alice", "USD", d("90"), d("100")))

	err := r.Reserve("alice", "USD", d("20"), d("100"))
	assert.Error(t, err)
	assert.True(t, r.Reserved("alice", "USD").Equal(d("90")))
}

func TestReserveRejectsNonPositiveAmount(t *testing.T) {
	r := New()
	assert.Error(t, r.Reserve("alice", "USD", d("0"), d("100")))
	assert.Error(t, r.Reserve("alice", "USD", d("-1"), d("100")))
}

func TestReleaseClampsAtZero(t *testing.T) {
	r := New()
	require.NoError(t, r.Reserve("alice", "USD", d("5"), d("100")))

	r.Release("alice", "USD", d("20"))
	assert.True(t, r.Reserved("alice", "USD").IsZero())
}

func TestReservationsAreIndependentPerPartyAsset(t *testing.T) {
	r := New()
	require.NoError(t, r.Reserve("alice", "USD", d("10"), d("100")))
	require.NoError(t, r.Reserve("bob", "USD", d("10"), d("100")))
	require.NoError(t, r.Reserve("alice", "BTC", d("1"), d("5")))

	assert.True(t, r.Reserved("alice", "USD").Equal(d("10")))
	assert.True(t, r.Reserved("bob", "USD").Equal(d("10")))
	assert.True(t, r.Reserved("alice", "BTC").Equal(d("1")))
}
