package matching

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tradsys/clobcore/internal/domain"
	"github.com/tradsys/clobcore/internal/readmodel"
)

var pair = domain.Pair{Base: "BTC", Quote: "USD"}

func price(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func limitOrder(id, owner string, side domain.Side, p, qty string) *domain.Order {
	return &domain.Order{
		OrderID:    id,
		ContractID: id,
		Owner:      owner,
		Pair:       pair,
		Side:       side,
		Mode:       domain.Limit,
		Price:      price(p),
		Quantity:   decimal.RequireFromString(qty),
		Status:     domain.StatusOpen,
		Timestamp:  time.Now(),
	}
}

func TestMatchPricePrefersSellSide(t *testing.T) {
	buy := limitOrder("b1", "alice", domain.Buy, "101", "1")
	sell := limitOrder("s1", "bob", domain.Sell, "99", "1")

	p, ok := MatchPrice(buy, sell)
	require.True(t, ok)
	assert.True(t, p.Equal(decimal.RequireFromString("99")))
}

func TestMatchPriceFallsBackToBuyWhenSellIsMarket(t *testing.T) {
	buy := limitOrder("b1", "alice", domain.Buy, "101", "1")
	sell := limitOrder("s1", "bob", domain.Sell, "99", "1")
	sell.Mode = domain.Market
	sell.Price = nil

	p, ok := MatchPrice(buy, sell)
	require.True(t, ok)
	assert.True(t, p.Equal(decimal.RequireFromString("101")))
}

func TestMatchPriceFailsWhenNeitherSideHasAPrice(t *testing.T) {
	buy := limitOrder("b1", "alice", domain.Buy, "101", "1")
	buy.Mode = domain.Market
	buy.Price = nil
	sell := limitOrder("s1", "bob", domain.Sell, "99", "1")
	sell.Mode = domain.Market
	sell.Price = nil

	_, ok := MatchPrice(buy, sell)
	assert.False(t, ok)
}

func TestRunCycleSettlesOneCrossAndStops(t *testing.T) {
	model := readmodel.New()
	model.ApplyOrderCreated(limitOrder("b1", "alice", domain.Buy, "101", "1"))
	model.ApplyOrderCreated(limitOrder("s1", "bob", domain.Sell, "99", "1"))

	calls := 0
	settle := func(ctx context.Context, buy, sell *domain.Order) (bool, error) {
		calls++
		model.ApplyOrderArchived(buy.ContractID)
		model.ApplyOrderArchived(sell.ContractID)
		return true, nil
	}

	e := New(model, settle, zap.NewNop(), DefaultIntervals(), nil)
	e.runCycle(context.Background())

	assert.Equal(t, 1, calls)
	buyLevels, sellLevels := model.OrderBook(pair)
	assert.Empty(t, buyLevels)
	assert.Empty(t, sellLevels)
}

func TestRunCycleSkipsNonCrossingBook(t *testing.T) {
	model := readmodel.New()
	model.ApplyOrderCreated(limitOrder("b1", "alice", domain.Buy, "90", "1"))
	model.ApplyOrderCreated(limitOrder("s1", "bob", domain.Sell, "99", "1"))

	calls := 0
	settle := func(ctx context.Context, buy, sell *domain.Order) (bool, error) {
		calls++
		return true, nil
	}

	e := New(model, settle, zap.NewNop(), DefaultIntervals(), nil)
	e.runCycle(context.Background())

	assert.Zero(t, calls)
}

func TestMatchPairRespectsRematchCooldownAfterFailure(t *testing.T) {
	model := readmodel.New()
	buy := limitOrder("b1", "alice", domain.Buy, "101", "1")
	sell := limitOrder("s1", "bob", domain.Sell, "99", "1")
	model.ApplyOrderCreated(buy)
	model.ApplyOrderCreated(sell)

	calls := 0
	settle := func(ctx context.Context, buy, sell *domain.Order) (bool, error) {
		calls++
		return false, assertError{}
	}

	intervals := DefaultIntervals()
	intervals.RematchCooldown = time.Minute
	e := New(model, settle, zap.NewNop(), intervals, nil)

	e.matchPair(context.Background(), pair)
	e.matchPair(context.Background(), pair)

	assert.Equal(t, 1, calls)
}

type assertError struct{}

func (assertError) Error() string { return "settlement failed" }
