package stoploss

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tradsys/clobcore/internal/domain"
	"github.com/tradsys/clobcore/internal/events"
	"github.com/tradsys/clobcore/internal/readmodel"
)

var pair = domain.Pair{Base: "BTC", Quote: "USD"}

func registration(orderID string, side domain.Side, stopPrice string) *domain.StopRegistration {
	return &domain.StopRegistration{
		OrderID:         orderID,
		OrderContractID: orderID + "-contract",
		PartyID:         "alice",
		Pair:            pair,
		Side:            side,
		StopPrice:       decimal.RequireFromString(stopPrice),
		Quantity:        decimal.RequireFromString("1"),
		Status:          domain.StopPendingTrigger,
	}
}

func TestCheckTriggersFiresWhenPriceCrosses(t *testing.T) {
	model := readmodel.New()
	reg := registration("o1", domain.Sell, "48")
	model.ApplyStopRegistrationCreated(reg)

	adapter := newFakeAdapter()
	pub, sub, err := events.NewInProcess(zap.NewNop())
	require.NoError(t, err)
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := sub.Subscribe(ctx, string(events.TopicStopLossTriggered))
	require.NoError(t, err)

	e := New(model, adapter, pub, nil, zap.NewNop(), 0)
	e.CheckTriggers(ctx, pair, decimal.RequireFromString("47"))

	assert.Contains(t, adapter.triggered, "o1-contract")
	assert.Empty(t, model.PendingStopRegistrations())

	select {
	case m := <-msgs:
		var evt events.StopLossTriggered
		require.NoError(t, json.Unmarshal(m.Payload, &evt))
		assert.Equal(t, "o1", evt.OrderID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for stoploss.triggered event")
	}
}

func TestCheckTriggersSkipsRegistrationsForOtherPairs(t *testing.T) {
	model := readmodel.New()
	reg := registration("o1", domain.Sell, "48")
	reg.Pair = domain.Pair{Base: "ETH", Quote: "USD"}
	model.ApplyStopRegistrationCreated(reg)

	adapter := newFakeAdapter()
	pub, _, err := events.NewInProcess(zap.NewNop())
	require.NoError(t, err)
	defer pub.Close()

	e := New(model, adapter, pub, nil, zap.NewNop(), 0)
	e.CheckTriggers(context.Background(), pair, decimal.RequireFromString("10"))

	assert.Empty(t, adapter.triggered)
	assert.Len(t, model.PendingStopRegistrations(), 1)
}

func TestCheckTriggersDoesNotFireWhenPriceHasNotCrossed(t *testing.T) {
	model := readmodel.New()
	reg := registration("o1", domain.Buy, "55")
	model.ApplyStopRegistrationCreated(reg)

	adapter := newFakeAdapter()
	pub, _, err := events.NewInProcess(zap.NewNop())
	require.NoError(t, err)
	defer pub.Close()

	e := New(model, adapter, pub, nil, zap.NewNop(), 0)
	e.CheckTriggers(context.Background(), pair, decimal.RequireFromString("54"))

	assert.Empty(t, adapter.triggered)
	assert.Len(t, model.PendingStopRegistrations(), 1)
}

func TestSweepSkipsPairsWithNoRecordedLastPrice(t *testing.T) {
	model := readmodel.New()
	reg := registration("o1", domain.Sell, "48")
	model.ApplyStopRegistrationCreated(reg)

	adapter := newFakeAdapter()
	pub, _, err := events.NewInProcess(zap.NewNop())
	require.NoError(t, err)
	defer pub.Close()

	e := New(model, adapter, pub, nil, zap.NewNop(), 0)
	e.sweep(context.Background())

	assert.Empty(t, adapter.triggered)
	assert.Len(t, model.PendingStopRegistrations(), 1)
}
