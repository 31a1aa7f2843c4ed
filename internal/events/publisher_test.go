package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInProcessPublishSubscribeRoundTrip(t *testing.T) {
	pub, sub, err := NewInProcess(zap.NewNop())
	require.NoError(t, err)
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := sub.Subscribe(ctx, string(TopicTradeExecuted))
	require.NoError(t, err)

	evt := TradeExecuted{TradeID: "t1", Pair: "BTC/USD", Timestamp: time.Now()}
	require.NoError(t, pub.Publish(TopicTradeExecuted, evt))

	select {
	case m := <-msgs:
		var got TradeExecuted
		require.NoError(t, json.Unmarshal(m.Payload, &got))
		assert.Equal(t, "t1", got.TradeID)
		assert.Equal(t, "BTC/USD", got.Pair)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestPublishOnDifferentTopicsDoesNotCrossDeliver(t *testing.T) {
	pub, sub, err := NewInProcess(zap.NewNop())
	require.NoError(t, err)
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := sub.Subscribe(ctx, string(TopicOrderCancelled))
	require.NoError(t, err)

	require.NoError(t, pub.Publish(TopicTradeExecuted, TradeExecuted{TradeID: "t1"}))
	require.NoError(t, pub.Publish(TopicOrderCancelled, OrderCancelled{OrderID: "o1"}))

	select {
	case m := <-msgs:
		var got OrderCancelled
		require.NoError(t, json.Unmarshal(m.Payload, &got))
		assert.Equal(t, "o1", got.OrderID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published event")
	}
}
