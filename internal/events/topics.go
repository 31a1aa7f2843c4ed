package events

import "time"

// Topic names every event the engine emits (spec §6).
type Topic string

const (
	TopicTradeExecuted      Topic = "trade.executed"
	TopicOrderFilled        Topic = "order.filled"
	TopicOrderCancelled     Topic = "order.cancelled"
	TopicStopLossTriggered  Topic = "stoploss.triggered"
	TopicPartialSettlement  Topic = "settlement.partial"
)

// TradeExecuted is published once a trade's two allocation legs have
// both been submitted.
type TradeExecuted struct {
	TradeID     string    `json:"tradeId"`
	Pair        string    `json:"pair"`
	Buyer       string    `json:"buyer"`
	Seller      string    `json:"seller"`
	BasePrice   string    `json:"basePrice"`
	BaseAmount  string    `json:"baseAmount"`
	QuoteAmount string    `json:"quoteAmount"`
	BuyOrderID  string    `json:"buyOrderId"`
	SellOrderID string    `json:"sellOrderId"`
	Timestamp   time.Time `json:"timestamp"`
}

// OrderFilled is published whenever an order's filled quantity changes.
type OrderFilled struct {
	OrderID   string    `json:"orderId"`
	Pair      string    `json:"pair"`
	Filled    string    `json:"filled"`
	Remaining string    `json:"remaining"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCancelled is published when an order is cancelled.
type OrderCancelled struct {
	OrderID   string    `json:"orderId"`
	Pair      string    `json:"pair"`
	Timestamp time.Time `json:"timestamp"`
}

// StopLossTriggered is published when a stop-loss registration crosses
// its trigger price and is converted into a live market order.
type StopLossTriggered struct {
	OrderID      string    `json:"orderId"`
	Pair         string    `json:"pair"`
	TriggerPrice string    `json:"triggerPrice"`
	Timestamp    time.Time `json:"timestamp"`
}

// PartialSettlement is published when one allocation leg of a trade
// succeeded and the other did not (spec Open Question, resolved in
// DESIGN.md): it is informational only, since no automatic reversal is
// implemented.
type PartialSettlement struct {
	TradeID        string    `json:"tradeId"`
	FailedLeg      string    `json:"failedLeg"` // "buyer" or "seller"
	AllocationRef  string    `json:"allocationRef"`
	Reason         string    `json:"reason"`
	Timestamp      time.Time `json:"timestamp"`
}
