package readmodel

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradsys/clobcore/internal/domain"
	"github.com/tradsys/clobcore/internal/ledger"
)

func decimalField(p map[string]interface{}, key string) (decimal.Decimal, bool) {
	v, ok := p[key]
	if !ok || v == nil {
		return decimal.Zero, false
	}
	s, ok := v.(string)
	if !ok {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func stringField(p map[string]interface{}, key string) string {
	if v, ok := p[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func timeField(p map[string]interface{}, key string) time.Time {
	if s := stringField(p, key); s != "" {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// DecodeOrder normalizes a TemplateOrder contract's payload into an
// Order. Exported so other packages projecting a freshly returned
// contract (stoploss's trigger) can reuse the same
// decoding the live-update consumer uses, instead of re-deriving it.
func DecodeOrder(entry ledger.ContractEntry) (*domain.Order, error) {
	return decodeOrder(entry)
}

func decodeOrder(entry ledger.ContractEntry) (*domain.Order, error) {
	p := entry.Payload
	pair, err := domain.ParsePair(stringField(p, "pair"))
	if err != nil {
		return nil, fmt.Errorf("decode order %s: %w", entry.ContractID, err)
	}
	qty, _ := decimalField(p, "quantity")
	filled, _ := decimalField(p, "filled")

	order := &domain.Order{
		OrderID:       stringField(p, "orderId"),
		ContractID:    entry.ContractID,
		Owner:         stringField(p, "owner"),
		Pair:          pair,
		Side:          domain.Side(stringField(p, "side")),
		Mode:          domain.Mode(stringField(p, "mode")),
		Quantity:      qty,
		Filled:        filled,
		Status:        domain.Status(stringField(p, "status")),
		Timestamp:     timeField(p, "timestamp"),
		AllocationRef: stringField(p, "allocationRef"),
	}
	if price, ok := decimalField(p, "price"); ok {
		order.Price = &price
	}
	if stop, ok := decimalField(p, "stopPrice"); ok {
		order.StopPrice = &stop
	}
	if tp, ok := decimalField(p, "triggerPrice"); ok {
		order.TriggerPrice = &tp
	}
	if ts := timeField(p, "triggeredAt"); !ts.IsZero() {
		order.TriggeredAt = &ts
	}
	return order, nil
}

// lastTrade is the slice of a Trade contract the read model tracks for
// stop-loss trigger comparisons: pair, price and timestamp.
type lastTrade struct {
	pair  domain.Pair
	price decimal.Decimal
	at    time.Time
}

func decodeLastTrade(entry ledger.ContractEntry) (*lastTrade, error) {
	p := entry.Payload
	pair, err := domain.ParsePair(stringField(p, "pair"))
	if err != nil {
		return nil, fmt.Errorf("decode trade %s: %w", entry.ContractID, err)
	}
	price, _ := decimalField(p, "basePrice")
	return &lastTrade{pair: pair, price: price, at: timeField(p, "timestamp")}, nil
}
