package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Mode distinguishes Limit, Market, and StopLoss orders (spec §3).
type Mode string

const (
	Limit    Mode = "LIMIT"
	Market   Mode = "MARKET"
	StopLoss Mode = "STOP_LOSS"
)

// Status is an Order's lifecycle state (spec §3).
type Status string

const (
	StatusOpen            Status = "OPEN"
	StatusPendingTrigger  Status = "PENDING_TRIGGER"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusFilled          Status = "FILLED"
	StatusCancelled       Status = "CANCELLED"
)

// Order is the engine's central entity (spec §3, Entity: Order).
//
// Mutation ownership is split by construction, not by convention enforced
// here: OrderService mutates orders it places or cancels, Settlement
// mutates orders it fills, StopLossEngine mutates the PendingTrigger ->
// Open transition. All three publish events; none of them read back
// another owner's write without going through the ReadModel.
type Order struct {
	OrderID       string
	ContractID    string
	Owner         string
	Pair          Pair
	Side          Side
	Mode          Mode
	Price         *decimal.Decimal // required iff Mode == Limit; trigger threshold iff StopLoss
	StopPrice     *decimal.Decimal // StopLoss only
	Quantity      decimal.Decimal
	Filled        decimal.Decimal
	Status        Status
	Timestamp     time.Time
	AllocationRef string

	TriggeredAt    *time.Time
	TriggerPrice   *decimal.Decimal
}

// Remaining returns quantity not yet filled.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.Filled)
}

// IsFullyFilled reports whether the order's remaining quantity is zero.
func (o *Order) IsFullyFilled() bool {
	return o.Remaining().Sign() <= 0
}

// ApplyFill advances Filled by qty and recomputes Status. It never reduces
// Filled and never lets Filled exceed Quantity (spec §3 invariant).
func (o *Order) ApplyFill(qty decimal.Decimal) {
	o.Filled = o.Filled.Add(qty)
	if o.Filled.GreaterThan(o.Quantity) {
		o.Filled = o.Quantity
	}
	if o.IsFullyFilled() {
		o.Status = StatusFilled
	} else {
		o.Status = StatusPartiallyFilled
	}
}

// IsMarket reports whether the order carries no limit price.
func (o *Order) IsMarket() bool {
	return o.Mode == Market
}

// ResAsset returns the asset a reservation for this order is denominated
// in: quote for buys, base for sells (spec §4.4 step 2).
func (o *Order) ResAsset() string {
	if o.Side == Buy {
		return o.Pair.Quote
	}
	return o.Pair.Base
}
