package domain

import "github.com/shopspring/decimal"

// StopRegistrationStatus is the lifecycle state of a StopRegistration.
type StopRegistrationStatus string

const (
	StopPendingTrigger StopRegistrationStatus = "PENDING_TRIGGER"
	StopTriggered      StopRegistrationStatus = "TRIGGERED"
)

// StopRegistration is a stop order held out of the book until its trigger
// condition crosses (spec §3, Entity: StopRegistration).
type StopRegistration struct {
	OrderID         string
	OrderContractID string
	PartyID         string
	Pair            Pair
	Side            Side
	StopPrice       decimal.Decimal
	Quantity        decimal.Decimal
	AllocationRef   string
	Status          StopRegistrationStatus
}

// Crosses reports whether lastTradePrice satisfies this registration's
// trigger rule (spec §4.7): sell stops trigger at <= stopPrice, buy stops
// at >= stopPrice.
func (r *StopRegistration) Crosses(lastTradePrice decimal.Decimal) bool {
	if r.Side == Sell {
		return lastTradePrice.LessThanOrEqual(r.StopPrice)
	}
	return lastTradePrice.GreaterThanOrEqual(r.StopPrice)
}
