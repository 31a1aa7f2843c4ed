package domain

import "github.com/shopspring/decimal"

// Reservation is process-local accounting for funds an open Order has
// spoken for (spec §3, Entity: Reservation). Owned exclusively by
// BalanceReserver.
type Reservation struct {
	OrderID string
	PartyID string
	Asset   string
	Amount  decimal.Decimal
}
