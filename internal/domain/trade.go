package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is an immutable record of one executed match (spec §3, Entity: Trade).
type Trade struct {
	TradeID     string
	Buyer       string
	Seller      string
	Pair        Pair
	BasePrice   decimal.Decimal
	BaseAmount  decimal.Decimal
	QuoteAmount decimal.Decimal
	BuyOrderID  string
	SellOrderID string
	Timestamp   time.Time

	BuyAllocationRef  string
	SellAllocationRef string
}
