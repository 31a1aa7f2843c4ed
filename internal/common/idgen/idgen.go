// Package idgen generates the identifiers the engine assigns locally:
// k-sortable ids for Orders and Trades (so natural string order tracks
// creation order, handy for the RecentTradeCache and audit logs), and
// plain UUIDs for correlation ids that never need to sort.
package idgen

import (
	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

// NewOrderID returns a locally-unique, time-sortable order identifier.
func NewOrderID() string {
	return "ord_" + ksuid.New().String()
}

// NewTradeID returns a locally-unique, time-sortable trade identifier.
func NewTradeID() string {
	return "trd_" + ksuid.New().String()
}

// NewCorrelationID returns a UUID used for request/retry correlation
// (ledger command ids, idempotency keys) where sortability is not needed.
func NewCorrelationID() string {
	return uuid.New().String()
}
