// Package balance tracks per-party, per-asset reservations the engine
// has placed against ledger-held funds ahead of settlement (spec §4.4,
// §5). It never talks to the ledger itself: it is a soft accounting
// layer the OrderService consults before accepting an order and the
// MatchingEngine consults before crossing one, backstopped by the
// ledger's own authoritative balance at settlement time.
package balance

import (
	"sync"

	"github.com/shopspring/decimal"

	commonerrors "github.com/tradsys/clobcore/internal/common/errors"
)

type key struct {
	party string
	asset string
}

// Reserver is a concurrency-safe reservation ledger. Every key is
// guarded independently so contention on one party/asset pair never
// blocks another.
type Reserver struct {
	mu       sync.Mutex
	locks    map[key]*sync.Mutex
	reserved map[key]decimal.Decimal
}

// New creates an empty Reserver.
func New() *Reserver {
	return &Reserver{
		locks:    make(map[key]*sync.Mutex),
		reserved: make(map[key]decimal.Decimal),
	}
}

func (r *Reserver) lockFor(k key) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[k]
	if !ok {
		l = &sync.Mutex{}
		r.locks[k] = l
	}
	return l
}

// Reserved returns the currently reserved amount for party/asset.
func (r *Reserver) Reserved(party, asset string) decimal.Decimal {
	k := key{party, asset}
	l := r.lockFor(k)
	l.Lock()
	defer l.Unlock()
	return r.reserved[k]
}

// Reserve increases the reservation for party/asset by amount if
// available covers the new total, returning the engine's own
// InsufficientFunds-flavoured validation error otherwise. available is
// supplied by the caller (typically a fresh ledger balance read) so
// Reserver itself never needs a ledger dependency.
func (r *Reserver) Reserve(party, asset string, amount, available decimal.Decimal) error {
	if amount.IsNegative() || amount.IsZero() {
		return commonerrors.New(commonerrors.Validation, "balance: reserve amount must be positive")
	}
	k := key{party, asset}
	l := r.lockFor(k)
	l.Lock()
	defer l.Unlock()

	current := r.reserved[k]
	next := current.Add(amount)
	if next.GreaterThan(available) {
		return commonerrors.Newf(commonerrors.Validation, "balance: insufficient %s for %s: have %s, reserved %s, need %s", asset, party, available, current, amount)
	}
	r.reserved[k] = next
	return nil
}

// Release decreases the reservation for party/asset by amount, clamped
// at zero so a duplicate release (e.g. a retried settlement) cannot
// drive the reservation negative.
func (r *Reserver) Release(party, asset string, amount decimal.Decimal) {
	k := key{party, asset}
	l := r.lockFor(k)
	l.Lock()
	defer l.Unlock()

	next := r.reserved[k].Sub(amount)
	if next.IsNegative() {
		next = decimal.Zero
	}
	r.reserved[k] = next
}

// ReleasePartial releases reservedForRemaining from the party/asset
// reservation, with the same clamping at zero as Release. The caller
// computes the amount, e.g. the part of a reservation still held for the
// unfilled remainder of a partially filled order.
func (r *Reserver) ReleasePartial(party, asset string, reservedForRemaining decimal.Decimal) {
	r.Release(party, asset, reservedForRemaining)
}
