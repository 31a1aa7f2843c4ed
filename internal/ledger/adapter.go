// Package ledger defines the abstract port to the distributed ledger
// (spec §4.1, §6) that the rest of the core depends on exclusively. No
// consumer of this package ever sees a ledger-vendor-specific payload
// shape: every driver normalizes to the flat ContractEntry below at the
// port boundary (spec §9, "shape-polymorphic ledger payloads").
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TemplateID names a ledger contract template (Order, Trade, Allocation, ...).
type TemplateID string

// Offset is an opaque, monotonically increasing position in the ledger's
// update stream, sufficient for exactly-once resumption (spec §GLOSSARY).
type Offset string

// ContractEntry is the one flat shape every driver normalizes to, whatever
// the vendor's wire format nests its payload under.
type ContractEntry struct {
	ContractID string
	TemplateID TemplateID
	Payload    map[string]interface{}
}

// Event is one element of a live update stream: a create or an archive.
type Event struct {
	Archived bool
	Offset   Offset
	Contract ContractEntry
}

// Command is a create-or-exercise ledger command.
type Command struct {
	TemplateID TemplateID
	ContractID string // empty for create; the exercised contract for a choice
	Choice     string // empty for a plain create
	Argument   map[string]interface{}
}

// TransactionResult is returned by submitCommand and the allocation calls.
type TransactionResult struct {
	TransactionID string
	Created       []ContractEntry
	Archived      []string // contract ids
}

// Adapter is the port the core depends on (spec §4.1). Every operation
// that can block carries a context for cancellation and the timeout
// budgets of spec §5.
type Adapter interface {
	// SubmitCommand submits a create-or-exercise command as actAs, visible
	// to readAs, and blocks until committed.
	SubmitCommand(ctx context.Context, actAs, readAs []string, cmd Command) (TransactionResult, error)

	// QueryActive returns at most pageSize active contracts of the given
	// templates, visible to party. The ledger enforces a hard cap of 200
	// regardless of pageSize (spec §4.1, §6).
	QueryActive(ctx context.Context, party string, templates []TemplateID, pageSize int) ([]ContractEntry, error)

	// StreamActiveAtOffset opens a finite bootstrap stream of every active
	// contract of the given templates as of offset. The returned channel
	// closes when the snapshot is exhausted. Not restartable.
	StreamActiveAtOffset(ctx context.Context, offset Offset, templates []TemplateID) (<-chan ContractEntry, <-chan error)

	// StreamUpdates opens an infinite live subscription from fromOffset.
	// The channel closes only on ctx cancellation or an unrecoverable
	// transport failure (reported on the error channel).
	StreamUpdates(ctx context.Context, fromOffset Offset, templates []TemplateID) (<-chan Event, <-chan error)

	// ExecuteAllocation performs the transfer an Allocation authorised, as
	// executor, optionally hinting the original owner for audit purposes.
	ExecuteAllocation(ctx context.Context, allocationRef, executor, ownerHint string) (TransactionResult, error)

	// WithdrawAllocation releases an unexecuted allocation back to owner.
	WithdrawAllocation(ctx context.Context, allocationRef, owner string) (TransactionResult, error)

	// GetLedgerEnd returns a fresh snapshot offset for bootstrapping.
	GetLedgerEnd(ctx context.Context) (Offset, error)
}

// BalanceReader is a narrow, optional capability some drivers expose for
// OrderService's soft balance check (spec §4.4 step 3). A driver that
// cannot answer it cheaply may omit it; OrderService treats its absence
// like a failed query (the check is advisory, never authoritative).
type BalanceReader interface {
	AvailableBalance(ctx context.Context, party, asset string) (decimal.Decimal, error)
}

// Timeouts collects the blocking-call budgets from spec §5.
type Timeouts struct {
	Write          time.Duration // submit, execute, withdraw: default 30s
	BalanceRead    time.Duration // default 5s
	BootstrapDrain time.Duration // per-template drain: default 60s
	HealthProbe    time.Duration // default 3s
}

// DefaultTimeouts returns the spec's default timeout budgets.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Write:          30 * time.Second,
		BalanceRead:    5 * time.Second,
		BootstrapDrain: 60 * time.Second,
		HealthProbe:    3 * time.Second,
	}
}

// Well-known template ids used throughout the core.
const (
	TemplateOrder      TemplateID = "Order"
	TemplateTrade      TemplateID = "Trade"
	TemplateAllocation TemplateID = "Allocation"
)
