package readmodel

import (
	"context"

	"github.com/tradsys/clobcore/internal/ledger"
)

// fakeAdapter replays a fixed bootstrap snapshot and then a fixed
// sequence of live updates, one per call to StreamUpdates, so Run's
// reconnect loop can be observed feeding the model across multiple
// connect cycles.
type fakeAdapter struct {
	ledgerEnd ledger.Offset
	snapshot  []ledger.ContractEntry
	updates   [][]ledger.Event
	callIndex int
}

func (f *fakeAdapter) SubmitCommand(ctx context.Context, actAs, readAs []string, cmd ledger.Command) (ledger.TransactionResult, error) {
	return ledger.TransactionResult{}, nil
}

func (f *fakeAdapter) QueryActive(ctx context.Context, party string, templates []ledger.TemplateID, pageSize int) ([]ledger.ContractEntry, error) {
	return nil, nil
}

func (f *fakeAdapter) StreamActiveAtOffset(ctx context.Context, offset ledger.Offset, templates []ledger.TemplateID) (<-chan ledger.ContractEntry, <-chan error) {
	out := make(chan ledger.ContractEntry, len(f.snapshot))
	errc := make(chan error)
	for _, e := range f.snapshot {
		out <- e
	}
	close(out)
	close(errc)
	return out, errc
}

func (f *fakeAdapter) StreamUpdates(ctx context.Context, fromOffset ledger.Offset, templates []ledger.TemplateID) (<-chan ledger.Event, <-chan error) {
	out := make(chan ledger.Event, 16)
	errc := make(chan error)
	var batch []ledger.Event
	if f.callIndex < len(f.updates) {
		batch = f.updates[f.callIndex]
	}
	f.callIndex++
	go func() {
		defer close(out)
		defer close(errc)
		for _, e := range batch {
			out <- e
		}
	}()
	return out, errc
}

func (f *fakeAdapter) ExecuteAllocation(ctx context.Context, allocationRef, executor, ownerHint string) (ledger.TransactionResult, error) {
	return ledger.TransactionResult{}, nil
}

func (f *fakeAdapter) WithdrawAllocation(ctx context.Context, allocationRef, owner string) (ledger.TransactionResult, error) {
	return ledger.TransactionResult{}, nil
}

func (f *fakeAdapter) GetLedgerEnd(ctx context.Context) (ledger.Offset, error) {
	return f.ledgerEnd, nil
}
