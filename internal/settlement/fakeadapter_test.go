package settlement

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tradsys/clobcore/internal/ledger"
)

// fakeAdapter is a minimal ledger.Adapter: SubmitCommand and
// ExecuteAllocation always succeed unless configured otherwise, and
// every invocation is recorded for assertion.
type fakeAdapter struct {
	mu sync.Mutex

	allocationErr map[string]error // allocationRef -> error
	fillErr       map[string]error // contractID -> error, for FillOrder
	commands      []ledger.Command
	allocations   []string
	fillCount     int32
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{allocationErr: make(map[string]error), fillErr: make(map[string]error)}
}

func (f *fakeAdapter) SubmitCommand(ctx context.Context, actAs, readAs []string, cmd ledger.Command) (ledger.TransactionResult, error) {
	f.mu.Lock()
	f.commands = append(f.commands, cmd)
	err := f.fillErr[cmd.ContractID]
	f.mu.Unlock()
	if cmd.Choice == "FillOrder" {
		if err != nil {
			return ledger.TransactionResult{}, err
		}
		atomic.AddInt32(&f.fillCount, 1)
	}
	return ledger.TransactionResult{Created: []ledger.ContractEntry{{ContractID: cmd.ContractID + "-filled", TemplateID: cmd.TemplateID}}}, nil
}

func (f *fakeAdapter) QueryActive(ctx context.Context, party string, templates []ledger.TemplateID, pageSize int) ([]ledger.ContractEntry, error) {
	return nil, nil
}

func (f *fakeAdapter) StreamActiveAtOffset(ctx context.Context, offset ledger.Offset, templates []ledger.TemplateID) (<-chan ledger.ContractEntry, <-chan error) {
	out := make(chan ledger.ContractEntry)
	errs := make(chan error)
	close(out)
	close(errs)
	return out, errs
}

func (f *fakeAdapter) StreamUpdates(ctx context.Context, fromOffset ledger.Offset, templates []ledger.TemplateID) (<-chan ledger.Event, <-chan error) {
	out := make(chan ledger.Event)
	errs := make(chan error)
	return out, errs
}

func (f *fakeAdapter) ExecuteAllocation(ctx context.Context, allocationRef, executor, ownerHint string) (ledger.TransactionResult, error) {
	f.mu.Lock()
	f.allocations = append(f.allocations, allocationRef)
	err := f.allocationErr[allocationRef]
	f.mu.Unlock()
	if err != nil {
		return ledger.TransactionResult{}, err
	}
	return ledger.TransactionResult{}, nil
}

func (f *fakeAdapter) WithdrawAllocation(ctx context.Context, allocationRef, owner string) (ledger.TransactionResult, error) {
	return ledger.TransactionResult{}, nil
}

func (f *fakeAdapter) GetLedgerEnd(ctx context.Context) (ledger.Offset, error) {
	return "", nil
}

func (f *fakeAdapter) fillCalls() int {
	return int(atomic.LoadInt32(&f.fillCount))
}

func (f *fakeAdapter) allocationCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.allocations))
	copy(out, f.allocations)
	return out
}
