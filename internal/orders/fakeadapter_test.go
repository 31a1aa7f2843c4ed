package orders

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/tradsys/clobcore/internal/ledger"
)

// fakeAdapter is a minimal ledger.Adapter stub: SubmitCommand fails with
// submitErr when it is set and otherwise returns one created contract
// with the fixed id "contract-order"; AvailableBalance serves balances
// once hasBalances is set; the rest returns zero values.
type fakeAdapter struct {
	submitErr   error
	nextID      int
	balances    map[string]decimal.Decimal
	hasBalances bool
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{balances: make(map[string]decimal.Decimal)}
}

func (f *fakeAdapter) SubmitCommand(ctx context.Context, actAs, readAs []string, cmd ledger.Command) (ledger.TransactionResult, error) {
	if f.submitErr != nil {
		return ledger.TransactionResult{}, f.submitErr
	}
	f.nextID++
	return ledger.TransactionResult{
		Created: []ledger.ContractEntry{{
			ContractID: "contract-order",
			TemplateID: cmd.TemplateID,
			Payload:    cmd.Argument,
		}},
	}, nil
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
	return ledger.TransactionResult{}, nil
}

func (f *fakeAdapter) WithdrawAllocation(ctx context.Context, allocationRef, owner string) (ledger.TransactionResult, error) {
	return ledger.TransactionResult{}, nil
}

func (f *fakeAdapter) GetLedgerEnd(ctx context.Context) (ledger.Offset, error) {
	return "", nil
}

func (f *fakeAdapter) AvailableBalance(ctx context.Context, party, asset string) (decimal.Decimal, error) {
	if !f.hasBalances {
		return decimal.Zero, context.DeadlineExceeded
	}
	return f.balances[party+"|"+asset], nil
}
