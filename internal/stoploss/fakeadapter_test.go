package stoploss

import (
	"context"

	commonerrors "github.com/tradsys/clobcore/internal/common/errors"
	"github.com/tradsys/clobcore/internal/ledger"
)

type fakeAdapter struct {
	notFoundFor map[string]bool
	triggered   []string
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{notFoundFor: make(map[string]bool)}
}

func (f *fakeAdapter) SubmitCommand(ctx context.Context, actAs, readAs []string, cmd ledger.Command) (ledger.TransactionResult, error) {
	if f.notFoundFor[cmd.ContractID] {
		return ledger.TransactionResult{}, commonerrors.New(commonerrors.ContractNotFound, "stoploss: contract gone")
	}
	f.triggered = append(f.triggered, cmd.ContractID)
	return ledger.TransactionResult{
		Created: []ledger.ContractEntry{{
			ContractID: cmd.ContractID + "-market",
			TemplateID: ledger.TemplateOrder,
			Payload: map[string]interface{}{
				"orderId":   cmd.ContractID + "-order",
				"owner":     "party",
				"pair":      "BTC/USD",
				"side":      "SELL",
				"mode":      "MARKET",
				"quantity":  "1",
				"filled":    "0",
				"status":    "OPEN",
				"timestamp": "2026-01-01T00:00:00Z",
			},
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
