package localdriver

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	commonerrors "github.com/tradsys/clobcore/internal/common/errors"
	"github.com/tradsys/clobcore/internal/ledger"
)

// Each test gets its own named in-memory database: a shared DSN like
// "file::memory:?cache=shared" would otherwise leak state across tests
// whose connections overlap in time.
func newTestDriver(t *testing.T) *Driver {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	d, err := Open(db, zap.NewNop())
	require.NoError(t, err)
	return d
}

func TestSubmitCommandCreatesContract(t *testing.T) {
	d := newTestDriver(t)

	result, err := d.SubmitCommand(context.Background(), []string{"alice"}, nil, ledger.Command{
		TemplateID: ledger.TemplateOrder,
		Argument:   map[string]interface{}{"owner": "alice", "quantity": "1"},
	})
	require.NoError(t, err)
	require.Len(t, result.Created, 1)
	assert.Equal(t, ledger.TemplateOrder, result.Created[0].TemplateID)
	assert.Equal(t, "alice", result.Created[0].Payload["owner"])
}

func TestExerciseFillOrderUpdatesFilledAndStatus(t *testing.T) {
	d := newTestDriver(t)

	created, err := d.SubmitCommand(context.Background(), []string{"alice"}, nil, ledger.Command{
		TemplateID: ledger.TemplateOrder,
		Argument:   map[string]interface{}{"quantity": "2", "filled": "0", "status": "OPEN"},
	})
	require.NoError(t, err)
	contractID := created.Created[0].ContractID

	result, err := d.SubmitCommand(context.Background(), []string{"alice"}, nil, ledger.Command{
		TemplateID: ledger.TemplateOrder,
		ContractID: contractID,
		Choice:     "FillOrder",
		Argument:   map[string]interface{}{"matchQty": "2"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{contractID}, result.Archived)
	require.Len(t, result.Created, 1)
	assert.Equal(t, "2", result.Created[0].Payload["filled"])
	assert.Equal(t, "FILLED", result.Created[0].Payload["status"])
}

func TestExerciseOnArchivedContractFails(t *testing.T) {
	d := newTestDriver(t)

	created, err := d.SubmitCommand(context.Background(), nil, nil, ledger.Command{
		TemplateID: ledger.TemplateOrder,
		Argument:   map[string]interface{}{"quantity": "1", "filled": "0"},
	})
	require.NoError(t, err)
	contractID := created.Created[0].ContractID

	_, err = d.SubmitCommand(context.Background(), nil, nil, ledger.Command{
		TemplateID: ledger.TemplateOrder,
		ContractID: contractID,
		Choice:     "CancelOrder",
	})
	require.NoError(t, err)

	_, err = d.SubmitCommand(context.Background(), nil, nil, ledger.Command{
		TemplateID: ledger.TemplateOrder,
		ContractID: contractID,
		Choice:     "CancelOrder",
	})
	require.Error(t, err)
	assert.True(t, commonerrors.Is(err, commonerrors.ContractNotFound))
}

func TestCancelOrderArchivesWithoutRecreating(t *testing.T) {
	d := newTestDriver(t)

	created, err := d.SubmitCommand(context.Background(), nil, nil, ledger.Command{
		TemplateID: ledger.TemplateOrder,
		Argument:   map[string]interface{}{"quantity": "1"},
	})
	require.NoError(t, err)
	contractID := created.Created[0].ContractID

	result, err := d.SubmitCommand(context.Background(), nil, nil, ledger.Command{
		TemplateID: ledger.TemplateOrder,
		ContractID: contractID,
		Choice:     "CancelOrder",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{contractID}, result.Archived)
	assert.Empty(t, result.Created)
}

func TestQueryActiveExcludesArchivedAndFiltersByTemplate(t *testing.T) {
	d := newTestDriver(t)

	order, err := d.SubmitCommand(context.Background(), nil, nil, ledger.Command{
		TemplateID: ledger.TemplateOrder,
		Argument:   map[string]interface{}{"quantity": "1"},
	})
	require.NoError(t, err)
	_, err = d.SubmitCommand(context.Background(), nil, nil, ledger.Command{
		TemplateID: ledger.TemplateTrade,
		Argument:   map[string]interface{}{"tradeId": "t1"},
	})
	require.NoError(t, err)

	active, err := d.QueryActive(context.Background(), "alice", []ledger.TemplateID{ledger.TemplateOrder}, 0)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, order.Created[0].ContractID, active[0].ContractID)

	_, err = d.SubmitCommand(context.Background(), nil, nil, ledger.Command{
		TemplateID: ledger.TemplateOrder,
		ContractID: order.Created[0].ContractID,
		Choice:     "CancelOrder",
	})
	require.NoError(t, err)

	activeAfter, err := d.QueryActive(context.Background(), "alice", []ledger.TemplateID{ledger.TemplateOrder}, 0)
	require.NoError(t, err)
	assert.Empty(t, activeAfter)
}

func TestGetLedgerEndAdvancesWithEachCommand(t *testing.T) {
	d := newTestDriver(t)

	start, err := d.GetLedgerEnd(context.Background())
	require.NoError(t, err)

	_, err = d.SubmitCommand(context.Background(), nil, nil, ledger.Command{
		TemplateID: ledger.TemplateOrder,
		Argument:   map[string]interface{}{"quantity": "1"},
	})
	require.NoError(t, err)

	end, err := d.GetLedgerEnd(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, start, end)
}

func TestTriggerStopLossConvertsOrderToMarket(t *testing.T) {
	d := newTestDriver(t)

	created, err := d.SubmitCommand(context.Background(), nil, nil, ledger.Command{
		TemplateID: ledger.TemplateOrder,
		Argument:   map[string]interface{}{"mode": "STOP_LOSS", "status": "PENDING_TRIGGER", "price": "50"},
	})
	require.NoError(t, err)
	contractID := created.Created[0].ContractID

	result, err := d.SubmitCommand(context.Background(), nil, nil, ledger.Command{
		TemplateID: ledger.TemplateOrder,
		ContractID: contractID,
		Choice:     "TriggerStopLoss",
		Argument:   map[string]interface{}{"triggeredAt": "2026-01-01T00:00:00Z", "triggerPrice": "48"},
	})
	require.NoError(t, err)
	require.Len(t, result.Created, 1)
	assert.Equal(t, "MARKET", result.Created[0].Payload["mode"])
	assert.Equal(t, "OPEN", result.Created[0].Payload["status"])
	assert.Nil(t, result.Created[0].Payload["price"])
}
