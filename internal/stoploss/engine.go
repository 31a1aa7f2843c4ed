// Package stoploss converts pending stop-loss registrations into live
// market orders once their trigger price crosses the last trade price
// (spec §4.5). It has two independent trigger paths: an event-driven
// check run after every trade, and a backup poll that catches any
// registration whose triggering trade update was missed.
package stoploss

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	commonerrors "github.com/tradsys/clobcore/internal/common/errors"
	"github.com/tradsys/clobcore/internal/domain"
	"github.com/tradsys/clobcore/internal/events"
	"github.com/tradsys/clobcore/internal/ledger"
	"github.com/tradsys/clobcore/internal/metrics"
	"github.com/tradsys/clobcore/internal/readmodel"
)

// defaultBackupPollInterval is the cadence of the redundant trigger
// sweep (spec §4.5) when the caller does not override it: short enough
// to bound worst-case trigger latency if the primary path is ever
// skipped, long enough not to compete with it.
const defaultBackupPollInterval = 5 * time.Second

// Engine triggers stop-loss registrations.
type Engine struct {
	model      *readmodel.Model
	adapter    ledger.Adapter
	publisher  *events.Publisher
	metrics    *metrics.EngineMetrics
	logger     *zap.Logger
	pollPeriod time.Duration
}

// New builds a stop-loss Engine. m may be nil. pollInterval configures
// RunBackupPoll's sweep cadence; zero falls back to
// defaultBackupPollInterval.
func New(model *readmodel.Model, adapter ledger.Adapter, publisher *events.Publisher, m *metrics.EngineMetrics, logger *zap.Logger, pollInterval time.Duration) *Engine {
	if pollInterval <= 0 {
		pollInterval = defaultBackupPollInterval
	}
	return &Engine{model: model, adapter: adapter, publisher: publisher, metrics: m, logger: logger, pollPeriod: pollInterval}
}

// CheckTriggers is the primary path: called after every observed trade
// so a crossed stop-loss converts within one cycle of the price move
// that caused it.
func (e *Engine) CheckTriggers(ctx context.Context, pair domain.Pair, lastPrice decimal.Decimal) {
	for _, reg := range e.model.PendingStopRegistrations() {
		if reg.Pair != pair {
			continue
		}
		if reg.Crosses(lastPrice) {
			e.trigger(ctx, reg, lastPrice)
		}
	}
}

// RunBackupPoll sweeps every pending registration against its pair's
// last trade price on a fixed interval, independent of the event path.
func (e *Engine) RunBackupPoll(ctx context.Context) {
	ticker := time.NewTicker(e.pollPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sweep(ctx)
		}
	}
}

func (e *Engine) sweep(ctx context.Context) {
	for _, reg := range e.model.PendingStopRegistrations() {
		price, ok := e.model.LastTradePrice(reg.Pair)
		if !ok {
			continue
		}
		if reg.Crosses(price) {
			e.trigger(ctx, reg, price)
		}
	}
}

// trigger exercises TriggerStopLoss on the registration's order
// contract, converting it into a live market order, then archives the
// registration and notifies listeners.
func (e *Engine) trigger(ctx context.Context, reg *domain.StopRegistration, triggerPrice decimal.Decimal) {
	now := time.Now()
	result, err := e.adapter.SubmitCommand(ctx, []string{reg.PartyID}, nil, ledger.Command{
		TemplateID: ledger.TemplateOrder,
		ContractID: reg.OrderContractID,
		Choice:     "TriggerStopLoss",
		Argument: map[string]interface{}{
			"triggeredAt":  now.Format(time.RFC3339Nano),
			"triggerPrice": triggerPrice.String(),
		},
	})
	if err != nil {
		if commonerrors.Is(err, commonerrors.ContractNotFound) {
			// Already triggered or cancelled by a concurrent path; drop silently.
			e.model.ApplyStopRegistrationArchived(reg.OrderContractID)
			return
		}
		e.logger.Warn("stoploss: trigger failed", zap.String("order", reg.OrderID), zap.Error(err))
		return
	}

	e.model.ApplyStopRegistrationArchived(reg.OrderContractID)
	if len(result.Created) > 0 {
		if o, err := readmodel.DecodeOrder(result.Created[0]); err == nil {
			e.model.ApplyOrderCreated(o)
		}
	}

	if e.metrics != nil {
		e.metrics.StopLossTriggered()
	}

	e.publisher.Publish(events.TopicStopLossTriggered, events.StopLossTriggered{
		OrderID:      reg.OrderID,
		Pair:         reg.Pair.String(),
		TriggerPrice: triggerPrice.String(),
		Timestamp:    now,
	})
}
