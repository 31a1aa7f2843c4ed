package readmodel

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tradsys/clobcore/internal/ledger"
)

// Consumer drives a Model from a ledger.Adapter: a one-shot bootstrap
// drain followed by an indefinitely reconnecting live-update loop.
type Consumer struct {
	model    *Model
	adapter  ledger.Adapter
	registry *ledger.TemplateRegistry
	logger   *zap.Logger
	timeouts ledger.Timeouts

	templates []ledger.TemplateID
}

// NewConsumer builds a Consumer that projects Order and Trade contracts.
func NewConsumer(model *Model, adapter ledger.Adapter, registry *ledger.TemplateRegistry, logger *zap.Logger, timeouts ledger.Timeouts) *Consumer {
	return &Consumer{
		model:    model,
		adapter:  adapter,
		registry: registry,
		logger:   logger,
		timeouts: timeouts,
		templates: []ledger.TemplateID{
			ledger.TemplateOrder,
			ledger.TemplateTrade,
		},
	}
}

// Bootstrap drains a full snapshot at the current ledger end, then
// returns the offset the live subscription should resume from. Only
// Order and Trade contracts are projected; neither Bootstrap nor Run
// derives stop-loss registrations from pending STOP_LOSS orders, so
// Model.PendingStopRegistrations lists only registrations added through
// ApplyStopRegistrationCreated.
func (c *Consumer) Bootstrap(ctx context.Context) (ledger.Offset, error) {
	offset, err := c.adapter.GetLedgerEnd(ctx)
	if err != nil {
		return "", err
	}

	drainCtx, cancel := context.WithTimeout(ctx, c.timeouts.BootstrapDrain)
	defer cancel()

	entries, errc := c.adapter.StreamActiveAtOffset(drainCtx, offset, c.templates)
	for entries != nil || errc != nil {
		select {
		case e, ok := <-entries:
			if !ok {
				entries = nil
				continue
			}
			if err := c.registry.Check(e.TemplateID, templateVersion(e)); err != nil {
				return "", err
			}
			c.apply(e)
		case err, ok := <-errc:
			if !ok {
				errc = nil
				continue
			}
			if err != nil {
				return "", err
			}
		}
	}

	return offset, nil
}

// Run consumes the live update stream from offset until ctx is
// cancelled, reconnecting with backoff on transport errors (the
// channel backing StreamUpdates already retries internally; Run's own
// loop covers the case where the channel closes early).
func (c *Consumer) Run(ctx context.Context, offset ledger.Offset) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		events, errc := c.adapter.StreamUpdates(ctx, offset, c.templates)
		closed := false
		for !closed {
			select {
			case ev, ok := <-events:
				if !ok {
					closed = true
					break
				}
				backoff = time.Second
				offset = ev.Offset
				if ev.Archived {
					c.applyArchive(ev.Contract.ContractID, ev.Contract.TemplateID)
				} else {
					c.apply(ev.Contract)
				}
			case err, ok := <-errc:
				if ok && err != nil {
					c.logger.Warn("readmodel: update stream error", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}

func (c *Consumer) apply(e ledger.ContractEntry) {
	switch e.TemplateID {
	case ledger.TemplateOrder:
		o, err := decodeOrder(e)
		if err != nil {
			c.logger.Warn("readmodel: decode order", zap.Error(err))
			return
		}
		c.model.ApplyOrderCreated(o)
	case ledger.TemplateTrade:
		t, err := decodeLastTrade(e)
		if err != nil {
			c.logger.Warn("readmodel: decode trade", zap.Error(err))
			return
		}
		c.model.ApplyTrade(t)
	}
}

func (c *Consumer) applyArchive(contractID string, tmpl ledger.TemplateID) {
	if tmpl == ledger.TemplateOrder {
		c.model.ApplyOrderArchived(contractID)
	}
}

func templateVersion(e ledger.ContractEntry) string {
	if v, ok := e.Payload["templateVersion"]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "0.0.0"
}
