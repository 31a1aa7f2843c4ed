// Package settlement executes one matched pair of orders (spec §4.3):
// it records the fill on the ledger before transferring anything, then
// runs the two allocation legs concurrently, skips legs below the dust
// threshold, and publishes the resulting events.
package settlement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tradsys/clobcore/internal/balance"
	commonerrors "github.com/tradsys/clobcore/internal/common/errors"
	"github.com/tradsys/clobcore/internal/common/idgen"
	"github.com/tradsys/clobcore/internal/common/money"
	"github.com/tradsys/clobcore/internal/domain"
	"github.com/tradsys/clobcore/internal/events"
	"github.com/tradsys/clobcore/internal/ledger"
	"github.com/tradsys/clobcore/internal/metrics"
)

// ReversalHook is an unimplemented extension point: a settlement whose
// legs partially succeed (one allocation executed, the other did not)
// calls it so a future compensating-transaction strategy can plug in.
// The default is nil, meaning the partial state is logged and reported
// via a PartialSettlement event, but never automatically reversed
// (spec Open Question, resolved in DESIGN.md: no reversal semantics
// are specified).
type ReversalHook func(ctx context.Context, tradeID string, failedLeg string, allocationRef string)

// DustThresholds resolves the minimum transferable amount per asset,
// falling back to a global default when no per-asset override exists.
type DustThresholds struct {
	Default   decimal.Decimal
	Overrides map[string]decimal.Decimal
}

// For returns the dust threshold that applies to asset.
func (d DustThresholds) For(asset string) decimal.Decimal {
	if v, ok := d.Overrides[asset]; ok {
		return v
	}
	return d.Default
}

// Settler executes matched pairs.
type Settler struct {
	adapter   ledger.Adapter
	reserver  *balance.Reserver
	publisher *events.Publisher
	pool      *ants.Pool
	thresholds DustThresholds
	reversal  ReversalHook
	metrics   *metrics.EngineMetrics
	logger    *zap.Logger
	onTrade   func(pair domain.Pair, price decimal.Decimal)
	onFill    func(order *domain.Order)
}

// Options configures a Settler.
type Options struct {
	Thresholds DustThresholds
	Reversal   ReversalHook
	PoolSize   int
	Metrics    *metrics.EngineMetrics
	OnTrade    func(pair domain.Pair, price decimal.Decimal)
	OnFill     func(order *domain.Order)
}

// New builds a Settler backed by a bounded worker pool for the two
// concurrent allocation legs.
func New(adapter ledger.Adapter, reserver *balance.Reserver, publisher *events.Publisher, logger *zap.Logger, opts Options) (*Settler, error) {
	size := opts.PoolSize
	if size <= 0 {
		size = 64
	}
	pool, err := ants.NewPool(size, ants.WithExpiryDuration(10*time.Minute), ants.WithPreAlloc(true))
	if err != nil {
		return nil, fmt.Errorf("settlement: new pool: %w", err)
	}
	return &Settler{
		adapter:    adapter,
		reserver:   reserver,
		publisher:  publisher,
		pool:       pool,
		thresholds: opts.Thresholds,
		reversal:   opts.Reversal,
		metrics:    opts.Metrics,
		logger:     logger,
		onTrade:    opts.OnTrade,
		onFill:     opts.OnFill,
	}, nil
}

// Close releases the worker pool.
func (s *Settler) Close() {
	s.pool.Release()
}

type legResult struct {
	role   string // "buyer" or "seller"
	result ledger.TransactionResult
	err    error
}

// Settle matches buy against sell: fills whichever quantity is common
// to both on the ledger first, then runs the buyer's and seller's
// allocation legs concurrently. It returns false (no error) when the
// two orders have no positive remaining quantity in common, which the
// caller should treat as a no-op rather than a failure.
func (s *Settler) Settle(ctx context.Context, buy, sell *domain.Order, price decimal.Decimal) (bool, error) {
	start := time.Now()
	matchQty := decimal.Min(buy.Remaining(), sell.Remaining())
	if !matchQty.IsPositive() {
		return false, nil
	}

	quoteAmount := money.Mul(price, matchQty)

	buyFilled, sellFilled, err := s.recordFills(ctx, buy, sell, matchQty)
	if err != nil {
		return false, err
	}

	tradeID := idgen.NewTradeID()
	now := time.Now()

	legs := s.runLegs(ctx, tradeID, buy, sell, matchQty, quoteAmount)

	s.reserver.Release(buy.Owner, buy.Pair.Quote, quoteAmount)
	s.reserver.Release(sell.Owner, sell.Pair.Base, matchQty)

	s.recordTrade(ctx, tradeID, buy, sell, price, matchQty, quoteAmount, now)

	for _, leg := range legs {
		if leg.err != nil {
			s.logger.Warn("settlement: allocation leg failed", zap.String("trade", tradeID), zap.String("role", leg.role), zap.Error(leg.err))
			if s.metrics != nil {
				s.metrics.SettlementLegFailure(leg.role)
			}
			s.publisher.Publish(events.TopicPartialSettlement, events.PartialSettlement{
				TradeID:   tradeID,
				FailedLeg: leg.role,
				Reason:    leg.err.Error(),
				Timestamp: now,
			})
			if s.reversal != nil {
				s.reversal(ctx, tradeID, leg.role, "")
			}
		}
	}

	s.publisher.Publish(events.TopicTradeExecuted, events.TradeExecuted{
		TradeID:     tradeID,
		Pair:        buy.Pair.String(),
		Buyer:       buy.Owner,
		Seller:      sell.Owner,
		BasePrice:   price.String(),
		BaseAmount:  matchQty.String(),
		QuoteAmount: quoteAmount.String(),
		BuyOrderID:  buy.OrderID,
		SellOrderID: sell.OrderID,
		Timestamp:   now,
	})

	if s.onTrade != nil {
		s.onTrade(buy.Pair, price)
	}
	if s.onFill != nil {
		s.onFill(buyFilled)
		s.onFill(sellFilled)
	}
	if s.metrics != nil {
		baseAmount, _ := matchQty.Float64()
		s.metrics.TradeExecuted(buy.Pair.String(), baseAmount)
		s.metrics.SettlementLatency(time.Since(start))
	}

	return true, nil
}

// recordFills exercises FillOrder on both contracts before any
// allocation leg runs (spec §4.3: fill recorded first, transfer
// second), so a crash between the two steps leaves the ledger's fill
// state as the recoverable source of truth.
//
// Only a buy-side ContractNotFound aborts the settlement outright (the
// match is no longer valid against the ledger). Every other step-1
// failure, including a sell-side failure after the buy side already
// filled, is logged as a warning and settlement continues to step 2
// with whichever side did fill — the buyer's already-executed fill
// must not be dropped just because the seller's failed.
func (s *Settler) recordFills(ctx context.Context, buy, sell *domain.Order, matchQty decimal.Decimal) (*domain.Order, *domain.Order, error) {
	buyFilled := *buy
	buyResult, err := s.adapter.SubmitCommand(ctx, []string{buy.Owner}, nil, ledger.Command{
		TemplateID: ledger.TemplateOrder,
		ContractID: buy.ContractID,
		Choice:     "FillOrder",
		Argument:   map[string]interface{}{"matchQty": matchQty.String()},
	})
	if err != nil {
		if commonerrors.Is(err, commonerrors.ContractNotFound) {
			return nil, nil, commonerrors.Wrap(err, commonerrors.LedgerConflict, "settlement: fill buy order")
		}
		s.logger.Warn("settlement: fill buy order failed, continuing to allocation", zap.String("order", buy.OrderID), zap.Error(err))
	} else {
		buyFilled.ApplyFill(matchQty)
		if len(buyResult.Created) > 0 {
			buyFilled.ContractID = buyResult.Created[0].ContractID
		}
	}

	sellFilled := *sell
	sellResult, err := s.adapter.SubmitCommand(ctx, []string{sell.Owner}, nil, ledger.Command{
		TemplateID: ledger.TemplateOrder,
		ContractID: sell.ContractID,
		Choice:     "FillOrder",
		Argument:   map[string]interface{}{"matchQty": matchQty.String()},
	})
	if err != nil {
		s.logger.Warn("settlement: fill sell order failed, continuing to allocation", zap.String("order", sell.OrderID), zap.Error(err))
	} else {
		sellFilled.ApplyFill(matchQty)
		if len(sellResult.Created) > 0 {
			sellFilled.ContractID = sellResult.Created[0].ContractID
		}
	}

	return &buyFilled, &sellFilled, nil
}

// runLegs executes the buyer's and seller's allocation legs
// concurrently on the worker pool, skipping either leg whose amount
// falls below its asset's dust threshold.
func (s *Settler) runLegs(ctx context.Context, tradeID string, buy, sell *domain.Order, baseAmount, quoteAmount decimal.Decimal) []legResult {
	var wg sync.WaitGroup
	results := make([]legResult, 0, 2)
	var mu sync.Mutex

	submit := func(role, allocationRef, executor, ownerHint string, amount, threshold decimal.Decimal) {
		if amount.LessThan(threshold) {
			return
		}
		wg.Add(1)
		task := func() {
			defer wg.Done()
			res, err := s.adapter.ExecuteAllocation(ctx, allocationRef, executor, ownerHint)
			mu.Lock()
			results = append(results, legResult{role: role, result: res, err: err})
			mu.Unlock()
		}
		if err := s.pool.Submit(task); err != nil {
			wg.Done()
			mu.Lock()
			results = append(results, legResult{role: role, err: fmt.Errorf("settlement: submit leg: %w", err)})
			mu.Unlock()
		}
	}

	if buy.AllocationRef != "" {
		submit("buyer", buy.AllocationRef, sell.Owner, buy.Owner, quoteAmount, s.thresholds.For(buy.Pair.Quote))
	}
	if sell.AllocationRef != "" {
		submit("seller", sell.AllocationRef, buy.Owner, sell.Owner, baseAmount, s.thresholds.For(sell.Pair.Base))
	}

	wg.Wait()
	return results
}

func (s *Settler) recordTrade(ctx context.Context, tradeID string, buy, sell *domain.Order, price, baseAmount, quoteAmount decimal.Decimal, at time.Time) {
	_, err := s.adapter.SubmitCommand(ctx, []string{buy.Owner, sell.Owner}, nil, ledger.Command{
		TemplateID: ledger.TemplateTrade,
		Argument: map[string]interface{}{
			"tradeId":     tradeID,
			"pair":        buy.Pair.String(),
			"buyer":       buy.Owner,
			"seller":      sell.Owner,
			"basePrice":   price.String(),
			"baseAmount":  baseAmount.String(),
			"quoteAmount": quoteAmount.String(),
			"buyOrderId":  buy.OrderID,
			"sellOrderId": sell.OrderID,
			"timestamp":   at.Format(time.RFC3339Nano),
		},
	})
	if err != nil {
		s.logger.Error("settlement: record trade failed", zap.String("trade", tradeID), zap.Error(err))
	}
}
