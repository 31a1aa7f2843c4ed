// Package matching runs the single-threaded cooperative matching loop
// (spec §4.2): for each trading pair with crossed orders, it selects a
// price-time-priority pair, hands it to Settlement, and repeats. It
// never mutates ledger state directly; Settlement owns every write.
package matching

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/tradsys/clobcore/internal/domain"
	"github.com/tradsys/clobcore/internal/metrics"
	"github.com/tradsys/clobcore/internal/readmodel"
)

// SettlementFunc executes one match between a resting and an incoming
// order, returning whether a trade actually settled.
type SettlementFunc func(ctx context.Context, buy, sell *domain.Order) (bool, error)

// Intervals controls the adaptive polling cadence (spec §4.2, §6):
// cycles run at Base while trades are happening, back off to Medium
// after QuietForMedium of inactivity, and to Slow after QuietForSlow.
// Watchdog is the period of the tick that clears a leftover inProgress
// flag (see Run), and RematchCooldown is the TTL a settled (or
// failed-to-settle) pair spends excluded from immediate rematching.
type Intervals struct {
	Base   time.Duration
	Medium time.Duration
	Slow   time.Duration

	QuietForMedium time.Duration
	QuietForSlow   time.Duration

	Watchdog        time.Duration
	RematchCooldown time.Duration
}

// DefaultIntervals returns the spec §6 configuration table's defaults:
// baseIntervalMs=2000, mediumIdleIntervalMs=10000 (after 5 idle
// cycles), slowIdleIntervalMs=30000 (after 20 idle cycles, here
// approximated as a quiet-duration threshold rather than a cycle
// count), watchdogMs=25000, rematchCooldownMs=30000.
func DefaultIntervals() Intervals {
	return Intervals{
		Base:            2 * time.Second,
		Medium:          10 * time.Second,
		Slow:            30 * time.Second,
		QuietForMedium:  10 * time.Second,
		QuietForSlow:    40 * time.Second,
		Watchdog:        25 * time.Second,
		RematchCooldown: 30 * time.Second,
	}
}

// Engine runs the matching loop.
type Engine struct {
	model     *readmodel.Model
	settle    SettlementFunc
	logger    *zap.Logger
	intervals Intervals
	metrics   *metrics.EngineMetrics

	recentlyMatched *cache.Cache

	mu          sync.Mutex
	pendingPairs map[domain.Pair]struct{}
	inProgress  bool
	lastMatchAt time.Time
}

// New builds a matching Engine. m may be nil.
func New(model *readmodel.Model, settle SettlementFunc, logger *zap.Logger, intervals Intervals, m *metrics.EngineMetrics) *Engine {
	return &Engine{
		model:           model,
		settle:          settle,
		logger:          logger,
		intervals:       intervals,
		metrics:         m,
		recentlyMatched: cache.New(intervals.RematchCooldown, intervals.RematchCooldown*2),
		pendingPairs:    make(map[domain.Pair]struct{}),
		lastMatchAt:     time.Now(),
	}
}

// Notify coalesces an external hint that pair may have new crossable
// orders, so the loop checks it on its next tick rather than waiting
// for a full sweep of every pair.
func (e *Engine) Notify(pair domain.Pair) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pendingPairs[pair] = struct{}{}
}

// Run drives the matching loop until ctx is cancelled. Cycles run
// inline on this goroutine, so the watchdog tick is only handled
// between cycles: it clears inProgress (logging if it was still set),
// but it does not interrupt or clear a cycle that is still running.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.intervals.Base)
	defer ticker.Stop()

	watchdog := time.NewTicker(e.intervals.Watchdog)
	defer watchdog.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-watchdog.C:
			e.mu.Lock()
			stuck := e.inProgress
			e.inProgress = false
			e.mu.Unlock()
			if stuck {
				e.logger.Error("matching: watchdog cleared a stuck cycle")
			}
		case <-ticker.C:
			ticker.Reset(e.currentInterval())
			e.runCycle(ctx)
		}
	}
}

func (e *Engine) currentInterval() time.Duration {
	e.mu.Lock()
	quiet := time.Since(e.lastMatchAt)
	e.mu.Unlock()

	switch {
	case quiet >= e.intervals.QuietForSlow:
		return e.intervals.Slow
	case quiet >= e.intervals.QuietForMedium:
		return e.intervals.Medium
	default:
		return e.intervals.Base
	}
}

func (e *Engine) runCycle(ctx context.Context) {
	e.mu.Lock()
	if e.inProgress {
		e.mu.Unlock()
		return
	}
	e.inProgress = true
	pairs := e.drainPendingLocked()
	e.mu.Unlock()

	start := time.Now()
	defer func() {
		e.mu.Lock()
		e.inProgress = false
		e.mu.Unlock()
		if e.metrics != nil {
			e.metrics.MatchCycle(time.Since(start))
		}
	}()

	if len(pairs) == 0 {
		pairs = e.model.Pairs()
	}

	matchedAny := false
	for _, pair := range pairs {
		if e.matchPair(ctx, pair) {
			matchedAny = true
		}
		e.reportDepth(pair)
	}

	if matchedAny {
		e.mu.Lock()
		e.lastMatchAt = time.Now()
		e.mu.Unlock()
	}
}

func (e *Engine) reportDepth(pair domain.Pair) {
	if e.metrics == nil {
		return
	}
	buy, sell := e.model.OrderBook(pair)
	e.metrics.SetBookDepth(pair.String(), "buy", countOrders(buy))
	e.metrics.SetBookDepth(pair.String(), "sell", countOrders(sell))
}

func countOrders(levels []readmodel.BookLevel) int {
	n := 0
	for _, lvl := range levels {
		n += len(lvl.Orders)
	}
	return n
}

func (e *Engine) drainPendingLocked() []domain.Pair {
	if len(e.pendingPairs) == 0 {
		return nil
	}
	out := make([]domain.Pair, 0, len(e.pendingPairs))
	for p := range e.pendingPairs {
		out = append(out, p)
		delete(e.pendingPairs, p)
	}
	return out
}

// matchPair settles at most one crossing pair at the top of pair's book
// (spec §4.5 step 2(f), §8 invariant 5: exactly one buy/sell pairing per
// pair per cycle) and returns whether it matched anything. Any crossing
// orders left in the book are picked up by the next cycle.
func (e *Engine) matchPair(ctx context.Context, pair domain.Pair) bool {
	select {
	case <-ctx.Done():
		return false
	default:
	}

	buy, sell, ok := e.selectCrossable(pair)
	if !ok {
		return false
	}

	cooldownKey := rematchKey(buy.OrderID, sell.OrderID)
	if _, found := e.recentlyMatched.Get(cooldownKey); found {
		return false
	}

	settled, err := e.settle(ctx, buy, sell)
	if err != nil {
		e.logger.Warn("matching: settlement failed", zap.String("buy", buy.OrderID), zap.String("sell", sell.OrderID), zap.Error(err))
		e.recentlyMatched.SetDefault(cooldownKey, struct{}{})
		return false
	}
	e.recentlyMatched.SetDefault(cooldownKey, struct{}{})
	return settled
}

// selectCrossable returns the best bid and best ask for pair if they
// cross (spec §4.2): bid >= ask, or either side is a market order.
func (e *Engine) selectCrossable(pair domain.Pair) (buy, sell *domain.Order, ok bool) {
	buyLevels, sellLevels := e.model.OrderBook(pair)
	if len(buyLevels) == 0 || len(sellLevels) == 0 {
		return nil, nil, false
	}

	bestBuy := firstOrder(buyLevels)
	bestSell := firstOrder(sellLevels)
	if bestBuy == nil || bestSell == nil {
		return nil, nil, false
	}

	if bestBuy.IsMarket() || bestSell.IsMarket() {
		return bestBuy, bestSell, true
	}
	if bestBuy.Price == nil || bestSell.Price == nil {
		return nil, nil, false
	}
	if bestBuy.Price.GreaterThanOrEqual(*bestSell.Price) {
		return bestBuy, bestSell, true
	}
	return nil, nil, false
}

// rematchKey derives a fixed-size cooldown key from an order pair,
// independent of order-id length or encoding, so the cooldown cache's
// key space stays uniform regardless of the id generator in front of it.
func rematchKey(buyOrderID, sellOrderID string) string {
	h := blake2b.Sum256([]byte(buyOrderID + "|" + sellOrderID))
	return hex.EncodeToString(h[:16])
}

func firstOrder(levels []readmodel.BookLevel) *domain.Order {
	for _, lvl := range levels {
		if len(lvl.Orders) > 0 {
			return lvl.Orders[0]
		}
	}
	return nil
}

// MatchPrice resolves the maker-taker execution price for a crossed
// pair (spec Open Question, resolved in DESIGN.md): the sell-side
// price when both sides carry one, falling back to whichever side has
// a price when the other is a market order.
func MatchPrice(buy, sell *domain.Order) (price decimal.Decimal, ok bool) {
	switch {
	case sell.Price != nil:
		return *sell.Price, true
	case buy.Price != nil:
		return *buy.Price, true
	default:
		return decimal.Zero, false
	}
}
