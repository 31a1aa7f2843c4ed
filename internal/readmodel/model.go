// Package readmodel maintains an in-memory projection of ledger Order
// and Trade contracts, bootstrapped via a full streamed snapshot (the
// ledger's active-contract query caps at 200 rows, too few for a live
// book) and kept current by consuming the live update stream.
package readmodel

import (
	"sort"
	"sync"

	rbt "github.com/emirpasic/gods/v2/trees/redblacktree"
	"github.com/shopspring/decimal"

	"github.com/tradsys/clobcore/internal/domain"
)

// priceLevel holds every order resting at one price, oldest timestamp
// first; orders with equal timestamps keep their arrival order.
type priceLevel struct {
	price  decimal.Decimal
	orders []*domain.Order
}

func (l *priceLevel) insert(o *domain.Order) {
	i := sort.Search(len(l.orders), func(i int) bool { return l.orders[i].Timestamp.After(o.Timestamp) })
	l.orders = append(l.orders, nil)
	copy(l.orders[i+1:], l.orders[i:])
	l.orders[i] = o
}

func (l *priceLevel) remove(orderID string) bool {
	for i, o := range l.orders {
		if o.OrderID == orderID {
			l.orders = append(l.orders[:i], l.orders[i+1:]...)
			return true
		}
	}
	return false
}

// side is one sorted side of a pair's book: a red-black tree of price
// levels ordered best-price-first.
type side struct {
	tree *rbt.Tree[string, *priceLevel]
}

func decimalCompare(buy bool) func(a, b string) int {
	return func(a, b string) int {
		da, _ := decimal.NewFromString(a)
		db, _ := decimal.NewFromString(b)
		cmp := da.Cmp(db)
		if buy {
			return -cmp // highest price first for buys
		}
		return cmp // lowest price first for sells
	}
}

func newSide(buy bool) *side {
	return &side{tree: rbt.NewWith[string, *priceLevel](decimalCompare(buy))}
}

func (s *side) levelKey(price decimal.Decimal) string { return price.String() }

func (s *side) insert(o *domain.Order) {
	if o.Price == nil {
		return // market orders never rest in the book
	}
	key := s.levelKey(*o.Price)
	lvl, found := s.tree.Get(key)
	if !found {
		lvl = &priceLevel{price: *o.Price}
		s.tree.Put(key, lvl)
	}
	lvl.insert(o)
}

func (s *side) remove(o *domain.Order) {
	if o.Price == nil {
		return
	}
	key := s.levelKey(*o.Price)
	lvl, found := s.tree.Get(key)
	if !found {
		return
	}
	lvl.remove(o.OrderID)
	if len(lvl.orders) == 0 {
		s.tree.Remove(key)
	}
}

func (s *side) best() *priceLevel {
	node := s.tree.Left()
	if node == nil {
		return nil
	}
	return node.Value
}

func (s *side) snapshot() []priceLevel {
	out := make([]priceLevel, 0, s.tree.Size())
	it := s.tree.Iterator()
	for it.Next() {
		out = append(out, *it.Value())
	}
	return out
}

// book is the buy/sell side pair for one trading pair, plus the last
// observed trade price (the stop-loss trigger reference).
type book struct {
	buy, sell *side
	lastPrice decimal.Decimal
	hasPrice  bool
}

func newBook() *book {
	return &book{buy: newSide(true), sell: newSide(false)}
}

// Model is the live read-side projection. All access is guarded by a
// single RWMutex: update volume is far lower than matching-engine read
// volume, so a coarse lock favours read throughput.
type Model struct {
	mu sync.RWMutex

	byContract map[string]*domain.Order // contractId -> order
	byOwner    map[string]map[string]*domain.Order
	books      map[domain.Pair]*book

	stopRegs map[string]*domain.StopRegistration // contractId -> registration
}

// New creates an empty Model. Callers bootstrap it via Bootstrap before
// relying on its query surface.
func New() *Model {
	return &Model{
		byContract: make(map[string]*domain.Order),
		byOwner:    make(map[string]map[string]*domain.Order),
		books:      make(map[domain.Pair]*book),
		stopRegs:   make(map[string]*domain.StopRegistration),
	}
}

func (m *Model) bookFor(pair domain.Pair) *book {
	b, ok := m.books[pair]
	if !ok {
		b = newBook()
		m.books[pair] = b
	}
	return b
}

// upsertOrder inserts or replaces an order's index entries. Because
// contractId changes on every fill/trigger (spec §4.1), callers first
// remove the superseded contract id, then insert the new one; upsertOrder
// itself only adds.
func (m *Model) upsertOrder(o *domain.Order) {
	m.byContract[o.ContractID] = o

	ownerIdx, ok := m.byOwner[o.Owner]
	if !ok {
		ownerIdx = make(map[string]*domain.Order)
		m.byOwner[o.Owner] = ownerIdx
	}
	ownerIdx[o.OrderID] = o

	if o.Status == domain.StatusOpen || o.Status == domain.StatusPartiallyFilled {
		b := m.bookFor(o.Pair)
		switch o.Side {
		case domain.Buy:
			b.buy.insert(o)
		case domain.Sell:
			b.sell.insert(o)
		}
	}
}

// removeFromBook removes an order's resting presence from its pair's
// book only; the byContract and owner indexes are left to the caller.
func (m *Model) removeFromBook(o *domain.Order) {
	b, ok := m.books[o.Pair]
	if !ok {
		return
	}
	switch o.Side {
	case domain.Buy:
		b.buy.remove(o)
	case domain.Sell:
		b.sell.remove(o)
	}
}

// ApplyOrderCreated indexes a freshly observed Order contract.
func (m *Model) ApplyOrderCreated(o *domain.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertOrder(o)
}

// ApplyOrderArchived removes an archived contract's resting presence.
// The order object itself (if the caller already holds it) still
// reflects its last known state; Model keeps no tombstone.
func (m *Model) ApplyOrderArchived(contractID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byContract[contractID]
	if !ok {
		return
	}
	m.removeFromBook(o)
	delete(m.byContract, contractID)
	if ownerIdx, ok := m.byOwner[o.Owner]; ok {
		delete(ownerIdx, o.OrderID)
	}
}

// ApplyTrade updates the last-trade price used by stop-loss triggers.
func (m *Model) ApplyTrade(t *lastTrade) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.bookFor(t.pair)
	b.lastPrice = t.price
	b.hasPrice = true
}

// ApplyStopRegistrationCreated indexes a pending stop-loss registration.
func (m *Model) ApplyStopRegistrationCreated(r *domain.StopRegistration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopRegs[r.OrderContractID] = r
}

// ApplyStopRegistrationArchived removes a triggered or cancelled registration.
func (m *Model) ApplyStopRegistrationArchived(contractID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stopRegs, contractID)
}

// OrderByContract looks up an order by its current contract id.
func (m *Model) OrderByContract(contractID string) (*domain.Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.byContract[contractID]
	return o, ok
}

// FindByOwnerAndOrderID looks up a resting order by its stable orderId
// within one owner's index, used by cancellation (which only knows the
// orderId the client was given, not the current contractId).
func (m *Model) FindByOwnerAndOrderID(owner, orderID string) (*domain.Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.byOwner[owner]
	if !ok {
		return nil, false
	}
	o, ok := idx[orderID]
	return o, ok
}

// OpenOrdersForOwner returns every order currently indexed for owner
// (resting or pending trigger), oldest timestamp first.
func (m *Model) OpenOrdersForOwner(owner string) []*domain.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.byOwner[owner]
	if !ok {
		return nil
	}
	out := make([]*domain.Order, 0, len(idx))
	for _, o := range idx {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// BookLevel is a price and the resting orders at it, oldest first.
type BookLevel struct {
	Price  decimal.Decimal
	Orders []*domain.Order
}

// OrderBook returns a depth snapshot for pair: buy levels best-first,
// sell levels best-first.
func (m *Model) OrderBook(pair domain.Pair) (buy []BookLevel, sell []BookLevel) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[pair]
	if !ok {
		return nil, nil
	}
	for _, lvl := range b.buy.snapshot() {
		buy = append(buy, BookLevel{Price: lvl.price, Orders: append([]*domain.Order(nil), lvl.orders...)})
	}
	for _, lvl := range b.sell.snapshot() {
		sell = append(sell, BookLevel{Price: lvl.price, Orders: append([]*domain.Order(nil), lvl.orders...)})
	}
	return buy, sell
}

// BestBid returns the best resting buy price for pair, if any.
func (m *Model) BestBid(pair domain.Pair) (decimal.Decimal, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[pair]
	if !ok {
		return decimal.Zero, false
	}
	lvl := b.buy.best()
	if lvl == nil {
		return decimal.Zero, false
	}
	return lvl.price, true
}

// BestAsk returns the best resting sell price for pair, if any.
func (m *Model) BestAsk(pair domain.Pair) (decimal.Decimal, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[pair]
	if !ok {
		return decimal.Zero, false
	}
	lvl := b.sell.best()
	if lvl == nil {
		return decimal.Zero, false
	}
	return lvl.price, true
}

// LastTradePrice returns the most recent trade price observed for pair.
func (m *Model) LastTradePrice(pair domain.Pair) (decimal.Decimal, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[pair]
	if !ok || !b.hasPrice {
		return decimal.Zero, false
	}
	return b.lastPrice, true
}

// PendingStopRegistrations returns every stop-loss registration still
// awaiting its trigger condition.
func (m *Model) PendingStopRegistrations() []*domain.StopRegistration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.StopRegistration, 0, len(m.stopRegs))
	for _, r := range m.stopRegs {
		out = append(out, r)
	}
	return out
}

// Pairs returns every trading pair with at least one indexed book,
// used by the matching engine to enumerate cycle targets.
func (m *Model) Pairs() []domain.Pair {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Pair, 0, len(m.books))
	for p := range m.books {
		out = append(out, p)
	}
	return out
}
