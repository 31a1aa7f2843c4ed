// Package orders implements order placement and cancellation: request
// validation, idempotent submission, soft balance reservation, and
// ledger command construction (spec §4.4). It never matches orders
// itself; that is the MatchingEngine's job against the same ledger
// state this package writes.
package orders

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	commonerrors "github.com/tradsys/clobcore/internal/common/errors"
	"github.com/tradsys/clobcore/internal/balance"
	"github.com/tradsys/clobcore/internal/common/idgen"
	"github.com/tradsys/clobcore/internal/common/money"
	"github.com/tradsys/clobcore/internal/dedupe"
	"github.com/tradsys/clobcore/internal/domain"
	"github.com/tradsys/clobcore/internal/ledger"
	"github.com/tradsys/clobcore/internal/metrics"
	"github.com/tradsys/clobcore/internal/readmodel"
)

// Service places and cancels orders on behalf of a party.
type Service struct {
	adapter   ledger.Adapter
	model     *readmodel.Model
	reserver  *balance.Reserver
	registry  *dedupe.Registry
	validator *requestValidator
	metrics   *metrics.EngineMetrics
	logger    *zap.Logger
}

// New builds an order Service. metrics may be nil.
func New(adapter ledger.Adapter, model *readmodel.Model, reserver *balance.Reserver, registry *dedupe.Registry, m *metrics.EngineMetrics, logger *zap.Logger) *Service {
	return &Service{
		adapter:   adapter,
		model:     model,
		reserver:  reserver,
		registry:  registry,
		validator: newRequestValidator(),
		metrics:   m,
		logger:    logger,
	}
}

// Place validates, reserves, and submits a new order. It returns the
// order as created on the ledger; the read-model projection of it
// arrives asynchronously via the live update stream.
func (s *Service) Place(ctx context.Context, req PlaceOrderRequest) (*domain.Order, error) {
	if err := s.validator.validate(req); err != nil {
		if s.metrics != nil {
			s.metrics.OrderRejected(string(commonerrors.Validation))
		}
		return nil, commonerrors.Wrap(err, commonerrors.Validation, "orders: invalid request")
	}

	if err := s.registry.Begin(req.Owner, req.ClientRequestID); err != nil {
		if s.metrics != nil {
			s.metrics.OrderRejected(codeOf(err))
		}
		return nil, err
	}
	defer s.registry.Finish(req.Owner, req.ClientRequestID)

	pair, err := domain.ParsePair(req.Pair)
	if err != nil {
		return nil, commonerrors.Wrap(err, commonerrors.Validation, "orders: invalid pair")
	}

	orderID := idgen.NewOrderID()
	now := time.Now()

	status := domain.StatusOpen
	if req.Mode == domain.StopLoss {
		status = domain.StatusPendingTrigger
	}

	if err := s.reserveFor(req, pair, orderID); err != nil {
		return nil, err
	}

	argument := map[string]interface{}{
		"orderId":   orderID,
		"owner":     req.Owner,
		"pair":      pair.String(),
		"side":      string(req.Side),
		"mode":      string(req.Mode),
		"quantity":  req.Quantity.String(),
		"filled":    decimal.Zero.String(),
		"status":    string(status),
		"timestamp": now.Format(time.RFC3339Nano),
	}
	if req.Price != nil {
		argument["price"] = req.Price.String()
	}
	if req.StopPrice != nil {
		argument["stopPrice"] = req.StopPrice.String()
	}

	result, err := s.adapter.SubmitCommand(ctx, []string{req.Owner}, nil, ledger.Command{
		TemplateID: ledger.TemplateOrder,
		Argument:   argument,
	})
	if err != nil {
		s.releaseReservation(req, pair)
		return nil, err
	}
	if len(result.Created) == 0 {
		s.releaseReservation(req, pair)
		return nil, commonerrors.New(commonerrors.Transport, "orders: submit produced no contract")
	}

	created := result.Created[0]
	order := &domain.Order{
		OrderID:    orderID,
		ContractID: created.ContractID,
		Owner:      req.Owner,
		Pair:       pair,
		Side:       req.Side,
		Mode:       req.Mode,
		Price:      req.Price,
		StopPrice:  req.StopPrice,
		Quantity:   req.Quantity,
		Filled:     decimal.Zero,
		Status:     status,
		Timestamp:  now,
	}
	if s.metrics != nil {
		s.metrics.OrderPlaced(pair.String(), string(req.Side))
	}
	return order, nil
}

func codeOf(err error) string {
	var ee *commonerrors.EngineError
	if commonerrors.As(err, &ee) {
		return string(ee.Code)
	}
	return "UNKNOWN"
}

// reserveFor places a soft reservation sized to the order's worst-case
// settlement obligation. Buy orders without a price (market buys) get
// no reservation: the balance check for them is necessarily deferred
// to settlement time. Sell orders reserve their base quantity whatever
// their mode.
func (s *Service) reserveFor(req PlaceOrderRequest, pair domain.Pair, orderID string) error {
	asset, amount, ok := reservationFor(req, pair)
	if !ok {
		return nil
	}
	available, err := s.availableBalance(req.Owner, asset)
	if err != nil {
		s.logger.Warn("orders: balance check unavailable, proceeding optimistically", zap.Error(err))
		return nil
	}
	return s.reserver.Reserve(req.Owner, asset, amount, available.Add(s.reserver.Reserved(req.Owner, asset)))
}

func (s *Service) releaseReservation(req PlaceOrderRequest, pair domain.Pair) {
	asset, amount, ok := reservationFor(req, pair)
	if !ok {
		return
	}
	s.reserver.Release(req.Owner, asset, amount)
}

func reservationFor(req PlaceOrderRequest, pair domain.Pair) (asset string, amount decimal.Decimal, ok bool) {
	switch req.Side {
	case domain.Buy:
		if req.Price == nil {
			return "", decimal.Zero, false
		}
		return pair.Quote, money.Mul(*req.Price, req.Quantity), true
	case domain.Sell:
		return pair.Base, req.Quantity, true
	default:
		return "", decimal.Zero, false
	}
}

func (s *Service) availableBalance(party, asset string) (decimal.Decimal, error) {
	reader, ok := s.adapter.(ledger.BalanceReader)
	if !ok {
		return decimal.Decimal{}, commonerrors.New(commonerrors.Transport, "orders: adapter has no balance reader")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return reader.AvailableBalance(ctx, party, asset)
}

// Cancel archives an open or pending-trigger order and releases its
// outstanding reservation.
func (s *Service) Cancel(ctx context.Context, owner, orderID string) error {
	order, ok := s.model.FindByOwnerAndOrderID(owner, orderID)
	if !ok {
		return commonerrors.New(commonerrors.ContractNotFound, "orders: no open order "+orderID)
	}

	_, err := s.adapter.SubmitCommand(ctx, []string{owner}, nil, ledger.Command{
		TemplateID: ledger.TemplateOrder,
		ContractID: order.ContractID,
		Choice:     "CancelOrder",
		Argument:   map[string]interface{}{},
	})
	if err != nil {
		return err
	}

	remaining := order.Remaining()
	switch order.Side {
	case domain.Buy:
		if order.Price != nil {
			s.reserver.Release(owner, order.Pair.Quote, money.Mul(*order.Price, remaining))
		}
	case domain.Sell:
		s.reserver.Release(owner, order.Pair.Base, remaining)
	}
	if s.metrics != nil {
		s.metrics.OrderCancelled(order.Pair.String())
	}
	return nil
}

// OpenOrders returns every resting order for owner.
func (s *Service) OpenOrders(owner string) []*domain.Order {
	return s.model.OpenOrdersForOwner(owner)
}
