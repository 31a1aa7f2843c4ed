package orders

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	validator "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/tradsys/clobcore/internal/domain"
)

var pairPattern = regexp.MustCompile(`^[A-Z0-9]{2,10}/[A-Z0-9]{2,10}$`)

// PlaceOrderRequest is the inbound shape OrderService.Place validates
// before ever constructing a domain.Order.
type PlaceOrderRequest struct {
	Owner           string          `json:"owner" validate:"required"`
	Pair            string          `json:"pair" validate:"required,symbol"`
	Side            domain.Side     `json:"side" validate:"required,oneof=BUY SELL"`
	Mode            domain.Mode     `json:"mode" validate:"required,oneof=LIMIT MARKET STOP_LOSS"`
	Price           *decimal.Decimal `json:"price,omitempty"`
	StopPrice       *decimal.Decimal `json:"stopPrice,omitempty"`
	Quantity        decimal.Decimal `json:"quantity" validate:"required"`
	ClientRequestID string          `json:"clientRequestId,omitempty"`
}

// requestValidator wraps go-playground/validator the way the teacher's
// own internal/validation.Validator does: struct tags plus a small set
// of domain-specific custom validators and friendlier error text.
type requestValidator struct {
	v *validator.Validate
}

func newRequestValidator() *requestValidator {
	v := validator.New()
	v.RegisterValidation("symbol", func(fl validator.FieldLevel) bool {
		return pairPattern.MatchString(fl.Field().String())
	})
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &requestValidator{v: v}
}

func (r *requestValidator) validate(req PlaceOrderRequest) error {
	if err := r.v.Struct(req); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			msgs := make([]string, 0, len(verrs))
			for _, e := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", e.Field(), e.Tag()))
			}
			return fmt.Errorf("%s", strings.Join(msgs, "; "))
		}
		return err
	}

	if !req.Quantity.IsPositive() {
		return fmt.Errorf("quantity must be positive")
	}

	switch req.Mode {
	case domain.Limit:
		if req.Price == nil || !req.Price.IsPositive() {
			return fmt.Errorf("price must be positive for a limit order")
		}
	case domain.Market:
		if req.Price != nil {
			return fmt.Errorf("market order must not carry a price")
		}
	case domain.StopLoss:
		if req.StopPrice == nil || !req.StopPrice.IsPositive() {
			return fmt.Errorf("stopPrice must be positive for a stop-loss order")
		}
	}

	return nil
}
