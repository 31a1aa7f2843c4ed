// Package restdriver is an Adapter implementation for a ledger that
// exposes a JSON REST API (command submission, active-contract queries
// paginated at 200, and a long-poll updates endpoint). It wraps resty
// with retry, a circuit breaker, response caching for balance reads, and
// rate limiting, the same way a production exchange REST client does.
package restdriver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	commonerrors "github.com/tradsys/clobcore/internal/common/errors"
	"github.com/tradsys/clobcore/internal/ledger"
)

// Client is a REST-backed ledger.Adapter.
type Client struct {
	http   *resty.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	balCache *cache.Cache
	logger  *zap.Logger
	timeouts ledger.Timeouts
}

// Config configures a Client.
type Config struct {
	BaseURL       string
	RequestsPerSecond float64
	Burst         int
	Timeouts      ledger.Timeouts
}

// NewClient builds a Client with retry on 5xx/transport errors, a
// circuit breaker tripping after repeated failures, and a short-lived
// balance cache so hot-path reservation checks don't hammer the ledger.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeouts == (ledger.Timeouts{}) {
		cfg.Timeouts = ledger.DefaultTimeouts()
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 50
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 20
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeouts.Write).
		SetRetryCount(3).
		SetRetryWaitTime(250 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ledger-rest",
		MaxRequests: 5,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 10 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
	})

	return &Client{
		http:     httpClient,
		breaker:  breaker,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		balCache: cache.New(2*time.Second, 10*time.Second),
		logger:   logger,
		timeouts: cfg.Timeouts,
	}
}

var _ ledger.Adapter = (*Client)(nil)
var _ ledger.BalanceReader = (*Client)(nil)

type commandRequest struct {
	ActAs      []string               `json:"actAs"`
	ReadAs     []string               `json:"readAs"`
	TemplateID string                 `json:"templateId"`
	ContractID string                 `json:"contractId,omitempty"`
	Choice     string                 `json:"choice,omitempty"`
	Argument   map[string]interface{} `json:"argument"`
}

type contractWire struct {
	ContractID string                 `json:"contractId"`
	TemplateID string                 `json:"templateId"`
	Payload    map[string]interface{} `json:"payload"`
}

type transactionWire struct {
	TransactionID string         `json:"transactionId"`
	Created       []contractWire `json:"created"`
	Archived      []string       `json:"archived"`
}

func (w transactionWire) toResult() ledger.TransactionResult {
	created := make([]ledger.ContractEntry, len(w.Created))
	for i, c := range w.Created {
		created[i] = ledger.ContractEntry{ContractID: c.ContractID, TemplateID: ledger.TemplateID(c.TemplateID), Payload: c.Payload}
	}
	return ledger.TransactionResult{TransactionID: w.TransactionID, Created: created, Archived: w.Archived}
}

// SubmitCommand implements ledger.Adapter over POST /v1/commands.
func (c *Client) SubmitCommand(ctx context.Context, actAs, readAs []string, cmd ledger.Command) (ledger.TransactionResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return ledger.TransactionResult{}, commonerrors.Wrap(err, commonerrors.Transport, "restdriver: rate limit wait")
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		req := commandRequest{
			ActAs:      actAs,
			ReadAs:     readAs,
			TemplateID: string(cmd.TemplateID),
			ContractID: cmd.ContractID,
			Choice:     cmd.Choice,
			Argument:   cmd.Argument,
		}
		var wire transactionWire
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(req).
			SetResult(&wire).
			Post("/v1/commands")
		if err != nil {
			return nil, fmt.Errorf("submit command: %w", err)
		}
		if err := statusToError(resp); err != nil {
			return nil, err
		}
		return wire, nil
	})
	if err != nil {
		return ledger.TransactionResult{}, wrapTransportErr(err)
	}
	return result.(transactionWire).toResult(), nil
}

// QueryActive implements ledger.Adapter over GET /v1/contracts/active,
// the ledger's own hard 200-element page cap (the reason ReadModel
// bootstraps by streaming instead).
func (c *Client) QueryActive(ctx context.Context, party string, templates []ledger.TemplateID, pageSize int) ([]ledger.ContractEntry, error) {
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 200
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, commonerrors.Wrap(err, commonerrors.Transport, "restdriver: rate limit wait")
	}

	var out struct {
		Contracts []contractWire `json:"contracts"`
	}
	req := c.http.R().SetContext(ctx).SetQueryParam("party", party).SetQueryParam("pageSize", fmt.Sprint(pageSize)).SetResult(&out)
	for _, t := range templates {
		req.SetQueryParam("template", string(t))
	}
	resp, err := req.Get("/v1/contracts/active")
	if err != nil {
		return nil, commonerrors.Wrap(err, commonerrors.Transport, "restdriver: query active")
	}
	if err := statusToError(resp); err != nil {
		return nil, err
	}
	entries := make([]ledger.ContractEntry, len(out.Contracts))
	for i, c := range out.Contracts {
		entries[i] = ledger.ContractEntry{ContractID: c.ContractID, TemplateID: ledger.TemplateID(c.TemplateID), Payload: c.Payload}
	}
	return entries, nil
}

// StreamActiveAtOffset drains the bootstrap snapshot endpoint page by
// page until it reports no further pages, closing the channel when done.
func (c *Client) StreamActiveAtOffset(ctx context.Context, offset ledger.Offset, templates []ledger.TemplateID) (<-chan ledger.ContractEntry, <-chan error) {
	out := make(chan ledger.ContractEntry, 256)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		cursor := ""
		for {
			var page struct {
				Contracts  []contractWire `json:"contracts"`
				NextCursor string         `json:"nextCursor"`
			}
			req := c.http.R().SetContext(ctx).
				SetQueryParam("offset", string(offset)).
				SetQueryParam("cursor", cursor).
				SetResult(&page)
			for _, t := range templates {
				req.SetQueryParam("template", string(t))
			}
			resp, err := req.Get("/v1/contracts/snapshot")
			if err != nil {
				select {
				case errc <- commonerrors.Wrap(err, commonerrors.Transport, "restdriver: snapshot page"):
				case <-ctx.Done():
				}
				return
			}
			if err := statusToError(resp); err != nil {
				select {
				case errc <- err:
				case <-ctx.Done():
				}
				return
			}
			for _, ct := range page.Contracts {
				select {
				case out <- ledger.ContractEntry{ContractID: ct.ContractID, TemplateID: ledger.TemplateID(ct.TemplateID), Payload: ct.Payload}:
				case <-ctx.Done():
					return
				}
			}
			if page.NextCursor == "" {
				return
			}
			cursor = page.NextCursor
		}
	}()

	return out, errc
}

// StreamUpdates long-polls /v1/contracts/updates with exponential
// backoff on failure and reconnects transparently, resuming from the
// last offset actually delivered.
func (c *Client) StreamUpdates(ctx context.Context, fromOffset ledger.Offset, templates []ledger.TemplateID) (<-chan ledger.Event, <-chan error) {
	out := make(chan ledger.Event, 256)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		cursor := fromOffset
		backoff := time.Second
		const maxBackoff = 30 * time.Second

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			var page struct {
				Events     []eventWire `json:"events"`
				NextOffset string      `json:"nextOffset"`
			}
			req := c.http.R().SetContext(ctx).
				SetQueryParam("fromOffset", string(cursor)).
				SetResult(&page)
			for _, t := range templates {
				req.SetQueryParam("template", string(t))
			}
			resp, err := req.Get("/v1/contracts/updates")
			if err != nil || statusToError(resp) != nil {
				c.logger.Warn("restdriver: updates poll failed, backing off", zap.Duration("backoff", backoff), zap.Error(err))
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return
				}
				if backoff < maxBackoff {
					backoff *= 2
				}
				continue
			}
			backoff = time.Second

			for _, ev := range page.Events {
				e := ledger.Event{
					Archived: ev.Archived,
					Offset:   ledger.Offset(ev.Offset),
					Contract: ledger.ContractEntry{ContractID: ev.Contract.ContractID, TemplateID: ledger.TemplateID(ev.Contract.TemplateID), Payload: ev.Contract.Payload},
				}
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
			}
			if page.NextOffset != "" {
				cursor = ledger.Offset(page.NextOffset)
			}
		}
	}()

	return out, errc
}

type eventWire struct {
	Archived bool         `json:"archived"`
	Offset   string       `json:"offset"`
	Contract contractWire `json:"contract"`
}

// ExecuteAllocation implements ledger.Adapter over POST /v1/allocations/{ref}/execute.
func (c *Client) ExecuteAllocation(ctx context.Context, allocationRef, executor, ownerHint string) (ledger.TransactionResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return ledger.TransactionResult{}, commonerrors.Wrap(err, commonerrors.Transport, "restdriver: rate limit wait")
	}
	var wire transactionWire
	resp, err := c.http.R().SetContext(ctx).
		SetBody(map[string]string{"executor": executor, "ownerHint": ownerHint}).
		SetResult(&wire).
		Post("/v1/allocations/" + allocationRef + "/execute")
	if err != nil {
		return ledger.TransactionResult{}, commonerrors.Wrap(err, commonerrors.Transport, "restdriver: execute allocation")
	}
	if err := statusToError(resp); err != nil {
		return ledger.TransactionResult{}, err
	}
	return wire.toResult(), nil
}

// WithdrawAllocation implements ledger.Adapter over POST /v1/allocations/{ref}/withdraw.
func (c *Client) WithdrawAllocation(ctx context.Context, allocationRef, owner string) (ledger.TransactionResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return ledger.TransactionResult{}, commonerrors.Wrap(err, commonerrors.Transport, "restdriver: rate limit wait")
	}
	var wire transactionWire
	resp, err := c.http.R().SetContext(ctx).
		SetBody(map[string]string{"owner": owner}).
		SetResult(&wire).
		Post("/v1/allocations/" + allocationRef + "/withdraw")
	if err != nil {
		return ledger.TransactionResult{}, commonerrors.Wrap(err, commonerrors.Transport, "restdriver: withdraw allocation")
	}
	if err := statusToError(resp); err != nil {
		return ledger.TransactionResult{}, err
	}
	return wire.toResult(), nil
}

// GetLedgerEnd implements ledger.Adapter over GET /v1/ledger-end.
func (c *Client) GetLedgerEnd(ctx context.Context) (ledger.Offset, error) {
	var out struct {
		Offset string `json:"offset"`
	}
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Get("/v1/ledger-end")
	if err != nil {
		return "", commonerrors.Wrap(err, commonerrors.Transport, "restdriver: ledger end")
	}
	if err := statusToError(resp); err != nil {
		return "", err
	}
	return ledger.Offset(out.Offset), nil
}

// AvailableBalance implements ledger.BalanceReader, caching results
// briefly so repeated reservation checks in a hot matching cycle don't
// each round-trip the ledger.
func (c *Client) AvailableBalance(ctx context.Context, party, asset string) (decimal.Decimal, error) {
	key := party + "|" + asset
	if v, ok := c.balCache.Get(key); ok {
		return v.(decimal.Decimal), nil
	}

	readCtx, cancel := context.WithTimeout(ctx, c.timeouts.BalanceRead)
	defer cancel()

	var out struct {
		Available string `json:"available"`
	}
	resp, err := c.http.R().SetContext(readCtx).
		SetQueryParam("party", party).
		SetQueryParam("asset", asset).
		SetResult(&out).
		Get("/v1/balances")
	if err != nil {
		return decimal.Zero, commonerrors.Wrap(err, commonerrors.Transport, "restdriver: available balance")
	}
	if err := statusToError(resp); err != nil {
		return decimal.Zero, err
	}
	d, err := decimal.NewFromString(out.Available)
	if err != nil {
		return decimal.Zero, commonerrors.Wrap(err, commonerrors.Transport, "restdriver: parse balance")
	}
	c.balCache.Set(key, d, cache.DefaultExpiration)
	return d, nil
}

func statusToError(resp *resty.Response) error {
	if resp == nil {
		return commonerrors.New(commonerrors.Transport, "restdriver: nil response")
	}
	switch resp.StatusCode() {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		return nil
	case http.StatusNotFound:
		return commonerrors.New(commonerrors.ContractNotFound, "restdriver: "+resp.String())
	case http.StatusConflict:
		return commonerrors.New(commonerrors.LedgerConflict, "restdriver: "+resp.String())
	case http.StatusUnauthorized, http.StatusForbidden:
		return commonerrors.New(commonerrors.AuthorizationExpired, "restdriver: "+resp.String())
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return commonerrors.New(commonerrors.Validation, "restdriver: "+resp.String())
	default:
		return commonerrors.Newf(commonerrors.Transport, "restdriver: unexpected status %d: %s", resp.StatusCode(), resp.String())
	}
}

func wrapTransportErr(err error) error {
	var ee *commonerrors.EngineError
	if commonerrors.As(err, &ee) {
		return ee
	}
	if _, ok := err.(interface{ Unwrap() error }); ok {
		var inner error
		if u, ok := err.(interface{ Unwrap() error }); ok {
			inner = u.Unwrap()
		}
		if commonerrors.As(inner, &ee) {
			return ee
		}
	}
	return commonerrors.Wrap(err, commonerrors.Transport, "restdriver: circuit breaker")
}

// marshalArgument converts v into a Command.Argument map through a JSON
// round trip, so decimal fields end up as strings on the wire, the same
// convention localdriver reads. Nothing in the package calls it.
func marshalArgument(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
