// Package errors defines the structured error taxonomy the engine uses in
// place of status-code and substring matching: every error the core returns
// carries one of a fixed set of kinds, so callers can branch on Code rather
// than on message text.
package errors

import (
	"fmt"
	"runtime"
	"time"
)

// Code identifies the kind of an EngineError, not a specific occurrence.
type Code string

const (
	// Validation covers malformed or out-of-range inputs. Never retried.
	Validation Code = "VALIDATION"
	// AuthorizationExpired is returned when the ledger rejects a request as
	// unauthorized (HTTP 401/403 in restdriver). The adapters keep no token
	// cache and do not retry the request themselves.
	AuthorizationExpired Code = "AUTHORIZATION_EXPIRED"
	// LedgerConflict is an optimistic-concurrency failure on a contract
	// that changed since it was read. Settlement also returns it when the
	// buy-side fill finds the order contract gone; neither Settlement nor
	// the matching loop retries it.
	LedgerConflict Code = "LEDGER_CONFLICT"
	// ContractNotFound means a referenced contract is no longer active.
	ContractNotFound Code = "CONTRACT_NOT_FOUND"
	// Transport covers timeout, network, and unparseable-response failures.
	Transport Code = "TRANSPORT"
	// RegistryAlreadyInFlight signals a concurrent or recently completed
	// duplicate of the same logical operation, rejected by dedupe.Registry.
	RegistryAlreadyInFlight Code = "REGISTRY_ALREADY_IN_FLIGHT"
	// PartialSettlement is an internal signal, never returned to callers:
	// one allocation leg of a settlement succeeded and the other did not.
	PartialSettlement Code = "PARTIAL_SETTLEMENT"
	// Configuration marks missing or invalid startup configuration.
	Configuration Code = "CONFIGURATION"
	// Throttled signals a party exceeded its submission rate; distinct
	// from RegistryAlreadyInFlight because it is not about duplicate
	// detection, only volume.
	Throttled Code = "THROTTLED"
)

// EngineError is the structured error type returned across the core.
type EngineError struct {
	Code      Code
	Message   string
	Details   map[string]interface{}
	Timestamp time.Time
	File      string
	Line      int
	Cause     error
}

func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// WithDetail attaches a key/value pair for operator-facing diagnostics. It
// never ends up in the user-visible message.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates an EngineError of the given kind.
func New(code Code, message string) *EngineError {
	_, file, line, _ := runtime.Caller(1)
	return &EngineError{Code: code, Message: message, Timestamp: time.Now(), File: file, Line: line}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(code Code, format string, args ...interface{}) *EngineError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches a kind to an existing error without discarding it.
func Wrap(err error, code Code, message string) *EngineError {
	if err == nil {
		return nil
	}
	_, file, line, _ := runtime.Caller(1)
	return &EngineError{Code: code, Message: message, Timestamp: time.Now(), File: file, Line: line, Cause: err}
}

// Wrapf is Wrap with fmt.Sprintf-style formatting.
func Wrapf(err error, code Code, format string, args ...interface{}) *EngineError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// Is reports whether err (or anything it wraps) carries the given Code.
func Is(err error, code Code) bool {
	var ee *EngineError
	if As(err, &ee) {
		return ee.Code == code
	}
	return false
}

// As walks err's Unwrap chain looking for an *EngineError.
func As(err error, target *(*EngineError)) bool {
	if err == nil {
		return false
	}
	if ee, ok := err.(*EngineError); ok {
		*target = ee
		return true
	}
	if u, ok := err.(interface{ Unwrap() error }); ok {
		return As(u.Unwrap(), target)
	}
	return false
}

// Retryable reports whether the error kind is defined (§7) as locally
// retryable by its caller's own policy, as opposed to always surfaced.
func Retryable(code Code) bool {
	switch code {
	case LedgerConflict, Transport, RegistryAlreadyInFlight, AuthorizationExpired, Throttled:
		return true
	default:
		return false
	}
}
