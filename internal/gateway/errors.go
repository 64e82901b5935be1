package gateway

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a broker failure so callers can branch on the
// category instead of parsing messages
type ErrorKind string

const (
	KindTransient         ErrorKind = "TRANSIENT"          // Network/5xx, safe to retry
	KindAuthExpired       ErrorKind = "AUTH_EXPIRED"       // Session token no longer valid
	KindRateLimited       ErrorKind = "RATE_LIMITED"       // Upstream throttled us
	KindRejected          ErrorKind = "REJECTED"           // Broker refused the order
	KindInconsistentState ErrorKind = "INCONSISTENT_STATE" // Broker state disagrees with ours
	KindUnresolvedSymbol  ErrorKind = "UNRESOLVED_SYMBOL"  // Logical name maps to no instrument
)

// TradeError is the structured failure crossing every component boundary.
// Callers switch on Kind; Message is for logs and operators.
type TradeError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *TradeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *TradeError) Unwrap() error {
	return e.Err
}

// NewTradeError builds a TradeError with an optional wrapped cause
func NewTradeError(kind ErrorKind, message string, cause error) *TradeError {
	return &TradeError{Kind: kind, Message: message, Err: cause}
}

// KindOf extracts the error kind, defaulting to Transient for plain errors
func KindOf(err error) ErrorKind {
	var te *TradeError
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindTransient
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind ErrorKind) bool {
	var te *TradeError
	if errors.As(err, &te) {
		return te.Kind == kind
	}
	return false
}
