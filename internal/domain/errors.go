package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnknownAsset          = errors.New("unknown asset")
	ErrNegativeBalance       = errors.New("negative balance not allowed")
	ErrVenueNotConfigured    = errors.New("venue not configured")
	ErrUnresolvedPrice       = errors.New("unresolved price")
	ErrStaleData             = errors.New("stale data")
	ErrMissingRiskParams     = errors.New("missing venue risk params")
	ErrDegenerateDenominator = errors.New("degenerate denominator")
	ErrOutcomeUnknown        = errors.New("execution outcome unknown")
	ErrNonMonotonicTick      = errors.New("non-monotonic tick timestamp")
	ErrSequenceRegression    = errors.New("event sequence regression")
	ErrNotFound              = errors.New("not found")
	ErrLockHeld              = errors.New("lock already held")
	ErrFeedClosed            = errors.New("feed closed")
)

// ErrorCode is a stable operator-facing code attached to fatal errors so
// "bad data" can be distinguished from "bug in a formula" without parsing
// messages.
type ErrorCode string

const (
	CodeUnknownAsset          ErrorCode = "POS-001"
	CodeNegativeBalance       ErrorCode = "POS-002"
	CodeVenueNotConfigured    ErrorCode = "POS-003"
	CodeUnresolvedPrice       ErrorCode = "DATA-001"
	CodeStaleData             ErrorCode = "DATA-002"
	CodeNonMonotonicTick      ErrorCode = "DATA-003"
	CodeMissingRiskParams     ErrorCode = "CFG-001"
	CodeDegenerateDenominator ErrorCode = "RISK-001"
	CodeOutcomeUnknown        ErrorCode = "EXEC-001"
)

// TickError is a fatal per-tick error. It always names the offending entity
// (venue, asset, tick timestamp) alongside the stable code.
type TickError struct {
	Code      ErrorCode
	Venue     string
	Asset     string
	Timestamp time.Time
	Err       error
}

func (e *TickError) Error() string {
	msg := fmt.Sprintf("[%s]", e.Code)
	if e.Venue != "" {
		msg += " venue=" + e.Venue
	}
	if e.Asset != "" {
		msg += " asset=" + e.Asset
	}
	if !e.Timestamp.IsZero() {
		msg += " ts=" + e.Timestamp.UTC().Format(time.RFC3339)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TickError) Unwrap() error { return e.Err }

// NewTickError builds a TickError for the given entity.
func NewTickError(code ErrorCode, venue, asset string, ts time.Time, err error) *TickError {
	return &TickError{Code: code, Venue: venue, Asset: asset, Timestamp: ts, Err: err}
}
