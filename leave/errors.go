/*
errors.go - Centralized error types for the leave engine

TAXONOMY:
  1. Business rule errors - bad date range, overlap, limit exceeded,
     insufficient balance, illegal lifecycle transition
  2. Not-found errors   - employee / leave type / balance / request absent
  3. Authorization errors - caller is not the request's manager

Structured errors carry a machine-readable Code plus typed parameters so
callers can render messages without string-parsing. Each Unwrap()s to a
sentinel for errors.Is checks.
*/
package leave

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Machine-readable codes carried by structured errors and surfaced to API
// callers.
const (
	CodeInvalidDateRange    = "INVALID_DATE_RANGE"
	CodeOverlapDetected     = "OVERLAP_DETECTED"
	CodeLimitExceeded       = "LIMIT_EXCEEDED"
	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	CodeBalanceNotFound     = "BALANCE_NOT_FOUND"
	CodeNotFound            = "NOT_FOUND"
	CodeNoManagerAssigned   = "NO_MANAGER_ASSIGNED"
	CodeNotRequestManager   = "NOT_REQUEST_MANAGER"
	CodeInvalidTransition   = "INVALID_STATUS_TRANSITION"
	CodeInternal            = "INTERNAL_ERROR"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidDateRange is returned when dates are missing or inverted.
	ErrInvalidDateRange = errors.New("invalid date range")

	// ErrOverlapDetected is returned when a candidate request intersects an
	// existing PENDING or APPROVED request of the same employee.
	ErrOverlapDetected = errors.New("overlapping leave detected")

	// ErrLimitExceeded is returned when a periodic ceiling would be breached.
	ErrLimitExceeded = errors.New("leave limit exceeded")

	// ErrInsufficientBalance is returned when requested days exceed the
	// closing balance.
	ErrInsufficientBalance = errors.New("insufficient leave balance")

	// ErrBalanceNotFound is returned when no ledger row exists for the
	// (employee, leave type, year) the request draws from.
	ErrBalanceNotFound = errors.New("leave balance not found")

	ErrEmployeeNotFound  = errors.New("employee not found")
	ErrLeaveTypeNotFound = errors.New("leave type not found")
	ErrRequestNotFound   = errors.New("leave request not found")

	// ErrNoManagerAssigned is returned when the requester has no manager on
	// file, so nobody can approve.
	ErrNoManagerAssigned = errors.New("employee has no manager assigned")

	// ErrNotRequestManager is returned when the acting manager id does not
	// match the request's recorded manager.
	ErrNotRequestManager = errors.New("caller is not the request's manager")

	// ErrInvalidTransition is returned on an illegal lifecycle transition.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// =============================================================================
// STRUCTURED ERRORS - Carry typed parameters
// =============================================================================

// DateRangeError reports a malformed request span.
type DateRangeError struct {
	Reason string
}

func (e *DateRangeError) Error() string { return fmt.Sprintf("invalid date range: %s", e.Reason) }
func (e *DateRangeError) Unwrap() error { return ErrInvalidDateRange }
func (e *DateRangeError) Code() string  { return CodeInvalidDateRange }

// OverlapError identifies the existing request that blocks the candidate.
type OverlapError struct {
	ExistingID string
	Start      time.Time
	End        time.Time
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("overlapping leave detected: request %s covers %s..%s",
		e.ExistingID, e.Start.Format("2006-01-02"), e.End.Format("2006-01-02"))
}
func (e *OverlapError) Unwrap() error { return ErrOverlapDetected }
func (e *OverlapError) Code() string  { return CodeOverlapDetected }

// LimitExceededError reports which periodic ceiling would be breached.
type LimitExceededError struct {
	Period    string // "month", "quarter" or "year"
	Limit     int
	Used      decimal.Decimal
	Requested decimal.Decimal
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("%s limit exceeded: limit %d, used %s, requested %s",
		e.Period, e.Limit, e.Used, e.Requested)
}
func (e *LimitExceededError) Unwrap() error { return ErrLimitExceeded }
func (e *LimitExceededError) Code() string  { return CodeLimitExceeded }

// InsufficientBalanceError reports a balance shortage against a ledger row.
type InsufficientBalanceError struct {
	Key       BalanceKey
	Available int
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: available %d, requested %s",
		e.Key, e.Available, e.Requested)
}
func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }
func (e *InsufficientBalanceError) Code() string  { return CodeInsufficientBalance }

// TransitionError reports an illegal lifecycle transition.
type TransitionError struct {
	RequestID string
	From      RequestStatus
	To        RequestStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("request %s: cannot transition %s -> %s", e.RequestID, e.From, e.To)
}
func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
func (e *TransitionError) Code() string  { return CodeInvalidTransition }

// =============================================================================
// CLASSIFIERS - Map errors to caller-facing categories
// =============================================================================

// IsBusinessRule reports a well-formed request that a business rule refuses.
// A bad date range counts: malformed values are rejected at the parsing edge,
// so a range that reaches the engine is a rule violation, not a shape error.
func IsBusinessRule(err error) bool {
	return errors.Is(err, ErrInvalidDateRange) ||
		errors.Is(err, ErrOverlapDetected) ||
		errors.Is(err, ErrLimitExceeded) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidTransition)
}

// IsNotFound reports a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBalanceNotFound) ||
		errors.Is(err, ErrEmployeeNotFound) ||
		errors.Is(err, ErrLeaveTypeNotFound) ||
		errors.Is(err, ErrRequestNotFound)
}

// IsUnauthorized reports an authorization failure, distinct from validation
// so callers can map it to a different response code.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrNoManagerAssigned) ||
		errors.Is(err, ErrNotRequestManager)
}

// ErrorCode returns the machine-readable code for an error.
func ErrorCode(err error) string {
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	switch {
	case errors.Is(err, ErrBalanceNotFound):
		return CodeBalanceNotFound
	case IsNotFound(err):
		return CodeNotFound
	case errors.Is(err, ErrNoManagerAssigned):
		return CodeNoManagerAssigned
	case errors.Is(err, ErrNotRequestManager):
		return CodeNotRequestManager
	case errors.Is(err, ErrInsufficientBalance):
		return CodeInsufficientBalance
	case errors.Is(err, ErrOverlapDetected):
		return CodeOverlapDetected
	case errors.Is(err, ErrLimitExceeded):
		return CodeLimitExceeded
	case errors.Is(err, ErrInvalidDateRange):
		return CodeInvalidDateRange
	case errors.Is(err, ErrInvalidTransition):
		return CodeInvalidTransition
	default:
		return CodeInternal
	}
}
