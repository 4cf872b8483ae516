/*
Package leave implements the leave request and balance ledger engine.

PURPOSE:
  This package contains the domain types and services for deciding whether a
  requested absence is legal, deducting and restoring per-employee balances,
  and periodically mutating every balance row through accrual and
  carry-forward.

KEY CONCEPTS IN THIS FILE (types.go):
  - LeaveType: organization-scoped absence category with its limits
  - LeaveBalance: per (employee, leave type, year) ledger row
  - LeaveRequest: one absence request and its lifecycle state
  - Employee: the shape resolved from the external directory

INVARIANTS:
  1. Closing == Opening + Earned - Used after every balance mutation
  2. Used never goes negative and never exceeds Opening+Earned after a
     successful deduction
  3. Request state transitions flow PENDING -> {APPROVED, REJECTED, CANCELLED}
     only; terminal states never transition again

SEE ALSO:
  - ledger.go: balance arithmetic and per-key serialization
  - rules.go: validation over candidate requests
  - request.go: request lifecycle orchestration
  - accrual.go: monthly accrual and yearly carry-forward jobs
*/
package leave

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEAVE TYPE - Absence category with limits and accrual policy
// =============================================================================

// LeaveType is an organization-scoped absence category, e.g. "Casual" or
// "Sick". A zero limit means no ceiling for that period.
type LeaveType struct {
	ID              string
	Name            string
	AnnualLimit     int
	MonthlyLimit    int
	QuarterlyLimit  int
	EarnedLeave     bool // accrues monthly instead of being granted upfront
	CarryForward    bool
	MaxCarryForward int // cap on days carried into the next year; 0 = uncapped
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// =============================================================================
// LEAVE BALANCE - Per (employee, leave type, year) ledger row
// =============================================================================

// BalanceKey uniquely identifies a balance row.
type BalanceKey struct {
	EmployeeID  string
	LeaveTypeID string
	Year        int
}

func (k BalanceKey) String() string {
	return fmt.Sprintf("%s/%s/%d", k.EmployeeID, k.LeaveTypeID, k.Year)
}

// LeaveBalance tracks opening, earned, used and closing day counts for one
// employee, leave type and year. Rows are created lazily and never deleted,
// only superseded by the next year's row.
type LeaveBalance struct {
	EmployeeID  string
	LeaveTypeID string
	Year        int
	Opening     int
	Earned      int
	Used        int
	Closing     int
	UpdatedAt   time.Time
}

func (b *LeaveBalance) Key() BalanceKey {
	return BalanceKey{EmployeeID: b.EmployeeID, LeaveTypeID: b.LeaveTypeID, Year: b.Year}
}

// Recompute re-derives Closing from the other three fields. Every mutation
// must call this before persisting.
func (b *LeaveBalance) Recompute() {
	b.Closing = b.Opening + b.Earned - b.Used
}

// =============================================================================
// LEAVE REQUEST - One absence request
// =============================================================================

type RequestStatus string

const (
	StatusPending   RequestStatus = "PENDING"
	StatusApproved  RequestStatus = "APPROVED"
	StatusRejected  RequestStatus = "REJECTED"
	StatusCancelled RequestStatus = "CANCELLED"
)

// Terminal reports whether a status admits no further transition. APPROVED is
// not terminal: an approved request can still be cancelled.
func (s RequestStatus) Terminal() bool {
	return s == StatusRejected || s == StatusCancelled
}

// LeaveRequest is an absence request. StartDate and EndDate are inclusive.
// TotalDays is the declared day count (half days allowed); zero means the
// requester declared nothing and the computed working-day count applies.
type LeaveRequest struct {
	ID             string
	EmployeeID     string
	LeaveTypeID    string
	ManagerID      string
	StartDate      time.Time
	EndDate        time.Time
	TotalDays      decimal.Decimal
	Status         RequestStatus
	ManagerComment string
	ApprovedAt     *time.Time
	RejectedAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// WorkingDays returns the computed working-day count of the request span.
func (r *LeaveRequest) WorkingDays() int {
	return WorkingDays(r.StartDate, r.EndDate)
}

// RequestedDays is the declared day count when present, otherwise the
// computed working-day count. Used for limit and balance checks.
func (r *LeaveRequest) RequestedDays() decimal.Decimal {
	if r.TotalDays.IsPositive() {
		return r.TotalDays
	}
	return decimal.NewFromInt(int64(r.WorkingDays()))
}

// Overlaps reports whether the request's inclusive interval intersects
// [start, end].
func (r *LeaveRequest) Overlaps(start, end time.Time) bool {
	return !r.StartDate.After(end) && !r.EndDate.Before(start)
}

// BalanceKey is the ledger row the request draws from: the year containing
// its start date.
func (r *LeaveRequest) BalanceKey() BalanceKey {
	return BalanceKey{EmployeeID: r.EmployeeID, LeaveTypeID: r.LeaveTypeID, Year: r.StartDate.Year()}
}

// =============================================================================
// EMPLOYEE - External directory shape
// =============================================================================

// Employee is the shape resolved from the external directory. ManagerID is an
// opaque reference back into the directory; it may form cycles and is only
// ever compared, never traversed.
type Employee struct {
	ID        string
	ManagerID string
	Email     string
	FullName  string
}
