/*
store.go - Persistence interfaces for the leave engine

PURPOSE:
  Defines the contract between the domain services and the database. A single
  Store implementation (store/sqlite) satisfies all of these; tests use the
  same implementation against an in-memory database.

TRANSACTIONS:
  TxStore.WithTx runs a function against a transactional view of the store.
  Approval couples the balance deduction and the request's status flip in one
  such transaction; if either write fails, neither is applied.
*/
package leave

import (
	"context"
	"time"
)

// BalanceStore persists ledger rows. Rows are keyed by
// (employee, leave type, year) and are upserted, never deleted.
type BalanceStore interface {
	// Balance returns the row for key, or ErrBalanceNotFound.
	Balance(ctx context.Context, key BalanceKey) (*LeaveBalance, error)

	// PutBalance inserts or updates a row by its key.
	PutBalance(ctx context.Context, b *LeaveBalance) error

	// BalancesByType returns every row for a leave type and year.
	BalancesByType(ctx context.Context, leaveTypeID string, year int) ([]LeaveBalance, error)
}

// RequestStore persists leave requests and answers the history queries the
// rule engine needs.
type RequestStore interface {
	// Request returns a request by id, or ErrRequestNotFound.
	Request(ctx context.Context, id string) (*LeaveRequest, error)

	// PutRequest inserts or updates a request by id.
	PutRequest(ctx context.Context, r *LeaveRequest) error

	// ActiveRequests returns the employee's PENDING and APPROVED requests
	// whose inclusive interval intersects [from, to].
	ActiveRequests(ctx context.Context, employeeID string, from, to time.Time) ([]LeaveRequest, error)

	// RequestsInPeriod returns the employee's requests of one leave type
	// whose StartDate falls in [from, to], excluding REJECTED and CANCELLED.
	RequestsInPeriod(ctx context.Context, employeeID, leaveTypeID string, from, to time.Time) ([]LeaveRequest, error)

	// PendingRequests returns PENDING requests assigned to a manager.
	// An empty managerID returns all pending requests.
	PendingRequests(ctx context.Context, managerID string) ([]LeaveRequest, error)

	// RequestsByEmployee returns all of an employee's requests, newest first.
	RequestsByEmployee(ctx context.Context, employeeID string) ([]LeaveRequest, error)
}

// LeaveTypeStore persists leave type definitions.
type LeaveTypeStore interface {
	// LeaveType returns a leave type by id, or ErrLeaveTypeNotFound.
	LeaveType(ctx context.Context, id string) (*LeaveType, error)

	// PutLeaveType inserts or updates a leave type by id.
	PutLeaveType(ctx context.Context, lt *LeaveType) error

	// LeaveTypes returns all leave types.
	LeaveTypes(ctx context.Context) ([]LeaveType, error)
}

// EmployeeDirectory resolves employees by id. The engine treats the directory
// as an opaque capability; manager references are compared, never traversed.
type EmployeeDirectory interface {
	// FindByID returns an employee, or ErrEmployeeNotFound.
	FindByID(ctx context.Context, id string) (*Employee, error)
}

// EmployeeStore extends the directory with writes for the bundled
// store-backed implementation.
type EmployeeStore interface {
	EmployeeDirectory

	PutEmployee(ctx context.Context, e *Employee) error
	Employees(ctx context.Context) ([]Employee, error)
}

// Job names recorded in run records.
const (
	JobAccrual      = "accrual"
	JobCarryForward = "carry_forward"
)

// JobRun records one completed batch job for a (type, period), both as the
// idempotency guard against re-crediting and for the admin surface. Month is
// zero for carry-forward runs.
type JobRun struct {
	ID          string
	Job         string
	LeaveTypeID string
	Year        int
	Month       int
	Status      string
	Detail      string
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// RunStore persists job run records.
type RunStore interface {
	// HasJobRun reports whether a completed run exists for the period.
	HasJobRun(ctx context.Context, job, leaveTypeID string, year, month int) (bool, error)

	// RecordJobRun inserts a run record. Fails if a record for the same
	// (job, leave type, year, month) already exists.
	RecordJobRun(ctx context.Context, run JobRun) error

	// JobRuns returns the most recent run records, newest first.
	JobRuns(ctx context.Context, limit int) ([]JobRun, error)
}

// Store bundles every persistence concern of the engine.
type Store interface {
	BalanceStore
	RequestStore
	LeaveTypeStore
	EmployeeStore
	RunStore
}

// TxStore adds transactional execution.
type TxStore interface {
	Store

	// WithTx executes fn against a transactional store view. If fn returns
	// an error the transaction is rolled back, otherwise committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
