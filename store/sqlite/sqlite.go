/*
Package sqlite provides the SQLite-backed implementation of the leave
engine's storage interfaces.

PURPOSE:
  One Store implements every persistence contract in the leave package
  (balances, requests, leave types, employees, job runs) plus WithTx. In
  production the same patterns apply to PostgreSQL - only minor SQL dialect
  differences.

KEY TABLES:
  leave_balances:  per (employee, leave type, year) ledger rows
  leave_requests:  request records and lifecycle state
  leave_types:     category definitions and limits
  employees:       directory records backing EmployeeDirectory
  job_runs:        accrual / carry-forward run records

INDEXES:
  - idx_requests_employee_dates: overlap scans (hot path)
  - idx_requests_manager_status: manager approval queues
  - idx_job_runs_unique: one run per (job, type, period); the scheduler
    idempotency guard

CONCURRENCY:
  Opened in WAL mode. A RWMutex guards the connection; callbacks inside
  WithTx read and write through the open *sql.Tx and never re-acquire the
  mutex.

USAGE:
  store, err := sqlite.New("./data/leave.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/leave"
)

const (
	dateFormat = "2006-01-02"
	timeFormat = time.RFC3339
)

// Store implements leave.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// dbtx is satisfied by both *sql.DB and *sql.Tx; the query helpers take it
// so the same code serves plain and transactional calls.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a store with the given database path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent across the
	// pool and sidesteps SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS leave_types (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		annual_limit INTEGER NOT NULL DEFAULT 0,
		monthly_limit INTEGER NOT NULL DEFAULT 0,
		quarterly_limit INTEGER NOT NULL DEFAULT 0,
		earned_leave INTEGER NOT NULL DEFAULT 0,
		carry_forward INTEGER NOT NULL DEFAULT 0,
		max_carry_forward INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		manager_id TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		full_name TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS leave_balances (
		employee_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		opening INTEGER NOT NULL DEFAULT 0,
		earned INTEGER NOT NULL DEFAULT 0,
		used INTEGER NOT NULL DEFAULT 0,
		closing INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (employee_id, leave_type_id, year)
	);

	CREATE INDEX IF NOT EXISTS idx_balances_type_year
		ON leave_balances(leave_type_id, year);

	CREATE TABLE IF NOT EXISTS leave_requests (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		manager_id TEXT NOT NULL DEFAULT '',
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		total_days TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL DEFAULT 'PENDING',
		manager_comment TEXT NOT NULL DEFAULT '',
		approved_at TEXT,
		rejected_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_requests_employee_status
		ON leave_requests(employee_id, status);
	CREATE INDEX IF NOT EXISTS idx_requests_employee_dates
		ON leave_requests(employee_id, start_date, end_date);
	CREATE INDEX IF NOT EXISTS idx_requests_manager_status
		ON leave_requests(manager_id, status);

	CREATE TABLE IF NOT EXISTS job_runs (
		id TEXT PRIMARY KEY,
		job TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_job_runs_unique
		ON job_runs(job, leave_type_id, year, month);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// BALANCE STORE (leave.BalanceStore interface)
// =============================================================================

func (s *Store) Balance(ctx context.Context, key leave.BalanceKey) (*leave.LeaveBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return balance(ctx, s.db, key)
}

func balance(ctx context.Context, db dbtx, key leave.BalanceKey) (*leave.LeaveBalance, error) {
	row := db.QueryRowContext(ctx, `
		SELECT employee_id, leave_type_id, year, opening, earned, used, closing, updated_at
		FROM leave_balances
		WHERE employee_id = ? AND leave_type_id = ? AND year = ?
	`, key.EmployeeID, key.LeaveTypeID, key.Year)

	b, err := scanBalance(row)
	if err == sql.ErrNoRows {
		return nil, leave.ErrBalanceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load balance %s: %w", key, err)
	}
	return b, nil
}

func (s *Store) PutBalance(ctx context.Context, b *leave.LeaveBalance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putBalance(ctx, s.db, b)
}

func putBalance(ctx context.Context, db dbtx, b *leave.LeaveBalance) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO leave_balances (employee_id, leave_type_id, year, opening, earned, used, closing, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(employee_id, leave_type_id, year) DO UPDATE SET
			opening = excluded.opening,
			earned = excluded.earned,
			used = excluded.used,
			closing = excluded.closing,
			updated_at = excluded.updated_at
	`, b.EmployeeID, b.LeaveTypeID, b.Year, b.Opening, b.Earned, b.Used, b.Closing,
		b.UpdatedAt.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("failed to put balance %s: %w", b.Key(), err)
	}
	return nil
}

func (s *Store) BalancesByType(ctx context.Context, leaveTypeID string, year int) ([]leave.LeaveBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return balancesByType(ctx, s.db, leaveTypeID, year)
}

func balancesByType(ctx context.Context, db dbtx, leaveTypeID string, year int) ([]leave.LeaveBalance, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT employee_id, leave_type_id, year, opening, earned, used, closing, updated_at
		FROM leave_balances
		WHERE leave_type_id = ? AND year = ?
		ORDER BY employee_id ASC
	`, leaveTypeID, year)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	defer rows.Close()

	var out []leave.LeaveBalance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBalance(row scanner) (*leave.LeaveBalance, error) {
	var b leave.LeaveBalance
	var updatedAt string
	err := row.Scan(&b.EmployeeID, &b.LeaveTypeID, &b.Year,
		&b.Opening, &b.Earned, &b.Used, &b.Closing, &updatedAt)
	if err != nil {
		return nil, err
	}
	b.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)
	return &b, nil
}

// =============================================================================
// REQUEST STORE (leave.RequestStore interface)
// =============================================================================

const requestColumns = `id, employee_id, leave_type_id, manager_id, start_date, end_date,
	total_days, status, manager_comment, approved_at, rejected_at, created_at, updated_at`

func (s *Store) Request(ctx context.Context, id string) (*leave.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return request(ctx, s.db, id)
}

func request(ctx context.Context, db dbtx, id string) (*leave.LeaveRequest, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM leave_requests WHERE id = ?`, id)
	r, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, leave.ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load request %s: %w", id, err)
	}
	return r, nil
}

func (s *Store) PutRequest(ctx context.Context, r *leave.LeaveRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putRequest(ctx, s.db, r)
}

func putRequest(ctx context.Context, db dbtx, r *leave.LeaveRequest) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO leave_requests
		(id, employee_id, leave_type_id, manager_id, start_date, end_date,
		 total_days, status, manager_comment, approved_at, rejected_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			employee_id = excluded.employee_id,
			leave_type_id = excluded.leave_type_id,
			manager_id = excluded.manager_id,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			total_days = excluded.total_days,
			status = excluded.status,
			manager_comment = excluded.manager_comment,
			approved_at = excluded.approved_at,
			rejected_at = excluded.rejected_at,
			updated_at = excluded.updated_at
	`, r.ID, r.EmployeeID, r.LeaveTypeID, r.ManagerID,
		r.StartDate.Format(dateFormat), r.EndDate.Format(dateFormat),
		r.TotalDays.String(), string(r.Status), r.ManagerComment,
		nullTime(r.ApprovedAt), nullTime(r.RejectedAt),
		r.CreatedAt.UTC().Format(timeFormat), r.UpdatedAt.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("failed to put request %s: %w", r.ID, err)
	}
	return nil
}

func (s *Store) ActiveRequests(ctx context.Context, employeeID string, from, to time.Time) ([]leave.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return activeRequests(ctx, s.db, employeeID, from, to)
}

func activeRequests(ctx context.Context, db dbtx, employeeID string, from, to time.Time) ([]leave.LeaveRequest, error) {
	// Inclusive intersection: existing.start <= to AND existing.end >= from.
	return queryRequests(ctx, db, `
		SELECT `+requestColumns+`
		FROM leave_requests
		WHERE employee_id = ? AND status IN ('PENDING', 'APPROVED')
		  AND start_date <= ? AND end_date >= ?
		ORDER BY start_date ASC
	`, employeeID, to.Format(dateFormat), from.Format(dateFormat))
}

func (s *Store) RequestsInPeriod(ctx context.Context, employeeID, leaveTypeID string, from, to time.Time) ([]leave.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return requestsInPeriod(ctx, s.db, employeeID, leaveTypeID, from, to)
}

func requestsInPeriod(ctx context.Context, db dbtx, employeeID, leaveTypeID string, from, to time.Time) ([]leave.LeaveRequest, error) {
	return queryRequests(ctx, db, `
		SELECT `+requestColumns+`
		FROM leave_requests
		WHERE employee_id = ? AND leave_type_id = ?
		  AND status NOT IN ('REJECTED', 'CANCELLED')
		  AND start_date >= ? AND start_date <= ?
		ORDER BY start_date ASC
	`, employeeID, leaveTypeID, from.Format(dateFormat), to.Format(dateFormat))
}

func (s *Store) PendingRequests(ctx context.Context, managerID string) ([]leave.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return pendingRequests(ctx, s.db, managerID)
}

func pendingRequests(ctx context.Context, db dbtx, managerID string) ([]leave.LeaveRequest, error) {
	if managerID == "" {
		return queryRequests(ctx, db, `
			SELECT `+requestColumns+`
			FROM leave_requests WHERE status = 'PENDING'
			ORDER BY created_at ASC
		`)
	}
	return queryRequests(ctx, db, `
		SELECT `+requestColumns+`
		FROM leave_requests WHERE status = 'PENDING' AND manager_id = ?
		ORDER BY created_at ASC
	`, managerID)
}

func (s *Store) RequestsByEmployee(ctx context.Context, employeeID string) ([]leave.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return requestsByEmployee(ctx, s.db, employeeID)
}

func requestsByEmployee(ctx context.Context, db dbtx, employeeID string) ([]leave.LeaveRequest, error) {
	return queryRequests(ctx, db, `
		SELECT `+requestColumns+`
		FROM leave_requests WHERE employee_id = ?
		ORDER BY created_at DESC
	`, employeeID)
}

func queryRequests(ctx context.Context, db dbtx, query string, args ...any) ([]leave.LeaveRequest, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	var out []leave.LeaveRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanRequest(row scanner) (*leave.LeaveRequest, error) {
	var (
		r          leave.LeaveRequest
		startDate  string
		endDate    string
		totalDays  string
		status     string
		approvedAt sql.NullString
		rejectedAt sql.NullString
		createdAt  string
		updatedAt  string
	)
	err := row.Scan(&r.ID, &r.EmployeeID, &r.LeaveTypeID, &r.ManagerID,
		&startDate, &endDate, &totalDays, &status, &r.ManagerComment,
		&approvedAt, &rejectedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	r.StartDate, _ = time.Parse(dateFormat, startDate)
	r.EndDate, _ = time.Parse(dateFormat, endDate)
	r.TotalDays, _ = decimal.NewFromString(totalDays)
	r.Status = leave.RequestStatus(status)
	r.ApprovedAt = parseNullTime(approvedAt)
	r.RejectedAt = parseNullTime(rejectedAt)
	r.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	r.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)
	return &r, nil
}

// =============================================================================
// LEAVE TYPE STORE (leave.LeaveTypeStore interface)
// =============================================================================

func (s *Store) LeaveType(ctx context.Context, id string) (*leave.LeaveType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return leaveType(ctx, s.db, id)
}

func leaveType(ctx context.Context, db dbtx, id string) (*leave.LeaveType, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, name, annual_limit, monthly_limit, quarterly_limit,
		       earned_leave, carry_forward, max_carry_forward, created_at, updated_at
		FROM leave_types WHERE id = ?
	`, id)
	lt, err := scanLeaveType(row)
	if err == sql.ErrNoRows {
		return nil, leave.ErrLeaveTypeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load leave type %s: %w", id, err)
	}
	return lt, nil
}

func (s *Store) PutLeaveType(ctx context.Context, lt *leave.LeaveType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putLeaveType(ctx, s.db, lt)
}

func putLeaveType(ctx context.Context, db dbtx, lt *leave.LeaveType) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO leave_types
		(id, name, annual_limit, monthly_limit, quarterly_limit,
		 earned_leave, carry_forward, max_carry_forward, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			annual_limit = excluded.annual_limit,
			monthly_limit = excluded.monthly_limit,
			quarterly_limit = excluded.quarterly_limit,
			earned_leave = excluded.earned_leave,
			carry_forward = excluded.carry_forward,
			max_carry_forward = excluded.max_carry_forward,
			updated_at = excluded.updated_at
	`, lt.ID, lt.Name, lt.AnnualLimit, lt.MonthlyLimit, lt.QuarterlyLimit,
		boolInt(lt.EarnedLeave), boolInt(lt.CarryForward), lt.MaxCarryForward,
		lt.CreatedAt.UTC().Format(timeFormat), lt.UpdatedAt.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("failed to put leave type %s: %w", lt.ID, err)
	}
	return nil
}

func (s *Store) LeaveTypes(ctx context.Context) ([]leave.LeaveType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return leaveTypes(ctx, s.db)
}

func leaveTypes(ctx context.Context, db dbtx) ([]leave.LeaveType, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, name, annual_limit, monthly_limit, quarterly_limit,
		       earned_leave, carry_forward, max_carry_forward, created_at, updated_at
		FROM leave_types ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query leave types: %w", err)
	}
	defer rows.Close()

	var out []leave.LeaveType
	for rows.Next() {
		lt, err := scanLeaveType(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *lt)
	}
	return out, rows.Err()
}

func scanLeaveType(row scanner) (*leave.LeaveType, error) {
	var (
		lt           leave.LeaveType
		earnedLeave  int
		carryForward int
		createdAt    string
		updatedAt    string
	)
	err := row.Scan(&lt.ID, &lt.Name, &lt.AnnualLimit, &lt.MonthlyLimit, &lt.QuarterlyLimit,
		&earnedLeave, &carryForward, &lt.MaxCarryForward, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	lt.EarnedLeave = earnedLeave != 0
	lt.CarryForward = carryForward != 0
	lt.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	lt.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)
	return &lt, nil
}

// =============================================================================
// EMPLOYEE STORE (leave.EmployeeStore interface)
// =============================================================================

func (s *Store) FindByID(ctx context.Context, id string) (*leave.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findEmployee(ctx, s.db, id)
}

func findEmployee(ctx context.Context, db dbtx, id string) (*leave.Employee, error) {
	var e leave.Employee
	err := db.QueryRowContext(ctx, `
		SELECT id, manager_id, email, full_name FROM employees WHERE id = ?
	`, id).Scan(&e.ID, &e.ManagerID, &e.Email, &e.FullName)
	if err == sql.ErrNoRows {
		return nil, leave.ErrEmployeeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load employee %s: %w", id, err)
	}
	return &e, nil
}

func (s *Store) PutEmployee(ctx context.Context, e *leave.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putEmployee(ctx, s.db, e)
}

func putEmployee(ctx context.Context, db dbtx, e *leave.Employee) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO employees (id, manager_id, email, full_name, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			manager_id = excluded.manager_id,
			email = excluded.email,
			full_name = excluded.full_name
	`, e.ID, e.ManagerID, e.Email, e.FullName, time.Now().UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("failed to put employee %s: %w", e.ID, err)
	}
	return nil
}

func (s *Store) Employees(ctx context.Context) ([]leave.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return employees(ctx, s.db)
}

func employees(ctx context.Context, db dbtx) ([]leave.Employee, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, manager_id, email, full_name FROM employees ORDER BY full_name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query employees: %w", err)
	}
	defer rows.Close()

	var out []leave.Employee
	for rows.Next() {
		var e leave.Employee
		if err := rows.Scan(&e.ID, &e.ManagerID, &e.Email, &e.FullName); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// RUN STORE (leave.RunStore interface)
// =============================================================================

func (s *Store) HasJobRun(ctx context.Context, job, leaveTypeID string, year, month int) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return hasJobRun(ctx, s.db, job, leaveTypeID, year, month)
}

func hasJobRun(ctx context.Context, db dbtx, job, leaveTypeID string, year, month int) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM job_runs
		WHERE job = ? AND leave_type_id = ? AND year = ? AND month = ? AND status = 'completed'
	`, job, leaveTypeID, year, month).Scan(&count)
	return count > 0, err
}

func (s *Store) RecordJobRun(ctx context.Context, run leave.JobRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return recordJobRun(ctx, s.db, run)
}

func recordJobRun(ctx context.Context, db dbtx, run leave.JobRun) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO job_runs (id, job, leave_type_id, year, month, status, detail, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Job, run.LeaveTypeID, run.Year, run.Month,
		run.Status, run.Detail, run.Error,
		run.StartedAt.UTC().Format(timeFormat), nullTime(run.CompletedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("job run already recorded for %s/%s %d-%02d: %w",
				run.Job, run.LeaveTypeID, run.Year, run.Month, err)
		}
		return fmt.Errorf("failed to record job run: %w", err)
	}
	return nil
}

func (s *Store) JobRuns(ctx context.Context, limit int) ([]leave.JobRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return jobRuns(ctx, s.db, limit)
}

func jobRuns(ctx context.Context, db dbtx, limit int) ([]leave.JobRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, job, leave_type_id, year, month, status, detail, error, started_at, completed_at
		FROM job_runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query job runs: %w", err)
	}
	defer rows.Close()

	var out []leave.JobRun
	for rows.Next() {
		var (
			run         leave.JobRun
			startedAt   string
			completedAt sql.NullString
		)
		err := rows.Scan(&run.ID, &run.Job, &run.LeaveTypeID, &run.Year, &run.Month,
			&run.Status, &run.Detail, &run.Error, &startedAt, &completedAt)
		if err != nil {
			return nil, err
		}
		run.StartedAt, _ = time.Parse(timeFormat, startedAt)
		run.CompletedAt = parseNullTime(completedAt)
		out = append(out, run)
	}
	return out, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (leave.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. The store mutex is held
// for the duration; the transactional view reads and writes through the open
// *sql.Tx without re-locking.
func (s *Store) WithTx(ctx context.Context, fn func(leave.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore is the transactional view handed to WithTx callbacks.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) Balance(ctx context.Context, key leave.BalanceKey) (*leave.LeaveBalance, error) {
	return balance(ctx, ts.tx, key)
}

func (ts *txStore) PutBalance(ctx context.Context, b *leave.LeaveBalance) error {
	return putBalance(ctx, ts.tx, b)
}

func (ts *txStore) BalancesByType(ctx context.Context, leaveTypeID string, year int) ([]leave.LeaveBalance, error) {
	return balancesByType(ctx, ts.tx, leaveTypeID, year)
}

func (ts *txStore) Request(ctx context.Context, id string) (*leave.LeaveRequest, error) {
	return request(ctx, ts.tx, id)
}

func (ts *txStore) PutRequest(ctx context.Context, r *leave.LeaveRequest) error {
	return putRequest(ctx, ts.tx, r)
}

func (ts *txStore) ActiveRequests(ctx context.Context, employeeID string, from, to time.Time) ([]leave.LeaveRequest, error) {
	return activeRequests(ctx, ts.tx, employeeID, from, to)
}

func (ts *txStore) RequestsInPeriod(ctx context.Context, employeeID, leaveTypeID string, from, to time.Time) ([]leave.LeaveRequest, error) {
	return requestsInPeriod(ctx, ts.tx, employeeID, leaveTypeID, from, to)
}

func (ts *txStore) PendingRequests(ctx context.Context, managerID string) ([]leave.LeaveRequest, error) {
	return pendingRequests(ctx, ts.tx, managerID)
}

func (ts *txStore) RequestsByEmployee(ctx context.Context, employeeID string) ([]leave.LeaveRequest, error) {
	return requestsByEmployee(ctx, ts.tx, employeeID)
}

func (ts *txStore) LeaveType(ctx context.Context, id string) (*leave.LeaveType, error) {
	return leaveType(ctx, ts.tx, id)
}

func (ts *txStore) PutLeaveType(ctx context.Context, lt *leave.LeaveType) error {
	return putLeaveType(ctx, ts.tx, lt)
}

func (ts *txStore) LeaveTypes(ctx context.Context) ([]leave.LeaveType, error) {
	return leaveTypes(ctx, ts.tx)
}

func (ts *txStore) FindByID(ctx context.Context, id string) (*leave.Employee, error) {
	return findEmployee(ctx, ts.tx, id)
}

func (ts *txStore) PutEmployee(ctx context.Context, e *leave.Employee) error {
	return putEmployee(ctx, ts.tx, e)
}

func (ts *txStore) Employees(ctx context.Context) ([]leave.Employee, error) {
	return employees(ctx, ts.tx)
}

func (ts *txStore) HasJobRun(ctx context.Context, job, leaveTypeID string, year, month int) (bool, error) {
	return hasJobRun(ctx, ts.tx, job, leaveTypeID, year, month)
}

func (ts *txStore) RecordJobRun(ctx context.Context, run leave.JobRun) error {
	return recordJobRun(ctx, ts.tx, run)
}

func (ts *txStore) JobRuns(ctx context.Context, limit int) ([]leave.JobRun, error) {
	return jobRuns(ctx, ts.tx, limit)
}

// =============================================================================
// HELPERS
// =============================================================================

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeFormat)
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(timeFormat, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
