/*
ledger.go - Balance ledger arithmetic and per-key serialization

PURPOSE:
  BalanceLedger owns every mutation of LeaveBalance rows: deduction on
  approval, restoration on cancellation, monthly accrual and yearly
  carry-forward. It has no knowledge of requests.

CONCURRENCY:
  Two managers (or a manager and a scheduler) may act on the same
  (employee, leave type, year) row concurrently. Single-row mutations take a
  per-key mutex before the read-modify-write, so two concurrent deductions
  never both observe sufficient balance. The lock is the ledger's own
  guarantee; it does not rely on the isolation level of any specific store.
  Bulk mutations (accrue, carry-forward) run inside one store transaction.

INVARIANTS (checked by tests):
  - Closing == Opening + Earned - Used after every mutation
  - Used >= 0; Restore floors at zero rather than going negative
  - A deduction that would push Used past Opening+Earned fails with
    InsufficientBalanceError and leaves the row untouched
*/
package leave

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// BalanceLedger mediates all LeaveBalance mutations.
type BalanceLedger struct {
	store TxStore

	mu    sync.Mutex
	locks map[BalanceKey]*sync.Mutex

	clock func() time.Time
}

func NewBalanceLedger(store TxStore) *BalanceLedger {
	return &BalanceLedger{
		store: store,
		locks: make(map[BalanceKey]*sync.Mutex),
		clock: time.Now,
	}
}

// keyLock returns the mutex serializing mutations of one ledger row.
func (l *BalanceLedger) keyLock(key BalanceKey) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	return m
}

// Locked runs fn while holding the key's mutex. The request lifecycle uses
// this to couple a deduction with the request's status flip in one
// transaction under the same lock.
func (l *BalanceLedger) Locked(key BalanceKey, fn func() error) error {
	m := l.keyLock(key)
	m.Lock()
	defer m.Unlock()
	return fn()
}

// Balance returns the ledger row for key, or ErrBalanceNotFound.
func (l *BalanceLedger) Balance(ctx context.Context, key BalanceKey) (*LeaveBalance, error) {
	return l.store.Balance(ctx, key)
}

// Init creates the row for key with an opening grant if it does not exist.
// Existing rows are returned unchanged; initialization never re-grants.
func (l *BalanceLedger) Init(ctx context.Context, key BalanceKey, opening int) (*LeaveBalance, error) {
	if opening < 0 {
		return nil, fmt.Errorf("opening balance must be non-negative, got %d", opening)
	}
	var out *LeaveBalance
	err := l.Locked(key, func() error {
		existing, err := l.store.Balance(ctx, key)
		if err == nil {
			out = existing
			return nil
		}
		if !errors.Is(err, ErrBalanceNotFound) {
			return err
		}
		b := &LeaveBalance{
			EmployeeID:  key.EmployeeID,
			LeaveTypeID: key.LeaveTypeID,
			Year:        key.Year,
			Opening:     opening,
			UpdatedAt:   l.clock(),
		}
		b.Recompute()
		if err := l.store.PutBalance(ctx, b); err != nil {
			return err
		}
		out = b
		return nil
	})
	return out, err
}

// Deduct increments Used by days and recomputes Closing. Fails with
// InsufficientBalanceError when days exceed the closing balance at call time.
func (l *BalanceLedger) Deduct(ctx context.Context, key BalanceKey, days int) (*LeaveBalance, error) {
	var out *LeaveBalance
	err := l.Locked(key, func() error {
		return l.store.WithTx(ctx, func(tx Store) error {
			b, err := l.DeductWithin(ctx, tx, key, days)
			if err != nil {
				return err
			}
			out = b
			return nil
		})
	})
	return out, err
}

// DeductWithin applies a deduction through the given store view. Callers that
// combine the deduction with other writes in one transaction use this and
// must hold the key's lock via Locked.
func (l *BalanceLedger) DeductWithin(ctx context.Context, s Store, key BalanceKey, days int) (*LeaveBalance, error) {
	if days <= 0 {
		return nil, fmt.Errorf("deduction must be positive, got %d", days)
	}
	b, err := s.Balance(ctx, key)
	if err != nil {
		return nil, err
	}
	if days > b.Closing {
		return nil, &InsufficientBalanceError{
			Key:       key,
			Available: b.Closing,
			Requested: decimal.NewFromInt(int64(days)),
		}
	}
	b.Used += days
	b.UpdatedAt = l.clock()
	b.Recompute()
	if err := s.PutBalance(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Restore is the inverse of Deduct, used when an approved request is
// cancelled or for manual correction. Used never goes below zero.
func (l *BalanceLedger) Restore(ctx context.Context, key BalanceKey, days int) (*LeaveBalance, error) {
	if days <= 0 {
		return nil, fmt.Errorf("restoration must be positive, got %d", days)
	}
	var out *LeaveBalance
	err := l.Locked(key, func() error {
		return l.store.WithTx(ctx, func(tx Store) error {
			b, err := tx.Balance(ctx, key)
			if err != nil {
				return err
			}
			b.Used -= days
			if b.Used < 0 {
				b.Used = 0
			}
			b.UpdatedAt = l.clock()
			b.Recompute()
			if err := tx.PutBalance(ctx, b); err != nil {
				return err
			}
			out = b
			return nil
		})
	})
	return out, err
}

// RestoreWithin applies a restoration through the given store view, for
// callers holding the key's lock inside their own transaction.
func (l *BalanceLedger) RestoreWithin(ctx context.Context, s Store, key BalanceKey, days int) (*LeaveBalance, error) {
	if days <= 0 {
		return nil, fmt.Errorf("restoration must be positive, got %d", days)
	}
	b, err := s.Balance(ctx, key)
	if err != nil {
		return nil, err
	}
	b.Used -= days
	if b.Used < 0 {
		b.Used = 0
	}
	b.UpdatedAt = l.clock()
	b.Recompute()
	if err := s.PutBalance(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Accrue credits perMonthAmount to Earned on every balance row of the leave
// type and year, in one transaction. Returns the credited rows so the caller
// can notify the affected employees.
func (l *BalanceLedger) Accrue(ctx context.Context, leaveTypeID string, year, month, perMonthAmount int) ([]LeaveBalance, error) {
	if month < 1 || month > 12 {
		return nil, fmt.Errorf("month must be in 1..12, got %d", month)
	}
	var credited []LeaveBalance
	err := l.store.WithTx(ctx, func(tx Store) error {
		rows, err := l.AccrueWithin(ctx, tx, leaveTypeID, year, perMonthAmount)
		if err != nil {
			return err
		}
		credited = rows
		return nil
	})
	if err != nil {
		return nil, err
	}
	return credited, nil
}

// AccrueWithin applies the credit through the given store view. Callers that
// combine the credit with other writes in one transaction use this, the same
// way approval uses DeductWithin.
func (l *BalanceLedger) AccrueWithin(ctx context.Context, s Store, leaveTypeID string, year, perMonthAmount int) ([]LeaveBalance, error) {
	if perMonthAmount < 0 {
		return nil, fmt.Errorf("accrual amount must be non-negative, got %d", perMonthAmount)
	}
	rows, err := s.BalancesByType(ctx, leaveTypeID, year)
	if err != nil {
		return nil, err
	}
	credited := make([]LeaveBalance, 0, len(rows))
	for i := range rows {
		b := rows[i]
		b.Earned += perMonthAmount
		b.UpdatedAt = l.clock()
		b.Recompute()
		if err := s.PutBalance(ctx, &b); err != nil {
			return nil, fmt.Errorf("accrue %s: %w", b.Key(), err)
		}
		credited = append(credited, b)
	}
	return credited, nil
}

// CarryForward transfers capped closing balances from fromYear into toYear
// opening balances for every row of the leave type. The toYear row is created
// when absent; an existing row keeps its Earned and Used (accrual may already
// have run for the new year) and only its Opening is recomputed. Re-running
// recomputes rather than re-applying, so the operation is idempotent.
func (l *BalanceLedger) CarryForward(ctx context.Context, lt *LeaveType, fromYear, toYear int) (int, error) {
	if toYear <= fromYear {
		return 0, fmt.Errorf("carry-forward target year %d must follow source year %d", toYear, fromYear)
	}
	carried := 0
	err := l.store.WithTx(ctx, func(tx Store) error {
		rows, err := tx.BalancesByType(ctx, lt.ID, fromYear)
		if err != nil {
			return err
		}
		for i := range rows {
			prev := rows[i]
			carry := prev.Closing
			if carry < 0 {
				carry = 0
			}
			if lt.MaxCarryForward > 0 && carry > lt.MaxCarryForward {
				carry = lt.MaxCarryForward
			}

			key := BalanceKey{EmployeeID: prev.EmployeeID, LeaveTypeID: lt.ID, Year: toYear}
			next, err := tx.Balance(ctx, key)
			if errors.Is(err, ErrBalanceNotFound) {
				next = &LeaveBalance{EmployeeID: key.EmployeeID, LeaveTypeID: key.LeaveTypeID, Year: toYear}
			} else if err != nil {
				return err
			}
			next.Opening = carry
			next.UpdatedAt = l.clock()
			next.Recompute()
			if err := tx.PutBalance(ctx, next); err != nil {
				return fmt.Errorf("carry forward %s: %w", key, err)
			}
			carried++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return carried, nil
}
