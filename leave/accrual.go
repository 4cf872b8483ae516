/*
accrual.go - Monthly accrual and yearly carry-forward batch jobs

PURPOSE:
  Both jobs mutate balance rows in bulk, independent of any live request.
  They are restartable and idempotent per period: a completed run leaves a
  JobRun record keyed by (job, leave type, period), and a re-run for the same
  period is skipped. The accrual credit commits in the same transaction as
  its run record, so a partial failure leaves neither. Carry-forward
  additionally recomputes the target row's opening instead of adding to it,
  so even a forced re-run cannot double-apply.

DISTRIBUTION RULE:
  An annual limit of N days over 12 months accrues N/12 per month plus one
  extra day in each of the first N%12 months. The twelve amounts always sum
  to exactly N, with the remainder front-loaded.

FAILURE ISOLATION:
  One leave type's failure, or one employee's notification failure, never
  aborts the rest of the batch; it is logged and counted in the summary.
*/
package leave

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MonthlyAccrualAmount returns the accrual for one month (1-indexed) under
// the front-loaded distribution rule.
func MonthlyAccrualAmount(annualLimit, month int) int {
	base := annualLimit / 12
	remainder := annualLimit % 12
	if month >= 1 && month <= remainder {
		return base + 1
	}
	return base
}

// =============================================================================
// MONTHLY ACCRUAL
// =============================================================================

// AccrualSummary reports one accrual sweep.
type AccrualSummary struct {
	Year          int
	Month         int
	TypesCredited int
	TypesSkipped  int
	TypesFailed   int
	RowsCredited  int
}

// AccrualJob credits the current month's accrual to every balance row of
// every earned-leave type.
type AccrualJob struct {
	store     TxStore
	ledger    *BalanceLedger
	directory EmployeeDirectory
	notifier  NotificationGateway
	logger    *zap.Logger
	clock     func() time.Time
}

func NewAccrualJob(store TxStore, ledger *BalanceLedger, directory EmployeeDirectory, notifier NotificationGateway, logger *zap.Logger) *AccrualJob {
	return &AccrualJob{
		store:     store,
		ledger:    ledger,
		directory: directory,
		notifier:  notifier,
		logger:    logger.Named("leave.accrual"),
		clock:     time.Now,
	}
}

// Run applies the month containing now to every earned-leave type with an
// annual limit. Per-type failures are isolated; the returned error is only
// for failures that prevent the sweep itself.
func (j *AccrualJob) Run(ctx context.Context, now time.Time) (AccrualSummary, error) {
	year, month := now.Year(), int(now.Month())
	summary := AccrualSummary{Year: year, Month: month}

	types, err := j.store.LeaveTypes(ctx)
	if err != nil {
		return summary, fmt.Errorf("list leave types: %w", err)
	}

	for i := range types {
		lt := types[i]
		if !lt.EarnedLeave || lt.AnnualLimit <= 0 {
			continue
		}

		done, err := j.store.HasJobRun(ctx, JobAccrual, lt.ID, year, month)
		if err != nil {
			summary.TypesFailed++
			j.logger.Error("accrual run lookup failed", zap.String("leave_type_id", lt.ID), zap.Error(err))
			continue
		}
		if done {
			summary.TypesSkipped++
			continue
		}

		amount := MonthlyAccrualAmount(lt.AnnualLimit, month)
		started := j.clock()

		// The credit and the guard record commit together: a run-record
		// failure rolls the credit back, so the next sweep starts clean
		// instead of double-crediting the period.
		var credited []LeaveBalance
		err = j.store.WithTx(ctx, func(tx Store) error {
			rows, err := j.ledger.AccrueWithin(ctx, tx, lt.ID, year, amount)
			if err != nil {
				return err
			}
			credited = rows
			completed := j.clock()
			return tx.RecordJobRun(ctx, JobRun{
				ID:          uuid.NewString(),
				Job:         JobAccrual,
				LeaveTypeID: lt.ID,
				Year:        year,
				Month:       month,
				Status:      "completed",
				Detail:      fmt.Sprintf("credited %d day(s) to %d balance(s)", amount, len(rows)),
				StartedAt:   started,
				CompletedAt: &completed,
			})
		})
		if err != nil {
			summary.TypesFailed++
			j.logger.Error("accrual failed",
				zap.String("leave_type_id", lt.ID),
				zap.Int("year", year),
				zap.Int("month", month),
				zap.Error(err),
			)
			continue
		}

		summary.TypesCredited++
		summary.RowsCredited += len(credited)
		j.notifyCredited(ctx, &lt, credited, amount)
	}

	j.logger.Info("accrual sweep finished",
		zap.Int("year", year),
		zap.Int("month", month),
		zap.Int("credited", summary.TypesCredited),
		zap.Int("skipped", summary.TypesSkipped),
		zap.Int("failed", summary.TypesFailed),
	)
	return summary, nil
}

func (j *AccrualJob) notifyCredited(ctx context.Context, lt *LeaveType, rows []LeaveBalance, amount int) {
	if j.notifier == nil || amount == 0 {
		return
	}
	for i := range rows {
		b := rows[i]
		emp, err := j.directory.FindByID(ctx, b.EmployeeID)
		if err != nil {
			j.logger.Warn("accrual notification lookup failed",
				zap.String("employee_id", b.EmployeeID), zap.Error(err))
			continue
		}
		err = j.notifier.Send(ctx, emp.Email, "Leave accrued",
			fmt.Sprintf("%d day(s) of %s leave accrued. Current balance: %d.", amount, lt.Name, b.Closing))
		if err != nil {
			j.logger.Warn("accrual notification failed",
				zap.String("employee_id", b.EmployeeID), zap.Error(err))
		}
	}
}

// =============================================================================
// YEARLY CARRY-FORWARD
// =============================================================================

// CarryForwardSummary reports one carry-forward sweep.
type CarryForwardSummary struct {
	FromYear     int
	ToYear       int
	TypesCarried int
	TypesSkipped int
	TypesFailed  int
	RowsCarried  int
}

// CarryForwardJob transfers capped prior-year closings into new-year opening
// balances for every carry-forward type.
type CarryForwardJob struct {
	store  TxStore
	ledger *BalanceLedger
	logger *zap.Logger
	clock  func() time.Time
}

func NewCarryForwardJob(store TxStore, ledger *BalanceLedger, logger *zap.Logger) *CarryForwardJob {
	return &CarryForwardJob{
		store:  store,
		ledger: ledger,
		logger: logger.Named("leave.carryforward"),
		clock:  time.Now,
	}
}

// Run carries balances from the year before now into the year of now. Safe
// to run before or after the new year's first accrual: existing new-year
// rows keep their Earned and Used.
func (j *CarryForwardJob) Run(ctx context.Context, now time.Time) (CarryForwardSummary, error) {
	toYear := now.Year()
	fromYear := toYear - 1
	summary := CarryForwardSummary{FromYear: fromYear, ToYear: toYear}

	types, err := j.store.LeaveTypes(ctx)
	if err != nil {
		return summary, fmt.Errorf("list leave types: %w", err)
	}

	for i := range types {
		lt := types[i]
		if !lt.CarryForward {
			continue
		}

		done, err := j.store.HasJobRun(ctx, JobCarryForward, lt.ID, toYear, 0)
		if err != nil {
			summary.TypesFailed++
			j.logger.Error("carry-forward run lookup failed", zap.String("leave_type_id", lt.ID), zap.Error(err))
			continue
		}
		if done {
			summary.TypesSkipped++
			continue
		}

		started := j.clock()
		rows, err := j.ledger.CarryForward(ctx, &lt, fromYear, toYear)
		if err != nil {
			summary.TypesFailed++
			j.logger.Error("carry-forward failed",
				zap.String("leave_type_id", lt.ID),
				zap.Int("from_year", fromYear),
				zap.Int("to_year", toYear),
				zap.Error(err),
			)
			continue
		}

		completed := j.clock()
		run := JobRun{
			ID:          uuid.NewString(),
			Job:         JobCarryForward,
			LeaveTypeID: lt.ID,
			Year:        toYear,
			Status:      "completed",
			Detail:      fmt.Sprintf("carried %d balance(s) from %d", rows, fromYear),
			StartedAt:   started,
			CompletedAt: &completed,
		}
		if err := j.store.RecordJobRun(ctx, run); err != nil {
			summary.TypesFailed++
			j.logger.Error("carry-forward run record failed",
				zap.String("leave_type_id", lt.ID),
				zap.Error(err),
			)
			continue
		}

		summary.TypesCarried++
		summary.RowsCarried += rows
	}

	j.logger.Info("carry-forward sweep finished",
		zap.Int("from_year", fromYear),
		zap.Int("to_year", toYear),
		zap.Int("carried", summary.TypesCarried),
		zap.Int("skipped", summary.TypesSkipped),
		zap.Int("failed", summary.TypesFailed),
	)
	return summary, nil
}
