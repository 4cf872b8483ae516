/*
rules.go - Stateless validation over candidate leave requests

PURPOSE:
  Every check either returns nil or fails with a typed error; none has side
  effects. The lifecycle runs the checks in a fixed order and the first
  failure short-circuits the rest:

    1. ValidateDateRange      - shape of the span, declared-total cross-check
    2. CheckOverlap           - intersection with PENDING/APPROVED requests
    3. CheckLimits            - monthly / quarterly / annual ceilings
    4. CheckBalance           - sufficiency against the ledger row
    5. CheckManagerApproval   - approval path only

  A declared TotalDays that disagrees with the computed working-day count by
  more than half a day is logged, not rejected.
*/
package leave

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// dayTolerance is the allowed gap between a declared total and the computed
// working-day count.
var dayTolerance = decimal.NewFromFloat(0.5)

// RuleEngine validates candidate requests against request history and the
// balance ledger. It never mutates anything.
type RuleEngine struct {
	requests RequestStore
	balances BalanceStore
	logger   *zap.Logger
}

func NewRuleEngine(requests RequestStore, balances BalanceStore, logger *zap.Logger) *RuleEngine {
	return &RuleEngine{
		requests: requests,
		balances: balances,
		logger:   logger.Named("leave.rules"),
	}
}

// ValidateSubmission runs checks 1-4 in order for the create and update
// paths. The balance check only confirms sufficiency; deduction happens at
// approval.
func (e *RuleEngine) ValidateSubmission(ctx context.Context, lt *LeaveType, req *LeaveRequest) error {
	if err := e.ValidateDateRange(req); err != nil {
		return err
	}
	if err := e.CheckOverlap(ctx, req); err != nil {
		return err
	}
	if err := e.CheckLimits(ctx, lt, req); err != nil {
		return err
	}
	return e.CheckBalance(ctx, req)
}

// ValidateDateRange fails when dates are missing or inverted. A declared
// TotalDays outside tolerance of the working-day count is logged only.
func (e *RuleEngine) ValidateDateRange(req *LeaveRequest) error {
	if req.StartDate.IsZero() || req.EndDate.IsZero() {
		return &DateRangeError{Reason: "start and end dates are required"}
	}
	if req.EndDate.Before(req.StartDate) {
		return &DateRangeError{Reason: fmt.Sprintf("end date %s before start date %s",
			req.EndDate.Format("2006-01-02"), req.StartDate.Format("2006-01-02"))}
	}
	if req.TotalDays.IsPositive() {
		working := decimal.NewFromInt(int64(req.WorkingDays()))
		if req.TotalDays.Sub(working).Abs().GreaterThan(dayTolerance) {
			e.logger.Warn("declared total days disagrees with working-day count",
				zap.String("request_id", req.ID),
				zap.String("declared", req.TotalDays.String()),
				zap.String("computed", working.String()),
			)
		}
	}
	return nil
}

// CheckOverlap fails with OverlapError when any of the employee's PENDING or
// APPROVED requests intersects the candidate's inclusive interval. The
// candidate itself is excluded by id for the update path.
func (e *RuleEngine) CheckOverlap(ctx context.Context, req *LeaveRequest) error {
	existing, err := e.requests.ActiveRequests(ctx, req.EmployeeID, req.StartDate, req.EndDate)
	if err != nil {
		return err
	}
	for i := range existing {
		other := existing[i]
		if other.ID == req.ID {
			continue
		}
		if other.Overlaps(req.StartDate, req.EndDate) {
			return &OverlapError{ExistingID: other.ID, Start: other.StartDate, End: other.EndDate}
		}
	}
	return nil
}

// CheckLimits enforces each configured ceiling of the leave type. For every
// ceiling it sums the requested days of the employee's counted same-type
// requests whose StartDate falls in the calendar period containing the
// candidate's start date.
func (e *RuleEngine) CheckLimits(ctx context.Context, lt *LeaveType, req *LeaveRequest) error {
	ceilings := []struct {
		period string
		limit  int
		span   func(time.Time) (time.Time, time.Time)
	}{
		{"month", lt.MonthlyLimit, MonthSpan},
		{"quarter", lt.QuarterlyLimit, QuarterSpan},
		{"year", lt.AnnualLimit, YearSpan},
	}

	requested := req.RequestedDays()
	for _, c := range ceilings {
		if c.limit <= 0 {
			continue
		}
		from, to := c.span(req.StartDate)
		history, err := e.requests.RequestsInPeriod(ctx, req.EmployeeID, req.LeaveTypeID, from, to)
		if err != nil {
			return err
		}
		used := decimal.Zero
		for i := range history {
			if history[i].ID == req.ID {
				continue
			}
			used = used.Add(history[i].RequestedDays())
		}
		if used.Add(requested).GreaterThan(decimal.NewFromInt(int64(c.limit))) {
			return &LimitExceededError{Period: c.period, Limit: c.limit, Used: used, Requested: requested}
		}
	}
	return nil
}

// CheckBalance loads the ledger row for the year of the candidate's start
// date and confirms the closing balance covers the requested days.
func (e *RuleEngine) CheckBalance(ctx context.Context, req *LeaveRequest) error {
	b, err := e.balances.Balance(ctx, req.BalanceKey())
	if err != nil {
		return err
	}
	requested := req.RequestedDays()
	if decimal.NewFromInt(int64(b.Closing)).LessThan(requested) {
		return &InsufficientBalanceError{Key: b.Key(), Available: b.Closing, Requested: requested}
	}
	return nil
}

// CheckManagerApproval confirms the acting manager is the employee's
// recorded manager. The comparison is by id only; the directory's manager
// graph may contain cycles and is never traversed.
func (e *RuleEngine) CheckManagerApproval(emp *Employee, managerID string) error {
	if emp.ManagerID == "" {
		return fmt.Errorf("%w: employee %s", ErrNoManagerAssigned, emp.ID)
	}
	if emp.ManagerID != managerID {
		return fmt.Errorf("%w: %s acting for employee %s managed by %s",
			ErrNotRequestManager, managerID, emp.ID, emp.ManagerID)
	}
	return nil
}
