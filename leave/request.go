/*
request.go - Leave request lifecycle

PURPOSE:
  RequestService is the only component allowed to transition request state.
  It runs the rule engine before any mutation, calls the balance ledger to
  deduct or restore days, and informs the notification gateway.

STATE MACHINE:
  PENDING -> APPROVED | REJECTED | CANCELLED
  APPROVED -> CANCELLED (restores the deducted days)
  REJECTED and CANCELLED are terminal.

ATOMICITY:
  Approval couples the deduction with the status flip: both run under the
  ledger key's lock inside one store transaction. A concurrent approval that
  exhausts the balance first leaves this request PENDING and the caller gets
  InsufficientBalance, never a half-applied state.
*/
package leave

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RequestService orchestrates the request lifecycle.
type RequestService struct {
	store     TxStore
	ledger    *BalanceLedger
	rules     *RuleEngine
	directory EmployeeDirectory
	notifier  NotificationGateway
	logger    *zap.Logger
	clock     func() time.Time
}

func NewRequestService(store TxStore, ledger *BalanceLedger, rules *RuleEngine, directory EmployeeDirectory, notifier NotificationGateway, logger *zap.Logger) *RequestService {
	return &RequestService{
		store:     store,
		ledger:    ledger,
		rules:     rules,
		directory: directory,
		notifier:  notifier,
		logger:    logger.Named("leave.requests"),
		clock:     time.Now,
	}
}

// CreateRequestInput is the submission payload. The approver is resolved from
// the directory, not chosen by the requester.
type CreateRequestInput struct {
	EmployeeID  string
	LeaveTypeID string
	StartDate   time.Time
	EndDate     time.Time
	TotalDays   decimal.Decimal // declared; zero means not declared
}

// UpdateRequestInput carries the fields an employee may change while the
// request is still PENDING.
type UpdateRequestInput struct {
	StartDate time.Time
	EndDate   time.Time
	TotalDays decimal.Decimal
}

// Create validates a new request (rules 1-4), persists it as PENDING and
// notifies requester and manager. The ledger is not touched.
func (s *RequestService) Create(ctx context.Context, in CreateRequestInput) (*LeaveRequest, error) {
	emp, err := s.directory.FindByID(ctx, in.EmployeeID)
	if err != nil {
		return nil, err
	}
	lt, err := s.store.LeaveType(ctx, in.LeaveTypeID)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	req := &LeaveRequest{
		ID:          uuid.NewString(),
		EmployeeID:  emp.ID,
		LeaveTypeID: lt.ID,
		ManagerID:   emp.ManagerID,
		StartDate:   DateOf(in.StartDate),
		EndDate:     DateOf(in.EndDate),
		TotalDays:   in.TotalDays,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.rules.ValidateSubmission(ctx, lt, req); err != nil {
		return nil, err
	}
	if err := s.store.PutRequest(ctx, req); err != nil {
		return nil, err
	}

	s.logger.Info("leave request created",
		zap.String("request_id", req.ID),
		zap.String("employee_id", req.EmployeeID),
		zap.String("leave_type_id", req.LeaveTypeID),
		zap.Int("working_days", req.WorkingDays()),
	)

	s.notify(ctx, emp.Email, "Leave request submitted",
		fmt.Sprintf("Your %s leave request for %s to %s is pending approval.",
			lt.Name, req.StartDate.Format("2006-01-02"), req.EndDate.Format("2006-01-02")))
	if mgr, err := s.directory.FindByID(ctx, emp.ManagerID); err == nil {
		s.notify(ctx, mgr.Email, "Leave request awaiting approval",
			fmt.Sprintf("%s requested %s leave from %s to %s.",
				emp.FullName, lt.Name, req.StartDate.Format("2006-01-02"), req.EndDate.Format("2006-01-02")))
	}

	return req, nil
}

// Get returns a request by id.
func (s *RequestService) Get(ctx context.Context, id string) (*LeaveRequest, error) {
	return s.store.Request(ctx, id)
}

// ListByEmployee returns an employee's requests, newest first.
func (s *RequestService) ListByEmployee(ctx context.Context, employeeID string) ([]LeaveRequest, error) {
	return s.store.RequestsByEmployee(ctx, employeeID)
}

// ListPending returns the approval queue for a manager; an empty manager id
// returns every pending request.
func (s *RequestService) ListPending(ctx context.Context, managerID string) ([]LeaveRequest, error) {
	return s.store.PendingRequests(ctx, managerID)
}

// Update changes the dates of a PENDING request and re-runs rules 1-4
// against the new span, with the request excluded from its own overlap check.
func (s *RequestService) Update(ctx context.Context, id string, in UpdateRequestInput) (*LeaveRequest, error) {
	req, err := s.store.Request(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusPending {
		return nil, &TransitionError{RequestID: req.ID, From: req.Status, To: StatusPending}
	}
	lt, err := s.store.LeaveType(ctx, req.LeaveTypeID)
	if err != nil {
		return nil, err
	}

	req.StartDate = DateOf(in.StartDate)
	req.EndDate = DateOf(in.EndDate)
	req.TotalDays = in.TotalDays
	req.UpdatedAt = s.clock()

	if err := s.rules.ValidateSubmission(ctx, lt, req); err != nil {
		return nil, err
	}
	if err := s.store.PutRequest(ctx, req); err != nil {
		return nil, err
	}
	s.logger.Info("leave request updated", zap.String("request_id", req.ID))
	return req, nil
}

// Approve re-validates (dates, balance, manager), then deducts the computed
// working days and flips the request to APPROVED as one atomic unit. If the
// deduction fails the request stays PENDING.
func (s *RequestService) Approve(ctx context.Context, id, managerID, comment string) (*LeaveRequest, error) {
	req, err := s.store.Request(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusPending {
		return nil, &TransitionError{RequestID: req.ID, From: req.Status, To: StatusApproved}
	}

	// Same short-circuit order as submission: dates, then balance (it may
	// have changed since submission), then the approver's authority.
	if err := s.rules.ValidateDateRange(req); err != nil {
		return nil, err
	}
	if err := s.rules.CheckBalance(ctx, req); err != nil {
		return nil, err
	}
	emp, err := s.directory.FindByID(ctx, req.EmployeeID)
	if err != nil {
		return nil, err
	}
	if err := s.rules.CheckManagerApproval(emp, managerID); err != nil {
		return nil, err
	}

	days := req.WorkingDays()
	key := req.BalanceKey()
	err = s.ledger.Locked(key, func() error {
		return s.store.WithTx(ctx, func(tx Store) error {
			// Re-read inside the transaction to guard against a concurrent
			// transition on the same request.
			cur, err := tx.Request(ctx, req.ID)
			if err != nil {
				return err
			}
			if cur.Status != StatusPending {
				return &TransitionError{RequestID: cur.ID, From: cur.Status, To: StatusApproved}
			}
			if _, err := s.ledger.DeductWithin(ctx, tx, key, days); err != nil {
				return err
			}
			now := s.clock()
			cur.Status = StatusApproved
			cur.ManagerComment = comment
			cur.ApprovedAt = &now
			cur.UpdatedAt = now
			if err := tx.PutRequest(ctx, cur); err != nil {
				return err
			}
			*req = *cur
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("leave request approved",
		zap.String("request_id", req.ID),
		zap.String("manager_id", managerID),
		zap.Int("deducted_days", days),
	)
	s.notify(ctx, emp.Email, "Leave request approved",
		fmt.Sprintf("Your leave from %s to %s was approved.",
			req.StartDate.Format("2006-01-02"), req.EndDate.Format("2006-01-02")))
	return req, nil
}

// Reject flips a PENDING request to REJECTED. The balance was never deducted
// for a pending request, so the ledger is untouched.
func (s *RequestService) Reject(ctx context.Context, id, managerID, comment string) (*LeaveRequest, error) {
	req, err := s.store.Request(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusPending {
		return nil, &TransitionError{RequestID: req.ID, From: req.Status, To: StatusRejected}
	}
	emp, err := s.directory.FindByID(ctx, req.EmployeeID)
	if err != nil {
		return nil, err
	}
	if err := s.rules.CheckManagerApproval(emp, managerID); err != nil {
		return nil, err
	}

	now := s.clock()
	req.Status = StatusRejected
	req.ManagerComment = comment
	req.RejectedAt = &now
	req.UpdatedAt = now
	if err := s.store.PutRequest(ctx, req); err != nil {
		return nil, err
	}

	s.logger.Info("leave request rejected",
		zap.String("request_id", req.ID),
		zap.String("manager_id", managerID),
	)
	s.notify(ctx, emp.Email, "Leave request rejected",
		fmt.Sprintf("Your leave from %s to %s was rejected. %s",
			req.StartDate.Format("2006-01-02"), req.EndDate.Format("2006-01-02"), comment))
	return req, nil
}

// Cancel flips a request to CANCELLED. Cancelling a PENDING request is a pure
// status flip; cancelling an APPROVED request restores the deducted working
// days so the ledger invariant keeps reflecting actual absence.
func (s *RequestService) Cancel(ctx context.Context, id, actorID string) (*LeaveRequest, error) {
	req, err := s.store.Request(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status.Terminal() {
		return nil, &TransitionError{RequestID: req.ID, From: req.Status, To: StatusCancelled}
	}

	switch req.Status {
	case StatusPending:
		now := s.clock()
		req.Status = StatusCancelled
		req.UpdatedAt = now
		if err := s.store.PutRequest(ctx, req); err != nil {
			return nil, err
		}
	case StatusApproved:
		days := req.WorkingDays()
		key := req.BalanceKey()
		err = s.ledger.Locked(key, func() error {
			return s.store.WithTx(ctx, func(tx Store) error {
				cur, err := tx.Request(ctx, req.ID)
				if err != nil {
					return err
				}
				if cur.Status != StatusApproved {
					return &TransitionError{RequestID: cur.ID, From: cur.Status, To: StatusCancelled}
				}
				if _, err := s.ledger.RestoreWithin(ctx, tx, key, days); err != nil {
					return err
				}
				now := s.clock()
				cur.Status = StatusCancelled
				cur.UpdatedAt = now
				if err := tx.PutRequest(ctx, cur); err != nil {
					return err
				}
				*req = *cur
				return nil
			})
		})
		if err != nil {
			return nil, err
		}
	default:
		return nil, &TransitionError{RequestID: req.ID, From: req.Status, To: StatusCancelled}
	}

	s.logger.Info("leave request cancelled",
		zap.String("request_id", req.ID),
		zap.String("actor_id", actorID),
	)
	return req, nil
}

// notify sends best-effort; failures are logged and never propagated.
func (s *RequestService) notify(ctx context.Context, email, subject, body string) {
	if s.notifier == nil || email == "" {
		return
	}
	if err := s.notifier.Send(ctx, email, subject, body); err != nil {
		s.logger.Warn("notification failed",
			zap.String("recipient", email),
			zap.String("subject", subject),
			zap.Error(err),
		)
	}
}
