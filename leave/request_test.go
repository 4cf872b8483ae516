package leave_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestService(t *testing.T) (*leave.RequestService, *leave.BalanceLedger, *sqlite.Store) {
	store := newTestStore(t)
	ledger := leave.NewBalanceLedger(store)
	rules := leave.NewRuleEngine(store, store, zap.NewNop())
	service := leave.NewRequestService(store, ledger, rules, store, nil, zap.NewNop())
	return service, ledger, store
}

func seedEmployee(t *testing.T, store *sqlite.Store, id, managerID string) {
	require.NoError(t, store.PutEmployee(context.Background(), &leave.Employee{
		ID:        id,
		ManagerID: managerID,
		Email:     id + "@example.com",
		FullName:  id,
	}))
}

func seedLeaveType(t *testing.T, store *sqlite.Store, lt leave.LeaveType) {
	now := time.Now()
	lt.CreatedAt, lt.UpdatedAt = now, now
	require.NoError(t, store.PutLeaveType(context.Background(), &lt))
}

// seedScenario sets up one employee with a manager, an annual leave type and
// a 2024 balance with the given opening.
func seedScenario(t *testing.T, store *sqlite.Store, opening int) {
	seedEmployee(t, store, "mgr-1", "mgr-0")
	seedEmployee(t, store, "emp-1", "mgr-1")
	seedLeaveType(t, store, leave.LeaveType{ID: "annual", Name: "Annual", AnnualLimit: 20})
	seedBalance(t, store, key2024("emp-1"), opening, 0, 0)
}

func submit(t *testing.T, service *leave.RequestService, start, end time.Time) *leave.LeaveRequest {
	req, err := service.Create(context.Background(), leave.CreateRequestInput{
		EmployeeID:  "emp-1",
		LeaveTypeID: "annual",
		StartDate:   start,
		EndDate:     end,
	})
	require.NoError(t, err)
	return req
}

// =============================================================================
// SUBMISSION
// =============================================================================

func TestRequest_Create_PendingWithResolvedManager(t *testing.T) {
	// GIVEN: An employee managed by mgr-1
	// WHEN: Submitting a valid request
	// THEN: It is PENDING, the approver is mgr-1, and no balance was deducted

	service, _, store := newTestService(t)
	seedScenario(t, store, 10)

	req := submit(t, service, date(2024, time.March, 11), date(2024, time.March, 13))

	assert.Equal(t, leave.StatusPending, req.Status)
	assert.Equal(t, "mgr-1", req.ManagerID)
	assert.Equal(t, 3, req.WorkingDays())

	b, err := store.Balance(context.Background(), key2024("emp-1"))
	require.NoError(t, err)
	assert.Equal(t, 0, b.Used, "submission must not touch the ledger")
}

func TestRequest_Create_InsufficientBalance_Blocked(t *testing.T) {
	// GIVEN: Closing balance of 2
	// WHEN: Submitting a 3-working-day request
	// THEN: Creation fails and nothing is stored

	service, _, store := newTestService(t)
	seedScenario(t, store, 2)

	_, err := service.Create(context.Background(), leave.CreateRequestInput{
		EmployeeID:  "emp-1",
		LeaveTypeID: "annual",
		StartDate:   date(2024, time.March, 11),
		EndDate:     date(2024, time.March, 13),
	})
	assert.ErrorIs(t, err, leave.ErrInsufficientBalance)

	requests, err := store.RequestsByEmployee(context.Background(), "emp-1")
	require.NoError(t, err)
	assert.Empty(t, requests)
}

func TestRequest_Create_OverlappingPending_Blocked(t *testing.T) {
	service, _, store := newTestService(t)
	seedScenario(t, store, 20)

	submit(t, service, date(2024, time.March, 10), date(2024, time.March, 12))

	_, err := service.Create(context.Background(), leave.CreateRequestInput{
		EmployeeID:  "emp-1",
		LeaveTypeID: "annual",
		StartDate:   date(2024, time.March, 11),
		EndDate:     date(2024, time.March, 13),
	})
	assert.ErrorIs(t, err, leave.ErrOverlapDetected)
}

func TestRequest_Create_UnknownEmployee_NotFound(t *testing.T) {
	service, _, store := newTestService(t)
	seedScenario(t, store, 10)

	_, err := service.Create(context.Background(), leave.CreateRequestInput{
		EmployeeID:  "ghost",
		LeaveTypeID: "annual",
		StartDate:   date(2024, time.March, 11),
		EndDate:     date(2024, time.March, 13),
	})
	assert.ErrorIs(t, err, leave.ErrEmployeeNotFound)
}

// =============================================================================
// APPROVAL
// =============================================================================

func TestRequest_Approve_DeductsWorkingDays(t *testing.T) {
	// GIVEN: Opening balance 5 and a pending 3-working-day request
	// WHEN: The recorded manager approves it
	// THEN: Status is APPROVED and the ledger shows used 3, closing 2

	service, _, store := newTestService(t)
	seedScenario(t, store, 5)

	req := submit(t, service, date(2024, time.March, 11), date(2024, time.March, 13))

	approved, err := service.Approve(context.Background(), req.ID, "mgr-1", "enjoy")
	require.NoError(t, err)

	assert.Equal(t, leave.StatusApproved, approved.Status)
	assert.Equal(t, "enjoy", approved.ManagerComment)
	require.NotNil(t, approved.ApprovedAt)

	b, err := store.Balance(context.Background(), key2024("emp-1"))
	require.NoError(t, err)
	assert.Equal(t, 3, b.Used)
	assert.Equal(t, 2, b.Closing)
}

func TestRequest_Approve_WrongManager_Forbidden(t *testing.T) {
	service, _, store := newTestService(t)
	seedScenario(t, store, 5)

	req := submit(t, service, date(2024, time.March, 11), date(2024, time.March, 13))

	_, err := service.Approve(context.Background(), req.ID, "mgr-2", "")
	assert.ErrorIs(t, err, leave.ErrNotRequestManager)

	stored, _ := store.Request(context.Background(), req.ID)
	assert.Equal(t, leave.StatusPending, stored.Status)
}

func TestRequest_Approve_BalanceRecheckedBeforeManager(t *testing.T) {
	// GIVEN: A pending 3-day request whose balance has since dropped to 1
	// WHEN: A non-manager attempts the approval
	// THEN: The balance shortage surfaces first and the request stays PENDING

	service, _, store := newTestService(t)
	seedScenario(t, store, 5)
	req := submit(t, service, date(2024, time.March, 11), date(2024, time.March, 13))

	seedBalance(t, store, key2024("emp-1"), 5, 0, 4)

	_, err := service.Approve(context.Background(), req.ID, "mgr-9", "")
	assert.ErrorIs(t, err, leave.ErrInsufficientBalance)

	stored, err := store.Request(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, leave.StatusPending, stored.Status)
}

func TestRequest_Approve_AlreadyApproved_InvalidTransition(t *testing.T) {
	service, _, store := newTestService(t)
	seedScenario(t, store, 10)

	req := submit(t, service, date(2024, time.March, 11), date(2024, time.March, 13))
	_, err := service.Approve(context.Background(), req.ID, "mgr-1", "")
	require.NoError(t, err)

	_, err = service.Approve(context.Background(), req.ID, "mgr-1", "")
	assert.ErrorIs(t, err, leave.ErrInvalidTransition)

	b, _ := store.Balance(context.Background(), key2024("emp-1"))
	assert.Equal(t, 3, b.Used, "second approval must not deduct again")
}

func TestRequest_Approve_BalanceDrained_LeavesRequestPending(t *testing.T) {
	// GIVEN: Two pending 3-day requests against a closing balance of 5
	// WHEN: Both are approved
	// THEN: Exactly one wins; the loser stays PENDING with an
	//       insufficient-balance error and the ledger never oversubscribes

	service, _, store := newTestService(t)
	seedScenario(t, store, 5)

	first := submit(t, service, date(2024, time.March, 11), date(2024, time.March, 13))
	second := submit(t, service, date(2024, time.March, 18), date(2024, time.March, 20))

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for _, id := range []string{first.ID, second.ID} {
		wg.Add(1)
		go func(requestID string) {
			defer wg.Done()
			_, err := service.Approve(context.Background(), requestID, "mgr-1", "")
			results <- err
		}(id)
	}
	wg.Wait()
	close(results)

	approvals, failures := 0, 0
	for err := range results {
		if err == nil {
			approvals++
		} else {
			failures++
			assert.ErrorIs(t, err, leave.ErrInsufficientBalance)
		}
	}
	assert.Equal(t, 1, approvals)
	assert.Equal(t, 1, failures)

	b, err := store.Balance(context.Background(), key2024("emp-1"))
	require.NoError(t, err)
	assert.Equal(t, 3, b.Used)
	assert.Equal(t, 2, b.Closing)

	pending, err := service.ListPending(context.Background(), "mgr-1")
	require.NoError(t, err)
	assert.Len(t, pending, 1, "the losing request must stay pending")
}

// =============================================================================
// REJECTION
// =============================================================================

func TestRequest_Reject_NoLedgerChange(t *testing.T) {
	// GIVEN: A pending request
	// WHEN: The manager rejects it
	// THEN: Status is REJECTED and the ledger is untouched

	service, _, store := newTestService(t)
	seedScenario(t, store, 5)

	req := submit(t, service, date(2024, time.March, 11), date(2024, time.March, 13))

	rejected, err := service.Reject(context.Background(), req.ID, "mgr-1", "project deadline")
	require.NoError(t, err)

	assert.Equal(t, leave.StatusRejected, rejected.Status)
	require.NotNil(t, rejected.RejectedAt)

	b, _ := store.Balance(context.Background(), key2024("emp-1"))
	assert.Equal(t, 0, b.Used)
	assert.Equal(t, 5, b.Closing)
}

func TestRequest_Reject_Terminal_InvalidTransition(t *testing.T) {
	service, _, store := newTestService(t)
	seedScenario(t, store, 5)

	req := submit(t, service, date(2024, time.March, 11), date(2024, time.March, 13))
	_, err := service.Reject(context.Background(), req.ID, "mgr-1", "")
	require.NoError(t, err)

	_, err = service.Reject(context.Background(), req.ID, "mgr-1", "")
	assert.ErrorIs(t, err, leave.ErrInvalidTransition)
}

// =============================================================================
// CANCELLATION
// =============================================================================

func TestRequest_Cancel_Pending_PureStatusFlip(t *testing.T) {
	service, _, store := newTestService(t)
	seedScenario(t, store, 5)

	req := submit(t, service, date(2024, time.March, 11), date(2024, time.March, 13))

	cancelled, err := service.Cancel(context.Background(), req.ID, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusCancelled, cancelled.Status)

	b, _ := store.Balance(context.Background(), key2024("emp-1"))
	assert.Equal(t, 5, b.Closing)
}

func TestRequest_Cancel_Approved_RestoresDeduction(t *testing.T) {
	// GIVEN: An approved 3-day request deducted from an opening of 5
	// WHEN: The request is cancelled
	// THEN: The deducted days come back and closing returns to 5

	service, _, store := newTestService(t)
	seedScenario(t, store, 5)

	req := submit(t, service, date(2024, time.March, 11), date(2024, time.March, 13))
	_, err := service.Approve(context.Background(), req.ID, "mgr-1", "")
	require.NoError(t, err)

	cancelled, err := service.Cancel(context.Background(), req.ID, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusCancelled, cancelled.Status)

	b, err := store.Balance(context.Background(), key2024("emp-1"))
	require.NoError(t, err)
	assert.Equal(t, 0, b.Used)
	assert.Equal(t, 5, b.Closing)
}

func TestRequest_Cancel_Cancelled_InvalidTransition(t *testing.T) {
	service, _, store := newTestService(t)
	seedScenario(t, store, 5)

	req := submit(t, service, date(2024, time.March, 11), date(2024, time.March, 13))
	_, err := service.Cancel(context.Background(), req.ID, "emp-1")
	require.NoError(t, err)

	_, err = service.Cancel(context.Background(), req.ID, "emp-1")
	assert.ErrorIs(t, err, leave.ErrInvalidTransition)
}

func TestRequest_Cancel_Rejected_InvalidTransition(t *testing.T) {
	// REJECTED is terminal; APPROVED is not (it can still be cancelled).
	assert.True(t, leave.StatusRejected.Terminal())
	assert.False(t, leave.StatusApproved.Terminal())

	service, _, store := newTestService(t)
	seedScenario(t, store, 5)

	req := submit(t, service, date(2024, time.March, 11), date(2024, time.March, 13))
	_, err := service.Reject(context.Background(), req.ID, "mgr-1", "no coverage")
	require.NoError(t, err)

	_, err = service.Cancel(context.Background(), req.ID, "emp-1")
	assert.ErrorIs(t, err, leave.ErrInvalidTransition)
}

// =============================================================================
// UPDATE
// =============================================================================

func TestRequest_Update_PendingRevalidated(t *testing.T) {
	// GIVEN: A pending request for March 11-13
	// WHEN: Moving it to March 18-22 (5 working days) with 4 available
	// THEN: The update is rejected for insufficient balance and the stored
	//       request keeps its original dates

	service, _, store := newTestService(t)
	seedScenario(t, store, 4)

	req := submit(t, service, date(2024, time.March, 11), date(2024, time.March, 13))

	_, err := service.Update(context.Background(), req.ID, leave.UpdateRequestInput{
		StartDate: date(2024, time.March, 18),
		EndDate:   date(2024, time.March, 22),
	})
	assert.ErrorIs(t, err, leave.ErrInsufficientBalance)

	stored, _ := store.Request(context.Background(), req.ID)
	assert.Equal(t, date(2024, time.March, 11), stored.StartDate)
}

func TestRequest_Update_MovesDatesWithinOwnSpan(t *testing.T) {
	// Updating a request to a span overlapping only itself must pass the
	// overlap check.
	service, _, store := newTestService(t)
	seedScenario(t, store, 10)

	req := submit(t, service, date(2024, time.March, 11), date(2024, time.March, 13))

	updated, err := service.Update(context.Background(), req.ID, leave.UpdateRequestInput{
		StartDate: date(2024, time.March, 12),
		EndDate:   date(2024, time.March, 14),
		TotalDays: decimal.NewFromInt(3),
	})
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.March, 12), updated.StartDate)
}

func TestRequest_Update_Approved_InvalidTransition(t *testing.T) {
	service, _, store := newTestService(t)
	seedScenario(t, store, 10)

	req := submit(t, service, date(2024, time.March, 11), date(2024, time.March, 13))
	_, err := service.Approve(context.Background(), req.ID, "mgr-1", "")
	require.NoError(t, err)

	_, err = service.Update(context.Background(), req.ID, leave.UpdateRequestInput{
		StartDate: date(2024, time.March, 18),
		EndDate:   date(2024, time.March, 20),
	})
	assert.ErrorIs(t, err, leave.ErrInvalidTransition)
}

// =============================================================================
// LISTING
// =============================================================================

func TestRequest_ListPending_ScopedToManager(t *testing.T) {
	service, _, store := newTestService(t)
	seedScenario(t, store, 20)

	seedEmployee(t, store, "emp-2", "mgr-2")
	seedBalance(t, store, key2024("emp-2"), 10, 0, 0)

	submit(t, service, date(2024, time.March, 11), date(2024, time.March, 13))
	_, err := service.Create(context.Background(), leave.CreateRequestInput{
		EmployeeID:  "emp-2",
		LeaveTypeID: "annual",
		StartDate:   date(2024, time.April, 8),
		EndDate:     date(2024, time.April, 9),
	})
	require.NoError(t, err)

	mine, err := service.ListPending(context.Background(), "mgr-1")
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	all, err := service.ListPending(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
