package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/api"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type fixture struct {
	server *httptest.Server
	store  *sqlite.Store
}

func newFixture(t *testing.T) *fixture {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := zap.NewNop()
	ledger := leave.NewBalanceLedger(store)
	rules := leave.NewRuleEngine(store, store, logger)
	requests := leave.NewRequestService(store, ledger, rules, store, nil, logger)
	accrual := leave.NewAccrualJob(store, ledger, store, nil, logger)
	carryForward := leave.NewCarryForwardJob(store, ledger, logger)

	handler := api.NewHandler(requests, ledger, accrual, carryForward, store, logger)
	server := httptest.NewServer(api.NewRouter(handler, []string{"*"}))
	t.Cleanup(server.Close)

	return &fixture{server: server, store: store}
}

func (f *fixture) seed(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, f.store.PutEmployee(ctx, &leave.Employee{ID: "mgr-1", ManagerID: "mgr-0", Email: "mgr-1@example.com", FullName: "Morgan"}))
	require.NoError(t, f.store.PutEmployee(ctx, &leave.Employee{ID: "emp-1", ManagerID: "mgr-1", Email: "emp-1@example.com", FullName: "Emerson"}))
	require.NoError(t, f.store.PutLeaveType(ctx, &leave.LeaveType{
		ID: "annual", Name: "Annual", AnnualLimit: 20, EarnedLeave: true,
		CarryForward: true, MaxCarryForward: 5, CreatedAt: now, UpdatedAt: now,
	}))

	b := &leave.LeaveBalance{EmployeeID: "emp-1", LeaveTypeID: "annual", Year: 2024, Opening: 10, UpdatedAt: now}
	b.Recompute()
	require.NoError(t, f.store.PutBalance(ctx, b))
}

func (f *fixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

// =============================================================================
// REQUEST LIFECYCLE OVER HTTP
// =============================================================================

func TestAPI_SubmitApproveFlow(t *testing.T) {
	// GIVEN: An employee with 10 days for 2024
	// WHEN: Submitting a 3-working-day request and approving it as mgr-1
	// THEN: 201 then 200, and the balance endpoint shows used 3 / closing 7

	f := newFixture(t)
	f.seed(t)

	resp := f.do(t, http.MethodPost, "/api/employees/emp-1/requests", map[string]any{
		"leave_type_id": "annual",
		"start_date":    "2024-03-11",
		"end_date":      "2024-03-13",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[map[string]any](t, resp)
	assert.Equal(t, "PENDING", created["status"])
	assert.Equal(t, float64(3), created["working_days"])
	id := created["id"].(string)

	resp = f.do(t, http.MethodPost, "/api/requests/"+id+"/approve", map[string]any{
		"manager_id": "mgr-1",
		"comment":    "have fun",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	approved := decode[map[string]any](t, resp)
	assert.Equal(t, "APPROVED", approved["status"])

	resp = f.do(t, http.MethodGet, "/api/employees/emp-1/balances/annual/2024", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	balance := decode[map[string]any](t, resp)
	assert.Equal(t, float64(3), balance["used"])
	assert.Equal(t, float64(7), balance["closing"])
}

func TestAPI_Submit_InvalidDateFormat_BadRequest(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	resp := f.do(t, http.MethodPost, "/api/employees/emp-1/requests", map[string]any{
		"leave_type_id": "annual",
		"start_date":    "11/03/2024",
		"end_date":      "2024-03-13",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_Submit_InvertedDates_UnprocessableWithCode(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	resp := f.do(t, http.MethodPost, "/api/employees/emp-1/requests", map[string]any{
		"leave_type_id": "annual",
		"start_date":    "2024-03-15",
		"end_date":      "2024-03-11",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	body := decode[map[string]any](t, resp)
	assert.Equal(t, leave.CodeInvalidDateRange, body["code"])
}

func TestAPI_Submit_Overlap_Unprocessable(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	first := f.do(t, http.MethodPost, "/api/employees/emp-1/requests", map[string]any{
		"leave_type_id": "annual",
		"start_date":    "2024-03-11",
		"end_date":      "2024-03-13",
	})
	require.Equal(t, http.StatusCreated, first.StatusCode)

	resp := f.do(t, http.MethodPost, "/api/employees/emp-1/requests", map[string]any{
		"leave_type_id": "annual",
		"start_date":    "2024-03-12",
		"end_date":      "2024-03-14",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	body := decode[map[string]any](t, resp)
	assert.Equal(t, leave.CodeOverlapDetected, body["code"])
}

func TestAPI_Approve_WrongManager_Forbidden(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	resp := f.do(t, http.MethodPost, "/api/employees/emp-1/requests", map[string]any{
		"leave_type_id": "annual",
		"start_date":    "2024-03-11",
		"end_date":      "2024-03-13",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := decode[map[string]any](t, resp)["id"].(string)

	resp = f.do(t, http.MethodPost, "/api/requests/"+id+"/approve", map[string]any{
		"manager_id": "mgr-2",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAPI_GetRequest_Unknown_NotFound(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	resp := f.do(t, http.MethodGet, "/api/requests/ghost", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_CancelApproved_RestoresBalance(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	resp := f.do(t, http.MethodPost, "/api/employees/emp-1/requests", map[string]any{
		"leave_type_id": "annual",
		"start_date":    "2024-03-11",
		"end_date":      "2024-03-13",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := decode[map[string]any](t, resp)["id"].(string)

	resp = f.do(t, http.MethodPost, "/api/requests/"+id+"/approve", map[string]any{"manager_id": "mgr-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/requests/"+id+"/cancel", map[string]any{"actor_id": "emp-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/employees/emp-1/balances/annual/2024", nil)
	balance := decode[map[string]any](t, resp)
	assert.Equal(t, float64(0), balance["used"])
	assert.Equal(t, float64(10), balance["closing"])
}

// =============================================================================
// BALANCES AND TYPES
// =============================================================================

func TestAPI_InitBalance_ThenGet(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	resp := f.do(t, http.MethodPost, "/api/employees/emp-1/balances", map[string]any{
		"leave_type_id": "annual",
		"year":          2025,
		"opening":       4,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/employees/emp-1/balances/annual/2025", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	balance := decode[map[string]any](t, resp)
	assert.Equal(t, float64(4), balance["opening"])
	assert.Equal(t, float64(4), balance["closing"])
}

func TestAPI_GetBalance_InvalidYear_BadRequest(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	resp := f.do(t, http.MethodGet, "/api/employees/emp-1/balances/annual/not-a-year", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_PutLeaveType_RoundTrip(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPut, "/api/leave-types", map[string]any{
		"id":            "sick",
		"name":          "Sick",
		"annual_limit":  10,
		"monthly_limit": 3,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/leave-types/sick", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	lt := decode[map[string]any](t, resp)
	assert.Equal(t, "Sick", lt["name"])
	assert.Equal(t, float64(3), lt["monthly_limit"])
}

// =============================================================================
// ADMIN JOBS
// =============================================================================

func TestAPI_RunAccrual_CreditsAndRecordsRun(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	resp := f.do(t, http.MethodPost, "/api/admin/accrual", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	summary := decode[map[string]any](t, resp)
	assert.Equal(t, float64(1), summary["types_credited"])

	resp = f.do(t, http.MethodGet, "/api/admin/job-runs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	runs := decode[[]map[string]any](t, resp)
	require.Len(t, runs, 1)
	assert.Equal(t, leave.JobAccrual, runs[0]["job"])
	assert.Equal(t, "completed", runs[0]["status"])
}

func TestAPI_RunAccrualTwice_SecondSkips(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	first := f.do(t, http.MethodPost, "/api/admin/accrual", nil)
	require.Equal(t, http.StatusOK, first.StatusCode)

	second := f.do(t, http.MethodPost, "/api/admin/accrual", nil)
	require.Equal(t, http.StatusOK, second.StatusCode)
	summary := decode[map[string]any](t, second)
	assert.Equal(t, float64(0), summary["types_credited"])
	assert.Equal(t, float64(1), summary["types_skipped"])
}

func TestAPI_Health(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
