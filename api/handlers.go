/*
handlers.go - HTTP API handlers for the leave engine

PURPOSE:
  Exposes the leave engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Employees:
    GET    /api/employees               List all employees
    PUT    /api/employees               Create or update employee
    GET    /api/employees/{id}          Get employee details
    GET    /api/employees/{id}/requests Request history
    GET    /api/employees/{id}/balances/{typeID}/{year}  Get ledger row
    POST   /api/employees/{id}/balances Seed a ledger row

  Leave types:
    GET    /api/leave-types             List categories
    PUT    /api/leave-types             Create or update category
    GET    /api/leave-types/{id}        Get category

  Requests:
    POST   /api/requests                Submit leave request
    GET    /api/requests/pending        Manager approval queue
    GET    /api/requests/{id}           Get request
    PUT    /api/requests/{id}           Edit pending request
    POST   /api/requests/{id}/approve   Approve (deducts balance)
    POST   /api/requests/{id}/reject    Reject
    POST   /api/requests/{id}/cancel    Cancel (restores if approved)

  Admin:
    POST   /api/admin/accrual           Run monthly accrual now
    POST   /api/admin/carry-forward     Run yearly carry-forward now
    GET    /api/admin/job-runs          Scheduler run history

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Requests: request lifecycle service
  - Ledger:   balance arithmetic
  - Store:    direct reads for listings

ERROR HANDLING:
  Malformed bodies and unparseable dates fail at the handler with 400.
  Domain errors map to HTTP status by classification:
  - 422: business rule violations (date range, overlap, limits, balance,
         transitions)
  - 404: not found
  - 403: manager mismatch
  - 500: everything else

SECURITY NOTE:
  Currently NO authentication or authorization. Caller identity travels
  in request bodies. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Requests     *leave.RequestService
	Ledger       *leave.BalanceLedger
	Accrual      *leave.AccrualJob
	CarryForward *leave.CarryForwardJob
	Store        leave.TxStore

	logger *zap.Logger
	clock  func() time.Time
}

// NewHandler creates a new handler with the given dependencies.
func NewHandler(requests *leave.RequestService, ledger *leave.BalanceLedger,
	accrual *leave.AccrualJob, carryForward *leave.CarryForwardJob,
	store leave.TxStore, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Requests:     requests,
		Ledger:       ledger,
		Accrual:      accrual,
		CarryForward: carryForward,
		Store:        store,
		logger:       logger.Named("api"),
		clock:        time.Now,
	}
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// ListEmployees returns all employees.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Store.Employees(r.Context())
	if err != nil {
		h.writeDomainError(w, err, "Failed to list employees")
		return
	}

	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = toEmployeeDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetEmployee returns a single employee.
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	emp, err := h.Store.FindByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err, "Failed to get employee")
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(*emp))
}

// PutEmployee creates or updates an employee.
func (h *Handler) PutEmployee(w http.ResponseWriter, r *http.Request) {
	var req PutEmployeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required", nil)
		return
	}

	emp := leave.Employee{
		ID:        req.ID,
		ManagerID: req.ManagerID,
		Email:     req.Email,
		FullName:  req.FullName,
	}
	if err := h.Store.PutEmployee(r.Context(), &emp); err != nil {
		h.writeDomainError(w, err, "Failed to save employee")
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(emp))
}

// ListEmployeeRequests returns an employee's request history.
func (h *Handler) ListEmployeeRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := h.Requests.ListByEmployee(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err, "Failed to list requests")
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTOs(requests))
}

// =============================================================================
// BALANCE HANDLERS
// =============================================================================

// GetBalance returns one ledger row.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	year, err := parseYear(chi.URLParam(r, "year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	key := leave.BalanceKey{
		EmployeeID:  chi.URLParam(r, "id"),
		LeaveTypeID: chi.URLParam(r, "typeID"),
		Year:        year,
	}
	b, err := h.Ledger.Balance(r.Context(), key)
	if err != nil {
		h.writeDomainError(w, err, "Failed to get balance")
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(*b))
}

// InitBalance seeds a ledger row with an opening balance. Re-posting for an
// existing row returns the row unchanged.
func (h *Handler) InitBalance(w http.ResponseWriter, r *http.Request) {
	var req InitBalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.LeaveTypeID == "" || req.Year == 0 {
		writeError(w, http.StatusBadRequest, "leave_type_id and year are required", nil)
		return
	}

	key := leave.BalanceKey{
		EmployeeID:  chi.URLParam(r, "id"),
		LeaveTypeID: req.LeaveTypeID,
		Year:        req.Year,
	}
	b, err := h.Ledger.Init(r.Context(), key, req.Opening)
	if err != nil {
		h.writeDomainError(w, err, "Failed to init balance")
		return
	}
	writeJSON(w, http.StatusCreated, toBalanceDTO(*b))
}

// =============================================================================
// LEAVE TYPE HANDLERS
// =============================================================================

// ListLeaveTypes returns all leave categories.
func (h *Handler) ListLeaveTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.Store.LeaveTypes(r.Context())
	if err != nil {
		h.writeDomainError(w, err, "Failed to list leave types")
		return
	}

	dtos := make([]LeaveTypeDTO, len(types))
	for i, lt := range types {
		dtos[i] = toLeaveTypeDTO(lt)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetLeaveType returns a single leave category.
func (h *Handler) GetLeaveType(w http.ResponseWriter, r *http.Request) {
	lt, err := h.Store.LeaveType(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err, "Failed to get leave type")
		return
	}
	writeJSON(w, http.StatusOK, toLeaveTypeDTO(*lt))
}

// PutLeaveType creates or updates a leave category.
func (h *Handler) PutLeaveType(w http.ResponseWriter, r *http.Request) {
	var req PutLeaveTypeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}

	now := h.clock().UTC()
	lt := leave.LeaveType{
		ID:              req.ID,
		Name:            req.Name,
		AnnualLimit:     req.AnnualLimit,
		MonthlyLimit:    req.MonthlyLimit,
		QuarterlyLimit:  req.QuarterlyLimit,
		EarnedLeave:     req.EarnedLeave,
		CarryForward:    req.CarryForward,
		MaxCarryForward: req.MaxCarryForward,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if existing, err := h.Store.LeaveType(r.Context(), req.ID); err == nil {
		lt.CreatedAt = existing.CreatedAt
	}
	if err := h.Store.PutLeaveType(r.Context(), &lt); err != nil {
		h.writeDomainError(w, err, "Failed to save leave type")
		return
	}
	writeJSON(w, http.StatusOK, toLeaveTypeDTO(lt))
}

// =============================================================================
// REQUEST HANDLERS
// =============================================================================

// SubmitRequest creates a new leave request for the employee in the body.
func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	employeeID := chi.URLParam(r, "id")

	var req CreateRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	start, err := parseDate("start_date", req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	end, err := parseDate("end_date", req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	created, err := h.Requests.Create(r.Context(), leave.CreateRequestInput{
		EmployeeID:  employeeID,
		LeaveTypeID: req.LeaveTypeID,
		StartDate:   start,
		EndDate:     end,
		TotalDays:   declaredDays(req.TotalDays),
	})
	if err != nil {
		h.writeDomainError(w, err, "Failed to create request")
		return
	}
	writeJSON(w, http.StatusCreated, toRequestDTO(*created))
}

// GetRequest returns a single request.
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.Requests.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err, "Failed to get request")
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(*req))
}

// UpdateRequest edits a pending request's dates.
func (h *Handler) UpdateRequest(w http.ResponseWriter, r *http.Request) {
	var req UpdateRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	start, err := parseDate("start_date", req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	end, err := parseDate("end_date", req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	updated, err := h.Requests.Update(r.Context(), chi.URLParam(r, "id"), leave.UpdateRequestInput{
		StartDate: start,
		EndDate:   end,
		TotalDays: declaredDays(req.TotalDays),
	})
	if err != nil {
		h.writeDomainError(w, err, "Failed to update request")
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(*updated))
}

// ListPendingRequests returns the approval queue, optionally scoped to one
// manager via ?manager_id=.
func (h *Handler) ListPendingRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := h.Requests.ListPending(r.Context(), r.URL.Query().Get("manager_id"))
	if err != nil {
		h.writeDomainError(w, err, "Failed to list pending requests")
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTOs(requests))
}

// ApproveRequest approves a pending request and deducts the balance.
func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	var body DecideRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if body.ManagerID == "" {
		writeError(w, http.StatusBadRequest, "manager_id is required", nil)
		return
	}

	approved, err := h.Requests.Approve(r.Context(), chi.URLParam(r, "id"), body.ManagerID, body.Comment)
	if err != nil {
		h.writeDomainError(w, err, "Failed to approve request")
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(*approved))
}

// RejectRequest rejects a pending request. The ledger is untouched.
func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	var body DecideRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if body.ManagerID == "" {
		writeError(w, http.StatusBadRequest, "manager_id is required", nil)
		return
	}

	rejected, err := h.Requests.Reject(r.Context(), chi.URLParam(r, "id"), body.ManagerID, body.Comment)
	if err != nil {
		h.writeDomainError(w, err, "Failed to reject request")
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(*rejected))
}

// CancelRequest cancels a pending or approved request. Cancelling an
// approved request restores the deducted days.
func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	var body CancelRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	cancelled, err := h.Requests.Cancel(r.Context(), chi.URLParam(r, "id"), body.ActorID)
	if err != nil {
		h.writeDomainError(w, err, "Failed to cancel request")
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(*cancelled))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// RunAccrual triggers the monthly accrual job immediately.
func (h *Handler) RunAccrual(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Accrual.Run(r.Context(), h.clock())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Accrual run failed", err)
		return
	}
	writeJSON(w, http.StatusOK, AccrualRunDTO{
		Year:          summary.Year,
		Month:         summary.Month,
		TypesCredited: summary.TypesCredited,
		TypesSkipped:  summary.TypesSkipped,
		TypesFailed:   summary.TypesFailed,
		RowsCredited:  summary.RowsCredited,
	})
}

// RunCarryForward triggers the yearly carry-forward job immediately.
func (h *Handler) RunCarryForward(w http.ResponseWriter, r *http.Request) {
	summary, err := h.CarryForward.Run(r.Context(), h.clock())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Carry-forward run failed", err)
		return
	}
	writeJSON(w, http.StatusOK, CarryForwardRunDTO{
		FromYear:       summary.FromYear,
		ToYear:         summary.ToYear,
		TypesProcessed: summary.TypesCarried,
		TypesSkipped:   summary.TypesSkipped,
		TypesFailed:    summary.TypesFailed,
		RowsCarried:    summary.RowsCarried,
	})
}

// ListJobRuns returns the scheduler run history, newest first.
func (h *Handler) ListJobRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Store.JobRuns(r.Context(), 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list job runs", err)
		return
	}

	dtos := make([]JobRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toJobRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps a domain error to an HTTP status by classification.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error, message string) {
	status := http.StatusInternalServerError
	switch {
	case leave.IsNotFound(err):
		status = http.StatusNotFound
	case leave.IsUnauthorized(err):
		status = http.StatusForbidden
	case leave.IsBusinessRule(err):
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, ErrorResponse{
		Error:   message,
		Code:    leave.ErrorCode(err),
		Details: err.Error(),
	})
}

func parseYear(value string) (int, error) {
	year, err := strconv.Atoi(value)
	if err != nil || year < 1970 || year > 9999 {
		return 0, fmt.Errorf("invalid year (use YYYY)")
	}
	return year, nil
}
