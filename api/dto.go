/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

DATE FORMAT:
  Request dates travel as "YYYY-MM-DD" strings; timestamps as RFC 3339.

VALIDATION:
  Validation is done in handlers and the domain layer, not in DTOs.
  DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - leave/errors.go: Error codes surfaced in ErrorResponse
*/
package api

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/leave"
)

const dateFormat = "2006-01-02"

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// EmployeeDTO represents an employee in API responses.
type EmployeeDTO struct {
	ID        string `json:"id"`
	ManagerID string `json:"manager_id,omitempty"`
	Email     string `json:"email"`
	FullName  string `json:"full_name"`
}

// PutEmployeeRequest creates or updates an employee record.
type PutEmployeeRequest struct {
	ID        string `json:"id"`
	ManagerID string `json:"manager_id"`
	Email     string `json:"email"`
	FullName  string `json:"full_name"`
}

// LeaveTypeDTO represents a leave category in API responses.
type LeaveTypeDTO struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	AnnualLimit     int    `json:"annual_limit"`
	MonthlyLimit    int    `json:"monthly_limit"`
	QuarterlyLimit  int    `json:"quarterly_limit"`
	EarnedLeave     bool   `json:"earned_leave"`
	CarryForward    bool   `json:"carry_forward"`
	MaxCarryForward int    `json:"max_carry_forward"`
	CreatedAt       string `json:"created_at,omitempty"`
	UpdatedAt       string `json:"updated_at,omitempty"`
}

// PutLeaveTypeRequest creates or updates a leave category.
type PutLeaveTypeRequest struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	AnnualLimit     int    `json:"annual_limit"`
	MonthlyLimit    int    `json:"monthly_limit"`
	QuarterlyLimit  int    `json:"quarterly_limit"`
	EarnedLeave     bool   `json:"earned_leave"`
	CarryForward    bool   `json:"carry_forward"`
	MaxCarryForward int    `json:"max_carry_forward"`
}

// BalanceDTO represents one ledger row.
type BalanceDTO struct {
	EmployeeID  string `json:"employee_id"`
	LeaveTypeID string `json:"leave_type_id"`
	Year        int    `json:"year"`
	Opening     int    `json:"opening"`
	Earned      int    `json:"earned"`
	Used        int    `json:"used"`
	Closing     int    `json:"closing"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

// InitBalanceRequest seeds a ledger row for an employee/type/year.
type InitBalanceRequest struct {
	LeaveTypeID string `json:"leave_type_id"`
	Year        int    `json:"year"`
	Opening     int    `json:"opening"`
}

// RequestDTO represents a leave request in API responses.
type RequestDTO struct {
	ID             string  `json:"id"`
	EmployeeID     string  `json:"employee_id"`
	LeaveTypeID    string  `json:"leave_type_id"`
	ManagerID      string  `json:"manager_id,omitempty"`
	StartDate      string  `json:"start_date"`
	EndDate        string  `json:"end_date"`
	TotalDays      float64 `json:"total_days"`
	WorkingDays    int     `json:"working_days"`
	Status         string  `json:"status"`
	ManagerComment string  `json:"manager_comment,omitempty"`
	ApprovedAt     *string `json:"approved_at,omitempty"`
	RejectedAt     *string `json:"rejected_at,omitempty"`
	CreatedAt      string  `json:"created_at,omitempty"`
	UpdatedAt      string  `json:"updated_at,omitempty"`
}

// CreateRequestDTO submits a new leave request.
type CreateRequestDTO struct {
	LeaveTypeID string  `json:"leave_type_id"`
	StartDate   string  `json:"start_date"`
	EndDate     string  `json:"end_date"`
	TotalDays   float64 `json:"total_days,omitempty"`
}

// UpdateRequestDTO edits a pending leave request.
type UpdateRequestDTO struct {
	StartDate string  `json:"start_date"`
	EndDate   string  `json:"end_date"`
	TotalDays float64 `json:"total_days,omitempty"`
}

// DecideRequestDTO carries the manager decision on a request.
type DecideRequestDTO struct {
	ManagerID string `json:"manager_id"`
	Comment   string `json:"comment,omitempty"`
}

// CancelRequestDTO identifies who is cancelling.
type CancelRequestDTO struct {
	ActorID string `json:"actor_id"`
}

// JobRunDTO represents a scheduler run record.
type JobRunDTO struct {
	ID          string  `json:"id"`
	Job         string  `json:"job"`
	LeaveTypeID string  `json:"leave_type_id"`
	Year        int     `json:"year"`
	Month       int     `json:"month,omitempty"`
	Status      string  `json:"status"`
	Detail      string  `json:"detail,omitempty"`
	Error       string  `json:"error,omitempty"`
	StartedAt   string  `json:"started_at"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

// AccrualRunDTO summarizes a manual accrual trigger.
type AccrualRunDTO struct {
	Year          int `json:"year"`
	Month         int `json:"month"`
	TypesCredited int `json:"types_credited"`
	TypesSkipped  int `json:"types_skipped"`
	TypesFailed   int `json:"types_failed"`
	RowsCredited  int `json:"rows_credited"`
}

// CarryForwardRunDTO summarizes a manual carry-forward trigger.
type CarryForwardRunDTO struct {
	FromYear       int `json:"from_year"`
	ToYear         int `json:"to_year"`
	TypesProcessed int `json:"types_processed"`
	TypesSkipped   int `json:"types_skipped"`
	TypesFailed    int `json:"types_failed"`
	RowsCarried    int `json:"rows_carried"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toEmployeeDTO(e leave.Employee) EmployeeDTO {
	return EmployeeDTO{
		ID:        e.ID,
		ManagerID: e.ManagerID,
		Email:     e.Email,
		FullName:  e.FullName,
	}
}

func toLeaveTypeDTO(lt leave.LeaveType) LeaveTypeDTO {
	return LeaveTypeDTO{
		ID:              lt.ID,
		Name:            lt.Name,
		AnnualLimit:     lt.AnnualLimit,
		MonthlyLimit:    lt.MonthlyLimit,
		QuarterlyLimit:  lt.QuarterlyLimit,
		EarnedLeave:     lt.EarnedLeave,
		CarryForward:    lt.CarryForward,
		MaxCarryForward: lt.MaxCarryForward,
		CreatedAt:       lt.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       lt.UpdatedAt.Format(time.RFC3339),
	}
}

func toBalanceDTO(b leave.LeaveBalance) BalanceDTO {
	return BalanceDTO{
		EmployeeID:  b.EmployeeID,
		LeaveTypeID: b.LeaveTypeID,
		Year:        b.Year,
		Opening:     b.Opening,
		Earned:      b.Earned,
		Used:        b.Used,
		Closing:     b.Closing,
		UpdatedAt:   b.UpdatedAt.Format(time.RFC3339),
	}
}

func toRequestDTO(r leave.LeaveRequest) RequestDTO {
	totalDays, _ := r.RequestedDays().Float64()
	return RequestDTO{
		ID:             r.ID,
		EmployeeID:     r.EmployeeID,
		LeaveTypeID:    r.LeaveTypeID,
		ManagerID:      r.ManagerID,
		StartDate:      r.StartDate.Format(dateFormat),
		EndDate:        r.EndDate.Format(dateFormat),
		TotalDays:      totalDays,
		WorkingDays:    r.WorkingDays(),
		Status:         string(r.Status),
		ManagerComment: r.ManagerComment,
		ApprovedAt:     timeStrPtr(r.ApprovedAt),
		RejectedAt:     timeStrPtr(r.RejectedAt),
		CreatedAt:      r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      r.UpdatedAt.Format(time.RFC3339),
	}
}

func toRequestDTOs(rs []leave.LeaveRequest) []RequestDTO {
	dtos := make([]RequestDTO, len(rs))
	for i, r := range rs {
		dtos[i] = toRequestDTO(r)
	}
	return dtos
}

func toJobRunDTO(run leave.JobRun) JobRunDTO {
	return JobRunDTO{
		ID:          run.ID,
		Job:         run.Job,
		LeaveTypeID: run.LeaveTypeID,
		Year:        run.Year,
		Month:       run.Month,
		Status:      run.Status,
		Detail:      run.Detail,
		Error:       run.Error,
		StartedAt:   run.StartedAt.Format(time.RFC3339),
		CompletedAt: timeStrPtr(run.CompletedAt),
	}
}

func timeStrPtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

func parseDate(field, value string) (time.Time, error) {
	t, err := time.Parse(dateFormat, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s format (use YYYY-MM-DD)", field)
	}
	return t, nil
}

func declaredDays(v float64) decimal.Decimal {
	if v <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(v)
}
