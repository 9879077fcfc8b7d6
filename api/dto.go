/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Employee:
    EmployeeDTO, CreateEmployeeRequest, LimitsDTO

  Workflow:
    EntityDTO, StepDTO, CreateEntityRequest, TransitionRequest,
    TransitionResponse, StageViewDTO, ActionsDTO, AuditEntryDTO

  Scenarios:
    ScenarioDTO

SEE ALSO:
  - handlers.go: Uses these types
  - factory/payload.go: Payload JSON schemas
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/hr-workflow/generic"
)

// =============================================================================
// EMPLOYEES
// =============================================================================

type EmployeeDTO struct {
	ID               string `json:"id"`
	UserID           string `json:"user_id,omitempty"`
	Name             string `json:"name"`
	Email            string `json:"email,omitempty"`
	Department       string `json:"department,omitempty"`
	Designation      string `json:"designation,omitempty"`
	Role             string `json:"role,omitempty"`
	ManagerID        string `json:"manager_id,omitempty"`
	EmploymentStatus string `json:"employment_status,omitempty"`
	Salary           string `json:"salary"`
	VisaType         string `json:"visa_type,omitempty"`
	VisaExpiry       string `json:"visa_expiry,omitempty"`
}

type CreateEmployeeRequest struct {
	ID               string `json:"id" validate:"required,max=64"`
	UserID           string `json:"user_id" validate:"max=64"`
	Name             string `json:"name" validate:"required,max=200"`
	Email            string `json:"email" validate:"omitempty,email"`
	Department       string `json:"department" validate:"max=100"`
	Designation      string `json:"designation" validate:"max=100"`
	ManagerID        string `json:"manager_id" validate:"max=64"`
	EmploymentStatus string `json:"employment_status" validate:"omitempty,oneof=Permanent Probation Notice"`
	Salary           string `json:"salary" validate:"omitempty,numeric"`
	VisaType         string `json:"visa_type" validate:"omitempty,oneof=Employment Residence Visit"`
	VisaExpiry       string `json:"visa_expiry" validate:"omitempty,datetime=2006-01-02"`
}

func toEmployeeDTO(e generic.Employee) EmployeeDTO {
	dto := EmployeeDTO{
		ID:               string(e.ID),
		UserID:           string(e.UserID),
		Name:             e.Name,
		Email:            e.Email,
		Department:       e.Department,
		Designation:      e.Designation,
		Role:             string(e.Role),
		ManagerID:        string(e.ManagerID),
		EmploymentStatus: string(e.EmploymentStatus),
		Salary:           e.Salary.StringFixed(2),
		VisaType:         string(e.VisaType),
	}
	if e.VisaExpiry != nil {
		dto.VisaExpiry = e.VisaExpiry.Format("2006-01-02")
	}
	return dto
}

func (r CreateEmployeeRequest) toEmployee() (generic.Employee, error) {
	emp := generic.Employee{
		ID:               generic.EmployeeID(r.ID),
		UserID:           generic.UserID(r.UserID),
		Name:             r.Name,
		Email:            r.Email,
		Department:       r.Department,
		Designation:      r.Designation,
		ManagerID:        generic.EmployeeID(r.ManagerID),
		EmploymentStatus: generic.EmploymentStatus(r.EmploymentStatus),
		VisaType:         generic.VisaType(r.VisaType),
	}
	if emp.EmploymentStatus == "" {
		emp.EmploymentStatus = generic.EmploymentPermanent
	}
	if r.Salary != "" {
		salary, err := decimal.NewFromString(r.Salary)
		if err != nil {
			return emp, generic.NewValidationError("salary", "salary must be a number")
		}
		emp.Salary = salary
	}
	if r.VisaExpiry != "" {
		t, err := time.Parse("2006-01-02", r.VisaExpiry)
		if err != nil {
			return emp, generic.NewValidationError("visa_expiry", "visa expiry must look like 2006-01-02")
		}
		emp.VisaExpiry = &t
	}
	return emp, nil
}

type LimitsDTO struct {
	EmployeeID            string `json:"employee_id"`
	Type                  string `json:"type"`
	Blocked               bool   `json:"blocked"`
	Reason                string `json:"reason,omitempty"`
	MaxAmount             string `json:"max_amount"`
	MaxDurationMonths     int    `json:"max_duration_months"`
	MonthsUntilVisaExpiry *int   `json:"months_until_visa_expiry,omitempty"`
}

// =============================================================================
// WORKFLOW ENTITIES
// =============================================================================

type StepDTO struct {
	Stage      string     `json:"stage"`
	Status     string     `json:"status"`
	AssignedAt time.Time  `json:"assigned_at"`
	ActionedAt *time.Time `json:"actioned_at,omitempty"`
	ActorRef   string     `json:"actor_ref,omitempty"`
	Note       string     `json:"note,omitempty"`
}

type CertificateDTO struct {
	GeneratedAt       *time.Time `json:"generated_at,omitempty"`
	NeedsRegeneration bool       `json:"needs_regeneration"`
	LastError         string     `json:"last_error,omitempty"`
	Attempts          int        `json:"attempts"`
}

type SummaryLineDTO struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

type EntityDTO struct {
	ID              string           `json:"id"`
	Kind            string           `json:"kind"`
	Status          string           `json:"status"`
	RequesterRef    string           `json:"requester_ref"`
	AssignedTo      string           `json:"assigned_to,omitempty"`
	NextActionLabel string           `json:"next_action_label,omitempty"`
	Version         int              `json:"version"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	Payload         json.RawMessage  `json:"payload,omitempty"`
	Summary         []SummaryLineDTO `json:"summary,omitempty"`
	History         []StepDTO        `json:"history"`
	Certificate     *CertificateDTO  `json:"certificate,omitempty"`
}

func toEntityDTO(def *generic.Definition, e *generic.Entity) EntityDTO {
	dto := EntityDTO{
		ID:              string(e.ID),
		Kind:            string(e.Kind),
		Status:          string(e.Status),
		RequesterRef:    string(e.RequesterRef),
		AssignedTo:      e.AssignedTo,
		NextActionLabel: def.NextActionLabel(e.Status),
		Version:         e.Version,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
		Payload:         e.Payload,
		History:         make([]StepDTO, 0, len(e.History)),
	}
	for _, s := range e.History {
		dto.History = append(dto.History, StepDTO{
			Stage:      string(s.Stage),
			Status:     string(s.Status),
			AssignedAt: s.AssignedAt,
			ActionedAt: s.ActionedAt,
			ActorRef:   s.ActorRef,
			Note:       s.Note,
		})
	}
	if def.Summarize != nil {
		for _, line := range def.Summarize(e) {
			dto.Summary = append(dto.Summary, SummaryLineDTO{Label: line.Label, Value: line.Value})
		}
	}
	if c := e.Certificate; c != nil {
		dto.Certificate = &CertificateDTO{
			GeneratedAt:       c.GeneratedAt,
			NeedsRegeneration: c.NeedsRegeneration,
			LastError:         c.LastError,
			Attempts:          c.Attempts,
		}
	}
	return dto
}

// CreateEntityRequest creates a draft. OnBehalfOf is admin-only.
type CreateEntityRequest struct {
	OnBehalfOf string          `json:"on_behalf_of,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

type TransitionRequest struct {
	To   string `json:"to" validate:"required"`
	Note string `json:"note" validate:"max=1000"`
}

type TransitionResponse struct {
	Entity   EntityDTO `json:"entity"`
	From     string    `json:"from"`
	Warnings []string  `json:"warnings,omitempty"`
}

type StageViewDTO struct {
	Stage       string     `json:"stage"`
	Label       string     `json:"label"`
	State       string     `json:"state"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Duration    string     `json:"duration,omitempty"`
	Live        bool       `json:"live,omitempty"`
	ActorRef    string     `json:"actor_ref,omitempty"`
	Note        string     `json:"note,omitempty"`
	Inferred    bool       `json:"inferred,omitempty"`
}

func toStageViewDTOs(views []generic.StageView) []StageViewDTO {
	out := make([]StageViewDTO, 0, len(views))
	for _, v := range views {
		dto := StageViewDTO{
			Stage:       string(v.Stage),
			Label:       v.Label,
			State:       string(v.State),
			StartedAt:   v.StartedAt,
			CompletedAt: v.CompletedAt,
			Live:        v.Live,
			ActorRef:    v.ActorRef,
			Note:        v.Note,
			Inferred:    v.Inferred,
		}
		if v.Duration > 0 {
			dto.Duration = generic.FormatDuration(v.Duration)
		}
		out = append(out, dto)
	}
	return out
}

type TimelineResponse struct {
	EntityID string         `json:"entity_id"`
	Status   string         `json:"status"`
	Stages   []StageViewDTO `json:"stages"`
}

type ActionsDTO struct {
	NextActionLabel string          `json:"next_action_label,omitempty"`
	NextStatus      string          `json:"next_status,omitempty"`
	Allowed         map[string]bool `json:"allowed"`
}

func toActionsDTO(set generic.ActionSet) ActionsDTO {
	dto := ActionsDTO{
		NextActionLabel: set.NextActionLabel,
		NextStatus:      string(set.NextStatus),
		Allowed:         make(map[string]bool, len(set.Allowed)),
	}
	for a, ok := range set.Allowed {
		dto.Allowed[string(a)] = ok
	}
	return dto
}

type AuditEntryDTO struct {
	ID       string    `json:"id"`
	At       time.Time `json:"at"`
	ActorID  string    `json:"actor_id,omitempty"`
	Action   string    `json:"action"`
	EntityID string    `json:"entity_id"`
	From     string    `json:"from,omitempty"`
	To       string    `json:"to,omitempty"`
	Note     string    `json:"note,omitempty"`
}

// =============================================================================
// ERRORS / SCENARIOS
// =============================================================================

type ViolationDTO struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

type ErrorResponse struct {
	Error      string         `json:"error"`
	Code       string         `json:"code,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Retryable  bool           `json:"retryable,omitempty"`
	Violations []ViolationDTO `json:"violations,omitempty"`
}

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}
