/*
Package generic provides the core approval workflow engine.

PURPOSE:
  This package contains domain-agnostic types and algorithms for moving an
  HR request through a multi-stage approval pipeline. Whether the request is
  a salary advance, a loan or a reward nomination, the same engine handles
  transition validation, assignment routing, authorization and timeline
  reconstruction. Each request family plugs in through a Definition.

KEY CONCEPTS IN THIS FILE (types.go):
  - Status: Lifecycle state of a workflow entity (Draft ... Approved)
  - Stage: A step of the approval pipeline (Requester, Reportee, HR, ...)
  - WorkflowStep: One entry of the append-only approval history
  - Entity: The persisted request with its history and assignment

DESIGN PRINCIPLES:
  1. Explicit history: every transition writes a step record
  2. Single pending step: at most one step is awaiting action
  3. Versioned writes: every mutation bumps Version for compare-and-swap
  4. Opaque payload: domain data travels as JSON the engine never inspects

USAGE:
  def := generic.MustLookupDefinition(loans.KindLoan)
  next, err := machine.RequestTransition(ctx, def, entity, generic.StatusPendingHR, actor)

SEE ALSO:
  - definition.go: Per-kind transition and stage tables
  - machine.go: Transition execution
  - guard.go: Authorization rules
  - timeline.go: Display timeline reconstruction
*/
package generic

import (
	"encoding/json"
	"strings"
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EntityID string
type EmployeeID string
type UserID string

// =============================================================================
// STATUS - Entity lifecycle state
// =============================================================================

type Status string

const (
	StatusDraft                Status = "Draft"
	StatusPending              Status = "Pending"
	StatusPendingHR            Status = "Pending HR"
	StatusPendingAccounts      Status = "Pending Accounts"
	StatusPendingAuthorization Status = "Pending Authorization"
	StatusApproved             Status = "Approved"
	StatusRejected             Status = "Rejected"
	StatusCancelled            Status = "Cancelled"
)

// AllStatuses lists every status known to the engine in pipeline order.
var AllStatuses = []Status{
	StatusDraft,
	StatusPending,
	StatusPendingHR,
	StatusPendingAccounts,
	StatusPendingAuthorization,
	StatusApproved,
	StatusRejected,
	StatusCancelled,
}

// IsTerminal reports whether no further transitions are permitted.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusCancelled
}

func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// ParseStatus accepts the canonical spelling case-insensitively.
func ParseStatus(raw string) (Status, bool) {
	for _, known := range AllStatuses {
		if strings.EqualFold(string(known), strings.TrimSpace(raw)) {
			return known, true
		}
	}
	return "", false
}

// =============================================================================
// STAGE - Position in the approval pipeline
// =============================================================================

type Stage string

const (
	StageRequester  Stage = "Requester"
	StageReportee   Stage = "Reportee"
	StageHR         Stage = "HR"
	StageAccounts   Stage = "Accounts"
	StageManagement Stage = "Management"
)

// =============================================================================
// WORKFLOW STEP - One entry in the approval history
// =============================================================================

type StepStatus string

const (
	StepPending   StepStatus = "Pending"
	StepApproved  StepStatus = "Approved"
	StepRejected  StepStatus = "Rejected"
	StepSubmitted StepStatus = "Submitted"
)

// Resolved reports whether the step has been acted upon.
func (s StepStatus) Resolved() bool {
	return s == StepApproved || s == StepRejected || s == StepSubmitted
}

type WorkflowStep struct {
	Stage      Stage
	AssignedAt time.Time
	ActionedAt *time.Time
	Status     StepStatus
	// ActorRef is who acted, or who is expected to act while pending.
	ActorRef string
	Note     string
}

// =============================================================================
// CERTIFICATE - Document produced on terminal approval
// =============================================================================

type Certificate struct {
	GeneratedAt       *time.Time
	NeedsRegeneration bool
	LastError         string
	Attempts          int
}

// =============================================================================
// REJECTION - Who rejected, kept for records without step-level history
// =============================================================================

type Rejection struct {
	ActorRef    string
	Department  string
	Designation string
	At          time.Time
}

// =============================================================================
// ENTITY - A request moving through the workflow
// =============================================================================

type Entity struct {
	ID           EntityID
	Kind         Kind
	Status       Status
	RequesterRef EmployeeID
	// AssignedTo holds either a user id or an employee id. Empty means unrouted.
	AssignedTo string
	History    []WorkflowStep

	// ManagerEmail snapshots the requester's reporting manager at creation so
	// the guard can apply the first-stage email fallback without a lookup.
	ManagerEmail string

	CreatedBy UserID
	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int

	Payload     json.RawMessage
	Rejection   *Rejection
	Certificate *Certificate
}

// Clone returns a deep copy so transitions never alias the caller's entity.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	out := *e
	if e.History != nil {
		out.History = make([]WorkflowStep, len(e.History))
		for i, step := range e.History {
			if step.ActionedAt != nil {
				at := *step.ActionedAt
				step.ActionedAt = &at
			}
			out.History[i] = step
		}
	}
	if e.Payload != nil {
		out.Payload = append(json.RawMessage(nil), e.Payload...)
	}
	if e.Rejection != nil {
		r := *e.Rejection
		out.Rejection = &r
	}
	if e.Certificate != nil {
		c := *e.Certificate
		if c.GeneratedAt != nil {
			at := *c.GeneratedAt
			c.GeneratedAt = &at
		}
		out.Certificate = &c
	}
	return &out
}

// PendingStepIndex returns the index of the unique pending step, or -1.
func (e *Entity) PendingStepIndex() int {
	for i := len(e.History) - 1; i >= 0; i-- {
		if e.History[i].Status == StepPending {
			return i
		}
	}
	return -1
}

// CountPendingSteps is used to assert the single-pending-step invariant.
func (e *Entity) CountPendingSteps() int {
	n := 0
	for _, step := range e.History {
		if step.Status == StepPending {
			n++
		}
	}
	return n
}

// LatestStep returns the most recent step recorded for a stage, or nil.
func (e *Entity) LatestStep(stage Stage) *WorkflowStep {
	for i := len(e.History) - 1; i >= 0; i-- {
		if e.History[i].Stage == stage {
			return &e.History[i]
		}
	}
	return nil
}

// IsRequester matches by employee record or by creator account. Legacy
// records may carry only one of the two.
func (e *Entity) IsRequester(a Actor) bool {
	if a.EmployeeRef != "" && a.EmployeeRef == e.RequesterRef {
		return true
	}
	return a.ID != "" && a.ID == e.CreatedBy
}
