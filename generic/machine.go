/*
machine.go - Workflow state machine

PURPOSE:
  Validates and executes a single requested transition against the
  per-kind transition table. The result is a new entity value; nothing is
  persisted here. The engine is responsible for the compare-and-swap write.

TRANSITION EFFECTS:
  - Status and UpdatedAt change, Version increments
  - The unique pending step (if any) is closed with ActionedAt and the outcome
  - Forward moves append a new pending step for the next stage and set
    AssignedTo from the router
  - Rejection with no pending step (an admin rejecting a draft) still writes
    an explicit Rejected step, so timelines never need to guess
  - Terminal moves clear AssignedTo

ERRORS:
  - TerminalStateViolation: entity already Approved, Rejected or Cancelled
  - InvalidTransition: target is not a direct successor
  - Unauthorized: the guard refuses the actor

SEE ALSO:
  - definition.go: Transition tables
  - guard.go: Authorization
  - engine.go: Persistence and side effects
*/
package generic

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

type Machine struct {
	Guard  *Guard
	Router *Router
	Clock  func() time.Time
}

func NewMachine(guard *Guard, router *Router) *Machine {
	return &Machine{Guard: guard, Router: router, Clock: time.Now}
}

func (m *Machine) now() time.Time {
	if m.Clock != nil {
		return m.Clock().UTC()
	}
	return time.Now().UTC()
}

// RequestTransition returns the entity as it would be after moving to `to`.
// The input entity is never modified.
func (m *Machine) RequestTransition(ctx context.Context, def *Definition, e *Entity, to Status, actor Actor, note string) (*Entity, error) {
	if e.Kind != def.Kind {
		return nil, errors.Wrapf(ErrInvariantViolation, "entity %s is a %s, not a %s", e.ID, e.Kind, def.Kind)
	}
	if e.Status.IsTerminal() {
		return nil, &TransitionError{
			Code:     CodeTerminalState,
			Reason:   fmt.Sprintf("request is already %s and cannot change", strings.ToLower(string(e.Status))),
			EntityID: e.ID, Kind: e.Kind, From: e.Status, To: to,
		}
	}
	if _, ok := def.Edge(e.Status, to); !ok {
		return nil, &TransitionError{
			Code:     CodeInvalidTransition,
			Reason:   fmt.Sprintf("a %s request cannot move to %s", e.Status, to),
			EntityID: e.ID, Kind: e.Kind, From: e.Status, To: to,
		}
	}
	if err := m.Guard.Authorize(def, e, actor, to); err != nil {
		return nil, err
	}

	now := m.now()
	next := e.Clone()
	actorRef := string(actor.ID)
	if actor.EmployeeRef != "" {
		actorRef = string(actor.EmployeeRef)
	}

	outcome := StepApproved
	if to == StatusRejected || to == StatusCancelled {
		outcome = StepRejected
	}
	if i := next.PendingStepIndex(); i >= 0 {
		step := &next.History[i]
		step.ActionedAt = &now
		step.Status = outcome
		step.ActorRef = actorRef
		step.Note = note
	} else if to == StatusRejected {
		stage, _ := def.StageForStatus(e.Status)
		next.History = append(next.History, WorkflowStep{
			Stage:      stage.Stage,
			AssignedAt: now,
			ActionedAt: &now,
			Status:     StepRejected,
			ActorRef:   actorRef,
			Note:       note,
		})
	}

	switch to {
	case StatusRejected:
		next.Rejection = &Rejection{
			ActorRef:    actorRef,
			Department:  actor.Department,
			Designation: actor.Designation,
			At:          now,
		}
		next.AssignedTo = ""
	case StatusApproved, StatusCancelled:
		next.AssignedTo = ""
	default:
		stage, ok := def.StageForStatus(to)
		if !ok {
			return nil, errors.Wrapf(ErrInvariantViolation, "%s has no stage for %s", def.Kind, to)
		}
		assignee, err := m.Router.Route(ctx, def, next, to)
		if err != nil {
			return nil, err
		}
		next.History = append(next.History, WorkflowStep{
			Stage:      stage.Stage,
			AssignedAt: now,
			Status:     StepPending,
			ActorRef:   assignee,
		})
		next.AssignedTo = assignee
	}

	next.Status = to
	next.UpdatedAt = now
	next.Version++

	if err := CheckInvariants(def, next); err != nil {
		return nil, err
	}
	return next, nil
}

// CheckInvariants asserts the single-pending-step rule and that the pending
// step belongs to the stage current at the entity's status.
func CheckInvariants(def *Definition, e *Entity) error {
	pending := e.CountPendingSteps()
	if pending > 1 {
		return errors.Wrapf(ErrInvariantViolation, "%s has %d pending steps", e.ID, pending)
	}
	if e.Status.IsTerminal() || e.Status == StatusDraft {
		if pending != 0 {
			return errors.Wrapf(ErrInvariantViolation, "%s is %s but has a pending step", e.ID, e.Status)
		}
		return nil
	}
	if pending == 0 {
		// Legacy records may lack step history; nothing to compare.
		return nil
	}
	stage, _ := def.StageForStatus(e.Status)
	if got := e.History[e.PendingStepIndex()].Stage; got != stage.Stage {
		return errors.Wrapf(ErrInvariantViolation, "%s pending step is %s, status expects %s", e.ID, got, stage.Stage)
	}
	return nil
}
