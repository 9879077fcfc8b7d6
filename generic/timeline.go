/*
timeline.go - Display timeline reconstruction

PURPOSE:
  Derives the stage-by-stage view of an entity for read-only display. The
  result is a pure function of the entity and `now`; only the live duration
  of the current stage depends on `now`.

ALGORITHM:
  Stage 0 (Requester) is completed as soon as the entity exists. For every
  later stage, in order:
    1. A rejection earlier in the pipeline blocks the stage
    2. An explicit WorkflowStep for the stage decides its status
    3. For a rejected entity without a step record, the rejection index
       decides (legacy data only)
    4. A current stage earlier in the pipeline leaves it pending
    5. Otherwise the status is inferred from the entity's coarse Status

  Explicit step records always win over inference. Entities written by this
  engine always carry explicit records; the inference exists for history
  imported from before step-level tracking.

SEE ALSO:
  - definition.go: Stage table
  - machine.go: Writes the step records read here
*/
package generic

import (
	"time"
)

type StageState string

const (
	StageCompleted StageState = "completed"
	StageCurrent   StageState = "current"
	StageRejected  StageState = "rejected"
	StageBlocked   StageState = "blocked"
	StagePending   StageState = "pending"
)

type StageView struct {
	Stage       Stage
	Label       string
	State       StageState
	StartedAt   *time.Time
	CompletedAt *time.Time
	Duration    time.Duration
	// Live is true when Duration was measured against now.
	Live     bool
	ActorRef string
	Note     string
	Inferred bool
}

// BuildTimeline reconstructs the stage views for e.
func BuildTimeline(def *Definition, e *Entity, now time.Time) []StageView {
	views := make([]StageView, len(def.Stages))
	rejectIdx := -1
	if e.Status == StatusRejected && !hasExplicitRejection(e) {
		rejectIdx = legacyRejectionIndex(def, e)
	}

	created := e.CreatedAt
	views[0] = StageView{
		Stage:       def.Stages[0].Stage,
		Label:       def.Stages[0].Label,
		State:       StageCompleted,
		StartedAt:   &created,
		CompletedAt: &created,
		ActorRef:    string(e.RequesterRef),
	}
	if step := e.LatestStep(StageRequester); step != nil && step.Status == StepRejected {
		// A draft rejected outright by an administrator.
		views[0].Note = step.Note
		rejectIdx = 0
	}

	prevEnd := created
	halted := rejectIdx == 0
	sawCurrent := false
	for i := 1; i < len(def.Stages); i++ {
		sd := def.Stages[i]
		v := StageView{Stage: sd.Stage, Label: sd.Label}
		step := e.LatestStep(sd.Stage)

		switch {
		case halted:
			v.State = StageBlocked
		case step != nil:
			applyStep(&v, step, prevEnd, now)
			switch v.State {
			case StageRejected:
				halted = true
			case StageCurrent:
				sawCurrent = true
			}
		case i == rejectIdx:
			v.State = StageRejected
			v.Inferred = true
			if e.Rejection != nil {
				at := e.Rejection.At
				v.CompletedAt = &at
				v.Duration = at.Sub(prevEnd)
				v.ActorRef = e.Rejection.ActorRef
			}
			halted = true
		case sawCurrent:
			v.State = StagePending
		default:
			v.State = inferState(def, e, i, rejectIdx)
			v.Inferred = true
			if v.State == StageCurrent {
				sawCurrent = true
				start := e.UpdatedAt
				v.StartedAt = &start
				v.Duration = now.Sub(start)
				v.Live = true
			}
		}

		if v.CompletedAt != nil {
			prevEnd = *v.CompletedAt
		}
		views[i] = v
	}
	return views
}

func applyStep(v *StageView, step *WorkflowStep, prevEnd, now time.Time) {
	assigned := step.AssignedAt
	v.StartedAt = &assigned
	v.ActorRef = step.ActorRef
	v.Note = step.Note
	switch step.Status {
	case StepApproved, StepSubmitted:
		v.State = StageCompleted
	case StepRejected:
		v.State = StageRejected
	default:
		v.State = StageCurrent
		v.Duration = now.Sub(step.AssignedAt)
		v.Live = true
		return
	}
	if step.ActionedAt != nil {
		at := *step.ActionedAt
		v.CompletedAt = &at
		v.Duration = at.Sub(prevEnd)
	}
}

// inferState places stage i relative to the entity's coarse status.
func inferState(def *Definition, e *Entity, i, rejectIdx int) StageState {
	switch e.Status {
	case StatusApproved:
		return StageCompleted
	case StatusDraft:
		return StagePending
	case StatusRejected:
		if i < rejectIdx {
			return StageCompleted
		}
		return StageBlocked
	case StatusCancelled:
		return StageBlocked
	}
	cur := def.StageIndexForStatus(e.Status)
	switch {
	case cur < 0:
		return StagePending
	case i < cur:
		return StageCompleted
	case i == cur:
		return StageCurrent
	default:
		return StagePending
	}
}

func hasExplicitRejection(e *Entity) bool {
	for _, step := range e.History {
		if step.Status == StepRejected {
			return true
		}
	}
	return false
}

// legacyRejectionIndex guesses which stage rejected a record that has no
// step-level rejection. It uses the rejecting actor's department and
// designation when known, otherwise the first stage without a completed step.
func legacyRejectionIndex(def *Definition, e *Entity) int {
	if e.Rejection != nil && (e.Rejection.Department != "" || e.Rejection.Designation != "") {
		role := CanonicalRole(e.Rejection.Department, e.Rejection.Designation)
		for i, sd := range def.Stages {
			if i > 0 && role != OrgRoleNone && sd.Role == role {
				return i
			}
		}
		if role == OrgRoleNone {
			if i := def.StageIndex(StageReportee); i > 0 {
				return i
			}
		}
	}
	for i := 1; i < len(def.Stages); i++ {
		step := e.LatestStep(def.Stages[i].Stage)
		if step == nil || !step.Status.Resolved() {
			return i
		}
	}
	return len(def.Stages) - 1
}
