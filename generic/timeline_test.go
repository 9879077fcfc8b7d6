package generic_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/hr-workflow/generic"
	"github.com/warp/hr-workflow/loans"
	"github.com/warp/hr-workflow/rewards"
)

func states(views []generic.StageView) []generic.StageState {
	out := make([]generic.StageState, len(views))
	for i, v := range views {
		out[i] = v.State
	}
	return out
}

func at(hoursAgo int) *time.Time {
	t := testNow.Add(-time.Duration(hoursAgo) * time.Hour)
	return &t
}

func step(stage generic.Stage, status generic.StepStatus, assignedHoursAgo int, actioned *time.Time, actor string) generic.WorkflowStep {
	return generic.WorkflowStep{
		Stage:      stage,
		AssignedAt: *at(assignedHoursAgo),
		ActionedAt: actioned,
		Status:     status,
		ActorRef:   actor,
	}
}

// =============================================================================
// EXPLICIT HISTORY
// =============================================================================

func TestTimeline_InFlight(t *testing.T) {
	// GIVEN: A loan created 48h ago, approved by the manager 24h ago, now with HR
	ent := draftLoan()
	ent.Status = generic.StatusPendingHR
	ent.History = []generic.WorkflowStep{
		step(generic.StageReportee, generic.StepApproved, 40, at(24), "e-mgr"),
		step(generic.StageHR, generic.StepPending, 24, nil, "e-hr"),
	}

	views := generic.BuildTimeline(loans.Definition(), ent, testNow)

	require.Len(t, views, 5)
	assert.Equal(t, []generic.StageState{
		generic.StageCompleted, // Requester
		generic.StageCompleted, // Manager
		generic.StageCurrent,   // HR
		generic.StagePending,   // Accounts
		generic.StagePending,   // CEO
	}, states(views))

	assert.Equal(t, "e-dev", views[0].ActorRef)
	assert.Equal(t, 24*time.Hour, views[1].Duration, "measured from creation to the manager's action")
	assert.Equal(t, "e-mgr", views[1].ActorRef)

	assert.True(t, views[2].Live)
	assert.Equal(t, 24*time.Hour, views[2].Duration)
	assert.Nil(t, views[2].CompletedAt)
	assert.False(t, views[2].Inferred)
}

func TestTimeline_LiveDurationTracksNow(t *testing.T) {
	ent := draftLoan()
	ent.Status = generic.StatusPending
	ent.History = []generic.WorkflowStep{step(generic.StageReportee, generic.StepPending, 3, nil, "e-mgr")}
	def := loans.Definition()

	first := generic.BuildTimeline(def, ent, testNow)
	later := generic.BuildTimeline(def, ent, testNow.Add(2*time.Hour))

	assert.Equal(t, 3*time.Hour, first[1].Duration)
	assert.Equal(t, 5*time.Hour, later[1].Duration)
	assert.Equal(t, first[0], later[0], "completed stages do not depend on now")
}

func TestTimeline_ExplicitRejectionWinsOverInference(t *testing.T) {
	// GIVEN: HR rejected, but the rejection snapshot names a Finance department
	ent := draftLoan()
	ent.Status = generic.StatusRejected
	ent.AssignedTo = ""
	ent.History = []generic.WorkflowStep{
		step(generic.StageReportee, generic.StepApproved, 40, at(30), "e-mgr"),
		step(generic.StageHR, generic.StepRejected, 30, at(2), "e-hr"),
	}
	ent.Rejection = &generic.Rejection{ActorRef: "e-fin", Department: "Finance", At: *at(2)}

	views := generic.BuildTimeline(loans.Definition(), ent, testNow)

	assert.Equal(t, []generic.StageState{
		generic.StageCompleted,
		generic.StageCompleted,
		generic.StageRejected,
		generic.StageBlocked,
		generic.StageBlocked,
	}, states(views))
	assert.False(t, views[2].Inferred)
	assert.Equal(t, "e-hr", views[2].ActorRef)
}

func TestTimeline_ApprovedReward(t *testing.T) {
	ent := draftLoan()
	ent.Kind = rewards.KindReward
	ent.Status = generic.StatusApproved
	ent.History = []generic.WorkflowStep{
		step(generic.StageReportee, generic.StepApproved, 40, at(20), "e-mgr"),
		step(generic.StageManagement, generic.StepApproved, 20, at(1), "e-ceo"),
	}

	views := generic.BuildTimeline(rewards.Definition(), ent, testNow)

	require.Len(t, views, 3)
	assert.Equal(t, []generic.StageState{generic.StageCompleted, generic.StageCompleted, generic.StageCompleted}, states(views))
	assert.Equal(t, 19*time.Hour, views[2].Duration)
}

func TestTimeline_AdminRejectedDraft(t *testing.T) {
	ent := draftLoan()
	ent.Status = generic.StatusRejected
	ent.History = []generic.WorkflowStep{step(generic.StageRequester, generic.StepRejected, 1, at(1), "u-admin")}
	ent.History[0].Note = "duplicate"

	views := generic.BuildTimeline(loans.Definition(), ent, testNow)

	assert.Equal(t, generic.StageCompleted, views[0].State)
	assert.Equal(t, "duplicate", views[0].Note)
	for _, v := range views[1:] {
		assert.Equal(t, generic.StageBlocked, v.State, v.Stage)
	}
}

func TestTimeline_CancelledDraft(t *testing.T) {
	ent := draftLoan()
	ent.Status = generic.StatusCancelled

	views := generic.BuildTimeline(loans.Definition(), ent, testNow)

	assert.Equal(t, generic.StageCompleted, views[0].State)
	for _, v := range views[1:] {
		assert.Equal(t, generic.StageBlocked, v.State, v.Stage)
	}
}

// =============================================================================
// LEGACY RECORDS (no step-level history)
// =============================================================================

func TestTimeline_Legacy_RejectionByDepartment(t *testing.T) {
	// GIVEN: A rejected loan with only the manager's step and a Finance rejector
	ent := draftLoan()
	ent.Status = generic.StatusRejected
	ent.History = []generic.WorkflowStep{step(generic.StageReportee, generic.StepApproved, 40, at(30), "e-mgr")}
	ent.Rejection = &generic.Rejection{ActorRef: "e-fin", Department: "Accounts", At: *at(2)}

	views := generic.BuildTimeline(loans.Definition(), ent, testNow)

	// THEN: Accounts is the rejecting stage, HR before it is completed
	assert.Equal(t, []generic.StageState{
		generic.StageCompleted,
		generic.StageCompleted,
		generic.StageCompleted,
		generic.StageRejected,
		generic.StageBlocked,
	}, states(views))
	assert.True(t, views[3].Inferred)
	assert.Equal(t, "e-fin", views[3].ActorRef)
}

func TestTimeline_Legacy_RejectionByDesignation(t *testing.T) {
	ent := draftLoan()
	ent.Status = generic.StatusRejected
	ent.Rejection = &generic.Rejection{ActorRef: "e-ceo", Department: "Top Management", Designation: "C.E.O.", At: *at(2)}

	views := generic.BuildTimeline(loans.Definition(), ent, testNow)

	assert.Equal(t, generic.StageRejected, views[4].State)
	assert.Equal(t, generic.StageCompleted, views[3].State)
}

func TestTimeline_Legacy_RejectorWithoutRoleIsTheManager(t *testing.T) {
	ent := draftLoan()
	ent.Status = generic.StatusRejected
	ent.Rejection = &generic.Rejection{ActorRef: "e-mgr", Department: "Engineering", Designation: "Manager", At: *at(2)}

	views := generic.BuildTimeline(loans.Definition(), ent, testNow)

	assert.Equal(t, generic.StageRejected, views[1].State)
	assert.Equal(t, generic.StageBlocked, views[2].State)
}

func TestTimeline_Legacy_UnknownRejectorUsesFirstUnresolvedStage(t *testing.T) {
	ent := draftLoan()
	ent.Status = generic.StatusRejected
	ent.History = []generic.WorkflowStep{
		step(generic.StageReportee, generic.StepApproved, 40, at(30), "e-mgr"),
		step(generic.StageHR, generic.StepApproved, 30, at(20), "e-hr"),
	}

	views := generic.BuildTimeline(loans.Definition(), ent, testNow)

	assert.Equal(t, generic.StageRejected, views[3].State)
	assert.Equal(t, generic.StageBlocked, views[4].State)
}

func TestTimeline_Legacy_InFlightWithoutSteps(t *testing.T) {
	ent := draftLoan()
	ent.Status = generic.StatusPendingAccounts
	ent.UpdatedAt = testNow.Add(-6 * time.Hour)

	views := generic.BuildTimeline(loans.Definition(), ent, testNow)

	assert.Equal(t, []generic.StageState{
		generic.StageCompleted,
		generic.StageCompleted,
		generic.StageCompleted,
		generic.StageCurrent,
		generic.StagePending,
	}, states(views))
	assert.True(t, views[3].Inferred)
	assert.Equal(t, 6*time.Hour, views[3].Duration)
}
