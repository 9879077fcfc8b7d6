package generic_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/hr-workflow/generic"
	"github.com/warp/hr-workflow/loans"
	"github.com/warp/hr-workflow/rewards"
)

// =============================================================================
// REGISTRY
// =============================================================================

func TestRegistry_DomainKindsRegistered(t *testing.T) {
	loan, err := generic.LookupDefinition(loans.KindLoan)
	require.NoError(t, err)
	assert.Equal(t, "loans", loan.Slug)

	reward, err := generic.LookupDefinitionBySlug("rewards")
	require.NoError(t, err)
	assert.Equal(t, rewards.KindReward, reward.Kind)

	var kinds []generic.Kind
	for _, d := range generic.ListDefinitions() {
		kinds = append(kinds, d.Kind)
	}
	assert.Equal(t, []generic.Kind{loans.KindLoan, rewards.KindReward}, kinds)
}

func TestRegistry_UnknownKind(t *testing.T) {
	_, err := generic.LookupDefinition("payslip")
	assert.True(t, errors.Is(err, generic.ErrUnknownKind))
	assert.Equal(t, `unknown request type "payslip"`, generic.Reason(err))

	_, err = generic.LookupDefinitionBySlug("payslips")
	assert.True(t, errors.Is(err, generic.ErrUnknownKind))

	assert.Panics(t, func() { generic.MustLookupDefinition("payslip") })
}

// =============================================================================
// TRANSITION TABLES
// =============================================================================

func TestDefinition_LoanTable(t *testing.T) {
	def := loans.Definition()

	assert.Equal(t, []generic.Status{generic.StatusPending, generic.StatusRejected, generic.StatusCancelled},
		def.Successors(generic.StatusDraft))

	edge, ok := def.Edge(generic.StatusDraft, generic.StatusRejected)
	require.True(t, ok)
	assert.True(t, edge.AdminOnly)

	edge, ok = def.Edge(generic.StatusPendingHR, generic.StatusCancelled)
	require.True(t, ok)
	assert.True(t, edge.AdminOnly)

	next, ok := def.Forward(generic.StatusPendingAccounts)
	require.True(t, ok)
	assert.Equal(t, generic.StatusPendingAuthorization, next)

	_, ok = def.Forward(generic.StatusApproved)
	assert.False(t, ok)
	assert.Empty(t, def.Successors(generic.StatusRejected))
}

func TestDefinition_RewardTable(t *testing.T) {
	def := rewards.Definition()

	_, ok := def.Edge(generic.StatusDraft, generic.StatusRejected)
	assert.False(t, ok)
	_, ok = def.Edge(generic.StatusPending, generic.StatusCancelled)
	assert.False(t, ok)
	_, ok = def.Edge(generic.StatusPending, generic.StatusPendingHR)
	assert.False(t, ok)

	next, ok := def.Forward(generic.StatusPending)
	require.True(t, ok)
	assert.Equal(t, generic.StatusPendingAuthorization, next)
}

func TestDefinition_ActionFor(t *testing.T) {
	def := loans.Definition()
	assert.Equal(t, generic.ActionSubmit, def.ActionFor(generic.StatusDraft, generic.StatusPending))
	assert.Equal(t, generic.ActionApprove, def.ActionFor(generic.StatusPending, generic.StatusPendingHR))
	assert.Equal(t, generic.ActionReject, def.ActionFor(generic.StatusDraft, generic.StatusRejected))
	assert.Equal(t, generic.ActionCancel, def.ActionFor(generic.StatusPendingHR, generic.StatusCancelled))
}

func TestDefinition_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *generic.Definition)
	}{
		{"missing slug", func(d *generic.Definition) { d.Slug = "" }},
		{"first stage not the requester", func(d *generic.Definition) { d.Stages = d.Stages[1:] }},
		{"stage bound to a terminal status", func(d *generic.Definition) { d.Stages[1].Status = generic.StatusApproved }},
		{"terminal status with an edge", func(d *generic.Definition) {
			d.Transitions[generic.StatusApproved] = []generic.Edge{{To: generic.StatusDraft}}
		}},
		{"missing label", func(d *generic.Definition) { delete(d.ActionLabels, generic.StatusPendingHR) }},
		{"stage without forward edge", func(d *generic.Definition) {
			d.Transitions[generic.StatusPendingAccounts] = []generic.Edge{{To: generic.StatusRejected}}
		}},
	}

	require.NoError(t, loans.Definition().Validate())
	require.NoError(t, rewards.Definition().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := loans.Definition()
			tt.mutate(def)
			assert.Error(t, def.Validate())
		})
	}
}

// =============================================================================
// STATUS
// =============================================================================

func TestParseStatus(t *testing.T) {
	got, ok := generic.ParseStatus(" pending hr ")
	require.True(t, ok)
	assert.Equal(t, generic.StatusPendingHR, got)

	_, ok = generic.ParseStatus("Escalated")
	assert.False(t, ok)

	assert.True(t, generic.StatusCancelled.IsTerminal())
	assert.False(t, generic.StatusPendingAuthorization.IsTerminal())
}
