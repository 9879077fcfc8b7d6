package docgen_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/hr-workflow/docgen"
	"github.com/warp/hr-workflow/generic"
	"github.com/warp/hr-workflow/generic/store"
	"github.com/warp/hr-workflow/loans"
)

var issued = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

func approvedLoan(t *testing.T) *generic.Entity {
	t.Helper()
	raw, err := json.Marshal(loans.Payload{
		Type: loans.TypeLoan, Amount: decimal.NewFromInt(9000), DurationMonths: 3, StartMonth: "2025-04",
		Reason: "Family relocation costs",
	})
	require.NoError(t, err)

	actioned := issued.Add(-time.Hour)
	return &generic.Entity{
		ID:           "loan-42",
		Kind:         loans.KindLoan,
		Status:       generic.StatusApproved,
		RequesterRef: "e-ops",
		Payload:      raw,
		History: []generic.WorkflowStep{
			{Stage: generic.StageReportee, Status: generic.StepApproved, AssignedAt: issued.Add(-48 * time.Hour), ActionedAt: &actioned},
			{Stage: generic.StageManagement, Status: generic.StepApproved, AssignedAt: issued.Add(-2 * time.Hour), ActionedAt: &actioned},
		},
	}
}

func newGenerator() *docgen.Generator {
	dir := store.NewDirectory(generic.Employee{ID: "e-ops", Name: "Samir Khan", Designation: "Coordinator"})
	g := docgen.NewGenerator(dir, "Warp HR")
	g.Clock = func() time.Time { return issued }
	return g
}

func TestRenderCertificate(t *testing.T) {
	// GIVEN: An approved loan with a known recipient
	g := newGenerator()
	def := loans.Definition()

	// WHEN: Rendering the certificate
	pdf, err := g.RenderCertificate(context.Background(), def, approvedLoan(t))

	// THEN: A PDF document comes back
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(pdf, []byte("%PDF")))
	assert.Greater(t, len(pdf), 1000)
}

func TestRenderCertificate_UnknownRecipient(t *testing.T) {
	g := docgen.NewGenerator(store.NewDirectory(), "Warp HR")
	pdf, err := g.RenderCertificate(context.Background(), loans.Definition(), approvedLoan(t))
	require.NoError(t, err)
	assert.NotEmpty(t, pdf)
}

func TestRenderCertificate_NotApproved(t *testing.T) {
	g := newGenerator()
	e := approvedLoan(t)
	e.Status = generic.StatusPendingAuthorization

	_, err := g.RenderCertificate(context.Background(), loans.Definition(), e)
	assert.Error(t, err)
}

func TestRenderCertificate_CancelledContext(t *testing.T) {
	g := newGenerator()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.RenderCertificate(ctx, loans.Definition(), approvedLoan(t))
	assert.True(t, errors.Is(err, context.Canceled))
}
