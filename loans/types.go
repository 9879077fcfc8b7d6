// Package loans implements the Loan/Advance approval workflow.
// It registers the loan Definition with the generic engine and provides the
// eligibility calculator used at submission time.
package loans

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"github.com/warp/hr-workflow/generic"
)

// =============================================================================
// LOAN KIND
// =============================================================================

const KindLoan generic.Kind = "loan"

// RequestType distinguishes a salary advance from a loan. Both follow the
// same approval pipeline but have different limits.
type RequestType string

const (
	TypeLoan    RequestType = "Loan"
	TypeAdvance RequestType = "Advance"
)

func (t RequestType) Valid() bool {
	return t == TypeLoan || t == TypeAdvance
}

func init() {
	generic.RegisterDefinition(Definition())
}

// Definition returns the loan workflow: Draft -> Pending -> Pending HR ->
// Pending Accounts -> Pending Authorization -> Approved. Any in-flight
// request can be rejected; cancelling after submission needs an admin.
func Definition() *generic.Definition {
	rejectAndAdminCancel := func(forward generic.Status) []generic.Edge {
		return []generic.Edge{
			{To: forward},
			{To: generic.StatusRejected},
			{To: generic.StatusCancelled, AdminOnly: true},
		}
	}
	return &generic.Definition{
		Kind:   KindLoan,
		Name:   "Loan / Advance",
		Slug:   "loans",
		Module: "loans",
		Stages: []generic.StageDef{
			{Stage: generic.StageRequester, Status: generic.StatusDraft, Label: "Requester"},
			{Stage: generic.StageReportee, Status: generic.StatusPending, Label: "Manager"},
			{Stage: generic.StageHR, Status: generic.StatusPendingHR, Role: generic.OrgRoleHR, Label: "HR"},
			{Stage: generic.StageAccounts, Status: generic.StatusPendingAccounts, Role: generic.OrgRoleFinance, Label: "Accounts"},
			{Stage: generic.StageManagement, Status: generic.StatusPendingAuthorization, Role: generic.OrgRoleManagement, Label: "CEO"},
		},
		Transitions: map[generic.Status][]generic.Edge{
			generic.StatusDraft: {
				{To: generic.StatusPending},
				{To: generic.StatusRejected, AdminOnly: true},
				{To: generic.StatusCancelled},
			},
			generic.StatusPending:              rejectAndAdminCancel(generic.StatusPendingHR),
			generic.StatusPendingHR:            rejectAndAdminCancel(generic.StatusPendingAccounts),
			generic.StatusPendingAccounts:      rejectAndAdminCancel(generic.StatusPendingAuthorization),
			generic.StatusPendingAuthorization: rejectAndAdminCancel(generic.StatusApproved),
		},
		ActionLabels: map[generic.Status]string{
			generic.StatusDraft:                "Submit Request",
			generic.StatusPending:              "Send to HR",
			generic.StatusPendingHR:            "Send to Accounts",
			generic.StatusPendingAccounts:      "Send to Management",
			generic.StatusPendingAuthorization: "Approve Loan",
		},
		CertificateTitle: "Loan Approval Certificate",
		SubmitCheck:      submitCheck,
		Summarize:        summarize,
	}
}

// =============================================================================
// PAYLOAD
// =============================================================================

type Payload struct {
	Type           RequestType     `json:"type"`
	Amount         decimal.Decimal `json:"amount"`
	DurationMonths int             `json:"duration_months"`
	StartMonth     string          `json:"start_month"` // "2006-01"
	Reason         string          `json:"reason,omitempty"`
}

// Decode reads the loan payload from an entity.
func Decode(e *generic.Entity) (Payload, error) {
	var p Payload
	if len(e.Payload) == 0 {
		return p, generic.NewValidationError("payload", "loan details are missing")
	}
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return p, errors.Wrapf(err, "decode loan payload for %s", e.ID)
	}
	return p, nil
}

func (p Payload) Encode() (json.RawMessage, error) {
	return json.Marshal(p)
}

// MonthlyInstallment splits the amount evenly, rounded to 2 places.
func (p Payload) MonthlyInstallment() decimal.Decimal {
	if p.DurationMonths <= 0 {
		return p.Amount
	}
	return p.Amount.DivRound(decimal.NewFromInt(int64(p.DurationMonths)), 2)
}

func submitCheck(_ context.Context, e *generic.Entity, requester *generic.Employee, now time.Time) error {
	p, err := Decode(e)
	if err != nil {
		return err
	}
	return ValidateRequest(*requester, p, now)
}

func summarize(e *generic.Entity) []generic.SummaryLine {
	p, err := Decode(e)
	if err != nil {
		return nil
	}
	return []generic.SummaryLine{
		{Label: "Type", Value: string(p.Type)},
		{Label: "Amount", Value: p.Amount.StringFixed(2)},
		{Label: "Duration", Value: fmt.Sprintf("%d month(s)", p.DurationMonths)},
		{Label: "Monthly installment", Value: p.MonthlyInstallment().StringFixed(2)},
		{Label: "Repayment starts", Value: p.StartMonth},
		{Label: "Reason", Value: p.Reason},
	}
}
