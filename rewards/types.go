/*
Package rewards implements the reward nomination workflow.

PURPOSE:
  A reward records recognition for an employee: an award, a spot bonus or
  a long-service milestone. It runs through a shorter pipeline than a
  loan and ends with a certificate issued to the employee.

PIPELINE:
  Draft -> Pending (reporting manager) -> Pending Authorization (CEO) -> Approved

  Rejected is reachable from Pending and Pending Authorization only.
  Cancelled is reachable only from Draft.

PAYLOAD:
  {
    "type": "Employee of the Month",
    "title": "Q3 delivery of the payroll migration",
    "description": "...",
    "amount": "500.00",
    "period": "2024-09"
  }

SEE ALSO:
  - generic/definition.go: Definition contract
  - loans/: The longer Loan/Advance pipeline
*/
package rewards

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"github.com/warp/hr-workflow/generic"
)

// =============================================================================
// REWARD KIND
// =============================================================================

const KindReward generic.Kind = "reward"

type RewardType string

const (
	TypeEmployeeOfMonth RewardType = "Employee of the Month"
	TypeSpotAward       RewardType = "Spot Award"
	TypeLongService     RewardType = "Long Service"
	TypeInnovation      RewardType = "Innovation"
	TypeTeamExcellence  RewardType = "Team Excellence"
	TypeRecognition     RewardType = "Recognition"
)

// RewardTypes lists the accepted types in display order.
var RewardTypes = []RewardType{
	TypeEmployeeOfMonth,
	TypeSpotAward,
	TypeLongService,
	TypeInnovation,
	TypeTeamExcellence,
	TypeRecognition,
}

// ParseRewardType matches case-insensitively.
func ParseRewardType(s string) (RewardType, bool) {
	for _, t := range RewardTypes {
		if strings.EqualFold(string(t), strings.TrimSpace(s)) {
			return t, true
		}
	}
	return "", false
}

func init() {
	generic.RegisterDefinition(Definition())
}

func Definition() *generic.Definition {
	return &generic.Definition{
		Kind:   KindReward,
		Name:   "Reward",
		Slug:   "rewards",
		Module: "rewards",
		Stages: []generic.StageDef{
			{Stage: generic.StageRequester, Status: generic.StatusDraft, Label: "Requester"},
			{Stage: generic.StageReportee, Status: generic.StatusPending, Label: "Manager"},
			{Stage: generic.StageManagement, Status: generic.StatusPendingAuthorization, Role: generic.OrgRoleManagement, Label: "CEO"},
		},
		Transitions: map[generic.Status][]generic.Edge{
			generic.StatusDraft: {
				{To: generic.StatusPending},
				{To: generic.StatusCancelled},
			},
			generic.StatusPending: {
				{To: generic.StatusPendingAuthorization},
				{To: generic.StatusRejected},
			},
			generic.StatusPendingAuthorization: {
				{To: generic.StatusApproved},
				{To: generic.StatusRejected},
			},
		},
		ActionLabels: map[generic.Status]string{
			generic.StatusDraft:                "Send for Approval",
			generic.StatusPending:              "Send to CEO",
			generic.StatusPendingAuthorization: "CEO Authorize",
		},
		CertificateTitle: "Certificate of Recognition",
		SubmitCheck:      submitCheck,
		Summarize:        summarize,
	}
}

// =============================================================================
// PAYLOAD
// =============================================================================

type Payload struct {
	Type        RewardType       `json:"type"`
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Period      string           `json:"period,omitempty"` // "2006-01"
}

func Decode(e *generic.Entity) (Payload, error) {
	var p Payload
	if len(e.Payload) == 0 {
		return p, generic.NewValidationError("payload", "reward details are missing")
	}
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return p, errors.Wrapf(err, "decode reward payload for %s", e.ID)
	}
	return p, nil
}

func (p Payload) Encode() (json.RawMessage, error) {
	return json.Marshal(p)
}

// Validate checks the payload is complete enough to submit.
func (p Payload) Validate() error {
	verr := &generic.ValidationError{}
	if _, ok := ParseRewardType(string(p.Type)); !ok {
		verr.Add("type", "unknown reward type")
	}
	if strings.TrimSpace(p.Title) == "" {
		verr.Add("title", "a reward needs a title")
	}
	if p.Amount != nil && p.Amount.IsNegative() {
		verr.Add("amount", "amount cannot be negative")
	}
	if p.Period != "" {
		if _, err := generic.ParseMonth(p.Period); err != nil {
			verr.Add("period", "period must look like 2006-01")
		}
	}
	return verr.OrNil()
}

func submitCheck(_ context.Context, e *generic.Entity, _ *generic.Employee, _ time.Time) error {
	p, err := Decode(e)
	if err != nil {
		return err
	}
	return p.Validate()
}

func summarize(e *generic.Entity) []generic.SummaryLine {
	p, err := Decode(e)
	if err != nil {
		return nil
	}
	lines := []generic.SummaryLine{
		{Label: "Award", Value: string(p.Type)},
		{Label: "For", Value: p.Title},
	}
	if p.Period != "" {
		lines = append(lines, generic.SummaryLine{Label: "Period", Value: p.Period})
	}
	if p.Amount != nil && p.Amount.IsPositive() {
		lines = append(lines, generic.SummaryLine{Label: "Amount", Value: p.Amount.StringFixed(2)})
	}
	if p.Description != "" {
		lines = append(lines, generic.SummaryLine{Label: "Citation", Value: p.Description})
	}
	return lines
}
