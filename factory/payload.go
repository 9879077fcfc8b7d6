/*
Package factory provides JSON to Go payload conversion.

PURPOSE:
  Converts request bodies posted by the UI into the typed payload of a
  workflow kind, validates their shape, and returns the canonical JSON
  stored on the entity. Drafts may be incomplete: the factory checks
  format only. Completeness and eligibility are checked on submission by
  the kind's SubmitCheck.

JSON SCHEMA (loan):
  {
    "type": "Advance",
    "amount": "5000",
    "duration_months": 1,
    "start_month": "2024-07",
    "reason": "School fees"
  }

JSON SCHEMA (reward):
  {
    "type": "Spot Award",
    "title": "Quarter close",
    "description": "...",
    "amount": "250.00",
    "period": "2024-06"
  }

USAGE:
  f := factory.NewPayloadFactory()
  payload, err := f.Parse(loans.KindLoan, body)
  if err != nil {
      // *generic.ValidationError listing every bad field
  }

SEE ALSO:
  - loans/types.go: Loan payload and submission check
  - rewards/types.go: Reward payload
*/
package factory

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/warp/hr-workflow/generic"
	"github.com/warp/hr-workflow/loans"
	"github.com/warp/hr-workflow/rewards"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// LoanJSON is the JSON representation of a loan or advance request.
type LoanJSON struct {
	Type           string `json:"type" validate:"omitempty,oneof=Loan Advance loan advance"`
	Amount         string `json:"amount" validate:"omitempty,numeric"`
	DurationMonths int    `json:"duration_months" validate:"gte=0,lte=120"`
	StartMonth     string `json:"start_month" validate:"omitempty,datetime=2006-01"`
	Reason         string `json:"reason" validate:"max=1000"`
}

// RewardJSON is the JSON representation of a reward nomination.
type RewardJSON struct {
	Type        string `json:"type" validate:"omitempty,max=100"`
	Title       string `json:"title" validate:"max=200"`
	Description string `json:"description" validate:"max=4000"`
	Amount      string `json:"amount" validate:"omitempty,numeric"`
	Period      string `json:"period" validate:"omitempty,datetime=2006-01"`
}

// =============================================================================
// FACTORY
// =============================================================================

type PayloadFactory struct {
	validate *validator.Validate
}

func NewPayloadFactory() *PayloadFactory {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &PayloadFactory{validate: v}
}

// Parse converts a request body for the given kind into canonical payload JSON.
func (f *PayloadFactory) Parse(kind generic.Kind, body []byte) (json.RawMessage, error) {
	switch kind {
	case loans.KindLoan:
		p, err := f.ParseLoan(body)
		if err != nil {
			return nil, err
		}
		return p.Encode()
	case rewards.KindReward:
		p, err := f.ParseReward(body)
		if err != nil {
			return nil, err
		}
		return p.Encode()
	}
	return nil, errors.WithHint(errors.Wrapf(generic.ErrUnknownKind, "%q", kind), "unsupported request kind")
}

func (f *PayloadFactory) ParseLoan(body []byte) (loans.Payload, error) {
	var in LoanJSON
	if err := decode(body, &in); err != nil {
		return loans.Payload{}, err
	}
	if err := f.check(in); err != nil {
		return loans.Payload{}, err
	}

	p := loans.Payload{
		DurationMonths: in.DurationMonths,
		StartMonth:     in.StartMonth,
		Reason:         strings.TrimSpace(in.Reason),
	}
	switch strings.ToLower(in.Type) {
	case "loan":
		p.Type = loans.TypeLoan
	case "advance":
		p.Type = loans.TypeAdvance
	}
	if in.Amount != "" {
		amount, err := decimal.NewFromString(in.Amount)
		if err != nil {
			return p, generic.NewValidationError("amount", "amount must be a number")
		}
		p.Amount = amount
	}
	return p, nil
}

func (f *PayloadFactory) ParseReward(body []byte) (rewards.Payload, error) {
	var in RewardJSON
	if err := decode(body, &in); err != nil {
		return rewards.Payload{}, err
	}
	if err := f.check(in); err != nil {
		return rewards.Payload{}, err
	}

	p := rewards.Payload{
		Type:        rewards.RewardType(strings.TrimSpace(in.Type)),
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		Period:      in.Period,
	}
	if in.Type != "" {
		t, ok := rewards.ParseRewardType(in.Type)
		if !ok {
			return p, generic.NewValidationError("type", "unknown reward type")
		}
		p.Type = t
	}
	if in.Amount != "" {
		amount, err := decimal.NewFromString(in.Amount)
		if err != nil {
			return p, generic.NewValidationError("amount", "amount must be a number")
		}
		if amount.IsNegative() {
			return p, generic.NewValidationError("amount", "amount cannot be negative")
		}
		p.Amount = &amount
	}
	return p, nil
}

// check runs struct validation and converts failures to a ValidationError.
func (f *PayloadFactory) check(v any) error {
	err := f.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errors.Wrap(err, "validate payload")
	}
	out := &generic.ValidationError{}
	for _, fe := range verrs {
		out.Add(fe.Field(), describe(fe))
	}
	return out.OrNil()
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "oneof":
		return "must be one of " + fe.Param()
	case "numeric":
		return "must be a number"
	case "datetime":
		return "must look like " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	}
	return "is invalid"
}

func decode(body []byte, out any) error {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return generic.NewValidationError("body", "request body is not valid JSON")
	}
	return nil
}
