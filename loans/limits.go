package loans

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"github.com/warp/hr-workflow/generic"
)

// =============================================================================
// ELIGIBILITY / LIMITS
// =============================================================================

const (
	advanceBaseMonths     = 3
	advanceProbationMonth = 1
	loanBaseMonths        = 6
	// loanVisaBufferMonths is kept clear between the last installment and visa expiry.
	loanVisaBufferMonths = 2
	advanceMinVisaMonths = 1
	loanMinVisaMonths    = 3
)

var (
	advanceSalaryFactor = decimal.NewFromFloat(0.5)
	loanSalaryFactor    = decimal.NewFromInt(3)
)

type Limits struct {
	Blocked           bool
	Reason            string
	MaxAmount         decimal.Decimal
	MaxDurationMonths int
	// MonthsUntilVisaExpiry is nil when the employee has no visa on record.
	MonthsUntilVisaExpiry *int
}

// ComputeLimits returns the ceilings for an employee and request type as of today.
func ComputeLimits(emp generic.Employee, t RequestType, today time.Time) Limits {
	var l Limits
	var visaMonths int
	hasVisa := emp.VisaExpiry != nil
	if hasVisa {
		visaMonths = generic.WholeMonthsBetween(today, *emp.VisaExpiry)
		l.MonthsUntilVisaExpiry = &visaMonths
	}

	switch t {
	case TypeAdvance:
		l.MaxAmount = emp.Salary.Mul(advanceSalaryFactor)
		l.MaxDurationMonths = advanceBaseMonths
		if emp.EmploymentStatus == generic.EmploymentProbation {
			l.MaxDurationMonths = advanceProbationMonth
		}
		if hasVisa && visaMonths < l.MaxDurationMonths {
			l.MaxDurationMonths = max(1, visaMonths)
		}
	case TypeLoan:
		l.MaxAmount = emp.Salary.Mul(loanSalaryFactor)
		l.MaxDurationMonths = loanBaseMonths
		if hasVisa {
			l.MaxDurationMonths = min(loanBaseMonths, max(1, visaMonths-loanVisaBufferMonths))
		}
	default:
		l.Blocked = true
		l.Reason = fmt.Sprintf("unknown request type %q", t)
		return l
	}

	switch {
	case emp.EmploymentStatus == generic.EmploymentNotice:
		l.Blocked, l.Reason = true, "employees serving notice cannot request a loan or advance"
	case emp.EmploymentStatus == generic.EmploymentProbation && t == TypeLoan:
		l.Blocked, l.Reason = true, "employees on probation cannot request a loan"
	case t == TypeAdvance && emp.VisaType == generic.VisaVisit:
		l.Blocked, l.Reason = true, "employees on a visit visa cannot request an advance"
	case t == TypeAdvance && hasVisa && visaMonths < advanceMinVisaMonths:
		l.Blocked, l.Reason = true, "visa expires in less than 1 month"
	case t == TypeLoan && hasVisa && visaMonths < loanMinVisaMonths:
		l.Blocked, l.Reason = true, "visa expires in less than 3 months"
	}
	return l
}

// LookupLimits loads the employee from dir and computes their limits.
func LookupLimits(ctx context.Context, dir generic.Directory, ref generic.EmployeeID, t RequestType, today time.Time) (*generic.Employee, Limits, error) {
	emp, err := dir.GetEmployee(ctx, ref)
	if err != nil {
		return nil, Limits{}, errors.Wrapf(err, "load employee %s", ref)
	}
	if emp == nil {
		return nil, Limits{}, errors.Wrapf(generic.ErrEmployeeNotFound, "employee %s", ref)
	}
	return emp, ComputeLimits(*emp, t, today), nil
}

// ValidateRequest checks a payload against the employee's limits. Every
// violation is reported; none is clamped silently.
func ValidateRequest(emp generic.Employee, p Payload, today time.Time) error {
	verr := &generic.ValidationError{}
	if !p.Type.Valid() {
		verr.Add("type", fmt.Sprintf("request type must be %s or %s", TypeLoan, TypeAdvance))
		return verr
	}

	limits := ComputeLimits(emp, p.Type, today)
	if limits.Blocked {
		verr.Add("type", limits.Reason)
	}

	switch {
	case !p.Amount.IsPositive():
		verr.Add("amount", "amount must be greater than zero")
	case p.Amount.GreaterThan(limits.MaxAmount):
		verr.Add("amount", fmt.Sprintf("amount exceeds the maximum of %s", limits.MaxAmount.StringFixed(2)))
	}

	switch {
	case p.DurationMonths < 1:
		verr.Add("duration_months", "duration must be at least 1 month")
	case p.DurationMonths > limits.MaxDurationMonths:
		verr.Add("duration_months", fmt.Sprintf("duration exceeds the maximum of %d month(s)", limits.MaxDurationMonths))
	}

	start, err := generic.ParseMonth(p.StartMonth)
	if err != nil {
		verr.Add("start_month", "start month must look like 2006-01")
		return verr.OrNil()
	}
	if start.Before(generic.MonthOf(today)) {
		verr.Add("start_month", "repayment cannot start in the past")
	}
	if emp.VisaExpiry != nil && p.DurationMonths > 0 {
		end := start.AddMonths(p.DurationMonths).Start()
		latest := generic.AddMonthsClamped(*emp.VisaExpiry, -loanVisaBufferMonths)
		if end.After(latest) {
			verr.Add("start_month", fmt.Sprintf("repayment must finish by %s, two months before visa expiry",
				latest.Format("2006-01-02")))
		}
	}
	return verr.OrNil()
}
