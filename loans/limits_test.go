package loans_test

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/hr-workflow/generic"
	"github.com/warp/hr-workflow/generic/store"
	"github.com/warp/hr-workflow/loans"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var today = time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)

func employee(status generic.EmploymentStatus, salary int64) generic.Employee {
	return generic.Employee{
		ID:               "e-1",
		Name:             "Test Employee",
		EmploymentStatus: status,
		Salary:           decimal.NewFromInt(salary),
	}
}

func withVisa(emp generic.Employee, visa generic.VisaType, expiry time.Time) generic.Employee {
	emp.VisaType = visa
	emp.VisaExpiry = &expiry
	return emp
}

func payload(t loans.RequestType, amount int64, months int, start string) loans.Payload {
	return loans.Payload{Type: t, Amount: decimal.NewFromInt(amount), DurationMonths: months, StartMonth: start}
}

func fields(t *testing.T, err error) []string {
	t.Helper()
	var verr *generic.ValidationError
	require.True(t, errors.As(err, &verr), "expected a validation error, got %v", err)
	out := make([]string, 0, len(verr.Violations))
	for _, v := range verr.Violations {
		out = append(out, v.Field)
	}
	return out
}

// =============================================================================
// LIMITS
// =============================================================================

func TestComputeLimits_ProbationAdvance(t *testing.T) {
	// GIVEN: Salary 10000 on probation, no visa
	emp := employee(generic.EmploymentProbation, 10000)

	// WHEN: Computing advance limits
	l := loans.ComputeLimits(emp, loans.TypeAdvance, today)

	// THEN: Half a salary over one month
	assert.False(t, l.Blocked)
	assert.True(t, decimal.NewFromInt(5000).Equal(l.MaxAmount), "got %s", l.MaxAmount)
	assert.Equal(t, 1, l.MaxDurationMonths)
	assert.Nil(t, l.MonthsUntilVisaExpiry)
}

func TestComputeLimits_LoanCappedByVisa(t *testing.T) {
	// GIVEN: Salary 6000, permanent, visa expiring in five months
	emp := withVisa(employee(generic.EmploymentPermanent, 6000), generic.VisaEmployment, today.AddDate(0, 5, 0))

	l := loans.ComputeLimits(emp, loans.TypeLoan, today)

	// THEN: Three salaries, repaid two months before the visa ends
	assert.False(t, l.Blocked)
	assert.True(t, decimal.NewFromInt(18000).Equal(l.MaxAmount), "got %s", l.MaxAmount)
	assert.Equal(t, 3, l.MaxDurationMonths)
	require.NotNil(t, l.MonthsUntilVisaExpiry)
	assert.Equal(t, 5, *l.MonthsUntilVisaExpiry)
}

func TestComputeLimits_Defaults(t *testing.T) {
	emp := employee(generic.EmploymentPermanent, 8000)

	advance := loans.ComputeLimits(emp, loans.TypeAdvance, today)
	assert.True(t, decimal.NewFromInt(4000).Equal(advance.MaxAmount))
	assert.Equal(t, 3, advance.MaxDurationMonths)

	loan := loans.ComputeLimits(emp, loans.TypeLoan, today)
	assert.True(t, decimal.NewFromInt(24000).Equal(loan.MaxAmount))
	assert.Equal(t, 6, loan.MaxDurationMonths)
}

func TestComputeLimits_AdvanceShortVisa(t *testing.T) {
	emp := withVisa(employee(generic.EmploymentPermanent, 8000), generic.VisaResidence, today.AddDate(0, 2, 5))

	l := loans.ComputeLimits(emp, loans.TypeAdvance, today)

	assert.False(t, l.Blocked)
	assert.Equal(t, 2, l.MaxDurationMonths)
}

func TestComputeLimits_Blocked(t *testing.T) {
	tests := []struct {
		name   string
		emp    generic.Employee
		kind   loans.RequestType
		reason string
	}{
		{
			name:   "notice period",
			emp:    employee(generic.EmploymentNotice, 9000),
			kind:   loans.TypeAdvance,
			reason: "employees serving notice cannot request a loan or advance",
		},
		{
			name:   "loan on probation",
			emp:    employee(generic.EmploymentProbation, 9000),
			kind:   loans.TypeLoan,
			reason: "employees on probation cannot request a loan",
		},
		{
			name:   "advance on visit visa",
			emp:    withVisa(employee(generic.EmploymentPermanent, 9000), generic.VisaVisit, today.AddDate(1, 0, 0)),
			kind:   loans.TypeAdvance,
			reason: "employees on a visit visa cannot request an advance",
		},
		{
			name:   "advance with visa under a month",
			emp:    withVisa(employee(generic.EmploymentPermanent, 9000), generic.VisaEmployment, today.AddDate(0, 0, 20)),
			kind:   loans.TypeAdvance,
			reason: "visa expires in less than 1 month",
		},
		{
			name:   "loan with visa under three months",
			emp:    withVisa(employee(generic.EmploymentPermanent, 9000), generic.VisaEmployment, today.AddDate(0, 2, 0)),
			kind:   loans.TypeLoan,
			reason: "visa expires in less than 3 months",
		},
		{
			name:   "unknown type",
			emp:    employee(generic.EmploymentPermanent, 9000),
			kind:   "Mortgage",
			reason: `unknown request type "Mortgage"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := loans.ComputeLimits(tt.emp, tt.kind, today)
			assert.True(t, l.Blocked)
			assert.Equal(t, tt.reason, l.Reason)
		})
	}
}

func TestLookupLimits(t *testing.T) {
	dir := store.NewDirectory(employee(generic.EmploymentPermanent, 6000))

	emp, l, err := loans.LookupLimits(context.Background(), dir, "e-1", loans.TypeLoan, today)
	require.NoError(t, err)
	assert.Equal(t, "Test Employee", emp.Name)
	assert.True(t, decimal.NewFromInt(18000).Equal(l.MaxAmount))

	_, _, err = loans.LookupLimits(context.Background(), dir, "e-ghost", loans.TypeLoan, today)
	assert.True(t, errors.Is(err, generic.ErrEmployeeNotFound))
}

// =============================================================================
// REQUEST VALIDATION
// =============================================================================

func TestValidateRequest_WithinLimits(t *testing.T) {
	emp := withVisa(employee(generic.EmploymentPermanent, 6000), generic.VisaEmployment, today.AddDate(0, 9, 0))

	// Installments April to September, clear of the December visa expiry
	err := loans.ValidateRequest(emp, payload(loans.TypeLoan, 15000, 6, "2025-04"), today)
	assert.NoError(t, err)
}

func TestValidateRequest_ReportsEveryViolation(t *testing.T) {
	emp := employee(generic.EmploymentPermanent, 6000)

	err := loans.ValidateRequest(emp, payload(loans.TypeAdvance, 3500, 4, "2025-02"), today)

	assert.True(t, errors.Is(err, generic.ErrValidation))
	assert.Equal(t, []string{"amount", "duration_months", "start_month"}, fields(t, err))
	assert.Contains(t, generic.Reason(err), "amount exceeds the maximum of 3000.00")
}

func TestValidateRequest_Cases(t *testing.T) {
	emp := employee(generic.EmploymentPermanent, 6000)

	tests := []struct {
		name    string
		emp     generic.Employee
		payload loans.Payload
		fields  []string
	}{
		{"zero amount", emp, payload(loans.TypeLoan, 0, 2, "2025-04"), []string{"amount"}},
		{"zero duration", emp, payload(loans.TypeLoan, 1000, 0, "2025-04"), []string{"duration_months"}},
		{"bad start month", emp, payload(loans.TypeLoan, 1000, 2, "April"), []string{"start_month"}},
		{"unknown type", emp, payload("Mortgage", 1000, 2, "2025-04"), []string{"type"}},
		{"blocked employee", employee(generic.EmploymentNotice, 6000), payload(loans.TypeAdvance, 1000, 1, "2025-04"), []string{"type"}},
		{
			"repayment runs into the visa buffer",
			withVisa(emp, generic.VisaEmployment, today.AddDate(0, 6, 0)),
			payload(loans.TypeLoan, 1000, 5, "2025-04"),
			[]string{"duration_months", "start_month"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := loans.ValidateRequest(tt.emp, tt.payload, today)
			require.Error(t, err)
			assert.Equal(t, tt.fields, fields(t, err))
		})
	}
}

func TestValidateRequest_CurrentMonthStartAllowed(t *testing.T) {
	emp := employee(generic.EmploymentPermanent, 6000)
	assert.NoError(t, loans.ValidateRequest(emp, payload(loans.TypeAdvance, 3000, 3, "2025-03"), today))
}

// =============================================================================
// PAYLOAD
// =============================================================================

func TestPayload_MonthlyInstallment(t *testing.T) {
	p := payload(loans.TypeLoan, 10000, 3, "2025-04")
	assert.Equal(t, "3333.33", p.MonthlyInstallment().StringFixed(2))

	p.DurationMonths = 0
	assert.Equal(t, "10000.00", p.MonthlyInstallment().StringFixed(2))
}

func TestDecode(t *testing.T) {
	raw, err := payload(loans.TypeAdvance, 2500, 2, "2025-05").Encode()
	require.NoError(t, err)

	got, err := loans.Decode(&generic.Entity{ID: "loan-1", Payload: raw})
	require.NoError(t, err)
	assert.Equal(t, loans.TypeAdvance, got.Type)
	assert.Equal(t, 2, got.DurationMonths)

	_, err = loans.Decode(&generic.Entity{ID: "loan-2"})
	assert.True(t, errors.Is(err, generic.ErrValidation))
}
