/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the stores with a small
	organisation and requests at interesting points of their pipelines.
	Every request is driven through the engine, so the history, routing
	and audit trail are exactly what real use would produce.

AVAILABLE SCENARIOS:

	loan-pipeline:      Advance in Draft, Loan waiting on HR
	approved-loan:      Loan through every stage, certificate issued
	rejected-advance:   Advance rejected by HR with a note
	reward-nomination:  Reward filed by an administrator, waiting on the CEO
	shared-hr-queue:    Two HR officers, loan left unassigned at Pending HR

THE ORGANISATION:

	Amira Haddad   Management / CEO          u-ceo
	Layla Noor     Human Resources           u-hr
	Omar Saleh     Finance / Accountant      u-fin
	Daniel Reyes   Engineering Manager       u-mgr  (reports to Amira)
	Priya Nair     Software Engineer         u-dev  (reports to Daniel, probation)
	Samir Khan     Operations Coordinator    u-ops  (reports to Daniel, employment visa)

	Administrators sign in as u-admin with X-User-Admin: true.

USAGE VIA API:

	POST /api/scenarios/loan-pipeline/load

NOTE:

	Scenarios reset every store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Engine-facing handlers
  - cmd/server/main.go: SEED_DEMO loads loan-pipeline at startup
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/warp/hr-workflow/generic"
	"github.com/warp/hr-workflow/loans"
	"github.com/warp/hr-workflow/rewards"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "loan-pipeline",
		Name:        "Loan Pipeline",
		Description: "An advance still in draft and a loan waiting on HR",
		Category:    "loans",
	},
	{
		ID:          "approved-loan",
		Name:        "Approved Loan",
		Description: "A loan approved by manager, HR, accounts and the CEO with its certificate",
		Category:    "loans",
	},
	{
		ID:          "rejected-advance",
		Name:        "Rejected Advance",
		Description: "An advance rejected at the HR stage",
		Category:    "loans",
	},
	{
		ID:          "reward-nomination",
		Name:        "Reward Nomination",
		Description: "A spot award filed by an administrator and endorsed by the manager",
		Category:    "rewards",
	},
	{
		ID:          "shared-hr-queue",
		Name:        "Shared HR Queue",
		Description: "Two HR officers; the loan is left unassigned for either to pick up",
		Category:    "loans",
	},
}

const (
	userCEO   generic.UserID = "u-ceo"
	userHR    generic.UserID = "u-hr"
	userFin   generic.UserID = "u-fin"
	userMgr   generic.UserID = "u-mgr"
	userDev   generic.UserID = "u-dev"
	userOps   generic.UserID = "u-ops"
	userAdmin generic.UserID = "u-admin"
)

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	scenario, ok := lo.Find(scenarios, func(s ScenarioDTO) bool { return s.ID == current })
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"loaded": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"loaded": true, "scenario": scenario})
}

// LoadScenario resets the stores and loads a scenario.
// POST /api/scenarios/{id}/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.LoadScenarioByID(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": id})
}

// LoadScenarioByID resets every store and loads the named scenario.
func (h *Handler) LoadScenarioByID(ctx context.Context, id string) error {
	if !lo.ContainsBy(scenarios, func(s ScenarioDTO) bool { return s.ID == id }) {
		return errors.WithHint(errors.Wrapf(generic.ErrEntityNotFound, "scenario %q", id), "unknown scenario")
	}

	for _, rs := range h.Resetters {
		if err := rs.Reset(ctx); err != nil {
			return errors.Wrap(err, "reset stores")
		}
	}
	if err := h.seedOrganisation(ctx, id == "shared-hr-queue"); err != nil {
		return err
	}

	var err error
	switch id {
	case "loan-pipeline":
		err = h.loadLoanPipeline(ctx)
	case "approved-loan":
		err = h.loadApprovedLoan(ctx)
	case "rejected-advance":
		err = h.loadRejectedAdvance(ctx)
	case "reward-nomination":
		err = h.loadRewardNomination(ctx)
	case "shared-hr-queue":
		err = h.loadSharedHRQueue(ctx)
	}
	if err != nil {
		return errors.Wrapf(err, "load scenario %s", id)
	}

	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()
	h.log.Info().Str("scenario", id).Msg("scenario loaded")
	return nil
}

// =============================================================================
// ORGANISATION
// =============================================================================

func (h *Handler) seedOrganisation(ctx context.Context, secondHR bool) error {
	now := h.now()
	longVisa := now.AddDate(0, 8, 0)

	employees := []generic.Employee{
		{ID: "e-ceo", UserID: userCEO, Name: "Amira Haddad", Email: "amira@example.com",
			Department: "Management", Designation: "CEO", EmploymentStatus: generic.EmploymentPermanent,
			Salary: decimal.NewFromInt(40000)},
		{ID: "e-hr", UserID: userHR, Name: "Layla Noor", Email: "layla@example.com",
			Department: "Human Resources", Designation: "HR Manager", ManagerID: "e-ceo",
			EmploymentStatus: generic.EmploymentPermanent, Salary: decimal.NewFromInt(15000)},
		{ID: "e-fin", UserID: userFin, Name: "Omar Saleh", Email: "omar@example.com",
			Department: "Finance", Designation: "Accountant", ManagerID: "e-ceo",
			EmploymentStatus: generic.EmploymentPermanent, Salary: decimal.NewFromInt(12000)},
		{ID: "e-mgr", UserID: userMgr, Name: "Daniel Reyes", Email: "daniel@example.com",
			Department: "Engineering", Designation: "Engineering Manager", ManagerID: "e-ceo",
			EmploymentStatus: generic.EmploymentPermanent, Salary: decimal.NewFromInt(20000)},
		{ID: "e-dev", UserID: userDev, Name: "Priya Nair", Email: "priya@example.com",
			Department: "Engineering", Designation: "Software Engineer", ManagerID: "e-mgr",
			EmploymentStatus: generic.EmploymentProbation, Salary: decimal.NewFromInt(10000)},
		{ID: "e-ops", UserID: userOps, Name: "Samir Khan", Email: "samir@example.com",
			Department: "Operations", Designation: "Coordinator", ManagerID: "e-mgr",
			EmploymentStatus: generic.EmploymentPermanent, Salary: decimal.NewFromInt(6000),
			VisaType: generic.VisaEmployment, VisaExpiry: &longVisa},
	}
	if secondHR {
		employees = append(employees, generic.Employee{
			ID: "e-hr2", UserID: "u-hr2", Name: "Karim Aziz", Email: "karim@example.com",
			Department: "HR", Designation: "HR Officer", ManagerID: "e-hr",
			EmploymentStatus: generic.EmploymentPermanent, Salary: decimal.NewFromInt(9000),
		})
	}

	for i := range employees {
		if err := h.Employees.SaveEmployee(ctx, &employees[i]); err != nil {
			return errors.Wrapf(err, "seed employee %s", employees[i].ID)
		}
	}
	if h.OnDirectoryChange != nil {
		h.OnDirectoryChange()
	}
	return nil
}

// =============================================================================
// LOADERS
// =============================================================================

func (h *Handler) loadLoanPipeline(ctx context.Context) error {
	if _, err := h.createAdvance(ctx, userDev, "4000", 1); err != nil {
		return err
	}
	loan, err := h.createLoan(ctx, userOps, "12000", 3)
	if err != nil {
		return err
	}
	return h.drive(ctx, loan.ID,
		step{userOps, generic.StatusPending, ""},
		step{userMgr, generic.StatusPendingHR, "Fine by me"},
	)
}

func (h *Handler) loadApprovedLoan(ctx context.Context) error {
	loan, err := h.createLoan(ctx, userOps, "9000", 3)
	if err != nil {
		return err
	}
	return h.drive(ctx, loan.ID,
		step{userOps, generic.StatusPending, ""},
		step{userMgr, generic.StatusPendingHR, ""},
		step{userHR, generic.StatusPendingAccounts, "Employment record checked"},
		step{userFin, generic.StatusPendingAuthorization, "Deductions scheduled"},
		step{userCEO, generic.StatusApproved, ""},
	)
}

func (h *Handler) loadRejectedAdvance(ctx context.Context) error {
	adv, err := h.createAdvance(ctx, userOps, "2500", 2)
	if err != nil {
		return err
	}
	return h.drive(ctx, adv.ID,
		step{userOps, generic.StatusPending, ""},
		step{userMgr, generic.StatusPendingHR, ""},
		step{userHR, generic.StatusRejected, "An advance is already being repaid"},
	)
}

func (h *Handler) loadRewardNomination(ctx context.Context) error {
	amount := decimal.NewFromInt(250)
	payload, err := rewards.Payload{
		Type:        rewards.TypeSpotAward,
		Title:       "Payroll migration cut-over",
		Description: "Stayed through the weekend to finish the cut-over without downtime.",
		Amount:      &amount,
		Period:      generic.MonthOf(h.now()).String(),
	}.Encode()
	if err != nil {
		return err
	}
	admin := h.adminActor()
	reward, err := h.Engine.Create(ctx, rewards.KindReward, admin, "e-dev", payload)
	if err != nil {
		return err
	}
	if _, err := h.Engine.Transition(ctx, reward.ID, generic.StatusPending, admin, "Nominated by the delivery lead"); err != nil {
		return err
	}
	return h.drive(ctx, reward.ID, step{userMgr, generic.StatusPendingAuthorization, "Well deserved"})
}

func (h *Handler) loadSharedHRQueue(ctx context.Context) error {
	loan, err := h.createLoan(ctx, userOps, "6000", 2)
	if err != nil {
		return err
	}
	return h.drive(ctx, loan.ID,
		step{userOps, generic.StatusPending, ""},
		step{userMgr, generic.StatusPendingHR, ""},
	)
}

// =============================================================================
// HELPERS
// =============================================================================

type step struct {
	user generic.UserID
	to   generic.Status
	note string
}

func (h *Handler) drive(ctx context.Context, id generic.EntityID, steps ...step) error {
	for _, s := range steps {
		actor, err := h.Engine.Resolver.Resolve(ctx, generic.Session{UserID: s.user, Role: "employee"})
		if err != nil {
			return err
		}
		if _, err := h.Engine.Transition(ctx, id, s.to, actor, s.note); err != nil {
			return errors.Wrapf(err, "%s -> %s", s.user, s.to)
		}
	}
	return nil
}

func (h *Handler) createLoan(ctx context.Context, user generic.UserID, amount string, months int) (*generic.Entity, error) {
	return h.createLoanRequest(ctx, user, loans.TypeLoan, amount, months, "Family relocation costs")
}

func (h *Handler) createAdvance(ctx context.Context, user generic.UserID, amount string, months int) (*generic.Entity, error) {
	return h.createLoanRequest(ctx, user, loans.TypeAdvance, amount, months, "School fees")
}

func (h *Handler) createLoanRequest(ctx context.Context, user generic.UserID, t loans.RequestType, amount string, months int, reason string) (*generic.Entity, error) {
	actor, err := h.Engine.Resolver.Resolve(ctx, generic.Session{UserID: user, Role: "employee"})
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(loans.Payload{
		Type:           t,
		Amount:         decimal.RequireFromString(amount),
		DurationMonths: months,
		StartMonth:     generic.MonthOf(h.now()).AddMonths(1).String(),
		Reason:         reason,
	})
	if err != nil {
		return nil, err
	}
	return h.Engine.Create(ctx, loans.KindLoan, actor, "", payload)
}

func (h *Handler) adminActor() generic.Actor {
	return generic.Actor{ID: userAdmin, Role: "admin", IsAdmin: true}
}
