package generic_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/hr-workflow/generic"
	"github.com/warp/hr-workflow/generic/store"
	"github.com/warp/hr-workflow/loans"
	"github.com/warp/hr-workflow/rewards"
)

// =============================================================================
// TEST ORGANISATION
// =============================================================================

var (
	testNow = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

	ceo = generic.Employee{
		ID: "e-ceo", UserID: "u-ceo", Name: "Amira Haddad", Email: "ceo@warp.test",
		Department: "Management", Designation: "CEO",
		EmploymentStatus: generic.EmploymentPermanent, Salary: decimal.NewFromInt(40000),
	}
	hr = generic.Employee{
		ID: "e-hr", UserID: "u-hr", Name: "Layla Nasser", Email: "hr@warp.test",
		Department: "Human Resources", Designation: "HR Officer", ManagerID: "e-ceo",
		EmploymentStatus: generic.EmploymentPermanent, Salary: decimal.NewFromInt(12000),
	}
	fin = generic.Employee{
		ID: "e-fin", UserID: "u-fin", Name: "Omar Saleh", Email: "fin@warp.test",
		Department: "Finance", Designation: "Accountant", ManagerID: "e-ceo",
		EmploymentStatus: generic.EmploymentPermanent, Salary: decimal.NewFromInt(11000),
	}
	mgr = generic.Employee{
		ID: "e-mgr", UserID: "u-mgr", Name: "Daniel Reyes", Email: "mgr@warp.test",
		Department: "Engineering", Designation: "Engineering Manager", ManagerID: "e-ceo",
		EmploymentStatus: generic.EmploymentPermanent, Salary: decimal.NewFromInt(20000),
	}
	dev = generic.Employee{
		ID: "e-dev", UserID: "u-dev", Name: "Priya Menon", Email: "dev@warp.test",
		Department: "Engineering", Designation: "Software Engineer", ManagerID: "e-mgr",
		EmploymentStatus: generic.EmploymentPermanent, Salary: decimal.NewFromInt(10000),
	}

	admin = generic.Actor{ID: "u-admin", Role: "admin", IsAdmin: true}
)

func newTestDirectory(extra ...generic.Employee) *store.Directory {
	return store.NewDirectory(append([]generic.Employee{ceo, hr, fin, mgr, dev}, extra...)...)
}

func actorOf(emp generic.Employee) generic.Actor {
	emp.Canonicalize()
	return generic.ActorFromEmployee(&emp)
}

func fixedClock() time.Time { return testNow }

func loanPayload(t *testing.T, amount int64, months int, start string) json.RawMessage {
	t.Helper()
	raw, err := loans.Payload{
		Type:           loans.TypeLoan,
		Amount:         decimal.NewFromInt(amount),
		DurationMonths: months,
		StartMonth:     start,
		Reason:         "car repair",
	}.Encode()
	require.NoError(t, err)
	return raw
}

func rewardPayload(t *testing.T) json.RawMessage {
	t.Helper()
	raw, err := rewards.Payload{
		Type:  rewards.TypeSpotAward,
		Title: "Payroll migration",
	}.Encode()
	require.NoError(t, err)
	return raw
}

// =============================================================================
// FAKES
// =============================================================================

// fakeDocuments renders a fixed body, or fails with err when set.
type fakeDocuments struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeDocuments) RenderCertificate(_ context.Context, _ *generic.Definition, _ *generic.Entity) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []byte("%PDF-1.3 test"), nil
}

func (f *fakeDocuments) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// stalledDocuments never finishes on its own; it returns once the render
// deadline passes.
type stalledDocuments struct{}

func (stalledDocuments) RenderCertificate(ctx context.Context, _ *generic.Definition, _ *generic.Entity) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// certStateStore rejects the next failures writes of certificate state on
// approved entities, as a concurrent writer would.
type certStateStore struct {
	*store.Memory
	failures int
}

func (s *certStateStore) Update(ctx context.Context, e *generic.Entity, expectedStatus generic.Status, expectedVersion int) error {
	if s.failures > 0 && expectedStatus == generic.StatusApproved && e.Certificate != nil {
		s.failures--
		return errors.Wrapf(generic.ErrConcurrentModification, "certificate state for %s", e.ID)
	}
	return s.Memory.Update(ctx, e, expectedStatus, expectedVersion)
}

// modulePermissions grants edit on the listed modules to the listed users.
type modulePermissions map[generic.UserID][]string

func (p modulePermissions) HasModulePermission(a generic.Actor, module, action string) bool {
	if action != generic.PermissionEdit {
		return false
	}
	for _, m := range p[a.ID] {
		if m == module {
			return true
		}
	}
	return false
}

// staleStore serves a captured snapshot from Get, the way a second approver
// holds a copy loaded before the first approval landed.
type staleStore struct {
	*store.Memory
	snapshot *generic.Entity
}

func (s *staleStore) Get(ctx context.Context, id generic.EntityID) (*generic.Entity, error) {
	if s.snapshot != nil && s.snapshot.ID == id {
		return s.snapshot.Clone(), nil
	}
	return s.Memory.Get(ctx, id)
}

// =============================================================================
// ENGINE HARNESS
// =============================================================================

type harness struct {
	engine *generic.Engine
	mem    *store.Memory
	dir    *store.Directory
	docs   *fakeDocuments
}

func newHarness(t *testing.T, extra ...generic.Employee) *harness {
	t.Helper()
	h := &harness{
		mem:  store.NewMemory(),
		dir:  newTestDirectory(extra...),
		docs: &fakeDocuments{},
	}
	h.engine = generic.NewEngine(generic.EngineOptions{
		Store:        h.mem,
		Directory:    h.dir,
		Certificates: h.mem,
		Documents:    h.docs,
		Audit:        h.mem,
		Logger:       zerolog.Nop(),
		Clock:        fixedClock,
	})
	return h
}

// engineWith builds a second engine over the harness stores with a
// different store front or renderer.
func (h *harness) engineWith(st generic.Store, docs generic.DocumentGenerator, timeout time.Duration) *generic.Engine {
	return generic.NewEngine(generic.EngineOptions{
		Store:           st,
		Directory:       h.dir,
		Certificates:    h.mem,
		Documents:       docs,
		Audit:           h.mem,
		Logger:          zerolog.Nop(),
		Clock:           fixedClock,
		DocumentTimeout: timeout,
	})
}

func (h *harness) move(t *testing.T, id generic.EntityID, to generic.Status, who generic.Actor) *generic.Entity {
	t.Helper()
	res, err := h.engine.Transition(context.Background(), id, to, who, "")
	require.NoError(t, err, "move %s to %s as %s", id, to, who.ID)
	return res.Entity
}

// submittedLoan creates a loan for dev and submits it to the manager.
func (h *harness) submittedLoan(t *testing.T) *generic.Entity {
	t.Helper()
	ent, err := h.engine.Create(context.Background(), loans.KindLoan, actorOf(dev), "", loanPayload(t, 20000, 6, "2025-04"))
	require.NoError(t, err)
	return h.move(t, ent.ID, generic.StatusPending, actorOf(dev))
}

// loanAt drives a fresh loan forward until it reaches status.
func (h *harness) loanAt(t *testing.T, status generic.Status) *generic.Entity {
	t.Helper()
	ent := h.submittedLoan(t)
	path := []struct {
		to  generic.Status
		who generic.Employee
	}{
		{generic.StatusPendingHR, mgr},
		{generic.StatusPendingAccounts, hr},
		{generic.StatusPendingAuthorization, fin},
		{generic.StatusApproved, ceo},
	}
	for _, step := range path {
		if ent.Status == status {
			return ent
		}
		ent = h.move(t, ent.ID, step.to, actorOf(step.who))
	}
	require.Equal(t, status, ent.Status)
	return ent
}

var errRendererDown = errors.New("renderer unavailable")
