package remote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/hr-workflow/generic"
)

// =============================================================================
// FAKE PERSISTENCE SERVICE
// =============================================================================

type fakeService struct {
	mu           sync.Mutex
	entities     map[string]entityDoc
	certificates map[string][]byte
	audit        []auditDoc

	// failNext makes the next n requests answer 503.
	failNext atomic.Int32
	requests atomic.Int32
}

func newFakeService() *fakeService {
	return &fakeService{entities: map[string]entityDoc{}, certificates: map[string][]byte{}}
}

func (f *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)
	if f.failNext.Load() > 0 {
		f.failNext.Add(-1)
		http.Error(w, "try later", http.StatusServiceUnavailable)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case parts[0] == "audit" && r.Method == http.MethodPost:
		var d auditDoc
		json.NewDecoder(r.Body).Decode(&d)
		f.audit = append(f.audit, d)
		w.WriteHeader(http.StatusCreated)
	case parts[0] == "audit":
		var out []auditDoc
		for _, d := range f.audit {
			if id := r.URL.Query().Get("entity_id"); id == "" || d.EntityID == id {
				out = append(out, d)
			}
		}
		writeDoc(w, http.StatusOK, out)
	case len(parts) == 1 && r.Method == http.MethodPost:
		var d entityDoc
		json.NewDecoder(r.Body).Decode(&d)
		if _, ok := f.entities[d.ID]; ok {
			w.WriteHeader(http.StatusConflict)
			return
		}
		f.entities[d.ID] = d
		w.WriteHeader(http.StatusCreated)
	case len(parts) == 1:
		out := []entityDoc{}
		for _, d := range f.entities {
			if k := r.URL.Query().Get("kind"); k == "" || d.Kind == k {
				out = append(out, d)
			}
		}
		writeDoc(w, http.StatusOK, out)
	case len(parts) == 3:
		f.serveCertificate(w, r, parts[1])
	default:
		f.serveEntity(w, r, parts[1])
	}
}

func (f *fakeService) serveEntity(w http.ResponseWriter, r *http.Request, id string) {
	current, ok := f.entities[id]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeDoc(w, http.StatusOK, current)
	case http.MethodDelete:
		delete(f.entities, id)
		w.WriteHeader(http.StatusNoContent)
	case http.MethodPut:
		version, _ := strconv.Atoi(r.Header.Get(headerIfMatch))
		if version != current.Version || r.Header.Get(headerExpectedStatus) != current.Status {
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
		var d entityDoc
		json.NewDecoder(r.Body).Decode(&d)
		f.entities[id] = d
		writeDoc(w, http.StatusOK, d)
	}
}

func (f *fakeService) serveCertificate(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method == http.MethodPut {
		pdf, _ := io.ReadAll(r.Body)
		f.certificates[id] = pdf
		w.WriteHeader(http.StatusNoContent)
		return
	}
	pdf, ok := f.certificates[id]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Write(pdf)
}

func writeDoc(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func newClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Options{BaseURL: srv.URL, RetryMax: 2, Logger: zerolog.Nop()})
	require.NoError(t, err)
	c.http.RetryWaitMin = time.Millisecond
	c.http.RetryWaitMax = 5 * time.Millisecond
	return c
}

var t0 = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

func sampleEntity() *generic.Entity {
	actioned := t0.Add(time.Hour)
	return &generic.Entity{
		ID:           "loan-1",
		Kind:         "loan",
		Status:       generic.StatusPendingHR,
		RequesterRef: "e-dev",
		AssignedTo:   "e-hr",
		CreatedAt:    t0,
		UpdatedAt:    actioned,
		Version:      3,
		Payload:      json.RawMessage(`{"type":"Loan"}`),
		History: []generic.WorkflowStep{
			{Stage: generic.StageReportee, Status: generic.StepApproved, AssignedAt: t0, ActionedAt: &actioned, ActorRef: "e-mgr"},
			{Stage: generic.StageHR, Status: generic.StepPending, AssignedAt: actioned},
		},
	}
}

// =============================================================================
// ENTITY STORE
// =============================================================================

func TestClient_CreateGetRoundTrip(t *testing.T) {
	c := newClient(t, newFakeService())
	ctx := context.Background()

	require.NoError(t, c.Create(ctx, sampleEntity()))

	got, err := c.Get(ctx, "loan-1")
	require.NoError(t, err)
	assert.Equal(t, generic.StatusPendingHR, got.Status)
	assert.Equal(t, 3, got.Version)
	require.Len(t, got.History, 2)
	assert.Equal(t, generic.StepApproved, got.History[0].Status)
	assert.True(t, got.History[0].ActionedAt.Equal(t0.Add(time.Hour)))
	assert.Nil(t, got.History[1].ActionedAt)

	assert.Error(t, c.Create(ctx, sampleEntity()), "duplicate")

	_, err = c.Get(ctx, "loan-404")
	assert.True(t, errors.Is(err, generic.ErrEntityNotFound))
}

func TestClient_UpdateConflictIsNotRetried(t *testing.T) {
	svc := newFakeService()
	c := newClient(t, svc)
	ctx := context.Background()
	require.NoError(t, c.Create(ctx, sampleEntity()))

	next := sampleEntity()
	next.Status = generic.StatusPendingAccounts
	next.Version = 4
	require.NoError(t, c.Update(ctx, next, generic.StatusPendingHR, 3))

	// GIVEN: A writer holding the old snapshot
	stale := sampleEntity()
	stale.Status = generic.StatusRejected
	stale.Version = 4
	before := svc.requests.Load()

	// WHEN: It writes against the old version
	err := c.Update(ctx, stale, generic.StatusPendingHR, 3)

	// THEN: One request, a retryable conflict for the caller
	require.Error(t, err)
	assert.True(t, errors.Is(err, generic.ErrConcurrentModification))
	assert.Equal(t, int32(1), svc.requests.Load()-before)

	got, err := c.Get(ctx, "loan-1")
	require.NoError(t, err)
	assert.Equal(t, generic.StatusPendingAccounts, got.Status)

	err = c.Update(ctx, &generic.Entity{ID: "loan-404"}, generic.StatusDraft, 1)
	assert.True(t, errors.Is(err, generic.ErrEntityNotFound))
}

func TestClient_ServerErrorsAreRetried(t *testing.T) {
	svc := newFakeService()
	c := newClient(t, svc)
	ctx := context.Background()
	require.NoError(t, c.Create(ctx, sampleEntity()))

	svc.failNext.Store(2)
	got, err := c.Get(ctx, "loan-1")
	require.NoError(t, err)
	assert.Equal(t, generic.EntityID("loan-1"), got.ID)

	svc.failNext.Store(5)
	_, err = c.Get(ctx, "loan-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "returned 503")
}

func TestClient_ListAppliesFilterLocally(t *testing.T) {
	c := newClient(t, newFakeService())
	ctx := context.Background()

	a := sampleEntity()
	b := sampleEntity()
	b.ID = "loan-2"
	b.Status = generic.StatusDraft
	b.History = nil
	for _, e := range []*generic.Entity{a, b} {
		require.NoError(t, c.Create(ctx, e))
	}

	// The fake service ignores the status filter
	got, err := c.List(ctx, generic.Filter{Kind: "loan", Statuses: []generic.Status{generic.StatusDraft}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, generic.EntityID("loan-2"), got[0].ID)
}

func TestClient_Delete(t *testing.T) {
	c := newClient(t, newFakeService())
	ctx := context.Background()
	require.NoError(t, c.Create(ctx, sampleEntity()))

	require.NoError(t, c.Delete(ctx, "loan-1"))
	assert.True(t, errors.Is(c.Delete(ctx, "loan-1"), generic.ErrEntityNotFound))
}

// =============================================================================
// CERTIFICATES AND AUDIT
// =============================================================================

func TestClient_Certificates(t *testing.T) {
	c := newClient(t, newFakeService())
	ctx := context.Background()

	_, err := c.GetCertificate(ctx, "loan-1")
	assert.True(t, errors.Is(err, generic.ErrCertificateNotFound))

	require.NoError(t, c.SaveCertificate(ctx, "loan-1", []byte("%PDF-1.3 body")))
	pdf, err := c.GetCertificate(ctx, "loan-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.3 body"), pdf)
}

func TestClient_Audit(t *testing.T) {
	c := newClient(t, newFakeService())
	ctx := context.Background()

	require.NoError(t, c.AppendAudit(ctx, generic.AuditEntry{
		ID: "a1", At: t0, ActorID: "u-mgr", Action: generic.AuditTransitioned, EntityID: "loan-1",
		From: generic.StatusPending, To: generic.StatusPendingHR, Note: "fine",
	}))
	require.NoError(t, c.AppendAudit(ctx, generic.AuditEntry{ID: "a2", At: t0, Action: generic.AuditCreated, EntityID: "loan-2"}))

	trail, err := c.QueryAudit(ctx, generic.AuditFilter{EntityID: "loan-1"})
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, generic.AuditTransitioned, trail[0].Action)
	assert.Equal(t, generic.StatusPendingHR, trail[0].To)
	assert.Equal(t, "fine", trail[0].Note)
}

func TestNew_RejectsBadURL(t *testing.T) {
	_, err := New(Options{BaseURL: "not a url"})
	assert.Error(t, err)
}
