/*
handlers.go - HTTP API handlers for the approval workflow

PURPOSE:
  Exposes the workflow engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the engine. Every workflow decision
  (who may act, which transition is legal) is made by the engine; handlers
  only translate.

ENDPOINTS:
  Employees:
    GET    /api/employees                      List all employees
    POST   /api/employees                      Create or update employee (admin)
    GET    /api/employees/{id}                 Get employee details
    GET    /api/employees/{id}/limits?type=    Loan/Advance ceilings

  Requests ({kind} is loans or rewards):
    GET    /api/{kind}                         List (status, requester, pending_for_me)
    POST   /api/{kind}                         Create draft
    GET    /api/{kind}/{id}                    Get one
    PUT    /api/{kind}/{id}                    Replace draft payload
    DELETE /api/{kind}/{id}                    Delete
    POST   /api/{kind}/{id}/transitions        Move to another status
    GET    /api/{kind}/{id}/timeline           Stage-by-stage view
    GET    /api/{kind}/{id}/actions            Next action label and permissions
    GET    /api/{kind}/{id}/audit              Audit trail
    GET    /api/{kind}/{id}/certificate        Certificate PDF
    POST   /api/{kind}/{id}/certificate/regenerate

IDENTITY:
  The session comes from the SessionProvider (proxy headers by default)
  and is resolved into a generic.Actor once per request. Workflow routes
  reject anonymous requests with 403.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 403: Unauthorized
  - 404: Entity, employee, certificate or kind not found
  - 409: Invalid transition, terminal state, concurrent modification
         (the last with "retryable": true)
  - 422: Validation errors with per-field violations
  - 500: Internal errors
  A committed approval whose certificate failed returns 200 with the
  failure in "warnings".

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/warp/hr-workflow/factory"
	"github.com/warp/hr-workflow/generic"
	"github.com/warp/hr-workflow/loans"
)

const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// EmployeeStore is the writable directory behind the employee endpoints.
type EmployeeStore interface {
	generic.Directory
	SaveEmployee(ctx context.Context, emp *generic.Employee) error
	ListEmployees(ctx context.Context) ([]generic.Employee, error)
}

// Resetter clears a store before a demo scenario loads.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine    *generic.Engine
	Employees EmployeeStore
	Payloads  *factory.PayloadFactory
	Sessions  SessionProvider
	Resetters []Resetter
	// OnDirectoryChange runs after employee writes, e.g. to drop a cache.
	OnDirectoryChange func()
	Clock             func() time.Time

	log      zerolog.Logger
	validate *validator.Validate

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler with header-based sessions.
func NewHandler(engine *generic.Engine, employees EmployeeStore, log zerolog.Logger) *Handler {
	return &Handler{
		Engine:    engine,
		Employees: employees,
		Payloads:  factory.NewPayloadFactory(),
		Sessions:  HeaderSessions{},
		Clock:     time.Now,
		log:       log.With().Str("component", "api").Logger(),
		validate:  validator.New(),
	}
}

func (h *Handler) now() time.Time {
	if h.Clock != nil {
		return h.Clock()
	}
	return time.Now()
}

// Health reports liveness and, when the store supports it, reachability.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Employees.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// ListEmployees returns all employees.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Employees.ListEmployees(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = toEmployeeDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetEmployee returns one employee.
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	id := generic.EmployeeID(chi.URLParam(r, "id"))
	emp, err := h.Employees.GetEmployee(r.Context(), id)
	if err == nil && emp == nil {
		err = errors.Wrapf(generic.ErrEmployeeNotFound, "employee %s", id)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(*emp))
}

// CreateEmployee inserts or updates an employee. Admin only.
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	if !actor.IsAdmin {
		h.writeError(w, r, errors.WithHint(generic.ErrUnauthorized, "only an administrator can edit the directory"))
		return
	}

	var req CreateEmployeeRequest
	if !h.decode(w, r, &req) {
		return
	}
	emp, err := req.toEmployee()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.Employees.SaveEmployee(r.Context(), &emp); err != nil {
		h.writeError(w, r, err)
		return
	}
	if h.OnDirectoryChange != nil {
		h.OnDirectoryChange()
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(emp))
}

// GetLimits returns the Loan/Advance ceilings for an employee.
// GET /api/employees/{id}/limits?type=Loan
func (h *Handler) GetLimits(w http.ResponseWriter, r *http.Request) {
	t := loans.RequestType(r.URL.Query().Get("type"))
	if t == "" {
		t = loans.TypeLoan
	}
	if !t.Valid() {
		h.writeError(w, r, generic.NewValidationError("type", "type must be Loan or Advance"))
		return
	}
	id := generic.EmployeeID(chi.URLParam(r, "id"))
	_, limits, err := loans.LookupLimits(r.Context(), h.Employees, id, t, h.now())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, LimitsDTO{
		EmployeeID:            string(id),
		Type:                  string(t),
		Blocked:               limits.Blocked,
		Reason:                limits.Reason,
		MaxAmount:             limits.MaxAmount.StringFixed(2),
		MaxDurationMonths:     limits.MaxDurationMonths,
		MonthsUntilVisaExpiry: limits.MonthsUntilVisaExpiry,
	})
}

// =============================================================================
// WORKFLOW HANDLERS
// =============================================================================

// ListEntities lists requests of a kind. Administrators see everything and
// may filter by requester; other actors see their own requests, or with
// pending_for_me=true the requests waiting on them.
func (h *Handler) ListEntities(w http.ResponseWriter, r *http.Request) {
	def, ok := h.definition(w, r)
	if !ok {
		return
	}
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	q := r.URL.Query()

	var entities []*generic.Entity
	var err error
	if pending, _ := strconv.ParseBool(q.Get("pending_for_me")); pending {
		entities, err = h.Engine.PendingFor(ctx, def.Kind, actor)
	} else {
		filter := generic.Filter{Kind: def.Kind}
		for _, raw := range q["status"] {
			st, ok := generic.ParseStatus(raw)
			if !ok {
				h.writeError(w, r, generic.NewValidationError("status", fmt.Sprintf("unknown status %q", raw)))
				return
			}
			filter.Statuses = append(filter.Statuses, st)
		}
		if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 {
			filter.Limit = limit
		}
		switch {
		case h.Engine.Guard.IsAdmin(def, actor):
			filter.RequesterRef = generic.EmployeeID(q.Get("requester"))
		case actor.EmployeeRef == "":
			writeJSON(w, http.StatusOK, []EntityDTO{})
			return
		default:
			filter.RequesterRef = actor.EmployeeRef
		}
		entities, err = h.Engine.List(ctx, filter)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	dtos := make([]EntityDTO, 0, len(entities))
	for _, e := range entities {
		dtos = append(dtos, toEntityDTO(def, e))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateEntity creates a draft.
// POST /api/{kind}
func (h *Handler) CreateEntity(w http.ResponseWriter, r *http.Request) {
	def, ok := h.definition(w, r)
	if !ok {
		return
	}
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	var req CreateEntityRequest
	if !h.decode(w, r, &req) {
		return
	}
	payload, err := h.Payloads.Parse(def.Kind, req.Payload)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ent, err := h.Engine.Create(r.Context(), def.Kind, actor, generic.EmployeeID(req.OnBehalfOf), payload)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntityDTO(def, ent))
}

// GetEntity returns one request.
func (h *Handler) GetEntity(w http.ResponseWriter, r *http.Request) {
	def, ent, ok := h.loadVisible(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toEntityDTO(def, ent))
}

// UpdateEntity replaces the payload of a draft. The body is the payload.
// PUT /api/{kind}/{id}
func (h *Handler) UpdateEntity(w http.ResponseWriter, r *http.Request) {
	def, ent, ok := h.loadEntity(w, r)
	if !ok {
		return
	}
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, r, generic.NewValidationError("body", "request body could not be read"))
		return
	}
	payload, err := h.Payloads.Parse(def.Kind, body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	updated, err := h.Engine.UpdatePayload(r.Context(), ent.ID, actor, payload)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntityDTO(def, updated))
}

// DeleteEntity removes a request.
func (h *Handler) DeleteEntity(w http.ResponseWriter, r *http.Request) {
	_, ent, ok := h.loadEntity(w, r)
	if !ok {
		return
	}
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	if err := h.Engine.Delete(r.Context(), ent.ID, actor); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Transition moves a request to another status.
// POST /api/{kind}/{id}/transitions {"to": "Pending HR", "note": "..."}
func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	def, ent, ok := h.loadEntity(w, r)
	if !ok {
		return
	}
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	var req TransitionRequest
	if !h.decode(w, r, &req) {
		return
	}
	to, valid := generic.ParseStatus(req.To)
	if !valid {
		h.writeError(w, r, generic.NewValidationError("to", fmt.Sprintf("unknown status %q", req.To)))
		return
	}

	result, err := h.Engine.Transition(r.Context(), ent.ID, to, actor, strings.TrimSpace(req.Note))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := TransitionResponse{Entity: toEntityDTO(def, result.Entity), From: string(result.From)}
	for _, warn := range result.Warnings {
		resp.Warnings = append(resp.Warnings, warn.Error())
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetTimeline returns the stage-by-stage view.
func (h *Handler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	_, ent, ok := h.loadVisible(w, r)
	if !ok {
		return
	}
	ent, views, err := h.Engine.Timeline(r.Context(), ent.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TimelineResponse{
		EntityID: string(ent.ID),
		Status:   string(ent.Status),
		Stages:   toStageViewDTOs(views),
	})
}

// GetActions returns the next action label and what the caller may do.
func (h *Handler) GetActions(w http.ResponseWriter, r *http.Request) {
	_, ent, ok := h.loadEntity(w, r)
	if !ok {
		return
	}
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	set, err := h.Engine.Actions(r.Context(), ent.ID, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toActionsDTO(set))
}

// GetAudit returns the audit trail.
func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request) {
	_, ent, ok := h.loadVisible(w, r)
	if !ok {
		return
	}
	entries, err := h.Engine.AuditTrail(r.Context(), ent.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dtos := make([]AuditEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, AuditEntryDTO{
			ID:       e.ID,
			At:       e.At,
			ActorID:  e.ActorID,
			Action:   string(e.Action),
			EntityID: string(e.EntityID),
			From:     string(e.From),
			To:       string(e.To),
			Note:     e.Note,
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCertificate streams the stored PDF.
func (h *Handler) GetCertificate(w http.ResponseWriter, r *http.Request) {
	_, ent, ok := h.loadVisible(w, r)
	if !ok {
		return
	}
	pdf, err := h.Engine.Certificate(r.Context(), ent.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", string(ent.ID)+".pdf"))
	w.WriteHeader(http.StatusOK)
	w.Write(pdf)
}

// RegenerateCertificate retries a certificate. Admin only.
func (h *Handler) RegenerateCertificate(w http.ResponseWriter, r *http.Request) {
	def, ent, ok := h.loadEntity(w, r)
	if !ok {
		return
	}
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	if !h.Engine.Guard.IsAdmin(def, actor) {
		h.writeError(w, r, errors.WithHint(generic.ErrUnauthorized, "only an administrator can regenerate certificates"))
		return
	}
	updated, err := h.Engine.RegenerateCertificate(r.Context(), ent.ID)
	if updated == nil {
		h.writeError(w, r, err)
		return
	}
	resp := TransitionResponse{Entity: toEntityDTO(def, updated), From: string(updated.Status)}
	if err != nil {
		resp.Warnings = append(resp.Warnings, err.Error())
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) definition(w http.ResponseWriter, r *http.Request) (*generic.Definition, bool) {
	def, err := generic.LookupDefinitionBySlug(chi.URLParam(r, "kind"))
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	return def, true
}

// loadEntity loads {id} and checks it belongs to {kind}.
func (h *Handler) loadEntity(w http.ResponseWriter, r *http.Request) (*generic.Definition, *generic.Entity, bool) {
	def, ok := h.definition(w, r)
	if !ok {
		return nil, nil, false
	}
	id := generic.EntityID(chi.URLParam(r, "id"))
	ent, err := h.Engine.Get(r.Context(), id)
	if err == nil && ent.Kind != def.Kind {
		err = errors.Wrapf(generic.ErrEntityNotFound, "%s %s", def.Kind, id)
	}
	if err != nil {
		h.writeError(w, r, err)
		return nil, nil, false
	}
	return def, ent, true
}

// loadVisible is loadEntity for reads: the caller must be signed in and
// allowed to see the request.
func (h *Handler) loadVisible(w http.ResponseWriter, r *http.Request) (*generic.Definition, *generic.Entity, bool) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return nil, nil, false
	}
	def, ent, ok := h.loadEntity(w, r)
	if !ok {
		return nil, nil, false
	}
	if !h.Engine.Guard.CanView(def, ent, actor) {
		h.writeError(w, r, errors.WithHint(
			errors.Wrapf(generic.ErrUnauthorized, "view %s %s", ent.Kind, ent.ID),
			"you do not have access to this request"))
		return nil, nil, false
	}
	return def, ent, true
}

func (h *Handler) requireActor(w http.ResponseWriter, r *http.Request) (generic.Actor, bool) {
	actor, ok := ActorFrom(r.Context())
	if !ok {
		h.writeError(w, r, errors.WithHint(generic.ErrUnauthorized, "sign in to continue"))
		return generic.Actor{}, false
	}
	return actor, true
}

// decode reads a JSON body and runs struct validation on it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, r, generic.NewValidationError("body", "request body is not valid JSON"))
		return false
	}
	if err := h.validate.Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			verr := &generic.ValidationError{}
			for _, fe := range verrs {
				verr.Add(strings.ToLower(fe.Field()), fmt.Sprintf("failed %s check", fe.Tag()))
			}
			h.writeError(w, r, verr)
			return false
		}
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, generic.ErrConcurrentModification),
		errors.Is(err, generic.ErrInvalidTransition),
		errors.Is(err, generic.ErrTerminalState):
		return http.StatusConflict
	case errors.Is(err, generic.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, generic.ErrValidation):
		return http.StatusUnprocessableEntity
	case generic.IsNotFound(err), errors.Is(err, generic.ErrUnknownKind):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := ErrorResponse{
		Error:     http.StatusText(status),
		Reason:    generic.Reason(err),
		Retryable: generic.IsRetryable(err),
	}
	var te *generic.TransitionError
	if errors.As(err, &te) {
		resp.Code = string(te.Code)
	}
	var ve *generic.ValidationError
	if errors.As(err, &ve) {
		for _, v := range ve.Violations {
			resp.Violations = append(resp.Violations, ViolationDTO{Field: v.Field, Reason: v.Reason})
		}
	}

	ev := h.log.Debug()
	if status >= http.StatusInternalServerError {
		ev = h.log.Error()
		resp.Reason = "internal error"
	}
	ev.Err(err).Int("status", status).Str("path", r.URL.Path).
		Str("request_id", middleware.GetReqID(r.Context())).Msg("request failed")
	writeJSON(w, status, resp)
}
