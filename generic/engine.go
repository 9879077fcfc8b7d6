/*
engine.go - Workflow service: persistence, side effects and queries

PURPOSE:
  Engine is the entry point used by the API. It loads an entity, asks the
  Machine for the next state, asserts invariants, and writes the result
  with a single compare-and-swap. Side effects that must never roll back a
  committed transition (audit entries, certificate rendering) run after
  the write and degrade to log lines and warnings.

TRANSITION FLOW:
  1. Load entity, look up its Definition
  2. Machine.RequestTransition (terminal, edge and guard checks)
  3. Submission check for Draft -> Pending (eligibility, payload)
  4. Assert the new assignee is entitled to act
  5. Store.Update with expected status and version
  6. Audit entry (non-fatal)
  7. On Approved: render and store the certificate (non-fatal, bounded by
     DocumentTimeout; failures flag the entity for regeneration)

CONCURRENCY:
  The engine never retries ErrConcurrentModification. The caller reloads and
  decides again, so a second approver never overwrites the first.

SEE ALSO:
  - machine.go: Pure transition logic
  - store.go: Compare-and-swap contract
  - api/scheduler.go: Retries flagged certificates
*/
package generic

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const DefaultDocumentTimeout = 10 * time.Second

type EngineOptions struct {
	Store           Store
	Directory       Directory
	Certificates    CertificateStore
	Documents       DocumentGenerator
	Audit           AuditLog
	Permissions     PermissionChecker
	Logger          zerolog.Logger
	Clock           func() time.Time
	DocumentTimeout time.Duration
}

type Engine struct {
	Store        Store
	Directory    Directory
	Certificates CertificateStore
	Documents    DocumentGenerator
	Audit        AuditLog
	Guard        *Guard
	Machine      *Machine
	Resolver     *ActorResolver

	log             zerolog.Logger
	clock           func() time.Time
	documentTimeout time.Duration
}

func NewEngine(opts EngineOptions) *Engine {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	timeout := opts.DocumentTimeout
	if timeout <= 0 {
		timeout = DefaultDocumentTimeout
	}
	guard := NewGuard(opts.Permissions)
	machine := NewMachine(guard, NewRouter(opts.Directory))
	machine.Clock = clock
	return &Engine{
		Store:           opts.Store,
		Directory:       opts.Directory,
		Certificates:    opts.Certificates,
		Documents:       opts.Documents,
		Audit:           opts.Audit,
		Guard:           guard,
		Machine:         machine,
		Resolver:        NewActorResolver(opts.Directory),
		log:             opts.Logger.With().Str("component", "workflow").Logger(),
		clock:           clock,
		documentTimeout: timeout,
	}
}

func (e *Engine) now() time.Time {
	return e.clock().UTC()
}

// =============================================================================
// CREATE / EDIT / DELETE
// =============================================================================

// Create stores a new Draft. onBehalfOf lets an administrator file a request
// for another employee; leave it empty to file for the actor.
func (e *Engine) Create(ctx context.Context, kind Kind, actor Actor, onBehalfOf EmployeeID, payload json.RawMessage) (*Entity, error) {
	def, err := LookupDefinition(kind)
	if err != nil {
		return nil, err
	}

	requester := actor.EmployeeRef
	if onBehalfOf != "" && onBehalfOf != requester {
		if !e.Guard.IsAdmin(def, actor) {
			return nil, errors.WithHint(errors.Wrapf(ErrUnauthorized, "create %s for %s", kind, onBehalfOf),
				"only an administrator can file a request for someone else")
		}
		requester = onBehalfOf
	}
	if requester == "" {
		return nil, NewValidationError("requester", "your account is not linked to an employee record")
	}

	emp, err := e.Directory.GetEmployee(ctx, requester)
	if err != nil {
		return nil, errors.Wrap(err, "load requester")
	}
	if emp == nil {
		return nil, errors.WithHint(errors.Wrapf(ErrEmployeeNotFound, "employee %s", requester),
			"requester not found")
	}
	var managerEmail string
	mgr, err := e.Directory.GetReportee(ctx, requester)
	if err != nil {
		return nil, errors.Wrap(err, "load reporting manager")
	}
	if mgr != nil {
		managerEmail = mgr.Email
	}

	now := e.now()
	ent := &Entity{
		ID:           EntityID(uuid.NewString()),
		Kind:         kind,
		Status:       StatusDraft,
		RequesterRef: requester,
		AssignedTo:   string(requester),
		ManagerEmail: managerEmail,
		CreatedBy:    actor.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
		Version:      1,
		Payload:      payload,
	}
	if err := e.Store.Create(ctx, ent); err != nil {
		return nil, errors.Wrapf(err, "create %s", kind)
	}
	e.appendAudit(ctx, AuditEntry{Action: AuditCreated, EntityID: ent.ID, Kind: kind, To: StatusDraft, ActorID: string(actor.ID)})
	e.log.Info().Str("entity_id", string(ent.ID)).Str("kind", string(kind)).
		Str("requester", string(requester)).Msg("draft created")
	return ent, nil
}

// UpdatePayload replaces the domain payload of a Draft.
func (e *Engine) UpdatePayload(ctx context.Context, id EntityID, actor Actor, payload json.RawMessage) (*Entity, error) {
	ent, def, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.Guard.Permit(def, ent, actor, ActionEdit); err != nil {
		return nil, err
	}
	next := ent.Clone()
	next.Payload = payload
	next.UpdatedAt = e.now()
	next.Version++
	if err := e.Store.Update(ctx, next, ent.Status, ent.Version); err != nil {
		return nil, err
	}
	e.appendAudit(ctx, AuditEntry{Action: AuditUpdated, EntityID: id, Kind: ent.Kind, From: ent.Status, To: ent.Status, ActorID: string(actor.ID)})
	return next, nil
}

// Delete hard-removes an entity.
func (e *Engine) Delete(ctx context.Context, id EntityID, actor Actor) error {
	ent, def, err := e.load(ctx, id)
	if err != nil {
		return err
	}
	if err := e.Guard.Permit(def, ent, actor, ActionDelete); err != nil {
		return err
	}
	if err := e.Store.Delete(ctx, id); err != nil {
		return errors.Wrapf(err, "delete %s", id)
	}
	e.appendAudit(ctx, AuditEntry{Action: AuditDeleted, EntityID: id, Kind: ent.Kind, From: ent.Status, ActorID: string(actor.ID)})
	e.log.Info().Str("entity_id", string(id)).Str("actor_id", string(actor.ID)).Msg("entity deleted")
	return nil
}

// =============================================================================
// TRANSITION
// =============================================================================

// TransitionResult is a committed transition. Warnings hold non-fatal
// side-effect failures such as a DocumentWarning.
type TransitionResult struct {
	Entity   *Entity
	From     Status
	Warnings []error
}

func (e *Engine) Transition(ctx context.Context, id EntityID, to Status, actor Actor, note string) (*TransitionResult, error) {
	ent, def, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}

	next, err := e.Machine.RequestTransition(ctx, def, ent, to, actor, note)
	if err != nil {
		return nil, err
	}

	if ent.Status == StatusDraft && to != StatusCancelled && to != StatusRejected && def.SubmitCheck != nil {
		requester, err := e.Directory.GetEmployee(ctx, ent.RequesterRef)
		if err != nil {
			return nil, errors.Wrap(err, "load requester")
		}
		if requester == nil {
			return nil, NewValidationError("requester", "requester no longer exists in the directory")
		}
		if err := def.SubmitCheck(ctx, ent, requester, e.now()); err != nil {
			return nil, err
		}
	}

	if err := e.assertAssignee(ctx, def, next); err != nil {
		return nil, err
	}

	if err := e.Store.Update(ctx, next, ent.Status, ent.Version); err != nil {
		return nil, err
	}

	e.appendAudit(ctx, AuditEntry{
		Action: AuditTransitioned, EntityID: id, Kind: ent.Kind,
		From: ent.Status, To: to, ActorID: string(actor.ID), Note: note,
	})
	e.log.Info().
		Str("entity_id", string(id)).
		Str("kind", string(ent.Kind)).
		Str("from", string(ent.Status)).
		Str("to", string(to)).
		Str("actor_id", string(actor.ID)).
		Str("assigned_to", next.AssignedTo).
		Msg("transition committed")

	result := &TransitionResult{Entity: next, From: ent.Status}
	if to == StatusApproved {
		updated, warn := e.generateCertificate(ctx, def, next)
		result.Entity = updated
		if warn != nil {
			result.Warnings = append(result.Warnings, warn)
		}
	}
	return result, nil
}

// assertAssignee checks AssignedTo resolves to someone the guard would let act.
func (e *Engine) assertAssignee(ctx context.Context, def *Definition, next *Entity) error {
	if next.AssignedTo == "" || next.Status.IsTerminal() {
		return nil
	}
	emp, err := e.Directory.GetEmployee(ctx, EmployeeID(next.AssignedTo))
	if err != nil {
		return errors.Wrap(err, "load assignee")
	}
	if emp == nil {
		if emp, err = e.Directory.FindByUserID(ctx, UserID(next.AssignedTo)); err != nil {
			return errors.Wrap(err, "load assignee")
		}
	}
	if emp == nil {
		return errors.Wrapf(ErrInvariantViolation, "%s assigned to unknown actor %q", next.ID, next.AssignedTo)
	}
	if !e.Guard.CanAct(def, next, ActorFromEmployee(emp)) {
		return errors.Wrapf(ErrInvariantViolation, "%s assigned to %s who may not act at %s", next.ID, emp.ID, next.Status)
	}
	return nil
}

// =============================================================================
// CERTIFICATES
// =============================================================================

// generateCertificate renders and stores the certificate for an approved
// entity. It always returns the latest entity; the error is a warning.
func (e *Engine) generateCertificate(ctx context.Context, def *Definition, ent *Entity) (*Entity, error) {
	if e.Documents == nil {
		return ent, nil
	}

	renderCtx, cancel := context.WithTimeout(ctx, e.documentTimeout)
	pdf, err := e.Documents.RenderCertificate(renderCtx, def, ent)
	cancel()
	if err == nil && e.Certificates != nil {
		err = e.Certificates.SaveCertificate(ctx, ent.ID, pdf)
	}

	cert := &Certificate{Attempts: 1}
	if ent.Certificate != nil {
		cert.Attempts = ent.Certificate.Attempts + 1
	}
	var warning error
	if err != nil {
		cert.NeedsRegeneration = true
		cert.LastError = err.Error()
		warning = &DocumentWarning{EntityID: ent.ID, Cause: err}
		e.log.Warn().Err(err).Str("entity_id", string(ent.ID)).Int("attempt", cert.Attempts).
			Msg("certificate generation failed, flagged for regeneration")
	} else {
		at := e.now()
		cert.GeneratedAt = &at
		e.appendAudit(ctx, AuditEntry{Action: AuditCertificate, EntityID: ent.ID, Kind: ent.Kind, From: ent.Status, To: ent.Status, ActorID: string(SystemActor.ID)})
	}

	updated := ent.Clone()
	updated.Certificate = cert
	updated.Version++
	if err := e.Store.Update(ctx, updated, ent.Status, ent.Version); err != nil {
		e.log.Warn().Err(err).Str("entity_id", string(ent.ID)).Msg("could not record certificate state")
		if warning == nil {
			warning = &DocumentWarning{EntityID: ent.ID, Cause: errors.Wrap(err, "record certificate state")}
		}
		return ent, warning
	}
	return updated, warning
}

// RegenerateCertificate retries an approved entity's certificate. The
// returned error is a DocumentWarning when rendering fails again or the
// certificate state could not be recorded.
func (e *Engine) RegenerateCertificate(ctx context.Context, id EntityID) (*Entity, error) {
	ent, def, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if ent.Status != StatusApproved {
		return nil, errors.WithHint(errors.Wrapf(ErrValidation, "%s is %s", id, ent.Status),
			"only approved requests have certificates")
	}
	return e.generateCertificate(ctx, def, ent)
}

// Certificate returns the stored certificate bytes.
func (e *Engine) Certificate(ctx context.Context, id EntityID) ([]byte, error) {
	if e.Certificates == nil {
		return nil, ErrCertificateNotFound
	}
	return e.Certificates.GetCertificate(ctx, id)
}

// =============================================================================
// QUERIES
// =============================================================================

func (e *Engine) Get(ctx context.Context, id EntityID) (*Entity, error) {
	ent, _, err := e.load(ctx, id)
	return ent, err
}

func (e *Engine) List(ctx context.Context, filter Filter) ([]*Entity, error) {
	return e.Store.List(ctx, filter)
}

// PendingFor lists in-flight entities of a kind the actor may act on now.
func (e *Engine) PendingFor(ctx context.Context, kind Kind, actor Actor) ([]*Entity, error) {
	def, err := LookupDefinition(kind)
	if err != nil {
		return nil, err
	}
	statuses := make([]Status, 0, len(def.Stages)-1)
	for _, st := range def.Stages[1:] {
		statuses = append(statuses, st.Status)
	}
	all, err := e.Store.List(ctx, Filter{Kind: kind, Statuses: statuses})
	if err != nil {
		return nil, err
	}
	out := make([]*Entity, 0, len(all))
	for _, ent := range all {
		if e.Guard.CanAct(def, ent, actor) {
			out = append(out, ent)
		}
	}
	return out, nil
}

// Timeline returns the display timeline for an entity.
func (e *Engine) Timeline(ctx context.Context, id EntityID) (*Entity, []StageView, error) {
	ent, def, err := e.load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return ent, BuildTimeline(def, ent, e.now()), nil
}

// Actions returns the next-action label and per-action permissions.
func (e *Engine) Actions(ctx context.Context, id EntityID, actor Actor) (ActionSet, error) {
	ent, def, err := e.load(ctx, id)
	if err != nil {
		return ActionSet{}, err
	}
	return e.Guard.Actions(def, ent, actor), nil
}

// AuditTrail returns the audit entries for an entity, oldest first.
func (e *Engine) AuditTrail(ctx context.Context, id EntityID) ([]AuditEntry, error) {
	if e.Audit == nil {
		return nil, nil
	}
	return e.Audit.QueryAudit(ctx, AuditFilter{EntityID: id})
}

func (e *Engine) load(ctx context.Context, id EntityID) (*Entity, *Definition, error) {
	ent, err := e.Store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	def, err := LookupDefinition(ent.Kind)
	if err != nil {
		return nil, nil, err
	}
	return ent, def, nil
}

func (e *Engine) appendAudit(ctx context.Context, entry AuditEntry) {
	if e.Audit == nil {
		return
	}
	entry.ID = uuid.NewString()
	entry.At = e.now()
	if err := e.Audit.AppendAudit(ctx, entry); err != nil {
		e.log.Warn().Err(err).Str("entity_id", string(entry.EntityID)).
			Str("action", string(entry.Action)).Msg("failed to append audit entry")
	}
}
