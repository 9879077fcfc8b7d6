/*
store.go - Persistence interfaces for workflow entities and related data

PURPOSE:
  Defines the boundary between the workflow engine and its storage.
  Different implementations use SQLite, a remote HTTP service, or memory.

KEY INTERFACES:
  Store:            Entity persistence with compare-and-swap updates
  CertificateStore: Generated certificate bytes
  AuditLog:         Append-only record of who moved what, when

COMPARE-AND-SWAP CONTRACT:
  Update() writes the new entity only if the stored row still has the
  expected status AND version. Otherwise it returns
  ErrConcurrentModification and writes nothing. The entity's History is
  written in the same atomic operation: the closed pending step and the
  newly appended step land together or not at all.

  Two approvers acting on the same Pending HR loan both load version 3.
  The first write succeeds and stores version 4; the second finds
  version 4 and fails. The second approver reloads and sees the new stage.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - store/remote/client.go: HTTP persistence service
  - generic/store/memory.go: In-memory for testing

SEE ALSO:
  - engine.go: The only caller of Update
*/
package generic

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Entity persistence
// =============================================================================

type Store interface {
	// Get returns ErrEntityNotFound when the id is unknown.
	Get(ctx context.Context, id EntityID) (*Entity, error)

	// Create persists a new entity. Its Version must be 1.
	Create(ctx context.Context, e *Entity) error

	// Update replaces the entity if the stored status and version match.
	Update(ctx context.Context, e *Entity, expectedStatus Status, expectedVersion int) error

	Delete(ctx context.Context, id EntityID) error

	List(ctx context.Context, filter Filter) ([]*Entity, error)
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	Kind              Kind
	Statuses          []Status
	RequesterRef      EmployeeID
	AssignedTo        []string
	NeedsRegeneration bool
	Limit             int
}

// Matches applies the filter in memory. Stores that cannot push a filter
// down use it after loading.
func (f Filter) Matches(e *Entity) bool {
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, e.Status) {
		return false
	}
	if f.RequesterRef != "" && e.RequesterRef != f.RequesterRef {
		return false
	}
	if len(f.AssignedTo) > 0 {
		hit := false
		for _, ref := range f.AssignedTo {
			if ref != "" && ref == e.AssignedTo {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	if f.NeedsRegeneration && (e.Certificate == nil || !e.Certificate.NeedsRegeneration) {
		return false
	}
	return true
}

func containsStatus(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// =============================================================================
// CERTIFICATE STORE
// =============================================================================

type CertificateStore interface {
	SaveCertificate(ctx context.Context, id EntityID, pdf []byte) error
	// GetCertificate returns ErrCertificateNotFound when nothing is stored.
	GetCertificate(ctx context.Context, id EntityID) ([]byte, error)
}

// =============================================================================
// DOCUMENT GENERATOR - External certificate renderer
// =============================================================================

type DocumentGenerator interface {
	RenderCertificate(ctx context.Context, def *Definition, e *Entity) ([]byte, error)
}

// =============================================================================
// AUDIT LOG - Separate from the entity history, tracks who did what when
// =============================================================================

type AuditAction string

const (
	AuditCreated      AuditAction = "created"
	AuditUpdated      AuditAction = "updated"
	AuditTransitioned AuditAction = "transitioned"
	AuditDeleted      AuditAction = "deleted"
	AuditCertificate  AuditAction = "certificate_generated"
)

type AuditEntry struct {
	ID       string
	At       time.Time
	ActorID  string
	Action   AuditAction
	EntityID EntityID
	Kind     Kind
	From     Status
	To       Status
	Note     string
}

// AuditLog stores audit entries. Append-only.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

type AuditFilter struct {
	EntityID EntityID
	ActorID  string
	Actions  []AuditAction
	From     *time.Time
	To       *time.Time
}
