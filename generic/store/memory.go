// Package store provides in-memory implementations of the generic store
// interfaces for tests and local development.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/warp/hr-workflow/generic"
)

// =============================================================================
// MEMORY STORE - Entities, certificates and audit entries
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	entities     map[generic.EntityID]*generic.Entity
	certificates map[generic.EntityID][]byte
	audit        []generic.AuditEntry
}

func NewMemory() *Memory {
	return &Memory{
		entities:     make(map[generic.EntityID]*generic.Entity),
		certificates: make(map[generic.EntityID][]byte),
	}
}

// Reset drops all entities, certificates and audit entries.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities = make(map[generic.EntityID]*generic.Entity)
	m.certificates = make(map[generic.EntityID][]byte)
	m.audit = nil
	return nil
}

func (m *Memory) Get(_ context.Context, id generic.EntityID) (*generic.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entities[id]
	if !ok {
		return nil, errors.Wrapf(generic.ErrEntityNotFound, "entity %s", id)
	}
	return e.Clone(), nil
}

func (m *Memory) Create(_ context.Context, e *generic.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entities[e.ID]; exists {
		return errors.Newf("entity %s already exists", e.ID)
	}
	m.entities[e.ID] = e.Clone()
	return nil
}

// Update is the compare-and-swap write. Status and version must both match.
func (m *Memory) Update(_ context.Context, e *generic.Entity, expectedStatus generic.Status, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.entities[e.ID]
	if !ok {
		return errors.Wrapf(generic.ErrEntityNotFound, "entity %s", e.ID)
	}
	if cur.Status != expectedStatus || cur.Version != expectedVersion {
		return errors.WithHint(
			errors.Wrapf(generic.ErrConcurrentModification, "entity %s is %s v%d, expected %s v%d",
				e.ID, cur.Status, cur.Version, expectedStatus, expectedVersion),
			"this request was changed by someone else; reload and try again")
	}
	m.entities[e.ID] = e.Clone()
	return nil
}

func (m *Memory) Delete(_ context.Context, id generic.EntityID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entities[id]; !ok {
		return errors.Wrapf(generic.ErrEntityNotFound, "entity %s", id)
	}
	delete(m.entities, id)
	delete(m.certificates, id)
	return nil
}

// List returns matches ordered by creation time, then id.
func (m *Memory) List(_ context.Context, filter generic.Filter) ([]*generic.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*generic.Entity
	for _, e := range m.entities {
		if filter.Matches(e) {
			result = append(result, e.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// =============================================================================
// CERTIFICATES
// =============================================================================

func (m *Memory) SaveCertificate(_ context.Context, id generic.EntityID, pdf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.certificates[id] = append([]byte(nil), pdf...)
	return nil
}

func (m *Memory) GetCertificate(_ context.Context, id generic.EntityID) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pdf, ok := m.certificates[id]
	if !ok {
		return nil, errors.Wrapf(generic.ErrCertificateNotFound, "entity %s", id)
	}
	return append([]byte(nil), pdf...), nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (m *Memory) AppendAudit(_ context.Context, entry generic.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, entry)
	return nil
}

func (m *Memory) QueryAudit(_ context.Context, filter generic.AuditFilter) ([]generic.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []generic.AuditEntry
	for _, entry := range m.audit {
		if filter.EntityID != "" && entry.EntityID != filter.EntityID {
			continue
		}
		if filter.ActorID != "" && entry.ActorID != filter.ActorID {
			continue
		}
		if len(filter.Actions) > 0 && !containsAction(filter.Actions, entry.Action) {
			continue
		}
		if filter.From != nil && entry.At.Before(*filter.From) {
			continue
		}
		if filter.To != nil && entry.At.After(*filter.To) {
			continue
		}
		result = append(result, entry)
	}
	return result, nil
}

func containsAction(list []generic.AuditAction, a generic.AuditAction) bool {
	for _, v := range list {
		if v == a {
			return true
		}
	}
	return false
}
