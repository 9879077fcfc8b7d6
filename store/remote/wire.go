package remote

import (
	"encoding/json"
	"time"

	"github.com/warp/hr-workflow/generic"
)

// entityDoc is the JSON shape exchanged with the persistence service.
type entityDoc struct {
	ID           string          `json:"id"`
	Kind         string          `json:"kind"`
	Status       string          `json:"status"`
	RequesterRef string          `json:"requester_ref"`
	AssignedTo   string          `json:"assigned_to,omitempty"`
	History      []stepDoc       `json:"history"`
	ManagerEmail string          `json:"manager_email,omitempty"`
	CreatedBy    string          `json:"created_by,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Version      int             `json:"version"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Rejection    *rejectionDoc   `json:"rejection,omitempty"`
	Certificate  *certificateDoc `json:"certificate,omitempty"`
}

type stepDoc struct {
	Stage      string     `json:"stage"`
	AssignedAt time.Time  `json:"assigned_at"`
	ActionedAt *time.Time `json:"actioned_at,omitempty"`
	Status     string     `json:"status"`
	ActorRef   string     `json:"actor_ref,omitempty"`
	Note       string     `json:"note,omitempty"`
}

type rejectionDoc struct {
	ActorRef    string    `json:"actor_ref"`
	Department  string    `json:"department,omitempty"`
	Designation string    `json:"designation,omitempty"`
	At          time.Time `json:"at"`
}

type certificateDoc struct {
	GeneratedAt       *time.Time `json:"generated_at,omitempty"`
	NeedsRegeneration bool       `json:"needs_regeneration"`
	LastError         string     `json:"last_error,omitempty"`
	Attempts          int        `json:"attempts"`
}

type auditDoc struct {
	ID       string    `json:"id"`
	At       time.Time `json:"at"`
	ActorID  string    `json:"actor_id,omitempty"`
	Action   string    `json:"action"`
	EntityID string    `json:"entity_id"`
	Kind     string    `json:"kind,omitempty"`
	From     string    `json:"from,omitempty"`
	To       string    `json:"to,omitempty"`
	Note     string    `json:"note,omitempty"`
}

func fromEntity(e *generic.Entity) entityDoc {
	d := entityDoc{
		ID:           string(e.ID),
		Kind:         string(e.Kind),
		Status:       string(e.Status),
		RequesterRef: string(e.RequesterRef),
		AssignedTo:   e.AssignedTo,
		ManagerEmail: e.ManagerEmail,
		CreatedBy:    string(e.CreatedBy),
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
		Version:      e.Version,
		Payload:      e.Payload,
		History:      make([]stepDoc, 0, len(e.History)),
	}
	for _, s := range e.History {
		d.History = append(d.History, stepDoc{
			Stage:      string(s.Stage),
			AssignedAt: s.AssignedAt,
			ActionedAt: s.ActionedAt,
			Status:     string(s.Status),
			ActorRef:   s.ActorRef,
			Note:       s.Note,
		})
	}
	if r := e.Rejection; r != nil {
		d.Rejection = &rejectionDoc{ActorRef: r.ActorRef, Department: r.Department, Designation: r.Designation, At: r.At}
	}
	if c := e.Certificate; c != nil {
		d.Certificate = &certificateDoc{
			GeneratedAt:       c.GeneratedAt,
			NeedsRegeneration: c.NeedsRegeneration,
			LastError:         c.LastError,
			Attempts:          c.Attempts,
		}
	}
	return d
}

func (d entityDoc) toEntity() *generic.Entity {
	e := &generic.Entity{
		ID:           generic.EntityID(d.ID),
		Kind:         generic.Kind(d.Kind),
		Status:       generic.Status(d.Status),
		RequesterRef: generic.EmployeeID(d.RequesterRef),
		AssignedTo:   d.AssignedTo,
		ManagerEmail: d.ManagerEmail,
		CreatedBy:    generic.UserID(d.CreatedBy),
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
		Version:      d.Version,
		Payload:      d.Payload,
	}
	for _, s := range d.History {
		e.History = append(e.History, generic.WorkflowStep{
			Stage:      generic.Stage(s.Stage),
			AssignedAt: s.AssignedAt,
			ActionedAt: s.ActionedAt,
			Status:     generic.StepStatus(s.Status),
			ActorRef:   s.ActorRef,
			Note:       s.Note,
		})
	}
	if r := d.Rejection; r != nil {
		e.Rejection = &generic.Rejection{ActorRef: r.ActorRef, Department: r.Department, Designation: r.Designation, At: r.At}
	}
	if c := d.Certificate; c != nil {
		e.Certificate = &generic.Certificate{
			GeneratedAt:       c.GeneratedAt,
			NeedsRegeneration: c.NeedsRegeneration,
			LastError:         c.LastError,
			Attempts:          c.Attempts,
		}
	}
	return e
}

func fromAudit(a generic.AuditEntry) auditDoc {
	return auditDoc{
		ID:       a.ID,
		At:       a.At,
		ActorID:  a.ActorID,
		Action:   string(a.Action),
		EntityID: string(a.EntityID),
		Kind:     string(a.Kind),
		From:     string(a.From),
		To:       string(a.To),
		Note:     a.Note,
	}
}

func (d auditDoc) toEntry() generic.AuditEntry {
	return generic.AuditEntry{
		ID:       d.ID,
		At:       d.At,
		ActorID:  d.ActorID,
		Action:   generic.AuditAction(d.Action),
		EntityID: generic.EntityID(d.EntityID),
		Kind:     generic.Kind(d.Kind),
		From:     generic.Status(d.From),
		To:       generic.Status(d.To),
		Note:     d.Note,
	}
}
