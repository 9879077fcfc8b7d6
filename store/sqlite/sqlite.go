/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements generic.Store, generic.CertificateStore, generic.AuditLog and
  generic.Directory using SQLite. The same SQL works on PostgreSQL with
  minor dialect changes.

COMPARE-AND-SWAP:
  Update() runs in one transaction:
    UPDATE entities SET ... WHERE id = ? AND status = ? AND version = ?
  Zero affected rows means the entity moved on (or is gone) and the whole
  write is rolled back with ErrConcurrentModification. Step rows are then
  synced: existing rows can change only while their stored status is
  Pending, new rows are inserted. A resolved step is never rewritten.

KEY TABLES:
  entities:       One row per request, current status and version
  workflow_steps: Append-only approval history, (entity_id, seq)
  certificates:   Generated PDF bytes
  audit_log:      Who moved what, when
  employees:      Directory used for routing and actor resolution

CONCURRENCY:
  Uses sync.RWMutex for thread-safety on top of SQLite's single writer.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency.

USAGE:
  store, err := sqlite.New("./data/workflow.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/hr-workflow/generic"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ generic.Store            = (*Store)(nil)
	_ generic.CertificateStore = (*Store)(nil)
	_ generic.AuditLog         = (*Store)(nil)
	_ generic.Directory        = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to migrate database")
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		requester_ref TEXT NOT NULL,
		assigned_to TEXT,
		manager_email TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		version INTEGER NOT NULL,
		payload_json TEXT,
		rejection_json TEXT,
		certificate_json TEXT,
		needs_regeneration INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_entities_kind_status ON entities(kind, status);
	CREATE INDEX IF NOT EXISTS idx_entities_requester ON entities(requester_ref);
	CREATE INDEX IF NOT EXISTS idx_entities_assigned ON entities(assigned_to) WHERE assigned_to IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_entities_regeneration ON entities(needs_regeneration) WHERE needs_regeneration = 1;

	-- Append-only approval history. Only a Pending row may be updated.
	CREATE TABLE IF NOT EXISTS workflow_steps (
		entity_id TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		stage TEXT NOT NULL,
		status TEXT NOT NULL,
		assigned_at TEXT NOT NULL,
		actioned_at TEXT,
		actor_ref TEXT,
		note TEXT,
		PRIMARY KEY (entity_id, seq)
	);

	CREATE TABLE IF NOT EXISTS certificates (
		entity_id TEXT PRIMARY KEY REFERENCES entities(id) ON DELETE CASCADE,
		pdf BLOB NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		at TEXT NOT NULL,
		actor_id TEXT,
		action TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		kind TEXT,
		from_status TEXT,
		to_status TEXT,
		note TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_log(entity_id, at);

	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		name TEXT NOT NULL,
		email TEXT,
		department TEXT,
		designation TEXT,
		org_role TEXT,
		manager_id TEXT,
		employment_status TEXT,
		salary TEXT NOT NULL DEFAULT '0',
		visa_type TEXT,
		visa_expiry TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_employees_user ON employees(user_id);
	CREATE INDEX IF NOT EXISTS idx_employees_email ON employees(email COLLATE NOCASE);
	CREATE INDEX IF NOT EXISTS idx_employees_role ON employees(org_role);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ENTITY STORE (generic.Store interface)
// =============================================================================

const entityColumns = `id, kind, status, requester_ref, assigned_to, manager_email, created_by,
	created_at, updated_at, version, payload_json, rejection_json, certificate_json`

func (s *Store) Create(ctx context.Context, e *generic.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, err := toRow(e)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO entities (`+entityColumns+`, needs_regeneration)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			row.ID, row.Kind, row.Status, row.RequesterRef, nullString(row.AssignedTo), nullString(row.ManagerEmail),
			nullString(row.CreatedBy), row.CreatedAt, row.UpdatedAt, row.Version,
			row.Payload, row.Rejection, row.Certificate, row.NeedsRegeneration,
		)
		if isUniqueConstraintError(err) {
			return errors.Newf("entity %s already exists", e.ID)
		}
		if err != nil {
			return errors.Wrapf(err, "insert entity %s", e.ID)
		}
		return syncSteps(ctx, tx, e.ID, 0, e.History)
	})
}

// Update is the compare-and-swap write.
func (s *Store) Update(ctx context.Context, e *generic.Entity, expectedStatus generic.Status, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, err := toRow(e)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE entities SET
				status = ?, assigned_to = ?, updated_at = ?, version = ?,
				payload_json = ?, rejection_json = ?, certificate_json = ?, needs_regeneration = ?
			WHERE id = ? AND status = ? AND version = ?`,
			row.Status, nullString(row.AssignedTo), row.UpdatedAt, row.Version,
			row.Payload, row.Rejection, row.Certificate, row.NeedsRegeneration,
			row.ID, string(expectedStatus), expectedVersion,
		)
		if err != nil {
			return errors.Wrapf(err, "update entity %s", e.ID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var exists int
			err := tx.QueryRowContext(ctx, "SELECT 1 FROM entities WHERE id = ?", row.ID).Scan(&exists)
			if errors.Is(err, sql.ErrNoRows) {
				return errors.Wrapf(generic.ErrEntityNotFound, "entity %s", e.ID)
			}
			return errors.WithHint(
				errors.Wrapf(generic.ErrConcurrentModification, "entity %s no longer %s v%d", e.ID, expectedStatus, expectedVersion),
				"this request was changed by someone else; reload and try again")
		}

		var stored int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM workflow_steps WHERE entity_id = ?", row.ID).Scan(&stored); err != nil {
			return err
		}
		if len(e.History) < stored {
			return errors.Wrapf(generic.ErrInvariantViolation, "history of %s shrank from %d to %d", e.ID, stored, len(e.History))
		}
		return syncSteps(ctx, tx, e.ID, stored, e.History)
	})
}

// syncSteps updates still-pending rows below `stored` and inserts the rest.
func syncSteps(ctx context.Context, tx *sql.Tx, id generic.EntityID, stored int, history []generic.WorkflowStep) error {
	for i, step := range history {
		actioned := sql.NullString{}
		if step.ActionedAt != nil {
			actioned = nullString(formatTime(*step.ActionedAt))
		}
		if i < stored {
			_, err := tx.ExecContext(ctx, `
				UPDATE workflow_steps SET status = ?, actioned_at = ?, actor_ref = ?, note = ?
				WHERE entity_id = ? AND seq = ? AND status = ?`,
				string(step.Status), actioned, nullString(step.ActorRef), nullString(step.Note),
				string(id), i, string(generic.StepPending),
			)
			if err != nil {
				return errors.Wrapf(err, "update step %d of %s", i, id)
			}
			continue
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO workflow_steps (entity_id, seq, stage, status, assigned_at, actioned_at, actor_ref, note)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			string(id), i, string(step.Stage), string(step.Status), formatTime(step.AssignedAt),
			actioned, nullString(step.ActorRef), nullString(step.Note),
		)
		if err != nil {
			return errors.Wrapf(err, "append step %d of %s", i, id)
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id generic.EntityID) (*generic.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+entityColumns+" FROM entities WHERE id = ?", string(id))
	if err != nil {
		return nil, err
	}
	entities, err := scanEntities(rows)
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, errors.Wrapf(generic.ErrEntityNotFound, "entity %s", id)
	}
	if err := s.loadSteps(ctx, entities[0]); err != nil {
		return nil, err
	}
	return entities[0], nil
}

func (s *Store) Delete(ctx context.Context, id generic.EntityID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM entities WHERE id = ?", string(id))
	if err != nil {
		return errors.Wrapf(err, "delete entity %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(generic.ErrEntityNotFound, "entity %s", id)
	}
	return nil
}

func (s *Store) List(ctx context.Context, filter generic.Filter) ([]*generic.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var where []string
	var args []any
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if len(filter.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(filter.Statuses))+")")
		for _, st := range filter.Statuses {
			args = append(args, string(st))
		}
	}
	if filter.RequesterRef != "" {
		where = append(where, "requester_ref = ?")
		args = append(args, string(filter.RequesterRef))
	}
	if len(filter.AssignedTo) > 0 {
		where = append(where, "assigned_to IN ("+placeholders(len(filter.AssignedTo))+")")
		for _, ref := range filter.AssignedTo {
			args = append(args, ref)
		}
	}
	if filter.NeedsRegeneration {
		where = append(where, "needs_regeneration = 1")
	}

	query := "SELECT " + entityColumns + " FROM entities"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	entities, err := scanEntities(rows)
	if err != nil {
		return nil, err
	}
	for _, e := range entities {
		if err := s.loadSteps(ctx, e); err != nil {
			return nil, err
		}
	}
	return entities, nil
}

func (s *Store) loadSteps(ctx context.Context, e *generic.Entity) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT stage, status, assigned_at, actioned_at, actor_ref, note
		FROM workflow_steps WHERE entity_id = ? ORDER BY seq`, string(e.ID))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var step generic.WorkflowStep
		var stage, status, assignedAt string
		var actionedAt, actorRef, note sql.NullString
		if err := rows.Scan(&stage, &status, &assignedAt, &actionedAt, &actorRef, &note); err != nil {
			return err
		}
		step.Stage = generic.Stage(stage)
		step.Status = generic.StepStatus(status)
		step.AssignedAt = parseTime(assignedAt)
		if actionedAt.Valid {
			at := parseTime(actionedAt.String)
			step.ActionedAt = &at
		}
		step.ActorRef = actorRef.String
		step.Note = note.String
		e.History = append(e.History, step)
	}
	return rows.Err()
}

// entityRow is the column form of an entity.
type entityRow struct {
	ID, Kind, Status, RequesterRef, AssignedTo, ManagerEmail, CreatedBy string
	CreatedAt, UpdatedAt                                               string
	Version                                                            int
	Payload, Rejection, Certificate                                    sql.NullString
	NeedsRegeneration                                                  int
}

func toRow(e *generic.Entity) (entityRow, error) {
	row := entityRow{
		ID:           string(e.ID),
		Kind:         string(e.Kind),
		Status:       string(e.Status),
		RequesterRef: string(e.RequesterRef),
		AssignedTo:   e.AssignedTo,
		ManagerEmail: e.ManagerEmail,
		CreatedBy:    string(e.CreatedBy),
		CreatedAt:    formatTime(e.CreatedAt),
		UpdatedAt:    formatTime(e.UpdatedAt),
		Version:      e.Version,
	}
	if len(e.Payload) > 0 {
		row.Payload = nullString(string(e.Payload))
	}
	if e.Rejection != nil {
		b, err := json.Marshal(e.Rejection)
		if err != nil {
			return row, errors.Wrap(err, "encode rejection")
		}
		row.Rejection = nullString(string(b))
	}
	if e.Certificate != nil {
		b, err := json.Marshal(e.Certificate)
		if err != nil {
			return row, errors.Wrap(err, "encode certificate state")
		}
		row.Certificate = nullString(string(b))
		if e.Certificate.NeedsRegeneration {
			row.NeedsRegeneration = 1
		}
	}
	return row, nil
}

func scanEntities(rows *sql.Rows) ([]*generic.Entity, error) {
	defer rows.Close()
	var out []*generic.Entity
	for rows.Next() {
		var (
			e                                           generic.Entity
			id, kind, status, requester                 string
			assignedTo, managerEmail, createdBy         sql.NullString
			createdAt, updatedAt                        string
			payload, rejection, certificate             sql.NullString
		)
		if err := rows.Scan(&id, &kind, &status, &requester, &assignedTo, &managerEmail, &createdBy,
			&createdAt, &updatedAt, &e.Version, &payload, &rejection, &certificate); err != nil {
			return nil, err
		}
		e.ID = generic.EntityID(id)
		e.Kind = generic.Kind(kind)
		e.Status = generic.Status(status)
		e.RequesterRef = generic.EmployeeID(requester)
		e.AssignedTo = assignedTo.String
		e.ManagerEmail = managerEmail.String
		e.CreatedBy = generic.UserID(createdBy.String)
		e.CreatedAt = parseTime(createdAt)
		e.UpdatedAt = parseTime(updatedAt)
		if payload.Valid {
			e.Payload = json.RawMessage(payload.String)
		}
		if rejection.Valid {
			e.Rejection = &generic.Rejection{}
			if err := json.Unmarshal([]byte(rejection.String), e.Rejection); err != nil {
				return nil, errors.Wrapf(err, "decode rejection of %s", id)
			}
		}
		if certificate.Valid {
			e.Certificate = &generic.Certificate{}
			if err := json.Unmarshal([]byte(certificate.String), e.Certificate); err != nil {
				return nil, errors.Wrapf(err, "decode certificate state of %s", id)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// =============================================================================
// CERTIFICATE STORE (generic.CertificateStore interface)
// =============================================================================

func (s *Store) SaveCertificate(ctx context.Context, id generic.EntityID, pdf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO certificates (entity_id, pdf, created_at) VALUES (?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET pdf = excluded.pdf, created_at = excluded.created_at`,
		string(id), pdf, formatTime(time.Now()),
	)
	return errors.Wrapf(err, "save certificate for %s", id)
}

func (s *Store) GetCertificate(ctx context.Context, id generic.EntityID) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pdf []byte
	err := s.db.QueryRowContext(ctx, "SELECT pdf FROM certificates WHERE entity_id = ?", string(id)).Scan(&pdf)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(generic.ErrCertificateNotFound, "entity %s", id)
	}
	return pdf, err
}

// =============================================================================
// AUDIT LOG (generic.AuditLog interface)
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, entry generic.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, at, actor_id, action, entity_id, kind, from_status, to_status, note)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, formatTime(entry.At), nullString(entry.ActorID), string(entry.Action), string(entry.EntityID),
		nullString(string(entry.Kind)), nullString(string(entry.From)), nullString(string(entry.To)), nullString(entry.Note),
	)
	return err
}

func (s *Store) QueryAudit(ctx context.Context, filter generic.AuditFilter) ([]generic.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var where []string
	var args []any
	if filter.EntityID != "" {
		where = append(where, "entity_id = ?")
		args = append(args, string(filter.EntityID))
	}
	if filter.ActorID != "" {
		where = append(where, "actor_id = ?")
		args = append(args, filter.ActorID)
	}
	if len(filter.Actions) > 0 {
		where = append(where, "action IN ("+placeholders(len(filter.Actions))+")")
		for _, a := range filter.Actions {
			args = append(args, string(a))
		}
	}
	if filter.From != nil {
		where = append(where, "at >= ?")
		args = append(args, formatTime(*filter.From))
	}
	if filter.To != nil {
		where = append(where, "at <= ?")
		args = append(args, formatTime(*filter.To))
	}
	query := "SELECT id, at, actor_id, action, entity_id, kind, from_status, to_status, note FROM audit_log"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY at, rowid"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []generic.AuditEntry
	for rows.Next() {
		var entry generic.AuditEntry
		var at, action, entityID string
		var actor, kind, from, to, note sql.NullString
		if err := rows.Scan(&entry.ID, &at, &actor, &action, &entityID, &kind, &from, &to, &note); err != nil {
			return nil, err
		}
		entry.At = parseTime(at)
		entry.ActorID = actor.String
		entry.Action = generic.AuditAction(action)
		entry.EntityID = generic.EntityID(entityID)
		entry.Kind = generic.Kind(kind.String)
		entry.From = generic.Status(from.String)
		entry.To = generic.Status(to.String)
		entry.Note = note.String
		out = append(out, entry)
	}
	return out, rows.Err()
}

// Reset clears all data. Used by demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"certificates", "workflow_steps", "audit_log", "entities", "employees"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return errors.Wrapf(err, "reset %s", table)
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// timeLayout keeps a fixed number of fractional digits so stored times
// sort correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
