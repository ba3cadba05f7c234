// Package ledger provides the shared bookkeeping stores behind the
// orchestrating agent: delegation records, workflow fan-out records, and
// pending approval plans. The in-memory ledgers are authoritative; a SQLite
// store mirrors them best-effort for inspection and restart continuity.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dbhq-uk/cortex/internal/envelope"
)

const schema = `
CREATE TABLE IF NOT EXISTS delegations (
	reference_code TEXT PRIMARY KEY,
	delegated_by TEXT NOT NULL,
	delegated_to TEXT NOT NULL,
	description TEXT,
	status TEXT NOT NULL,
	assigned_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_delegations_status ON delegations(status);

CREATE TABLE IF NOT EXISTS workflows (
	reference_code TEXT PRIMARY KEY,
	summary TEXT,
	status TEXT NOT NULL,
	subtask_refs TEXT NOT NULL,
	original_envelope TEXT,
	created_at DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS workflow_results (
	parent_ref TEXT NOT NULL,
	subtask_ref TEXT NOT NULL,
	content TEXT,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (parent_ref, subtask_ref)
);

CREATE TABLE IF NOT EXISTS pending_plans (
	reference_code TEXT PRIMARY KEY,
	payload TEXT,
	stored_at DATETIME NOT NULL,
	resolved_at DATETIME,
	approved BOOLEAN
);

CREATE TABLE IF NOT EXISTS refcode_seq (
	day TEXT PRIMARY KEY,
	last_seq INTEGER NOT NULL
);
`

// Store is the SQLite persistence service for the ledgers.
type Store struct {
	db *sql.DB
}

// OpenStore opens (and migrates) the ledger database at dbPath.
func OpenStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply ledger schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the handle for read-only inspection (status CLI).
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) upsertDelegation(rec DelegationRecord) error {
	_, err := s.db.Exec(`INSERT INTO delegations
		(reference_code, delegated_by, delegated_to, description, status, assigned_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(reference_code) DO UPDATE SET
			delegated_by = excluded.delegated_by,
			delegated_to = excluded.delegated_to,
			description = excluded.description,
			status = excluded.status,
			updated_at = datetime('now')`,
		rec.ReferenceCode, rec.DelegatedBy, rec.DelegatedTo, rec.Description, string(rec.Status), rec.AssignedAt.UTC())
	return err
}

func (s *Store) updateDelegationStatus(ref string, status DelegationStatus) error {
	_, err := s.db.Exec(`UPDATE delegations SET status = ?, updated_at = datetime('now') WHERE reference_code = ?`,
		string(status), ref)
	return err
}

// ListDelegations returns persisted delegation records, newest first.
func (s *Store) ListDelegations(limit int) ([]DelegationRecord, error) {
	rows, err := s.db.Query(`SELECT reference_code, delegated_by, delegated_to, description, status, assigned_at
		FROM delegations ORDER BY assigned_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DelegationRecord
	for rows.Next() {
		var rec DelegationRecord
		var status string
		if err := rows.Scan(&rec.ReferenceCode, &rec.DelegatedBy, &rec.DelegatedTo, &rec.Description, &status, &rec.AssignedAt); err != nil {
			return nil, err
		}
		rec.Status = DelegationStatus(status)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) upsertWorkflow(parentRef, summary string, status WorkflowStatus, subtaskRefs []string, original *envelope.Envelope, createdAt time.Time) error {
	refs, err := json.Marshal(subtaskRefs)
	if err != nil {
		return err
	}
	var orig []byte
	if original != nil {
		orig, _ = json.Marshal(original)
	}
	_, err = s.db.Exec(`INSERT INTO workflows
		(reference_code, summary, status, subtask_refs, original_envelope, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(reference_code) DO UPDATE SET
			summary = excluded.summary,
			status = excluded.status,
			subtask_refs = excluded.subtask_refs`,
		parentRef, summary, string(status), string(refs), string(orig), createdAt.UTC())
	return err
}

func (s *Store) upsertWorkflowResult(parentRef, subtaskRef, content string) error {
	_, err := s.db.Exec(`INSERT INTO workflow_results (parent_ref, subtask_ref, content, updated_at)
		VALUES (?, ?, ?, datetime('now'))
		ON CONFLICT(parent_ref, subtask_ref) DO UPDATE SET
			content = excluded.content,
			updated_at = datetime('now')`,
		parentRef, subtaskRef, content)
	return err
}

func (s *Store) markWorkflowCompleted(parentRef string, completedAt time.Time) error {
	_, err := s.db.Exec(`UPDATE workflows SET status = ?, completed_at = ? WHERE reference_code = ?`,
		string(WorkflowCompleted), completedAt.UTC(), parentRef)
	return err
}

// ListWorkflows returns persisted workflow summaries, newest first.
func (s *Store) ListWorkflows(limit int) ([]WorkflowSummary, error) {
	rows, err := s.db.Query(`SELECT reference_code, summary, status, subtask_refs, created_at, completed_at
		FROM workflows ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WorkflowSummary
	for rows.Next() {
		var w WorkflowSummary
		var status, refs string
		var completed sql.NullTime
		if err := rows.Scan(&w.ReferenceCode, &w.Summary, &status, &refs, &w.CreatedAt, &completed); err != nil {
			return nil, err
		}
		w.Status = WorkflowStatus(status)
		_ = json.Unmarshal([]byte(refs), &w.SubtaskRefs)
		if completed.Valid {
			t := completed.Time
			w.CompletedAt = &t
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) insertPendingPlan(ref string, payload []byte, storedAt time.Time) error {
	_, err := s.db.Exec(`INSERT INTO pending_plans (reference_code, payload, stored_at)
		VALUES (?, ?, ?)
		ON CONFLICT(reference_code) DO UPDATE SET payload = excluded.payload, stored_at = excluded.stored_at`,
		ref, string(payload), storedAt.UTC())
	return err
}

func (s *Store) resolvePendingPlan(ref string) error {
	_, err := s.db.Exec(`UPDATE pending_plans SET resolved_at = datetime('now') WHERE reference_code = ?`, ref)
	return err
}

// LastRefSeq returns the last issued reference-code sequence for the day.
func (s *Store) LastRefSeq(day string) (int, error) {
	var seq int
	err := s.db.QueryRow(`SELECT last_seq FROM refcode_seq WHERE day = ?`, day).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

// SaveRefSeq records the last issued reference-code sequence for the day.
func (s *Store) SaveRefSeq(day string, seq int) error {
	_, err := s.db.Exec(`INSERT INTO refcode_seq (day, last_seq) VALUES (?, ?)
		ON CONFLICT(day) DO UPDATE SET last_seq = excluded.last_seq`, day, seq)
	return err
}
