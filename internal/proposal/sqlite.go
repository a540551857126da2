package proposal

import (
	"database/sql"
	"fmt"
	"time"
)

// SQLiteStore is the durable Store implementation. Transitions use
// guarded updates (WHERE status = expected) so a decision applied twice,
// or applied after a conflicting one, affects zero rows and surfaces as
// a state conflict instead of a double execution.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a proposal store on the given database,
// applying the schema on first use.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate proposals: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS proposals (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		tool_name TEXT NOT NULL,
		arguments TEXT NOT NULL,
		action_display TEXT NOT NULL,
		status TEXT NOT NULL,
		decided_by TEXT,
		reject_reason TEXT,
		result TEXT,
		error TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_proposals_status ON proposals(status, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Create persists a new proposal in its initial state.
func (s *SQLiteStore) Create(p *Proposal) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = StatusPending
	}

	_, err := s.db.Exec(`
		INSERT INTO proposals (id, conversation_id, tool_name, arguments, action_display, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.ConversationID, p.ToolName, p.Arguments, p.ActionDisplay, string(p.Status), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert proposal: %w", err)
	}
	return nil
}

// Get returns the proposal, or ErrNotFound.
func (s *SQLiteStore) Get(id string) (*Proposal, error) {
	row := s.db.QueryRow(`
		SELECT id, conversation_id, tool_name, arguments, action_display, status, decided_by, reject_reason, result, error, created_at, updated_at
		FROM proposals WHERE id = ?
	`, id)
	return scanProposal(row)
}

// Transition moves the proposal from the expected status to the next
// one, recording who decided and an optional reason.
func (s *SQLiteStore) Transition(id string, from, to Status, decidedBy, reason string) (*Proposal, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(`
		UPDATE proposals SET status = ?, decided_by = ?, reject_reason = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(to), decidedBy, reason, now, id, string(from))
	return s.applied(id, res, err)
}

// Resolve records the execution outcome.
func (s *SQLiteStore) Resolve(id string, from, to Status, result, errMsg string) (*Proposal, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(`
		UPDATE proposals SET status = ?, result = ?, error = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(to), result, errMsg, now, id, string(from))
	return s.applied(id, res, err)
}

func (s *SQLiteStore) applied(id string, res sql.Result, err error) (*Proposal, error) {
	if err != nil {
		return nil, fmt.Errorf("update proposal: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		// Either missing or in a different state; read to tell which.
		current, getErr := s.Get(id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, &ErrStateConflict{ID: id, Status: current.Status}
	}

	return s.Get(id)
}

// Pending returns proposals awaiting a decision, oldest first.
func (s *SQLiteStore) Pending(limit int) ([]*Proposal, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.Query(`
		SELECT id, conversation_id, tool_name, arguments, action_display, status, decided_by, reject_reason, result, error, created_at, updated_at
		FROM proposals WHERE status = ? ORDER BY created_at ASC LIMIT ?
	`, string(StatusPending), limit)
	if err != nil {
		return nil, fmt.Errorf("query pending proposals: %w", err)
	}
	defer rows.Close()
	return scanProposals(rows)
}

// Recent returns the most recently updated executed or failed
// proposals. Rejected proposals never ran, so they are not part of the
// execution history.
func (s *SQLiteStore) Recent(limit int) ([]*Proposal, error) {
	rows, err := s.db.Query(`
		SELECT id, conversation_id, tool_name, arguments, action_display, status, decided_by, reject_reason, result, error, created_at, updated_at
		FROM proposals WHERE status IN (?, ?)
		ORDER BY updated_at DESC LIMIT ?
	`, string(StatusExecuted), string(StatusFailed), limit)
	if err != nil {
		return nil, fmt.Errorf("query recent proposals: %w", err)
	}
	defer rows.Close()
	return scanProposals(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProposal(row rowScanner) (*Proposal, error) {
	var p Proposal
	var status string
	var decidedBy, reason, result, errMsg sql.NullString
	err := row.Scan(&p.ID, &p.ConversationID, &p.ToolName, &p.Arguments, &p.ActionDisplay,
		&status, &decidedBy, &reason, &result, &errMsg, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan proposal: %w", err)
	}
	p.Status = Status(status)
	p.DecidedBy = decidedBy.String
	p.RejectReason = reason.String
	p.Result = result.String
	p.Error = errMsg.String
	return &p, nil
}

func scanProposals(rows *sql.Rows) ([]*Proposal, error) {
	var out []*Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
