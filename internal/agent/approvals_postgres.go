package agent

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

const approvalsSchema = `
CREATE TABLE IF NOT EXISTS agent_approvals (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	account_id TEXT NOT NULL,
	tool_call JSONB NOT NULL,
	reason TEXT NOT NULL,
	status TEXT NOT NULL,
	decided_by TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	decided_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_agent_approvals_pending
	ON agent_approvals (account_id, created_at) WHERE status = 'pending';
`

// PostgresApprovalStore persists approvals in Postgres so a decision made
// from another process still finds the pending call.
type PostgresApprovalStore struct {
	db *sql.DB
}

// NewPostgresApprovalStore wraps an open database handle.
func NewPostgresApprovalStore(db *sql.DB) *PostgresApprovalStore {
	return &PostgresApprovalStore{db: db}
}

// Migrate creates the approvals table if missing.
func (s *PostgresApprovalStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, approvalsSchema); err != nil {
		return fmt.Errorf("migrate approvals: %w", err)
	}
	return nil
}

func (s *PostgresApprovalStore) Create(ctx context.Context, approval *PendingApproval) error {
	call, err := json.Marshal(approval.ToolCall)
	if err != nil {
		return fmt.Errorf("marshal tool call: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_approvals
			(id, session_id, account_id, tool_call, reason, status, decided_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		approval.ID, approval.SessionID, approval.AccountID, call,
		approval.Reason, string(approval.Status), approval.DecidedBy, approval.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert approval: %w", err)
	}
	return nil
}

func (s *PostgresApprovalStore) Get(ctx context.Context, id string) (*PendingApproval, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, account_id, tool_call, reason, status, decided_by, created_at, decided_at
		FROM agent_approvals WHERE id = $1`, id)
	approval, err := scanApproval(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrApprovalNotFound, id)
	}
	return approval, err
}

// Decide flips a pending approval in one statement. The status guard in the
// WHERE clause makes concurrent decisions lose cleanly instead of
// overwriting each other.
func (s *PostgresApprovalStore) Decide(ctx context.Context, id string, approve bool, decidedBy string) (*PendingApproval, error) {
	status := ApprovalDenied
	if approve {
		status = ApprovalApproved
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE agent_approvals
		SET status = $2, decided_by = $3, decided_at = $4
		WHERE id = $1 AND status = 'pending'`,
		id, string(status), decidedBy, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("decide approval: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("decide approval: %w", err)
	}
	if affected == 0 {
		existing, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("approval %s already %s", id, existing.Status)
	}
	return s.Get(ctx, id)
}

func (s *PostgresApprovalStore) ListPending(ctx context.Context, accountID string) ([]*PendingApproval, error) {
	query := `
		SELECT id, session_id, account_id, tool_call, reason, status, decided_by, created_at, decided_at
		FROM agent_approvals WHERE status = 'pending'`
	args := []any{}
	if accountID != "" {
		query += ` AND account_id = $1`
		args = append(args, accountID)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	var out []*PendingApproval
	for rows.Next() {
		approval, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, approval)
	}
	return out, rows.Err()
}

type approvalScanner interface {
	Scan(dest ...any) error
}

func scanApproval(row approvalScanner) (*PendingApproval, error) {
	var (
		approval  PendingApproval
		status    string
		call      []byte
		decidedAt sql.NullTime
	)
	err := row.Scan(
		&approval.ID, &approval.SessionID, &approval.AccountID, &call,
		&approval.Reason, &status, &approval.DecidedBy,
		&approval.CreatedAt, &decidedAt,
	)
	if err != nil {
		return nil, err
	}
	approval.Status = ApprovalStatus(status)
	if decidedAt.Valid {
		approval.DecidedAt = decidedAt.Time
	}
	if err := json.Unmarshal(call, &approval.ToolCall); err != nil {
		return nil, fmt.Errorf("unmarshal tool call: %w", err)
	}
	return &approval, nil
}
