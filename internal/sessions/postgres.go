package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/duyemura/boxassist-sub000/pkg/models"
)

const sessionsSchema = `
CREATE TABLE IF NOT EXISTS agent_sessions (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	conversation_id TEXT NOT NULL DEFAULT '',
	parent_id TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL,
	creator TEXT NOT NULL,
	config JSONB NOT NULL,
	status TEXT NOT NULL,
	turns JSONB NOT NULL DEFAULT '[]',
	turns_used INT NOT NULL DEFAULT 0,
	cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
	summary TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_agent_sessions_account
	ON agent_sessions (account_id, created_at DESC);
`

// PostgresStore persists sessions in Postgres. The turn log lives in a
// JSONB column written whole on every update, so a turn and its results
// land in one statement.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the sessions table if missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sessionsSchema); err != nil {
		return fmt.Errorf("migrate sessions: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, session *models.Session) error {
	config, err := json.Marshal(session.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	turns, err := marshalTurns(session.Turns)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_sessions
			(id, account_id, conversation_id, parent_id, role, creator, config,
			 status, turns, turns_used, cost_usd, summary, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		session.ID, session.AccountID, session.ConversationID, session.ParentID,
		string(session.Role), string(session.Creator), config,
		string(session.Status), turns, session.TurnsUsed, session.CostUSD,
		session.Summary, session.Error, session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, conversation_id, parent_id, role, creator, config,
		       status, turns, turns_used, cost_usd, summary, error, created_at, updated_at
		FROM agent_sessions WHERE id = $1`, id)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return session, err
}

func (s *PostgresStore) Update(ctx context.Context, session *models.Session) error {
	turns, err := marshalTurns(session.Turns)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE agent_sessions
		SET conversation_id = $2, status = $3, turns = $4, turns_used = $5,
		    cost_usd = $6, summary = $7, error = $8, updated_at = $9
		WHERE id = $1`,
		session.ID, session.ConversationID, string(session.Status), turns,
		session.TurnsUsed, session.CostUSD, session.Summary, session.Error,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, session.ID)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, accountID string, limit int) ([]*models.Session, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, conversation_id, parent_id, role, creator, config,
		       status, turns, turns_used, cost_usd, summary, error, created_at, updated_at
		FROM agent_sessions
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var (
		session       models.Session
		role, creator string
		status        string
		config, turns []byte
	)
	err := row.Scan(
		&session.ID, &session.AccountID, &session.ConversationID, &session.ParentID,
		&role, &creator, &config, &status, &turns, &session.TurnsUsed,
		&session.CostUSD, &session.Summary, &session.Error,
		&session.CreatedAt, &session.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	session.Role = models.AgentRole(role)
	session.Creator = models.SessionCreator(creator)
	session.Status = models.SessionStatus(status)
	if err := json.Unmarshal(config, &session.Config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := json.Unmarshal(turns, &session.Turns); err != nil {
		return nil, fmt.Errorf("unmarshal turns: %w", err)
	}
	return &session, nil
}

func marshalTurns(turns []models.Turn) ([]byte, error) {
	if turns == nil {
		turns = []models.Turn{}
	}
	data, err := json.Marshal(turns)
	if err != nil {
		return nil, fmt.Errorf("marshal turns: %w", err)
	}
	return data, nil
}
