// Package learning provides the "learning" group tool that records how a
// retention conversation turned out. Outcomes feed later analysis of which
// outreach actually kept members.
package learning

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/duyemura/boxassist-sub000/internal/agent"
)

// Outcome is one recorded conversation result.
type Outcome struct {
	AccountID      string    `json:"account_id"`
	ConversationID string    `json:"conversation_id"`
	MemberID       string    `json:"member_id"`
	Result         string    `json:"result"`
	Notes          string    `json:"notes,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store persists outcomes.
type Store interface {
	Record(ctx context.Context, outcome *Outcome) error
}

// MemoryStore is an in-memory Store for tests.
type MemoryStore struct {
	mu       sync.Mutex
	outcomes []Outcome
}

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Record(_ context.Context, outcome *Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, *outcome)
	return nil
}

// Outcomes returns the recorded outcomes, for tests.
func (s *MemoryStore) Outcomes() []Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Outcome(nil), s.outcomes...)
}

const outcomesSchema = `
CREATE TABLE IF NOT EXISTS retention_outcomes (
	account_id TEXT NOT NULL,
	conversation_id TEXT NOT NULL DEFAULT '',
	member_id TEXT NOT NULL,
	result TEXT NOT NULL,
	notes TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_retention_outcomes_account
	ON retention_outcomes (account_id, created_at DESC);
`

// PostgresStore persists outcomes in Postgres.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the outcomes table if missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, outcomesSchema); err != nil {
		return fmt.Errorf("migrate outcomes: %w", err)
	}
	return nil
}

func (s *PostgresStore) Record(ctx context.Context, outcome *Outcome) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO retention_outcomes
			(account_id, conversation_id, member_id, result, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		outcome.AccountID, outcome.ConversationID, outcome.MemberID,
		outcome.Result, outcome.Notes, outcome.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

const recordSchema = `{
	"type": "object",
	"properties": {
		"member_id": {
			"type": "string",
			"minLength": 1
		},
		"result": {
			"type": "string",
			"enum": ["retained", "paused", "cancelled", "no_response"],
			"description": "How the retention conversation ended"
		},
		"notes": {
			"type": "string",
			"description": "What worked or did not work, for future outreach"
		}
	},
	"required": ["member_id", "result"],
	"additionalProperties": false
}`

type recordInput struct {
	MemberID string `json:"member_id"`
	Result   string `json:"result"`
	Notes    string `json:"notes"`
}

// RecordTool records the outcome of the current conversation.
type RecordTool struct {
	store          Store
	accountID      string
	conversationID string
}

// NewRecordTool binds record_outcome to one conversation.
func NewRecordTool(store Store, accountID, conversationID string) *RecordTool {
	return &RecordTool{store: store, accountID: accountID, conversationID: conversationID}
}

func (t *RecordTool) Name() string { return "record_outcome" }
func (t *RecordTool) Description() string {
	return "Record how this retention conversation ended: retained, paused, cancelled, or no_response. Always call this before finishing."
}
func (t *RecordTool) Group() string           { return "learning" }
func (t *RecordTool) ReadOnly() bool          { return false }
func (t *RecordTool) Schema() json.RawMessage { return json.RawMessage(recordSchema) }

// Confidence is high: recording an outcome is low risk, so assisted mode
// lets it through without an approval stop.
func (t *RecordTool) Confidence(json.RawMessage) float64 { return 0.95 }

func (t *RecordTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input recordInput
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}

	outcome := &Outcome{
		AccountID:      t.accountID,
		ConversationID: t.conversationID,
		MemberID:       input.MemberID,
		Result:         input.Result,
		Notes:          input.Notes,
		CreatedAt:      time.Now().UTC(),
	}
	if err := t.store.Record(ctx, outcome); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("outcome not recorded: %v", err), IsError: true}, nil
	}

	return &agent.ToolResult{
		Content: fmt.Sprintf("Recorded outcome %q for member %s.", input.Result, input.MemberID),
	}, nil
}
