package conversations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/duyemura/boxassist-sub000/pkg/models"
)

const conversationsSchema = `
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	member_id TEXT NOT NULL DEFAULT '',
	contact_name TEXT NOT NULL DEFAULT '',
	contact_email TEXT NOT NULL DEFAULT '',
	contact_phone TEXT NOT NULL DEFAULT '',
	channel TEXT NOT NULL,
	status TEXT NOT NULL,
	assigned_role TEXT NOT NULL,
	active_session_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_account
	ON conversations (account_id, updated_at DESC);

CREATE TABLE IF NOT EXISTS conversation_messages (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations (id),
	channel TEXT NOT NULL,
	direction TEXT NOT NULL,
	sender TEXT NOT NULL,
	content TEXT NOT NULL,
	external_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversation_messages_conv
	ON conversation_messages (conversation_id, created_at);
`

// PostgresStore persists conversations and messages in Postgres.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the conversation tables if missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, conversationsSchema); err != nil {
		return fmt.Errorf("migrate conversations: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, conv *models.Conversation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations
			(id, account_id, member_id, contact_name, contact_email, contact_phone,
			 channel, status, assigned_role, active_session_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		conv.ID, conv.AccountID, conv.Contact.MemberID, conv.Contact.Name,
		conv.Contact.Email, conv.Contact.Phone, string(conv.Channel),
		string(conv.Status), string(conv.AssignedRole), conv.ActiveSessionID,
		conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, member_id, contact_name, contact_email, contact_phone,
		       channel, status, assigned_role, active_session_id, created_at, updated_at
		FROM conversations WHERE id = $1`, id)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return conv, err
}

func (s *PostgresStore) Update(ctx context.Context, conv *models.Conversation) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET member_id = $2, contact_name = $3, contact_email = $4, contact_phone = $5,
		    status = $6, assigned_role = $7, updated_at = $8
		WHERE id = $1`,
		conv.ID, conv.Contact.MemberID, conv.Contact.Name, conv.Contact.Email,
		conv.Contact.Phone, string(conv.Status), string(conv.AssignedRole),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, conv.ID)
	}
	return nil
}

func (s *PostgresStore) FindOpen(ctx context.Context, accountID string, contact models.Contact, channel models.ChannelType) (*models.Conversation, error) {
	query := `
		SELECT id, account_id, member_id, contact_name, contact_email, contact_phone,
		       channel, status, assigned_role, active_session_id, created_at, updated_at
		FROM conversations
		WHERE account_id = $1 AND channel = $2 AND status <> 'resolved'`
	args := []any{accountID, string(channel)}

	// Member id is authoritative when known; fall back to the channel
	// address for senders we have not identified yet.
	if contact.MemberID != "" {
		query += ` AND member_id = $3`
		args = append(args, contact.MemberID)
	} else {
		switch channel {
		case models.ChannelEmail:
			query += ` AND contact_email = $3`
		case models.ChannelSMS:
			query += ` AND contact_phone = $3`
		default:
			return nil, ErrNotFound
		}
		addr := contact.Address(channel)
		if addr == "" {
			return nil, ErrNotFound
		}
		args = append(args, addr)
	}
	query += ` ORDER BY updated_at DESC LIMIT 1`

	conv, err := scanConversation(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return conv, err
}

// LinkSession is a compare-and-swap on active_session_id. Zero rows means
// another writer moved the conversation first.
func (s *PostgresStore) LinkSession(ctx context.Context, id, fromSessionID, toSessionID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET active_session_id = $3, updated_at = $4
		WHERE id = $1 AND active_session_id = $2`,
		id, fromSessionID, toSessionID, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("link session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("link session: %w", err)
	}
	return affected == 1, nil
}

func (s *PostgresStore) AddMessage(ctx context.Context, msg *models.Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_messages
			(id, conversation_id, channel, direction, sender, content, external_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		msg.ID, msg.ConversationID, string(msg.Channel), string(msg.Direction),
		msg.Sender, msg.Content, msg.ExternalID, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *PostgresStore) Messages(ctx context.Context, conversationID string, limit int) ([]*models.Message, error) {
	query := `
		SELECT id, conversation_id, channel, direction, sender, content, external_id, created_at
		FROM conversation_messages
		WHERE conversation_id = $1
		ORDER BY created_at`
	args := []any{conversationID}
	if limit > 0 {
		// Most recent N, returned oldest-first.
		query = `SELECT * FROM (` + query + ` DESC LIMIT $2) recent ORDER BY created_at`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		var (
			msg                models.Message
			channel, direction string
		)
		err := rows.Scan(&msg.ID, &msg.ConversationID, &channel, &direction,
			&msg.Sender, &msg.Content, &msg.ExternalID, &msg.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Channel = models.ChannelType(channel)
		msg.Direction = models.Direction(direction)
		out = append(out, &msg)
	}
	return out, rows.Err()
}

func scanConversation(row *sql.Row) (*models.Conversation, error) {
	var (
		conv                  models.Conversation
		channel, status, role string
	)
	err := row.Scan(
		&conv.ID, &conv.AccountID, &conv.Contact.MemberID, &conv.Contact.Name,
		&conv.Contact.Email, &conv.Contact.Phone, &channel, &status, &role,
		&conv.ActiveSessionID, &conv.CreatedAt, &conv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	conv.Channel = models.ChannelType(channel)
	conv.Status = models.ConversationStatus(status)
	conv.AssignedRole = models.AgentRole(role)
	return &conv, nil
}
