// Package conversations holds conversation threads, their message history,
// and the router that places inbound messages onto threads.
package conversations

import (
	"context"
	"errors"

	"github.com/duyemura/boxassist-sub000/pkg/models"
)

// ErrNotFound indicates the conversation does not exist.
var ErrNotFound = errors.New("conversation not found")

// Store persists conversations and their messages.
type Store interface {
	Create(ctx context.Context, conv *models.Conversation) error
	Get(ctx context.Context, id string) (*models.Conversation, error)

	// Update writes the mutable conversation fields (status, assigned role,
	// contact) whole. ActiveSessionID is excluded; only LinkSession moves it.
	Update(ctx context.Context, conv *models.Conversation) error

	// FindOpen returns the most recently updated open conversation for the
	// contact on the given channel, or ErrNotFound.
	FindOpen(ctx context.Context, accountID string, contact models.Contact, channel models.ChannelType) (*models.Conversation, error)

	// LinkSession swaps ActiveSessionID from fromSessionID to toSessionID.
	// It reports false without error when the conversation moved on in the
	// meantime, so a lost race is visible to the caller.
	LinkSession(ctx context.Context, id, fromSessionID, toSessionID string) (bool, error)

	// AddMessage appends one message to the conversation transcript.
	AddMessage(ctx context.Context, msg *models.Message) error

	// Messages returns the transcript oldest-first. A positive limit keeps
	// only the most recent messages.
	Messages(ctx context.Context, conversationID string, limit int) ([]*models.Message, error)
}
