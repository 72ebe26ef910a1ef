// Package sessions persists agent session records and their turn logs.
package sessions

import (
	"context"
	"errors"

	"github.com/duyemura/boxassist-sub000/pkg/models"
)

// ErrNotFound is returned when a session id does not exist.
var ErrNotFound = errors.New("session not found")

// Store persists sessions. Update writes the whole record, turn log
// included, in one operation: the runtime relies on that to make each turn
// durable before the next one starts.
type Store interface {
	Create(ctx context.Context, session *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	Update(ctx context.Context, session *models.Session) error
	// List returns sessions for an account, newest first, up to limit.
	// A zero limit means no bound.
	List(ctx context.Context, accountID string, limit int) ([]*models.Session, error)
}
