package sessions

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/duyemura/boxassist-sub000/pkg/models"
)

// MemoryStore is the in-memory Store used by tests and local development.
// All reads and writes deep-clone so callers never share turn slices with
// the store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*models.Session)}
}

func (s *MemoryStore) Create(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.ID]; exists {
		return fmt.Errorf("session %s already exists", session.ID)
	}
	s.sessions[session.ID] = session.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return session.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, session.ID)
	}
	clone := session.Clone()
	clone.UpdatedAt = time.Now().UTC()
	s.sessions[session.ID] = clone
	return nil
}

func (s *MemoryStore) List(_ context.Context, accountID string, limit int) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Session
	for _, session := range s.sessions {
		if accountID == "" || session.AccountID == accountID {
			out = append(out, session.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
