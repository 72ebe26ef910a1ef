package conversations

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/duyemura/boxassist-sub000/pkg/models"
)

// MemoryStore is an in-memory Store for tests and single-process runs.
type MemoryStore struct {
	mu       sync.RWMutex
	convs    map[string]*models.Conversation
	messages map[string][]*models.Message
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		convs:    make(map[string]*models.Conversation),
		messages: make(map[string][]*models.Message),
	}
}

func (s *MemoryStore) Create(_ context.Context, conv *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[conv.ID]; ok {
		return fmt.Errorf("conversation %s already exists", conv.ID)
	}
	s.convs[conv.ID] = conv.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.convs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return conv.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, conv *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.convs[conv.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, conv.ID)
	}
	updated := conv.Clone()
	updated.ActiveSessionID = existing.ActiveSessionID
	updated.UpdatedAt = time.Now().UTC()
	s.convs[conv.ID] = updated
	return nil
}

func (s *MemoryStore) FindOpen(_ context.Context, accountID string, contact models.Contact, channel models.ChannelType) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *models.Conversation
	for _, conv := range s.convs {
		if conv.AccountID != accountID || conv.Channel != channel {
			continue
		}
		if !conv.Status.Active() {
			continue
		}
		if !sameContact(conv.Contact, contact, channel) {
			continue
		}
		if best == nil || conv.UpdatedAt.After(best.UpdatedAt) {
			best = conv
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best.Clone(), nil
}

func (s *MemoryStore) LinkSession(_ context.Context, id, fromSessionID, toSessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if conv.ActiveSessionID != fromSessionID {
		return false, nil
	}
	conv.ActiveSessionID = toSessionID
	conv.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *MemoryStore) AddMessage(_ context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[msg.ConversationID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, msg.ConversationID)
	}
	copied := *msg
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], &copied)
	return nil
}

func (s *MemoryStore) Messages(_ context.Context, conversationID string, limit int) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[conversationID]
	out := make([]*models.Message, len(msgs))
	for i, m := range msgs {
		copied := *m
		out[i] = &copied
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// sameContact matches by member id when both sides have one, else by the
// channel address so unknown senders still thread correctly.
func sameContact(a, b models.Contact, channel models.ChannelType) bool {
	if a.MemberID != "" && b.MemberID != "" {
		return a.MemberID == b.MemberID
	}
	addrA, addrB := a.Address(channel), b.Address(channel)
	return addrA != "" && addrA == addrB
}
