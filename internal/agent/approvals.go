package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/duyemura/boxassist-sub000/pkg/models"
)

// ApprovalStatus is the lifecycle of a pending approval request.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalDenied   ApprovalStatus = "denied"
)

// PendingApproval is a side-effecting tool call suspended for human
// sign-off. The session that produced it sits in awaiting_approval until an
// operator decides; the decision starts a continuation session.
type PendingApproval struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	AccountID string          `json:"account_id"`
	ToolCall  models.ToolCall `json:"tool_call"`
	Reason    string          `json:"reason"`
	Status    ApprovalStatus  `json:"status"`
	DecidedBy string          `json:"decided_by,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	DecidedAt time.Time       `json:"decided_at,omitempty"`
}

// Clone returns a copy safe to hand across goroutines.
func (p *PendingApproval) Clone() *PendingApproval {
	if p == nil {
		return nil
	}
	out := *p
	out.ToolCall = *p.ToolCall.Clone()
	return &out
}

// ApprovalStore persists pending approvals so decisions survive out-of-band.
type ApprovalStore interface {
	Create(ctx context.Context, approval *PendingApproval) error
	Get(ctx context.Context, id string) (*PendingApproval, error)
	// Decide transitions a pending approval. Deciding an already-decided
	// approval fails.
	Decide(ctx context.Context, id string, approve bool, decidedBy string) (*PendingApproval, error)
	ListPending(ctx context.Context, accountID string) ([]*PendingApproval, error)
}

// NewPendingApproval builds a pending approval for a suspended call.
func NewPendingApproval(session *models.Session, call models.ToolCall, reason string) *PendingApproval {
	return &PendingApproval{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		AccountID: session.AccountID,
		ToolCall:  *call.Clone(),
		Reason:    reason,
		Status:    ApprovalPending,
		CreatedAt: time.Now().UTC(),
	}
}

// MemoryApprovalStore is the in-memory ApprovalStore used by tests and
// single-process deployments.
type MemoryApprovalStore struct {
	mu        sync.RWMutex
	approvals map[string]*PendingApproval
}

// NewMemoryApprovalStore returns an empty store.
func NewMemoryApprovalStore() *MemoryApprovalStore {
	return &MemoryApprovalStore{approvals: make(map[string]*PendingApproval)}
}

func (s *MemoryApprovalStore) Create(_ context.Context, approval *PendingApproval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.approvals[approval.ID]; exists {
		return fmt.Errorf("approval %s already exists", approval.ID)
	}
	s.approvals[approval.ID] = approval.Clone()
	return nil
}

func (s *MemoryApprovalStore) Get(_ context.Context, id string) (*PendingApproval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	approval, ok := s.approvals[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrApprovalNotFound, id)
	}
	return approval.Clone(), nil
}

func (s *MemoryApprovalStore) Decide(_ context.Context, id string, approve bool, decidedBy string) (*PendingApproval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	approval, ok := s.approvals[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrApprovalNotFound, id)
	}
	if approval.Status != ApprovalPending {
		return nil, fmt.Errorf("approval %s already %s", id, approval.Status)
	}
	if approve {
		approval.Status = ApprovalApproved
	} else {
		approval.Status = ApprovalDenied
	}
	approval.DecidedBy = decidedBy
	approval.DecidedAt = time.Now().UTC()
	return approval.Clone(), nil
}

func (s *MemoryApprovalStore) ListPending(_ context.Context, accountID string) ([]*PendingApproval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*PendingApproval
	for _, a := range s.approvals {
		if a.Status == ApprovalPending && (accountID == "" || a.AccountID == accountID) {
			out = append(out, a.Clone())
		}
	}
	return out, nil
}
