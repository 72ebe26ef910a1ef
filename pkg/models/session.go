package models

import (
	"time"

	"github.com/google/uuid"
)

// AgentRole scopes which tool groups a session may use.
type AgentRole string

const (
	// RoleFrontDesk handles routine member conversations. Data and
	// conversation tools only.
	RoleFrontDesk AgentRole = "front_desk"
	// RoleManager additionally holds action and learning tools for
	// retention decisions that change member state.
	RoleManager AgentRole = "manager"
)

// ToolGroups returns the tool groups a role is allowed to dispatch.
func (r AgentRole) ToolGroups() []string {
	switch r {
	case RoleManager:
		return []string{"data", "conversation", "action", "learning"}
	default:
		return []string{"data", "conversation"}
	}
}

// Valid reports whether the role is one of the known roles.
func (r AgentRole) Valid() bool {
	return r == RoleFrontDesk || r == RoleManager
}

// AutonomyMode controls how side-effecting tool calls pass the approval gate.
type AutonomyMode string

const (
	AutonomyFull     AutonomyMode = "full"
	AutonomyAssisted AutonomyMode = "assisted"
	AutonomyManual   AutonomyMode = "manual"
)

// SessionStatus is the session lifecycle state.
type SessionStatus string

const (
	SessionCreated          SessionStatus = "created"
	SessionRunning          SessionStatus = "running"
	SessionAwaitingApproval SessionStatus = "awaiting_approval"
	SessionCompleted        SessionStatus = "completed"
	SessionFailed           SessionStatus = "failed"
	SessionBudgetExceeded   SessionStatus = "budget_exceeded"
)

// Terminal reports whether the status is final. awaiting_approval is not
// terminal: a continuation session picks the work back up after a decision.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionCompleted, SessionFailed, SessionBudgetExceeded:
		return true
	}
	return false
}

// SessionCreator records what opened the session.
type SessionCreator string

const (
	CreatorHuman      SessionCreator = "human"
	CreatorAutomation SessionCreator = "automation"
)

// SessionConfig is fixed at creation and never mutated by the run loop.
type SessionConfig struct {
	Goal         string        `json:"goal" yaml:"goal"`
	Autonomy     AutonomyMode  `json:"autonomy" yaml:"autonomy"`
	MaxTurns     int           `json:"max_turns" yaml:"max_turns"`
	MaxCostUSD   float64       `json:"max_cost_usd" yaml:"max_cost_usd"`
	MaxWallClock time.Duration `json:"max_wall_clock" yaml:"max_wall_clock"`
}

// Turn is one model call plus the tool calls it produced and their results.
// Turns are persisted whole: a turn never appears in the log without its
// results (pending approvals are recorded on the turn explicitly).
type Turn struct {
	Index         int          `json:"index"`
	AssistantText string       `json:"assistant_text,omitempty"`
	ToolCalls     []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults   []ToolResult `json:"tool_results,omitempty"`
	PendingCall   *ToolCall    `json:"pending_call,omitempty"`
	InputTokens   int64        `json:"input_tokens"`
	OutputTokens  int64        `json:"output_tokens"`
	CostUSD       float64      `json:"cost_usd"`
	StartedAt     time.Time    `json:"started_at"`
	FinishedAt    time.Time    `json:"finished_at"`
}

// Session is one bounded agent run against a goal.
type Session struct {
	ID             string         `json:"id"`
	AccountID      string         `json:"account_id"`
	ConversationID string         `json:"conversation_id,omitempty"`
	ParentID       string         `json:"parent_id,omitempty"`
	Role           AgentRole      `json:"role"`
	Creator        SessionCreator `json:"creator"`
	Config         SessionConfig  `json:"config"`
	Status         SessionStatus  `json:"status"`
	Turns          []Turn         `json:"turns,omitempty"`
	TurnsUsed      int            `json:"turns_used"`
	CostUSD        float64        `json:"cost_usd"`
	Summary        string         `json:"summary,omitempty"`
	Error          string         `json:"error,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// NewSession builds a session in the created state.
func NewSession(accountID string, role AgentRole, creator SessionCreator, cfg SessionConfig) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Role:      role,
		Creator:   creator,
		Config:    cfg,
		Status:    SessionCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy safe to hand across goroutines.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.Turns != nil {
		out.Turns = make([]Turn, len(s.Turns))
		for i, t := range s.Turns {
			out.Turns[i] = *t.Clone()
		}
	}
	return &out
}

// Clone deep-copies a turn, including tool call payloads.
func (t *Turn) Clone() *Turn {
	out := *t
	if t.ToolCalls != nil {
		out.ToolCalls = make([]ToolCall, len(t.ToolCalls))
		for i, c := range t.ToolCalls {
			out.ToolCalls[i] = *c.Clone()
		}
	}
	if t.ToolResults != nil {
		out.ToolResults = append([]ToolResult(nil), t.ToolResults...)
	}
	if t.PendingCall != nil {
		out.PendingCall = t.PendingCall.Clone()
	}
	return &out
}
