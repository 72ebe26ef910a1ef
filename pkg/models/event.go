package models

import "time"

// SessionEventType tags events emitted on a session's event stream.
type SessionEventType string

const (
	EventSessionCreated   SessionEventType = "session_created"
	EventMessage          SessionEventType = "message"
	EventToolCall         SessionEventType = "tool_call"
	EventToolResult       SessionEventType = "tool_result"
	EventAwaitingApproval SessionEventType = "awaiting_approval"
	EventBudgetExceeded   SessionEventType = "budget_exceeded"
	EventError            SessionEventType = "error"
	EventDone             SessionEventType = "done"
)

// SessionEvent is one item on a session's bounded event stream. Exactly one
// of the payload fields is set, according to Type.
type SessionEvent struct {
	Type      SessionEventType `json:"type"`
	SessionID string           `json:"session_id"`
	Turn      int              `json:"turn,omitempty"`

	// Content carries assistant text for message events, the termination
	// summary for done events, and the trip reason for budget_exceeded.
	Content string `json:"content,omitempty"`

	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
	Error      string      `json:"error,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Final reports whether no further events follow this one on the stream.
// awaiting_approval is final for the stream even though the session itself
// is resumable via a continuation.
func (e *SessionEvent) Final() bool {
	switch e.Type {
	case EventDone, EventError, EventBudgetExceeded, EventAwaitingApproval:
		return true
	}
	return false
}
