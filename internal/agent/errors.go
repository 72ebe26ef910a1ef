package agent

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoProvider indicates the runtime was built without a model provider.
	ErrNoProvider = errors.New("no model provider configured")

	// ErrSessionNotResumable indicates a resume was attempted on a session
	// that is not awaiting approval.
	ErrSessionNotResumable = errors.New("session is not awaiting approval")

	// ErrApprovalNotFound indicates an unknown approval id.
	ErrApprovalNotFound = errors.New("approval not found")

	// ErrToolNotFound indicates the model called a tool that is not
	// registered.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolNotAllowed indicates the tool exists but sits outside the
	// session's allowed groups.
	ErrToolNotAllowed = errors.New("tool not allowed for role")

	// ErrInvalidToolInput indicates the input failed schema validation.
	ErrInvalidToolInput = errors.New("tool input failed validation")
)

// ProviderError wraps a model provider failure with enough context to
// decide whether a retry can help.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Retryable  bool
	Cause      error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Provider, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// IsRetryableProviderError reports whether err looks like a transient
// provider failure. Overload, rate limit, timeout, and 5xx responses are
// transient; auth and request shape errors are not.
func IsRetryableProviderError(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "429"),
		strings.Contains(msg, "overloaded"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline exceeded"),
		strings.Contains(msg, "connection"),
		strings.Contains(msg, "unavailable"):
		return true
	}
	return false
}

// TurnError records where in the loop a session died.
type TurnError struct {
	Turn  int
	Stage string
	Cause error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("turn %d (%s): %v", e.Turn, e.Stage, e.Cause)
}

func (e *TurnError) Unwrap() error { return e.Cause }
