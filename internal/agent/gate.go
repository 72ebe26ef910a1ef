package agent

import (
	"encoding/json"
	"fmt"

	"github.com/duyemura/boxassist-sub000/pkg/models"
)

// Decision is the approval gate's verdict for one tool call.
type Decision string

const (
	DecisionAutoExecute     Decision = "auto_execute"
	DecisionRequireApproval Decision = "require_approval"
	DecisionReject          Decision = "reject"
)

// GatePolicy decides whether a tool call may run unattended. It performs no
// I/O: every input it needs is passed in, which keeps the policy testable
// and its decisions reproducible.
type GatePolicy struct {
	// ConfidenceThreshold is the bar a side-effecting call must clear to
	// auto-execute in assisted mode.
	ConfidenceThreshold float64
}

// Decide returns the verdict and a human-readable reason.
//
// Read-only tools always auto-execute. For side-effecting tools the
// autonomy mode governs: full trusts the agent, manual trusts nobody, and
// assisted trusts calls the tool itself scores at or above the threshold.
// An unknown mode falls back to requiring approval.
func (p GatePolicy) Decide(mode models.AutonomyMode, tool Tool, input json.RawMessage) (Decision, string) {
	if tool.ReadOnly() {
		return DecisionAutoExecute, "read-only tool"
	}

	switch mode {
	case models.AutonomyFull:
		return DecisionAutoExecute, "full autonomy"
	case models.AutonomyManual:
		return DecisionRequireApproval, "manual mode: side-effecting call needs sign-off"
	case models.AutonomyAssisted:
		scorer, ok := tool.(ConfidenceScorer)
		if !ok {
			return DecisionRequireApproval, "assisted mode: tool reports no confidence"
		}
		score := scorer.Confidence(input)
		if score >= p.ConfidenceThreshold {
			return DecisionAutoExecute, fmt.Sprintf("assisted mode: confidence %.2f >= %.2f", score, p.ConfidenceThreshold)
		}
		return DecisionRequireApproval, fmt.Sprintf("assisted mode: confidence %.2f < %.2f", score, p.ConfidenceThreshold)
	default:
		return DecisionRequireApproval, fmt.Sprintf("unknown autonomy mode %q", mode)
	}
}
