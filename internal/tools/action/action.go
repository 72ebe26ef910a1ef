// Package action provides the "action" group tools that change member
// state: pausing a membership and applying a billing credit. Both are
// side-effecting and carry no confidence score, so in assisted mode they
// always stop at the approval gate.
package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/duyemura/boxassist-sub000/internal/agent"
	"github.com/duyemura/boxassist-sub000/internal/memberctx"
)

// maxCreditUSD caps what a session can hand out in one call.
const maxCreditUSD = 250

// Invalidator drops cached member context after a write. Satisfied by
// *memberctx.CachedDirectory.
type Invalidator interface {
	Invalidate(accountID, memberID string)
}

const pauseSchema = `{
	"type": "object",
	"properties": {
		"member_id": {
			"type": "string",
			"minLength": 1
		},
		"until": {
			"type": "string",
			"format": "date",
			"description": "Resume date, YYYY-MM-DD"
		},
		"reason": {
			"type": "string",
			"minLength": 1,
			"description": "Why the membership is being paused"
		}
	},
	"required": ["member_id", "until", "reason"],
	"additionalProperties": false
}`

type pauseInput struct {
	MemberID string `json:"member_id"`
	Until    string `json:"until"`
	Reason   string `json:"reason"`
}

// PauseTool pauses a membership until a resume date.
type PauseTool struct {
	ledger    memberctx.Ledger
	cache     Invalidator
	accountID string
}

// NewPauseTool binds pause_membership to one account. cache may be nil.
func NewPauseTool(ledger memberctx.Ledger, cache Invalidator, accountID string) *PauseTool {
	return &PauseTool{ledger: ledger, cache: cache, accountID: accountID}
}

func (t *PauseTool) Name() string { return "pause_membership" }
func (t *PauseTool) Description() string {
	return "Pause a member's membership until a given date. Billing stops while paused. Use only when the member asked for it."
}
func (t *PauseTool) Group() string           { return "action" }
func (t *PauseTool) ReadOnly() bool          { return false }
func (t *PauseTool) Schema() json.RawMessage { return json.RawMessage(pauseSchema) }

func (t *PauseTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input pauseInput
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}

	until, err := time.Parse("2006-01-02", input.Until)
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid resume date %q, want YYYY-MM-DD", input.Until), IsError: true}, nil
	}
	if !until.After(time.Now()) {
		return &agent.ToolResult{Content: "resume date must be in the future", IsError: true}, nil
	}

	err = t.ledger.PauseMembership(ctx, t.accountID, input.MemberID, until)
	if errors.Is(err, memberctx.ErrNotFound) {
		return &agent.ToolResult{Content: fmt.Sprintf("member %s not found", input.MemberID), IsError: true}, nil
	}
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("pause failed: %v", err), IsError: true}, nil
	}

	if t.cache != nil {
		t.cache.Invalidate(t.accountID, input.MemberID)
	}
	return &agent.ToolResult{
		Content: fmt.Sprintf("Membership %s paused until %s.", input.MemberID, until.Format("2006-01-02")),
	}, nil
}

const creditSchema = `{
	"type": "object",
	"properties": {
		"member_id": {
			"type": "string",
			"minLength": 1
		},
		"amount_usd": {
			"type": "number",
			"exclusiveMinimum": 0,
			"maximum": 250,
			"description": "Credit amount in US dollars"
		},
		"reason": {
			"type": "string",
			"minLength": 1,
			"description": "Why the credit is being applied"
		}
	},
	"required": ["member_id", "amount_usd", "reason"],
	"additionalProperties": false
}`

type creditInput struct {
	MemberID  string  `json:"member_id"`
	AmountUSD float64 `json:"amount_usd"`
	Reason    string  `json:"reason"`
}

// CreditTool applies a billing credit.
type CreditTool struct {
	ledger    memberctx.Ledger
	accountID string
}

// NewCreditTool binds apply_credit to one account.
func NewCreditTool(ledger memberctx.Ledger, accountID string) *CreditTool {
	return &CreditTool{ledger: ledger, accountID: accountID}
}

func (t *CreditTool) Name() string { return "apply_credit" }
func (t *CreditTool) Description() string {
	return fmt.Sprintf("Apply a billing credit of up to $%d to a member's account, for example to make up for a billing mistake.", maxCreditUSD)
}
func (t *CreditTool) Group() string           { return "action" }
func (t *CreditTool) ReadOnly() bool          { return false }
func (t *CreditTool) Schema() json.RawMessage { return json.RawMessage(creditSchema) }

func (t *CreditTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input creditInput
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}
	// The schema caps the amount too; this guards direct callers.
	if input.AmountUSD <= 0 || input.AmountUSD > maxCreditUSD {
		return &agent.ToolResult{Content: fmt.Sprintf("amount must be between $0 and $%d", maxCreditUSD), IsError: true}, nil
	}

	err := t.ledger.ApplyCredit(ctx, t.accountID, input.MemberID, input.AmountUSD, input.Reason)
	if errors.Is(err, memberctx.ErrNotFound) {
		return &agent.ToolResult{Content: fmt.Sprintf("member %s not found", input.MemberID), IsError: true}, nil
	}
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("credit failed: %v", err), IsError: true}, nil
	}

	return &agent.ToolResult{
		Content: fmt.Sprintf("Applied a $%.2f credit to member %s.", input.AmountUSD, input.MemberID),
	}, nil
}
