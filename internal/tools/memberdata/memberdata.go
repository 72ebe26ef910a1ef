// Package memberdata provides the read-only "data" group tools: member
// profile, attendance summary, and membership status lookups. Each tool is
// bound to one account so a session can never read across tenants.
package memberdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/duyemura/boxassist-sub000/internal/agent"
	"github.com/duyemura/boxassist-sub000/internal/memberctx"
)

const memberIDSchema = `{
	"type": "object",
	"properties": {
		"member_id": {
			"type": "string",
			"minLength": 1,
			"description": "The member's id in this gym's directory"
		}
	},
	"required": ["member_id"],
	"additionalProperties": false
}`

type memberIDInput struct {
	MemberID string `json:"member_id"`
}

// ProfileTool returns a member's directory record.
type ProfileTool struct {
	dir       memberctx.Directory
	accountID string
}

// NewProfileTool binds the profile lookup to one account.
func NewProfileTool(dir memberctx.Directory, accountID string) *ProfileTool {
	return &ProfileTool{dir: dir, accountID: accountID}
}

func (t *ProfileTool) Name() string { return "member_profile" }
func (t *ProfileTool) Description() string {
	return "Look up a member's profile: name, contact details, plan, membership status, and join date."
}
func (t *ProfileTool) Group() string           { return "data" }
func (t *ProfileTool) ReadOnly() bool          { return true }
func (t *ProfileTool) Schema() json.RawMessage { return json.RawMessage(memberIDSchema) }

func (t *ProfileTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input memberIDInput
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}

	profile, err := t.dir.Profile(ctx, t.accountID, input.MemberID)
	if errors.Is(err, memberctx.ErrNotFound) {
		return &agent.ToolResult{Content: fmt.Sprintf("member %s not found", input.MemberID), IsError: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	out, err := json.Marshal(profile)
	if err != nil {
		return nil, fmt.Errorf("encode profile: %w", err)
	}
	return &agent.ToolResult{Content: string(out)}, nil
}

// AttendanceTool summarizes a member's recent visits.
type AttendanceTool struct {
	dir       memberctx.Directory
	accountID string
}

// NewAttendanceTool binds the attendance lookup to one account.
func NewAttendanceTool(dir memberctx.Directory, accountID string) *AttendanceTool {
	return &AttendanceTool{dir: dir, accountID: accountID}
}

func (t *AttendanceTool) Name() string { return "attendance_summary" }
func (t *AttendanceTool) Description() string {
	return "Summarize a member's recent gym visits: counts for the last 7 and 30 days and the date of the last visit."
}
func (t *AttendanceTool) Group() string           { return "data" }
func (t *AttendanceTool) ReadOnly() bool          { return true }
func (t *AttendanceTool) Schema() json.RawMessage { return json.RawMessage(memberIDSchema) }

func (t *AttendanceTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input memberIDInput
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}

	attendance, err := t.dir.Attendance(ctx, t.accountID, input.MemberID)
	if errors.Is(err, memberctx.ErrNotFound) {
		return &agent.ToolResult{Content: fmt.Sprintf("member %s not found", input.MemberID), IsError: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load attendance: %w", err)
	}

	out, err := json.Marshal(attendance)
	if err != nil {
		return nil, fmt.Errorf("encode attendance: %w", err)
	}
	return &agent.ToolResult{Content: string(out)}, nil
}

// StatusTool answers just the billing state of a membership.
type StatusTool struct {
	dir       memberctx.Directory
	accountID string
}

// NewStatusTool binds the status lookup to one account.
func NewStatusTool(dir memberctx.Directory, accountID string) *StatusTool {
	return &StatusTool{dir: dir, accountID: accountID}
}

func (t *StatusTool) Name() string { return "membership_status" }
func (t *StatusTool) Description() string {
	return "Check whether a membership is active, paused, or cancelled, and which plan it is on."
}
func (t *StatusTool) Group() string           { return "data" }
func (t *StatusTool) ReadOnly() bool          { return true }
func (t *StatusTool) Schema() json.RawMessage { return json.RawMessage(memberIDSchema) }

func (t *StatusTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input memberIDInput
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}

	profile, err := t.dir.Profile(ctx, t.accountID, input.MemberID)
	if errors.Is(err, memberctx.ErrNotFound) {
		return &agent.ToolResult{Content: fmt.Sprintf("member %s not found", input.MemberID), IsError: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	content := fmt.Sprintf("Membership %s: %s", input.MemberID, profile.Status)
	if profile.Plan != "" {
		content += fmt.Sprintf(" (%s plan)", profile.Plan)
	}
	return &agent.ToolResult{Content: content}, nil
}
