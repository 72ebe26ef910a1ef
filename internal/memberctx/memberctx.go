// Package memberctx looks up member profiles and attendance for prompt
// context and for the read-only data tools. Lookups go through a TTL cache;
// a miss or a backend failure is never fatal to a session, callers proceed
// with whatever context they have.
package memberctx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound indicates the member does not exist in the directory.
var ErrNotFound = errors.New("member not found")

// MembershipStatus is the billing state of a membership.
type MembershipStatus string

const (
	MembershipActive    MembershipStatus = "active"
	MembershipPaused    MembershipStatus = "paused"
	MembershipCancelled MembershipStatus = "cancelled"
)

// Profile is the directory record for one member.
type Profile struct {
	MemberID  string           `json:"member_id"`
	AccountID string           `json:"account_id"`
	Name      string           `json:"name"`
	Email     string           `json:"email,omitempty"`
	Phone     string           `json:"phone,omitempty"`
	Plan      string           `json:"plan,omitempty"`
	Status    MembershipStatus `json:"status"`
	JoinedAt  time.Time        `json:"joined_at"`
	LastVisit time.Time        `json:"last_visit,omitempty"`
}

// Attendance summarizes a member's recent visits.
type Attendance struct {
	MemberID     string    `json:"member_id"`
	VisitsLast7  int       `json:"visits_last_7_days"`
	VisitsLast30 int       `json:"visits_last_30_days"`
	LastVisit    time.Time `json:"last_visit,omitempty"`
}

// Directory serves member lookups. Implementations must be safe for
// concurrent use.
type Directory interface {
	Profile(ctx context.Context, accountID, memberID string) (*Profile, error)
	Attendance(ctx context.Context, accountID, memberID string) (*Attendance, error)

	// Inactive lists members whose last visit is before the cutoff,
	// excluding cancelled memberships. Used by the retention watcher.
	Inactive(ctx context.Context, accountID string, before time.Time) ([]*Profile, error)
}

// PromptContext renders a member summary for the session system prompt.
// Either argument may be nil.
func PromptContext(profile *Profile, attendance *Attendance) string {
	if profile == nil && attendance == nil {
		return ""
	}

	var b strings.Builder
	b.WriteString("Member context:\n")
	if profile != nil {
		fmt.Fprintf(&b, "- Name: %s (member %s)\n", profile.Name, profile.MemberID)
		fmt.Fprintf(&b, "- Membership: %s", profile.Status)
		if profile.Plan != "" {
			fmt.Fprintf(&b, " (%s plan)", profile.Plan)
		}
		b.WriteString("\n")
		if !profile.JoinedAt.IsZero() {
			fmt.Fprintf(&b, "- Member since: %s\n", profile.JoinedAt.Format("Jan 2006"))
		}
	}
	if attendance != nil {
		fmt.Fprintf(&b, "- Visits: %d in the last 7 days, %d in the last 30 days\n",
			attendance.VisitsLast7, attendance.VisitsLast30)
		if !attendance.LastVisit.IsZero() {
			fmt.Fprintf(&b, "- Last visit: %s\n", attendance.LastVisit.Format("2006-01-02"))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
