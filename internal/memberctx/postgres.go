package memberctx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

const membersSchema = `
CREATE TABLE IF NOT EXISTS members (
	member_id TEXT NOT NULL,
	account_id TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	phone TEXT NOT NULL DEFAULT '',
	plan TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'active',
	joined_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (account_id, member_id)
);

CREATE TABLE IF NOT EXISTS member_visits (
	account_id TEXT NOT NULL,
	member_id TEXT NOT NULL,
	visited_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_member_visits
	ON member_visits (account_id, member_id, visited_at DESC);
`

// PostgresDirectory reads member data from Postgres.
type PostgresDirectory struct {
	db *sql.DB
}

// NewPostgresDirectory wraps an open database handle.
func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// Migrate creates the member tables if missing.
func (d *PostgresDirectory) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, membersSchema); err != nil {
		return fmt.Errorf("migrate members: %w", err)
	}
	return nil
}

func (d *PostgresDirectory) Profile(ctx context.Context, accountID, memberID string) (*Profile, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT m.member_id, m.account_id, m.name, m.email, m.phone, m.plan, m.status,
		       m.joined_at,
		       COALESCE(MAX(v.visited_at), 'epoch'::timestamptz)
		FROM members m
		LEFT JOIN member_visits v
			ON v.account_id = m.account_id AND v.member_id = m.member_id
		WHERE m.account_id = $1 AND m.member_id = $2
		GROUP BY m.member_id, m.account_id, m.name, m.email, m.phone, m.plan,
		         m.status, m.joined_at`, accountID, memberID)

	var (
		p      Profile
		status string
	)
	err := row.Scan(&p.MemberID, &p.AccountID, &p.Name, &p.Email, &p.Phone,
		&p.Plan, &status, &p.JoinedAt, &p.LastVisit)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, memberID)
	}
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	p.Status = MembershipStatus(status)
	if p.LastVisit.Unix() == 0 {
		p.LastVisit = time.Time{}
	}
	return &p, nil
}

func (d *PostgresDirectory) Attendance(ctx context.Context, accountID, memberID string) (*Attendance, error) {
	if _, err := d.Profile(ctx, accountID, memberID); err != nil {
		return nil, err
	}

	row := d.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE visited_at > now() - interval '7 days'),
			COUNT(*) FILTER (WHERE visited_at > now() - interval '30 days'),
			COALESCE(MAX(visited_at), 'epoch'::timestamptz)
		FROM member_visits
		WHERE account_id = $1 AND member_id = $2`, accountID, memberID)

	a := Attendance{MemberID: memberID}
	if err := row.Scan(&a.VisitsLast7, &a.VisitsLast30, &a.LastVisit); err != nil {
		return nil, fmt.Errorf("load attendance: %w", err)
	}
	if a.LastVisit.Unix() == 0 {
		a.LastVisit = time.Time{}
	}
	return &a, nil
}

func (d *PostgresDirectory) Inactive(ctx context.Context, accountID string, before time.Time) ([]*Profile, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT m.member_id, m.account_id, m.name, m.email, m.phone, m.plan, m.status,
		       m.joined_at,
		       COALESCE(MAX(v.visited_at), 'epoch'::timestamptz) AS last_visit
		FROM members m
		LEFT JOIN member_visits v
			ON v.account_id = m.account_id AND v.member_id = m.member_id
		WHERE m.account_id = $1 AND m.status <> 'cancelled'
		GROUP BY m.member_id, m.account_id, m.name, m.email, m.phone, m.plan,
		         m.status, m.joined_at
		HAVING COALESCE(MAX(v.visited_at), 'epoch'::timestamptz) < $2
		ORDER BY m.member_id`, accountID, before)
	if err != nil {
		return nil, fmt.Errorf("list inactive: %w", err)
	}
	defer rows.Close()

	var out []*Profile
	for rows.Next() {
		var (
			p      Profile
			status string
		)
		err := rows.Scan(&p.MemberID, &p.AccountID, &p.Name, &p.Email, &p.Phone,
			&p.Plan, &status, &p.JoinedAt, &p.LastVisit)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		p.Status = MembershipStatus(status)
		if p.LastVisit.Unix() == 0 {
			p.LastVisit = time.Time{}
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}
