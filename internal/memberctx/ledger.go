package memberctx

import (
	"context"
	"fmt"
	"time"
)

// Ledger performs the membership writes the action tools need. Callers
// holding a CachedDirectory must Invalidate after a successful write.
type Ledger interface {
	// PauseMembership sets the membership to paused until the given date.
	PauseMembership(ctx context.Context, accountID, memberID string, until time.Time) error

	// ApplyCredit records a billing credit against the member's account.
	ApplyCredit(ctx context.Context, accountID, memberID string, amountUSD float64, reason string) error
}

// Credit is one recorded billing credit.
type Credit struct {
	AccountID string
	MemberID  string
	AmountUSD float64
	Reason    string
	CreatedAt time.Time
}

var _ Ledger = (*MemoryDirectory)(nil)

func (d *MemoryDirectory) PauseMembership(_ context.Context, accountID, memberID string, until time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := cacheKey(accountID, memberID)
	p, ok := d.profiles[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, memberID)
	}
	if p.Status == MembershipCancelled {
		return fmt.Errorf("member %s membership is cancelled", memberID)
	}
	p.Status = MembershipPaused
	d.pauses[key] = until
	return nil
}

func (d *MemoryDirectory) ApplyCredit(_ context.Context, accountID, memberID string, amountUSD float64, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.profiles[cacheKey(accountID, memberID)]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, memberID)
	}
	d.credits = append(d.credits, Credit{
		AccountID: accountID,
		MemberID:  memberID,
		AmountUSD: amountUSD,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// Credits returns the recorded credits, for tests.
func (d *MemoryDirectory) Credits() []Credit {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Credit(nil), d.credits...)
}

const creditsSchema = `
CREATE TABLE IF NOT EXISTS member_credits (
	account_id TEXT NOT NULL,
	member_id TEXT NOT NULL,
	amount_usd DOUBLE PRECISION NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS member_pauses (
	account_id TEXT NOT NULL,
	member_id TEXT NOT NULL,
	paused_until TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`

var _ Ledger = (*PostgresDirectory)(nil)

// MigrateLedger creates the credit and pause tables if missing.
func (d *PostgresDirectory) MigrateLedger(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, creditsSchema); err != nil {
		return fmt.Errorf("migrate ledger: %w", err)
	}
	return nil
}

func (d *PostgresDirectory) PauseMembership(ctx context.Context, accountID, memberID string, until time.Time) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE members SET status = 'paused'
		WHERE account_id = $1 AND member_id = $2 AND status <> 'cancelled'`,
		accountID, memberID)
	if err != nil {
		return fmt.Errorf("pause membership: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("pause membership: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, memberID)
	}

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO member_pauses (account_id, member_id, paused_until, created_at)
		VALUES ($1, $2, $3, $4)`,
		accountID, memberID, until, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record pause: %w", err)
	}
	return nil
}

func (d *PostgresDirectory) ApplyCredit(ctx context.Context, accountID, memberID string, amountUSD float64, reason string) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO member_credits (account_id, member_id, amount_usd, reason, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		accountID, memberID, amountUSD, reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("apply credit: %w", err)
	}
	return nil
}
