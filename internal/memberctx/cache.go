package memberctx

import (
	"context"
	"sync"
	"time"
)

// DefaultCacheTTL bounds how stale prompt context may be.
const DefaultCacheTTL = 5 * time.Minute

type cacheEntry struct {
	profile    *Profile
	attendance *Attendance
	expires    time.Time
}

// CachedDirectory memoizes directory lookups with a TTL. Writes to member
// data made through this process must call Invalidate so the next lookup
// refetches.
type CachedDirectory struct {
	inner Directory
	ttl   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

// NewCachedDirectory wraps inner with a TTL cache. A non-positive ttl uses
// DefaultCacheTTL.
func NewCachedDirectory(inner Directory, ttl time.Duration) *CachedDirectory {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedDirectory{
		inner:   inner,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*cacheEntry),
	}
}

func cacheKey(accountID, memberID string) string {
	return accountID + "/" + memberID
}

func (c *CachedDirectory) Profile(ctx context.Context, accountID, memberID string) (*Profile, error) {
	key := cacheKey(accountID, memberID)

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.now().Before(e.expires) && e.profile != nil {
		p := *e.profile
		c.mu.Unlock()
		return &p, nil
	}
	c.mu.Unlock()

	profile, err := c.inner.Profile(ctx, accountID, memberID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.storeLocked(key, func(e *cacheEntry) { e.profile = profile })
	c.mu.Unlock()

	p := *profile
	return &p, nil
}

func (c *CachedDirectory) Attendance(ctx context.Context, accountID, memberID string) (*Attendance, error) {
	key := cacheKey(accountID, memberID)

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.now().Before(e.expires) && e.attendance != nil {
		a := *e.attendance
		c.mu.Unlock()
		return &a, nil
	}
	c.mu.Unlock()

	attendance, err := c.inner.Attendance(ctx, accountID, memberID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.storeLocked(key, func(e *cacheEntry) { e.attendance = attendance })
	c.mu.Unlock()

	a := *attendance
	return &a, nil
}

// Inactive is a scan, not a point lookup; it always hits the backend.
func (c *CachedDirectory) Inactive(ctx context.Context, accountID string, before time.Time) ([]*Profile, error) {
	return c.inner.Inactive(ctx, accountID, before)
}

// Invalidate drops the cached entry for one member. Tools that mutate
// membership state call this after a successful write.
func (c *CachedDirectory) Invalidate(accountID, memberID string) {
	c.mu.Lock()
	delete(c.entries, cacheKey(accountID, memberID))
	c.mu.Unlock()
}

func (c *CachedDirectory) storeLocked(key string, set func(*cacheEntry)) {
	e, ok := c.entries[key]
	if !ok || !c.now().Before(e.expires) {
		e = &cacheEntry{expires: c.now().Add(c.ttl)}
		c.entries[key] = e
	}
	set(e)
}
