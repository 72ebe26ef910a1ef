package memberctx

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryDirectory is an in-memory Directory for tests and demos.
type MemoryDirectory struct {
	mu         sync.RWMutex
	profiles   map[string]*Profile
	attendance map[string]*Attendance
	credits    []Credit
	pauses     map[string]time.Time
}

// NewMemoryDirectory builds an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		profiles:   make(map[string]*Profile),
		attendance: make(map[string]*Attendance),
		pauses:     make(map[string]time.Time),
	}
}

// Put stores or replaces a member record.
func (d *MemoryDirectory) Put(profile *Profile, attendance *Attendance) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := cacheKey(profile.AccountID, profile.MemberID)
	p := *profile
	d.profiles[key] = &p
	if attendance != nil {
		a := *attendance
		d.attendance[key] = &a
	}
}

func (d *MemoryDirectory) Profile(_ context.Context, accountID, memberID string) (*Profile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.profiles[cacheKey(accountID, memberID)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, memberID)
	}
	out := *p
	return &out, nil
}

func (d *MemoryDirectory) Attendance(_ context.Context, accountID, memberID string) (*Attendance, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.attendance[cacheKey(accountID, memberID)]
	if !ok {
		if _, exists := d.profiles[cacheKey(accountID, memberID)]; exists {
			return &Attendance{MemberID: memberID}, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, memberID)
	}
	out := *a
	return &out, nil
}

func (d *MemoryDirectory) Inactive(_ context.Context, accountID string, before time.Time) ([]*Profile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*Profile
	for _, p := range d.profiles {
		if p.AccountID != accountID || p.Status == MembershipCancelled {
			continue
		}
		if p.LastVisit.Before(before) {
			copied := *p
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MemberID < out[j].MemberID })
	return out, nil
}
