// Package usage tracks token consumption and estimates model spend. The
// budget guard treats estimates as authoritative: pricing gaps count as
// zero cost rather than blocking a session.
package usage

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Usage is token consumption for one model call.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u *Usage) Total() int64 {
	return u.InputTokens + u.OutputTokens
}

// Add accumulates another record into this one.
func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Cost is per-million-token pricing for a model.
type Cost struct {
	Input  float64 `json:"input" yaml:"input"`
	Output float64 `json:"output" yaml:"output"`
}

// Estimate returns the dollar cost of the given usage.
func (c Cost) Estimate(u *Usage) float64 {
	if u == nil {
		return 0
	}
	return (float64(u.InputTokens)*c.Input + float64(u.OutputTokens)*c.Output) / 1_000_000
}

// Pricing maps model name to cost. A missing model estimates to zero.
type Pricing map[string]Cost

// Estimate returns the cost of usage on the named model.
func (p Pricing) Estimate(model string, u *Usage) float64 {
	cost, ok := p[model]
	if !ok {
		return 0
	}
	return cost.Estimate(u)
}

// DefaultPricing covers the models the default config ships with. Config
// pricing overrides this table.
func DefaultPricing() Pricing {
	return Pricing{
		"claude-sonnet-4-5": {Input: 3.0, Output: 15.0},
		"claude-haiku-4-5":  {Input: 1.0, Output: 5.0},
		"gpt-4o":            {Input: 2.5, Output: 10.0},
		"gpt-4o-mini":       {Input: 0.15, Output: 0.6},
	}
}

// Record is one attributed usage entry.
type Record struct {
	SessionID string    `json:"session_id"`
	AccountID string    `json:"account_id,omitempty"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Usage     Usage     `json:"usage"`
	CostUSD   float64   `json:"cost_usd"`
	Timestamp time.Time `json:"timestamp"`
}

// Tracker accumulates usage records per account for reporting. Records are
// pruned by age and count so the tracker stays bounded.
type Tracker struct {
	mu        sync.RWMutex
	records   []Record
	byAccount map[string]*Usage
	maxAge    time.Duration
	maxCount  int
}

// NewTracker builds a tracker keeping at most maxCount records for maxAge.
func NewTracker(maxAge time.Duration, maxCount int) *Tracker {
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	if maxCount <= 0 {
		maxCount = 10000
	}
	return &Tracker{
		byAccount: make(map[string]*Usage),
		maxAge:    maxAge,
		maxCount:  maxCount,
	}
}

// Record adds one usage entry.
func (t *Tracker) Record(r Record) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	t.records = append(t.records, r)

	if r.AccountID != "" {
		if t.byAccount[r.AccountID] == nil {
			t.byAccount[r.AccountID] = &Usage{}
		}
		t.byAccount[r.AccountID].Add(&r.Usage)
	}

	t.prune()
}

func (t *Tracker) prune() {
	cutoff := time.Now().Add(-t.maxAge)
	start := 0
	for i, r := range t.records {
		if r.Timestamp.After(cutoff) {
			start = i
			break
		}
		start = i + 1
	}
	if start > 0 {
		t.records = t.records[start:]
	}
	if len(t.records) > t.maxCount {
		t.records = t.records[len(t.records)-t.maxCount:]
	}
}

// AccountTotals returns a copy of the accumulated usage for an account.
func (t *Tracker) AccountTotals(accountID string) *Usage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if u := t.byAccount[accountID]; u != nil {
		out := *u
		return &out
	}
	return nil
}

// Recent returns up to limit most recent records, newest last.
func (t *Tracker) Recent(limit int) []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if limit <= 0 || limit > len(t.records) {
		limit = len(t.records)
	}
	out := make([]Record, limit)
	copy(out, t.records[len(t.records)-limit:])
	return out
}

// FormatTokenCount renders a count like "1.2k" or "3.4m" for display.
func FormatTokenCount(count int64) string {
	if count <= 0 {
		return "0"
	}
	if count >= 1_000_000 {
		return fmt.Sprintf("%.1fm", float64(count)/1_000_000)
	}
	if count >= 10_000 {
		return fmt.Sprintf("%dk", count/1_000)
	}
	if count >= 1_000 {
		return fmt.Sprintf("%.1fk", float64(count)/1_000)
	}
	return fmt.Sprintf("%d", count)
}

// FormatUSD renders a dollar amount, or "" for zero/invalid amounts.
func FormatUSD(amount float64) string {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return ""
	}
	if amount >= 0.01 {
		return fmt.Sprintf("$%.2f", amount)
	}
	return fmt.Sprintf("$%.4f", amount)
}
