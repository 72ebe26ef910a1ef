package agent

import (
	"fmt"
	"time"

	"github.com/duyemura/boxassist-sub000/internal/usage"
	"github.com/duyemura/boxassist-sub000/pkg/models"
)

// BudgetGuard enforces a session's turn, cost, and wall-clock limits. It is
// consulted at the top of every turn, before the model call, so a session
// never starts work it has no budget to finish. Limits that are zero are
// unbounded.
type BudgetGuard struct {
	maxTurns   int
	maxCostUSD float64
	deadline   time.Time

	turnsUsed int
	costUSD   float64
}

// NewBudgetGuard builds a guard from the session config, resuming counters
// from a continuation's parent if the session already carries spend.
func NewBudgetGuard(cfg models.SessionConfig, turnsUsed int, costUSD float64, now time.Time) *BudgetGuard {
	g := &BudgetGuard{
		maxTurns:   cfg.MaxTurns,
		maxCostUSD: cfg.MaxCostUSD,
		turnsUsed:  turnsUsed,
		costUSD:    costUSD,
	}
	if cfg.MaxWallClock > 0 {
		g.deadline = now.Add(cfg.MaxWallClock)
	}
	return g
}

// CanStartTurn reports whether another turn fits the budget. The reason
// names the tripped limit.
func (g *BudgetGuard) CanStartTurn(now time.Time) (bool, string) {
	if g.maxTurns > 0 && g.turnsUsed >= g.maxTurns {
		return false, fmt.Sprintf("turn limit reached (%d/%d)", g.turnsUsed, g.maxTurns)
	}
	if g.maxCostUSD > 0 && g.costUSD >= g.maxCostUSD {
		return false, fmt.Sprintf("cost budget exhausted (%s of %s)", usage.FormatUSD(g.costUSD), usage.FormatUSD(g.maxCostUSD))
	}
	if !g.deadline.IsZero() && !now.Before(g.deadline) {
		return false, "wall clock budget exhausted"
	}
	return true, ""
}

// RecordTurn accounts one completed turn.
func (g *BudgetGuard) RecordTurn(costUSD float64) {
	g.turnsUsed++
	g.costUSD += costUSD
}

// TurnsUsed returns the turns consumed so far.
func (g *BudgetGuard) TurnsUsed() int { return g.turnsUsed }

// CostUSD returns the spend accumulated so far.
func (g *BudgetGuard) CostUSD() float64 { return g.costUSD }
