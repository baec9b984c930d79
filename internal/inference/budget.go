package inference

import (
	"context"
	"time"

	"github.com/neuralfs/neuralfs/internal/faults"
	"github.com/neuralfs/neuralfs/internal/store"
)

// CostTracker enforces the monthly cloud spend limit against the
// persisted usage counters.
type CostTracker struct {
	usage *store.UsageRepo
	limit float64
	now   func() time.Time
}

// NewCostTracker wraps the usage repo with a monthly USD limit.
func NewCostTracker(usage *store.UsageRepo, limitUSD float64) *CostTracker {
	return &CostTracker{usage: usage, limit: limitUSD, now: time.Now}
}

// Allowed returns a BudgetExhausted fault when this month's spend has
// reached the limit.
func (t *CostTracker) Allowed(ctx context.Context) error {
	u, err := t.usage.Get(ctx, store.MonthKey(t.now()))
	if err != nil {
		return faults.Wrap(faults.TransientStorage, "read monthly usage", err)
	}
	if t.limit > 0 && u.CostUSD >= t.limit {
		return faults.Newf(faults.BudgetExhausted,
			"monthly cloud budget reached: %.2f of %.2f USD", u.CostUSD, t.limit)
	}
	return nil
}

// Record accumulates one completed call into the month row.
func (t *CostTracker) Record(ctx context.Context, c *Completion) error {
	tokens := int64(c.InputTokens + c.OutputTokens)
	return t.usage.Add(ctx, store.MonthKey(t.now()), tokens, c.CostUSD)
}

// MonthUsage returns the current month's accumulated usage.
func (t *CostTracker) MonthUsage(ctx context.Context) (*store.MonthlyUsage, error) {
	return t.usage.Get(ctx, store.MonthKey(t.now()))
}

// Limit returns the configured monthly USD limit.
func (t *CostTracker) Limit() float64 { return t.limit }
