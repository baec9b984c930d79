package store

import (
	"context"
	"database/sql"
	"time"
)

// MonthlyUsage aggregates cloud inference spend for one calendar month.
// Month is formatted "2006-01".
type MonthlyUsage struct {
	Month        string    `json:"month"`
	RequestCount int64     `json:"request_count"`
	TokenCount   int64     `json:"token_count"`
	CostUSD      float64   `json:"cost_usd"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UsageRepo persists monthly cloud usage counters.
type UsageRepo struct {
	db *sql.DB
}

// MonthKey formats t as the usage row key.
func MonthKey(t time.Time) string { return t.UTC().Format("2006-01") }

// Add accumulates one request's usage into the month row.
func (r *UsageRepo) Add(ctx context.Context, month string, tokens int64, costUSD float64) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `INSERT INTO cloud_usage
		(month, request_count, token_count, cost_usd, updated_at)
		VALUES (?, 1, ?, ?, ?)
		ON CONFLICT (month) DO UPDATE SET
			request_count = request_count + 1,
			token_count = token_count + excluded.token_count,
			cost_usd = cost_usd + excluded.cost_usd,
			updated_at = excluded.updated_at`,
		month, tokens, costUSD, now)
	return err
}

// Get returns the month's usage, zero-valued when no row exists.
func (r *UsageRepo) Get(ctx context.Context, month string) (*MonthlyUsage, error) {
	var u MonthlyUsage
	err := r.db.QueryRowContext(ctx,
		`SELECT month, request_count, token_count, cost_usd, updated_at
		 FROM cloud_usage WHERE month = ?`, month).
		Scan(&u.Month, &u.RequestCount, &u.TokenCount, &u.CostUSD, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return &MonthlyUsage{Month: month}, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// History returns all month rows, newest first.
func (r *UsageRepo) History(ctx context.Context) ([]*MonthlyUsage, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT month, request_count, token_count, cost_usd, updated_at
		 FROM cloud_usage ORDER BY month DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*MonthlyUsage
	for rows.Next() {
		var u MonthlyUsage
		if err := rows.Scan(&u.Month, &u.RequestCount, &u.TokenCount, &u.CostUSD, &u.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}
