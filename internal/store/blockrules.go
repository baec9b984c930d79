package store

import (
	"context"
	"database/sql"

	"github.com/neuralfs/neuralfs/internal/faults"
	"github.com/neuralfs/neuralfs/internal/models"
)

// BlockRulesRepo persists relation block rules.
type BlockRulesRepo struct {
	db *sql.DB
}

const blockRuleColumns = `id, kind, file_a, file_b, tag_a, tag_b,
	relation_kind, created_at, expires_at, active`

func scanBlockRule(row interface{ Scan(...any) error }) (*models.BlockRule, error) {
	var b models.BlockRule
	var expires sql.NullTime
	err := row.Scan(
		&b.ID, &b.Kind, &b.FileA, &b.FileB, &b.TagA, &b.TagB,
		&b.RelationKind, &b.CreatedAt, &expires, &b.Active,
	)
	if err != nil {
		return nil, err
	}
	if expires.Valid {
		b.ExpiresAt = expires.Time
	}
	return &b, nil
}

// Create inserts a rule.
func (r *BlockRulesRepo) Create(ctx context.Context, b *models.BlockRule) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO relation_block_rules
		(id, kind, file_a, file_b, tag_a, tag_b, relation_kind, created_at, expires_at, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Kind, b.FileA, b.FileB, b.TagA, b.TagB,
		b.RelationKind, b.CreatedAt, nullTime(b.ExpiresAt), b.Active,
	)
	return err
}

// ListActive returns rules flagged active. Expiry is evaluated by the
// caller against its own clock.
func (r *BlockRulesRepo) ListActive(ctx context.Context) ([]*models.BlockRule, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+blockRuleColumns+` FROM relation_block_rules
		 WHERE active = 1 ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.BlockRule
	for rows.Next() {
		b, err := scanBlockRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Deactivate turns a rule off without deleting its history.
func (r *BlockRulesRepo) Deactivate(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE relation_block_rules SET active = 0 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return faults.Newf(faults.NotFound, "block rule not found: %s", id)
	}
	return nil
}

// Delete removes a rule.
func (r *BlockRulesRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM relation_block_rules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return faults.Newf(faults.NotFound, "block rule not found: %s", id)
	}
	return nil
}
