package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/neuralfs/neuralfs/internal/faults"
	"github.com/neuralfs/neuralfs/internal/models"
)

// RelationsRepo persists file-to-file relations.
type RelationsRepo struct {
	db *sql.DB
}

const relationColumns = `id, source_id, target_id, kind, strength, source,
	feedback, reject_reason, block_similar, original_strength, user_strength,
	created_at, updated_at`

func scanRelation(row interface{ Scan(...any) error }) (*models.FileRelation, error) {
	var rel models.FileRelation
	err := row.Scan(
		&rel.ID, &rel.SourceID, &rel.TargetID, &rel.Kind, &rel.Strength, &rel.Source,
		&rel.Feedback, &rel.RejectReason, &rel.BlockSimilar, &rel.OriginalStrength,
		&rel.UserStrength, &rel.CreatedAt, &rel.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rel, nil
}

// Upsert inserts a relation, or refreshes strength on an existing
// (source, target, kind) triple. A relation with user feedback is never
// overwritten by an automatic refresh.
func (r *RelationsRepo) Upsert(ctx context.Context, rel *models.FileRelation) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO file_relations
		(id, source_id, target_id, kind, strength, source, feedback,
		 reject_reason, block_similar, original_strength, user_strength,
		 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_id, target_id, kind) DO UPDATE SET
			strength = excluded.strength,
			updated_at = excluded.updated_at
		WHERE file_relations.feedback = 'none'`,
		rel.ID, rel.SourceID, rel.TargetID, rel.Kind, rel.Strength, rel.Source,
		rel.Feedback, rel.RejectReason, rel.BlockSimilar, rel.OriginalStrength,
		rel.UserStrength, rel.CreatedAt, rel.UpdatedAt,
	)
	return err
}

// Get returns a relation by id.
func (r *RelationsRepo) Get(ctx context.Context, id string) (*models.FileRelation, error) {
	rel, err := scanRelation(r.db.QueryRowContext(ctx,
		`SELECT `+relationColumns+` FROM file_relations WHERE id = ?`, id))
	if err != nil {
		return nil, notFound("relation", id, err)
	}
	return rel, nil
}

// Find returns the relation on a (source, target, kind) triple.
func (r *RelationsRepo) Find(ctx context.Context, sourceID, targetID string, kind models.RelationKind) (*models.FileRelation, error) {
	rel, err := scanRelation(r.db.QueryRowContext(ctx,
		`SELECT `+relationColumns+` FROM file_relations
		 WHERE source_id = ? AND target_id = ? AND kind = ?`, sourceID, targetID, kind))
	if err != nil {
		return nil, notFound("relation", sourceID+"->"+targetID, err)
	}
	return rel, nil
}

// ListForFile returns relations touching the file on either side.
func (r *RelationsRepo) ListForFile(ctx context.Context, fileID string) ([]*models.FileRelation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+relationColumns+` FROM file_relations
		 WHERE source_id = ? OR target_id = ? ORDER BY strength DESC`, fileID, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRelations(rows)
}

// SetFeedback applies a user-feedback transition. The engine treats
// rejected and adjusted as user-owned: a rejected relation can only move
// back to none, never to adjusted.
func (r *RelationsRepo) SetFeedback(ctx context.Context, rel *models.FileRelation) error {
	cur, err := r.Get(ctx, rel.ID)
	if err != nil {
		return err
	}
	if cur.Feedback == models.FeedbackRejected && rel.Feedback == models.FeedbackAdjusted {
		return faults.New(faults.InvalidArgument, "rejected relation cannot be adjusted; clear feedback first")
	}
	_, err = r.db.ExecContext(ctx, `UPDATE file_relations SET
		feedback = ?, reject_reason = ?, block_similar = ?,
		original_strength = ?, user_strength = ?, updated_at = ?
		WHERE id = ?`,
		rel.Feedback, rel.RejectReason, rel.BlockSimilar,
		rel.OriginalStrength, rel.UserStrength, time.Now().UTC(), rel.ID)
	return err
}

// DecayStrengths multiplies the strength of automatic session relations
// by factor, dropping those that fall below floor. Relations with user
// feedback are untouched.
func (r *RelationsRepo) DecayStrengths(ctx context.Context, kind models.RelationKind, factor, floor float64) (int64, error) {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE file_relations SET strength = strength * ?, updated_at = ?
		 WHERE kind = ? AND feedback = 'none'`,
		factor, time.Now().UTC(), kind); err != nil {
		return 0, err
	}
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM file_relations WHERE kind = ? AND feedback = 'none' AND strength < ?`,
		kind, floor)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Delete removes a relation.
func (r *RelationsRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM file_relations WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return faults.Newf(faults.NotFound, "relation not found: %s", id)
	}
	return nil
}

// DeleteAutomaticForFile removes ai-generated relations touching the file.
// Used when re-indexing changes a file's content profile.
func (r *RelationsRepo) DeleteAutomaticForFile(ctx context.Context, fileID string, kind models.RelationKind) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM file_relations
		 WHERE (source_id = ? OR target_id = ?) AND kind = ? AND feedback = 'none'`,
		fileID, fileID, kind)
	return err
}

func collectRelations(rows *sql.Rows) ([]*models.FileRelation, error) {
	var out []*models.FileRelation
	for rows.Next() {
		rel, err := scanRelation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	return out, rows.Err()
}
