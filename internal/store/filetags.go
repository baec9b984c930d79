package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/neuralfs/neuralfs/internal/faults"
	"github.com/neuralfs/neuralfs/internal/models"
)

// FileTagsRepo persists file-to-tag links.
type FileTagsRepo struct {
	db *sql.DB
}

const fileTagColumns = `id, file_id, tag_id, source, confidence, confirmed,
	rejected, created_at, updated_at`

func scanFileTag(row interface{ Scan(...any) error }) (*models.FileTag, error) {
	var ft models.FileTag
	err := row.Scan(
		&ft.ID, &ft.FileID, &ft.TagID, &ft.Source, &ft.Confidence,
		&ft.Confirmed, &ft.Rejected, &ft.CreatedAt, &ft.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &ft, nil
}

// Attach links a file to a tag. Attaching an already-linked pair updates
// source and confidence in place, so repeated auto-tagging is idempotent.
func (r *FileTagsRepo) Attach(ctx context.Context, ft *models.FileTag) error {
	if ft.Confirmed && ft.Rejected {
		return faults.New(faults.InvalidArgument, "file tag cannot be both confirmed and rejected")
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO file_tags
		(id, file_id, tag_id, source, confidence, confirmed, rejected, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (file_id, tag_id) DO UPDATE SET
			source = excluded.source,
			confidence = excluded.confidence,
			updated_at = excluded.updated_at`,
		ft.ID, ft.FileID, ft.TagID, ft.Source, ft.Confidence,
		ft.Confirmed, ft.Rejected, ft.CreatedAt, ft.UpdatedAt,
	)
	return err
}

// Detach removes the link between a file and a tag.
func (r *FileTagsRepo) Detach(ctx context.Context, fileID, tagID string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM file_tags WHERE file_id = ? AND tag_id = ?`, fileID, tagID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return faults.Newf(faults.NotFound, "file tag not found: %s/%s", fileID, tagID)
	}
	return nil
}

// SetFeedback marks a link confirmed or rejected. The two are exclusive.
func (r *FileTagsRepo) SetFeedback(ctx context.Context, fileID, tagID string, confirmed, rejected bool) error {
	if confirmed && rejected {
		return faults.New(faults.InvalidArgument, "file tag cannot be both confirmed and rejected")
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE file_tags SET confirmed = ?, rejected = ?, updated_at = ?
		 WHERE file_id = ? AND tag_id = ?`,
		confirmed, rejected, time.Now().UTC(), fileID, tagID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return faults.Newf(faults.NotFound, "file tag not found: %s/%s", fileID, tagID)
	}
	return nil
}

// ListForFile returns a file's tag links.
func (r *FileTagsRepo) ListForFile(ctx context.Context, fileID string) ([]*models.FileTag, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+fileTagColumns+` FROM file_tags WHERE file_id = ? ORDER BY created_at`, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectFileTags(rows)
}

// ListForTag returns up to limit links carrying the tag. A limit of
// zero or below means unbounded.
func (r *FileTagsRepo) ListForTag(ctx context.Context, tagID string, limit int) ([]*models.FileTag, error) {
	if limit <= 0 {
		limit = -1 // negative LIMIT disables the cap in SQLite
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+fileTagColumns+` FROM file_tags WHERE tag_id = ? ORDER BY created_at LIMIT ?`,
		tagID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectFileTags(rows)
}

// TagNamesForFile returns the canonical names of a file's non-rejected tags.
// Used to build the text index document for the file.
func (r *FileTagsRepo) TagNamesForFile(ctx context.Context, fileID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT t.name FROM file_tags ft JOIN tags t ON t.id = ft.tag_id
		 WHERE ft.file_id = ? AND ft.rejected = 0 ORDER BY t.name`, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// Retarget moves all links from one tag to another, used by tag merge.
// Links that would collide with an existing (file, target) pair are dropped.
func (r *FileTagsRepo) Retarget(ctx context.Context, tx *sql.Tx, fromTagID, toTagID string) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM file_tags WHERE tag_id = ? AND file_id IN
		 (SELECT file_id FROM file_tags WHERE tag_id = ?)`, fromTagID, toTagID); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE file_tags SET tag_id = ?, updated_at = ? WHERE tag_id = ?`,
		toTagID, time.Now().UTC(), fromTagID)
	return err
}

func collectFileTags(rows *sql.Rows) ([]*models.FileTag, error) {
	var out []*models.FileTag
	for rows.Next() {
		ft, err := scanFileTag(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ft)
	}
	return out, rows.Err()
}
