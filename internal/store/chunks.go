package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/neuralfs/neuralfs/internal/models"
)

// ChunksRepo persists ContentChunk rows.
type ChunksRepo struct {
	db *sql.DB
}

const chunkColumns = `id, file_id, chunk_index, kind, text, byte_start, byte_end,
	line_start, line_end, page, box, vector_id, created_at`

func scanChunk(row interface{ Scan(...any) error }) (*models.ContentChunk, error) {
	var c models.ContentChunk
	var box string
	var vectorID int64
	err := row.Scan(
		&c.ID, &c.FileID, &c.Index, &c.Kind, &c.Text,
		&c.Location.ByteStart, &c.Location.ByteEnd,
		&c.Location.LineStart, &c.Location.LineEnd,
		&c.Location.Page, &box, &vectorID, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.VectorID = uint64(vectorID)
	if box != "" {
		var bb models.BoundingBox
		if err := json.Unmarshal([]byte(box), &bb); err == nil {
			c.Location.Box = &bb
		}
	}
	return &c, nil
}

// ReplaceForFile atomically swaps a file's chunks for a new set, inside tx.
// The indexer calls this after a successful parse+embed cycle.
func (r *ChunksRepo) ReplaceForFile(ctx context.Context, tx *sql.Tx, fileID string, chunks []*models.ContentChunk) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM content_chunks WHERE file_id = ?`, fileID); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO content_chunks
		(id, file_id, chunk_index, kind, text, byte_start, byte_end,
		 line_start, line_end, page, box, vector_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, c := range chunks {
		box := ""
		if c.Location.Box != nil {
			raw, err := json.Marshal(c.Location.Box)
			if err != nil {
				return err
			}
			box = string(raw)
		}
		if _, err := stmt.ExecContext(ctx,
			c.ID, fileID, c.Index, c.Kind, c.Text,
			c.Location.ByteStart, c.Location.ByteEnd,
			c.Location.LineStart, c.Location.LineEnd,
			c.Location.Page, box, int64(c.VectorID), c.CreatedAt,
		); err != nil {
			return err
		}
	}
	return nil
}

// Get returns one chunk by id.
func (r *ChunksRepo) Get(ctx context.Context, id string) (*models.ContentChunk, error) {
	c, err := scanChunk(r.db.QueryRowContext(ctx,
		`SELECT `+chunkColumns+` FROM content_chunks WHERE id = ?`, id))
	if err != nil {
		return nil, notFound("chunk", id, err)
	}
	return c, nil
}

// ListForFile returns a file's chunks ordered by chunk index.
func (r *ChunksRepo) ListForFile(ctx context.Context, fileID string) ([]*models.ContentChunk, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM content_chunks WHERE file_id = ? ORDER BY chunk_index`, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.ContentChunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// VectorIDsForFile returns the vector point ids of a file's chunks.
// The indexer removes these from the vector store before re-indexing.
func (r *ChunksRepo) VectorIDsForFile(ctx context.Context, fileID string) ([]uint64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT vector_id FROM content_chunks WHERE file_id = ?`, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []uint64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, uint64(id))
	}
	return out, rows.Err()
}

// DeleteForFile removes all of a file's chunks.
func (r *ChunksRepo) DeleteForFile(ctx context.Context, fileID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM content_chunks WHERE file_id = ?`, fileID)
	return err
}

// Count returns the total number of chunks.
func (r *ChunksRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM content_chunks`).Scan(&n)
	return n, err
}
