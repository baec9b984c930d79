package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/neuralfs/neuralfs/internal/faults"
	"github.com/neuralfs/neuralfs/internal/models"
)

// FilesRepo persists FileRecord rows.
type FilesRepo struct {
	db *sql.DB
}

const fileColumns = `id, path, name, extension, file_type, size, fingerprint,
	created_at, modified_at, indexed_at, accessed_at, index_status, privacy,
	excluded, index_error, id_volume, id_index`

func scanFile(row interface{ Scan(...any) error }) (*models.FileRecord, error) {
	var f models.FileRecord
	var indexedAt, accessedAt sql.NullTime
	var volume, index int64
	err := row.Scan(
		&f.ID, &f.Path, &f.Name, &f.Extension, &f.FileType, &f.Size, &f.Fingerprint,
		&f.CreatedAt, &f.ModifiedAt, &indexedAt, &accessedAt, &f.IndexStatus, &f.Privacy,
		&f.Excluded, &f.IndexError, &volume, &index,
	)
	if err != nil {
		return nil, err
	}
	if indexedAt.Valid {
		f.IndexedAt = indexedAt.Time
	}
	if accessedAt.Valid {
		f.AccessedAt = accessedAt.Time
	}
	f.Identity = models.FileIdentity{Volume: uint64(volume), Index: uint64(index)}
	return &f, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// Create inserts a new file record.
func (r *FilesRepo) Create(ctx context.Context, f *models.FileRecord) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO files
		(id, path, name, extension, file_type, size, fingerprint, created_at,
		 modified_at, indexed_at, accessed_at, index_status, privacy, excluded,
		 index_error, id_volume, id_index)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.Path, f.Name, f.Extension, f.FileType, f.Size, f.Fingerprint,
		f.CreatedAt, f.ModifiedAt, nullTime(f.IndexedAt), nullTime(f.AccessedAt),
		f.IndexStatus, f.Privacy, f.Excluded, f.IndexError,
		int64(f.Identity.Volume), int64(f.Identity.Index),
	)
	return err
}

// Update rewrites all mutable columns of an existing record.
func (r *FilesRepo) Update(ctx context.Context, f *models.FileRecord) error {
	res, err := r.db.ExecContext(ctx, `UPDATE files SET
		path = ?, name = ?, extension = ?, file_type = ?, size = ?,
		fingerprint = ?, created_at = ?, modified_at = ?, indexed_at = ?,
		accessed_at = ?, index_status = ?, privacy = ?, excluded = ?,
		index_error = ?, id_volume = ?, id_index = ?
		WHERE id = ?`,
		f.Path, f.Name, f.Extension, f.FileType, f.Size,
		f.Fingerprint, f.CreatedAt, f.ModifiedAt, nullTime(f.IndexedAt),
		nullTime(f.AccessedAt), f.IndexStatus, f.Privacy, f.Excluded,
		f.IndexError, int64(f.Identity.Volume), int64(f.Identity.Index),
		f.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return faults.Newf(faults.NotFound, "file not found: %s", f.ID)
	}
	return nil
}

// Get returns the record with the given id.
func (r *FilesRepo) Get(ctx context.Context, id string) (*models.FileRecord, error) {
	f, err := scanFile(r.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE id = ?`, id))
	if err != nil {
		return nil, notFound("file", id, err)
	}
	return f, nil
}

// GetByPath returns the record for an absolute path.
func (r *FilesRepo) GetByPath(ctx context.Context, path string) (*models.FileRecord, error) {
	f, err := scanFile(r.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE path = ?`, path))
	if err != nil {
		return nil, notFound("file", path, err)
	}
	return f, nil
}

// FindByIdentity looks up a record by platform file identity. Used for
// rename detection: a moved file keeps its identity while its path changes.
func (r *FilesRepo) FindByIdentity(ctx context.Context, ident models.FileIdentity) (*models.FileRecord, error) {
	if ident.Zero() {
		return nil, faults.New(faults.InvalidArgument, "zero file identity")
	}
	f, err := scanFile(r.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE id_volume = ? AND id_index = ?`,
		int64(ident.Volume), int64(ident.Index)))
	if err != nil {
		return nil, notFound("file identity", "", err)
	}
	return f, nil
}

// SetStatus transitions index_status, enforcing the legal transitions.
func (r *FilesRepo) SetStatus(ctx context.Context, id string, next models.IndexStatus, indexError string) error {
	f, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if !f.IndexStatus.CanTransitionTo(next) {
		return faults.Newf(faults.InvalidArgument,
			"illegal index status transition %s -> %s for %s", f.IndexStatus, next, id)
	}
	var indexedAt any
	if next == models.IndexIndexed {
		indexedAt = time.Now().UTC()
	} else {
		indexedAt = nullTime(f.IndexedAt)
	}
	_, err = r.db.ExecContext(ctx,
		`UPDATE files SET index_status = ?, index_error = ?, indexed_at = ? WHERE id = ?`,
		next, indexError, indexedAt, id)
	return err
}

// UpdatePath records a rename without touching content metadata.
func (r *FilesRepo) UpdatePath(ctx context.Context, id, newPath, newName, newExt string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE files SET path = ?, name = ?, extension = ? WHERE id = ?`,
		newPath, newName, newExt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return faults.Newf(faults.NotFound, "file not found: %s", id)
	}
	return nil
}

// TouchAccess bumps accessed_at.
func (r *FilesRepo) TouchAccess(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE files SET accessed_at = ? WHERE id = ?`, at, id)
	return err
}

// Delete removes a record. Chunks, tags, and relations cascade.
func (r *FilesRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return faults.Newf(faults.NotFound, "file not found: %s", id)
	}
	return nil
}

// ListByStatus returns up to limit records in the given status, oldest
// modification first.
func (r *FilesRepo) ListByStatus(ctx context.Context, status models.IndexStatus, limit int) ([]*models.FileRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE index_status = ? ORDER BY modified_at LIMIT ?`,
		status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectFiles(rows)
}

// ListUnderPrefix returns records whose path starts with the prefix.
func (r *FilesRepo) ListUnderPrefix(ctx context.Context, prefix string) ([]*models.FileRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE path LIKE ? ESCAPE '\' ORDER BY path`,
		escapeLike(prefix)+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectFiles(rows)
}

// All streams every record to fn. Used by the startup reconciler.
func (r *FilesRepo) All(ctx context.Context, fn func(*models.FileRecord) error) error {
	rows, err := r.db.QueryContext(ctx, `SELECT `+fileColumns+` FROM files ORDER BY path`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return err
		}
		if err := fn(f); err != nil {
			return err
		}
	}
	return rows.Err()
}

// CountByStatus returns the number of files per index status.
func (r *FilesRepo) CountByStatus(ctx context.Context) (map[models.IndexStatus]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT index_status, COUNT(*) FROM files GROUP BY index_status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[models.IndexStatus]int64)
	for rows.Next() {
		var status models.IndexStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

func collectFiles(rows *sql.Rows) ([]*models.FileRecord, error) {
	var out []*models.FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	var b []byte
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			b = append(b, '\\')
		}
		b = append(b, s[i])
	}
	return string(b)
}
