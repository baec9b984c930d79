package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/neuralfs/neuralfs/internal/faults"
	"github.com/neuralfs/neuralfs/internal/models"
)

// TagsRepo persists Tag rows. Hierarchy rules (depth, cycles) are
// enforced by the tags package; this layer stores what it is given.
type TagsRepo struct {
	db *sql.DB
}

const tagColumns = `id, name, display_names, parent_id, kind, color, icon,
	is_system, usage_count, created_at, updated_at`

func scanTag(row interface{ Scan(...any) error }) (*models.Tag, error) {
	var t models.Tag
	var displayNames string
	var parentID sql.NullString
	err := row.Scan(
		&t.ID, &t.Name, &displayNames, &parentID, &t.Kind, &t.Color, &t.Icon,
		&t.System, &t.UsageCount, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if parentID.Valid {
		t.ParentID = parentID.String
	}
	if displayNames != "" {
		_ = json.Unmarshal([]byte(displayNames), &t.DisplayNames)
	}
	return &t, nil
}

func marshalDisplayNames(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(m)
	return string(raw), err
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Create inserts a tag. A duplicate canonical name is an InvalidArgument.
func (r *TagsRepo) Create(ctx context.Context, t *models.Tag) error {
	displayNames, err := marshalDisplayNames(t.DisplayNames)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO tags
		(id, name, display_names, parent_id, kind, color, icon, is_system,
		 usage_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, displayNames, nullString(t.ParentID), t.Kind, t.Color,
		t.Icon, t.System, t.UsageCount, t.CreatedAt, t.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return faults.Newf(faults.InvalidArgument, "tag name already exists: %s", t.Name)
	}
	return err
}

// Update rewrites a tag's mutable columns.
func (r *TagsRepo) Update(ctx context.Context, t *models.Tag) error {
	displayNames, err := marshalDisplayNames(t.DisplayNames)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `UPDATE tags SET
		name = ?, display_names = ?, parent_id = ?, kind = ?, color = ?,
		icon = ?, is_system = ?, usage_count = ?, updated_at = ?
		WHERE id = ?`,
		t.Name, displayNames, nullString(t.ParentID), t.Kind, t.Color,
		t.Icon, t.System, t.UsageCount, t.UpdatedAt, t.ID,
	)
	if isUniqueViolation(err) {
		return faults.Newf(faults.InvalidArgument, "tag name already exists: %s", t.Name)
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return faults.Newf(faults.NotFound, "tag not found: %s", t.ID)
	}
	return nil
}

// Get returns a tag by id.
func (r *TagsRepo) Get(ctx context.Context, id string) (*models.Tag, error) {
	t, err := scanTag(r.db.QueryRowContext(ctx,
		`SELECT `+tagColumns+` FROM tags WHERE id = ?`, id))
	if err != nil {
		return nil, notFound("tag", id, err)
	}
	return t, nil
}

// GetByName returns a tag by canonical name.
func (r *TagsRepo) GetByName(ctx context.Context, name string) (*models.Tag, error) {
	t, err := scanTag(r.db.QueryRowContext(ctx,
		`SELECT `+tagColumns+` FROM tags WHERE name = ?`, name))
	if err != nil {
		return nil, notFound("tag", name, err)
	}
	return t, nil
}

// List returns all tags ordered by name.
func (r *TagsRepo) List(ctx context.Context) ([]*models.Tag, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+tagColumns+` FROM tags ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTags(rows)
}

// Children returns the direct children of a tag.
func (r *TagsRepo) Children(ctx context.Context, parentID string) ([]*models.Tag, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+tagColumns+` FROM tags WHERE parent_id = ? ORDER BY name`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTags(rows)
}

// Delete removes a tag. Children are re-rooted by the schema (parent_id
// set null); file_tags cascade.
func (r *TagsRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tags WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return faults.Newf(faults.NotFound, "tag not found: %s", id)
	}
	return nil
}

// AdjustUsage adds delta to the usage counter, clamped at zero.
func (r *TagsRepo) AdjustUsage(ctx context.Context, id string, delta int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE tags SET usage_count = MAX(0, usage_count + ?) WHERE id = ?`, delta, id)
	return err
}

// AddSuppression records one rejection-with-block-similar strike
// against a tag name. Strikes lower the confidence of future automatic
// suggestions of that name.
func (r *TagsRepo) AddSuppression(ctx context.Context, name string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO tag_suppressions
		(tag_name, strikes, updated_at) VALUES (?, 1, ?)
		ON CONFLICT (tag_name) DO UPDATE SET
			strikes = strikes + 1,
			updated_at = excluded.updated_at`,
		name, time.Now().UTC())
	return err
}

// SuppressionStrikes returns the strike count for a tag name, zero when
// none recorded.
func (r *TagsRepo) SuppressionStrikes(ctx context.Context, name string) (int, error) {
	var strikes int
	err := r.db.QueryRowContext(ctx,
		`SELECT strikes FROM tag_suppressions WHERE tag_name = ?`, name).Scan(&strikes)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strikes, nil
}

func collectTags(rows *sql.Rows) ([]*models.Tag, error) {
	var out []*models.Tag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
