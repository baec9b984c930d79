// Package tags manages the tag hierarchy, file-tag links, automatic
// tagging of indexed files, and user correction commands.
package tags

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/neuralfs/neuralfs/internal/faults"
	"github.com/neuralfs/neuralfs/internal/models"
	"github.com/neuralfs/neuralfs/internal/store"
)

const (
	defaultMaxContentTags = 5
	defaultMinConfidence  = 0.5
)

// Service owns tag semantics: hierarchy rules, auto-tagging, and
// corrections. Persistence is delegated to the metadata store.
type Service struct {
	store          *store.Store
	lex            *Lexicon
	logger         *zap.Logger
	maxContentTags int
	minConfidence  float64
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.logger = l } }

// WithLexicon replaces the embedded sensitive lexicon.
func WithLexicon(lx *Lexicon) Option { return func(s *Service) { s.lex = lx } }

// WithMaxContentTags caps content-derived tags per file.
func WithMaxContentTags(n int) Option { return func(s *Service) { s.maxContentTags = n } }

// WithMinConfidence sets the auto-tag confidence threshold.
func WithMinConfidence(c float64) Option { return func(s *Service) { s.minConfidence = c } }

// New creates the tag service. The embedded lexicon is used unless
// overridden.
func New(st *store.Store, opts ...Option) (*Service, error) {
	lx, err := LoadLexicon(nil)
	if err != nil {
		return nil, err
	}
	s := &Service{
		store:          st,
		lex:            lx,
		logger:         zap.NewNop(),
		maxContentTags: defaultMaxContentTags,
		minConfidence:  defaultMinConfidence,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Normalize lowercases and trims a tag name into its canonical form.
func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Create validates and inserts a new tag. The parent, when set, must
// exist and leave the new tag within the depth limit.
func (s *Service) Create(ctx context.Context, t *models.Tag) error {
	t.Name = Normalize(t.Name)
	if t.Name == "" {
		return faults.New(faults.InvalidArgument, "tag name required")
	}
	if t.Kind == "" {
		t.Kind = models.TagCustom
	}
	if t.ParentID != "" {
		depth, err := s.depth(ctx, t.ParentID)
		if err != nil {
			return err
		}
		if depth+1 > models.MaxTagDepth {
			return faults.Newf(faults.InvalidArgument,
				"tag depth limit %d exceeded", models.MaxTagDepth)
		}
	}
	if t.ID == "" {
		t.ID = models.NewID()
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	return s.store.Tags.Create(ctx, t)
}

// Get returns a tag by id.
func (s *Service) Get(ctx context.Context, id string) (*models.Tag, error) {
	return s.store.Tags.Get(ctx, id)
}

// GetByName returns a tag by canonical name.
func (s *Service) GetByName(ctx context.Context, name string) (*models.Tag, error) {
	return s.store.Tags.GetByName(ctx, Normalize(name))
}

// List returns all tags.
func (s *Service) List(ctx context.Context) ([]*models.Tag, error) {
	return s.store.Tags.List(ctx)
}

// Update rewrites a tag's mutable fields, revalidating the hierarchy
// when the parent changed.
func (s *Service) Update(ctx context.Context, t *models.Tag) error {
	current, err := s.store.Tags.Get(ctx, t.ID)
	if err != nil {
		return err
	}
	t.Name = Normalize(t.Name)
	if t.ParentID != current.ParentID {
		if err := s.checkReparent(ctx, t.ID, t.ParentID); err != nil {
			return err
		}
	}
	t.UpdatedAt = time.Now().UTC()
	return s.store.Tags.Update(ctx, t)
}

// Rename changes a tag's canonical name. Renaming to the current name
// is a no-op.
func (s *Service) Rename(ctx context.Context, id, newName string) error {
	newName = Normalize(newName)
	if newName == "" {
		return faults.New(faults.InvalidArgument, "tag name required")
	}
	t, err := s.store.Tags.Get(ctx, id)
	if err != nil {
		return err
	}
	if t.Name == newName {
		return nil
	}
	t.Name = newName
	t.UpdatedAt = time.Now().UTC()
	return s.store.Tags.Update(ctx, t)
}

// Delete removes a tag. System tags cannot be deleted.
func (s *Service) Delete(ctx context.Context, id string) error {
	t, err := s.store.Tags.Get(ctx, id)
	if err != nil {
		return err
	}
	if t.System {
		return faults.Newf(faults.InvalidArgument, "system tag cannot be deleted: %s", t.Name)
	}
	return s.store.Tags.Delete(ctx, id)
}

// SetParent moves a tag under a new parent, or to the root when
// parentID is empty. Rejects cycles and moves that would push any
// descendant past the depth limit.
func (s *Service) SetParent(ctx context.Context, id, parentID string) error {
	t, err := s.store.Tags.Get(ctx, id)
	if err != nil {
		return err
	}
	if t.ParentID == parentID {
		return nil
	}
	if err := s.checkReparent(ctx, id, parentID); err != nil {
		return err
	}
	t.ParentID = parentID
	t.UpdatedAt = time.Now().UTC()
	return s.store.Tags.Update(ctx, t)
}

// Merge folds the source tag into the target: file links move over,
// colliding links are dropped, the source is deleted, and the target's
// usage counter is recomputed from the moved links.
func (s *Service) Merge(ctx context.Context, sourceID, targetID string) error {
	if sourceID == targetID {
		return faults.New(faults.InvalidArgument, "cannot merge a tag into itself")
	}
	src, err := s.store.Tags.Get(ctx, sourceID)
	if err != nil {
		return err
	}
	if _, err := s.store.Tags.Get(ctx, targetID); err != nil {
		return err
	}
	if err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		return s.store.FileTags.Retarget(ctx, tx, sourceID, targetID)
	}); err != nil {
		return err
	}
	if err := s.store.Tags.Delete(ctx, sourceID); err != nil {
		return err
	}
	if err := s.store.Tags.AdjustUsage(ctx, targetID, src.UsageCount); err != nil {
		return err
	}
	s.logger.Info("tags merged",
		zap.String("source", src.Name), zap.String("target", targetID))
	return nil
}

// AddToFile links a tag to a file, creating the tag when it does not
// exist. Manual additions are confirmed immediately.
func (s *Service) AddToFile(ctx context.Context, fileID, tagName string, source models.TagSource) (*models.Tag, error) {
	t, err := s.getOrCreate(ctx, tagName, models.TagCustom)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	ft := &models.FileTag{
		ID:        models.NewID(),
		FileID:    fileID,
		TagID:     t.ID,
		Source:    source,
		Confirmed: source == models.TagSourceManual,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.FileTags.Attach(ctx, ft); err != nil {
		return nil, err
	}
	if err := s.store.Tags.AdjustUsage(ctx, t.ID, 1); err != nil {
		return nil, err
	}
	return t, nil
}

// RemoveFromFile unlinks a tag from a file. Missing links are ignored.
func (s *Service) RemoveFromFile(ctx context.Context, fileID, tagID string) error {
	err := s.store.FileTags.Detach(ctx, fileID, tagID)
	if faults.KindOf(err) == faults.NotFound {
		return nil
	}
	if err != nil {
		return err
	}
	return s.store.Tags.AdjustUsage(ctx, tagID, -1)
}

// TagsForFile returns the file's tags with their link metadata.
func (s *Service) TagsForFile(ctx context.Context, fileID string) ([]*models.Tag, []*models.FileTag, error) {
	links, err := s.store.FileTags.ListForFile(ctx, fileID)
	if err != nil {
		return nil, nil, err
	}
	out := make([]*models.Tag, 0, len(links))
	for _, l := range links {
		t, err := s.store.Tags.Get(ctx, l.TagID)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, links, nil
}

// FilesForTag returns ids of files carrying a tag, rejected links
// excluded.
func (s *Service) FilesForTag(ctx context.Context, tagID string, limit int) ([]string, error) {
	links, err := s.store.FileTags.ListForTag(ctx, tagID, limit)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, l := range links {
		if !l.Rejected {
			out = append(out, l.FileID)
		}
	}
	return out, nil
}

// Path returns the root-to-tag chain.
func (s *Service) Path(ctx context.Context, id string) ([]*models.Tag, error) {
	var chain []*models.Tag
	for id != "" {
		t, err := s.store.Tags.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		chain = append([]*models.Tag{t}, chain...)
		if len(chain) > models.MaxTagDepth {
			return nil, faults.Newf(faults.Corrupt, "tag hierarchy deeper than %d", models.MaxTagDepth)
		}
		id = t.ParentID
	}
	return chain, nil
}

// Ancestors returns the chain above a tag, root first.
func (s *Service) Ancestors(ctx context.Context, id string) ([]*models.Tag, error) {
	path, err := s.Path(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(path) == 0 {
		return nil, nil
	}
	return path[:len(path)-1], nil
}

// Children returns a tag's direct children.
func (s *Service) Children(ctx context.Context, id string) ([]*models.Tag, error) {
	return s.store.Tags.Children(ctx, id)
}

// depth returns the 1-based depth of a tag.
func (s *Service) depth(ctx context.Context, id string) (int, error) {
	path, err := s.Path(ctx, id)
	if err != nil {
		return 0, err
	}
	return len(path), nil
}

// height returns the height of the subtree rooted at id (1 for a leaf).
func (s *Service) height(ctx context.Context, id string) (int, error) {
	children, err := s.store.Tags.Children(ctx, id)
	if err != nil {
		return 0, err
	}
	max := 0
	for _, c := range children {
		h, err := s.height(ctx, c.ID)
		if err != nil {
			return 0, err
		}
		if h > max {
			max = h
		}
	}
	return max + 1, nil
}

// checkReparent rejects cycles and depth violations for moving id under
// parentID.
func (s *Service) checkReparent(ctx context.Context, id, parentID string) error {
	if parentID == "" {
		return nil
	}
	if parentID == id {
		return faults.New(faults.InvalidArgument, "tag cannot be its own parent")
	}
	// walk up from the new parent; finding id means a cycle
	cur := parentID
	for cur != "" {
		if cur == id {
			return faults.New(faults.InvalidArgument, "tag hierarchy cycle")
		}
		t, err := s.store.Tags.Get(ctx, cur)
		if err != nil {
			return err
		}
		cur = t.ParentID
	}
	parentDepth, err := s.depth(ctx, parentID)
	if err != nil {
		return err
	}
	subHeight, err := s.height(ctx, id)
	if err != nil {
		return err
	}
	if parentDepth+subHeight > models.MaxTagDepth {
		return faults.Newf(faults.InvalidArgument,
			"tag depth limit %d exceeded", models.MaxTagDepth)
	}
	return nil
}

// getOrCreate fetches a tag by name, creating it when absent.
func (s *Service) getOrCreate(ctx context.Context, name string, kind models.TagKind) (*models.Tag, error) {
	name = Normalize(name)
	if name == "" {
		return nil, faults.New(faults.InvalidArgument, "tag name required")
	}
	t, err := s.store.Tags.GetByName(ctx, name)
	if err == nil {
		return t, nil
	}
	if faults.KindOf(err) != faults.NotFound {
		return nil, err
	}
	t = &models.Tag{ID: models.NewID(), Name: name, Kind: kind}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	if createErr := s.store.Tags.Create(ctx, t); createErr != nil {
		// lost a create race: re-read
		if existing, getErr := s.store.Tags.GetByName(ctx, name); getErr == nil {
			return existing, nil
		}
		return nil, createErr
	}
	return t, nil
}
