// Package relation builds and maintains the file relation graph:
// content-similarity generation, session co-occurrence tracking, user
// feedback, block rules, and depth-bounded graph queries.
package relation

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/neuralfs/neuralfs/internal/models"
	"github.com/neuralfs/neuralfs/internal/store"
	"github.com/neuralfs/neuralfs/internal/vector"
)

const (
	defaultTopK          = 10
	defaultMinSimilarity = 0.5
)

// Engine generates and manages relations.
type Engine struct {
	store         *store.Store
	vectors       vector.Store
	logger        *zap.Logger
	topK          int
	minSimilarity float64
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithTopK caps content-similar relations generated per file.
func WithTopK(k int) Option { return func(e *Engine) { e.topK = k } }

// WithMinSimilarity sets the similarity floor.
func WithMinSimilarity(s float64) Option { return func(e *Engine) { e.minSimilarity = s } }

// NewEngine wires the relation engine.
func NewEngine(st *store.Store, vs vector.Store, opts ...Option) *Engine {
	e := &Engine{
		store:         st,
		vectors:       vs,
		logger:        zap.NewNop(),
		topK:          defaultTopK,
		minSimilarity: defaultMinSimilarity,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GenerateContentSimilar derives symmetric content-similar relations
// for a file from its nearest neighbors in the vector store. Existing
// automatic relations for the file are replaced; relations with user
// feedback survive. Private files generate nothing.
func (e *Engine) GenerateContentSimilar(ctx context.Context, fileID string) (int, error) {
	file, err := e.store.Files.Get(ctx, fileID)
	if err != nil {
		return 0, err
	}
	if file.Privacy == models.PrivacyPrivate {
		return 0, nil
	}

	vecIDs, err := e.store.Chunks.VectorIDsForFile(ctx, fileID)
	if err != nil {
		return 0, err
	}
	if len(vecIDs) == 0 {
		return 0, nil
	}

	// best similarity per neighboring file across all of this file's chunks
	best := make(map[string]float64)
	filter := &vector.Filter{
		ExcludePrivacy: []string{string(models.PrivacyPrivate)},
		ExcludeFileIDs: map[string]bool{fileID: true},
	}
	for _, id := range vecIDs {
		point, ok := e.vectors.Get(id)
		if !ok {
			continue
		}
		hits, err := e.vectors.Search(ctx, point.Vector, e.topK+1, filter)
		if err != nil {
			return 0, err
		}
		for _, h := range hits {
			if h.Score > best[h.Payload.FileID] {
				best[h.Payload.FileID] = h.Score
			}
		}
	}

	type neighbor struct {
		id    string
		score float64
	}
	var ranked []neighbor
	for id, score := range best {
		if score >= e.minSimilarity {
			ranked = append(ranked, neighbor{id, score})
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].id < ranked[j].id
	})
	if len(ranked) > e.topK {
		ranked = ranked[:e.topK]
	}

	if err := e.store.Relations.DeleteAutomaticForFile(ctx, fileID, models.RelContentSimilar); err != nil {
		return 0, err
	}

	rules, err := e.activeRules(ctx)
	if err != nil {
		return 0, err
	}
	created := 0
	for _, n := range ranked {
		blocked, err := e.blocked(ctx, rules, fileID, n.id, models.RelContentSimilar)
		if err != nil {
			return created, err
		}
		if blocked {
			continue
		}
		if err := e.upsertSymmetric(ctx, fileID, n.id, models.RelContentSimilar,
			n.score, models.RelSourceAI); err != nil {
			return created, err
		}
		created++
	}
	e.logger.Debug("content-similar relations generated",
		zap.String("file", fileID), zap.Int("count", created))
	return created, nil
}

// upsertSymmetric writes both directions of a relation. Triples with
// user feedback are left untouched by the store layer.
func (e *Engine) upsertSymmetric(ctx context.Context, a, b string, kind models.RelationKind, strength float64, src models.RelationSource) error {
	now := time.Now().UTC()
	for _, pair := range [2][2]string{{a, b}, {b, a}} {
		rel := &models.FileRelation{
			ID:        models.NewID(),
			SourceID:  pair[0],
			TargetID:  pair[1],
			Kind:      kind,
			Strength:  strength,
			Source:    src,
			Feedback:  models.FeedbackNone,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := e.store.Relations.Upsert(ctx, rel); err != nil {
			return err
		}
	}
	return nil
}

// RelationsForFile returns relations touching a file, strongest first
// by effective strength.
func (e *Engine) RelationsForFile(ctx context.Context, fileID string) ([]*models.FileRelation, error) {
	rels, err := e.store.Relations.ListForFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rels, func(i, j int) bool {
		return rels[i].EffectiveStrength() > rels[j].EffectiveStrength()
	})
	return rels, nil
}

// HandleIndexed refreshes a file's automatic relations after indexing.
func (e *Engine) HandleIndexed(ctx context.Context, file *models.FileRecord, _ []*models.ContentChunk) {
	if _, err := e.GenerateContentSimilar(ctx, file.ID); err != nil {
		e.logger.Warn("relation generation failed",
			zap.String("path", file.Path), zap.Error(err))
	}
}
