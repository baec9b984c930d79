// Package search implements hybrid retrieval: dense vectors and BM25
// keyword hits fused per file with intent-dependent weights.
package search

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/neuralfs/neuralfs/internal/embedding"
	"github.com/neuralfs/neuralfs/internal/faults"
	"github.com/neuralfs/neuralfs/internal/models"
	"github.com/neuralfs/neuralfs/internal/store"
	"github.com/neuralfs/neuralfs/internal/textindex"
	"github.com/neuralfs/neuralfs/internal/vector"
)

const (
	defaultRetrievalTimeout = 2 * time.Second
	defaultVectorWeight     = 0.6
	defaultFilenameBoost    = 1.5
	defaultExactBoost       = 2.0
	defaultClarityThreshold = 0.05
	maxCandidates           = 200
	snippetLimit            = 200
)

// Engine answers search requests against the vector and text indexes.
type Engine struct {
	store    *store.Store
	vectors  vector.Store
	text     *textindex.Index
	embedder embedding.Embedder
	logger   *zap.Logger

	vecWeight        float64
	retrievalTimeout time.Duration
	filenameBoost    float64
	exactBoost       float64
	clarityThreshold float64
}

// Option configures the engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithVectorWeight sets the vector weight for mixed queries.
func WithVectorWeight(w float64) Option {
	return func(e *Engine) {
		if w > 0 && w < 1 {
			e.vecWeight = w
		}
	}
}

// WithRetrievalTimeout bounds the parallel retrieval phase.
func WithRetrievalTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.retrievalTimeout = d
		}
	}
}

// WithBoosts overrides the filename and exact-match boost factors.
func WithBoosts(filename, exact float64) Option {
	return func(e *Engine) {
		if filename > 0 {
			e.filenameBoost = filename
		}
		if exact > 0 {
			e.exactBoost = exact
		}
	}
}

// WithClarityThreshold sets the top-vs-next dispersion below which the
// engine asks for clarification.
func WithClarityThreshold(t float64) Option {
	return func(e *Engine) {
		if t > 0 {
			e.clarityThreshold = t
		}
	}
}

// NewEngine wires the retrieval sources together.
func NewEngine(s *store.Store, vs vector.Store, tix *textindex.Index, emb embedding.Embedder, opts ...Option) *Engine {
	e := &Engine{
		store:            s,
		vectors:          vs,
		text:             tix,
		embedder:         emb,
		logger:           zap.NewNop(),
		vecWeight:        defaultVectorWeight,
		retrievalTimeout: defaultRetrievalTimeout,
		filenameBoost:    defaultFilenameBoost,
		exactBoost:       defaultExactBoost,
		clarityThreshold: defaultClarityThreshold,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search runs the full pipeline: classify, retrieve in parallel, fuse,
// boost, filter, paginate.
func (e *Engine) Search(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		return nil, faults.Wrap(faults.InvalidArgument, "invalid search request", err)
	}

	cls := Classify(req.Query)
	if req.Intent == "" {
		req.Intent = cls.Intent
	}
	wVec, wBM25 := Weights(cls.Mode, e.vecWeight)

	includeSet, excludeSet, err := e.resolveTagSets(ctx, &req.Filters)
	if err != nil {
		return nil, err
	}

	k := (req.Offset + req.Limit) * 3
	if k < 30 {
		k = 30
	}
	if k > maxCandidates {
		k = maxCandidates
	}

	vecHits, bm25Hits := newSourceHits(), newSourceHits()
	var vecErr, bm25Err error

	rctx, cancel := context.WithTimeout(ctx, e.retrievalTimeout)
	defer cancel()
	g, gctx := errgroup.WithContext(rctx)
	g.Go(func() error {
		vecErr = e.retrieveVector(gctx, req, excludeSet, k, vecHits)
		return nil
	})
	g.Go(func() error {
		bm25Err = e.retrieveBM25(gctx, req, k, bm25Hits)
		return nil
	})
	_ = g.Wait()

	if vecErr != nil && bm25Err != nil {
		e.logger.Error("both retrieval sources failed",
			zap.Error(vecErr), zap.Error(bm25Err))
		return nil, vecErr
	}
	partial := vecErr != nil || bm25Err != nil
	if partial {
		err := vecErr
		if err == nil {
			err = bm25Err
		}
		e.logger.Warn("retrieval source failed, continuing with the other", zap.Error(err))
	}

	vecHits.normalize()
	bm25Hits.normalize()
	fusedResults := fuse(vecHits, bm25Hits, wVec, wBM25)

	queryTokens := lowerAll(cls.Tokens)
	results := e.materialize(ctx, fusedResults, req, includeSet, excludeSet, queryTokens)

	// clamp only after the boost-aware ordering is fixed
	for _, r := range results {
		if r.Score > 1 {
			r.Score = 1
		}
	}
	if req.Filters.MinScore > 0 {
		kept := results[:0]
		for _, r := range results {
			if r.Score >= req.Filters.MinScore {
				kept = append(kept, r)
			}
		}
		results = kept
	}

	total := len(results)
	resp := &models.SearchResponse{
		RequestID:  req.RequestID,
		Results:    []*models.SearchResult{},
		Total:      total,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if req.Offset < total {
		end := req.Offset + req.Limit
		if end > total {
			end = total
		}
		resp.Results = results[req.Offset:end]
		resp.HasMore = end < total
	}
	resp.Sources = unionSources(resp.Results)

	switch {
	case total == 0:
		resp.Status = models.SearchNoResults
	case len(resp.Results) >= 2 && resp.Results[0].Score-resp.Results[1].Score < e.clarityThreshold:
		resp.Status = models.SearchNeedsClarity
		resp.Clarifications = e.clarifications(ctx, results)
	case partial:
		resp.Status = models.SearchPartialSuccess
	default:
		resp.Status = models.SearchSuccess
	}

	e.logger.Debug("search completed",
		zap.String("query", req.Query),
		zap.String("mode", string(cls.Mode)),
		zap.Int("total", total),
		zap.String("status", string(resp.Status)),
		zap.Int64("duration_ms", resp.DurationMs))
	return resp, nil
}

func (e *Engine) retrieveVector(ctx context.Context, req *models.SearchRequest, excludeSet map[string]bool, k int, hits *sourceHits) error {
	qv, err := e.embedder.EmbedText(ctx, req.Query)
	if err != nil {
		return err
	}
	filter := &vector.Filter{
		PathPrefix:     req.Filters.PathPrefix,
		ExcludeFileIDs: excludeSet,
	}
	for _, t := range req.Filters.FileTypes {
		filter.FileTypes = append(filter.FileTypes, string(t))
	}
	if !req.Filters.ModifiedAfter.IsZero() {
		filter.ModifiedAfter = req.Filters.ModifiedAfter.Unix()
	}
	if !req.Filters.ModifiedBefore.IsZero() {
		filter.ModifiedBefore = req.Filters.ModifiedBefore.Unix()
	}
	if req.Filters.ExcludePrivate {
		filter.ExcludePrivacy = []string{string(models.PrivacyPrivate)}
	}
	results, err := e.vectors.Search(ctx, qv, k, filter)
	if err != nil {
		return err
	}
	for _, r := range results {
		hits.add(r.Payload.FileID, r.Payload.ChunkID, r.Score)
	}
	return nil
}

func (e *Engine) retrieveBM25(ctx context.Context, req *models.SearchRequest, k int, hits *sourceHits) error {
	filters := &textindex.Filters{
		PathPrefix:     req.Filters.PathPrefix,
		Tags:           req.Filters.IncludeTags,
		ModifiedAfter:  req.Filters.ModifiedAfter,
		ModifiedBefore: req.Filters.ModifiedBefore,
	}
	for _, t := range req.Filters.FileTypes {
		filters.FileTypes = append(filters.FileTypes, string(t))
	}
	results, err := e.text.Search(ctx, req.Query, k, filters)
	if err != nil {
		return err
	}
	for _, r := range results {
		hits.add(r.FileID, r.ChunkID, r.Score)
	}
	return nil
}

// materialize turns fused file ids into results, applying tag predicates,
// privacy, and the exact-match boosts. Results come back sorted.
func (e *Engine) materialize(ctx context.Context, fusedResults []*fused, req *models.SearchRequest, includeSet, excludeSet map[string]bool, queryTokens []string) []*models.SearchResult {
	results := make([]*models.SearchResult, 0, len(fusedResults))
	for _, f := range fusedResults {
		if excludeSet != nil && excludeSet[f.FileID] {
			continue
		}
		if includeSet != nil && !includeSet[f.FileID] {
			continue
		}
		rec, err := e.store.Files.Get(ctx, f.FileID)
		if err != nil {
			// index entry for a retired record; skip
			continue
		}
		if req.Filters.ExcludePrivate && rec.Privacy == models.PrivacyPrivate {
			continue
		}

		score := f.Score
		tagNames, _ := e.store.FileTags.TagNamesForFile(ctx, rec.ID)
		score = applyBoosts(score, rec.Name, tagNames, req.Query, queryTokens, e.filenameBoost, e.exactBoost)

		result := &models.SearchResult{
			FileID:   rec.ID,
			Path:     rec.Path,
			Name:     rec.Name,
			FileType: rec.FileType,
			Score:    score,
			ChunkID:  f.ChunkID,
			Sources:  f.Sources,
		}
		if chunk, cerr := e.store.Chunks.Get(ctx, f.ChunkID); cerr == nil {
			result.Snippet = snippet(chunk.Text)
		}
		results = append(results, result)
	}
	sortResults(results)
	return results
}

// applyBoosts multiplies in the filename and exact-match boosts.
func applyBoosts(score float64, name string, tagNames []string, query string, tokens []string, filenameBoost, exactBoost float64) float64 {
	lowerName := strings.ToLower(name)
	lowerQuery := strings.ToLower(strings.TrimSpace(query))

	substring := strings.Contains(lowerName, lowerQuery)
	if !substring {
		for _, tok := range tokens {
			if strings.Contains(lowerName, tok) {
				substring = true
				break
			}
		}
	}
	if substring {
		score *= filenameBoost
	}

	stem := strings.TrimSuffix(lowerName, strings.ToLower(extOf(name)))
	exact := false
	for _, tok := range tokens {
		if tok == lowerName || tok == stem {
			exact = true
			break
		}
		for _, tag := range tagNames {
			if tok == strings.ToLower(tag) {
				exact = true
				break
			}
		}
		if exact {
			break
		}
	}
	if exact {
		score *= exactBoost
	}
	return score
}

func extOf(name string) string {
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		return name[i:]
	}
	return ""
}

// resolveTagSets translates include/exclude tag names into file-id sets.
// Unknown include tags yield an empty include set (no results can match);
// unknown exclude tags are ignored.
func (e *Engine) resolveTagSets(ctx context.Context, filters *models.SearchFilters) (include, exclude map[string]bool, err error) {
	if len(filters.IncludeTags) > 0 {
		include = make(map[string]bool)
		for _, name := range filters.IncludeTags {
			ids, err := e.filesWithTag(ctx, name)
			if err != nil {
				return nil, nil, err
			}
			for _, id := range ids {
				include[id] = true
			}
		}
	}
	if len(filters.ExcludeTags) > 0 {
		exclude = make(map[string]bool)
		for _, name := range filters.ExcludeTags {
			ids, err := e.filesWithTag(ctx, name)
			if err != nil {
				return nil, nil, err
			}
			for _, id := range ids {
				exclude[id] = true
			}
		}
	}
	return include, exclude, nil
}

func (e *Engine) filesWithTag(ctx context.Context, name string) ([]string, error) {
	tag, err := e.store.Tags.GetByName(ctx, name)
	if faults.KindOf(err) == faults.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	links, err := e.store.FileTags.ListForTag(ctx, tag.ID, 0)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(links))
	for _, link := range links {
		if link.Rejected {
			continue
		}
		ids = append(ids, link.FileID)
	}
	return ids, nil
}

func sortResults(results []*models.SearchResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].FileID < results[j].FileID
	})
}

func snippet(text string) string {
	text = strings.TrimSpace(text)
	if len(text) <= snippetLimit {
		return text
	}
	cut := text[:snippetLimit]
	// avoid slicing a UTF-8 sequence
	for len(cut) > 0 && cut[len(cut)-1]&0xC0 == 0x80 {
		cut = cut[:len(cut)-1]
	}
	return cut + "…"
}

func lowerAll(tokens []string) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = strings.ToLower(t)
	}
	return out
}

func unionSources(results []*models.SearchResult) []models.ResultSource {
	seen := make(map[models.ResultSource]bool)
	var out []models.ResultSource
	for _, r := range results {
		for _, s := range r.Sources {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}
