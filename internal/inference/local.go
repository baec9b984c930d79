package inference

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/neuralfs/neuralfs/internal/embedding"
	"github.com/neuralfs/neuralfs/internal/faults"
	"github.com/neuralfs/neuralfs/internal/models"
	"github.com/neuralfs/neuralfs/internal/search"
	"github.com/neuralfs/neuralfs/internal/store"
	"github.com/neuralfs/neuralfs/internal/vector"
)

const (
	localCandidateK = 20
	maxRemoteCands  = 10
)

// Candidate is one file the local path proposes, numbered for the
// remote prompt so rankings can be mapped back without exposing ids.
type Candidate struct {
	Num    int
	FileID string
	Path   string
	Name   string
	Score  float64
}

// LocalResult is the outcome of the local inference path.
type LocalResult struct {
	Intent      models.QueryIntent
	MatchedTags []string
	Scores      map[string]float64
	Candidates  []Candidate
	// RemotePrompt is fully anonymized and safe to send off-machine.
	RemotePrompt string
}

// LocalEngine runs the on-device inference path: query embedding,
// vector retrieval, tag matching, intent parsing, and generation of an
// anonymized prompt for the remote ranker.
type LocalEngine struct {
	vectors vector.Store
	emb     embedding.Embedder
	files   *store.FilesRepo
	tags    *store.TagsRepo
	anon    *Anonymizer
	logger  *zap.Logger
}

// NewLocalEngine wires the local path.
func NewLocalEngine(vs vector.Store, emb embedding.Embedder, files *store.FilesRepo, tags *store.TagsRepo, anon *Anonymizer, logger *zap.Logger) *LocalEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if anon == nil {
		anon = NewAnonymizer(nil)
	}
	return &LocalEngine{vectors: vs, emb: emb, files: files, tags: tags, anon: anon, logger: logger}
}

// Run executes the local path for one query.
func (l *LocalEngine) Run(ctx context.Context, query string) (*LocalResult, error) {
	cls := search.Classify(query)

	vec, err := l.emb.EmbedText(ctx, query)
	if err != nil {
		return nil, faults.Wrap(faults.Internal, "embed query", err)
	}
	hits, err := l.vectors.Search(ctx, vec, localCandidateK, &vector.Filter{
		ExcludePrivacy: []string{string(models.PrivacyPrivate)},
	})
	if err != nil {
		return nil, faults.Wrap(faults.Internal, "vector retrieval", err)
	}

	res := &LocalResult{
		Intent: cls.Intent,
		Scores: make(map[string]float64, len(hits)),
	}
	for _, h := range hits {
		if h.Score > res.Scores[h.Payload.FileID] {
			res.Scores[h.Payload.FileID] = h.Score
		}
	}
	res.MatchedTags = l.matchTags(ctx, cls.Tokens)
	res.Candidates = l.candidates(ctx, res.Scores)
	res.RemotePrompt = l.buildRemotePrompt(query, res.Candidates)
	return res, nil
}

// matchTags returns names of existing tags that appear verbatim among
// the query tokens.
func (l *LocalEngine) matchTags(ctx context.Context, tokens []string) []string {
	var matched []string
	seen := make(map[string]bool)
	for _, tok := range tokens {
		name := strings.ToLower(tok)
		if seen[name] {
			continue
		}
		seen[name] = true
		tag, err := l.tags.GetByName(ctx, name)
		if err != nil || tag == nil {
			continue
		}
		matched = append(matched, tag.Name)
	}
	return matched
}

// candidates resolves the top scored files to numbered entries, best
// first. Files that vanished from the metadata store are skipped.
func (l *LocalEngine) candidates(ctx context.Context, scores map[string]float64) []Candidate {
	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return ids[i] < ids[j]
	})

	var out []Candidate
	for _, id := range ids {
		if len(out) == maxRemoteCands {
			break
		}
		rec, err := l.files.Get(ctx, id)
		if err != nil || rec == nil {
			continue
		}
		out = append(out, Candidate{
			Num:    len(out) + 1,
			FileID: id,
			Path:   rec.Path,
			Name:   rec.Name,
			Score:  scores[id],
		})
	}
	return out
}

// buildRemotePrompt renders the numbered candidate list with all paths
// anonymized. The remote side only ever sees candidate numbers.
func (l *LocalEngine) buildRemotePrompt(query string, cands []Candidate) string {
	if len(cands) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n\nCandidate files:\n", l.anon.Scrub(query))
	for _, c := range cands {
		fmt.Fprintf(&b, "%d. %s\n", c.Num, l.anon.Scrub(c.Path))
	}
	b.WriteString("\nRank the candidates by relevance to the query. " +
		"Respond with only a JSON array of {\"id\": <candidate number>, \"score\": <0..1>} " +
		"objects, most relevant first. Omit irrelevant candidates.")
	return b.String()
}
