package search

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/neuralfs/neuralfs/internal/embedding"
	"github.com/neuralfs/neuralfs/internal/fileid"
	"github.com/neuralfs/neuralfs/internal/models"
	"github.com/neuralfs/neuralfs/internal/store"
	"github.com/neuralfs/neuralfs/internal/textindex"
	"github.com/neuralfs/neuralfs/internal/vector"
)

type searchEnv struct {
	store    *store.Store
	vectors  vector.Store
	text     *textindex.Index
	embedder *embedding.MockEmbedder
}

func newSearchEnv(t *testing.T) *searchEnv {
	t.Helper()
	dir := t.TempDir()

	s, err := store.Open(filepath.Join(dir, "metadata.db"), store.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	if _, err := s.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}

	vs, err := vector.NewHNSW(32)
	if err != nil {
		t.Fatal(err)
	}
	tix, err := textindex.Open(filepath.Join(dir, "text_index"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { tix.Close() })

	return &searchEnv{store: s, vectors: vs, text: tix, embedder: embedding.NewMockEmbedder(32)}
}

func (env *searchEnv) engine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	// a vanishing clarity threshold keeps close scores from flipping
	// tests into needs-clarity
	base := []Option{WithClarityThreshold(1e-9)}
	return NewEngine(env.store, env.vectors, env.text, env.embedder, append(base, opts...)...)
}

type seedSpec struct {
	name     string
	content  string
	fileType models.FileType
	privacy  models.PrivacyLevel
	modified time.Time
	tags     []string
}

func (env *searchEnv) seed(t *testing.T, spec seedSpec) *models.FileRecord {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	if spec.modified.IsZero() {
		spec.modified = now
	}
	if spec.privacy == "" {
		spec.privacy = models.PrivacyNormal
	}
	if spec.fileType == "" {
		spec.fileType = models.FileTypeDocument
	}

	rec := &models.FileRecord{
		ID:          models.NewID(),
		Path:        "/data/" + spec.name,
		Name:        spec.name,
		Extension:   strings.ToLower(filepath.Ext(spec.name)),
		FileType:    spec.fileType,
		Size:        int64(len(spec.content)),
		Fingerprint: fileid.FingerprintBytes([]byte(spec.content)),
		CreatedAt:   now,
		ModifiedAt:  spec.modified,
		IndexStatus: models.IndexIndexed,
		Privacy:     spec.privacy,
	}
	if err := env.store.Files.Create(ctx, rec); err != nil {
		t.Fatal(err)
	}

	chunkID := models.NewID()
	chunk := &models.ContentChunk{
		ID:       chunkID,
		FileID:   rec.ID,
		Index:    0,
		Kind:     models.ChunkParagraph,
		Text:     spec.content,
		Location: models.ChunkLocation{ByteEnd: len(spec.content)},
		VectorID: models.PointID(chunkID),
	}
	if err := env.store.WithTx(ctx, func(tx *sql.Tx) error {
		return env.store.Chunks.ReplaceForFile(ctx, tx, rec.ID, []*models.ContentChunk{chunk})
	}); err != nil {
		t.Fatal(err)
	}

	vec, err := env.embedder.EmbedText(ctx, spec.content)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.vectors.Upsert(ctx, []vector.Point{{
		ID:     chunk.VectorID,
		Vector: vec,
		Payload: vector.Payload{
			FileID:     rec.ID,
			ChunkID:    chunk.ID,
			FileType:   string(rec.FileType),
			Privacy:    string(rec.Privacy),
			Path:       rec.Path,
			ModifiedAt: rec.ModifiedAt.Unix(),
		},
	}}); err != nil {
		t.Fatal(err)
	}

	for _, tagName := range spec.tags {
		tag, err := env.store.Tags.GetByName(ctx, tagName)
		if err != nil {
			tag = &models.Tag{ID: models.NewID(), Name: tagName, Kind: models.TagCategory}
			if err := env.store.Tags.Create(ctx, tag); err != nil {
				t.Fatal(err)
			}
		}
		if err := env.store.FileTags.Attach(ctx, &models.FileTag{
			ID: models.NewID(), FileID: rec.ID, TagID: tag.ID,
			Source: models.TagSourceManual, Confidence: 1,
		}); err != nil {
			t.Fatal(err)
		}
	}

	tagNames, _ := env.store.FileTags.TagNamesForFile(ctx, rec.ID)
	if err := env.text.Index(ctx, &textindex.Document{
		FileID:     rec.ID,
		ChunkID:    chunk.ID,
		Filename:   rec.Name,
		Path:       rec.Path,
		Content:    spec.content,
		Tags:       tagNames,
		FileType:   string(rec.FileType),
		ModifiedAt: rec.ModifiedAt,
	}); err != nil {
		t.Fatal(err)
	}
	return rec
}

func TestSearchRanksRelevantContentFirst(t *testing.T) {
	env := newSearchEnv(t)
	budget := env.seed(t, seedSpec{
		name:    "q3_review.txt",
		content: "The quarterly budget review lists vendor spend and headcount cost.",
	})
	env.seed(t, seedSpec{
		name:    "trip_notes.txt",
		content: "Hiking route notes from the autumn trip to the mountains.",
	})

	resp, err := env.engine(t).Search(context.Background(), &models.SearchRequest{Query: "budget"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != models.SearchSuccess {
		t.Fatalf("expected success, got %s", resp.Status)
	}
	if len(resp.Results) == 0 || resp.Results[0].FileID != budget.ID {
		t.Fatalf("budget file should rank first: %+v", resp.Results)
	}
	for i := 1; i < len(resp.Results); i++ {
		if resp.Results[i].Score > resp.Results[i-1].Score {
			t.Fatal("scores must be non-increasing")
		}
	}
	if resp.Results[0].Snippet == "" {
		t.Fatal("top hit should carry a snippet")
	}
	if len(resp.Results[0].Sources) == 0 {
		t.Fatal("results must be tagged with their sources")
	}
}

func TestSearchFilenameMatchOutranksContentMention(t *testing.T) {
	env := newSearchEnv(t)
	named := env.seed(t, seedSpec{
		name:    "budget.txt",
		content: "Totals and line items for the year.",
	})
	env.seed(t, seedSpec{
		name:    "minutes.txt",
		content: "The meeting touched on the budget in passing among other topics.",
	})

	resp, err := env.engine(t).Search(context.Background(), &models.SearchRequest{Query: "budget"})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) == 0 || resp.Results[0].FileID != named.ID {
		t.Fatal("exact filename match should outrank a content mention")
	}
	if resp.Results[0].Score > 1 {
		t.Fatal("scores must be clamped to 1 after sorting")
	}
}

func TestSearchFileTypeFilter(t *testing.T) {
	env := newSearchEnv(t)
	env.seed(t, seedSpec{
		name:    "parser.go",
		content: "func parseBudget parses the budget table into rows.",
		fileType: models.FileTypeCode,
	})
	env.seed(t, seedSpec{
		name:    "budget_notes.txt",
		content: "Notes on the annual budget assumptions.",
	})

	resp, err := env.engine(t).Search(context.Background(), &models.SearchRequest{
		Query:   "budget",
		Filters: models.SearchFilters{FileTypes: []models.FileType{models.FileTypeCode}},
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range resp.Results {
		if r.FileType != models.FileTypeCode {
			t.Fatalf("filter leaked %s result %s", r.FileType, r.Name)
		}
	}
	if len(resp.Results) == 0 {
		t.Fatal("the code file should match")
	}
}

func TestSearchTagFilters(t *testing.T) {
	env := newSearchEnv(t)
	kept := env.seed(t, seedSpec{
		name:    "plan_a.txt",
		content: "Active project plan covering budget milestones.",
		tags:    []string{"active"},
	})
	archived := env.seed(t, seedSpec{
		name:    "plan_b.txt",
		content: "Archived project plan covering budget milestones.",
		tags:    []string{"archived"},
	})

	resp, err := env.engine(t).Search(context.Background(), &models.SearchRequest{
		Query:   "budget plan",
		Filters: models.SearchFilters{ExcludeTags: []string{"archived"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range resp.Results {
		if r.FileID == archived.ID {
			t.Fatal("excluded tag leaked into results")
		}
	}

	resp, err = env.engine(t).Search(context.Background(), &models.SearchRequest{
		Query:   "budget plan",
		Filters: models.SearchFilters{IncludeTags: []string{"active"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 1 || resp.Results[0].FileID != kept.ID {
		t.Fatalf("include filter should keep only the active file: %+v", resp.Results)
	}
}

func TestSearchExcludesPrivateFiles(t *testing.T) {
	env := newSearchEnv(t)
	env.seed(t, seedSpec{
		name:    "diary.txt",
		content: "Private thoughts about the budget dispute.",
		privacy: models.PrivacyPrivate,
	})
	public := env.seed(t, seedSpec{
		name:    "summary.txt",
		content: "Public summary of the budget outcome.",
	})

	resp, err := env.engine(t).Search(context.Background(), &models.SearchRequest{
		Query:   "budget",
		Filters: models.SearchFilters{ExcludePrivate: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 1 || resp.Results[0].FileID != public.ID {
		t.Fatalf("private file must be excluded: %+v", resp.Results)
	}
}

func TestSearchPagination(t *testing.T) {
	env := newSearchEnv(t)
	for _, name := range []string{"one.txt", "two.txt", "three.txt"} {
		env.seed(t, seedSpec{
			name:    name,
			content: "Shared budget phrasing so every file matches the query. " + name,
		})
	}

	resp, err := env.engine(t).Search(context.Background(), &models.SearchRequest{Query: "budget", Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 2 || !resp.HasMore || resp.Total != 3 {
		t.Fatalf("expected 2 of 3 with more, got %d of %d hasMore=%v", len(resp.Results), resp.Total, resp.HasMore)
	}

	rest, err := env.engine(t).Search(context.Background(), &models.SearchRequest{Query: "budget", Limit: 2, Offset: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(rest.Results) != 1 || rest.HasMore {
		t.Fatalf("expected final page of 1, got %d hasMore=%v", len(rest.Results), rest.HasMore)
	}
}

func TestSearchNoResults(t *testing.T) {
	env := newSearchEnv(t)
	env.seed(t, seedSpec{name: "doc.txt", content: "Completely unrelated prose."})

	resp, err := env.engine(t).Search(context.Background(), &models.SearchRequest{
		Query:   "budget",
		Filters: models.SearchFilters{MinScore: 0.999999},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != models.SearchNoResults {
		t.Fatalf("expected no-results, got %s", resp.Status)
	}
}

func TestSearchNeedsClarityOnFlatScores(t *testing.T) {
	env := newSearchEnv(t)
	env.seed(t, seedSpec{name: "copy_a.txt", content: "Identical budget boilerplate text."})
	env.seed(t, seedSpec{name: "copy_b.txt", content: "Identical budget boilerplate text."})

	eng := env.engine(t, WithClarityThreshold(0.5))
	resp, err := eng.Search(context.Background(), &models.SearchRequest{Query: "budget"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != models.SearchNeedsClarity {
		t.Fatalf("near-identical scores should ask for clarification, got %s", resp.Status)
	}
	if len(resp.Clarifications) == 0 {
		t.Fatal("needs-clarity must include options")
	}
	for _, c := range resp.Clarifications {
		if c.Label == "" {
			t.Fatal("every option needs a label")
		}
	}
}

func TestSearchEmptyQueryRejected(t *testing.T) {
	env := newSearchEnv(t)
	if _, err := env.engine(t).Search(context.Background(), &models.SearchRequest{}); err == nil {
		t.Fatal("empty query must be rejected")
	}
}
