// Package e2e exercises the engine end to end: reconciliation, the
// indexing pipeline, hybrid search, relation feedback, and the asset
// server, against real stores in a temp data directory.
package e2e

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/neuralfs/neuralfs/internal/asset"
	"github.com/neuralfs/neuralfs/internal/config"
	"github.com/neuralfs/neuralfs/internal/embedding"
	"github.com/neuralfs/neuralfs/internal/indexer"
	"github.com/neuralfs/neuralfs/internal/models"
	"github.com/neuralfs/neuralfs/internal/parser"
	"github.com/neuralfs/neuralfs/internal/reconcile"
	"github.com/neuralfs/neuralfs/internal/relation"
	"github.com/neuralfs/neuralfs/internal/search"
	"github.com/neuralfs/neuralfs/internal/store"
	"github.com/neuralfs/neuralfs/internal/tags"
	"github.com/neuralfs/neuralfs/internal/textindex"
	"github.com/neuralfs/neuralfs/internal/vector"
	"github.com/neuralfs/neuralfs/internal/watcher"
)

// stack is a full engine core wired over a temp data directory.
type stack struct {
	cfg      *config.Config
	store    *store.Store
	vectors  *vector.HNSW
	text     *textindex.Index
	tags     *tags.Service
	rels     *relation.Engine
	engine   *search.Engine
	pipeline *indexer.Pipeline
	filter   *watcher.Filter
	root     string // monitored directory
}

func newStack(t *testing.T) *stack {
	t.Helper()
	dir := t.TempDir()
	root := filepath.Join(dir, "files")
	if err := os.MkdirAll(root, 0755); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(filepath.Join(dir, "config.json"))
	if err != nil {
		t.Fatal(err)
	}
	cfg.DataDir = dir
	cfg.MonitoredDirectories = []string{root}

	st, err := store.Open(cfg.DatabasePath(), store.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	if _, err := st.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}

	emb := embedding.NewMockEmbedder(16)
	vs, err := vector.NewHNSW(16)
	if err != nil {
		t.Fatal(err)
	}
	tix, err := textindex.Open(cfg.TextIndexDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { tix.Close() })

	tagSvc, err := tags.New(st)
	if err != nil {
		t.Fatal(err)
	}
	relEngine := relation.NewEngine(st, vs)

	pipe := &indexer.Pipeline{
		Store:    st,
		Vectors:  vs,
		Text:     tix,
		Parsers:  parser.NewRegistry(),
		Embedder: emb,
		Logger:   zap.NewNop(),
		OnIndexed: func(ctx context.Context, f *models.FileRecord, chunks []*models.ContentChunk) {
			tagSvc.HandleIndexed(ctx, f, chunks)
			relEngine.HandleIndexed(ctx, f, chunks)
		},
	}

	filter, err := watcher.NewFilter(nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	return &stack{
		cfg:      cfg,
		store:    st,
		vectors:  vs,
		text:     tix,
		tags:     tagSvc,
		rels:     relEngine,
		engine:   search.NewEngine(st, vs, tix, emb),
		pipeline: pipe,
		filter:   filter,
		root:     root,
	}
}

// write puts a file under the monitored root.
func (s *stack) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(s.root, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// reconcileAndIndex runs a startup reconciliation and processes the
// resulting additions and modifications synchronously.
func (s *stack) reconcileAndIndex(t *testing.T) *reconcile.Diff {
	t.Helper()
	ctx := context.Background()
	rec := reconcile.New(s.store, s.filter, []string{s.root}, nil)
	diff, err := rec.Run(ctx, reconcile.Fast)
	if err != nil {
		t.Fatal(err)
	}
	for _, ren := range diff.Renamed {
		if err := s.store.Files.UpdatePath(ctx, ren.FileID, ren.NewPath,
			filepath.Base(ren.NewPath), filepath.Ext(ren.NewPath)); err != nil {
			t.Fatal(err)
		}
	}
	for _, path := range append(diff.Added, diff.Modified...) {
		task := &models.IndexTask{ID: models.NewID(), Path: path}
		if err := s.pipeline.Process(ctx, task); err != nil {
			t.Fatalf("index %s: %v", path, err)
		}
	}
	return diff
}

func (s *stack) search(t *testing.T, query string) *models.SearchResponse {
	t.Helper()
	resp, err := s.engine.Search(context.Background(), &models.SearchRequest{Query: query})
	if err != nil {
		t.Fatalf("search %q: %v", query, err)
	}
	return resp
}

// Startup reconciliation indexes a fresh file; it becomes searchable by
// name with at least one tag assigned.
func TestStartupScanMakesFileSearchable(t *testing.T) {
	s := newStack(t)
	path := s.write(t, "report.txt", "Annual report covering revenue and growth.")
	s.reconcileAndIndex(t)

	ctx := context.Background()
	rec, err := s.store.Files.GetByPath(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if rec.IndexStatus != models.IndexIndexed {
		t.Fatalf("index status: got %s", rec.IndexStatus)
	}
	fileTags, err := s.store.FileTags.ListForFile(ctx, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(fileTags) == 0 {
		t.Error("indexed file has no tags")
	}

	resp := s.search(t, "report")
	if len(resp.Results) == 0 {
		t.Fatal("no results for filename query")
	}
	if resp.Results[0].FileID != rec.ID {
		t.Errorf("top result: got %s, want %s", resp.Results[0].Path, path)
	}
	if resp.Results[0].Score < 0.8 {
		t.Errorf("top score: got %.2f, want >= 0.8", resp.Results[0].Score)
	}
}

// A content query returns the matching chunk's snippet.
func TestContentQueryReturnsSnippet(t *testing.T) {
	s := newStack(t)
	s.write(t, "q3.txt", "Quarterly revenue grew 15% compared to the previous year.")
	s.write(t, "notes.txt", "Unrelated meeting notes about scheduling.")
	s.reconcileAndIndex(t)

	resp := s.search(t, "revenue grew")
	if len(resp.Results) == 0 {
		t.Fatal("no results for content query")
	}
	top := resp.Results[0]
	if !strings.HasSuffix(top.Path, "q3.txt") {
		t.Fatalf("top result: got %s", top.Path)
	}
	if !strings.Contains(top.Snippet, "revenue grew 15%") {
		t.Errorf("snippet: got %q", top.Snippet)
	}
}

// Hex error codes classify as exact-keyword and hit via BM25.
func TestExactKeywordQuery(t *testing.T) {
	s := newStack(t)
	s.write(t, "crash.log.txt", "Installer failed with error 0x80070005 access denied.")
	s.reconcileAndIndex(t)

	cls := search.Classify("0x80070005")
	if cls.Mode != search.ModeExactKeyword {
		t.Fatalf("classification: got %v", cls.Mode)
	}
	_, wBM25 := search.Weights(cls.Mode, 0.6)
	if wBM25 != 0.8 {
		t.Errorf("bm25 weight: got %.2f, want 0.8", wBM25)
	}

	resp := s.search(t, "0x80070005")
	found := false
	for _, r := range resp.Results {
		if strings.HasSuffix(r.Path, "crash.log.txt") {
			found = true
		}
	}
	if !found {
		t.Error("document containing the code not returned")
	}
}

// Rejecting a relation with block-similar suppresses regeneration and
// records a file-pair block rule.
func TestRejectionBlocksRegeneration(t *testing.T) {
	s := newStack(t)
	// Identical content embeds identically, guaranteeing a
	// content-similar pair from the deterministic embedder.
	body := "Shared project plan with identical wording in both files."
	pathA := s.write(t, "plan_a.txt", body)
	s.write(t, "plan_b.txt", body)
	s.reconcileAndIndex(t)

	ctx := context.Background()
	recA, err := s.store.Files.GetByPath(ctx, pathA)
	if err != nil {
		t.Fatal(err)
	}
	rels, err := s.rels.RelationsForFile(ctx, recA.ID)
	if err != nil {
		t.Fatal(err)
	}
	var target *models.FileRelation
	for _, r := range rels {
		if r.Kind == models.RelContentSimilar && r.SourceID == recA.ID {
			target = r
			break
		}
	}
	if target == nil {
		t.Fatal("expected a content-similar relation from identical files")
	}

	if err := s.rels.Reject(ctx, target.ID, "not related", true); err != nil {
		t.Fatal(err)
	}

	created, err := s.rels.GenerateContentSimilar(ctx, recA.ID)
	if err != nil {
		t.Fatal(err)
	}
	if created != 0 {
		t.Errorf("regeneration created %d relations despite block rule", created)
	}

	rules, err := s.store.BlockRules.ListActive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	foundRule := false
	for _, rule := range rules {
		if rule.Kind == models.BlockFilePair {
			foundRule = true
		}
	}
	if !foundRule {
		t.Error("no file-pair block rule recorded")
	}
}

// Renaming a file on disk preserves its record id and tags after
// reconciliation.
func TestRenamePreservesIdentity(t *testing.T) {
	s := newStack(t)
	oldPath := s.write(t, "draft.txt", "Design draft for the storage layer.")
	s.reconcileAndIndex(t)

	ctx := context.Background()
	before, err := s.store.Files.GetByPath(ctx, oldPath)
	if err != nil {
		t.Fatal(err)
	}
	tagsBefore, err := s.store.FileTags.ListForFile(ctx, before.ID)
	if err != nil {
		t.Fatal(err)
	}

	newPath := filepath.Join(s.root, "final.txt")
	if err := os.Rename(oldPath, newPath); err != nil {
		t.Fatal(err)
	}

	diff := s.reconcileAndIndex(t)
	if len(diff.Renamed) != 1 {
		t.Fatalf("renames: got %d, want 1", len(diff.Renamed))
	}

	after, err := s.store.Files.GetByPath(ctx, newPath)
	if err != nil {
		t.Fatal(err)
	}
	if after.ID != before.ID {
		t.Errorf("record id changed across rename: %s -> %s", before.ID, after.ID)
	}
	tagsAfter, err := s.store.FileTags.ListForFile(ctx, after.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(tagsAfter) != len(tagsBefore) {
		t.Errorf("tag count changed across rename: %d -> %d", len(tagsBefore), len(tagsAfter))
	}
}

// The asset server refuses untokened requests and serves thumbnails
// with the security headers for valid ones.
func TestAssetServerTokenGate(t *testing.T) {
	s := newStack(t)

	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 8), G: uint8(y * 8), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(s.root, "photo.png")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	s.reconcileAndIndex(t)

	rec, err := s.store.Files.GetByPath(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}

	token, err := asset.NewSessionToken()
	if err != nil {
		t.Fatal(err)
	}
	thumbs, err := asset.NewThumbnailer(s.cfg.ThumbnailDir())
	if err != nil {
		t.Fatal(err)
	}
	srv := asset.NewServer(s.store.Files, thumbs, token, s.cfg.Server.AssetPort)
	h := srv.Handler()

	// No token: 403, no body leakage.
	req := httptest.NewRequest(http.MethodGet, "/thumbnail/"+rec.ID, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("untokened request: got %d, want 403", w.Code)
	}
	if strings.Contains(w.Body.String(), rec.Path) {
		t.Error("403 body leaked the file path")
	}

	// Valid token: 200 with the security headers.
	req = httptest.NewRequest(http.MethodGet, "/thumbnail/"+rec.ID+"?token="+token, nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("tokened request: got %d, body %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "image/") {
		t.Errorf("content type: got %q", ct)
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing nosniff header")
	}

	// Disallowed origin: 403 even with a valid token.
	req = httptest.NewRequest(http.MethodGet, "/thumbnail/"+rec.ID+"?token="+token, nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("cross-origin request: got %d, want 403", w.Code)
	}
}
