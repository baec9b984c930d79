package tags

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/neuralfs/neuralfs/internal/faults"
	"github.com/neuralfs/neuralfs/internal/models"
	"github.com/neuralfs/neuralfs/internal/store"
)

func newTestService(t *testing.T, opts ...Option) (*Service, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "metadata.db"), store.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	if _, err := s.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}
	svc, err := New(s, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return svc, s
}

func mustCreate(t *testing.T, svc *Service, name, parentID string) *models.Tag {
	t.Helper()
	tag := &models.Tag{Name: name, Kind: models.TagCategory, ParentID: parentID}
	if err := svc.Create(context.Background(), tag); err != nil {
		t.Fatal(err)
	}
	return tag
}

// testFile seeds a real file row; file_tags links are foreign-keyed to
// files(id).
func testFile(t *testing.T, st *store.Store, name string) *models.FileRecord {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	rec := &models.FileRecord{
		ID:          models.NewID(),
		Path:        "/data/" + name,
		Name:        name,
		Extension:   strings.ToLower(filepath.Ext(name)),
		FileType:    models.FileTypeForExtension(filepath.Ext(name)),
		CreatedAt:   now,
		ModifiedAt:  now,
		IndexStatus: models.IndexIndexed,
		Privacy:     models.PrivacyNormal,
	}
	if err := st.Files.Create(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	return rec
}

func chunksOf(texts ...string) []*models.ContentChunk {
	out := make([]*models.ContentChunk, len(texts))
	for i, txt := range texts {
		out[i] = &models.ContentChunk{ID: models.NewID(), Index: i, Text: txt}
	}
	return out
}

func TestLexiconSensitiveTerms(t *testing.T) {
	lx, err := LoadLexicon([]string{"projectx"})
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"tax report", "Medical Records", "机密文件", "projectx-notes"} {
		if !lx.Sensitive(name) {
			t.Errorf("%q should be sensitive", name)
		}
	}
	for _, name := range []string{"vacation", "budget", "report"} {
		if lx.Sensitive(name) {
			t.Errorf("%q should not be sensitive", name)
		}
	}
}

func TestHierarchyDepthLimit(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	root := mustCreate(t, svc, "work", "")
	mid := mustCreate(t, svc, "projects", root.ID)
	leaf := mustCreate(t, svc, "alpha", mid.ID)

	err := svc.Create(ctx, &models.Tag{Name: "too-deep", Kind: models.TagCategory, ParentID: leaf.ID})
	if faults.KindOf(err) != faults.InvalidArgument {
		t.Errorf("depth 4 create: got %v, want invalid argument", err)
	}

	path, err := svc.Path(ctx, leaf.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(path) != 3 || path[0].Name != "work" || path[2].Name != "alpha" {
		t.Errorf("path: %v", path)
	}
}

func TestSetParentRejectsCycles(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a := mustCreate(t, svc, "a", "")
	b := mustCreate(t, svc, "b", a.ID)

	if err := svc.SetParent(ctx, a.ID, b.ID); faults.KindOf(err) != faults.InvalidArgument {
		t.Errorf("cycle: got %v, want invalid argument", err)
	}
	if err := svc.SetParent(ctx, a.ID, a.ID); faults.KindOf(err) != faults.InvalidArgument {
		t.Errorf("self parent: got %v, want invalid argument", err)
	}
}

func TestSetParentDepthWithSubtree(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	// moving a two-level subtree under a depth-2 parent would reach depth 4
	root := mustCreate(t, svc, "root", "")
	deep := mustCreate(t, svc, "deep", root.ID)
	sub := mustCreate(t, svc, "sub", "")
	mustCreate(t, svc, "sub-child", sub.ID)

	if err := svc.SetParent(ctx, sub.ID, deep.ID); faults.KindOf(err) != faults.InvalidArgument {
		t.Errorf("subtree overflow: got %v, want invalid argument", err)
	}
	// under the root it fits exactly at depth 3
	if err := svc.SetParent(ctx, sub.ID, root.ID); err != nil {
		t.Errorf("subtree fitting: %v", err)
	}
}

func TestMergeMovesLinks(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	src := mustCreate(t, svc, "finance", "")
	dst := mustCreate(t, svc, "budget", "")
	fileA := testFile(t, st, "a.pdf")
	fileB := testFile(t, st, "b.pdf")

	if _, err := svc.AddToFile(ctx, fileA.ID, "finance", models.TagSourceManual); err != nil {
		t.Fatal(err)
	}
	// the second file carries both: the colliding link is dropped on merge
	for _, name := range []string{"finance", "budget"} {
		if _, err := svc.AddToFile(ctx, fileB.ID, name, models.TagSourceManual); err != nil {
			t.Fatal(err)
		}
	}

	if err := svc.Merge(ctx, src.ID, dst.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Tags.Get(ctx, src.ID); faults.KindOf(err) != faults.NotFound {
		t.Error("source tag should be deleted")
	}
	files, err := svc.FilesForTag(ctx, dst.ID, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Errorf("merged links: got %v", files)
	}
}

func TestAddToFileCreatesAndConfirms(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	file := testFile(t, st, "q.txt")

	tag, err := svc.AddToFile(ctx, file.ID, "  Quarterly  ", models.TagSourceManual)
	if err != nil {
		t.Fatal(err)
	}
	if tag.Name != "quarterly" {
		t.Errorf("name not normalized: %q", tag.Name)
	}
	links, err := st.FileTags.ListForFile(ctx, file.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 1 || !links[0].Confirmed {
		t.Errorf("manual link should be confirmed: %+v", links)
	}

	if err := svc.RemoveFromFile(ctx, file.ID, tag.ID); err != nil {
		t.Fatal(err)
	}
	if err := svc.RemoveFromFile(ctx, file.ID, tag.ID); err != nil {
		t.Errorf("removing a missing link must be a no-op: %v", err)
	}
}

func TestAutoTagAssignsFileTypeAndContent(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	file := testFile(t, st, "plan.docx")
	res, err := svc.AutoTag(ctx, file, chunksOf(
		"budget budget budget planning roadmap",
		"budget planning review",
	))
	if err != nil {
		t.Fatal(err)
	}

	names := make(map[string]bool)
	for _, a := range res.Assigned {
		names[a.Name] = true
	}
	if !names["document"] {
		t.Errorf("file-type tag missing: %v", res.Assigned)
	}
	if !names["budget"] {
		t.Errorf("dominant keyword missing: %v", res.Assigned)
	}

	links, err := st.FileTags.ListForFile(ctx, file.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != len(res.Assigned) {
		t.Errorf("links: got %d, want %d", len(links), len(res.Assigned))
	}
	for _, l := range links {
		if l.Source != models.TagSourceAI {
			t.Errorf("auto links must be ai-generated: %+v", l)
		}
		if l.Confirmed {
			t.Error("auto links must not be auto-confirmed")
		}
	}
}

func TestAutoTagEmptyFileGetsTypeTag(t *testing.T) {
	svc, st := newTestService(t)
	res, err := svc.AutoTag(context.Background(), testFile(t, st, "empty.zip"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Assigned) != 1 || res.Assigned[0].Name != "archive" {
		t.Errorf("assigned: %v", res.Assigned)
	}
}

func TestAutoTagSensitiveSuggestedOnly(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	file := testFile(t, st, "statement.pdf")
	res, err := svc.AutoTag(ctx, file, chunksOf("salary salary salary salary payment"))
	if err != nil {
		t.Fatal(err)
	}
	var suggested []string
	for _, sug := range res.Suggested {
		suggested = append(suggested, sug.Name)
	}
	found := false
	for _, name := range suggested {
		if name == "salary" {
			found = true
		}
	}
	if !found {
		t.Errorf("sensitive keyword should be suggested only: %v", suggested)
	}
	links, err := st.FileTags.ListForFile(ctx, file.ID)
	if err != nil {
		t.Fatal(err)
	}
	for _, l := range links {
		tag, err := st.Tags.Get(ctx, l.TagID)
		if err != nil {
			t.Fatal(err)
		}
		if tag.Name == "salary" {
			t.Error("sensitive tag must not be attached automatically")
		}
	}
}

func TestRejectBlockSimilarLowersConfidence(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	file := testFile(t, st, "notes.md")
	chunks := chunksOf("roadmap roadmap roadmap planning")
	res, err := svc.AutoTag(ctx, file, chunks)
	if err != nil {
		t.Fatal(err)
	}
	var roadmapID string
	var before float64
	for _, a := range res.Assigned {
		if a.Name == "roadmap" {
			roadmapID, before = a.TagID, a.Confidence
		}
	}
	if roadmapID == "" {
		t.Fatalf("roadmap not assigned: %v", res.Assigned)
	}

	cmd := Command{Op: OpReject, FileID: file.ID, TagID: roadmapID, BlockSimilar: true}
	if err := svc.Apply(ctx, cmd); err != nil {
		t.Fatal(err)
	}
	// repeated rejection adds no extra strikes
	if err := svc.Apply(ctx, cmd); err != nil {
		t.Fatal(err)
	}

	sugs, err := svc.Suggest(ctx, testFile(t, st, "other.md"), chunks)
	if err != nil {
		t.Fatal(err)
	}
	for _, sug := range sugs {
		if sug.Name == "roadmap" {
			if sug.Confidence >= before {
				t.Errorf("suppressed confidence: got %f, had %f", sug.Confidence, before)
			}
			if sug.Confidence < before/2-1e-9 {
				t.Errorf("one strike should halve confidence: got %f, had %f", sug.Confidence, before)
			}
		}
	}
}

func TestCommandsIdempotent(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	if err := svc.Apply(ctx, Command{Op: OpCreate, TagName: "reports"}); err != nil {
		t.Fatal(err)
	}
	if err := svc.Apply(ctx, Command{Op: OpCreate, TagName: "reports"}); err != nil {
		t.Errorf("repeated create: %v", err)
	}

	tag, err := st.Tags.GetByName(ctx, "reports")
	if err != nil {
		t.Fatal(err)
	}
	file := testFile(t, st, "weekly.pdf")
	if err := svc.Apply(ctx, Command{Op: OpAdd, FileID: file.ID, TagName: "reports"}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := svc.Apply(ctx, Command{Op: OpConfirm, FileID: file.ID, TagID: tag.ID}); err != nil {
			t.Errorf("confirm #%d: %v", i+1, err)
		}
	}
	for i := 0; i < 2; i++ {
		if err := svc.Apply(ctx, Command{Op: OpRemove, FileID: file.ID, TagID: tag.ID}); err != nil {
			t.Errorf("remove #%d: %v", i+1, err)
		}
	}
	for i := 0; i < 2; i++ {
		if err := svc.Apply(ctx, Command{Op: OpDelete, TagID: tag.ID}); err != nil {
			t.Errorf("delete #%d: %v", i+1, err)
		}
	}

	if err := svc.Apply(ctx, Command{Op: "explode"}); faults.KindOf(err) != faults.InvalidArgument {
		t.Errorf("unknown op: got %v", err)
	}
}

func TestApplyBatchStopsAtFirstError(t *testing.T) {
	svc, _ := newTestService(t)
	applied, err := svc.ApplyBatch(context.Background(), []Command{
		{Op: OpCreate, TagName: "alpha"},
		{Op: "bogus"},
		{Op: OpCreate, TagName: "never"},
	})
	if err == nil || applied != 1 {
		t.Errorf("batch: applied=%d err=%v", applied, err)
	}
	if _, err := svc.GetByName(context.Background(), "never"); faults.KindOf(err) != faults.NotFound {
		t.Error("commands after the failure must not run")
	}
}
