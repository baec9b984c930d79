package textindex

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func writeVersionFile(dir string, v int) error {
	return os.WriteFile(filepath.Join(dir, "schema_version"), []byte(strconv.Itoa(v)), 0644)
}

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { ix.Close() })
	return ix
}

func seedDocs(t *testing.T, ix *Index) {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	docs := []*Document{
		{
			FileID: "f1", ChunkID: "c1", Filename: "budget-report.xlsx",
			Path: "/docs/finance/budget-report.xlsx", FileType: "document",
			Content: "quarterly budget projections and expense analysis",
			Tags:    []string{"finance", "report"}, ModifiedAt: now,
		},
		{
			FileID: "f1", ChunkID: "c2", Filename: "budget-report.xlsx",
			Path: "/docs/finance/budget-report.xlsx", FileType: "document",
			Content: "marketing expense breakdown by region",
			Tags:    []string{"finance", "report"}, ModifiedAt: now,
		},
		{
			FileID: "f2", ChunkID: "c3", Filename: "parser.go",
			Path: "/src/engine/parser.go", FileType: "code",
			Content: "func parseDocument extracts text segments from input",
			Tags:    []string{"golang"}, ModifiedAt: now.AddDate(0, -6, 0),
		},
		{
			FileID: "f3", ChunkID: "c4", Filename: "会议纪要.md",
			Path: "/docs/meetings/会议纪要.md", FileType: "document",
			Content: "项目预算讨论与季度计划安排",
			Tags:    []string{"meeting"}, ModifiedAt: now,
		},
	}
	if err := ix.IndexBatch(context.Background(), docs); err != nil {
		t.Fatalf("IndexBatch: %v", err)
	}
}

func TestSearchMatchesContentAndFilename(t *testing.T) {
	ix := openTestIndex(t)
	seedDocs(t, ix)
	ctx := context.Background()

	got, err := ix.Search(ctx, "budget", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("no hits for content term")
	}
	found := map[string]bool{}
	for _, r := range got {
		found[r.ChunkID] = true
		if r.FileID == "" {
			t.Errorf("hit %s missing file id", r.ChunkID)
		}
	}
	if !found["c1"] {
		t.Errorf("expected c1 in hits, got %v", found)
	}
	if found["c3"] {
		t.Errorf("code chunk matched budget query: %v", found)
	}
}

func TestSearchChineseBigrams(t *testing.T) {
	ix := openTestIndex(t)
	seedDocs(t, ix)

	got, err := ix.Search(context.Background(), "预算", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	found := false
	for _, r := range got {
		if r.ChunkID == "c4" {
			found = true
		}
	}
	if !found {
		t.Errorf("Chinese query missed c4, got %+v", got)
	}
}

func TestSearchFilters(t *testing.T) {
	ix := openTestIndex(t)
	seedDocs(t, ix)
	ctx := context.Background()

	got, err := ix.Search(ctx, "expense", 10, &Filters{FileTypes: []string{"code"}})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("file-type filter leaked: %+v", got)
	}

	got, err = ix.Search(ctx, "parse", 10, &Filters{PathPrefix: "/src/"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].ChunkID != "c3" {
		t.Errorf("path filter = %+v, want [c3]", got)
	}

	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	got, err = ix.Search(ctx, "parse", 10, &Filters{ModifiedAfter: cutoff})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("date filter leaked old chunk: %+v", got)
	}
}

func TestDeleteFileRemovesAllChunks(t *testing.T) {
	ix := openTestIndex(t)
	seedDocs(t, ix)
	ctx := context.Background()

	if err := ix.DeleteFile(ctx, "f1"); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	got, err := ix.Search(ctx, "budget expense", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, r := range got {
		if r.FileID == "f1" {
			t.Errorf("chunk %s survived file delete", r.ChunkID)
		}
	}
	n, err := ix.DocCount()
	if err != nil {
		t.Fatalf("DocCount: %v", err)
	}
	if n != 2 {
		t.Errorf("DocCount = %d, want 2", n)
	}
}

func TestSchemaVersionMismatchRebuilds(t *testing.T) {
	dir := t.TempDir()
	ix, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := ix.Index(context.Background(), &Document{
		FileID: "f1", ChunkID: "c1", Content: "hello", ModifiedAt: time.Now(),
	}); err != nil {
		t.Fatalf("Index: %v", err)
	}
	ix.Close()

	// Simulate an index built by an older schema.
	if err := writeVersionFile(dir, schemaVersion-1); err != nil {
		t.Fatalf("writeVersionFile: %v", err)
	}
	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	n, err := reopened.DocCount()
	if err != nil {
		t.Fatalf("DocCount: %v", err)
	}
	if n != 0 {
		t.Errorf("stale index kept %d docs, want rebuild", n)
	}
}

func TestTermsAndFrequency(t *testing.T) {
	ix := openTestIndex(t)
	seedDocs(t, ix)

	terms, err := ix.Terms()
	if err != nil {
		t.Fatalf("Terms: %v", err)
	}
	if len(terms) == 0 {
		t.Fatal("no terms in dictionary")
	}
	freq, err := ix.TermDocFrequency("expense")
	if err != nil {
		t.Fatalf("TermDocFrequency: %v", err)
	}
	if freq != 2 {
		t.Errorf("TermDocFrequency(expense) = %d, want 2", freq)
	}
}
