package search

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/neuralfs/neuralfs/internal/textindex"
)

func newSuggestIndex(t *testing.T) *textindex.Index {
	t.Helper()
	tix, err := textindex.Open(filepath.Join(t.TempDir(), "text_index"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { tix.Close() })

	docs := []*textindex.Document{
		{FileID: "f1", ChunkID: "c1", Filename: "budget.txt", Content: "budget planning for the quarter", ModifiedAt: time.Now()},
		{FileID: "f1", ChunkID: "c2", Filename: "budget.txt", Content: "budget approval workflow", ModifiedAt: time.Now()},
		{FileID: "f2", ChunkID: "c3", Filename: "report.txt", Content: "status report for the vendor", ModifiedAt: time.Now()},
	}
	if err := tix.IndexBatch(context.Background(), docs); err != nil {
		t.Fatal(err)
	}
	return tix
}

func TestSuggestCorrectsMisspelling(t *testing.T) {
	s := NewSuggester(newSuggestIndex(t))
	got, err := s.Suggest("budgte planning", 5)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, g := range got {
		if g == "budget planning" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected corrected query, got %v", got)
	}
}

func TestSuggestCompletesTrailingTerm(t *testing.T) {
	s := NewSuggester(newSuggestIndex(t))
	got, err := s.Suggest("bud", 5)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, g := range got {
		if g == "budget" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected completion to budget, got %v", got)
	}
}

func TestSuggestNoNoiseForKnownQuery(t *testing.T) {
	s := NewSuggester(newSuggestIndex(t))
	got, err := s.Suggest("vendor", 5)
	if err != nil {
		t.Fatal(err)
	}
	for _, g := range got {
		if g == "vendor" {
			t.Fatal("the input itself is not a suggestion")
		}
	}
}

func TestSuggestEmptyQuery(t *testing.T) {
	s := NewSuggester(newSuggestIndex(t))
	got, err := s.Suggest("   ", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("blank queries yield nothing, got %v", got)
	}
}

func TestLevenshtein(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "abc", 0},
		{"abc", "", 3},
		{"kitten", "sitting", 3},
		{"budget", "budgte", 2},
		{"预算", "预算表", 1},
	}
	for _, c := range cases {
		if got := levenshtein(c.a, c.b); got != c.want {
			t.Errorf("levenshtein(%q,%q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}
