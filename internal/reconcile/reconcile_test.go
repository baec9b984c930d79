package reconcile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/neuralfs/neuralfs/internal/fileid"
	"github.com/neuralfs/neuralfs/internal/models"
	"github.com/neuralfs/neuralfs/internal/store"
	"github.com/neuralfs/neuralfs/internal/watcher"
)

func setup(t *testing.T) (*store.Store, *watcher.Filter, string) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "metadata.db"), store.DefaultOptions())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if _, err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	f, err := watcher.NewFilter(nil, nil)
	if err != nil {
		t.Fatalf("NewFilter: %v", err)
	}
	return s, f, t.TempDir()
}

// record writes a file to disk and a matching record to the store.
func record(t *testing.T, s *store.Store, path, content string) *models.FileRecord {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	fp, err := fileid.Fingerprint(path)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	ident, err := fileid.Identity(path)
	if err != nil {
		t.Fatalf("Identity: %v", err)
	}
	rec := &models.FileRecord{
		ID:          models.NewID(),
		Path:        path,
		Name:        filepath.Base(path),
		Extension:   filepath.Ext(path),
		FileType:    models.FileTypeForExtension(filepath.Ext(path)),
		Size:        info.Size(),
		Fingerprint: fp,
		CreatedAt:   info.ModTime().UTC().Truncate(time.Second),
		ModifiedAt:  info.ModTime().UTC().Truncate(time.Second),
		IndexStatus: models.IndexIndexed,
		Privacy:     models.PrivacyNormal,
		Identity:    ident,
	}
	if err := s.Files.Create(context.Background(), rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return rec
}

func TestRunDetectsAllChangeKinds(t *testing.T) {
	s, filter, dir := setup(t)
	ctx := context.Background()

	unchanged := record(t, s, filepath.Join(dir, "stable.txt"), "stable content")
	modified := record(t, s, filepath.Join(dir, "edited.txt"), "v1")
	moved := record(t, s, filepath.Join(dir, "old-name.txt"), "moving content")
	deleted := record(t, s, filepath.Join(dir, "gone.txt"), "bye")

	// Mutations while the engine was "down".
	if err := os.WriteFile(modified.Path, []byte("v2 with more bytes"), 0644); err != nil {
		t.Fatal(err)
	}
	newPath := filepath.Join(dir, "new-name.txt")
	if err := os.Rename(moved.Path, newPath); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(deleted.Path); err != nil {
		t.Fatal(err)
	}
	addedPath := filepath.Join(dir, "brand-new.md")
	if err := os.WriteFile(addedPath, []byte("fresh"), 0644); err != nil {
		t.Fatal(err)
	}

	r := New(s, filter, []string{dir}, nil)
	diff, err := r.Run(ctx, Fast)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(diff.Added) != 1 || diff.Added[0] != addedPath {
		t.Errorf("Added = %v, want [%s]", diff.Added, addedPath)
	}
	if len(diff.Modified) != 1 || diff.Modified[0] != modified.Path {
		t.Errorf("Modified = %v, want [%s]", diff.Modified, modified.Path)
	}
	if len(diff.Renamed) != 1 {
		t.Fatalf("Renamed = %v, want one entry", diff.Renamed)
	}
	ren := diff.Renamed[0]
	if ren.FileID != moved.ID || ren.OldPath != moved.Path || ren.NewPath != newPath {
		t.Errorf("Renamed = %+v", ren)
	}
	if len(diff.Deleted) != 1 || diff.Deleted[0] != deleted.ID {
		t.Errorf("Deleted = %v, want [%s]", diff.Deleted, deleted.ID)
	}
	for _, p := range diff.Modified {
		if p == unchanged.Path {
			t.Error("unchanged file reported as modified")
		}
	}
}

// A recycled device+inode must not pair a deleted record with an
// unrelated new file.
func TestIdentityReuseIsNotARename(t *testing.T) {
	s, filter, dir := setup(t)
	ctx := context.Background()

	old := record(t, s, filepath.Join(dir, "gone.txt"), "old content")
	if err := os.Remove(old.Path); err != nil {
		t.Fatal(err)
	}
	newPath := filepath.Join(dir, "brand-new.md")
	if err := os.WriteFile(newPath, []byte("completely different text"), 0644); err != nil {
		t.Fatal(err)
	}
	ident, err := fileid.Identity(newPath)
	if err != nil {
		t.Fatalf("Identity: %v", err)
	}
	old.Identity = ident
	if err := s.Files.Update(ctx, old); err != nil {
		t.Fatalf("Update: %v", err)
	}

	r := New(s, filter, []string{dir}, nil)
	diff, err := r.Run(ctx, Fast)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(diff.Renamed) != 0 {
		t.Errorf("Renamed = %+v, want none", diff.Renamed)
	}
	if len(diff.Added) != 1 || diff.Added[0] != newPath {
		t.Errorf("Added = %v, want [%s]", diff.Added, newPath)
	}
	if len(diff.Deleted) != 1 || diff.Deleted[0] != old.ID {
		t.Errorf("Deleted = %v, want [%s]", diff.Deleted, old.ID)
	}
}

func TestDeepModeCatchesSameSizeEdit(t *testing.T) {
	s, filter, dir := setup(t)
	ctx := context.Background()

	rec := record(t, s, filepath.Join(dir, "sneaky.txt"), "AAAA")
	info, _ := os.Stat(rec.Path)

	// Same length, same mtime: invisible to the fast probe.
	if err := os.WriteFile(rec.Path, []byte("BBBB"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(rec.Path, info.ModTime(), info.ModTime()); err != nil {
		t.Fatal(err)
	}

	r := New(s, filter, []string{dir}, nil)
	fast, err := r.Run(ctx, Fast)
	if err != nil {
		t.Fatalf("Run fast: %v", err)
	}
	if len(fast.Modified) != 0 {
		t.Errorf("fast mode flagged same-size edit: %v", fast.Modified)
	}

	deep, err := r.Run(ctx, Deep)
	if err != nil {
		t.Fatalf("Run deep: %v", err)
	}
	if len(deep.Modified) != 1 || deep.Modified[0] != rec.Path {
		t.Errorf("deep Modified = %v, want [%s]", deep.Modified, rec.Path)
	}
}

func TestRunSkipsFilteredTrees(t *testing.T) {
	s, filter, dir := setup(t)
	ctx := context.Background()

	if err := os.MkdirAll(filepath.Join(dir, "node_modules"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "node_modules", "x.js"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	r := New(s, filter, []string{dir}, nil)
	diff, err := r.Run(ctx, Fast)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(diff.Added) != 0 {
		t.Errorf("blacklisted tree surfaced: %v", diff.Added)
	}
}
