// Package reconcile diffs the metadata store against the filesystem at
// startup, catching changes that happened while the engine was down.
package reconcile

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/neuralfs/neuralfs/internal/fileid"
	"github.com/neuralfs/neuralfs/internal/models"
	"github.com/neuralfs/neuralfs/internal/store"
	"github.com/neuralfs/neuralfs/internal/watcher"
)

// Mode selects how change detection compares a file against its record.
type Mode int

const (
	// Fast compares size and modification time.
	Fast Mode = iota
	// Deep recomputes the content fingerprint. Slower, catches writes
	// that preserved size and mtime.
	Deep
)

// Rename pairs a moved file's record with its new path.
type Rename struct {
	FileID  string
	OldPath string
	NewPath string
}

// Diff is the outcome of a reconciliation pass.
type Diff struct {
	Added    []string
	Modified []string
	Renamed  []Rename
	Deleted  []string // file ids
}

// Reconciler walks the monitored roots and compares them to the store.
type Reconciler struct {
	store  *store.Store
	filter *watcher.Filter
	roots  []string
	logger *zap.Logger
}

// New creates a reconciler over the given roots.
func New(s *store.Store, filter *watcher.Filter, roots []string, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{store: s, filter: filter, roots: roots, logger: logger}
}

type diskFile struct {
	size  int64
	mtime time.Time
}

// Run walks the roots, diffs against the store, and returns the changes.
// It does not apply them; the indexer consumes the diff.
func (r *Reconciler) Run(ctx context.Context, mode Mode) (*Diff, error) {
	recorded := make(map[string]*models.FileRecord)
	if err := r.store.Files.All(ctx, func(f *models.FileRecord) error {
		recorded[f.Path] = f
		return nil
	}); err != nil {
		return nil, err
	}

	onDisk := make(map[string]diskFile)
	for _, root := range r.roots {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r.walkRoot(root, onDisk)
	}

	diff := &Diff{}
	claimed := make(map[string]bool) // record paths consumed by a rename

	for path, df := range onDisk {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, known := recorded[path]
		if known {
			changed, err := r.changed(rec, path, df, mode)
			if err != nil {
				r.logger.Warn("change probe failed", zap.String("path", path), zap.Error(err))
				continue
			}
			if changed {
				diff.Modified = append(diff.Modified, path)
			}
			continue
		}
		// Unknown path: a matching identity on a record whose old path
		// is gone means the file moved.
		if ren := r.probeRename(ctx, path, onDisk, recorded); ren != nil {
			diff.Renamed = append(diff.Renamed, *ren)
			claimed[ren.OldPath] = true
			continue
		}
		diff.Added = append(diff.Added, path)
	}

	for path, rec := range recorded {
		if _, present := onDisk[path]; present || claimed[path] {
			continue
		}
		diff.Deleted = append(diff.Deleted, rec.ID)
	}

	r.logger.Info("reconciliation complete",
		zap.Int("added", len(diff.Added)),
		zap.Int("modified", len(diff.Modified)),
		zap.Int("renamed", len(diff.Renamed)),
		zap.Int("deleted", len(diff.Deleted)))
	return diff, nil
}

func (r *Reconciler) changed(rec *models.FileRecord, path string, df diskFile, mode Mode) (bool, error) {
	if mode == Fast {
		return rec.Size != df.size || !rec.ModifiedAt.Equal(df.mtime.UTC().Truncate(time.Second)), nil
	}
	fp, err := fileid.Fingerprint(path)
	if err != nil {
		return false, err
	}
	return fp != rec.Fingerprint, nil
}

func (r *Reconciler) probeRename(ctx context.Context, path string, onDisk map[string]diskFile, recorded map[string]*models.FileRecord) *Rename {
	ident, err := fileid.Identity(path)
	if err != nil || ident.Zero() {
		return nil
	}
	rec, err := r.store.Files.FindByIdentity(ctx, ident)
	if err != nil {
		return nil
	}
	if _, stillThere := onDisk[rec.Path]; stillThere {
		// Identity reuse; the old path still exists, so this is a new file.
		return nil
	}
	if _, known := recorded[rec.Path]; !known {
		return nil
	}
	// A deleted file's device+inode can be recycled by an unrelated
	// create; the identity match needs content corroboration.
	if df, ok := onDisk[path]; !ok || df.size != rec.Size {
		return nil
	}
	fp, err := fileid.Fingerprint(path)
	if err != nil || fp != rec.Fingerprint {
		return nil
	}
	return &Rename{FileID: rec.ID, OldPath: rec.Path, NewPath: path}
}

func (r *Reconciler) walkRoot(root string, out map[string]diskFile) {
	root = filepath.Clean(root)
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			depth := 0
			if rel, err := filepath.Rel(root, path); err == nil && rel != "." {
				depth = 1 + countSeparators(rel)
			}
			if skip, _ := r.filter.SkipDir(path, depth); skip {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if !r.filter.AllowFile(path, info.Size()) {
			return nil
		}
		out[path] = diskFile{size: info.Size(), mtime: info.ModTime()}
		return nil
	})
}

func countSeparators(rel string) int {
	n := 0
	for i := 0; i < len(rel); i++ {
		if os.IsPathSeparator(rel[i]) {
			n++
		}
	}
	return n
}
