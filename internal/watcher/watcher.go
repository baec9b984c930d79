// Package watcher monitors directory trees with fsnotify, coalescing
// bursts into debounced per-path events and filtering out noise
// directories, oversized files, and symlinks.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 200 * time.Millisecond

// EventKind classifies a coalesced change.
type EventKind string

const (
	EventCreated  EventKind = "created"
	EventModified EventKind = "modified"
	EventRemoved  EventKind = "removed"
)

// Event is one debounced file change. A burst of writes to the same path
// collapses to a single event carrying the last kind observed; a create
// followed by writes stays a create.
type Event struct {
	Kind EventKind
	Path string
}

type pending struct {
	kind  EventKind
	timer *time.Timer
}

// Watcher watches directory roots and invokes onEvent for debounced
// file changes. Renames surface as a remove of the old path plus a
// create of the new one; the indexer pairs them via file identity.
type Watcher struct {
	filter   *Filter
	onEvent  func(Event)
	debounce time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	roots    []string
	watched  map[string][]string // root -> watched dir paths
	pendings map[string]*pending
	fsw      *fsnotify.Watcher
	started  bool
	done     chan struct{}
	stopOnce sync.Once
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce overrides the debounce window.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// New creates a watcher over roots. onEvent receives debounced events.
func New(roots []string, filter *Filter, onEvent func(Event), opts ...Option) *Watcher {
	w := &Watcher{
		filter:   filter,
		onEvent:  onEvent,
		debounce: defaultDebounce,
		logger:   zap.NewNop(),
		roots:    append([]string(nil), roots...),
		watched:  make(map[string][]string),
		pendings: make(map[string]*pending),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching. It runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.fsw = fsw
	w.started = true
	for _, root := range w.roots {
		if err := w.addRootLocked(root); err != nil {
			_ = w.fsw.Close()
			w.fsw = nil
			w.started = false
			w.mu.Unlock()
			return err
		}
	}
	w.mu.Unlock()
	go w.run(ctx)
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := ev.Name
	switch {
	case ev.Op.Has(fsnotify.Create):
		info, err := os.Lstat(path)
		if err != nil {
			return
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return
		}
		if info.IsDir() {
			w.handleNewDirectory(path)
			return
		}
		if w.filter.AllowFile(path, info.Size()) {
			w.coalesce(path, EventCreated)
		}
	case ev.Op.Has(fsnotify.Write):
		info, err := os.Lstat(path)
		if err != nil || info.IsDir() || info.Mode()&os.ModeSymlink != 0 {
			return
		}
		if w.filter.AllowFile(path, info.Size()) {
			w.coalesce(path, EventModified)
		}
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		// Size unknown after the fact; filter on name only.
		if w.filter.AllowFile(path, 0) {
			w.coalesce(path, EventRemoved)
		}
	}
}

// coalesce applies last-kind-wins debouncing, except that a create
// followed by a modify within the window stays a create, and a remove
// cancels any pending create outright.
func (w *Watcher) coalesce(path string, kind EventKind) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.pendings[path]; ok {
		p.timer.Stop()
		if kind == EventRemoved && p.kind == EventCreated {
			// The file came and went inside one window.
			delete(w.pendings, path)
			return
		}
		if !(p.kind == EventCreated && kind == EventModified) {
			p.kind = kind
		}
		p.timer = w.newFlushTimer(path)
		return
	}
	w.pendings[path] = &pending{kind: kind, timer: w.newFlushTimer(path)}
}

func (w *Watcher) newFlushTimer(path string) *time.Timer {
	return time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		p, ok := w.pendings[path]
		if ok {
			delete(w.pendings, path)
		}
		w.mu.Unlock()
		if !ok {
			return
		}
		w.logger.Debug("file event",
			zap.String("kind", string(p.kind)), zap.String("path", path))
		if w.onEvent != nil {
			w.onEvent(Event{Kind: p.kind, Path: path})
		}
	})
}

// handleNewDirectory watches a directory that appeared after startup and
// emits creates for the files already inside it.
func (w *Watcher) handleNewDirectory(dir string) {
	w.mu.Lock()
	fsw := w.fsw
	w.mu.Unlock()
	if fsw == nil {
		return
	}
	root := w.rootFor(dir)
	if root == "" {
		return
	}
	w.walkAndWatch(root, dir, func(path string, size int64) {
		w.coalesce(path, EventCreated)
	})
}

// walkAndWatch registers watches for dir and its subdirectories and
// visits the monitored files inside. Depth is computed against root so
// a directory appearing deep in the tree keeps the root's depth cap.
func (w *Watcher) walkAndWatch(root, dir string, visit func(path string, size int64)) {
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if d.IsDir() {
			depth := pathDepth(root, path)
			if skip, reason := w.filter.SkipDir(path, depth); skip {
				w.logger.Debug("directory skipped",
					zap.String("path", path), zap.String("reason", reason))
				return filepath.SkipDir
			}
			if over, _ := w.overCap(path); over {
				return filepath.SkipDir
			}
			w.mu.Lock()
			fsw := w.fsw
			if fsw != nil {
				if err := fsw.Add(path); err != nil {
					w.logger.Debug("watch add failed",
						zap.String("path", path), zap.Error(err))
				} else {
					w.watched[root] = append(w.watched[root], path)
				}
			}
			w.mu.Unlock()
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if w.filter.AllowFile(path, info.Size()) {
			visit(path, info.Size())
		}
		return nil
	})
}

func (w *Watcher) rootFor(path string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	clean := filepath.Clean(path)
	for _, root := range w.roots {
		r := filepath.Clean(root)
		if clean == r || inDir(r, clean) {
			return r
		}
	}
	return ""
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// AddRoot starts monitoring a new root and emits creates for files
// already present when onExisting is true.
func (w *Watcher) AddRoot(root string, onExisting bool) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	w.mu.Lock()
	for _, r := range w.roots {
		if filepath.Clean(r) == filepath.Clean(abs) {
			w.mu.Unlock()
			return nil
		}
	}
	if w.fsw != nil {
		if err := w.addRootLocked(abs); err != nil {
			w.mu.Unlock()
			return err
		}
	}
	w.roots = append(w.roots, abs)
	w.mu.Unlock()
	if onExisting {
		go w.ScanRoot(abs)
	}
	return nil
}

// RemoveRoot stops monitoring a root. Indexed data is untouched.
func (w *Watcher) RemoveRoot(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	defer w.mu.Unlock()
	idx := -1
	for i, r := range w.roots {
		if filepath.Clean(r) == abs {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	if w.fsw != nil {
		for _, p := range w.watched[abs] {
			_ = w.fsw.Remove(p)
		}
	}
	delete(w.watched, abs)
	w.roots = append(w.roots[:idx], w.roots[idx+1:]...)
	return nil
}

// Roots returns a copy of the monitored roots.
func (w *Watcher) Roots() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.roots...)
}

// ScanRoot emits a create event for every monitored file under root.
// Used when a root is added after startup.
func (w *Watcher) ScanRoot(root string) {
	w.walkFiles(filepath.Clean(root), func(path string, size int64) {
		w.coalesce(path, EventCreated)
	})
}

// addRootLocked registers watches for root and its subdirectories,
// applying the filter. Caller holds the lock.
func (w *Watcher) addRootLocked(root string) error {
	root = filepath.Clean(root)
	var paths []string
	err := w.walkDirs(root, func(dir string) error {
		if err := w.fsw.Add(dir); err != nil {
			return err
		}
		paths = append(paths, dir)
		return nil
	})
	if err != nil {
		return err
	}
	w.watched[root] = paths
	return nil
}

// walkDirs visits the monitored directories under root, honoring depth,
// blacklist, per-directory caps, and the no-symlink policy.
func (w *Watcher) walkDirs(root string, visit func(dir string) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return filepath.SkipDir
		}
		depth := pathDepth(root, path)
		if skip, reason := w.filter.SkipDir(path, depth); skip {
			w.logger.Debug("directory skipped",
				zap.String("path", path), zap.String("reason", reason))
			return filepath.SkipDir
		}
		if over, count := w.overCap(path); over {
			w.logger.Warn("directory skipped",
				zap.String("path", path),
				zap.String("reason", "entry cap exceeded"),
				zap.Int("entries", count))
			return filepath.SkipDir
		}
		return visit(path)
	})
}

// walkFiles visits monitored files under root with the same policy.
func (w *Watcher) walkFiles(root string, visit func(path string, size int64)) {
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			depth := pathDepth(root, path)
			if skip, _ := w.filter.SkipDir(path, depth); skip {
				return filepath.SkipDir
			}
			if over, _ := w.overCap(path); over {
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
		if w.filter.AllowFile(path, info.Size()) {
			visit(path, info.Size())
		}
		return nil
	})
}

func (w *Watcher) overCap(dir string) (bool, int) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, 0
	}
	return len(entries) > w.filter.PerDirCap, len(entries)
}

func pathDepth(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator)) + 1
}

// Stop stops the watcher, dropping any pending debounced events.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.fsw == nil {
		w.mu.Unlock()
		return
	}
	for path, p := range w.pendings {
		p.timer.Stop()
		delete(w.pendings, path)
	}
	_ = w.fsw.Close()
	w.fsw = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
