package command

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/neuralfs/neuralfs/internal/faults"
	"github.com/neuralfs/neuralfs/internal/indexer"
	"github.com/neuralfs/neuralfs/internal/models"
	"github.com/neuralfs/neuralfs/internal/reconcile"
	"github.com/neuralfs/neuralfs/internal/store"
	"github.com/neuralfs/neuralfs/internal/watcher"
)

// ScanPhase labels where a scan currently is.
type ScanPhase string

const (
	ScanIdle        ScanPhase = "idle"
	ScanReconciling ScanPhase = "reconciling"
	ScanIndexing    ScanPhase = "indexing"
	ScanComplete    ScanPhase = "complete"
	ScanFailed      ScanPhase = "failed"
)

// ScanProgress is the get_scan_progress payload. Indexed and Failed
// count files that reached a terminal status since engine start, so a
// progress bar can be drawn against Discovered.
type ScanProgress struct {
	Phase      ScanPhase `json:"phase"`
	Roots      []string  `json:"roots,omitempty"`
	Discovered int       `json:"discovered"`
	Queued     int       `json:"queued"`
	Indexed    int64     `json:"indexed"`
	Failed     int64     `json:"failed"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// ScanManager runs the initial scan asynchronously: reconcile the roots
// against the store, apply renames, and feed the rest to the indexer.
// One scan runs at a time.
type ScanManager struct {
	store  *store.Store
	idx    *indexer.Indexer
	filter *watcher.Filter
	logger *zap.Logger

	mu         sync.Mutex
	phase      ScanPhase
	roots      []string
	discovered int
	startedAt  time.Time
	lastErr    string
}

// NewScanManager creates an idle scan manager.
func NewScanManager(st *store.Store, idx *indexer.Indexer, filter *watcher.Filter, logger *zap.Logger) *ScanManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScanManager{store: st, idx: idx, filter: filter, logger: logger, phase: ScanIdle}
}

// Start kicks off a scan over the given roots. Deep mode recomputes
// fingerprints during reconciliation. Returns InvalidArgument when a
// scan is already running.
func (m *ScanManager) Start(ctx context.Context, roots []string, deep bool) error {
	if len(roots) == 0 {
		return faults.New(faults.InvalidArgument, "no paths to scan")
	}
	for i := range roots {
		roots[i] = filepath.Clean(roots[i])
	}

	m.mu.Lock()
	if m.phase == ScanReconciling || m.phase == ScanIndexing {
		m.mu.Unlock()
		return faults.New(faults.InvalidArgument, "a scan is already running")
	}
	m.phase = ScanReconciling
	m.roots = roots
	m.discovered = 0
	m.startedAt = time.Now().UTC()
	m.lastErr = ""
	m.mu.Unlock()

	go m.run(ctx, roots, deep)
	return nil
}

func (m *ScanManager) run(ctx context.Context, roots []string, deep bool) {
	mode := reconcile.Fast
	if deep {
		mode = reconcile.Deep
	}
	rec := reconcile.New(m.store, m.filter, roots, m.logger)
	diff, err := rec.Run(ctx, mode)
	if err != nil {
		m.fail(err)
		return
	}

	// Renames keep their record id and associations; only the path moves.
	for _, ren := range diff.Renamed {
		name := filepath.Base(ren.NewPath)
		ext := filepath.Ext(ren.NewPath)
		if err := m.store.Files.UpdatePath(ctx, ren.FileID, ren.NewPath, name, ext); err != nil {
			m.logger.Warn("rename apply failed",
				zap.String("file_id", ren.FileID),
				zap.String("new_path", ren.NewPath),
				zap.Error(err))
		}
	}

	m.mu.Lock()
	m.phase = ScanIndexing
	m.discovered = len(diff.Added) + len(diff.Modified) + len(diff.Deleted)
	m.mu.Unlock()

	for _, path := range diff.Added {
		m.submit(path, models.PriorityHigh, false)
	}
	for _, path := range diff.Modified {
		m.submit(path, models.PriorityNormal, false)
	}
	for _, id := range diff.Deleted {
		rec, err := m.store.Files.Get(ctx, id)
		if err != nil {
			continue
		}
		m.submit(rec.Path, models.PriorityNormal, true)
	}

	m.mu.Lock()
	m.phase = ScanComplete
	m.mu.Unlock()
	m.logger.Info("initial scan submitted",
		zap.Int("added", len(diff.Added)),
		zap.Int("modified", len(diff.Modified)),
		zap.Int("deleted", len(diff.Deleted)))
}

func (m *ScanManager) submit(path string, prio models.TaskPriority, del bool) {
	m.idx.Submit(&models.IndexTask{
		ID:       models.NewID(),
		Path:     path,
		Priority: prio,
		Delete:   del,
	})
}

func (m *ScanManager) fail(err error) {
	m.logger.Error("scan failed", zap.Error(err))
	m.mu.Lock()
	m.phase = ScanFailed
	m.lastErr = err.Error()
	m.mu.Unlock()
}

// Progress reports the current scan state plus live indexing counters
// from the store and queue.
func (m *ScanManager) Progress(ctx context.Context) *ScanProgress {
	m.mu.Lock()
	p := &ScanProgress{
		Phase:      m.phase,
		Roots:      append([]string(nil), m.roots...),
		Discovered: m.discovered,
		StartedAt:  m.startedAt,
		Error:      m.lastErr,
	}
	m.mu.Unlock()

	p.Queued = m.idx.QueueLen()
	if counts, err := m.store.Files.CountByStatus(ctx); err == nil {
		p.Indexed = counts[models.IndexIndexed]
		p.Failed = counts[models.IndexFailed]
	}
	return p
}
