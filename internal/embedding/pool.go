package embedding

import (
	"container/list"
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/neuralfs/neuralfs/internal/faults"
)

// DefaultMemoryBudget bounds the total resident size of loaded models.
const DefaultMemoryBudget = 4 << 30

// ModelSpec describes a loadable embedding model.
type ModelSpec struct {
	Name        string
	Path        string
	Dimensions  int
	MaxTokens   int
	MemoryBytes int64
}

// LoaderFunc constructs an embedder for a spec.
type LoaderFunc func(spec ModelSpec) (Embedder, error)

// PoolStatus reports what the pool currently holds.
type PoolStatus struct {
	Active       string
	Loaded       []string
	MemoryUsed   int64
	MemoryBudget int64
}

type poolEntry struct {
	spec     ModelSpec
	embedder Embedder
	elem     *list.Element
}

// ModelPool keeps loaded models within a memory budget, evicting the
// least recently used model to make room. The active model is pinned
// and never evicted, so switching between a fast and an accurate model
// keeps both resident while the budget allows.
type ModelPool struct {
	budget int64
	loader LoaderFunc
	logger *zap.Logger

	mu     sync.Mutex
	specs  map[string]ModelSpec
	loaded map[string]*poolEntry
	lru    *list.List
	used   int64
	active string
}

// PoolOption configures a ModelPool.
type PoolOption func(*ModelPool)

// WithMemoryBudget overrides the default memory budget.
func WithMemoryBudget(bytes int64) PoolOption {
	return func(p *ModelPool) {
		if bytes > 0 {
			p.budget = bytes
		}
	}
}

// WithPoolLogger sets the pool logger.
func WithPoolLogger(l *zap.Logger) PoolOption {
	return func(p *ModelPool) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewModelPool creates a pool that loads models through loader.
func NewModelPool(loader LoaderFunc, opts ...PoolOption) *ModelPool {
	p := &ModelPool{
		budget: DefaultMemoryBudget,
		loader: loader,
		logger: zap.NewNop(),
		specs:  make(map[string]ModelSpec),
		loaded: make(map[string]*poolEntry),
		lru:    list.New(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Register makes a model available for loading.
func (p *ModelPool) Register(spec ModelSpec) error {
	if spec.Name == "" {
		return faults.New(faults.InvalidArgument, "model spec needs a name")
	}
	if spec.MemoryBytes > p.budget {
		return faults.Newf(faults.InsufficientMemory,
			"model %s needs %d bytes, budget is %d", spec.Name, spec.MemoryBytes, p.budget)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.specs[spec.Name] = spec
	return nil
}

// Acquire returns the embedder for name, loading it if necessary.
func (p *ModelPool) Acquire(ctx context.Context, name string) (Embedder, error) {
	if err := ctx.Err(); err != nil {
		return nil, faults.Wrap(faults.Cancelled, "acquire model", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquireLocked(name)
}

func (p *ModelPool) acquireLocked(name string) (Embedder, error) {
	if entry, ok := p.loaded[name]; ok {
		p.lru.MoveToFront(entry.elem)
		return entry.embedder, nil
	}
	spec, ok := p.specs[name]
	if !ok {
		return nil, faults.Newf(faults.NotFound, "model %s is not registered", name)
	}
	if err := p.evictFor(spec.MemoryBytes); err != nil {
		return nil, err
	}
	embedder, err := p.loader(spec)
	if err != nil {
		return nil, err
	}
	entry := &poolEntry{spec: spec, embedder: embedder}
	entry.elem = p.lru.PushFront(name)
	p.loaded[name] = entry
	p.used += spec.MemoryBytes
	p.logger.Info("model loaded",
		zap.String("model", name),
		zap.Int64("memory_bytes", spec.MemoryBytes),
		zap.Int64("pool_used", p.used))
	return embedder, nil
}

// evictFor frees room for need bytes, oldest first. The active model
// is skipped.
func (p *ModelPool) evictFor(need int64) error {
	for p.used+need > p.budget {
		victim := p.oldestEvictable()
		if victim == "" {
			return faults.Newf(faults.InsufficientMemory,
				"cannot free %d bytes within budget %d", need, p.budget)
		}
		p.unloadLocked(victim)
	}
	return nil
}

func (p *ModelPool) oldestEvictable() string {
	for elem := p.lru.Back(); elem != nil; elem = elem.Prev() {
		name := elem.Value.(string)
		if name != p.active {
			return name
		}
	}
	return ""
}

func (p *ModelPool) unloadLocked(name string) {
	entry, ok := p.loaded[name]
	if !ok {
		return
	}
	if err := entry.embedder.Close(); err != nil {
		p.logger.Warn("model close failed", zap.String("model", name), zap.Error(err))
	}
	p.lru.Remove(entry.elem)
	delete(p.loaded, name)
	p.used -= entry.spec.MemoryBytes
	p.logger.Info("model evicted", zap.String("model", name), zap.Int64("pool_used", p.used))
}

// SetActive switches the active model, loading it first so the swap
// never leaves the pool without a usable embedder.
func (p *ModelPool) SetActive(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return faults.Wrap(faults.Cancelled, "set active model", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.acquireLocked(name); err != nil {
		return err
	}
	p.active = name
	return nil
}

// Active returns the active embedder, or nil when none is set.
func (p *ModelPool) Active() Embedder {
	p.mu.Lock()
	defer p.mu.Unlock()
	if entry, ok := p.loaded[p.active]; ok {
		return entry.embedder
	}
	return nil
}

// Status implements introspection for the command surface.
func (p *ModelPool) Status() PoolStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	status := PoolStatus{
		Active:       p.active,
		MemoryUsed:   p.used,
		MemoryBudget: p.budget,
	}
	for elem := p.lru.Front(); elem != nil; elem = elem.Next() {
		status.Loaded = append(status.Loaded, elem.Value.(string))
	}
	return status
}

// Close unloads every model.
func (p *ModelPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name := range p.loaded {
		p.unloadLocked(name)
	}
	p.active = ""
	return nil
}
