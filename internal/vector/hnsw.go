package vector

import (
	"container/heap"
	"context"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/neuralfs/neuralfs/internal/faults"
)

// HNSW tuning defaults.
const (
	DefaultM           = 16
	DefaultEfConstruct = 100
	DefaultEfSearch    = 64
)

type hnswNode struct {
	point   Point
	deleted bool
	links   [][]uint32 // neighbor internal indices per level
}

// HNSW is an in-process hierarchical navigable small world graph over
// normalized vectors. Deletes are tombstones; the graph compacts itself
// when tombstones reach half the nodes.
type HNSW struct {
	mu          sync.RWMutex
	dims        int
	m           int
	mmax0       int
	efConstruct int
	efSearch    int
	mult        float64
	rng         *rand.Rand

	nodes    []*hnswNode
	byID     map[uint64]uint32
	entry    int // internal index, -1 when empty
	maxLevel int
	deleted  int
}

// HNSWOption tunes construction.
type HNSWOption func(*HNSW)

// WithM sets the per-layer connectivity.
func WithM(m int) HNSWOption { return func(h *HNSW) { h.m = m } }

// WithEfConstruct sets the construction beam width.
func WithEfConstruct(ef int) HNSWOption { return func(h *HNSW) { h.efConstruct = ef } }

// WithEfSearch sets the query beam width floor.
func WithEfSearch(ef int) HNSWOption { return func(h *HNSW) { h.efSearch = ef } }

// NewHNSW creates an empty graph for vectors of the given dimension.
func NewHNSW(dims int, opts ...HNSWOption) (*HNSW, error) {
	if dims <= 0 {
		return nil, faults.New(faults.InvalidArgument, "vector dimension must be positive")
	}
	h := &HNSW{
		dims:        dims,
		m:           DefaultM,
		efConstruct: DefaultEfConstruct,
		efSearch:    DefaultEfSearch,
		rng:         rand.New(rand.NewSource(1)),
		byID:        make(map[uint64]uint32),
		entry:       -1,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.mmax0 = 2 * h.m
	h.mult = 1 / math.Log(float64(h.m))
	return h, nil
}

func (h *HNSW) randomLevel() int {
	return int(-math.Log(h.rng.Float64()) * h.mult)
}

// Upsert inserts points, replacing any existing point with the same id.
func (h *HNSW) Upsert(ctx context.Context, points []Point) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range points {
		if err := ctx.Err(); err != nil {
			return faults.Wrap(faults.Cancelled, "vector upsert", err)
		}
		p := points[i]
		if len(p.Vector) != h.dims {
			return faults.Newf(faults.InvalidArgument,
				"vector dimension mismatch: got %d, want %d", len(p.Vector), h.dims)
		}
		vec := make([]float32, h.dims)
		copy(vec, p.Vector)
		p.Vector = Normalize(vec)
		if idx, ok := h.byID[p.ID]; ok {
			h.tombstone(idx)
		}
		h.insert(p)
	}
	h.maybeCompact()
	return nil
}

func (h *HNSW) insert(p Point) {
	level := h.randomLevel()
	node := &hnswNode{point: p, links: make([][]uint32, level+1)}
	idx := uint32(len(h.nodes))
	h.nodes = append(h.nodes, node)
	h.byID[p.ID] = idx

	if h.entry < 0 {
		h.entry = int(idx)
		h.maxLevel = level
		return
	}

	cur := uint32(h.entry)
	// Greedy descent through layers above the new node's level.
	for l := h.maxLevel; l > level; l-- {
		cur = h.greedyClosest(p.Vector, cur, l)
	}
	// Beam search and linking from min(level, maxLevel) down to 0.
	top := level
	if top > h.maxLevel {
		top = h.maxLevel
	}
	for l := top; l >= 0; l-- {
		cands := h.searchLayer(p.Vector, cur, h.efConstruct, l, nil, true)
		neighbors := h.selectNeighbors(cands, h.maxLinks(l))
		node.links[l] = neighbors
		for _, n := range neighbors {
			h.linkBack(n, idx, l)
		}
		if len(cands) > 0 {
			cur = cands[0].idx
		}
	}
	if level > h.maxLevel {
		h.maxLevel = level
		h.entry = int(idx)
	}
}

func (h *HNSW) maxLinks(level int) int {
	if level == 0 {
		return h.mmax0
	}
	return h.m
}

// linkBack adds src as a neighbor of n at level l, trimming to the link
// budget by similarity when over.
func (h *HNSW) linkBack(n, src uint32, l int) {
	node := h.nodes[n]
	if l >= len(node.links) {
		return
	}
	node.links[l] = append(node.links[l], src)
	budget := h.maxLinks(l)
	if len(node.links[l]) <= budget {
		return
	}
	base := node.point.Vector
	best := node.links[l]
	cands := make([]scoredIdx, len(best))
	for i, nb := range best {
		cands[i] = scoredIdx{idx: nb, score: dot(base, h.nodes[nb].point.Vector)}
	}
	node.links[l] = h.selectNeighbors(cands, budget)
}

type scoredIdx struct {
	idx   uint32
	score float64
}

// maxHeap orders by descending score.
type maxHeap []scoredIdx

func (q maxHeap) Len() int            { return len(q) }
func (q maxHeap) Less(i, j int) bool  { return q[i].score > q[j].score }
func (q maxHeap) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *maxHeap) Push(x any)         { *q = append(*q, x.(scoredIdx)) }
func (q *maxHeap) Pop() any           { old := *q; n := len(old); v := old[n-1]; *q = old[:n-1]; return v }

// minHeap orders by ascending score.
type minHeap []scoredIdx

func (q minHeap) Len() int           { return len(q) }
func (q minHeap) Less(i, j int) bool { return q[i].score < q[j].score }
func (q minHeap) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *minHeap) Push(x any)        { *q = append(*q, x.(scoredIdx)) }
func (q *minHeap) Pop() any          { old := *q; n := len(old); v := old[n-1]; *q = old[:n-1]; return v }

func (h *HNSW) greedyClosest(query []float32, start uint32, level int) uint32 {
	cur := start
	curScore := dot(query, h.nodes[cur].point.Vector)
	for {
		improved := false
		node := h.nodes[cur]
		if level < len(node.links) {
			for _, n := range node.links[level] {
				s := dot(query, h.nodes[n].point.Vector)
				if s > curScore {
					cur, curScore = n, s
					improved = true
				}
			}
		}
		if !improved {
			return cur
		}
	}
}

// searchLayer runs a beam search at one level. Tombstoned and filtered
// nodes are traversed but only admitted to results when includeAll is
// set (construction needs them as waypoints). Results are sorted by
// descending score.
func (h *HNSW) searchLayer(query []float32, start uint32, ef, level int, filter *Filter, includeAll bool) []scoredIdx {
	visited := map[uint32]bool{start: true}
	startScore := dot(query, h.nodes[start].point.Vector)

	candidates := maxHeap{{idx: start, score: startScore}}
	heap.Init(&candidates)
	var results minHeap
	if includeAll || h.admissible(start, filter) {
		results = minHeap{{idx: start, score: startScore}}
		heap.Init(&results)
	}

	for candidates.Len() > 0 {
		c := heap.Pop(&candidates).(scoredIdx)
		if results.Len() >= ef && c.score < results[0].score {
			break
		}
		node := h.nodes[c.idx]
		if level >= len(node.links) {
			continue
		}
		for _, n := range node.links[level] {
			if visited[n] {
				continue
			}
			visited[n] = true
			s := dot(query, h.nodes[n].point.Vector)
			if results.Len() < ef || s > results[0].score {
				heap.Push(&candidates, scoredIdx{idx: n, score: s})
				if includeAll || h.admissible(n, filter) {
					heap.Push(&results, scoredIdx{idx: n, score: s})
					if results.Len() > ef {
						heap.Pop(&results)
					}
				}
			}
		}
	}

	out := make([]scoredIdx, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&results).(scoredIdx)
	}
	return out
}

func (h *HNSW) admissible(idx uint32, filter *Filter) bool {
	node := h.nodes[idx]
	return !node.deleted && filter.Matches(&node.point.Payload)
}

// selectNeighbors keeps the top-n candidates by score. Reverse-link
// trimming passes candidates in arbitrary order, so they must be
// ordered before truncation.
func (h *HNSW) selectNeighbors(cands []scoredIdx, n int) []uint32 {
	sort.Slice(cands, func(i, j int) bool { return cands[i].score > cands[j].score })
	if len(cands) > n {
		cands = cands[:n]
	}
	out := make([]uint32, len(cands))
	for i, c := range cands {
		out[i] = c.idx
	}
	return out
}

// Search returns up to k points by cosine similarity, best first.
func (h *HNSW) Search(ctx context.Context, query []float32, k int, filter *Filter) ([]Result, error) {
	if len(query) != h.dims {
		return nil, faults.Newf(faults.InvalidArgument,
			"query dimension mismatch: got %d, want %d", len(query), h.dims)
	}
	if err := ctx.Err(); err != nil {
		return nil, faults.Wrap(faults.Cancelled, "vector search", err)
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if k <= 0 || h.entry < 0 {
		return nil, nil
	}

	q := make([]float32, h.dims)
	copy(q, query)
	Normalize(q)

	cur := uint32(h.entry)
	for l := h.maxLevel; l > 0; l-- {
		cur = h.greedyClosest(q, cur, l)
	}
	ef := h.efSearch
	if ef < k {
		ef = k
	}
	if filter != nil && ef < 4*k {
		// Filters shrink the admissible set; widen the beam.
		ef = 4 * k
	}
	cands := h.searchLayer(q, cur, ef, 0, filter, false)
	if len(cands) > k {
		cands = cands[:k]
	}
	out := make([]Result, len(cands))
	for i, c := range cands {
		node := h.nodes[c.idx]
		// raw dot internally; reported scores clamp to [0,1]
		score := math.Max(0, math.Min(1, c.score))
		out[i] = Result{ID: node.point.ID, Score: score, Payload: node.point.Payload}
	}
	return out, nil
}

// Delete tombstones points by id. Unknown ids are ignored.
func (h *HNSW) Delete(ctx context.Context, ids []uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, id := range ids {
		if idx, ok := h.byID[id]; ok {
			h.tombstone(idx)
		}
	}
	h.maybeCompact()
	return nil
}

func (h *HNSW) tombstone(idx uint32) {
	node := h.nodes[idx]
	if node.deleted {
		return
	}
	node.deleted = true
	h.deleted++
	delete(h.byID, node.point.ID)
}

// maybeCompact rebuilds the graph when at least half the nodes are
// tombstones. Caller holds the write lock.
func (h *HNSW) maybeCompact() {
	if h.deleted == 0 || h.deleted*2 < len(h.nodes) {
		return
	}
	live := make([]Point, 0, len(h.nodes)-h.deleted)
	for _, n := range h.nodes {
		if !n.deleted {
			live = append(live, n.point)
		}
	}
	h.nodes = h.nodes[:0]
	h.byID = make(map[uint64]uint32, len(live))
	h.entry = -1
	h.maxLevel = 0
	h.deleted = 0
	for _, p := range live {
		h.insert(p)
	}
}

// Get returns a live point by id.
func (h *HNSW) Get(id uint64) (*Point, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	idx, ok := h.byID[id]
	if !ok {
		return nil, false
	}
	p := h.nodes[idx].point
	return &p, true
}

// Count returns the number of live points.
func (h *HNSW) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.nodes) - h.deleted
}

// Dims returns the vector dimension.
func (h *HNSW) Dims() int { return h.dims }

// Close releases nothing; the graph is heap-allocated only.
func (h *HNSW) Close() error { return nil }
