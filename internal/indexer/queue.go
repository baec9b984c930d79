package indexer

import (
	"container/heap"
	"sort"
	"sync"
	"time"

	"github.com/neuralfs/neuralfs/internal/models"
)

// taskHeap orders tasks by priority descending, then next-retry time
// ascending, then creation time ascending.
type taskHeap []*models.IndexTask

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	ri, rj := readyAt(h[i]), readyAt(h[j])
	if !ri.Equal(rj) {
		return ri.Before(rj)
	}
	return h[i].CreatedAt.Before(h[j].CreatedAt)
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*models.IndexTask)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return task
}

func readyAt(t *models.IndexTask) time.Time {
	if t.NextRetryAt.IsZero() {
		return t.CreatedAt
	}
	return t.NextRetryAt
}

// queue is the pending-task priority queue with per-path deduplication.
type queue struct {
	mu     sync.Mutex
	heap   taskHeap
	byPath map[string]*models.IndexTask
}

func newQueue() *queue {
	return &queue{byPath: make(map[string]*models.IndexTask)}
}

// push enqueues a task. A pending task for the same path is merged
// instead: the higher priority wins and a delete marker overrides an
// index marker.
func (q *queue) push(task *models.IndexTask) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if existing, ok := q.byPath[task.Path]; ok {
		if task.Priority > existing.Priority {
			existing.Priority = task.Priority
		}
		if task.Delete {
			existing.Delete = true
		}
		heap.Init(&q.heap)
		return
	}
	task.Status = models.TaskPending
	q.byPath[task.Path] = task
	heap.Push(&q.heap, task)
}

// popBatch removes up to max tasks whose retry time has passed, skipping
// paths for which skip returns true. Skipped and not-yet-ready tasks stay
// queued.
func (q *queue) popBatch(now time.Time, max int, skip func(path string) bool) []*models.IndexTask {
	q.mu.Lock()
	defer q.mu.Unlock()

	var batch []*models.IndexTask
	var deferred []*models.IndexTask
	for len(batch) < max && q.heap.Len() > 0 {
		task := heap.Pop(&q.heap).(*models.IndexTask)
		if readyAt(task).After(now) || (skip != nil && skip(task.Path)) {
			deferred = append(deferred, task)
			continue
		}
		delete(q.byPath, task.Path)
		batch = append(batch, task)
	}
	for _, task := range deferred {
		heap.Push(&q.heap, task)
	}
	return batch
}

// nextReady returns the earliest time any queued task becomes ready.
func (q *queue) nextReady() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var earliest time.Time
	for _, task := range q.heap {
		r := readyAt(task)
		if earliest.IsZero() || r.Before(earliest) {
			earliest = r
		}
	}
	return earliest, !earliest.IsZero()
}

// snapshot returns a copy of the queued tasks in scheduling order.
func (q *queue) snapshot() []*models.IndexTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*models.IndexTask, len(q.heap))
	for i, task := range q.heap {
		copied := *task
		out[i] = &copied
	}
	sort.Slice(out, func(i, j int) bool {
		h := taskHeap(out)
		return h.Less(i, j)
	})
	return out
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}
