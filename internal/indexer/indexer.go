// Package indexer schedules file index tasks through a bounded worker
// set with priority ordering, retry backoff, and a dead-letter queue.
package indexer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/neuralfs/neuralfs/internal/faults"
	"github.com/neuralfs/neuralfs/internal/models"
)

const (
	defaultMaxConcurrent = 4
	defaultTaskTimeout   = 60 * time.Second
	defaultBatchSize     = 10
	defaultMaxRetries    = 3
)

// Processor handles one task. *Pipeline is the production processor.
type Processor interface {
	Process(ctx context.Context, task *models.IndexTask) error
}

// Indexer owns the pending queue, the workers, and the dead letters.
type Indexer struct {
	pipeline Processor
	queue    *queue
	dead     *deadLetters
	logger   *zap.Logger

	maxConcurrent int
	taskTimeout   time.Duration
	batchSize     int
	maxRetries    int

	mu       sync.Mutex
	inflight map[string]bool
	paused   bool

	sem     chan struct{}
	wake    chan struct{}
	stop    chan struct{}
	stopped chan struct{}
	workers sync.WaitGroup
	once    sync.Once
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithMaxConcurrent bounds parallel task processing.
func WithMaxConcurrent(n int) Option {
	return func(ix *Indexer) {
		if n > 0 {
			ix.maxConcurrent = n
		}
	}
}

// WithTaskTimeout bounds a single task's processing time.
func WithTaskTimeout(d time.Duration) Option {
	return func(ix *Indexer) {
		if d > 0 {
			ix.taskTimeout = d
		}
	}
}

// WithBatchSize sets how many ready tasks one scheduling tick dequeues.
func WithBatchSize(n int) Option {
	return func(ix *Indexer) {
		if n > 0 {
			ix.batchSize = n
		}
	}
}

// WithMaxRetries sets the default retry budget for submitted tasks.
func WithMaxRetries(n int) Option {
	return func(ix *Indexer) {
		if n >= 0 {
			ix.maxRetries = n
		}
	}
}

// WithDeadLetterCap bounds the dead-letter queue.
func WithDeadLetterCap(n int) Option {
	return func(ix *Indexer) { ix.dead = newDeadLetters(n) }
}

// WithLogger sets the indexer logger.
func WithLogger(l *zap.Logger) Option {
	return func(ix *Indexer) {
		if l != nil {
			ix.logger = l
		}
	}
}

// New creates an Indexer over the given processor. Call Start to begin
// processing.
func New(pipeline Processor, opts ...Option) *Indexer {
	ix := &Indexer{
		pipeline:      pipeline,
		queue:         newQueue(),
		dead:          newDeadLetters(defaultDeadLetterCap),
		logger:        zap.NewNop(),
		maxConcurrent: defaultMaxConcurrent,
		taskTimeout:   defaultTaskTimeout,
		batchSize:     defaultBatchSize,
		maxRetries:    defaultMaxRetries,
		inflight:      make(map[string]bool),
		wake:          make(chan struct{}, 1),
		stop:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(ix)
	}
	if p, ok := pipeline.(*Pipeline); ok && p.Logger == nil {
		p.Logger = ix.logger
	}
	ix.sem = make(chan struct{}, ix.maxConcurrent)
	return ix
}

// Start launches the scheduler.
func (ix *Indexer) Start() {
	go ix.run()
}

// Stop halts scheduling and waits for in-flight tasks to finish.
func (ix *Indexer) Stop() {
	ix.once.Do(func() { close(ix.stop) })
	<-ix.stopped
	ix.workers.Wait()
}

// Submit enqueues a task, filling in id, timestamps, and retry budget.
// A pending task for the same path is merged rather than duplicated.
func (ix *Indexer) Submit(task *models.IndexTask) {
	if task.ID == "" {
		task.ID = models.NewID()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	if task.MaxRetries == 0 {
		task.MaxRetries = ix.maxRetries
	}
	ix.queue.push(task)
	ix.logger.Debug("task submitted",
		zap.String("path", task.Path),
		zap.Int("priority", int(task.Priority)),
		zap.Bool("delete", task.Delete))
	ix.signal()
}

// Pause stops dequeueing; running tasks complete.
func (ix *Indexer) Pause() {
	ix.mu.Lock()
	ix.paused = true
	ix.mu.Unlock()
	ix.logger.Info("indexer paused")
}

// Resume restarts dequeueing.
func (ix *Indexer) Resume() {
	ix.mu.Lock()
	ix.paused = false
	ix.mu.Unlock()
	ix.logger.Info("indexer resumed")
	ix.signal()
}

// SnapshotQueue returns the pending tasks in scheduling order.
func (ix *Indexer) SnapshotQueue() []*models.IndexTask { return ix.queue.snapshot() }

// QueueLen returns the number of pending tasks.
func (ix *Indexer) QueueLen() int { return ix.queue.len() }

// DeadLetters returns the tasks that exhausted their retries.
func (ix *Indexer) DeadLetters() []*models.IndexTask { return ix.dead.list() }

// RetryDeadLetter moves a dead-lettered task back into the queue with a
// fresh retry budget.
func (ix *Indexer) RetryDeadLetter(id string) error {
	task, ok := ix.dead.take(id)
	if !ok {
		return faults.Newf(faults.NotFound, "dead letter %s not found", id)
	}
	task.RetryCount = 0
	task.NextRetryAt = time.Time{}
	ix.queue.push(task)
	ix.signal()
	return nil
}

// ClearDeadLetters drops all dead letters and returns how many.
func (ix *Indexer) ClearDeadLetters() int { return ix.dead.clear() }

func (ix *Indexer) signal() {
	select {
	case ix.wake <- struct{}{}:
	default:
	}
}

func (ix *Indexer) run() {
	defer close(ix.stopped)
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		if !ix.isPaused() {
			ix.dispatch()
		}

		wait := time.Hour
		if next, ok := ix.queue.nextReady(); ok {
			if until := time.Until(next); until < wait {
				wait = until
			}
			if wait < time.Millisecond {
				wait = time.Millisecond
			}
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ix.stop:
			return
		case <-ix.wake:
		case <-timer.C:
		}
	}
}

// dispatch moves ready tasks to workers while slots are free.
func (ix *Indexer) dispatch() {
	for {
		free := ix.maxConcurrent - len(ix.sem)
		if free <= 0 {
			return
		}
		max := ix.batchSize
		if free < max {
			max = free
		}
		batch := ix.queue.popBatch(time.Now(), max, ix.isInflight)
		if len(batch) == 0 {
			return
		}
		for _, task := range batch {
			ix.markInflight(task.Path, true)
			ix.sem <- struct{}{}
			ix.workers.Add(1)
			go ix.work(task)
		}
	}
}

func (ix *Indexer) work(task *models.IndexTask) {
	defer ix.workers.Done()
	defer func() { <-ix.sem }()
	defer ix.markInflight(task.Path, false)

	task.Status = models.TaskProcessing
	ctx, cancel := context.WithTimeout(context.Background(), ix.taskTimeout)
	err := ix.pipeline.Process(ctx, task)
	cancel()

	switch {
	case err == nil:
		task.Status = models.TaskCompleted
		ix.logger.Debug("task completed", zap.String("path", task.Path))
	case faults.IsRetryable(err) && task.RetryCount < task.MaxRetries:
		task.RetryCount++
		task.LastError = err.Error()
		task.Status = models.TaskFailed
		delay := retryDelay(task.RetryCount, err)
		task.NextRetryAt = time.Now().UTC().Add(delay)
		ix.logger.Warn("task failed, will retry",
			zap.String("path", task.Path),
			zap.Int("retry", task.RetryCount),
			zap.Duration("delay", delay),
			zap.Error(err))
		ix.queue.push(task)
	default:
		task.LastError = err.Error()
		ix.logger.Error("task dead-lettered",
			zap.String("path", task.Path),
			zap.Int("retries", task.RetryCount),
			zap.Error(err))
		ix.dead.add(task)
	}
	ix.signal()
}

func (ix *Indexer) isPaused() bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.paused
}

func (ix *Indexer) isInflight(path string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.inflight[path]
}

func (ix *Indexer) markInflight(path string, v bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if v {
		ix.inflight[path] = true
	} else {
		delete(ix.inflight, path)
	}
}
