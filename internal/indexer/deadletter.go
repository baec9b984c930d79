package indexer

import (
	"sync"

	"github.com/neuralfs/neuralfs/internal/models"
)

const defaultDeadLetterCap = 1000

// deadLetters is a bounded FIFO of tasks that exhausted their retries.
// When full, the oldest entry is dropped to admit the newest.
type deadLetters struct {
	mu    sync.Mutex
	cap   int
	tasks []*models.IndexTask
}

func newDeadLetters(capacity int) *deadLetters {
	if capacity <= 0 {
		capacity = defaultDeadLetterCap
	}
	return &deadLetters{cap: capacity}
}

func (d *deadLetters) add(task *models.IndexTask) {
	d.mu.Lock()
	defer d.mu.Unlock()
	task.Status = models.TaskDeadLetter
	if len(d.tasks) >= d.cap {
		d.tasks = d.tasks[1:]
	}
	d.tasks = append(d.tasks, task)
}

func (d *deadLetters) list() []*models.IndexTask {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*models.IndexTask, len(d.tasks))
	for i, task := range d.tasks {
		copied := *task
		out[i] = &copied
	}
	return out
}

// take removes and returns the task with the given id.
func (d *deadLetters) take(id string) (*models.IndexTask, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, task := range d.tasks {
		if task.ID == id {
			d.tasks = append(d.tasks[:i], d.tasks[i+1:]...)
			return task, true
		}
	}
	return nil, false
}

func (d *deadLetters) clear() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.tasks)
	d.tasks = nil
	return n
}

func (d *deadLetters) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tasks)
}
