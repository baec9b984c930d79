package models

import "time"

// TaskPriority orders index tasks in the queue.
type TaskPriority int

const (
	PriorityLow TaskPriority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

// TaskStatus tracks an index task through its state machine:
//
//	Pending -> Processing -> Completed
//	                      -> Failed -> Pending (after retry delay)
//	                      -> DeadLetter (retry budget exhausted)
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskDeadLetter TaskStatus = "dead-letter"
)

// IndexTask is one unit of indexing work.
type IndexTask struct {
	ID          string       `json:"id"`
	FileID      string       `json:"file_id,omitempty"`
	Path        string       `json:"path"`
	Priority    TaskPriority `json:"priority"`
	CreatedAt   time.Time    `json:"created_at"`
	RetryCount  int          `json:"retry_count"`
	MaxRetries  int          `json:"max_retries"`
	NextRetryAt time.Time    `json:"next_retry_at,omitempty"`
	LastError   string       `json:"last_error,omitempty"`
	Status      TaskStatus   `json:"status"`
	// Delete marks a removal task: the path was deleted on disk and the
	// record plus its derived artifacts are to be retired.
	Delete bool `json:"delete,omitempty"`
}

// CanTransitionTo reports whether the task status transition is in the
// allowed set.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case TaskPending:
		return next == TaskProcessing
	case TaskProcessing:
		return next == TaskCompleted || next == TaskFailed || next == TaskDeadLetter
	case TaskFailed:
		return next == TaskPending
	}
	return false
}
