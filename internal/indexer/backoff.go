package indexer

import (
	"math/rand"
	"time"

	"github.com/neuralfs/neuralfs/internal/faults"
)

const (
	backoffCap        = 16 * time.Second
	backoffJitter     = 0.25
	fileLockRetryWait = 5 * time.Second
)

// retryDelay computes the wait before a failed task re-enters the queue.
// Locked files poll at a fixed interval since exponential growth only
// delays noticing the release. Rate limits honor the remote hint.
func retryDelay(retryCount int, err error) time.Duration {
	if after, ok := faults.RetryAfterOf(err); ok {
		return after
	}
	if faults.KindOf(err) == faults.FileLocked {
		return fileLockRetryWait
	}
	delay := time.Duration(1<<uint(retryCount)) * time.Second
	if delay > backoffCap || delay <= 0 {
		delay = backoffCap
	}
	jitter := time.Duration((rand.Float64()*2 - 1) * backoffJitter * float64(delay))
	return delay + jitter
}
