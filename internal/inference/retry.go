package inference

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/neuralfs/neuralfs/internal/faults"
)

const (
	maxRemoteAttempts = 3
	remoteBackoffBase = time.Second
	remoteBackoffCap  = 8 * time.Second
)

// callWithRetry runs fn obeying the remote failure policy: rate limits
// wait for the server's hint (exponential when absent), 5xx and network
// errors retry up to three attempts, other 4xx fail immediately.
func callWithRetry(ctx context.Context, fn func(ctx context.Context) (*Completion, error)) (*Completion, error) {
	var lastErr error
	for attempt := 0; attempt < maxRemoteAttempts; attempt++ {
		resp, err := fn(ctx)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var wait time.Duration
		switch faults.KindOf(err) {
		case faults.RateLimited:
			wait = remoteBackoffBase << uint(attempt)
			if hint, ok := faults.RetryAfterOf(err); ok {
				wait = hint
			}
		case faults.TransientNetwork, faults.Timeout:
			wait = remoteBackoffBase << uint(attempt)
		default:
			return nil, err
		}
		if wait > remoteBackoffCap {
			wait = remoteBackoffCap
		}
		select {
		case <-ctx.Done():
			return nil, faults.Wrap(faults.Cancelled, "remote call", ctx.Err())
		case <-time.After(wait):
		}
	}
	return nil, lastErr
}

// retryAfterHeader parses a Retry-After seconds value from a response.
func retryAfterHeader(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
