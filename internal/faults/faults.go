// Package faults defines the engine-wide error taxonomy. Errors carry a Kind
// used by the indexer retry policy and the command router; wrapping preserves
// the original cause for errors.Is/As.
package faults

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error for retry and surfacing decisions.
type Kind int

const (
	Internal Kind = iota
	NotFound
	FileLocked
	UnsupportedFormat
	Parse
	Corrupt
	TransientIO
	TransientNetwork
	TransientStorage
	TransientLock
	Timeout
	RateLimited
	BudgetExhausted
	InsufficientMemory
	InvalidArgument
	PermissionDenied
	Cancelled
)

var kindNames = map[Kind]string{
	Internal:           "internal",
	NotFound:           "not_found",
	FileLocked:         "file_locked",
	UnsupportedFormat:  "unsupported_format",
	Parse:              "parse",
	Corrupt:            "corrupt",
	TransientIO:        "transient_io",
	TransientNetwork:   "transient_network",
	TransientStorage:   "transient_storage",
	TransientLock:      "transient_lock",
	Timeout:            "timeout",
	RateLimited:        "rate_limited",
	BudgetExhausted:    "budget_exhausted",
	InsufficientMemory: "insufficient_memory",
	InvalidArgument:    "invalid_argument",
	PermissionDenied:   "permission_denied",
	Cancelled:          "cancelled",
}

// String returns the machine tag for the kind.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "internal"
}

// Error is a classified engine error.
type Error struct {
	Kind       Kind
	Msg        string
	RetryAfter time.Duration // only meaningful for RateLimited
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.cause }

// New returns a classified error with a message.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf returns a classified error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error. Returns nil if err is nil.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, cause: err}
}

// WithRetryAfter returns a RateLimited error carrying the remote retry hint.
func WithRetryAfter(msg string, after time.Duration, err error) error {
	return &Error{Kind: RateLimited, Msg: msg, RetryAfter: after, cause: err}
}

// KindOf returns the Kind of err, or Internal for unclassified errors.
// Context cancellation and deadline errors classify without wrapping.
func KindOf(err error) Kind {
	if err == nil {
		return Internal
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	if errors.Is(err, context.Canceled) {
		return Cancelled
	}
	return Internal
}

// IsRetryable reports whether the indexer outer loop should retry the task.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case FileLocked, TransientIO, TransientNetwork, TransientStorage, TransientLock, Timeout, RateLimited:
		return true
	default:
		return false
	}
}

// RetryAfterOf returns the retry hint carried by a RateLimited error, if any.
func RetryAfterOf(err error) (time.Duration, bool) {
	var fe *Error
	if errors.As(err, &fe) && fe.Kind == RateLimited && fe.RetryAfter > 0 {
		return fe.RetryAfter, true
	}
	return 0, false
}
