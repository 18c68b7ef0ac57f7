package queue

import (
	"errors"
	"fmt"
)

// Configuration errors returned by Enqueue. These are the only errors the
// queue produces itself; everything else originates from the task, the
// breaker, or the caller's context.
var (
	// ErrEmptyKey is returned when a task is enqueued without a key.
	ErrEmptyKey = errors.New("enqueue key must not be empty")

	// ErrNilTask is returned when a nil task is enqueued.
	ErrNilTask = errors.New("enqueue task must not be nil")
)

// UpstreamError describes a failure of the upstream call itself: a network
// error, a non-2xx status, or a malformed payload.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream %s error (status %d): %s: %v",
			e.Provider, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("upstream %s error (status %d): %s",
		e.Provider, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *UpstreamError) Unwrap() error {
	return e.Err
}
