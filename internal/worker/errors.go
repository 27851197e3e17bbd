package worker

import "errors"

// ErrTaskExhausted is returned when a task failed on its redelivery attempt
// and the job has been marked FAILED.
var ErrTaskExhausted = errors.New("task retry exhausted")

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
