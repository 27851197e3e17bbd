package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrItemNotFound is returned when a job item cannot be found
	ErrItemNotFound = errors.New("job item not found")

	// ErrUnknownOperation is returned when no resolver or strategy is
	// registered for a job's operation type
	ErrUnknownOperation = errors.New("unknown operation type")

	// ErrDuplicateIdempotencyKey is returned when a job insert loses the
	// race on the idempotency key's unique constraint
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already exists")
)

// ValidationError signals bad input or a violated precondition. It is
// surfaced synchronously to the caller; nothing is persisted beyond what
// already existed.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// NewValidationError creates a ValidationError with a formatted message.
func NewValidationError(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ExecutionError is a classified failure of one item's executor strategy.
// It is recorded per-item and never escapes the executor loop.
type ExecutionError struct {
	Code string
	Err  error
}

func (e *ExecutionError) Error() string {
	return e.Code + ": " + e.Err.Error()
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// NewExecutionError wraps err with a machine-readable domain code.
func NewExecutionError(code string, err error) error {
	return &ExecutionError{Code: code, Err: err}
}

// ErrorCode extracts the machine-readable code from an execution failure,
// falling back to a generic code for unclassified errors.
func ErrorCode(err error) string {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return "execution_error"
}

// InfrastructureError wraps failures of the engine's own plumbing (broker
// unavailable, lock timeout). The job is rolled to FAILED with the error
// recorded, and the error is re-raised to the immediate caller.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string {
	return "infrastructure error in " + e.Op + ": " + e.Err.Error()
}

func (e *InfrastructureError) Unwrap() error {
	return e.Err
}

// NewInfrastructureError wraps err with the failing operation name.
func NewInfrastructureError(op string, err error) error {
	return &InfrastructureError{Op: op, Err: err}
}
