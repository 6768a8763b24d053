package domain

import "errors"

var (
	// ErrRequestNotFound is returned when an ingestion request cannot be found in the database
	ErrRequestNotFound = errors.New("ingestion request not found")

	// ErrRequestNotClaimable is returned when the request is not PENDING anymore
	ErrRequestNotClaimable = errors.New("ingestion request already claimed or not in PENDING status")

	// ErrLeaseLost is returned when a running request is no longer owned by this worker
	ErrLeaseLost = errors.New("ingestion request no longer owned by this worker")

	// ErrInvalidMessage is returned when a queue message is malformed
	ErrInvalidMessage = errors.New("invalid queue message")

	// ErrMaxRetriesExceeded is returned when a request has exceeded its retry limit
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)

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
