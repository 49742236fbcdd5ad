package domain

import "errors"

var (
	// ErrInvalidPayload is returned when a request message cannot be used
	ErrInvalidPayload = errors.New("invalid request payload")

	// ErrPublish is returned when a batch result cannot be delivered to the broker
	ErrPublish = errors.New("failed to publish batch result")
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
