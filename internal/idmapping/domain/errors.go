package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned for malformed caller arguments before any request is made
	ErrInvalidInput = errors.New("invalid input")

	// ErrSubmit is returned when the service rejects or fails a job submission
	ErrSubmit = errors.New("job submission failed")

	// ErrPoll is returned when status checks keep failing after all retries
	ErrPoll = errors.New("job status check failed")

	// ErrJobFailed is returned when the service reports the job cannot complete
	ErrJobFailed = errors.New("mapping job failed")

	// ErrJobNotFound is returned when the service has no record of the job
	ErrJobNotFound = errors.New("mapping job not found")

	// ErrFetch is returned when a finished job's results cannot be retrieved
	ErrFetch = errors.New("result retrieval failed")
)

// RetryableError wraps transient errors that may succeed on a later attempt
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

// IsRetryable reports whether err is or wraps a RetryableError
func IsRetryable(err error) bool {
	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}

// BatchError tags a failure with the batch whose identifiers it affected
type BatchError struct {
	Index int
	IDs   []string
	JobID string
	Err   error
}

func (e *BatchError) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("batch %d (%d ids, job %s): %v", e.Index, len(e.IDs), e.JobID, e.Err)
	}
	return fmt.Sprintf("batch %d (%d ids): %v", e.Index, len(e.IDs), e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}
