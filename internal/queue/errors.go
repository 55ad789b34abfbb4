package queue

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
)

var (
	ErrStopped   = errors.New("job queue stopped")
	ErrQueueFull = errors.New("job queue full")
)

// FailurePrefix starts the error text recorded for a job that ran out of attempts.
const FailurePrefix = "Worker error: "

// NoRetry marks an error as permanent: the job fails without further attempts.
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetryError{err: err}
}

// IsNoRetry reports whether err is wrapped with NoRetry.
func IsNoRetry(err error) bool {
	var e noRetryError
	return errors.As(err, &e)
}

type noRetryError struct{ err error }

func (e noRetryError) Error() string { return e.err.Error() }
func (e noRetryError) Unwrap() error { return e.err }

// RetryAfter asks for the next attempt to wait at least after
// (bounded by the configured maximum retry delay).
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	return retryAfterError{err: err, after: max(after, 0)}
}

// RetryAfterError is implemented by errors that carry an explicit retry delay.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

type retryAfterError struct {
	err   error
	after time.Duration
}

func (e retryAfterError) Error() string             { return fmt.Sprintf("retry-after(%s): %v", e.after, e.err) }
func (e retryAfterError) Unwrap() error             { return e.err }
func (e retryAfterError) RetryAfter() time.Duration { return e.after }
