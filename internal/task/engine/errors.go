package engine

import (
	"fmt"
	"time"

	"jobhost/internal/errors"
	"jobhost/internal/task/job"
)

var (
	ErrStopped  = errors.New("task engine stopped")
	ErrStopping = errors.New("task engine stopping")
	ErrNoJob    = errors.New("task has no job")

	// ErrDiscarded is passed to OnDone for fires whose Valid check failed.
	ErrDiscarded = errors.New("fire discarded")
)

// HandlerExecutionError wraps a failed job run with the job identity.
// It is recorded in the execution result and logged, never returned to
// the scheduler's callers.
type HandlerExecutionError struct {
	Job     job.Key
	Trigger job.TriggerKey
	Err     error
}

func (e *HandlerExecutionError) Error() string {
	return fmt.Sprintf("job %s (trigger %s): %v", e.Job, e.Trigger, e.Err)
}

func (e *HandlerExecutionError) Unwrap() error { return e.Err }

// PanicError carries a recovered handler panic.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// NoRetry marks an error as non-retryable.
//
// Jobs can wrap validation errors or other permanent failures with NoRetry
// so the engine won't waste time retrying.
//
//	return engine.NoRetry(errors.Wrap(err, "bad input"))
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

func (e noRetryError) Error() string { return fmt.Sprintf("no-retry: %v", e.err) }
func (e noRetryError) Unwrap() error { return e.err }

// RetryAfter provides a suggested delay before the next attempt. The hint
// is bounded by RetryMaxDelay and still jittered.
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	if after < 0 {
		after = 0
	}
	return retryAfterError{err: err, after: after}
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
