package scheduler

import (
	"jobhost/internal/errors"
	"jobhost/internal/task/engine"
	"jobhost/internal/task/store"
)

var (
	// ErrNotStarted is returned by operations that need a running scheduler.
	ErrNotStarted = errors.New("scheduler is not started")

	ErrDuplicateKey = store.ErrDuplicateKey
	ErrNotFound     = store.ErrNotFound

	// ErrMisfire marks fires that were skipped because they ran late. It
	// only appears in events and history.
	ErrMisfire = errors.New("trigger misfired")
)

// HandlerExecutionError wraps a failed job run with its job identity.
type HandlerExecutionError = engine.HandlerExecutionError
