// Package errors re-exports github.com/cockroachdb/errors so the rest of the
// module gets stack-carrying, wrap-friendly errors from one import.
//
//	if err := store.AddJob(d, false); err != nil {
//	    return errors.Wrapf(err, "schedule %s", d.Key)
//	}
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Mark         = crdb.Mark
)

// User-facing details
var (
	WithHint     = crdb.WithHint
	WithHintf    = crdb.WithHintf
	WithDetail   = crdb.WithDetail
	WithDetailf  = crdb.WithDetailf
	FlattenHints = crdb.FlattenHints
)

// Inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)

// Sentinels shared across packages. Wrap them to add context; match with Is.
var (
	// ErrInvalidArgument marks malformed input (bad cron, empty key, ...).
	ErrInvalidArgument = New("invalid argument")
)

// InvalidArgumentf returns an error marked as ErrInvalidArgument.
func InvalidArgumentf(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrInvalidArgument)
}
