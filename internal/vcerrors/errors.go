// Package vcerrors classifies errors surfaced by the collection engine into
// the kinds spec'd for the update/read API, so callers (and shard/collection
// fan-out aggregation) can decide retryability without string matching.
package vcerrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry and aggregation decisions.
type Kind int

const (
	// Unclassified is the zero value; errors without an explicit kind are
	// treated as ServiceError by Retryable.
	Unclassified Kind = iota
	BadInput
	NotFound
	Conflict
	ServiceError
	Timeout
	ShardUnavailable
)

func (k Kind) String() string {
	switch k {
	case BadInput:
		return "BadInput"
	case NotFound:
		return "NotFound"
	case Conflict:
		return "Conflict"
	case ServiceError:
		return "ServiceError"
	case Timeout:
		return "Timeout"
	case ShardUnavailable:
		return "ShardUnavailable"
	default:
		return "Unclassified"
	}
}

// Error wraps an underlying cause with a Kind.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a kinded error from a message.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf builds a kinded error from a format string.
func Newf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind to an existing error.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: err.Error(), Err: err}
}

// WrapMsg attaches a Kind and a contextual message to an existing error.
func WrapMsg(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the Kind of err, defaulting to ServiceError when err does
// not carry one: unclassified I/O failures are treated as service errors,
// possibly retryable.
func KindOf(err error) Kind {
	if err == nil {
		return Unclassified
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ServiceError
}

// Retryable reports whether a caller may usefully retry the operation that
// produced err.
func Retryable(err error) bool {
	switch KindOf(err) {
	case Timeout:
		return true
	case ServiceError, ShardUnavailable:
		return true // "Possibly"/"Maybe" retryable; caller's call, but not excluded.
	default:
		return false
	}
}

// Is reports whether err (or something it wraps) carries kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
