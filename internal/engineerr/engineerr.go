// Package engineerr defines the error taxonomy of spec §7, distinct
// from any transport code. Every error the core returns across a
// command boundary is classified into exactly one Kind so callers can
// decide retry behavior without string matching.
package engineerr

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Kind is one of the seven error classes: the six of spec §7 plus
// NotFound.
type Kind string

const (
	Validation   Kind = "validation"
	Precondition Kind = "precondition"
	Conflict     Kind = "conflict"
	Invariant    Kind = "invariant"
	External     Kind = "external"
	Transient    Kind = "transient"
	// NotFound is its own kind rather than a Precondition subtype so the
	// command surface's distinct not_found exit code (spec §6) doesn't
	// need to string-match a Code.
	NotFound Kind = "not_found"
)

// Error wraps a cause with its Kind and an optional machine-readable
// Code consumed by the (external) notification/localization layer.
type Error struct {
	Kind Kind
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, code string, err error) *Error {
	return &Error{Kind: kind, Code: code, Err: err}
}

func Validationf(code, format string, args ...any) error {
	return newErr(Validation, code, fmt.Errorf(format, args...))
}

func Preconditionf(code, format string, args ...any) error {
	return newErr(Precondition, code, fmt.Errorf(format, args...))
}

func Conflictf(code, format string, args ...any) error {
	return newErr(Conflict, code, fmt.Errorf(format, args...))
}

func Externalf(code, format string, args ...any) error {
	return newErr(External, code, fmt.Errorf(format, args...))
}

func Transientf(code, format string, args ...any) error {
	return newErr(Transient, code, fmt.Errorf(format, args...))
}

// Invariantf builds an Invariant error with a captured stack trace via
// cockroachdb/errors, since these must surface with enough context for
// operator review (spec §7: "halt further automatic writes ... pending
// operator review").
func Invariantf(code, format string, args ...any) error {
	return newErr(Invariant, code, errors.WithStack(fmt.Errorf(format, args...)))
}

// KindOf extracts the Kind of err, defaulting to External for errors
// that didn't originate in this package (e.g. raw store failures).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return External
}

// CodeOf extracts the machine-readable code, or "" if err isn't an
// *Error.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Retryable reports whether local recovery should retry automatically,
// per spec §7: only Conflict and Transient ever retry.
func Retryable(err error) bool {
	k := KindOf(err)
	return k == Conflict || k == Transient
}

// ErrStale is returned by StateStore conditional writes when the
// predicate didn't match (0 rows affected).
var ErrStale = Conflictf("stale_version", "conditional write matched no rows")

// ErrAlreadyHeld is returned by LockManager.Acquire on contention.
var ErrAlreadyHeld = Conflictf("lease_held", "lease already held")

// NotFoundf is returned when an entity lookup fails.
func NotFoundf(format string, args ...any) error {
	return newErr(NotFound, "not_found", fmt.Errorf(format, args...))
}
