// Package errs classifies failures of a build run.
//
// A run can fail in three ways, and callers treat them differently:
// setup errors abort before any package is touched, step errors abort the
// current package and the rest of the plan, and cleanup errors are reported
// but never replace an earlier failure.
package errs

import (
	"errors"
	"fmt"
)

// Kind is the broad category of a failure.
type Kind string

const (
	KindSetup   Kind = "setup"
	KindStep    Kind = "step"
	KindCleanup Kind = "cleanup"
)

// Error is a classified error.
type Error struct {
	Kind Kind
	Op   string // what was being done, e.g. "open state"
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Setup wraps err as a setup error. A nil err stays nil.
func Setup(op string, err error) error {
	return wrap(KindSetup, op, err)
}

// Step wraps err as a step error. A nil err stays nil.
func Step(op string, err error) error {
	return wrap(KindStep, op, err)
}

// Cleanup wraps err as a cleanup error. A nil err stays nil.
func Cleanup(op string, err error) error {
	return wrap(KindCleanup, op, err)
}

func wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports the kind of the outermost classified error in err's chain.
// Unclassified errors are reported as step errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStep
}

// Is reports whether err carries a classified error of the given kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}
