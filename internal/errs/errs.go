// Package errs carries user-facing error reasons alongside technical causes.
package errs

import (
	"errors"
	"fmt"
)

// UserErrorf is a user-facing error.
// It exists so messages may start with a capital letter without the linters
// complaining.
func UserErrorf(format string, a ...any) error {
	return fmt.Errorf(format, a...)
}

// Error wraps an underlying error with a user-facing reason.
//
// Reason is short and actionable; Err holds the technical details.
type Error struct {
	Err    error
	Reason string
}

// Wrap creates an Error with the given underlying error and user-facing reason.
func Wrap(err error, reason string) Error {
	return Error{Err: err, Reason: reason}
}

// Wrapf creates an Error with the given underlying error and a formatted reason.
func Wrapf(err error, format string, a ...any) Error {
	return Error{Err: err, Reason: fmt.Sprintf(format, a...)}
}

func (e Error) Error() string {
	switch {
	case e.Err != nil && e.Reason != "":
		return e.Reason + ": " + e.Err.Error()
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Reason
	}
}

func (e Error) Unwrap() error {
	return e.Err
}

// Parts splits err into the reason to show first and the details to show
// below it. Errors without a reason only have details.
func Parts(err error) (reason, details string) {
	var e Error
	if !errors.As(err, &e) {
		return "", err.Error()
	}
	if e.Err != nil {
		details = e.Err.Error()
	}
	return e.Reason, details
}
