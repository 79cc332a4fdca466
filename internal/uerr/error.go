// Package uerr enables chaining errors with additional context.
//
// To chain an error (works with errors.Is):
//
//	err := uerr.Chainf(cause, "opening %s", path)
package uerr

import (
	"errors"
	"fmt"
	"strings"
)

// UError wraps a cause with an additional message, preserving the chain
// for errors.Is/errors.As via Unwrap.
type UError struct {
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *UError) Error() string {
	return e.Message
}

// Unwrap supports errors.Is and errors.As.
func (e *UError) Unwrap() error {
	return e.Cause
}

// Chainf creates a new error based on cause, adding additional context.
func Chainf(cause error, format string, args ...interface{}) *UError {
	e := &UError{Cause: cause}

	var causeMsg string
	if cause != nil {
		causeMsg = cause.Error()
		if len(causeMsg) == 0 {
			causeMsg = fmt.Sprintf("%T", cause)
		}
	}

	msg := fmt.Sprintf(format, args...)
	if cause == nil {
		e.Message = msg
	} else {
		e.Message = msg + ", caused by: " + causeMsg
	}
	return e
}

// CauseMatches reports whether any error in the chain satisfies criteria.
func CauseMatches(err error, criteria func(err error) bool) bool {
	for {
		if criteria(err) {
			return true
		}
		err = errors.Unwrap(err)
		if err == nil {
			return false
		}
	}
}

// CauseMatchesString reports whether any error in the chain has an Error
// string containing match.
func CauseMatchesString(err error, match string) bool {
	return CauseMatches(err, func(err error) bool {
		return strings.Contains(err.Error(), match)
	})
}
