package errors

import (
	"errors"
)

// An error that carries the process exit code the CLI should use for it.
type ExitCodeError struct {
	code ExitCode
	error
}

// NewError attaches exitCode to err. A nil err stays a nil error.
func NewError(err error, exitCode ExitCode) error {
	if err == nil {
		return nil
	}
	return &ExitCodeError{exitCode, err}
}

func (e *ExitCodeError) GetExitCode() ExitCode {
	if e == nil {
		return 0
	}
	return e.code
}

func (e *ExitCodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.error
}

// ExitCodeOf finds the exit code carried anywhere in err's chain.
// nil maps to 0, errors without one to GenericFailureExitCode.
func ExitCodeOf(err error) ExitCode {
	if err == nil {
		return 0
	}
	var ec *ExitCodeError
	if errors.As(err, &ec) {
		return ec.GetExitCode()
	}
	return GenericFailureExitCode
}
