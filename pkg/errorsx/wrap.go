package errorsx

import (
	"errors"
	"fmt"
)

// ReasonedError carries a machine-readable reason code alongside the
// underlying error so callers can branch on failure class without matching
// message strings.
type ReasonedError struct {
	Reason ReasonCode
	Err    error
}

func (e *ReasonedError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return e.Err.Error()
}

func (e *ReasonedError) Unwrap() error { return e.Err }

// Wrap tags err with a reason code. The first reason sticks: wrapping an
// already-reasoned error keeps the original code. Nil in, nil out.
func Wrap(err error, reason ReasonCode) error {
	if err == nil {
		return nil
	}
	var re *ReasonedError
	if errors.As(err, &re) {
		return err
	}
	return &ReasonedError{Reason: reason, Err: err}
}

// Wrapf is Wrap over a freshly formatted error.
func Wrapf(reason ReasonCode, format string, args ...any) error {
	return Wrap(fmt.Errorf(format, args...), reason)
}

// Reason reports the code attached to err, or ReasonUnknown.
func Reason(err error) ReasonCode {
	var re *ReasonedError
	if errors.As(err, &re) {
		return re.Reason
	}
	return ReasonUnknown
}

// HasReason reports whether err carries the given code.
func HasReason(err error, reason ReasonCode) bool {
	return Reason(err) == reason
}
