package driver

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrUnavailable     = errors.New("browser unavailable")
	ErrSessionClosed   = errors.New("browser session closed")
	ErrConnectionLost  = errors.New("browser connection lost")
	ErrElementNotFound = errors.New("element not found")
	ErrUnsupportedKey  = errors.New("unsupported key")
)

// Error codes carried by *Error
const (
	CodeNavigation     = "navigation"
	CodeEvaluate       = "evaluate"
	CodeTimeout        = "timeout"
	CodeConnectionLost = "connection_lost"
	CodeClosed         = "closed"
	CodeInput          = "input"
)

// Error wraps a driver failure with the operation that caused it
type Error struct {
	Code string
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("driver %s [%s]: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("driver %s [%s]", e.Op, e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new driver Error
func NewError(code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// WaitTimeout is returned by WaitFor when the selector never appeared
func WaitTimeout(selector string) *Error {
	return &Error{Code: CodeTimeout, Op: "wait " + selector, Err: context.DeadlineExceeded}
}

// IsSessionLost returns true if the page handle can no longer be used
func IsSessionLost(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSessionClosed) || errors.Is(err, ErrConnectionLost) || errors.Is(err, ErrUnavailable) {
		return true
	}
	var driverErr *Error
	if errors.As(err, &driverErr) {
		return driverErr.Code == CodeConnectionLost || driverErr.Code == CodeClosed
	}
	return false
}

// IsTimeout returns true if the error came from an elapsed deadline
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var driverErr *Error
	return errors.As(err, &driverErr) && driverErr.Code == CodeTimeout
}
