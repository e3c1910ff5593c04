// Package relayerr defines the error sum type shared by every relay
// component. Errors carry a code drawn from the vocabulary surfaced to
// clients (admission status codes, session "error" control messages) and a
// recoverable flag that callers use to decide whether a session must end.
package relayerr

import (
	"errors"
	"fmt"
)

// Code identifies the kind of failure. Codes map directly onto the values
// sent in "error" control messages or used to pick an HTTP admission status.
type Code string

const (
	// Admission errors, surfaced as HTTP statuses before a session exists.
	CodeUnauthorized    Code = "UNAUTHORIZED"
	CodeTenantOverQuota Code = "TENANT_OVER_QUOTA"

	// Session errors, surfaced as "error" control messages.
	CodeSessionAlreadyActive Code = "SESSION_ALREADY_ACTIVE"
	CodeSessionStartFailed   Code = "SESSION_START_FAILED"
	CodeNoActiveSession      Code = "NO_ACTIVE_SESSION"
	CodeUpstreamConnect      Code = "UPSTREAM_CONNECT"
	CodeAgentDisconnected    Code = "AGENT_DISCONNECTED"

	// Protocol errors, recoverable, the session continues.
	CodeMessageProcessingError Code = "MESSAGE_PROCESSING_ERROR"
	CodeUnknownMessageType     Code = "UNKNOWN_MESSAGE_TYPE"
)

// recoverable records which codes leave the session alive. Anything absent
// from this map is treated as fatal.
var recoverable = map[Code]bool{
	CodeMessageProcessingError: true,
	CodeUnknownMessageType:     true,
}

// retryable records which codes are transient enough to be worth another
// attempt by the resilience package's retry helpers.
var retryable = map[Code]bool{
	CodeUpstreamConnect: true,
}

// Error is the relay's error sum type: an operation name, a classification
// code, an optional human message, and an optional wrapped cause.
type Error struct {
	Op      string
	Code    Code
	Message string
	Err     error
}

// New creates an Error for op with the given code and cause.
func New(op string, code Code, err error) *Error {
	return &Error{Op: op, Code: code, Err: err}
}

// Newf creates an Error for op with the given code and a formatted message.
func Newf(op string, code Code, format string, args ...any) *Error {
	return &Error{Op: op, Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("relay %s: %s (%s)", e.Op, e.Message, e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("relay %s: %v (%s)", e.Op, e.Err, e.Code)
	}
	return fmt.Sprintf("relay %s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same Code, so callers can
// write errors.Is(err, &Error{Code: CodeUpstreamConnect}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// As extracts an *Error from err, if any.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// Recoverable reports whether err leaves the owning session alive. Non-relay
// errors are treated as fatal.
func Recoverable(err error) bool {
	e := As(err)
	if e == nil {
		return false
	}
	return recoverable[e.Code]
}

// IsRetryable reports whether err is worth retrying via the resilience
// package. Non-relay errors are treated as not retryable.
func IsRetryable(err error) bool {
	e := As(err)
	if e == nil {
		return false
	}
	return retryable[e.Code]
}
