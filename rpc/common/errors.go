package common

import (
	"errors"
	"fmt"
	"time"
)

// --------------------------------------------------------------------------
// Error Codes
// --------------------------------------------------------------------------

// ErrCode classifies every error returned by the session runtime.
type ErrCode uint8

const (
	// CodeConnectionUnavailable means the connection (or the pool) exhausted its retries
	CodeConnectionUnavailable ErrCode = iota + 1
	// CodeTimeout means the adaptive or explicit time budget of a call was exceeded
	CodeTimeout
	// CodeRemoteOverload means the remote asked the caller to back off
	CodeRemoteOverload
	// CodeCryptoUnavailable means no usable crypto backend is present
	CodeCryptoUnavailable
	// CodeBatchExchangeFailed means the batch the request belonged to could not be exchanged
	CodeBatchExchangeFailed
	// CodeRemoteError means the remote answered with an error for this request
	CodeRemoteError
)

// String returns the category name used in logs and in the error-backoff table
func (c ErrCode) String() string {
	switch c {
	case CodeConnectionUnavailable:
		return "connection_unavailable"
	case CodeTimeout:
		return "timeout"
	case CodeRemoteOverload:
		return "remote_overload"
	case CodeCryptoUnavailable:
		return "crypto_unavailable"
	case CodeBatchExchangeFailed:
		return "batch_exchange_failed"
	case CodeRemoteError:
		return "remote_error"
	default:
		return "unknown"
	}
}

// --------------------------------------------------------------------------
// Error Type
// --------------------------------------------------------------------------

// Error is the error type returned by all public operations.
type Error struct {
	Code ErrCode
	Msg  string
	// RetryAfter is the remote mandated wait (only set for CodeRemoteOverload)
	RetryAfter time.Duration
	// Cause is the underlying error, if any
	Cause error
}

func (e *Error) Error() string {
	msg := e.Code.String()
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Code == CodeRemoteOverload && e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same code, so the sentinels below
// can be used with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code && t.Msg == "" && t.Cause == nil
	}
	return false
}

// Sentinel errors for errors.Is
var (
	ErrConnectionUnavailable = &Error{Code: CodeConnectionUnavailable}
	ErrTimeout               = &Error{Code: CodeTimeout}
	ErrRemoteOverload        = &Error{Code: CodeRemoteOverload}
	ErrCryptoUnavailable     = &Error{Code: CodeCryptoUnavailable}
	ErrBatchExchangeFailed   = &Error{Code: CodeBatchExchangeFailed}
	ErrRemote                = &Error{Code: CodeRemoteError}
)

// NewError creates a new error with the given code, message and optional cause
func NewError(code ErrCode, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// NewOverloadError creates a RemoteOverload error carrying the wait mandated by the remote
func NewOverloadError(method string, retryAfter time.Duration) *Error {
	return &Error{Code: CodeRemoteOverload, Msg: method, RetryAfter: retryAfter}
}

// Code returns the code of err, or 0 if err is not (and does not wrap) an *Error
func Code(err error) ErrCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

// Category returns the error-backoff category of err
func Category(err error) string {
	if c := Code(err); c != 0 {
		return c.String()
	}
	return "unknown"
}

// RetryAfter returns the remote mandated wait carried by err (0 if none)
func RetryAfter(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) && e.Code == CodeRemoteOverload {
		return e.RetryAfter
	}
	return 0
}

// AsError converts error and flood wait answers into the matching *Error.
// Any other message yields nil.
func (m *Message) AsError() error {
	switch m.MsgType {
	case MsgTError:
		return NewError(CodeRemoteError, nil, "%s: %s", m.Method, m.Err)
	case MsgTFloodWait:
		return NewOverloadError(m.Method, time.Duration(m.RetryAfter)*time.Second)
	default:
		return nil
	}
}
