package vpp

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a post-processing failure.
type ErrorCode string

// ErrorCode constants.
const (
	CodeFail            ErrorCode = "FAIL"
	CodeNotSupported    ErrorCode = "NOT_SUPPORTED"
	CodeDataRendering   ErrorCode = "DATA_RENDERING"
	CodeBufferNotReady  ErrorCode = "BUFFER_NOT_READY"
	CodeEndOfStream     ErrorCode = "END_OF_STREAM"
	CodeSessionExists   ErrorCode = "SESSION_EXISTS"
	CodeSessionNotFound ErrorCode = "SESSION_NOT_FOUND"
)

// Sentinel errors for errors.Is. Any *Error with the same code matches.
var (
	ErrFail            = &Error{Code: CodeFail, Message: "post-processing failed"}
	ErrNotSupported    = &Error{Code: CodeNotSupported, Message: "stream not supported, pass through"}
	ErrDataRendering   = &Error{Code: CodeDataRendering, Message: "hardware still rendering"}
	ErrBufferNotReady  = &Error{Code: CodeBufferNotReady, Message: "no buffer ready"}
	ErrEndOfStream     = &Error{Code: CodeEndOfStream, Message: "end of stream"}
	ErrSessionExists   = &Error{Code: CodeSessionExists, Message: "window already has a session"}
	ErrSessionNotFound = &Error{Code: CodeSessionNotFound, Message: "session not found"}
)

// Error represents an error in the vpp package.
type Error struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
	Cause   error          `json:"cause,omitempty"`
}

// NewError creates a new vpp error.
func NewError(code ErrorCode, message string, context map[string]any) *Error {
	return &Error{Code: code, Message: message, Context: context}
}

// NewErrorWithCause creates a new vpp error wrapping cause.
func NewErrorWithCause(code ErrorCode, message string, cause error, context map[string]any) *Error {
	return &Error{Code: code, Message: message, Context: context, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// CodeOf returns the code of the first *Error in err's chain, or CodeFail
// for foreign errors. A nil error has no code.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeFail
}

func failure(message string, cause error) *Error {
	return NewErrorWithCause(CodeFail, message, cause, nil)
}
