package isp

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a failure of the capture state machine.
type ErrorCode string

// ErrorCode constants. Callers own retry policy for every code.
const (
	CodeBadValue         ErrorCode = "BAD_VALUE"
	CodeInvalidOperation ErrorCode = "INVALID_OPERATION"
	CodeBadIndex         ErrorCode = "BAD_INDEX"
	CodeDeadObject       ErrorCode = "DEAD_OBJECT"
	CodeNoMemory         ErrorCode = "NO_MEMORY"
	CodeUnknownError     ErrorCode = "UNKNOWN_ERROR"
	CodeNotSupported     ErrorCode = "NOT_SUPPORTED"
	CodeNotEnoughData    ErrorCode = "NOT_ENOUGH_DATA"
)

// Sentinel errors for errors.Is. Any *Error with the same code matches.
var (
	ErrBadValue         = &Error{Code: CodeBadValue, Message: "bad value"}
	ErrInvalidOperation = &Error{Code: CodeInvalidOperation, Message: "invalid operation"}
	ErrBadIndex         = &Error{Code: CodeBadIndex, Message: "bad buffer index"}
	ErrDeadObject       = &Error{Code: CodeDeadObject, Message: "buffer belongs to a previous session"}
	ErrNoMemory         = &Error{Code: CodeNoMemory, Message: "out of memory"}
	ErrUnknown          = &Error{Code: CodeUnknownError, Message: "unknown error"}
	ErrNotSupported     = &Error{Code: CodeNotSupported, Message: "not supported"}
	ErrNotEnoughData    = &Error{Code: CodeNotEnoughData, Message: "not enough data"}
)

// Error represents an error in the isp package.
type Error struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
	Cause   error          `json:"cause,omitempty"`
}

// NewError creates a new isp error.
func NewError(code ErrorCode, message string, context map[string]any) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: context,
	}
}

// NewErrorWithCause creates a new isp error wrapping cause.
func NewErrorWithCause(code ErrorCode, message string, cause error, context map[string]any) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: context,
		Cause:   cause,
	}
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

// HasCode checks if the error matches a specific code.
func (e *Error) HasCode(code ErrorCode) bool {
	return e.Code == code
}

// CodeOf returns the code of the first *Error in err's chain, or
// CodeUnknownError for foreign errors. A nil error has no code.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknownError
}

func unknownError(message string, cause error) *Error {
	return NewErrorWithCause(CodeUnknownError, message, cause, nil)
}

func invalidOperation(message string, mode Mode) *Error {
	return NewError(CodeInvalidOperation, message, map[string]any{"mode": mode.String()})
}
