// Package disperr defines the error kinds shared by the display pipeline packages.
package disperr

import (
	"errors"
	"fmt"
)

// Code identifies the kind of a display pipeline failure.
type Code string

// Error codes.
const (
	CodeHardwareNotReady       Code = "HARDWARE_NOT_READY"
	CodeNoMatchingMode         Code = "NO_MATCHING_MODE"
	CodeUnsupportedPixelFormat Code = "UNSUPPORTED_PIXEL_FORMAT"
	CodeInvalidLayerSequencing Code = "INVALID_LAYER_SEQUENCING"
	CodeResourceBusy           Code = "RESOURCE_BUSY"
	CodeInvalidArgument        Code = "INVALID_ARGUMENT"
	CodeNotConnected           Code = "NOT_CONNECTED"
)

// Sentinels for errors.Is comparisons. Only the code is compared.
var (
	ErrHardwareNotReady       = &Error{Code: CodeHardwareNotReady}
	ErrNoMatchingMode         = &Error{Code: CodeNoMatchingMode}
	ErrUnsupportedPixelFormat = &Error{Code: CodeUnsupportedPixelFormat}
	ErrInvalidLayerSequencing = &Error{Code: CodeInvalidLayerSequencing}
	ErrResourceBusy           = &Error{Code: CodeResourceBusy}
	ErrInvalidArgument        = &Error{Code: CodeInvalidArgument}
	ErrNotConnected           = &Error{Code: CodeNotConnected}
)

// Error is a display pipeline error carrying a kind code.
type Error struct {
	Code    Code
	Op      string
	Message string
	Cause   error
}

// New creates an error for operation op.
func New(code Code, op, message string) *Error {
	return &Error{Code: code, Op: op, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code Code, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error with an underlying cause.
func Wrap(code Code, op, message string, cause error) *Error {
	return &Error{Code: code, Op: op, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a display error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the code of the first display error in err's tree.
func CodeOf(err error) (Code, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Code, true
	}
	return "", false
}
