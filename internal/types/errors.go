package types

import "fmt"

// Error represents a capture domain error.
type Error struct {
	Code    string
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Code
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

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error carrying the same code, so callers can test against
// the sentinels below with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Error codes
const (
	CodeDeviceUnavailable = "DEVICE_UNAVAILABLE"
	CodeDeviceNotFound    = "DEVICE_NOT_FOUND"
	CodeUnsupportedSensor = "UNSUPPORTED_SENSOR"
	CodeSizeMismatch      = "SIZE_MISMATCH"
	CodeNegotiationFailed = "NEGOTIATION_FAILED"
	CodeOutOfMemory       = "OUT_OF_MEMORY"
	CodeNotImplemented    = "NOT_IMPLEMENTED"
	CodeInvalidURI        = "INVALID_URI"
	CodeInvalidMode       = "INVALID_MODE"
)

// Sentinels for errors.Is.
var (
	ErrDeviceUnavailable = &Error{Code: CodeDeviceUnavailable}
	ErrDeviceNotFound    = &Error{Code: CodeDeviceNotFound}
	ErrUnsupportedSensor = &Error{Code: CodeUnsupportedSensor}
	ErrSizeMismatch      = &Error{Code: CodeSizeMismatch}
	ErrNegotiationFailed = &Error{Code: CodeNegotiationFailed}
	ErrOutOfMemory       = &Error{Code: CodeOutOfMemory}
	ErrNotImplemented    = &Error{Code: CodeNotImplemented}
	ErrInvalidURI        = &Error{Code: CodeInvalidURI}
	ErrInvalidMode       = &Error{Code: CodeInvalidMode}
)

// NewError creates a new domain error.
func NewError(code, op, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: message,
		Cause:   cause,
	}
}

// Errorf creates a domain error with a formatted message.
func Errorf(code, op, format string, args ...any) *Error {
	return NewError(code, op, fmt.Sprintf(format, args...), nil)
}
