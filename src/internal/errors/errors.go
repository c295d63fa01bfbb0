// Package errors provides domain-specific error types for keen-dnsguard.
//
// Errors carry a code so that callers can branch on the failure category with
// errors.Is against the package sentinels, regardless of message or cause:
//
//	if errors.Is(err, ErrMalformedFrame) {
//	    // drop the frame, keep reading
//	}
package errors

import "fmt"

// ErrorCode represents a category of error that can occur in the application.
type ErrorCode string

const (
	// ErrCodeConfig indicates a configuration-related error.
	ErrCodeConfig ErrorCode = "CONFIG_ERROR"

	// ErrCodeMalformedFrame indicates bad IPv4, UDP or DNS framing in a captured frame.
	ErrCodeMalformedFrame ErrorCode = "MALFORMED_FRAME"

	// ErrCodeReadCancelled indicates that a pending tunnel read was interrupted.
	// It is a shutdown signal, not a fault.
	ErrCodeReadCancelled ErrorCode = "READ_CANCELLED"

	// ErrCodeUpstreamIO indicates a failed exchange with an upstream resolver.
	ErrCodeUpstreamIO ErrorCode = "UPSTREAM_IO_ERROR"

	// ErrCodeTunnelConfig indicates that the virtual interface could not be provisioned.
	ErrCodeTunnelConfig ErrorCode = "TUNNEL_CONFIG_ERROR"

	// ErrCodeQueueFull indicates that the dispatcher rejected work because its queue is full.
	ErrCodeQueueFull ErrorCode = "QUEUE_FULL"

	// ErrCodeList indicates an error related to list operations (download, parsing).
	ErrCodeList ErrorCode = "LIST_ERROR"

	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// Sentinels for errors.Is comparisons. Any *Error with the same code matches.
var (
	ErrMalformedFrame = New(ErrCodeMalformedFrame, "malformed frame")
	ErrReadCancelled  = New(ErrCodeReadCancelled, "read cancelled")
	ErrUpstreamIO     = New(ErrCodeUpstreamIO, "upstream I/O failed")
	ErrTunnelConfig   = New(ErrCodeTunnelConfig, "tunnel configuration failed")
	ErrQueueFull      = New(ErrCodeQueueFull, "dispatcher queue is full")
)

// Error represents a domain-specific error with an error code and optional cause.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error for errors.Is and errors.As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a new domain error with the specified code and message.
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new domain error wrapping an existing error.
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Malformed creates a malformed-frame error with a formatted reason.
func Malformed(format string, args ...interface{}) *Error {
	return New(ErrCodeMalformedFrame, fmt.Sprintf(format, args...))
}

// NewConfigError creates a new configuration error.
func NewConfigError(message string, cause error) *Error {
	return Wrap(ErrCodeConfig, message, cause)
}

// NewUpstreamError creates a new upstream exchange error.
func NewUpstreamError(message string, cause error) *Error {
	return Wrap(ErrCodeUpstreamIO, message, cause)
}

// NewTunnelError creates a new tunnel provisioning error.
func NewTunnelError(message string, cause error) *Error {
	return Wrap(ErrCodeTunnelConfig, message, cause)
}

// NewListError creates a new list operation error.
func NewListError(message string, cause error) *Error {
	return Wrap(ErrCodeList, message, cause)
}

// NewInternalError creates a new internal error.
func NewInternalError(message string, cause error) *Error {
	return Wrap(ErrCodeInternal, message, cause)
}
