package errors

import (
	stderrors "errors"
	"fmt"
)

// Error is the domain error type with structured metadata.
type Error struct {
	Code     Code              // Machine-readable error code
	Message  string            // Internal message (for logs)
	Metadata map[string]string // Additional context, e.g. the next valid bid
	Cause    error             // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// Kind returns the kind of the error's code.
func (e *Error) Kind() Kind {
	return e.Code.Kind()
}

// Retryable reports whether the caller should re-fetch state and try again.
func (e *Error) Retryable() bool {
	return e.Kind() == KindStateConflict
}

// New creates a simple domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf creates a domain error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// WithMetadata creates a domain error with metadata.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Metadata: metadata,
	}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Sentinels for errors.Is checks. Only the code is compared.
var (
	ErrNotTokenized        = New(CodeNotTokenized, "")
	ErrNotNegotiable       = New(CodeNotNegotiable, "")
	ErrInvalidAmount       = New(CodeInvalidAmount, "")
	ErrInvalidBid          = New(CodeInvalidBid, "")
	ErrInvalidInput        = New(CodeInvalidInput, "")
	ErrConflict            = New(CodeConflict, "")
	ErrAuctionExpired      = New(CodeAuctionExpired, "")
	ErrAuctionStillOpen    = New(CodeAuctionStillOpen, "")
	ErrExpired             = New(CodeExpired, "")
	ErrInsufficientBalance = New(CodeInsufficientBalance, "")
	ErrDegraded            = New(CodeDegraded, "")
	ErrNotFound            = New(CodeNotFound, "")
)

// As extracts the domain error from err's chain.
func As(err error) (*Error, bool) {
	var target *Error
	if stderrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf returns the code carried by err, or CodeUnknown.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeUnknown
}

// KindOf returns the kind carried by err. Errors outside the taxonomy report ok=false.
func KindOf(err error) (Kind, bool) {
	if e, ok := As(err); ok {
		return e.Kind(), true
	}
	return "", false
}
