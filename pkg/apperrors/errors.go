// Package apperrors defines the error kinds business code raises and the HTTP
// layer translates.
package apperrors

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindNotFound             Kind = "NOT_FOUND"
	KindInvalidState         Kind = "INVALID_STATE"
	KindConflict             Kind = "CONFLICT"
	KindInvalidArgument      Kind = "INVALID_ARGUMENT"
	KindAuthenticationFailed Kind = "AUTHENTICATION_FAILED"
	KindAuthorizationDenied  Kind = "AUTHORIZATION_DENIED"
	KindValidationFailed     Kind = "VALIDATION_FAILED"
)

type Error struct {
	Kind    Kind
	Message string
	// Fields holds per-field messages for KindValidationFailed.
	Fields map[string]string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

func NotFound(entity string, id any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %v not found", entity, id)}
}

func InvalidState(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidState, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func InvalidArgument(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

func AuthenticationFailed(message string, cause error) *Error {
	return &Error{Kind: KindAuthenticationFailed, Message: message, cause: cause}
}

func AuthorizationDenied(message string) *Error {
	return &Error{Kind: KindAuthorizationDenied, Message: message}
}

func ValidationFailed(fields map[string]string) *Error {
	return &Error{Kind: KindValidationFailed, Message: "validation failed", Fields: fields}
}

// Field is shorthand for a single-field validation failure.
func Field(name, message string) *Error {
	return ValidationFailed(map[string]string{name: message})
}

// KindOf returns the kind of the first *Error in err's chain, or "" for unclassified errors.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
