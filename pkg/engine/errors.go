package engine

import (
	"errors"
	"fmt"
)

// ErrorClass classifies an expected workflow failure. Every class here is
// recoverable from the process's point of view: the workflow stops, the CLI
// reports, nothing crashes. Logic bugs are not errors of any class; they
// panic (see doc.go).
type ErrorClass string

const (
	// ErrorClassCanceled indicates the user declined or aborted an action.
	ErrorClassCanceled ErrorClass = "canceled"

	// ErrorClassRejected indicates a remote provider rejected a request
	// after validating it, e.g. a policy dry-run refused by the control
	// plane.
	ErrorClassRejected ErrorClass = "rejected"

	// ErrorClassDenied indicates missing permission or API-key scope.
	ErrorClassDenied ErrorClass = "denied"

	// ErrorClassTimeout indicates a bounded wait expired, e.g. polling for
	// a mesh device that never appeared.
	ErrorClassTimeout ErrorClass = "timeout"

	// ErrorClassUnavailable indicates a provider call failed outright
	// (network error, non-zero CLI exit, 5xx response).
	ErrorClassUnavailable ErrorClass = "unavailable"
)

// Error is a classified, expected workflow failure with context.
type Error struct {
	// Class is the failure classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource names the app, device, or network involved, if any.
	Resource string `json:"resource,omitempty"`

	// Operation is the provider operation being performed.
	Operation string `json:"operation,omitempty"`

	// Hint is an actionable suggestion surfaced to the user, e.g. which
	// API-key scope is missing.
	Hint string `json:"hint,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Resource != "" {
		msg += fmt.Sprintf(" (resource=%s)", e.Resource)
	}
	if e.Operation != "" {
		msg += fmt.Sprintf(" (operation=%s)", e.Operation)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error equality for errors.Is: two engine errors match when
// class and code match.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewCanceledError creates a user-cancellation error.
func NewCanceledError(message string) *Error {
	return &Error{Class: ErrorClassCanceled, Message: message}
}

// NewRejectedError creates a remote-validation-rejection error.
func NewRejectedError(message string, err error) *Error {
	return &Error{Class: ErrorClassRejected, Message: message, Err: err}
}

// NewDeniedError creates a permission-denied error.
func NewDeniedError(message string, err error) *Error {
	return &Error{Class: ErrorClassDenied, Message: message, Err: err}
}

// NewTimeoutError creates a bounded-wait-expired error.
func NewTimeoutError(message string, err error) *Error {
	return &Error{Class: ErrorClassTimeout, Message: message, Err: err}
}

// NewUnavailableError creates a provider-failure error.
func NewUnavailableError(message string, err error) *Error {
	return &Error{Class: ErrorClassUnavailable, Message: message, Err: err}
}

// WithResource adds resource context to the error.
func (e *Error) WithResource(resource string) *Error {
	e.Resource = resource
	return e
}

// WithOperation adds operation context to the error.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithCode adds an error code.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithHint adds an actionable hint shown to the user alongside the error.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// ClassOf returns the class of err if it is a classified engine error, or
// the empty string otherwise.
func ClassOf(err error) ErrorClass {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// IsCanceled reports whether err is classified as a user cancellation.
func IsCanceled(err error) bool { return ClassOf(err) == ErrorClassCanceled }

// IsRejected reports whether err is classified as a remote rejection.
func IsRejected(err error) bool { return ClassOf(err) == ErrorClassRejected }

// IsDenied reports whether err is classified as permission denial.
func IsDenied(err error) bool { return ClassOf(err) == ErrorClassDenied }

// IsTimeout reports whether err is classified as an expired wait.
func IsTimeout(err error) bool { return ClassOf(err) == ErrorClassTimeout }

// HintOf returns the actionable hint attached to err, if any.
func HintOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Hint
	}
	return ""
}

// Common error codes.
const (
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeAlreadyExists  = "ALREADY_EXISTS"
	ErrCodeScopeMissing   = "SCOPE_MISSING"
	ErrCodeDeviceTimeout  = "DEVICE_TIMEOUT"
	ErrCodePolicyRejected = "POLICY_REJECTED"
	ErrCodeProviderFailed = "PROVIDER_FAILED"
)
