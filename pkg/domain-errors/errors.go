// Package domainerrors defines the coded error type returned by services.
//
// Services translate store facts (see pkg/platform/sentinel) into a Code so that
// transports can branch on the outcome without string matching:
//
//	if dErrors.HasCode(err, dErrors.CodeDuplicateSession) {
//		// already checked in
//	}
package domainerrors

import (
	"context"
	"errors"
	"net/http"

	"presence/pkg/platform/sentinel"
)

// Code classifies a domain error. Codes are part of the public API surface and
// appear verbatim in HTTP error envelopes.
type Code string

const (
	CodeBadRequest         Code = "bad_request"
	CodeValidation         Code = "validation_error"
	CodeInvalidInput       Code = "invalid_input"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeInvariantViolation Code = "invariant_violation"
	CodeInternal           Code = "internal_error"

	// Attendance and identity outcomes callers are expected to branch on.
	CodeDuplicateSession       Code = "duplicate_session"
	CodeNoOpenSession          Code = "no_open_session"
	CodeVerificationFailed     Code = "verification_failed"
	CodeAlreadyRegistered      Code = "already_registered"
	CodeExternalService        Code = "external_service"
	CodeReconciliationConflict Code = "reconciliation_conflict"
)

func (c Code) String() string {
	return string(c)
}

// Error is a coded domain error. Message is safe to show to clients unless the
// code is CodeInternal.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a coded error.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code and message to an underlying error. Wrapping a nil error
// returns nil so callers can wrap unconditionally.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// WrapDependency wraps a store or directory failure. Transient failures
// (unavailable, throttled, timed out) become CodeExternalService so clients
// can tell "try again" from a fault; anything else is CodeInternal.
func WrapDependency(err error, msg string) error {
	if err == nil {
		return nil
	}
	if sentinel.IsRetryable(err) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Code: CodeExternalService, Message: msg + ", try again", Err: err}
	}
	return &Error{Code: CodeInternal, Message: msg, Err: err}
}

// CodeOf returns the code of the outermost domain error in the chain, or
// CodeInternal when the chain carries none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether the outermost domain error in err's chain has code.
func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	var de *Error
	if !errors.As(err, &de) {
		return false
	}
	return de.Code == code
}

// Is is an alias of HasCode kept for handler readability.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// ToHTTPStatus maps a code to the status used in HTTP error envelopes.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest, CodeValidation, CodeInvalidInput:
		return http.StatusBadRequest
	case CodeUnauthorized, CodeVerificationFailed:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeDuplicateSession, CodeNoOpenSession, CodeAlreadyRegistered, CodeReconciliationConflict:
		return http.StatusConflict
	case CodeInvariantViolation:
		return http.StatusUnprocessableEntity
	case CodeExternalService:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
