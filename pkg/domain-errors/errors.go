// Package domainerrors defines the error taxonomy surfaced by approvalflow services.
//
// Stores return sentinel facts (see pkg/platform/sentinel) or raw driver errors;
// services translate those into coded errors so callers can branch on HasCode
// without knowing which store produced the failure.
package domainerrors

import (
	"errors"
	"net/http"
)

// Code classifies a domain error.
type Code string

const (
	CodeBadRequest         Code = "bad_request"
	CodeValidation         Code = "validation_error"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeInvariantViolation Code = "invariant_violation"
	CodeTimeout            Code = "timeout"
	CodeInternal           Code = "internal_error"

	// CodeConfiguration marks a malformed workflow definition rejected at configure time.
	CodeConfiguration Code = "configuration_error"
	// CodeConfigurationMissing marks a gated service with no (or a disabled) workflow.
	CodeConfigurationMissing Code = "configuration_missing"
	// CodePersistence marks a storage or transport failure. Gating always fails closed on it.
	CodePersistence Code = "persistence_fault"
)

// Error is a coded domain error. Message is safe to show to the caller;
// the wrapped Err is for logs only.
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
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf returns the code of the outermost domain error in the chain,
// or CodeInternal when err carries none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether the outermost domain error in err's chain has the given code.
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

// HTTPStatus maps a code to the status a transport layer should return.
func HTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest, CodeValidation, CodeConfiguration:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeInvariantViolation:
		return http.StatusConflict
	case CodeConfigurationMissing:
		return http.StatusPreconditionFailed
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodePersistence:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
