package tracelot

import (
	"errors"
	"fmt"
)

// Error is the coded error returned across the library. Code is stable and
// machine-readable; Details carries context such as addresses or indices.
type Error struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes.
const (
	ErrCodeValidation          = "validation_error"
	ErrCodeInvalidTransition   = "invalid_transition"
	ErrCodeNotFound            = "not_found"
	ErrCodeConfigMismatch      = "configuration_mismatch"
	ErrCodeSubmission          = "submission_error"
	ErrCodeConfirmationTimeout = "confirmation_timeout"
	ErrCodePartialFetch        = "partial_fetch_failure"
)

// NewError creates a coded error.
func NewError(code, message string, details map[string]interface{}) *Error {
	return &Error{Code: code, Message: message, Details: details}
}

// Errorf creates a coded error with a formatted message and no details.
func Errorf(code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsCode reports whether err is (or wraps) an *Error with the given code.
func IsCode(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// IsNotFound reports whether err marks an absent entity.
func IsNotFound(err error) bool { return IsCode(err, ErrCodeNotFound) }
