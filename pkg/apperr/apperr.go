// Package apperr defines the error taxonomy surfaced by the workflow engine.
package apperr

import (
	"errors"
	"fmt"
)

// Code classifies an application error.
type Code string

const (
	CodeValidation         Code = "VALIDATION_ERROR"
	CodeInvalidTransition  Code = "INVALID_TRANSITION"
	CodePermissionDenied   Code = "PERMISSION_DENIED"
	CodeInvariantViolation Code = "INVARIANT_VIOLATION"
	CodeNotFound           Code = "NOT_FOUND"
)

// Error is a coded application error. State carries the entity's current
// status on invalid-transition errors so the client can refresh its view.
type Error struct {
	Code    Code
	Message string
	State   string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Validation(format string, args ...interface{}) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

func InvalidTransition(state, format string, args ...interface{}) *Error {
	return &Error{Code: CodeInvalidTransition, Message: fmt.Sprintf(format, args...), State: state}
}

func PermissionDenied(format string, args ...interface{}) *Error {
	return &Error{Code: CodePermissionDenied, Message: fmt.Sprintf(format, args...)}
}

func InvariantViolation(format string, args ...interface{}) *Error {
	return &Error{Code: CodeInvariantViolation, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...interface{}) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the Code of err, or empty when err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func IsValidation(err error) bool         { return CodeOf(err) == CodeValidation }
func IsInvalidTransition(err error) bool  { return CodeOf(err) == CodeInvalidTransition }
func IsPermissionDenied(err error) bool   { return CodeOf(err) == CodePermissionDenied }
func IsInvariantViolation(err error) bool { return CodeOf(err) == CodeInvariantViolation }
func IsNotFound(err error) bool           { return CodeOf(err) == CodeNotFound }
