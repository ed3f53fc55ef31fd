// Package apperr defines the sentinel errors and the typed business error
// shared by the naming engine, the service layer and the HTTP handlers.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
)

// Code is the machine-readable discriminator of an *Error.
type Code string

const (
	CodeMissingField      Code = "missing_field"
	CodeInvalidFormat     Code = "invalid_format"
	CodeUnknownType       Code = "unknown_type"
	CodeUnknownIdentifier Code = "unknown_identifier"
	CodeComposeFailure    Code = "compose_failure"
	CodeDelegateFailure   Code = "delegate_failure"
	CodeNameTaken         Code = "name_taken"
)

// Error is a validation or business failure surfaced to the caller.
type Error struct {
	Code    Code
	Field   string
	Message string
	Details map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus maps the error code to a response status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeMissingField, CodeInvalidFormat:
		return http.StatusBadRequest
	case CodeUnknownType, CodeUnknownIdentifier:
		return http.StatusUnprocessableEntity
	case CodeNameTaken:
		return http.StatusConflict
	case CodeDelegateFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Internal reports whether the error is a defect rather than a user mistake.
func (e *Error) Internal() bool {
	return e.Code == CodeComposeFailure || e.Code == CodeDelegateFailure
}

// With returns a copy of e carrying an extra detail.
func (e *Error) With(key, value string) *Error {
	out := *e
	out.Details = make(map[string]string, len(e.Details)+1)
	for k, v := range e.Details {
		out.Details[k] = v
	}
	out.Details[key] = value
	return &out
}

func MissingField(field, msg string) *Error {
	return &Error{Code: CodeMissingField, Field: field, Message: msg}
}

func InvalidFormat(field, msg string) *Error {
	return &Error{Code: CodeInvalidFormat, Field: field, Message: msg}
}

func UnknownType(code string) *Error {
	return &Error{Code: CodeUnknownType, Field: "type", Message: fmt.Sprintf("type %q is not registered", code)}
}

func UnknownIdentifier(scope, id string) *Error {
	return &Error{Code: CodeUnknownIdentifier, Field: scope, Message: fmt.Sprintf("%s %q is not registered", scope, id)}
}

func ComposeFailure(msg string) *Error {
	return &Error{Code: CodeComposeFailure, Message: msg}
}

func DelegateFailure(err error) *Error {
	msg := "object store returned no usable URL"
	if err != nil {
		msg = err.Error()
	}
	return &Error{Code: CodeDelegateFailure, Message: msg, Err: err}
}

// NameTaken reports that an object already exists under the composed key.
func NameTaken(path string, err error) *Error {
	return &Error{Code: CodeNameTaken, Field: "name", Message: fmt.Sprintf("%s is already stored", path), Err: err}
}

// As extracts an *Error from err.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HasCode reports whether err is an *Error with the given code.
func HasCode(err error, code Code) bool {
	e, ok := As(err)
	return ok && e.Code == code
}
