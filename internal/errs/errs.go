// Package errs defines the error kinds surfaced by the report service.
package errs

import (
	"errors"
	"net/http"
)

type Kind string

const (
	KindUnauthorized     Kind = "unauthorized"
	KindForbidden        Kind = "forbidden"
	KindValidationFailed Kind = "validation_failed"
	KindReportNotFound   Kind = "report_not_found"
	KindInternal         Kind = "internal"
)

// FieldError is a single field-level validation message.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Error struct {
	Kind    Kind
	Op      string
	Message string
	Fields  []FieldError
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Op + ": " + e.Message + ": " + e.Err.Error()
	}
	if e.Op != "" {
		return e.Op + ": " + e.Message
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// E builds an *Error. The cause is kept for logging only; callers outside the
// service see Message.
func E(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

func Validation(op string, fields []FieldError) *Error {
	return &Error{Kind: KindValidationFailed, Op: op, Message: "validation failed", Fields: fields}
}

// KindOf returns the kind of err, or KindInternal for anything that is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindValidationFailed:
		return http.StatusBadRequest
	case KindReportNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Response is the JSON body written for a failed request.
type Response struct {
	Error  string       `json:"error"`
	Kind   Kind         `json:"kind"`
	Fields []FieldError `json:"fields,omitempty"`
}

// ResponseOf maps err to its HTTP status and body. Internal causes never
// appear in the body.
func ResponseOf(err error) (int, Response) {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError, Response{Error: "internal server error", Kind: KindInternal}
	}
	message := e.Message
	if e.Kind == KindInternal {
		message = "internal server error"
	}
	return HTTPStatus(e.Kind), Response{Error: message, Kind: e.Kind, Fields: e.Fields}
}
