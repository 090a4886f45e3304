// Package apperr defines the error kinds surfaced by docgate services and their HTTP mapping.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for the caller.
type Kind int

const (
	// KindUnknown is any error that was not classified.
	KindUnknown Kind = iota
	// KindValidation is missing or malformed required input.
	KindValidation
	// KindNotFound is a missing document or collection.
	KindNotFound
	// KindDuplicate is a uniqueness violation on create.
	KindDuplicate
	// KindStore is a failure of the underlying store.
	KindStore
	// KindStructural is a filename or file format mismatch during ingestion.
	KindStructural
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindDuplicate:
		return "duplicate"
	case KindStore:
		return "store"
	case KindStructural:
		return "structural"
	default:
		return "unknown"
	}
}

// Error is a classified error with a human-readable message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind. This lets callers write
// errors.Is(err, apperr.ErrNotFound).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrDuplicate  = &Error{Kind: KindDuplicate}
	ErrStore      = &Error{Kind: KindStore}
	ErrStructural = &Error{Kind: KindStructural}
)

// Validation returns a validation error.
func Validation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFound returns a not-found error.
func NotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Duplicate returns a duplicate error.
func Duplicate(format string, args ...interface{}) *Error {
	return &Error{Kind: KindDuplicate, Message: fmt.Sprintf(format, args...)}
}

// Structural returns a structural (file shape) error.
func Structural(format string, args ...interface{}) *Error {
	return &Error{Kind: KindStructural, Message: fmt.Sprintf(format, args...)}
}

// Store wraps err as a store failure. The underlying message stays visible to the caller.
// Returns nil when err is nil; an err that is already classified is returned unchanged.
func Store(err error, op string) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return &Error{Kind: KindStore, Message: op, Err: err}
}

// KindOf returns the kind of err, or KindUnknown when it is not classified.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}

// HTTPStatus maps err to a response status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation, KindStructural:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindDuplicate:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
