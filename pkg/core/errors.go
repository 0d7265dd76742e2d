package core

import (
	"errors"
	"fmt"
	"net/http"
)

// Validation errors
var (
	ErrMissingCredential = errors.New("logqueue: authorization header missing or invalid")
	ErrInvalidCredential = errors.New("logqueue: invalid or expired token")
	ErrMissingFile       = errors.New("logqueue: no file uploaded")
	ErrFileTooLarge      = errors.New("logqueue: file exceeds upload size limit")
	ErrInvalidFilename   = errors.New("logqueue: invalid file name")
	ErrInvalidPriority   = errors.New("logqueue: priority out of range")
	ErrJobNotFound       = errors.New("logqueue: job not found or access denied")
)

// Kind is the machine-stable category of a caller-visible error.
type Kind string

const (
	KindUnauthorized Kind = "unauthorized"
	KindBadRequest   Kind = "bad_request"
	KindNotFound     Kind = "not_found"
	KindStorage      Kind = "storage_error"
	KindQueue        Kind = "queue_error"
	KindRateLimited  Kind = "rate_limited"
	KindAggregation  Kind = "aggregation_error"
	KindInternal     Kind = "internal"
)

// Error is returned at the boundary of every public operation.
type Error struct {
	Kind Kind
	Op   string // Operation that failed, e.g. "dispatch.upload"
	Msg  string // Human-readable summary
	Err  error  // Underlying cause, preserved for diagnosis
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E builds an Error of the given kind.
func E(kind Kind, op string, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// KindOf returns the Kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps a Kind to its HTTP status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindBadRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
