package jobs

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies failures for retry policy and HTTP mapping.
type ErrorKind string

const (
	ErrValidation       ErrorKind = "validation"
	ErrAuth             ErrorKind = "auth"
	ErrNotFound         ErrorKind = "not_found"
	ErrConflict         ErrorKind = "conflict"
	ErrFetchFailed      ErrorKind = "fetch_failed"
	ErrConvertFailed    ErrorKind = "convert_failed"
	ErrSplitFailed      ErrorKind = "split_failed"
	ErrTimeout          ErrorKind = "timeout"
	ErrQueueUnavailable ErrorKind = "queue_unavailable"
	ErrStoreUnavailable ErrorKind = "store_unavailable"
	ErrInternal         ErrorKind = "internal"
)

// Error carries a kind alongside the message; handlers record Message on the
// owning job and the API maps Kind to a status code.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a classified error.
func E(kind ErrorKind, msg string) *Error { return &Error{Kind: kind, Message: msg} }

// Ef builds a classified error with a format string.
func Ef(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind ErrorKind, err error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf extracts the kind, defaulting to internal. Context deadline errors
// classify as timeout even when unwrapped.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ErrInternal
}

// Retriable reports whether the queue should redeliver an item that failed
// with err. Validation and converter/splitter failures are permanent.
func Retriable(err error) bool {
	switch KindOf(err) {
	case ErrFetchFailed, ErrStoreUnavailable, ErrQueueUnavailable, ErrTimeout, ErrInternal:
		return true
	}
	return false
}
