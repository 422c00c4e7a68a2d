package retry

import (
	"context"
	"errors"
)

// permanent is implemented by errors that know retrying cannot help.
type permanent interface {
	Permanent() bool
}

// Retryable reports whether err is worth another attempt. Errors that
// declare themselves permanent and caller cancellation are not. Everything
// else, including timeouts and unclassified errors, is retried.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var p permanent
	if errors.As(err, &p) {
		return !p.Permanent()
	}
	return true
}

// Permanent wraps err so Retryable rejects it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string   { return e.err.Error() }
func (e *permanentError) Unwrap() error   { return e.err }
func (e *permanentError) Permanent() bool { return true }

// StatusRetryable reports whether an HTTP status is worth retrying.
// 4xx responses are permanent except 408 and 429.
func StatusRetryable(code int) bool {
	switch {
	case code == 408, code == 429:
		return true
	case code >= 400 && code < 500:
		return false
	default:
		return true
	}
}
