package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind classifies a fetch failure for the retry policy.
type Kind int

const (
	// Transient failures may succeed on another attempt.
	Transient Kind = iota
	// Permanent failures will not.
	Permanent
)

func (k Kind) String() string {
	if k == Permanent {
		return "permanent"
	}
	return "transient"
}

// FetchError is returned by engines for any failed fetch.
type FetchError struct {
	Kind       Kind
	Engine     string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s fetch failed with status %d: %v", e.Engine, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s fetch failed: %v", e.Engine, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Permanent reports whether retrying cannot change the outcome.
func (e *FetchError) Permanent() bool { return e.Kind == Permanent }

// Timeout reports whether the failure was a deadline.
func (e *FetchError) Timeout() bool { return errors.Is(e.Err, context.DeadlineExceeded) }

// ErrStatus is wrapped by FetchErrors built from an HTTP status.
var ErrStatus = errors.New("unexpected status")

// StatusError classifies an HTTP status from the target page. 408, 429 and
// 5xx are transient; other 4xx are permanent.
func StatusError(engine string, code int) *FetchError {
	kind := Transient
	if code >= 400 && code < 500 && code != 408 && code != 429 {
		kind = Permanent
	}
	return &FetchError{Kind: kind, Engine: engine, StatusCode: code, Err: ErrStatus}
}

// Classify wraps err in a FetchError. Existing FetchErrors are returned as
// is. Unresolvable hosts and malformed URLs are permanent; everything else,
// including timeouts and connection resets, is transient.
func Classify(engine string, err error) *FetchError {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}

	kind := Transient
	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &dnsErr) && dnsErr.IsNotFound:
		kind = Permanent
	case isPermanentMessage(err.Error()):
		kind = Permanent
	}
	return &FetchError{Kind: kind, Engine: engine, Err: err}
}

// Browser engines report navigation failures as net::ERR_* strings.
var permanentMarkers = []string{
	"err_name_not_resolved",
	"err_invalid_url",
	"err_unsafe_port",
	"err_blocked_by_administrator",
	"unsupported protocol scheme",
}

func isPermanentMessage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, m := range permanentMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
