package records

import (
	"errors"
	"fmt"
)

var (
	// ErrNetwork marks transient transport failures. Adapters may retry.
	ErrNetwork = errors.New("network error")
	// ErrTimeout marks a call that exceeded its deadline. Retried like ErrNetwork.
	ErrTimeout = errors.New("request timeout")
	// ErrStoreUnavailable is fatal for the current job.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrAmbiguousMatch marks a sub-threshold resolution routed to review.
	ErrAmbiguousMatch = errors.New("ambiguous match")
	// ErrNotFound signals that the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnsupported is returned by adapters for phases a source does not offer.
	ErrUnsupported = errors.New("unsupported by source")
)

// HTTPStatusError represents a non-2xx response.
type HTTPStatusError struct {
	Code int
	Body string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Body)
}

// Retryable reports whether a retry may succeed (429 and 5xx).
func (e *HTTPStatusError) Retryable() bool {
	return e.Code == 429 || e.Code >= 500
}

// SourceFormatError reports a fetched row that did not match the expected schema.
type SourceFormatError struct {
	Source string
	Key    string
	Field  string
	Reason string
}

func (e *SourceFormatError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s: row %q field %q: %s", e.Source, e.Key, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: field %q: %s", e.Source, e.Field, e.Reason)
}

// IsTransient reports whether err is worth retrying at the adapter level.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNetwork) || errors.Is(err, ErrTimeout) {
		return true
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	return false
}
