package canvas

import (
	"context"
	"errors"
	"fmt"

	"lms-course-sync/internal/httpx"
)

// ErrMissingCredentials means the domain or token is not configured.
var ErrMissingCredentials = errors.New("canvas: API domain and token must be configured")

// TransportError wraps a network or timeout failure reaching the API.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("canvas: %s: transport: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// InvalidPayloadError means a response did not match the expected schema.
type InvalidPayloadError struct {
	Op     string
	Reason string
	Body   string
}

func (e *InvalidPayloadError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("canvas: %s: invalid payload: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("canvas: %s: invalid payload: %s body=%s", e.Op, e.Reason, e.Body)
}

// PartialError is returned by ListCourses when a page after the first
// failed. The courses gathered so far are returned alongside it.
type PartialError struct {
	Page int
	Err  error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("canvas: list stopped at page %d: %v", e.Page, e.Err)
}

func (e *PartialError) Unwrap() error { return e.Err }

// IsRetryable reports whether a caller-level retry with backoff makes sense.
func IsRetryable(err error) bool {
	var terr *TransportError
	if errors.As(err, &terr) {
		return true
	}
	if herr, ok := httpx.IsHTTPError(err); ok {
		return herr.Temporary()
	}
	return false
}

// IsDataError reports whether err is a schema mismatch.
func IsDataError(err error) bool {
	var perr *InvalidPayloadError
	return errors.As(err, &perr)
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &TransportError{Op: op, Err: err}
	}
	if _, ok := httpx.IsHTTPError(err); ok {
		return fmt.Errorf("canvas: %s: %w", op, err)
	}
	return &TransportError{Op: op, Err: err}
}
