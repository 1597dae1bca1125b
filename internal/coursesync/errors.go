package coursesync

import (
	"errors"
	"fmt"
	"net/http"

	"lms-course-sync/internal/catalog"
	"lms-course-sync/internal/httpx"
	"lms-course-sync/internal/providers/canvas"
)

// Error is what every exposed operation returns on failure. Message is safe
// to show to an administrator; the cause is only logged.
type Error struct {
	Op      string
	Message string
	cause   error
}

// NewError wraps cause under a display-safe message.
func NewError(op, msg string, cause error) *Error {
	return &Error{Op: op, Message: msg, cause: cause}
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.cause }

// ErrInvalidRequest marks caller mistakes such as an empty selection.
var ErrInvalidRequest = errors.New("invalid request")

func invalid(op, msg string) *Error {
	return &Error{Op: op, Message: msg, cause: ErrInvalidRequest}
}

// remoteMessage describes a catalog API failure without leaking URLs,
// tokens or response bodies.
func remoteMessage(err error) string {
	var (
		terr *canvas.TransportError
		perr *canvas.InvalidPayloadError
	)
	switch {
	case errors.Is(err, canvas.ErrMissingCredentials):
		return "Canvas domain and API token are not configured."
	case errors.As(err, &terr):
		return "Could not reach Canvas. Check the domain and try again."
	case errors.As(err, &perr):
		return "Canvas returned a response in an unexpected format."
	}
	if herr, ok := httpx.IsHTTPError(err); ok {
		switch herr.StatusCode {
		case http.StatusUnauthorized:
			return "Canvas rejected the API token (HTTP 401)."
		case http.StatusForbidden:
			return "The API token is not allowed to list courses (HTTP 403)."
		case http.StatusNotFound:
			return "Canvas API not found at the configured domain (HTTP 404)."
		case http.StatusTooManyRequests:
			return "Canvas is rate limiting requests (HTTP 429). Try again later."
		}
		return fmt.Sprintf("Canvas API returned HTTP %d.", herr.StatusCode)
	}
	if errors.Is(err, catalog.ErrAllowListEmpty) {
		return "The approved course catalog is empty; no course can be validated."
	}
	return "The request to Canvas failed."
}
