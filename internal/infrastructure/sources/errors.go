package sources

import (
	"errors"
	"fmt"

	apperrors "github.com/turtacn/citeresolve/pkg/errors"
)

var (
	// ErrNotFound means the source has no record for the request. It is a
	// normal outcome, never a source failure.
	ErrNotFound = errors.New("not found")

	// ErrAuth indicates a missing or rejected API key.
	ErrAuth = errors.New("authentication error")

	// ErrRateLimited indicates the source returned 429.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrTransport covers network failures, timeouts and 5xx responses.
	ErrTransport = errors.New("transport error")

	// ErrUnexpectedStatus covers 4xx responses other than 401, 403, 404 and 429.
	ErrUnexpectedStatus = errors.New("unexpected status")

	// ErrInvalidResponse indicates a body that could not be decoded.
	ErrInvalidResponse = errors.New("invalid response")
)

// APIError describes a non-2xx response.
type APIError struct {
	Source     string
	StatusCode int
	Path       string
	kind       error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s %s: HTTP %d", e.Source, e.kind, e.Path, e.StatusCode)
}

func (e *APIError) Unwrap() error { return e.kind }

// unavailable wraps cause as a source-unavailable AppError so callers can
// classify it with apperrors.IsUnavailable.
func unavailable(source string, cause error) error {
	return apperrors.Wrap(cause, apperrors.ErrCodeSourceUnavailable, "resolution source unavailable").
		WithDetail("source=" + source)
}

// IsNotFound reports whether err is a not-found response.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsAuthError reports whether err is an authentication failure.
func IsAuthError(err error) bool { return errors.Is(err, ErrAuth) }

// IsRateLimited reports whether err is a 429 response.
func IsRateLimited(err error) bool { return errors.Is(err, ErrRateLimited) }
