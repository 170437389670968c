// Package resolution matches raw citations to canonical bibliographic
// records. Chain tries source adapters in priority order with a shared dedup
// cache; EnrichmentService fills gaps on already identified citations.
package resolution

import (
	"context"
	"errors"

	"github.com/turtacn/citeresolve/internal/domain/citation"
	apperrors "github.com/turtacn/citeresolve/pkg/errors"
)

// Adapter is one external bibliographic source.
//
// Resolve returns an empty slice when the source has no match, and Enrich
// returns nil. Failures to reach or use the source (network, auth, timeout,
// 5xx) return an error for which IsSourceUnavailable is true. Any other
// error is treated as a bug and aborts the call.
type Adapter interface {
	Name() string
	Resolve(ctx context.Context, c citation.Citation) ([]citation.MatchCandidate, error)
	Enrich(ctx context.Context, id citation.Identifier) (*citation.MatchCandidate, error)
}

// ErrSourceUnavailable marks a source that could not be queried.
var ErrSourceUnavailable = apperrors.New(apperrors.ErrCodeSourceUnavailable, "resolution source unavailable")

// IsSourceUnavailable reports whether err means the source could not be
// reached, as opposed to having found nothing.
func IsSourceUnavailable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrSourceUnavailable) || apperrors.IsCode(err, apperrors.ErrCodeSourceUnavailable)
}

// SourceUnavailable wraps cause so that IsSourceUnavailable reports true.
func SourceUnavailable(source string, cause error) error {
	if cause == nil {
		return ErrSourceUnavailable.WithDetail("source=" + source)
	}
	return apperrors.Wrap(cause, apperrors.ErrCodeSourceUnavailable, "resolution source unavailable").
		WithDetail("source=" + source)
}
