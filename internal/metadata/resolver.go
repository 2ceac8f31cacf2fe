package metadata

import (
	"context"
	"errors"
	"fmt"

	"tunepipe/internal/logger"
)

// ErrAuth means the primary provider's credentials are missing or invalid.
// Callers with a fallback treat it as "primary provider unavailable".
var ErrAuth = errors.New("primary provider unavailable")

// Lookup is a Provider that can also fetch a single track by its id.
// Only the primary (authenticated) provider implements it.
type Lookup interface {
	Provider
	Track(ctx context.Context, id string) (CanonicalTrack, error)
}

// Resolver turns a TrackReference into a CanonicalTrack, falling back from
// the primary provider to unauthenticated providers for free-text queries.
type Resolver struct {
	primary  Lookup // nil when credentials are unconfigured
	fallback Provider
	logger   *logger.Logger
}

// NewResolver creates a Resolver. primary may be nil.
func NewResolver(primary Lookup, fallback Provider, log *logger.Logger) *Resolver {
	return &Resolver{primary: primary, fallback: fallback, logger: log}
}

// Resolve fetches canonical metadata for a structured link reference.
// Spotify links require the primary provider; there is no fallback path
// for an id-based lookup.
func (r *Resolver) Resolve(ctx context.Context, ref TrackReference) (CanonicalTrack, error) {
	if ref.Kind != RefSpotifyTrack {
		return CanonicalTrack{}, fmt.Errorf("reference %q is not a resolvable link", ref.Raw)
	}
	if r.primary == nil {
		return CanonicalTrack{}, fmt.Errorf("%w: credentials not configured", ErrAuth)
	}
	return r.primary.Track(ctx, ref.TrackID)
}

// SearchTracks runs a free-text search, preferring the primary provider
// and degrading to the fallback on any primary failure. It only errors
// when every provider fails.
func (r *Resolver) SearchTracks(ctx context.Context, query string, limit int) ([]CanonicalTrack, error) {
	if r.primary != nil {
		results, err := r.primary.Search(ctx, query, limit)
		if err == nil {
			return results, nil
		}
		r.logger.Warn("primary search failed, using fallback: %v", err)
	} else {
		r.logger.Debug("primary provider unconfigured, using fallback")
	}

	results, err := r.fallback.Search(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchUnavailable, err)
	}
	return results, nil
}
