package metadata

import (
	"context"
	"errors"
	"net/url"
	"strings"
)

// CanonicalTrack is the authoritative metadata for a requested song.
// It is produced once per request and is read-only afterwards: the
// ranker scores every search candidate against it.
type CanonicalTrack struct {
	ID              string
	Title           string
	Artists         []string
	Album           string
	DurationSeconds float64
	ArtworkURL      string
	PreviewURL      string
	ExternalURL     string
}

// PrimaryArtist returns the first credited artist, or "" if none.
func (t CanonicalTrack) PrimaryArtist() string {
	if len(t.Artists) == 0 {
		return ""
	}
	return t.Artists[0]
}

// DisplayName returns "Artist1, Artist2 - Title", the string used for
// candidate search queries and download filenames.
func (t CanonicalTrack) DisplayName() string {
	artists := strings.Join(t.Artists, ", ")
	if artists == "" {
		return t.Title
	}
	return artists + " - " + t.Title
}

// Sentinel errors returned by resolvers and providers.
var (
	// ErrNotFound means the primary provider has no track with the given id.
	ErrNotFound = errors.New("track not found")
	// ErrSearchUnavailable means every metadata source failed.
	ErrSearchUnavailable = errors.New("all search providers failed")
)

// Provider is the interface that metadata search providers implement.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, limit int) ([]CanonicalTrack, error)
}

// ProxyImageURL wraps an external image URL as a query parameter of the
// local /proxy-image endpoint. Pure string transform; the proxy itself
// adds the Cross-Origin-Resource-Policy header the browser needs.
func ProxyImageURL(target string) string {
	return "/proxy-image?url=" + url.QueryEscape(target)
}
