package metadata

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
)

// RefKind classifies a parsed track reference.
type RefKind int

const (
	// RefQuery is raw free text to search providers with.
	RefQuery RefKind = iota
	// RefSpotifyTrack is a Spotify track link or URI. Spotify playback is
	// DRM-restricted, so these go through the search-and-rank pipeline.
	RefSpotifyTrack
	// RefDirectLink is any other http(s) link, extractable as-is.
	RefDirectLink
)

// TrackReference is a parsed user-supplied music reference.
// Immutable once parsed.
type TrackReference struct {
	Raw     string
	Kind    RefKind
	TrackID string // Spotify track id, only for RefSpotifyTrack
	Host    string // lowercased hostname, only for RefDirectLink
}

// ErrInvalidReference means the input could not be parsed into a usable
// reference (e.g. a Spotify link without an extractable track id).
var ErrInvalidReference = errors.New("invalid track reference")

var spotifyTrackPattern = regexp.MustCompile(`(?:track/|spotify:track:)([A-Za-z0-9]+)`)

// ParseReference classifies raw input as a Spotify track, a direct link,
// or a free-text query.
func ParseReference(raw string) (TrackReference, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return TrackReference{}, errors.New("empty reference")
	}

	if strings.Contains(raw, "spotify.com") || strings.HasPrefix(raw, "spotify:") {
		m := spotifyTrackPattern.FindStringSubmatch(raw)
		if m == nil {
			return TrackReference{}, ErrInvalidReference
		}
		return TrackReference{Raw: raw, Kind: RefSpotifyTrack, TrackID: m[1]}, nil
	}

	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return TrackReference{}, ErrInvalidReference
		}
		return TrackReference{Raw: raw, Kind: RefDirectLink, Host: strings.ToLower(u.Hostname())}, nil
	}

	return TrackReference{Raw: raw, Kind: RefQuery}, nil
}

// HostMatches reports whether the reference's host equals the given domain
// or is a subdomain of it. Always false for non-link references.
func (r TrackReference) HostMatches(domain string) bool {
	if r.Host == "" {
		return false
	}
	return r.Host == domain || strings.HasSuffix(r.Host, "."+domain)
}
