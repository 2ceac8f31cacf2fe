package metadata

import (
	"errors"
	"testing"
)

func TestParseReference(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		kind    RefKind
		trackID string
		host    string
	}{
		{
			name:    "spotify track url",
			raw:     "https://open.spotify.com/track/0VjIjW4GlUZAMYd2vXMi3b",
			kind:    RefSpotifyTrack,
			trackID: "0VjIjW4GlUZAMYd2vXMi3b",
		},
		{
			name:    "spotify track url with query",
			raw:     "https://open.spotify.com/track/0VjIjW4GlUZAMYd2vXMi3b?si=abc123",
			kind:    RefSpotifyTrack,
			trackID: "0VjIjW4GlUZAMYd2vXMi3b",
		},
		{
			name:    "spotify uri",
			raw:     "spotify:track:0VjIjW4GlUZAMYd2vXMi3b",
			kind:    RefSpotifyTrack,
			trackID: "0VjIjW4GlUZAMYd2vXMi3b",
		},
		{
			name: "soundcloud link",
			raw:  "https://soundcloud.com/artist/some-track",
			kind: RefDirectLink,
			host: "soundcloud.com",
		},
		{
			name: "youtube short link",
			raw:  "https://youtu.be/xVsa7whnDfU",
			kind: RefDirectLink,
			host: "youtu.be",
		},
		{
			name: "free text",
			raw:  "the weeknd blinding lights",
			kind: RefQuery,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := ParseReference(tt.raw)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ref.Kind != tt.kind {
				t.Errorf("kind = %d, want %d", ref.Kind, tt.kind)
			}
			if ref.TrackID != tt.trackID {
				t.Errorf("trackID = %q, want %q", ref.TrackID, tt.trackID)
			}
			if ref.Host != tt.host {
				t.Errorf("host = %q, want %q", ref.Host, tt.host)
			}
		})
	}
}

func TestParseReferenceInvalid(t *testing.T) {
	// A Spotify link without an extractable track id is unusable
	_, err := ParseReference("https://open.spotify.com/playlist/37i9dQZF1DXcBWIGoYBM5M")
	if !errors.Is(err, ErrInvalidReference) {
		t.Errorf("expected ErrInvalidReference, got %v", err)
	}

	if _, err := ParseReference("   "); err == nil {
		t.Error("expected error for blank input")
	}
}

func TestHostMatches(t *testing.T) {
	ref, err := ParseReference("https://music.youtube.com/watch?v=abc")
	if err != nil {
		t.Fatal(err)
	}

	if !ref.HostMatches("youtube.com") {
		t.Error("music.youtube.com should match youtube.com")
	}
	if ref.HostMatches("youtu.be") {
		t.Error("music.youtube.com should not match youtu.be")
	}

	query, _ := ParseReference("some free text")
	if query.HostMatches("youtube.com") {
		t.Error("free text should never match a host")
	}
}

func TestDisplayName(t *testing.T) {
	track := CanonicalTrack{
		Title:   "Blinding Lights",
		Artists: []string{"The Weeknd", "Agnes"},
	}
	if got := track.DisplayName(); got != "The Weeknd, Agnes - Blinding Lights" {
		t.Errorf("DisplayName() = %q", got)
	}

	untitled := CanonicalTrack{Title: "Blinding Lights"}
	if got := untitled.DisplayName(); got != "Blinding Lights" {
		t.Errorf("DisplayName() without artists = %q", got)
	}
}

func TestProxyImageURL(t *testing.T) {
	got := ProxyImageURL("https://example.com/a b.jpg")
	want := "/proxy-image?url=https%3A%2F%2Fexample.com%2Fa+b.jpg"
	if got != want {
		t.Errorf("ProxyImageURL() = %q, want %q", got, want)
	}
}
