package metadata

import (
	"fmt"
	"strings"

	"go.senan.xyz/taglib"
)

// WriteTags writes canonical track metadata to an audio file.
func WriteTags(path string, track CanonicalTrack) error {
	tags := make(map[string][]string)

	if track.Title != "" {
		tags[taglib.Title] = []string{track.Title}
	}
	if len(track.Artists) > 0 {
		tags[taglib.Artist] = []string{strings.Join(track.Artists, ", ")}
		tags[taglib.AlbumArtist] = []string{track.Artists[0]}
	}
	if track.Album != "" {
		tags[taglib.Album] = []string{track.Album}
	}

	if err := taglib.WriteTags(path, tags, 0); err != nil {
		return fmt.Errorf("failed to write tags to %s: %w", path, err)
	}
	return nil
}

// WriteArtwork embeds artwork image data into an audio file.
func WriteArtwork(path string, imageData []byte) error {
	if len(imageData) == 0 {
		return nil
	}
	if err := taglib.WriteImage(path, imageData); err != nil {
		return fmt.Errorf("failed to write artwork to %s: %w", path, err)
	}
	return nil
}
