// Package search locates audio candidates for a canonical track by
// querying YouTube through yt-dlp's flat search listing. Flat mode
// returns per-item title, uploader, duration and URL without fetching
// full media metadata, which keeps a ten-result search to one request.
package search

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"tunepipe/internal/logger"
	"tunepipe/internal/metadata"
)

const defaultSearchTimeout = 30 * time.Second

// Candidate is one raw search result. Ephemeral: it exists only for the
// duration of ranking.
type Candidate struct {
	Title           string
	Uploader        string
	DurationSeconds float64
	URL             string
}

// Searcher runs candidate searches with an external yt-dlp binary.
// Timeout bounds each search subprocess; a hung search must not hold the
// request until the client gives up.
type Searcher struct {
	Binary  string
	Timeout time.Duration
	logger  *logger.Logger
}

// New creates a Searcher using the given yt-dlp binary name or path.
func New(binary string, log *logger.Logger) *Searcher {
	if binary == "" {
		binary = "yt-dlp"
	}
	return &Searcher{Binary: binary, Timeout: defaultSearchTimeout, logger: log}
}

// Search returns up to n candidates for the canonical track's
// "<artist> - <title>" query. A provider that yields zero results
// produces an empty slice, not an error.
func (s *Searcher) Search(ctx context.Context, track metadata.CanonicalTrack, n int) ([]Candidate, error) {
	if n < 1 {
		n = 10
	}
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	query := track.DisplayName()

	cmd := exec.CommandContext(ctx, s.Binary,
		fmt.Sprintf("ytsearch%d:%s", n, query),
		"--flat-playlist",
		"--dump-json",
		"--no-warnings",
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("candidate search cancelled or timed out")
		}
		return nil, fmt.Errorf("candidate search failed: %w\nDetails: %s", err, strings.TrimSpace(stderr.String()))
	}

	candidates, err := parseCandidates(stdout.Bytes())
	if err != nil {
		return nil, err
	}

	s.logger.Debug("search %q returned %d candidates", query, len(candidates))
	return candidates, nil
}

// parseCandidates decodes the newline-delimited JSON emitted by flat
// listing mode, skipping entries without a usable playback URL.
func parseCandidates(out []byte) ([]Candidate, error) {
	var candidates []Candidate

	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var entry flatEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			// One malformed line shouldn't sink the whole batch
			continue
		}

		playbackURL := entry.URL
		if playbackURL == "" {
			playbackURL = entry.WebpageURL
		}
		if playbackURL == "" || entry.Title == "" {
			continue
		}

		uploader := entry.Uploader
		if uploader == "" {
			uploader = entry.Channel
		}

		candidates = append(candidates, Candidate{
			Title:           entry.Title,
			Uploader:        uploader,
			DurationSeconds: entry.Duration,
			URL:             playbackURL,
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading search output: %w", err)
	}

	return candidates, nil
}

// flat listing entry as emitted by yt-dlp --flat-playlist --dump-json

type flatEntry struct {
	Title      string  `json:"title"`
	Uploader   string  `json:"uploader"`
	Channel    string  `json:"channel"`
	Duration   float64 `json:"duration"`
	URL        string  `json:"url"`
	WebpageURL string  `json:"webpage_url"`
}
