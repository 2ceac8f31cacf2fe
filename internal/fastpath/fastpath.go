// Package fastpath implements a best-effort shortcut around the full
// search pipeline: a single POST to a self-hosted extraction service
// that may hand back a direct, time-limited stream URL. YouTube blocks
// many hosting providers' network origins, so this is tried first for
// YouTube links and silently abandoned on any failure.
package fastpath

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"tunepipe/internal/logger"
	"tunepipe/internal/metadata"
)

const probeTimeout = 10 * time.Second

// Hosts eligible for the fast path. All are YouTube frontends.
var eligibleHosts = []string{"youtube.com", "youtu.be", "music.youtube.com"}

// Extractor is a client for a cobalt-style extraction endpoint.
// A zero endpoint disables it entirely.
type Extractor struct {
	endpoint   string
	httpClient *http.Client
	logger     *logger.Logger

	// Overridable for testing
	oembedURL string
}

// New creates an Extractor. endpoint may be empty to disable the fast path.
func New(endpoint string, log *logger.Logger) *Extractor {
	return &Extractor{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: probeTimeout},
		logger:     log,
		oembedURL:  "https://www.youtube.com/oembed",
	}
}

// Eligible reports whether the reference can use the fast path at all:
// the endpoint must be configured and the link must belong to an
// eligible host. No network call is made.
func (e *Extractor) Eligible(ref metadata.TrackReference) bool {
	if e.endpoint == "" || ref.Kind != metadata.RefDirectLink {
		return false
	}
	for _, h := range eligibleHosts {
		if ref.HostMatches(h) {
			return true
		}
	}
	return false
}

// TryExtract asks the extraction service for a direct stream URL.
// Strictly best-effort: every failure mode (transport error, timeout,
// error/picker status, empty URL) degrades to ok=false and is only logged.
func (e *Extractor) TryExtract(ctx context.Context, ref metadata.TrackReference) (string, bool) {
	if !e.Eligible(ref) {
		return "", false
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	payload, err := json.Marshal(extractRequest{
		URL:          ref.Raw,
		AudioFormat:  "mp3",
		DownloadMode: "audio",
	})
	if err != nil {
		return "", false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", false
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		e.logger.Debug("fast path request failed: %v", err)
		return "", false
	}
	defer resp.Body.Close()

	var result extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		e.logger.Debug("fast path returned unparseable body: %v", err)
		return "", false
	}

	switch result.Status {
	case "redirect", "stream", "tunnel":
		if result.URL == "" {
			e.logger.Debug("fast path status %q with empty url", result.Status)
			return "", false
		}
		e.logger.Debug("fast path hit: status=%s", result.Status)
		return result.URL, true
	default:
		// "error", "picker", or anything unexpected
		e.logger.Debug("fast path declined: status=%q", result.Status)
		return "", false
	}
}

// DisplayTitle fetches a human-readable title for a fast-path link via
// an oEmbed lookup. Failures are swallowed; callers fall back to a
// generic title.
func (e *Extractor) DisplayTitle(ctx context.Context, rawURL string) string {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	reqURL := e.oembedURL + "?format=json&url=" + url.QueryEscape(rawURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return ""
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ""
	}

	var body struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return ""
	}
	return body.Title
}

// Extraction service wire types

type extractRequest struct {
	URL          string `json:"url"`
	AudioFormat  string `json:"audioFormat,omitempty"`
	DownloadMode string `json:"downloadMode,omitempty"`
}

type extractResponse struct {
	Status string `json:"status"`
	URL    string `json:"url"`
}
