// Package spotify implements the primary metadata provider: an
// authenticated Spotify Web API client with a process-wide credential
// cache. Spotify playback itself is DRM-restricted, so this client only
// ever supplies metadata; audio comes from elsewhere.
package spotify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"tunepipe/internal/cache"
	"tunepipe/internal/metadata"
)

const trackCacheTTL = 24 * time.Hour

// Client is a Spotify Web API client implementing metadata.Lookup.
type Client struct {
	clientID     string
	clientSecret string
	httpClient   *http.Client
	store        *cache.Store // may be nil

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time

	// Overridable for testing
	tokenURL string
	apiURL   string
}

// New creates a new Spotify client. store may be nil to disable track
// response caching.
func New(clientID, clientSecret string, store *cache.Store) *Client {
	return &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		store:        store,
		tokenURL:     "https://accounts.spotify.com/api/token",
		apiURL:       "https://api.spotify.com/v1",
	}
}

func (c *Client) Name() string { return "spotify" }

// Track fetches canonical metadata for a single track id.
func (c *Client) Track(ctx context.Context, id string) (metadata.CanonicalTrack, error) {
	cacheKey := "spotify:track:" + id
	if c.store != nil {
		if data, ok := c.store.Get(ctx, cacheKey); ok {
			var item trackItem
			if err := json.Unmarshal(data, &item); err == nil {
				return parseTrack(item), nil
			}
		}
	}

	token, err := c.getToken(ctx)
	if err != nil {
		return metadata.CanonicalTrack{}, err
	}

	reqURL := fmt.Sprintf("%s/tracks/%s", c.apiURL, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return metadata.CanonicalTrack{}, fmt.Errorf("failed to create track request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.doWithRetry(req)
	if err != nil {
		return metadata.CanonicalTrack{}, fmt.Errorf("spotify track request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return metadata.CanonicalTrack{}, fmt.Errorf("%w: spotify id %s", metadata.ErrNotFound, id)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return metadata.CanonicalTrack{}, fmt.Errorf("spotify track returned %d: %s", resp.StatusCode, body)
	}

	var item trackItem
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return metadata.CanonicalTrack{}, fmt.Errorf("failed to decode spotify track: %w", err)
	}
	if item.Name == "" {
		return metadata.CanonicalTrack{}, fmt.Errorf("spotify track %s missing name field", id)
	}

	if c.store != nil {
		if data, err := json.Marshal(item); err == nil {
			c.store.Set(ctx, cacheKey, data, trackCacheTTL)
		}
	}

	return parseTrack(item), nil
}

// Search queries the Spotify search API and returns matching tracks.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]metadata.CanonicalTrack, error) {
	if query == "" {
		return nil, nil
	}
	if limit < 1 {
		limit = 20
	}

	token, err := c.getToken(ctx)
	if err != nil {
		return nil, err
	}

	reqURL := fmt.Sprintf("%s/search?type=track&market=US&limit=%d&q=%s", c.apiURL, limit, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.doWithRetry(req)
	if err != nil {
		return nil, fmt.Errorf("spotify search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("spotify search returned %d: %s", resp.StatusCode, body)
	}

	var searchResp searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("failed to decode spotify response: %w", err)
	}

	results := make([]metadata.CanonicalTrack, 0, len(searchResp.Tracks.Items))
	for _, item := range searchResp.Tracks.Items {
		results = append(results, parseTrack(item))
	}
	return results, nil
}

// getToken returns a valid access token, refreshing if necessary.
// The mutex makes refresh single-writer: concurrent callers wait for the
// in-flight exchange instead of racing their own.
func (c *Client) getToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	if c.clientID == "" || c.clientSecret == "" {
		return "", fmt.Errorf("%w: client credentials not configured", metadata.ErrAuth)
	}

	data := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: failed to create token request: %v", metadata.ErrAuth, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.clientID, c.clientSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: token request failed: %v", metadata.ErrAuth, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("%w: token request returned %d: %s", metadata.ErrAuth, resp.StatusCode, body)
	}

	var tokenResp tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("%w: failed to decode token response: %v", metadata.ErrAuth, err)
	}

	c.accessToken = tokenResp.AccessToken
	// Refresh a bit early to avoid edge-case expiry
	c.tokenExpiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn-60) * time.Second)

	return c.accessToken, nil
}

// doWithRetry executes the request, retrying once on 429.
func (c *Client) doWithRetry(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		resp.Body.Close()
		retryAfter := 1
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if parsed, err := strconv.Atoi(ra); err == nil {
				retryAfter = parsed
			}
		}
		time.Sleep(time.Duration(retryAfter) * time.Second)

		retry := req.Clone(req.Context())
		return c.httpClient.Do(retry)
	}

	return resp, nil
}

func parseTrack(item trackItem) metadata.CanonicalTrack {
	var artists []string
	for _, a := range item.Artists {
		artists = append(artists, a.Name)
	}

	var artworkURL string
	if len(item.Album.Images) > 0 {
		artworkURL = item.Album.Images[0].URL
	}

	return metadata.CanonicalTrack{
		ID:              item.ID,
		Title:           item.Name,
		Artists:         artists,
		Album:           item.Album.Name,
		DurationSeconds: float64(item.DurationMs) / 1000,
		ArtworkURL:      artworkURL,
		PreviewURL:      item.PreviewURL,
		ExternalURL:     item.ExternalURLs.Spotify,
	}
}

// Spotify API response types

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type searchResponse struct {
	Tracks struct {
		Items []trackItem `json:"items"`
	} `json:"tracks"`
}

type trackItem struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Artists      []artist    `json:"artists"`
	Album        albumInfo   `json:"album"`
	DurationMs   int         `json:"duration_ms"`
	PreviewURL   string      `json:"preview_url"`
	ExternalURLs externalURL `json:"external_urls"`
}

type artist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type albumInfo struct {
	Name   string  `json:"name"`
	Images []image `json:"images"`
}

type image struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type externalURL struct {
	Spotify string `json:"spotify"`
}
