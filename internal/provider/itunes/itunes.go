// Package itunes implements the unauthenticated secondary provider used
// when Spotify credentials are missing or the Spotify call fails.
package itunes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tunepipe/internal/metadata"
)

// Client is an iTunes Search API client that implements metadata.Provider.
type Client struct {
	httpClient *http.Client
	apiURL     string
}

// New creates a new iTunes client.
func New() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		apiURL:     "https://itunes.apple.com/search",
	}
}

func (c *Client) Name() string { return "itunes" }

// Search queries the iTunes Search API and returns approximate matches
// mapped into the canonical shape. Artwork URLs are rewritten through the
// local image proxy so COEP-restricted callers can load them.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]metadata.CanonicalTrack, error) {
	items, err := c.search(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	results := make([]metadata.CanonicalTrack, 0, len(items))
	for _, item := range items {
		results = append(results, parseResult(item))
	}
	return results, nil
}

// FindPreview searches for a short audio preview URL for the given
// artist and track. Returns "" when no result carries a preview.
func (c *Client) FindPreview(ctx context.Context, artistName, trackName string) (string, error) {
	items, err := c.search(ctx, artistName+" "+trackName, 5)
	if err != nil {
		return "", err
	}

	for _, item := range items {
		if item.PreviewURL != "" {
			return item.PreviewURL, nil
		}
	}
	return "", nil
}

func (c *Client) search(ctx context.Context, term string, limit int) ([]resultItem, error) {
	if term == "" {
		return nil, nil
	}
	if limit < 1 {
		limit = 20
	}

	params := url.Values{}
	params.Set("term", term)
	params.Set("media", "music")
	params.Set("entity", "song")
	params.Set("limit", fmt.Sprintf("%d", limit))

	reqURL := fmt.Sprintf("%s?%s", c.apiURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create itunes request: %w", err)
	}
	req.Header.Set("User-Agent", "tunepipe/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("itunes search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("itunes search returned %d: %s", resp.StatusCode, body)
	}

	var searchResp searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("failed to decode itunes response: %w", err)
	}

	return searchResp.Results, nil
}

func parseResult(item resultItem) metadata.CanonicalTrack {
	artworkURL := item.ArtworkURL100
	if artworkURL != "" {
		// Upgrade to 600x600 artwork, then route through the image proxy
		artworkURL = strings.Replace(artworkURL, "100x100", "600x600", 1)
		artworkURL = metadata.ProxyImageURL(artworkURL)
	}

	return metadata.CanonicalTrack{
		ID:              fmt.Sprintf("itunes-%d", item.TrackID),
		Title:           item.TrackName,
		Artists:         []string{item.ArtistName},
		Album:           item.CollectionName,
		DurationSeconds: float64(item.TrackTimeMillis) / 1000,
		ArtworkURL:      artworkURL,
		PreviewURL:      item.PreviewURL,
		ExternalURL:     item.TrackViewURL,
	}
}

// iTunes Search API response types

type searchResponse struct {
	ResultCount int          `json:"resultCount"`
	Results     []resultItem `json:"results"`
}

type resultItem struct {
	TrackID         int    `json:"trackId"`
	TrackName       string `json:"trackName"`
	ArtistName      string `json:"artistName"`
	CollectionName  string `json:"collectionName"`
	TrackTimeMillis int    `json:"trackTimeMillis"`
	ArtworkURL100   string `json:"artworkUrl100"`
	PreviewURL      string `json:"previewUrl"`
	TrackViewURL    string `json:"trackViewUrl"`
}
