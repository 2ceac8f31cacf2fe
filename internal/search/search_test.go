package search

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tunepipe/internal/logger"
	"tunepipe/internal/metadata"
)

func TestParseCandidates(t *testing.T) {
	out := strings.Join([]string{
		`{"title":"Artist - Song (Official Audio)","uploader":"Artist","duration":215.0,"url":"https://www.youtube.com/watch?v=aaa"}`,
		``,
		`{"title":"Song but every word is a different artist","channel":"Meme Channel","duration":301,"webpage_url":"https://www.youtube.com/watch?v=bbb"}`,
		`not json at all`,
		`{"title":"","url":"https://www.youtube.com/watch?v=ccc"}`,
		`{"title":"No URL Here","duration":100}`,
	}, "\n")

	candidates, err := parseCandidates([]byte(out))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}

	first := candidates[0]
	if first.Title != "Artist - Song (Official Audio)" {
		t.Errorf("title = %q", first.Title)
	}
	if first.Uploader != "Artist" {
		t.Errorf("uploader = %q", first.Uploader)
	}
	if first.DurationSeconds != 215 {
		t.Errorf("duration = %v", first.DurationSeconds)
	}
	if first.URL != "https://www.youtube.com/watch?v=aaa" {
		t.Errorf("url = %q", first.URL)
	}

	// Channel substitutes for a missing uploader, webpage_url for a missing url
	second := candidates[1]
	if second.Uploader != "Meme Channel" {
		t.Errorf("uploader fallback = %q", second.Uploader)
	}
	if second.URL != "https://www.youtube.com/watch?v=bbb" {
		t.Errorf("url fallback = %q", second.URL)
	}
}

func TestParseCandidatesEmpty(t *testing.T) {
	candidates, err := parseCandidates(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candidates) != 0 {
		t.Errorf("expected no candidates, got %d", len(candidates))
	}
}

func TestNewDefaultBinary(t *testing.T) {
	s := New("", nil)
	if s.Binary != "yt-dlp" {
		t.Errorf("binary = %q, want yt-dlp", s.Binary)
	}
	if s.Timeout != defaultSearchTimeout {
		t.Errorf("timeout = %v, want %v", s.Timeout, defaultSearchTimeout)
	}
}

func TestSearchTimeout(t *testing.T) {
	script := filepath.Join(t.TempDir(), "yt-dlp")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nsleep 5\n"), 0755); err != nil {
		t.Fatal(err)
	}

	s := New(script, logger.New(false))
	s.Timeout = 100 * time.Millisecond

	track := metadata.CanonicalTrack{Title: "Song", Artists: []string{"Artist"}}

	start := time.Now()
	_, err := s.Search(context.Background(), track, 5)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(err.Error(), "cancelled or timed out") {
		t.Errorf("error = %v, want timeout classification", err)
	}
	if elapsed > 2*time.Second {
		t.Errorf("search ran %v, deadline not enforced", elapsed)
	}
}
