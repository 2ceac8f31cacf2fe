package pipeline

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tunepipe/internal/extract"
	"tunepipe/internal/fastpath"
	"tunepipe/internal/logger"
	"tunepipe/internal/metadata"
	"tunepipe/internal/rank"
	"tunepipe/internal/search"
)

// stubLookup is a canned primary provider for pipeline tests.
type stubLookup struct {
	track metadata.CanonicalTrack
	err   error
}

func (s *stubLookup) Name() string { return "stub" }

func (s *stubLookup) Search(ctx context.Context, query string, limit int) ([]metadata.CanonicalTrack, error) {
	return nil, nil
}

func (s *stubLookup) Track(ctx context.Context, id string) (metadata.CanonicalTrack, error) {
	return s.track, s.err
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "yt-dlp")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

// downloadScript creates the file named by the -o template, standing in
// for a successful yt-dlp run. It also answers metadata probes.
const downloadScript = `
for a in "$@"; do
  if [ "$a" = "--skip-download" ]; then
    echo '{"title":"Channel Upload"}'
    exit 0
  fi
done
out=""
prev=""
for a in "$@"; do
  if [ "$prev" = "-o" ]; then out="$a"; fi
  prev="$a"
done
out=$(printf '%s' "$out" | sed 's/%(ext)s/mp3/')
printf 'audio-bytes' > "$out"
`

const blockedScript = `
for a in "$@"; do
  if [ "$a" = "--skip-download" ]; then
    echo '{"title":"Channel Upload"}'
    exit 0
  fi
done
echo "ERROR: Sign in to confirm you're not a bot" >&2
exit 1
`

func newTestPipeline(t *testing.T, primary metadata.Lookup, fastURL, searchScript, dlScript string) (*Pipeline, string) {
	t.Helper()
	log := logger.New(false)
	scratch := t.TempDir()

	executor, err := extract.New(dlScript, scratch, time.Minute, log)
	if err != nil {
		t.Fatal(err)
	}

	resolver := metadata.NewResolver(primary, &stubLookup{}, log)
	p := New(resolver, fastpath.New(fastURL, log), search.New(searchScript, log),
		rank.New(0), executor, 10, log)
	return p, scratch
}

// assertScratchEmpty fails if any job-prefixed scratch file survived.
func assertScratchEmpty(t *testing.T, scratch string) {
	t.Helper()
	entries, err := os.ReadDir(scratch)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			t.Errorf("scratch file survived: %s", e.Name())
		}
	}
}

func TestRunFreeTextRejected(t *testing.T) {
	p, _ := newTestPipeline(t, nil, "", writeScript(t, "exit 0"), writeScript(t, "exit 0"))

	_, err := p.Run(context.Background(), "the weeknd blinding lights", nil)
	perr := Coerce(err)
	if perr.Kind != KindInvalidReference {
		t.Fatalf("kind = %q, want %q", perr.Kind, KindInvalidReference)
	}
}

func TestRunFullResolution(t *testing.T) {
	primary := &stubLookup{track: metadata.CanonicalTrack{
		ID:              "0VjIjW4GlUZAMYd2vXMi3b",
		Title:           "Blinding Lights",
		Artists:         []string{"The Weeknd"},
		DurationSeconds: 200,
	}}
	searchScript := writeScript(t, `cat <<'EOF'
{"title":"The Weeknd - Blinding Lights (Official Audio)","uploader":"The Weeknd","duration":201,"url":"https://www.youtube.com/watch?v=abc"}
EOF
`)

	p, scratch := newTestPipeline(t, primary, "", searchScript, writeScript(t, downloadScript))

	var stages []string
	result, err := p.Run(context.Background(),
		"https://open.spotify.com/track/0VjIjW4GlUZAMYd2vXMi3b",
		func(stage string) { stages = append(stages, stage) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	body, err := io.ReadAll(result.Body)
	if err != nil {
		t.Fatalf("reading result: %v", err)
	}
	if string(body) != "audio-bytes" {
		t.Errorf("body = %q", body)
	}
	if result.Filename != "The Weeknd - Blinding Lights.mp3" {
		t.Errorf("filename = %q", result.Filename)
	}
	if result.ContentType != "audio/mpeg" {
		t.Errorf("content type = %q", result.ContentType)
	}

	// No fast path endpoint configured: the run goes straight through
	// search and rank without a fast_path stage.
	want := []string{StageResolving, StageSearching, StageRanking, StageExtracting, StageStreaming}
	if strings.Join(stages, ",") != strings.Join(want, ",") {
		t.Errorf("stages = %v, want %v", stages, want)
	}

	result.Close()
	assertScratchEmpty(t, scratch)
}

func TestRunNoSearchResults(t *testing.T) {
	primary := &stubLookup{track: metadata.CanonicalTrack{
		Title: "Blinding Lights", Artists: []string{"The Weeknd"}, DurationSeconds: 200,
	}}

	p, _ := newTestPipeline(t, primary, "", writeScript(t, "exit 0"), writeScript(t, downloadScript))

	_, err := p.Run(context.Background(), "https://open.spotify.com/track/abc", nil)
	perr := Coerce(err)
	if perr.Kind != KindNoCleanMatch {
		t.Fatalf("kind = %q, want %q", perr.Kind, KindNoCleanMatch)
	}
	if !strings.Contains(perr.Detail, "no results") {
		t.Errorf("detail = %q, want the empty-search message", perr.Detail)
	}
}

func TestRunOnlyLowQualityMatches(t *testing.T) {
	primary := &stubLookup{track: metadata.CanonicalTrack{
		Title: "Blinding Lights", Artists: []string{"The Weeknd"}, DurationSeconds: 200,
	}}
	searchScript := writeScript(t, `cat <<'EOF'
{"title":"Blinding Lights (Remix)","uploader":"someone","duration":200,"url":"https://www.youtube.com/watch?v=bad"}
EOF
`)

	p, _ := newTestPipeline(t, primary, "", searchScript, writeScript(t, downloadScript))

	_, err := p.Run(context.Background(), "https://open.spotify.com/track/abc", nil)
	perr := Coerce(err)
	if perr.Kind != KindNoCleanMatch {
		t.Fatalf("kind = %q, want %q", perr.Kind, KindNoCleanMatch)
	}
	// Distinct wording from the empty-search case
	if !strings.Contains(perr.Detail, "low-quality") {
		t.Errorf("detail = %q, want the low-quality message", perr.Detail)
	}
}

func TestRunResolveFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
	}{
		{"auth", metadata.ErrAuth, KindAuth},
		{"not found", metadata.ErrNotFound, KindMetadataNotFound},
		{"other", errors.New("upstream 500"), KindSearchUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary := &stubLookup{err: tt.err}
			p, _ := newTestPipeline(t, primary, "", writeScript(t, "exit 0"), writeScript(t, "exit 0"))

			_, err := p.Run(context.Background(), "https://open.spotify.com/track/abc", nil)
			perr := Coerce(err)
			if perr.Kind != tt.kind {
				t.Errorf("kind = %q, want %q", perr.Kind, tt.kind)
			}
		})
	}
}

func TestRunUpstreamBlocked(t *testing.T) {
	p, scratch := newTestPipeline(t, nil, "", writeScript(t, "exit 0"), writeScript(t, blockedScript))

	_, err := p.Run(context.Background(), "https://www.youtube.com/watch?v=abc", nil)
	perr := Coerce(err)
	if perr.Kind != KindUpstreamBlocked {
		t.Fatalf("kind = %q, want %q", perr.Kind, KindUpstreamBlocked)
	}
	if !errors.Is(err, extract.ErrUpstreamBlocked) {
		t.Error("sentinel lost in wrapping")
	}

	// Failed extraction leaves no scratch files behind
	assertScratchEmpty(t, scratch)
}

func TestRunDirectLink(t *testing.T) {
	p, scratch := newTestPipeline(t, nil, "", writeScript(t, "exit 0"), writeScript(t, downloadScript))

	var stages []string
	result, err := p.Run(context.Background(), "https://soundcloud.com/artist/track",
		func(stage string) { stages = append(stages, stage) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Title comes from the metadata probe, not search/rank
	if result.Filename != "Channel Upload.mp3" {
		t.Errorf("filename = %q", result.Filename)
	}
	for _, stage := range stages {
		if stage == StageSearching || stage == StageRanking {
			t.Errorf("direct link went through %s", stage)
		}
	}

	result.Close()
	assertScratchEmpty(t, scratch)
}

func TestRunFastPathStreamFailureFallsBack(t *testing.T) {
	// The extraction service answers, but its stream URL is dead.
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close()

	fastSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"tunnel","url":"` + dead.URL + `"}`))
	}))
	defer fastSrv.Close()

	p, scratch := newTestPipeline(t, nil, fastSrv.URL, writeScript(t, "exit 0"), writeScript(t, downloadScript))

	var stages []string
	result, err := p.Run(context.Background(), "https://youtu.be/abc",
		func(stage string) { stages = append(stages, stage) })
	if err != nil {
		t.Fatalf("fast path failure must fall through, got: %v", err)
	}

	body, _ := io.ReadAll(result.Body)
	if string(body) != "audio-bytes" {
		t.Errorf("body = %q", body)
	}

	joined := strings.Join(stages, ",")
	if !strings.Contains(joined, StageFastPath) {
		t.Errorf("stages %v missing %s", stages, StageFastPath)
	}
	if !strings.Contains(joined, StageExtracting) {
		t.Errorf("stages %v missing %s, fallback did not run", stages, StageExtracting)
	}

	result.Close()
	assertScratchEmpty(t, scratch)
}

func TestStreamFastPathRelayOutlivesHeaderTimeout(t *testing.T) {
	chunk := strings.Repeat("x", 1024)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fl := w.(http.Flusher)
		for i := 0; i < 4; i++ {
			io.WriteString(w, chunk)
			fl.Flush()
			time.Sleep(60 * time.Millisecond)
		}
	}))
	defer upstream.Close()

	p, _ := newTestPipeline(t, nil, "", writeScript(t, "exit 0"), writeScript(t, "exit 0"))
	// Same shape as the production client, scaled down: the body relay
	// takes several times the header timeout and must still complete.
	p.streamClient = &http.Client{
		Transport: &http.Transport{ResponseHeaderTimeout: 100 * time.Millisecond},
	}

	result, err := p.streamFastPath(context.Background(), upstream.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer result.Close()

	body, err := io.ReadAll(result.Body)
	if err != nil {
		t.Fatalf("relay truncated: %v", err)
	}
	if len(body) != 4*len(chunk) {
		t.Errorf("relayed %d bytes, want %d", len(body), 4*len(chunk))
	}
}

func TestStreamFastPathHeaderTimeout(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(400 * time.Millisecond)
	}))
	defer upstream.Close()

	p, _ := newTestPipeline(t, nil, "", writeScript(t, "exit 0"), writeScript(t, "exit 0"))
	p.streamClient = &http.Client{
		Transport: &http.Transport{ResponseHeaderTimeout: 100 * time.Millisecond},
	}

	if _, err := p.streamFastPath(context.Background(), upstream.URL); err == nil {
		t.Fatal("expected error when headers never arrive in time")
	}
}

func TestStreamFastPathNon200(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusInternalServerError)
	}))
	defer upstream.Close()

	p, _ := newTestPipeline(t, nil, "", writeScript(t, "exit 0"), writeScript(t, "exit 0"))
	if _, err := p.streamFastPath(context.Background(), upstream.URL); err == nil {
		t.Fatal("expected error for non-200 stream response")
	}
}

func TestStreamClientUnbounded(t *testing.T) {
	p, _ := newTestPipeline(t, nil, "", writeScript(t, "exit 0"), writeScript(t, "exit 0"))

	if p.streamClient.Timeout != 0 {
		t.Errorf("stream client overall timeout = %v, must be unset", p.streamClient.Timeout)
	}
	tr, ok := p.streamClient.Transport.(*http.Transport)
	if !ok || tr.ResponseHeaderTimeout != streamFetchTimeout {
		t.Errorf("header timeout not bounded to %v", streamFetchTimeout)
	}
}
