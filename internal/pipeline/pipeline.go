// Package pipeline sequences the full audio resolution flow: reference
// parsing, optional fast path, metadata resolution, candidate search
// and ranking, extraction, and stream preparation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"tunepipe/internal/extract"
	"tunepipe/internal/fastpath"
	"tunepipe/internal/logger"
	"tunepipe/internal/metadata"
	"tunepipe/internal/rank"
	"tunepipe/internal/search"
	"tunepipe/pkg/utils"
)

// streamFetchTimeout bounds the wait for fast-path response headers.
// The body relay itself is bounded only by the caller's context: audio
// transfers routinely outlive any fixed cap.
const streamFetchTimeout = 30 * time.Second

// Stages reported through the progress callback.
const (
	StageResolving  = "resolving"
	StageFastPath   = "fast_path"
	StageSearching  = "searching"
	StageRanking    = "ranking"
	StageExtracting = "extracting"
	StageStreaming  = "streaming"
)

// Progress receives stage transitions. May be nil.
type Progress func(stage string)

// Result is a ready-to-stream download. Close releases the underlying
// body and removes any scratch files; it must be called on every path.
type Result struct {
	Title       string
	Filename    string
	ContentType string
	Body        io.ReadCloser
	cleanup     func()
}

// Close closes the stream and runs scratch cleanup.
func (r *Result) Close() {
	if r.Body != nil {
		r.Body.Close()
	}
	if r.cleanup != nil {
		r.cleanup()
	}
}

// Pipeline wires the resolution components together.
type Pipeline struct {
	resolver    *metadata.Resolver
	fastPath    *fastpath.Extractor
	searcher    *search.Searcher
	ranker      *rank.Ranker
	executor    *extract.Executor
	logger      *logger.Logger
	searchLimit int

	// Client for artwork fetches; bounded end to end.
	httpClient *http.Client

	// Client for fast-path body relays. Deliberately no overall timeout:
	// only the time to response headers is capped, so a long transfer is
	// never cut off mid-body after the status line has been sent.
	// Overridable for testing.
	streamClient *http.Client
}

// New creates a Pipeline.
func New(resolver *metadata.Resolver, fp *fastpath.Extractor, searcher *search.Searcher,
	ranker *rank.Ranker, executor *extract.Executor, searchLimit int, log *logger.Logger) *Pipeline {
	if searchLimit < 1 {
		searchLimit = 10
	}
	return &Pipeline{
		resolver:    resolver,
		fastPath:    fp,
		searcher:    searcher,
		ranker:      ranker,
		executor:    executor,
		logger:      log,
		searchLimit: searchLimit,
		httpClient:  &http.Client{Timeout: streamFetchTimeout},
		streamClient: &http.Client{
			Transport: &http.Transport{ResponseHeaderTimeout: streamFetchTimeout},
		},
	}
}

// Run resolves rawURL into a streamable audio result. On failure the
// returned error is always a categorized *Error.
func (p *Pipeline) Run(ctx context.Context, rawURL string, progress Progress) (*Result, error) {
	report := func(stage string) {
		if progress != nil {
			progress(stage)
		}
	}

	report(StageResolving)
	ref, err := metadata.ParseReference(rawURL)
	if err != nil || ref.Kind == metadata.RefQuery {
		return nil, failed(KindInvalidReference, err, "not a downloadable link: %q", rawURL)
	}

	// Fast path: best effort, silent on failure.
	if p.fastPath.Eligible(ref) {
		report(StageFastPath)
		if locator, ok := p.fastPath.TryExtract(ctx, ref); ok {
			result, err := p.streamFastPath(ctx, locator)
			if err == nil {
				title := p.fastPath.DisplayTitle(ctx, ref.Raw)
				if title == "" {
					title = "audio"
				}
				result.Title = title
				result.Filename = utils.SanitizeFilename(title) + ".mp3"
				report(StageStreaming)
				return result, nil
			}
			p.logger.Warn("fast path stream failed, using full pipeline: %v", err)
		}
	}

	var (
		target    string
		title     string
		canonical *metadata.CanonicalTrack
	)

	switch ref.Kind {
	case metadata.RefSpotifyTrack:
		// Spotify playback is DRM-restricted: resolve canonical
		// metadata, then find the audio elsewhere.
		track, candidate, err := p.searchAndRank(ctx, ref, report)
		if err != nil {
			return nil, err
		}
		canonical = &track
		title = track.DisplayName()
		target = candidate.URL

	default:
		// Directly extractable link: the reference itself is the
		// target, probe only for a display title.
		title = p.probeTitle(ctx, ref.Raw)
		target = ref.Raw
	}

	report(StageExtracting)
	job, err := p.executor.Download(ctx, target)
	if err != nil {
		job.Cleanup()
		if errors.Is(err, extract.ErrUpstreamBlocked) {
			return nil, failed(KindUpstreamBlocked, err,
				"the source is blocking this server; use a different provider's link")
		}
		return nil, failed(KindExtractionFailed, err, "could not download audio for %q", title)
	}

	if canonical != nil {
		p.tagResult(ctx, job.ResultPath, *canonical)
	}

	file, err := os.Open(job.ResultPath)
	if err != nil {
		job.Cleanup()
		return nil, failed(KindStreamFailed, err, "could not open downloaded audio")
	}

	report(StageStreaming)
	return &Result{
		Title:       title,
		Filename:    utils.SanitizeFilename(title) + ".mp3",
		ContentType: "audio/mpeg",
		Body:        file,
		cleanup:     job.Cleanup,
	}, nil
}

// searchAndRank resolves canonical metadata and picks the best audio
// candidate, or fails with a kind the caller can surface.
func (p *Pipeline) searchAndRank(ctx context.Context, ref metadata.TrackReference, report func(string)) (metadata.CanonicalTrack, search.Candidate, error) {
	track, err := p.resolver.Resolve(ctx, ref)
	if err != nil {
		switch {
		case errors.Is(err, metadata.ErrAuth):
			return metadata.CanonicalTrack{}, search.Candidate{}, failed(KindAuth, err,
				"primary provider credentials missing or invalid; cannot resolve this link")
		case errors.Is(err, metadata.ErrNotFound):
			return metadata.CanonicalTrack{}, search.Candidate{}, failed(KindMetadataNotFound, err,
				"no track found for this link")
		default:
			return metadata.CanonicalTrack{}, search.Candidate{}, failed(KindSearchUnavailable, err,
				"could not fetch track metadata")
		}
	}

	p.logger.Info("resolved %q", track.DisplayName())

	report(StageSearching)
	candidates, err := p.searcher.Search(ctx, track, p.searchLimit)
	if err != nil {
		return track, search.Candidate{}, failed(KindSearchUnavailable, err,
			"candidate search failed for %q", track.DisplayName())
	}
	if len(candidates) == 0 {
		// Distinct from a low-quality batch: nothing came back at all.
		return track, search.Candidate{}, failed(KindNoCleanMatch, nil,
			"no results found for %q", track.DisplayName())
	}

	report(StageRanking)
	best, err := p.ranker.Rank(track, candidates)
	if err != nil {
		return track, search.Candidate{}, failed(KindNoCleanMatch, err,
			"only low-quality matches (live, remix, or wrong length) found for %q", track.DisplayName())
	}

	p.logger.Info("selected candidate %q by %q (score %d)", best.Candidate.Title, best.Candidate.Uploader, best.Score)
	return track, best.Candidate, nil
}

// streamFastPath opens the fast-path locator for direct relay. Only the
// wait for response headers is bounded; once they arrive, the relay runs
// for as long as the caller keeps reading.
func (p *Pipeline) streamFastPath(ctx context.Context, locator string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.streamClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fast path stream returned %d", resp.StatusCode)
	}

	return &Result{
		ContentType: "audio/mpeg",
		Body:        resp.Body,
	}, nil
}

// probeTitle asks the extraction tool for a display title. Failures
// degrade to a generic name rather than sinking the download.
func (p *Pipeline) probeTitle(ctx context.Context, target string) string {
	title, err := p.executor.Probe(ctx, target)
	if err != nil || title == "" {
		p.logger.Warn("title probe failed for %q: %v", target, err)
		return "audio"
	}
	return title
}

// tagResult writes canonical metadata and artwork into the downloaded
// file. Best effort: a tagging failure still delivers the audio.
func (p *Pipeline) tagResult(ctx context.Context, path string, track metadata.CanonicalTrack) {
	if err := metadata.WriteTags(path, track); err != nil {
		p.logger.Warn("failed to tag %s: %v", path, err)
		return
	}

	if track.ArtworkURL == "" {
		return
	}
	data, err := p.fetchArtwork(ctx, track.ArtworkURL)
	if err != nil {
		p.logger.Warn("failed to fetch artwork: %v", err)
		return
	}
	if err := metadata.WriteArtwork(path, data); err != nil {
		p.logger.Warn("failed to embed artwork: %v", err)
	}
}

func (p *Pipeline) fetchArtwork(ctx context.Context, artworkURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, artworkURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("artwork download returned %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
