package web

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tunepipe/internal/metadata"
	"tunepipe/internal/pipeline"
)

const version = "1.0.0"

// trackJSON is the wire shape for track listings. It mirrors the primary
// provider's layout so fallback results are indistinguishable to clients.
type trackJSON struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Artists      []artistJSON `json:"artists"`
	Album        albumJSON    `json:"album"`
	DurationMs   int          `json:"duration_ms"`
	PreviewURL   string       `json:"preview_url,omitempty"`
	ExternalURLs externalJSON `json:"external_urls"`
}

type artistJSON struct {
	Name string `json:"name"`
}

type albumJSON struct {
	Name   string      `json:"name"`
	Images []imageJSON `json:"images"`
}

type imageJSON struct {
	URL string `json:"url"`
}

type externalJSON struct {
	Spotify string `json:"spotify,omitempty"`
}

type searchResultJSON struct {
	Tracks struct {
		Items []trackJSON `json:"items"`
	} `json:"tracks"`
}

func toTrackJSON(t metadata.CanonicalTrack) trackJSON {
	artists := make([]artistJSON, 0, len(t.Artists))
	for _, a := range t.Artists {
		artists = append(artists, artistJSON{Name: a})
	}

	var images []imageJSON
	if t.ArtworkURL != "" {
		images = []imageJSON{{URL: t.ArtworkURL}}
	}

	return trackJSON{
		ID:           t.ID,
		Name:         t.Title,
		Artists:      artists,
		Album:        albumJSON{Name: t.Album, Images: images},
		DurationMs:   int(t.DurationSeconds * 1000),
		PreviewURL:   t.PreviewURL,
		ExternalURLs: externalJSON{Spotify: t.ExternalURL},
	}
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}

	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing q parameter")
		return
	}

	if t := r.URL.Query().Get("type"); t != "" && t != "track" {
		writeError(w, http.StatusBadRequest, "invalid_request", "only type=track is supported")
		return
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 50 {
			limit = parsed
		}
	}

	tracks, err := s.resolver.SearchTracks(r.Context(), q, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search_failed", "could not search any metadata provider")
		return
	}

	var resp searchResultJSON
	resp.Tracks.Items = make([]trackJSON, 0, len(tracks))
	for _, t := range tracks {
		resp.Tracks.Items = append(resp.Tracks.Items, toTrackJSON(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/track/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "invalid_request", "track id required")
		return
	}

	track, err := s.resolver.Resolve(r.Context(), metadata.TrackReference{
		Raw:     id,
		Kind:    metadata.RefSpotifyTrack,
		TrackID: id,
	})
	if err != nil {
		writePipelineError(w, resolveError(err))
		return
	}

	writeJSON(w, http.StatusOK, toTrackJSON(track))
}

// resolveError maps resolver sentinels onto pipeline kinds for the
// metadata-only endpoints.
func resolveError(err error) error {
	switch {
	case errors.Is(err, metadata.ErrAuth):
		return &pipeline.Error{Kind: pipeline.KindAuth, Detail: "primary provider credentials missing or invalid", Err: err}
	case errors.Is(err, metadata.ErrNotFound):
		return &pipeline.Error{Kind: pipeline.KindMetadataNotFound, Detail: "no track with that id", Err: err}
	default:
		return &pipeline.Error{Kind: pipeline.KindSearchUnavailable, Detail: "could not fetch track metadata", Err: err}
	}
}

func (s *Server) handleProxyAudio(w http.ResponseWriter, r *http.Request) {
	artist := r.URL.Query().Get("artist")
	track := r.URL.Query().Get("track")
	if artist == "" && track == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "artist and track parameters required")
		return
	}

	previewURL, err := s.itunes.FindPreview(r.Context(), artist, track)
	if err != nil {
		writeError(w, http.StatusBadGateway, "search_unavailable", "preview lookup failed")
		return
	}
	if previewURL == "" {
		writeError(w, http.StatusNotFound, "not_found", "no audio preview found")
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, previewURL, nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "bad preview url")
		return
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		writeError(w, http.StatusBadGateway, "stream_failed", "could not fetch audio preview")
		return
	}
	defer resp.Body.Close()

	// iTunes previews are m4a/aac
	w.Header().Set("Content-Type", "audio/mp4")
	io.Copy(w, resp.Body)
}

func (s *Server) handleProxyImage(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if target == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing url parameter")
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target, nil)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unparseable image url")
		return
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		writeError(w, http.StatusBadGateway, "stream_failed", "could not fetch image")
		return
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	// Required so COEP-restricted pages may embed the image
	w.Header().Set("Cross-Origin-Resource-Policy", "cross-origin")
	io.Copy(w, resp.Body)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		writeError(w, http.StatusBadRequest, "invalid_reference", "missing url parameter")
		return
	}

	job := s.jobMgr.CreateJob(rawURL)
	s.jobMgr.UpdateJob(job.ID, func(j *Job) { j.Status = StatusRunning })
	s.logger.Info("download %s: %s", job.ID, rawURL)

	progress := func(stage string) {
		s.jobMgr.UpdateJob(job.ID, func(j *Job) { j.Stage = stage })
	}

	result, err := s.pipeline.Run(r.Context(), rawURL, progress)
	if err != nil {
		s.logger.Error("download %s failed: %v", job.ID, err)
		s.jobMgr.UpdateJob(job.ID, func(j *Job) {
			j.Status = StatusFailed
			j.Error = err.Error()
		})
		writePipelineError(w, err)
		return
	}
	defer result.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.Header().Set("Content-Type", result.ContentType)

	if _, err := io.Copy(w, result.Body); err != nil {
		// Headers are gone; all we can do is record the failure. Cleanup
		// still runs via the deferred Close.
		s.logger.Warn("download %s: stream aborted: %v", job.ID, err)
		s.jobMgr.UpdateJob(job.ID, func(j *Job) {
			j.Status = StatusFailed
			j.Error = "stream aborted"
		})
		return
	}

	s.jobMgr.UpdateJob(job.ID, func(j *Job) { j.Status = StatusCompleted })
	s.logger.Info("download %s completed: %s", job.ID, result.Filename)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"version":        version,
		"uptime_seconds": int(time.Since(s.started).Seconds()),
	})
}

// JobResponse is the wire shape for job listings.
type JobResponse struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Status      JobStatus `json:"status"`
	Stage       string    `json:"stage,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   string    `json:"created_at"`
	StartedAt   *string   `json:"started_at,omitempty"`
	CompletedAt *string   `json:"completed_at,omitempty"`
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}

	jobs := s.jobMgr.ListJobs()
	responses := make([]*JobResponse, len(jobs))
	for i, job := range jobs {
		responses[i] = s.jobToResponse(job)
	}
	writeJSON(w, http.StatusOK, responses)
}

func (s *Server) handleJobGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}

	jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	if jobID == "" || strings.Contains(jobID, "/") {
		writeError(w, http.StatusBadRequest, "invalid_request", "job id required")
		return
	}

	job, err := s.jobMgr.GetJob(jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.jobToResponse(job))
}

func (s *Server) jobToResponse(job *Job) *JobResponse {
	resp := &JobResponse{
		ID:        job.ID,
		URL:       job.URL,
		Status:    job.Status,
		Stage:     job.Stage,
		Error:     job.Error,
		CreatedAt: job.CreatedAt.Format("2006-01-02 15:04:05"),
	}

	if job.StartedAt != nil {
		started := job.StartedAt.Format("2006-01-02 15:04:05")
		resp.StartedAt = &started
	}

	if job.CompletedAt != nil {
		completed := job.CompletedAt.Format("2006-01-02 15:04:05")
		resp.CompletedAt = &completed
	}

	return resp
}
