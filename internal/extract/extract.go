// Package extract drives the external yt-dlp tool to materialize a
// chosen audio target as a file in the scratch directory.
//
// The deployment sandbox only permits writes under the scratch
// directory, and yt-dlp cannot reliably stream post-processed audio to
// stdout when remuxing is required. So every download writes to
// scratchDir/<jobID>.<ext> and the result file is re-opened for
// streaming. This is a deliberate workaround, not an optimization.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"tunepipe/internal/logger"
)

// ErrUpstreamBlocked means the upstream host is actively refusing this
// server's network origin. The caller should tell the user to try a
// different provider's link rather than retry.
var ErrUpstreamBlocked = errors.New("upstream host is blocking this server")

// stderr substrings that indicate origin blocking rather than a broken
// target. yt-dlp phrases these consistently across releases.
var blockedPatterns = []string{
	"Sign in to confirm",
	"HTTP Error 429",
	"Too Many Requests",
	"Access denied",
}

// Suffixes yt-dlp uses for in-progress files. A scratch file carrying
// one of these is never a completed result.
var inProgressSuffixes = []string{".part", ".ytdl", ".temp"}

// Job records one extraction attempt. The unique ID doubles as the
// scratch filename prefix, so concurrent requests never collide.
type Job struct {
	ID         string
	Target     string
	ResultPath string
	scratchDir string
}

// Cleanup unlinks every scratch file carrying the job's prefix,
// including leftover fragments. Safe to call on a failed job.
func (j *Job) Cleanup() {
	entries, err := os.ReadDir(j.scratchDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasPrefix(entry.Name(), j.ID+".") {
			os.Remove(filepath.Join(j.scratchDir, entry.Name()))
		}
	}
}

// Executor runs yt-dlp downloads against the scratch directory.
type Executor struct {
	Binary     string
	ScratchDir string
	Timeout    time.Duration
	logger     *logger.Logger
}

// New creates an Executor and ensures the scratch directory exists.
func New(binary, scratchDir string, timeout time.Duration, log *logger.Logger) (*Executor, error) {
	if binary == "" {
		binary = "yt-dlp"
	}
	if err := os.MkdirAll(scratchDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	return &Executor{
		Binary:     binary,
		ScratchDir: scratchDir,
		Timeout:    timeout,
		logger:     log,
	}, nil
}

// Download materializes the target's best audio-only stream as a scratch
// file. The returned Job is always non-nil so callers can defer Cleanup
// regardless of outcome.
func (e *Executor) Download(ctx context.Context, target string) (*Job, error) {
	job := &Job{
		ID:         uuid.NewString(),
		Target:     target,
		scratchDir: e.ScratchDir,
	}

	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	args := buildArgs(target, job.ID, e.ScratchDir)
	e.logger.Debug("extracting %q (job %s)", target, job.ID)

	cmd := exec.CommandContext(ctx, e.Binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	result, scanErr := findCompleted(e.ScratchDir, job.ID)

	if runErr != nil {
		if ctx.Err() != nil {
			return job, fmt.Errorf("extraction cancelled or timed out")
		}
		// yt-dlp exits non-zero for non-fatal warnings (--max-downloads
		// among them). A completed output file means the download is
		// usable; only an absent file makes the exit a real failure.
		if scanErr == nil && result != "" {
			e.logger.Debug("tolerating warning exit for job %s: %v", job.ID, runErr)
			job.ResultPath = result
			return job, nil
		}
		if isBlocked(stderr.String()) {
			return job, fmt.Errorf("%w: try a different provider's link", ErrUpstreamBlocked)
		}
		return job, fmt.Errorf("extraction failed: %w\nDetails: %s", runErr, strings.TrimSpace(stderr.String()))
	}

	if scanErr != nil || result == "" {
		return job, fmt.Errorf("extraction produced no output file for job %s", job.ID)
	}

	job.ResultPath = result
	return job, nil
}

// Probe fetches a display title for a directly extractable link without
// downloading anything.
func (e *Executor) Probe(ctx context.Context, target string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.Binary,
		target,
		"--dump-json",
		"--no-playlist",
		"--skip-download",
		"--no-warnings",
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("metadata probe failed: %w\nDetails: %s", err, strings.TrimSpace(stderr.String()))
	}

	var info struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
		return "", fmt.Errorf("metadata probe parse error: %w", err)
	}
	return info.Title, nil
}

// buildArgs constructs the yt-dlp invocation: best audio only, a single
// item, all writes confined to the scratch directory.
func buildArgs(target, jobID, scratchDir string) []string {
	return []string{
		target,
		"-f", "bestaudio",
		"--no-playlist",
		"--max-downloads", "1",
		"--no-warnings",
		"--cache-dir", filepath.Join(scratchDir, "yt-dlp-cache"),
		"--paths", "temp:" + scratchDir,
		"-o", filepath.Join(scratchDir, jobID+".%(ext)s"),
	}
}

// findCompleted scans the scratch directory for a finished file with the
// job's prefix. In-progress suffixes are skipped, so a .part file never
// counts as a result.
func findCompleted(scratchDir, jobID string) (string, error) {
	entries, err := os.ReadDir(scratchDir)
	if err != nil {
		return "", fmt.Errorf("failed to scan scratch directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, jobID+".") {
			continue
		}
		if inProgress(name) {
			continue
		}
		return filepath.Join(scratchDir, name), nil
	}
	return "", nil
}

func inProgress(name string) bool {
	for _, suffix := range inProgressSuffixes {
		if strings.HasSuffix(name, suffix) || strings.Contains(name, suffix+"-") {
			return true
		}
	}
	return false
}

func isBlocked(stderr string) bool {
	for _, pattern := range blockedPatterns {
		if strings.Contains(stderr, pattern) {
			return true
		}
	}
	return false
}
