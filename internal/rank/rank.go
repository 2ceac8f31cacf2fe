// Package rank scores search candidates against canonical track metadata
// and picks the best one, or rejects the whole batch when nothing looks
// like a legitimate studio recording.
package rank

import (
	"errors"
	"math"
	"strings"

	"tunepipe/internal/metadata"
	"tunepipe/internal/search"
)

// ErrNoCleanMatch means ranking rejected every candidate: each one was
// either keyword-flagged or badly duration-mismatched. Callers must
// surface this rather than serve the least-bad candidate.
var ErrNoCleanMatch = errors.New("only low-quality matches found")

// ErrNoCandidates means ranking was invoked with nothing to rank.
// Distinct from ErrNoCleanMatch: the search itself came back empty.
var ErrNoCandidates = errors.New("no search candidates to rank")

// Terms that mark a candidate as a non-studio version, unless the
// canonical title itself contains the same term.
var badKeywords = []string{
	"live", "cover", "session", "remix", "instrumental", "karaoke",
	"acoustic", "slowed", "reverb", "sped up", "type beat", "8d",
	"mashup", "rough", "flip", "edit", "mix",
}

// Scoring weights. Tuned empirically; the reject threshold is the
// caller-supplied cutoff in Ranker.
const (
	badKeywordPenalty  = -200
	titleContainReward = 50
	artistReward       = 50
	uploaderReward     = 150
	durationTightBonus = 100 // |delta| <= 5s
	durationLooseBonus = 50  // 5s < |delta| <= 15s
	durationSlope      = 2   // points lost per second beyond 15s
)

// Scored pairs a candidate with its total score.
type Scored struct {
	Candidate search.Candidate
	Score     int
}

// Ranker selects the best candidate for a canonical track.
// Threshold is the minimum winning score; a best score below it rejects
// the batch.
type Ranker struct {
	Threshold int
}

// New creates a Ranker with the given reject threshold.
func New(threshold int) *Ranker {
	return &Ranker{Threshold: threshold}
}

// Rank scores every candidate and returns the best one. Ties keep the
// first-seen candidate. Returns ErrNoCandidates for an empty batch and
// ErrNoCleanMatch when the winning score is below the threshold.
func (r *Ranker) Rank(track metadata.CanonicalTrack, candidates []search.Candidate) (Scored, error) {
	if len(candidates) == 0 {
		return Scored{}, ErrNoCandidates
	}

	best := Scored{Candidate: candidates[0], Score: Score(track, candidates[0])}
	for _, c := range candidates[1:] {
		if s := Score(track, c); s > best.Score {
			best = Scored{Candidate: c, Score: s}
		}
	}

	if best.Score < r.Threshold {
		return Scored{}, ErrNoCleanMatch
	}
	return best, nil
}

// Score computes the additive heuristic score of one candidate against
// the canonical track. Each term is independent; there is no
// cross-candidate normalization.
func Score(track metadata.CanonicalTrack, c search.Candidate) int {
	candTitle := strings.ToLower(c.Title)
	canonTitle := strings.ToLower(track.Title)
	artist := strings.ToLower(track.PrimaryArtist())
	uploader := strings.ToLower(c.Uploader)

	score := 0

	// A canonical track named "... (Remix)" must not be penalized for
	// candidates also labeled remix.
	for _, kw := range badKeywords {
		if strings.Contains(candTitle, kw) && !strings.Contains(canonTitle, kw) {
			score += badKeywordPenalty
		}
	}

	if canonTitle != "" && strings.Contains(candTitle, canonTitle) {
		score += titleContainReward
	}

	if artist != "" && strings.Contains(candTitle, artist) {
		score += artistReward
	}

	// Uploader matching the artist in either direction is a strong
	// signal of an official upload.
	if artist != "" && uploader != "" &&
		(strings.Contains(uploader, artist) || strings.Contains(artist, uploader)) {
		score += uploaderReward
	}

	score += durationScore(track.DurationSeconds, c.DurationSeconds)

	return score
}

// durationScore applies only when both durations are known and positive.
// The unbounded penalty beyond 15s is what rejects hour-long mixes and
// extended loops.
func durationScore(canonical, candidate float64) int {
	if canonical <= 0 || candidate <= 0 {
		return 0
	}

	d := math.Abs(candidate - canonical)
	switch {
	case d <= 5:
		return durationTightBonus
	case d <= 15:
		return durationLooseBonus
	default:
		return -int(durationSlope * d)
	}
}
