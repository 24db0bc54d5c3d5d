package enrich

import (
	"math"
	"strings"

	"github.com/mantonx/coverscout/internal/musicbrainz"
	"github.com/mantonx/coverscout/internal/spotify"
)

// DefaultThreshold is the minimum combined score a candidate needs
// before it counts as a match.
const DefaultThreshold = 0.60

// MatchResult carries the best candidate and whether it cleared the
// threshold. Track is nil when the search returned no candidates.
type MatchResult struct {
	Track   *spotify.Track
	Score   float64
	Matched bool
}

// Matcher ranks Spotify candidates against a cover's title and artist.
type Matcher struct {
	threshold float64
}

// NewMatcher creates a matcher with the given threshold. Values outside
// (0, 1] fall back to DefaultThreshold.
func NewMatcher(threshold float64) *Matcher {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Matcher{threshold: threshold}
}

// FindBestMatch scores every candidate and returns the highest ranked
// one. Ties resolve toward the more popular track.
func (m *Matcher) FindBestMatch(tracks []spotify.Track, title, artist string) *MatchResult {
	var best *spotify.Track
	var bestScore float64

	for i := range tracks {
		score := m.scoreTrack(&tracks[i], title, artist)
		if best == nil || score > bestScore || (score == bestScore && tracks[i].Popularity > best.Popularity) {
			bestScore = score
			best = &tracks[i]
		}
	}

	if best == nil || bestScore < m.threshold {
		return &MatchResult{
			Track:   best,
			Score:   bestScore,
			Matched: false,
		}
	}

	return &MatchResult{
		Track:   best,
		Score:   bestScore,
		Matched: true,
	}
}

// scoreTrack combines title, artist and popularity into one score.
// Weights: title 0.5, artist 0.3, popularity 0.2. A missing artist
// contributes a neutral 0.5 rather than penalizing the candidate.
func (m *Matcher) scoreTrack(track *spotify.Track, title, artist string) float64 {
	titleScore := stringScore(track.Name, title)

	artistScore := 0.5
	if artist != "" {
		artistScore = stringScore(track.ArtistNames(), artist)
	}

	popularityScore := float64(track.Popularity) / 100.0

	combined := titleScore*0.5 + artistScore*0.3 + popularityScore*0.2
	return math.Round(combined*10000) / 10000
}

// stringScore measures similarity between two strings: exact match
// after normalization, then substring containment, then word overlap.
func stringScore(s1, s2 string) float64 {
	if s1 == "" || s2 == "" {
		return 0.0
	}

	norm1 := musicbrainz.Normalize(s1)
	norm2 := musicbrainz.Normalize(s2)

	if norm1 == norm2 {
		return 1.0
	}

	if strings.Contains(norm1, norm2) || strings.Contains(norm2, norm1) {
		return 0.7
	}

	words1 := strings.Fields(norm1)
	words2 := strings.Fields(norm2)

	if len(words1) == 0 || len(words2) == 0 {
		return 0.0
	}

	matches := 0
	for _, word1 := range words1 {
		for _, word2 := range words2 {
			if word1 == word2 && len(word1) > 2 {
				matches++
				break
			}
		}
	}

	maxWords := len(words1)
	if len(words2) > maxWords {
		maxWords = len(words2)
	}

	return float64(matches) / float64(maxWords)
}
