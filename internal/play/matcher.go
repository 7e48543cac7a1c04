package play

import (
	"strings"

	"scrobble-orchestrator/internal/sameness"
)

// DefaultMatchThreshold is the sameness score at or above which two plays are
// considered the same listen.
const DefaultMatchThreshold = 75.0

// CompareTracks scores the sameness of two track titles.
func CompareTracks(a, b Tracked) float64 {
	return sameness.Compare(a.Track, b.Track).Score
}

// CompareArtists scores the sameness of two artist lists joined in order.
func CompareArtists(a, b Tracked) float64 {
	return sameness.Compare(strings.Join(a.Artists, " "), strings.Join(b.Artists, " ")).Score
}

// Matcher decides whether two plays describe the same listen.
type Matcher struct {
	Threshold float64
}

// NewMatcher returns a Matcher using threshold, or DefaultMatchThreshold when
// threshold is outside (0, 100].
func NewMatcher(threshold float64) Matcher {
	if threshold <= 0 || threshold > sameness.MaxScore {
		threshold = DefaultMatchThreshold
	}
	return Matcher{Threshold: threshold}
}

// Same reports whether a and b are the same listen. Recording ids decide when
// both plays carry one; otherwise both track and artist sameness must reach
// the threshold.
func (m Matcher) Same(a, b Tracked) bool {
	if a.MBID != "" && b.MBID != "" {
		return a.MBID == b.MBID
	}
	if a.key != "" && a.key == b.key {
		return true
	}
	return CompareTracks(a, b) >= m.Threshold && CompareArtists(a, b) >= m.Threshold
}
