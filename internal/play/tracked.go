package play

import (
	"slices"
	"strings"
	"time"

	"scrobble-orchestrator/internal/sameness"
)

// Tracked is the musical payload of the play a player is following. It is a
// value: a progress update replaces it wholesale and never edits it in place.
type Tracked struct {
	Artists  []string
	Album    string
	Track    string
	Duration float64 // seconds, 0 when unknown
	PlayedAt time.Time
	Source   string
	MBID     string

	// key is the tight-normalized "artists|track" used for exact comparisons.
	key string
}

// NewTracked builds the tracked payload of an event.
func NewTracked(ev Event) Tracked {
	artists := make([]string, 0, len(ev.Artists))
	for _, a := range ev.Artists {
		if a = strings.TrimSpace(a); a != "" {
			artists = append(artists, a)
		}
	}
	artists = sameness.UniqueNormalized(artists)

	t := Tracked{
		Artists:  artists,
		Album:    strings.TrimSpace(ev.Album),
		Track:    strings.TrimSpace(ev.Track),
		PlayedAt: ev.PlayedAt,
		Source:   ev.Source,
	}
	if ev.Duration != nil && *ev.Duration > 0 {
		t.Duration = *ev.Duration
	}
	if mbid, ok := ev.MetaValue(MetaMBID); ok {
		t.MBID = strings.ToLower(strings.TrimSpace(mbid))
	}
	t.key = sameness.Normalize(strings.Join(t.Artists, " ")) + "|" + sameness.Normalize(t.Track)
	return t
}

// Merge returns the payload of an update for the same play: fields the update
// knows replace the current ones, the original play time is kept.
func (t Tracked) Merge(update Tracked) Tracked {
	merged := update
	merged.Artists = slices.Clone(update.Artists)
	if !t.PlayedAt.IsZero() {
		merged.PlayedAt = t.PlayedAt
	}
	if merged.Duration == 0 {
		merged.Duration = t.Duration
	}
	if merged.Album == "" {
		merged.Album = t.Album
	}
	if merged.MBID == "" {
		merged.MBID = t.MBID
	}
	return merged
}

// Key is the tight-normalized identity of the payload.
func (t Tracked) Key() string {
	return t.key
}

// IsZero reports whether t holds no play.
func (t Tracked) IsZero() bool {
	return t.Track == "" && len(t.Artists) == 0
}

// String renders "Artist1, Artist2 - Track".
func (t Tracked) String() string {
	return strings.Join(t.Artists, ", ") + " - " + t.Track
}
