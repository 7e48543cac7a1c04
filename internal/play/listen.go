package play

import (
	"slices"
	"time"
)

// Listen is a finalized, qualifying listen. It is built once by the engine and
// never modified afterwards; ID is the idempotency key used for delivery.
type Listen struct {
	ID          string     `json:"id"`
	Artists     []string   `json:"artists"`
	Album       string     `json:"album,omitempty"`
	Track       string     `json:"track"`
	Duration    float64    `json:"duration,omitempty"`
	PlayedAt    time.Time  `json:"playedAt"`
	ListenedFor float64    `json:"listenedFor"`
	Source      string     `json:"source"`
	PlatformID  PlatformID `json:"platformId"`
	MBID        string     `json:"mbid,omitempty"`
	FinalizedAt time.Time  `json:"finalizedAt"`
}

// NewListen freezes a tracked play into a listen.
func NewListen(id string, t Tracked, platform PlatformID, listened float64, at time.Time) Listen {
	return Listen{
		ID:          id,
		Artists:     slices.Clone(t.Artists),
		Album:       t.Album,
		Track:       t.Track,
		Duration:    t.Duration,
		PlayedAt:    t.PlayedAt,
		ListenedFor: listened,
		Source:      t.Source,
		PlatformID:  platform,
		MBID:        t.MBID,
		FinalizedAt: at,
	}
}
