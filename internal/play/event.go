// Package play holds the data that flows through the scrobble engine: raw
// events reported by sources, the tracked plays derived from them and the
// finalized listens handed to clients.
package play

import (
	"errors"
	"slices"
	"strings"
	"time"
	"unicode/utf8"
)

// Kind classifies a raw event.
type Kind string

// Event kinds understood by the player state machine.
const (
	KindPlaying  Kind = "playing"
	KindPaused   Kind = "paused"
	KindStop     Kind = "stop"
	KindScrobble Kind = "scrobble"
)

// KnownKinds lists every kind the state machine can apply.
var KnownKinds = []Kind{KindPlaying, KindPaused, KindStop, KindScrobble}

// Normalize returns k trimmed and lower-cased.
func (k Kind) Normalize() Kind {
	return Kind(strings.ToLower(strings.TrimSpace(string(k))))
}

// Known reports whether k is one of KnownKinds.
func (k Kind) Known() bool {
	return slices.Contains(KnownKinds, k)
}

// Field limits enforced by Validate. Titles and credits longer than this
// are not real metadata and would make similarity scoring expensive.
const (
	MaxTrackRunes  = 512
	MaxArtistRunes = 512
	MaxArtists     = 32
)

// MediaTrack is the only countable media type by default.
const MediaTrack = "track"

// Metadata keys with a meaning to the engine.
const (
	MetaUser    = "user"
	MetaLibrary = "library"
	MetaServer  = "server"
	MetaMBID    = "mbid"
)

var (
	// ErrMissingTrack is reported for events without a track title.
	ErrMissingTrack = errors.New("event has no track")

	// ErrMissingArtist is reported for events without any artist.
	ErrMissingArtist = errors.New("event has no artist")

	// ErrFieldTooLong is reported for events whose track, artist list or an
	// artist name exceeds the field limits.
	ErrFieldTooLong = errors.New("event field too long")
)

// Event is one playback observation reported by a source. Seconds fields are
// pointers because sources often cannot report them.
type Event struct {
	Artists   []string          `json:"artists"`
	Album     string            `json:"album,omitempty"`
	Track     string            `json:"track"`
	Duration  *float64          `json:"duration,omitempty"`
	PlayedAt  time.Time         `json:"playedAt"`
	Listened  *float64          `json:"listenedFor,omitempty"`
	Position  *float64          `json:"position,omitempty"`
	Source    string            `json:"source"`
	DeviceID  string            `json:"deviceId,omitempty"`
	Kind      Kind              `json:"kind"`
	MediaType string            `json:"mediaType,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// PlatformID is the key of the player this event belongs to.
func (e Event) PlatformID() PlatformID {
	return NewPlatformID(e.Source, e.DeviceID)
}

// MetaValue returns a metadata value and whether it was present and non-blank.
func (e Event) MetaValue(key string) (string, bool) {
	v, ok := e.Meta[key]
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// Validate checks the mandatory fields: a track title and at least one
// non-blank artist, all within the field limits.
func (e Event) Validate() error {
	if strings.TrimSpace(e.Track) == "" {
		return ErrMissingTrack
	}
	if utf8.RuneCountInString(e.Track) > MaxTrackRunes || len(e.Artists) > MaxArtists {
		return ErrFieldTooLong
	}
	hasArtist := false
	for _, a := range e.Artists {
		if utf8.RuneCountInString(a) > MaxArtistRunes {
			return ErrFieldTooLong
		}
		if strings.TrimSpace(a) != "" {
			hasArtist = true
		}
	}
	if !hasArtist {
		return ErrMissingArtist
	}
	return nil
}

// PlatformID identifies one physical playback context: a source and a
// device on that source.
type PlatformID string

const defaultDevice = "default"

// NewPlatformID joins source and device. An empty device maps to "default".
func NewPlatformID(source, device string) PlatformID {
	device = strings.TrimSpace(device)
	if device == "" {
		device = defaultDevice
	}
	return PlatformID(strings.TrimSpace(source) + "-" + device)
}

// Seconds returns a pointer to v, for building events.
func Seconds(v float64) *float64 {
	return &v
}
