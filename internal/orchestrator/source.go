package orchestrator

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"scrobble-orchestrator/internal/play"
)

// SourceKind is the closed set of source variants the engine can identify.
type SourceKind string

const (
	SourcePlex         SourceKind = "plex"
	SourceTautulli     SourceKind = "tautulli"
	SourceJellyfin     SourceKind = "jellyfin"
	SourceSubsonic     SourceKind = "subsonic"
	SourceSpotify      SourceKind = "spotify"
	SourceLastfm       SourceKind = "lastfm"
	SourceListenbrainz SourceKind = "listenbrainz"
	SourceDeezer       SourceKind = "deezer"
	SourceYTMusic      SourceKind = "ytmusic"
	SourceMPRIS        SourceKind = "mpris"
	SourceMopidy       SourceKind = "mopidy"
	SourceJRiver       SourceKind = "jriver"
	SourceKodi         SourceKind = "kodi"
	SourceWebhook      SourceKind = "webhook"
)

var sourceKinds = []SourceKind{
	SourcePlex, SourceTautulli, SourceJellyfin, SourceSubsonic, SourceSpotify,
	SourceLastfm, SourceListenbrainz, SourceDeezer, SourceYTMusic, SourceMPRIS,
	SourceMopidy, SourceJRiver, SourceKodi, SourceWebhook,
}

var (
	// ErrUnknownSourceKind is returned for a kind outside SourceKind.
	ErrUnknownSourceKind = errors.New("unknown source kind")

	// ErrDuplicateSource is returned when a source name is registered twice.
	ErrDuplicateSource = errors.New("source already registered")

	// ErrInvalidSourceName is returned for a blank source name.
	ErrInvalidSourceName = errors.New("source name is required")
)

// ParseSourceKind validates s against the known source kinds.
func ParseSourceKind(s string) (SourceKind, error) {
	k := SourceKind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range sourceKinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSourceKind, s)
}

// SourceIdentity names a registered source.
type SourceIdentity struct {
	Name string     `json:"name"`
	Kind SourceKind `json:"kind"`
}

// SourceConfig registers a source with the engine.
type SourceConfig struct {
	SourceIdentity
	Filter Filter
}

// Source is what a source adapter needs from the engine: its identity, a way
// to deliver events and a shutdown signal that drains its players.
type Source interface {
	Identity() SourceIdentity
	Ingest(ev play.Event) Result
	Shutdown() []play.Listen
}

// SourceHandle is the engine-side Source for one registered source.
type SourceHandle struct {
	id     SourceIdentity
	filter Filter
	engine *Engine

	discovered atomic.Int64
}

// Discovered returns how many listens the source has finalized.
func (h *SourceHandle) Discovered() int64 {
	return h.discovered.Load()
}

// Identity implements Source.Identity.
func (h *SourceHandle) Identity() SourceIdentity {
	return h.id
}

// Filter returns the gate configured for the source.
func (h *SourceHandle) Filter() Filter {
	return h.filter
}

// Stamp sets the event's source to this handle's name.
func (h *SourceHandle) Stamp(ev play.Event) play.Event {
	ev.Source = h.id.Name
	return ev
}

// Ingest implements Source.Ingest.
func (h *SourceHandle) Ingest(ev play.Event) Result {
	return h.engine.Ingest(h.Stamp(ev))
}

// Shutdown implements Source.Shutdown.
func (h *SourceHandle) Shutdown() []play.Listen {
	return h.engine.Drain(h.id.Name)
}
