package orchestrator

import (
	"sync"
	"time"

	"scrobble-orchestrator/internal/play"
)

// CalculatedStatus is the engine's own lifecycle state for a player's play.
type CalculatedStatus string

const (
	StatusNew        CalculatedStatus = "new"
	StatusInProgress CalculatedStatus = "in_progress"
	StatusCompleted  CalculatedStatus = "completed"
)

// Reported status values, derived from the last event kind a source sent.
const (
	ReportedPlaying = "playing"
	ReportedPaused  = "paused"
	ReportedStopped = "stopped"
)

// Status groups the status flags of a player.
type Status struct {
	Reported   string           `json:"reported"`
	Calculated CalculatedStatus `json:"calculated"`
	Stale      bool             `json:"stale"`
	Orphaned   bool             `json:"orphaned"`
}

// Player tracks one physical playback context. All fields are guarded by mu;
// the registry lock, when needed, is always taken before mu.
type Player struct {
	mu sync.Mutex

	platformID play.PlatformID
	source     string

	play play.Tracked

	firstSeenAt         time.Time
	lastUpdatedAt       time.Time
	playerLastUpdatedAt time.Time
	lastProgressAt      time.Time

	position    float64
	hasPosition bool
	highWater   float64
	listened    float64

	status     Status
	orphanedAt time.Time

	// finalized is set once the current play went through the decider.
	finalized bool
	// confirmed is set when the source reported the current play as scrobbled.
	confirmed bool
	// removed is set when the registry dropped the player.
	removed bool
}

// Outcome is what the engine did with an event.
type Outcome string

const (
	OutcomeRejected     Outcome = "rejected"
	OutcomeFiltered     Outcome = "filtered"
	OutcomeCreated      Outcome = "created"
	OutcomeProgress     Outcome = "progress"
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeTrackChanged Outcome = "track_changed"
	OutcomeRepeat       Outcome = "repeat"
	OutcomeCompleted    Outcome = "completed"
)

// Reason explains an outcome.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonUnknownSource    Reason = "unknown_source"
	ReasonMissingTrack     Reason = "missing_track"
	ReasonMissingArtist    Reason = "missing_artist"
	ReasonFieldTooLong     Reason = "field_too_long"
	ReasonKind             Reason = "kind_not_countable"
	ReasonMediaType        Reason = "media_type_not_countable"
	ReasonUser             Reason = "user_not_allowed"
	ReasonLibrary          Reason = "library_not_allowed"
	ReasonServer           Reason = "server_not_allowed"
	ReasonCrossSource      Reason = "cross_source_duplicate"
	ReasonStop             Reason = "stop"
	ReasonScrobble         Reason = "source_scrobble"
	ReasonTrackChange      Reason = "track_change"
	ReasonThreshold        Reason = "completion_threshold"
	ReasonStale            Reason = "stale"
	ReasonDrain            Reason = "source_shutdown"
	ReasonAlreadyCompleted Reason = "already_completed"
)

// Result reports the handling of one event. Expected conditions (malformed or
// filtered input) are Results, not errors.
type Result struct {
	Outcome    Outcome          `json:"outcome"`
	Reason     Reason           `json:"reason,omitempty"`
	PlatformID play.PlatformID  `json:"platformId,omitempty"`
	MatchedID  play.PlatformID  `json:"matchedPlatformId,omitempty"`
	Status     CalculatedStatus `json:"status,omitempty"`
	Listens    []play.Listen    `json:"listens,omitempty"`
}

// Accepted reports whether the event entered the state machine.
func (r Result) Accepted() bool {
	return r.Outcome != OutcomeRejected && r.Outcome != OutcomeFiltered
}
