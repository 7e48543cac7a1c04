package orchestrator

import (
	"sort"
	"time"

	"scrobble-orchestrator/internal/play"
)

// PlayerView is a point-in-time copy of a player, safe to share and encode.
type PlayerView struct {
	PlatformID          play.PlatformID `json:"platformId"`
	Source              string          `json:"source"`
	Play                play.Tracked    `json:"-"`
	PlayFirstSeenAt     time.Time       `json:"playFirstSeenAt"`
	PlayLastUpdatedAt   time.Time       `json:"playLastUpdatedAt"`
	PlayerLastUpdatedAt time.Time       `json:"playerLastUpdatedAt"`
	Position            *float64        `json:"position,omitempty"`
	ListenedDuration    float64         `json:"listenedDuration"`
	Status              Status          `json:"status"`
}

// playJSON is the encoded form of the tracked play in a PlayerView.
type playJSON struct {
	Artists  []string  `json:"artists"`
	Album    string    `json:"album,omitempty"`
	Track    string    `json:"track"`
	Duration float64   `json:"duration,omitempty"`
	PlayedAt time.Time `json:"playDate"`
	Source   string    `json:"source"`
	MBID     string    `json:"mbid,omitempty"`
}

// PlayerStatus is the JSON document served for one player.
type PlayerStatus struct {
	PlayerView
	Play *playJSON `json:"play,omitempty"`
}

// StatusDocuments converts views into their JSON documents, keeping order.
func StatusDocuments(views []PlayerView) []PlayerStatus {
	out := make([]PlayerStatus, 0, len(views))
	for _, v := range views {
		doc := PlayerStatus{PlayerView: v}
		if !v.Play.IsZero() {
			doc.Play = &playJSON{
				Artists:  v.Play.Artists,
				Album:    v.Play.Album,
				Track:    v.Play.Track,
				Duration: v.Play.Duration,
				PlayedAt: v.Play.PlayedAt,
				Source:   v.Play.Source,
				MBID:     v.Play.MBID,
			}
		}
		out = append(out, doc)
	}
	return out
}

// countByStatus tallies views per calculated status.
func countByStatus(views []PlayerView) map[CalculatedStatus]int {
	counts := make(map[CalculatedStatus]int, 3)
	for _, v := range views {
		counts[v.Status.Calculated]++
	}
	return counts
}

// Source activity states reported in a SourceStatus.
const (
	SourceIdle   = "idle"
	SourceActive = "active"
)

// SourceStatus is the JSON document served for one source.
type SourceStatus struct {
	SourceIdentity
	Status           string                              `json:"status"`
	TracksDiscovered int64                               `json:"tracksDiscovered"`
	Players          map[play.PlatformID]CalculatedStatus `json:"players"`
}

// sourceStatuses groups views by source. A source is active while any of its
// players has an unfinished play that is neither stale nor orphaned.
func sourceStatuses(handles []*SourceHandle, views []PlayerView) []SourceStatus {
	out := make([]SourceStatus, 0, len(handles))
	index := make(map[string]int, len(handles))
	for _, h := range handles {
		index[h.id.Name] = len(out)
		out = append(out, SourceStatus{
			SourceIdentity:   h.id,
			Status:           SourceIdle,
			TracksDiscovered: h.Discovered(),
			Players:          make(map[play.PlatformID]CalculatedStatus),
		})
	}
	for _, v := range views {
		i, ok := index[v.Source]
		if !ok {
			continue
		}
		out[i].Players[v.PlatformID] = v.Status.Calculated
		if v.Status.Calculated != StatusCompleted && !v.Status.Stale && !v.Status.Orphaned {
			out[i].Status = SourceActive
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
