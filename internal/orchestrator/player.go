package orchestrator

import (
	"time"

	"scrobble-orchestrator/internal/play"
)

// restartWindow is how close to the start of a track a completed player's
// position must fall back to count as the same track being played again.
const restartWindow = 15.0

func reportedFor(k play.Kind) string {
	switch k {
	case play.KindPaused:
		return ReportedPaused
	case play.KindStop:
		return ReportedStopped
	default:
		return ReportedPlaying
	}
}

// begin replaces the player's play with t and resets progress counters.
// Caller must hold p.mu.
func (p *Player) begin(t play.Tracked, now time.Time) {
	p.play = t
	p.firstSeenAt = now
	p.lastUpdatedAt = now
	p.lastProgressAt = now
	p.position = 0
	p.hasPosition = false
	p.highWater = 0
	p.listened = 0
	p.finalized = false
	p.confirmed = false
	p.status.Calculated = StatusNew
	p.status.Stale = false
}

// progress records ev against the current play and accumulates listened
// seconds. Only the part of the track not covered before is counted: a
// position moving backwards adds nothing, and a forward jump larger than the
// elapsed time plus seekTolerance is a seek and adds nothing. Without
// position data, elapsed time while playing is counted instead. Listened
// seconds reported by the source only ever raise the counter.
// Caller must hold p.mu.
func (p *Player) progress(ev play.Event, now time.Time, seekTolerance time.Duration) {
	elapsed := now.Sub(p.lastProgressAt).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}

	switch {
	case ev.Position != nil:
		pos := *ev.Position
		if p.hasPosition {
			moved := pos - p.position
			if moved > 0 && moved <= elapsed+seekTolerance.Seconds() && ev.Listened == nil {
				if gain := pos - max(p.position, p.highWater); gain > 0 {
					p.listened += gain
				}
			}
		}
		p.position = pos
		p.hasPosition = true
		p.highWater = max(p.highWater, pos)
	case ev.Listened == nil && p.status.Reported == ReportedPlaying:
		p.listened += elapsed
	}

	if ev.Listened != nil && *ev.Listened > p.listened {
		p.listened = *ev.Listened
	}
	if p.play.Duration > 0 && p.listened > p.play.Duration {
		p.listened = p.play.Duration
	}

	p.lastProgressAt = now
	p.lastUpdatedAt = now
	p.status.Reported = reportedFor(ev.Kind)
	p.status.Stale = false
	p.status.Orphaned = false
	p.orphanedAt = time.Time{}
}

// restarted reports whether ev shows a completed play starting over.
// Caller must hold p.mu.
func (p *Player) restarted(ev play.Event) bool {
	if p.status.Calculated != StatusCompleted || ev.Position == nil || !p.hasPosition {
		return false
	}
	pos := *ev.Position
	return pos < p.position && pos <= restartWindow
}

// view copies the player's state. Caller must hold p.mu.
func (p *Player) view() PlayerView {
	v := PlayerView{
		PlatformID:          p.platformID,
		Source:              p.source,
		Play:                p.play,
		PlayFirstSeenAt:     p.firstSeenAt,
		PlayLastUpdatedAt:   p.lastUpdatedAt,
		PlayerLastUpdatedAt: p.playerLastUpdatedAt,
		ListenedDuration:    p.listened,
		Status:              p.status,
	}
	if p.hasPosition {
		pos := p.position
		v.Position = &pos
	}
	return v
}
