package orchestrator

import (
	"time"

	"github.com/google/uuid"

	"scrobble-orchestrator/internal/play"
)

// CompletionPolicy decides whether a listen was long enough to count.
// It is met when listened seconds reach MinSeconds, or reach Percent of the
// track duration when the duration is known. A zero field disables that
// criterion.
type CompletionPolicy struct {
	MinSeconds float64
	Percent    float64
}

// DefaultCompletionPolicy mirrors the common scrobbling rule: half the track
// or four minutes, whichever comes first.
var DefaultCompletionPolicy = CompletionPolicy{MinSeconds: 240, Percent: 50}

// Met reports whether listened seconds of a track lasting duration seconds
// (0 when unknown) satisfy the policy.
func (c CompletionPolicy) Met(listened, duration float64) bool {
	if c.MinSeconds > 0 && listened >= c.MinSeconds {
		return true
	}
	if c.Percent > 0 && duration > 0 && listened >= duration*c.Percent/100 {
		return true
	}
	return false
}

// Emitter receives finalized listens. Emit must not block for long; the
// engine calls it outside of any lock.
type Emitter interface {
	Emit(l play.Listen)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(l play.Listen)

// Emit implements Emitter.
func (f EmitterFunc) Emit(l play.Listen) { f(l) }

// Decider turns completed players into listens.
type Decider struct {
	policy CompletionPolicy
	newID  func() string
}

// NewDecider returns a Decider using policy and random UUIDs.
func NewDecider(policy CompletionPolicy) *Decider {
	return &Decider{policy: policy, newID: uuid.NewString}
}

// qualifies reports whether p's current play meets the policy. A play the
// source itself reported as scrobbled always qualifies.
// Caller must hold p.mu.
func (d *Decider) qualifies(p *Player) bool {
	return p.confirmed || d.policy.Met(p.listened, p.play.Duration)
}

// Finalize completes p's current play. It returns the listen when the play
// qualifies; a play already finalized, or one too short to count, yields
// false. Caller must hold p.mu.
func (d *Decider) Finalize(p *Player, now time.Time) (play.Listen, bool) {
	if p.finalized || p.play.IsZero() {
		return play.Listen{}, false
	}
	p.finalized = true
	p.status.Calculated = StatusCompleted
	if !d.qualifies(p) {
		return play.Listen{}, false
	}
	listened := p.listened
	if p.confirmed && listened == 0 {
		listened = p.play.Duration
	}
	return play.NewListen(d.newID(), p.play, p.platformID, listened, now), true
}
