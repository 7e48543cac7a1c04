package orchestrator

import (
	"sort"
	"sync"
	"time"

	"scrobble-orchestrator/internal/play"
)

// Registry is the concurrency-safe set of tracked players. Its lock is the
// single serialization point for player creation and the cross-source dedup
// scan, so two sources reporting the same listen at once cannot both start a
// player for it.
type Registry struct {
	mu    sync.Mutex
	store Store
}

// NewRegistry constructs a registry with a default in-memory store.
func NewRegistry() *Registry {
	return NewRegistryWithStore(NewInMemoryStore())
}

// NewRegistryWithStore constructs a registry that uses the given Store.
func NewRegistryWithStore(store Store) *Registry {
	return &Registry{store: store}
}

// resolution is the answer of Resolve.
type resolution struct {
	player  *Player
	created bool
	// duplicateOf is set when the event confirms another player's play.
	duplicateOf *Player
}

// Resolve returns the player for id. When id is unseen, players updated
// within window are searched for a current play that same considers equal to
// t; a match is touched and reported as duplicateOf. Otherwise a new player
// in StatusNew is created and stored.
func (r *Registry) Resolve(id play.PlatformID, source string, t play.Tracked, now time.Time, window time.Duration, same func(a, b play.Tracked) bool) resolution {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.store.GetPlayer(id); ok {
		return resolution{player: p}
	}

	if match := r.findRecentLocked(t, now, window, same); match != nil {
		return resolution{duplicateOf: match}
	}

	p := &Player{
		platformID:          id,
		source:              source,
		play:                t,
		firstSeenAt:         now,
		lastUpdatedAt:       now,
		playerLastUpdatedAt: now,
		lastProgressAt:      now,
		status: Status{
			Reported:   ReportedPlaying,
			Calculated: StatusNew,
		},
	}
	r.store.SetPlayer(p)
	return resolution{player: p, created: true}
}

// findRecentLocked scans every player updated within window for a matching
// current play and refreshes its lastUpdatedAt. Caller must hold r.mu.
func (r *Registry) findRecentLocked(t play.Tracked, now time.Time, window time.Duration, same func(a, b play.Tracked) bool) *Player {
	candidates := r.store.ListPlayers()
	// most recently updated first so the freshest play wins
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].peekLastUpdated().After(candidates[j].peekLastUpdated())
	})
	for _, p := range candidates {
		p.mu.Lock()
		ok := !p.removed && !p.play.IsZero() && now.Sub(p.lastUpdatedAt) <= window && same(p.play, t)
		if ok {
			p.lastUpdatedAt = now
		}
		p.mu.Unlock()
		if ok {
			return p
		}
	}
	return nil
}

// Remove drops the players for ids and marks them removed.
func (r *Registry) Remove(ids ...play.PlatformID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		p, ok := r.store.GetPlayer(id)
		if !ok {
			continue
		}
		p.mu.Lock()
		p.removed = true
		p.mu.Unlock()
		r.store.DeletePlayer(id)
	}
}

// Snapshot returns the tracked players sorted by platform id.
func (r *Registry) Snapshot() []*Player {
	r.mu.Lock()
	players := r.store.ListPlayers()
	r.mu.Unlock()
	sort.Slice(players, func(i, j int) bool { return players[i].platformID < players[j].platformID })
	return players
}

// BySource returns the tracked players owned by source.
func (r *Registry) BySource(source string) []*Player {
	var out []*Player
	for _, p := range r.Snapshot() {
		if p.source == source {
			out = append(out, p)
		}
	}
	return out
}

// Count returns the number of tracked players.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.store.ListPlayers())
}

// peekLastUpdated reads lastUpdatedAt under the player lock.
func (p *Player) peekLastUpdated() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastUpdatedAt
}
