package orchestrator

import "scrobble-orchestrator/internal/play"

// Store is the persistence abstraction for tracked players.
// Implementations are not required to be safe for concurrent use; the
// Registry serializes every access.
type Store interface {
	GetPlayer(id play.PlatformID) (*Player, bool)
	SetPlayer(p *Player)
	DeletePlayer(id play.PlatformID)
	ListPlayers() []*Player
}

// InMemoryStore is an in-memory implementation of Store.
type InMemoryStore struct {
	players map[play.PlatformID]*Player
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		players: make(map[play.PlatformID]*Player),
	}
}

// GetPlayer implements Store.GetPlayer.
func (s *InMemoryStore) GetPlayer(id play.PlatformID) (*Player, bool) {
	p, ok := s.players[id]
	return p, ok
}

// SetPlayer implements Store.SetPlayer.
func (s *InMemoryStore) SetPlayer(p *Player) {
	s.players[p.platformID] = p
}

// DeletePlayer implements Store.DeletePlayer.
func (s *InMemoryStore) DeletePlayer(id play.PlatformID) {
	delete(s.players, id)
}

// ListPlayers implements Store.ListPlayers.
func (s *InMemoryStore) ListPlayers() []*Player {
	out := make([]*Player, 0, len(s.players))
	for _, p := range s.players {
		out = append(out, p)
	}
	return out
}
