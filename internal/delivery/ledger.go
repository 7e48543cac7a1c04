package delivery

import (
	"context"
	"slices"
	"sync"

	"scrobble-orchestrator/internal/play"
)

// Result values recorded for a delivery.
const (
	ResultOK      = "ok"
	ResultFailed  = "failed"
	ResultSkipped = "skipped"
	resultClaimed = "claimed"
)

// Ledger records finalized listens and which clients they were handed to.
type Ledger interface {
	// Record stores l; recording the same listen id again is a no-op.
	Record(ctx context.Context, l play.Listen) error
	// Claim reserves the delivery of listen id to client. It returns false
	// when the pair was already claimed.
	Claim(ctx context.Context, id, client string) (bool, error)
	// MarkResult stores the outcome of a claimed delivery.
	MarkResult(ctx context.Context, id, client, result, detail string) error
	// Recent returns up to limit listens, newest first.
	Recent(ctx context.Context, limit int) ([]play.Listen, error)
	Close() error
}

type deliveryKey struct {
	id, client string
}

type deliveryRecord struct {
	result string
	detail string
}

// MemoryLedger is an in-memory Ledger.
type MemoryLedger struct {
	mu         sync.Mutex
	listens    []play.Listen
	seen       map[string]bool
	deliveries map[deliveryKey]deliveryRecord
}

// NewMemoryLedger returns an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		seen:       make(map[string]bool),
		deliveries: make(map[deliveryKey]deliveryRecord),
	}
}

// Record implements Ledger.
func (m *MemoryLedger) Record(_ context.Context, l play.Listen) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[l.ID] {
		return nil
	}
	m.seen[l.ID] = true
	m.listens = append(m.listens, l)
	return nil
}

// Claim implements Ledger.
func (m *MemoryLedger) Claim(_ context.Context, id, client string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := deliveryKey{id, client}
	if _, ok := m.deliveries[k]; ok {
		return false, nil
	}
	m.deliveries[k] = deliveryRecord{result: resultClaimed}
	return true, nil
}

// MarkResult implements Ledger.
func (m *MemoryLedger) MarkResult(_ context.Context, id, client, result, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries[deliveryKey{id, client}] = deliveryRecord{result: result, detail: detail}
	return nil
}

// Recent implements Ledger.
func (m *MemoryLedger) Recent(_ context.Context, limit int) ([]play.Listen, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := slices.Clone(m.listens)
	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Result returns the recorded result of a delivery.
func (m *MemoryLedger) Result(id, client string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.deliveries[deliveryKey{id, client}]
	return r.result, ok
}

// Close implements Ledger.
func (m *MemoryLedger) Close() error { return nil }
