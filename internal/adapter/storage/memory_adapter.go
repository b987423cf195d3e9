package storage

import (
	"context"
	"sync"
)

// MemoryGuard is the in-process idempotency guard used when no redis is
// configured. Forgotten on restart, which is acceptable: the ledger-level
// message-ref check still catches replays of persisted orders.
type MemoryGuard struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{seen: make(map[string]struct{})}
}

func (m *MemoryGuard) FirstSeen(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.seen[key]; ok {
		return false, nil
	}
	m.seen[key] = struct{}{}
	return true, nil
}
