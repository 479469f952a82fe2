package reconcile

import (
	"sync"
	"time"
)

// Gate is the per-entity rate limiter consulted before any storage access.
// It remembers the source timestamp of the last committed update for each
// external id; entries are written only through Commit.
type Gate struct {
	mu          sync.Mutex
	minInterval time.Duration
	last        map[string]time.Time
}

// NewGate creates a gate. A zero interval accepts every update.
func NewGate(minInterval time.Duration) *Gate {
	return &Gate{
		minInterval: minInterval,
		last:        make(map[string]time.Time),
	}
}

// Allow reports whether an update stamped t for externalID may proceed.
func (g *Gate) Allow(externalID string, t time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	prev, ok := g.last[externalID]
	if !ok {
		return true
	}
	return t.Sub(prev) >= g.minInterval
}

// Commit records t as the last applied timestamp for externalID.
func (g *Gate) Commit(externalID string, t time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last[externalID] = t
}

// Forget drops the cached entry, e.g. after the entity is deleted.
func (g *Gate) Forget(externalID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.last, externalID)
}

// MinInterval returns the interval currently enforced.
func (g *Gate) MinInterval() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.minInterval
}

// SetMinInterval changes the interval for subsequent Allow calls.
func (g *Gate) SetMinInterval(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.minInterval = d
}
