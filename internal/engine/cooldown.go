package engine

import (
	"sync"
	"time"
)

// CooldownGate decides atomically whether a rule may fire at a given
// instant. The check-and-update is one critical section so that two
// concurrent evaluations of the same rule cannot both pass the check
// and double-fire.
type CooldownGate interface {
	// TryFire returns true and records the firing time when the
	// cooldown has elapsed (or was never armed).
	TryFire(now time.Time) bool
	// LastFired returns the most recent firing time, zero if never.
	LastFired() time.Time
}

// cooldownGate is the per-rule gate. Each rule gets its own lock;
// unrelated rules never contend.
type cooldownGate struct {
	mu        sync.Mutex
	cooldown  time.Duration
	lastFired time.Time
}

func newCooldownGate(cooldown time.Duration) *cooldownGate {
	return &cooldownGate{cooldown: cooldown}
}

func (g *cooldownGate) TryFire(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cooldown > 0 && !g.lastFired.IsZero() && !g.lastFired.Before(now.Add(-g.cooldown)) {
		return false
	}
	g.lastFired = now
	return true
}

func (g *cooldownGate) LastFired() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastFired
}
