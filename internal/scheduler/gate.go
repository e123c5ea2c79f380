package scheduler

import (
	"sync"
	"time"
)

// gate lets a job run at most once per window and never twice at the same time.
type gate struct {
	mu      sync.Mutex
	window  time.Duration
	lastRun time.Time
	busy    bool
}

func newGate(window time.Duration) *gate {
	return &gate{window: window}
}

// TryAcquire reports whether the caller may run now. On success the run is
// recorded and the gate stays closed until Release.
func (g *gate) TryAcquire(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.busy {
		return false
	}
	if !g.lastRun.IsZero() && now.Sub(g.lastRun) < g.window {
		return false
	}

	g.lastRun = now
	g.busy = true
	return true
}

func (g *gate) Release() {
	g.mu.Lock()
	g.busy = false
	g.mu.Unlock()
}

func (g *gate) LastRun() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastRun
}

func (g *gate) Window() time.Duration {
	return g.window
}
