// Package clock lets the control loop run against the wall clock in
// production and a hand-driven clock in tests.
package clock

import (
	"sync"
	"time"
)

// Clock is the time source used by the router, scheduler and control loop.
type Clock interface {
	Now() time.Time
	Sleep(time.Duration)
}

// System implements Clock using the system clock.
type System struct{}

// Now returns the current time.
func (System) Now() time.Time { return time.Now() }

// Sleep blocks for the given duration.
func (System) Sleep(d time.Duration) { time.Sleep(d) }

// Manual is a Clock that only moves when told to. Sleep advances the clock
// instead of blocking, so pacing delays are observable without waiting.
type Manual struct {
	mu    sync.Mutex
	now   time.Time
	slept time.Duration
}

// NewManual returns a Manual clock set to start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the current simulated time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Sleep advances the clock by d.
func (m *Manual) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.slept += d
	m.mu.Unlock()
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// Slept returns the total time passed to Sleep.
func (m *Manual) Slept() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slept
}
