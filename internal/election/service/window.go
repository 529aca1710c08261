package service

import (
	"sync"
	"time"

	"github.com/jmerrifield20/campusvote/internal/election/model"
)

// Clock is the single time source for window checks and record timestamps.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC, truncated to the microsecond
// precision PostgreSQL stores, so a value written and read back compares equal.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// FixedClock is a settable Clock for tests and replays.
type FixedClock struct {
	mu sync.Mutex
	t  time.Time
}

// NewFixedClock returns a FixedClock reading t.
func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{t: t.UTC()}
}

// Now implements Clock.
func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Set moves the clock to t.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t.UTC()
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// WindowGate decides whether positions are open for voting. Listing the
// ballot and committing a vote both go through the same gate and clock.
type WindowGate struct {
	clock Clock
}

// NewWindowGate creates a WindowGate. A nil clock means SystemClock.
func NewWindowGate(clock Clock) *WindowGate {
	if clock == nil {
		clock = SystemClock{}
	}
	return &WindowGate{clock: clock}
}

// Now returns the canonical current instant.
func (g *WindowGate) Now() time.Time {
	return g.clock.Now()
}

// IsOpen reports whether now lies in [VotingOpens, VotingCloses).
func (g *WindowGate) IsOpen(p *model.Position, now time.Time) bool {
	return !now.Before(p.VotingOpens) && now.Before(p.VotingCloses)
}

// Open filters positions down to those open at now.
func (g *WindowGate) Open(positions []*model.Position, now time.Time) []*model.Position {
	out := make([]*model.Position, 0, len(positions))
	for _, p := range positions {
		if g.IsOpen(p, now) {
			out = append(out, p)
		}
	}
	return out
}

// Closed returns the positions that are not open at now.
func (g *WindowGate) Closed(positions []*model.Position, now time.Time) []*model.Position {
	var out []*model.Position
	for _, p := range positions {
		if !g.IsOpen(p, now) {
			out = append(out, p)
		}
	}
	return out
}
