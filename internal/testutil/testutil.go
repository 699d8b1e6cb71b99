// Package testutil provides deterministic id generation and clocks for
// tests, so golden snapshots and run metadata are byte-identical across
// runs.
package testutil

import (
	"fmt"
	"sync"
	"time"
)

// FixedIDs generates sequential ids with a fixed prefix: "cell-1",
// "cell-2", ... Implements store.IDGenerator.
//
// Thread-safety: safe for concurrent use via internal mutex.
type FixedIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewFixedIDs creates a generator with the given prefix.
// An empty prefix defaults to "cell".
func NewFixedIDs(prefix string) *FixedIDs {
	if prefix == "" {
		prefix = "cell"
	}
	return &FixedIDs{prefix: prefix}
}

// NewID returns the next sequential id.
func (g *FixedIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

// ManualClock is a time source advanced explicitly by the test.
//
// Thread-safety: safe for concurrent use via internal mutex.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a clock frozen at the given instant.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the current instant. Pass as a clock function:
//
//	sandbox.WithClock(clock.Now)
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
