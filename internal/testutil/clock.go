package testutil

import "sync"

// DeterministicClock is a resettable millisecond clock for stamping test
// events. Each Next advances by Step from Start.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu    sync.Mutex
	start int64
	step  int64
	ts    int64
}

// DefaultStart is 2024-01-01T00:00:00Z in milliseconds.
const DefaultStart int64 = 1704067200000

// NewDeterministicClock creates a clock whose first Next returns
// DefaultStart + 1000.
func NewDeterministicClock() *DeterministicClock {
	return NewDeterministicClockAt(DefaultStart, 1000)
}

// NewDeterministicClockAt creates a clock starting at start, advancing by
// step on each Next.
func NewDeterministicClockAt(start, step int64) *DeterministicClock {
	return &DeterministicClock{start: start, step: step, ts: start}
}

// Next advances the clock and returns the new timestamp.
func (c *DeterministicClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ts += c.step
	return c.ts
}

// Current returns the current timestamp without advancing.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ts
}

// Reset rewinds the clock to its start.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ts = c.start
}
