package engine

import (
	"sync/atomic"

	"github.com/roach88/roomdag/internal/event"
)

// Clock allocates event idx values.
//
// Every admitted event gets a strictly increasing idx from Next. A failed
// commit burns its idx; idx values are never reused.
//
// Clock is safe for concurrent use.
type Clock struct {
	idx atomic.Uint64
}

// NewClock creates a clock whose first Next returns 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock resuming after last, typically the store's
// LastIdx.
func NewClockAt(last event.Idx) *Clock {
	c := &Clock{}
	c.idx.Store(uint64(last))
	return c
}

// Next returns the next idx.
func (c *Clock) Next() event.Idx {
	return event.Idx(c.idx.Add(1))
}

// Current returns the last idx handed out.
func (c *Clock) Current() event.Idx {
	return event.Idx(c.idx.Load())
}
