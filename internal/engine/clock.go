package engine

import "sync/atomic"

// Clock hands out the seq numbers that order an engine's output.
//
// Statement handles, results and unmatched events all draw from the same
// clock, so a seq identifies one engine output and sorting by seq gives
// the order the engine produced them in, whichever goroutine sent the
// event. Safe for concurrent use.
type Clock struct {
	seq atomic.Int64
}

// NewClock returns a clock whose first Next is 1.
func NewClock() *Clock {
	return NewClockAt(0)
}

// NewClockAt creates a clock whose first Next returns start+1.
// Sessions resume from the last seq already held in a result store.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next advances the clock and returns the new seq.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last seq handed out, or the start value.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
