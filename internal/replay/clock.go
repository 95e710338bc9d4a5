package replay

import (
	"sync/atomic"
	"time"
)

// Clock supplies the current wall-clock time in whole seconds.
// Implementations must be safe for concurrent use.
type Clock interface {
	Now() uint64
}

// ClockFunc adapts a function to Clock
type ClockFunc func() uint64

// Now calls f
func (f ClockFunc) Now() uint64 { return f() }

// MonotonicClock clamps an underlying clock so it never runs backwards.
// Wall clocks can step back under NTP; the history assumes they don't.
type MonotonicClock struct {
	src  Clock
	last atomic.Uint64
}

// NewMonotonicClock wraps src
func NewMonotonicClock(src Clock) *MonotonicClock {
	return &MonotonicClock{src: src}
}

// NewSystemClock returns a monotonic clock over time.Now
func NewSystemClock() *MonotonicClock {
	return NewMonotonicClock(ClockFunc(func() uint64 {
		return uint64(time.Now().Unix())
	}))
}

// Now returns max(src.Now(), any value previously returned)
func (c *MonotonicClock) Now() uint64 {
	now := c.src.Now()
	for {
		last := c.last.Load()
		if now <= last {
			return last
		}
		if c.last.CompareAndSwap(last, now) {
			return now
		}
	}
}

// ManualClock is a Clock moved by hand, for tests and simulations
type ManualClock struct {
	now atomic.Uint64
}

// NewManualClock returns a clock reading start
func NewManualClock(start uint64) *ManualClock {
	c := &ManualClock{}
	c.now.Store(start)
	return c
}

// Now returns the current reading
func (c *ManualClock) Now() uint64 { return c.now.Load() }

// Set moves the clock to t
func (c *ManualClock) Set(t uint64) { c.now.Store(t) }

// Advance moves the clock forward by d seconds
func (c *ManualClock) Advance(d uint64) { c.now.Add(d) }
