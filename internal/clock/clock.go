// Package clock provides the monotonic tick source used to stamp packets and
// to drive the timer unit.
package clock

import (
	"sync/atomic"
	"time"
)

// Clock reports monotonic time in ticks. Hz is the number of ticks per second.
type Clock interface {
	Now() int64
	Hz() int64
}

// Monotonic counts nanoseconds since it was created, using the runtime's
// monotonic reading so wall clock steps never move it backwards.
type Monotonic struct {
	start time.Time
}

// NewMonotonic creates a nanosecond tick clock.
func NewMonotonic() *Monotonic {
	return &Monotonic{start: time.Now()}
}

// Now returns nanoseconds elapsed since creation.
func (m *Monotonic) Now() int64 { return int64(time.Since(m.start)) }

// Hz returns 1e9.
func (m *Monotonic) Hz() int64 { return int64(time.Second) }

// Manual is a clock that only moves when told to. It is safe to read from
// several goroutines while one goroutine advances it.
type Manual struct {
	now atomic.Int64
	hz  int64
}

// NewManual creates a manual clock at tick 0 running at hz ticks per second.
func NewManual(hz int64) *Manual {
	return &Manual{hz: hz}
}

// Now returns the current tick.
func (m *Manual) Now() int64 { return m.now.Load() }

// Hz returns the configured frequency.
func (m *Manual) Hz() int64 { return m.hz }

// Advance moves the clock forward by d ticks and returns the new reading.
func (m *Manual) Advance(d int64) int64 { return m.now.Add(d) }

// Set moves the clock to an absolute tick.
func (m *Manual) Set(t int64) { m.now.Store(t) }

// MicrosToTicks converts microseconds to ticks of c, rounding the per-microsecond
// tick count up so a non-zero delay never collapses to zero.
func MicrosToTicks(c Clock, us int64) int64 {
	perUs := (c.Hz() + 999_999) / 1_000_000
	return perUs * us
}

// TicksToDuration converts a tick count of c to a time.Duration.
func TicksToDuration(c Clock, ticks int64) time.Duration {
	hz := c.Hz()
	if hz == int64(time.Second) {
		return time.Duration(ticks)
	}
	return time.Duration(float64(ticks) * float64(time.Second) / float64(hz))
}
