// Package delay decides when a stamped packet has been held long enough.
package delay

import (
	"math"
	"sync/atomic"

	"firestige.xyz/impair/internal/random"
)

// Scheduler holds the effective delay of one direction. The worker reads it
// on every packet; with jitter configured the timer goroutine replaces it
// periodically with a fresh sample.
type Scheduler struct {
	mean   int64
	jitter int64

	current atomic.Int64
	normal  *random.Normal
}

// New creates a scheduler with the given mean and jitter, both in clock ticks.
// src is only consulted when jitter is non-zero.
func New(mean, jitter int64, src random.Source) *Scheduler {
	if mean < 0 {
		mean = 0
	}
	if jitter < 0 {
		jitter = -jitter
	}
	s := &Scheduler{mean: mean, jitter: jitter}
	if jitter != 0 {
		s.normal = random.NewNormal(src)
	}
	s.current.Store(mean)
	return s
}

// Mean returns the configured mean delay in ticks.
func (s *Scheduler) Mean() int64 { return s.mean }

// Jitter returns the configured standard deviation in ticks.
func (s *Scheduler) Jitter() int64 { return s.jitter }

// Jittered reports whether the effective delay needs periodic resampling.
func (s *Scheduler) Jittered() bool { return s.jitter != 0 }

// Enabled reports whether any packet will ever be held.
func (s *Scheduler) Enabled() bool { return s.mean != 0 || s.jitter != 0 }

// Effective returns the delay currently applied, in ticks.
func (s *Scheduler) Effective() int64 { return s.current.Load() }

// Eligible reports whether a packet stamped at stamp may leave at now.
func (s *Scheduler) Eligible(now, stamp int64) bool {
	return now-stamp >= s.current.Load()
}

// Resample draws a new effective delay from N(mean, jitter^2). Negative
// samples become zero. It must only be called from one goroutine.
func (s *Scheduler) Resample() int64 {
	if s.normal == nil {
		return s.current.Load()
	}
	v := s.normal.Sample(float64(s.mean), float64(s.jitter))
	d := int64(math.Round(v))
	if d < 0 {
		d = 0
	}
	s.current.Store(d)
	return d
}
