// Package timer runs periodic callbacks from a single busy-polling
// goroutine. It replaces interrupt-driven timers: every task is fired from
// Run's loop when the clock reaches its deadline.
package timer

import (
	"fmt"
	"sync/atomic"

	"firestige.xyz/impair/internal/clock"
)

// Func is a periodic callback. now is the clock reading of the poll that
// fired it and periods the number of whole periods that elapsed since the
// previous call, which is more than one when the poll ran late.
type Func func(now, periods int64)

type task struct {
	name   string
	period int64
	next   int64
	fn     Func

	fired   uint64
	periods uint64
}

// Manager owns a set of periodic tasks.
type Manager struct {
	clk     clock.Clock
	tasks   []*task
	started bool
}

// New creates an empty manager reading clk.
func New(clk clock.Clock) *Manager {
	return &Manager{clk: clk}
}

// Add registers fn to run every period ticks, starting one period from now.
// Tasks must be added before Run.
func (m *Manager) Add(name string, period int64, fn Func) error {
	if m.started {
		return fmt.Errorf("timer: cannot add task %q while running", name)
	}
	if period <= 0 {
		return fmt.Errorf("timer: task %q period must be positive, got %d", name, period)
	}
	m.tasks = append(m.tasks, &task{
		name:   name,
		period: period,
		next:   m.clk.Now() + period,
		fn:     fn,
	})
	return nil
}

// Len returns the number of registered tasks.
func (m *Manager) Len() int { return len(m.tasks) }

// Poll calls every task whose deadline has passed at now, once, with the
// number of periods that elapsed, and returns the number of callbacks made.
// A late poll never loses periods: tasks that accumulate, such as token
// refills, credit all of them in one call.
func (m *Manager) Poll(now int64) int {
	n := 0
	for _, t := range m.tasks {
		if now < t.next {
			continue
		}
		periods := (now-t.next)/t.period + 1
		t.fn(now, periods)
		t.next += periods * t.period
		t.fired++
		t.periods += uint64(periods)
		n++
	}
	return n
}

// Run polls the clock until stop is set.
func (m *Manager) Run(stop *atomic.Bool) {
	m.started = true
	for !stop.Load() {
		m.Poll(m.clk.Now())
	}
}

// TaskStats reports how often a task has fired and how many periods those
// calls covered.
type TaskStats struct {
	Name    string
	Fired   uint64
	Periods uint64
}

// Stats returns per-task counters. It must not race with Run.
func (m *Manager) Stats() []TaskStats {
	out := make([]TaskStats, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, TaskStats{Name: t.name, Fired: t.fired, Periods: t.periods})
	}
	return out
}
