package clock

import (
	"sync"
	"time"
)

// SimulatedClock provides control over the exact time and how far to advance
// it. Timers fire only when Advance moves the clock past their deadline.
type SimulatedClock struct {
	mux    sync.Mutex
	t      time.Time
	timers []*simulatedTimer
}

func NewSimulatedClock() *SimulatedClock {
	return &SimulatedClock{t: time.Date(2020, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *SimulatedClock) Now() time.Time {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.t
}

func (c *SimulatedClock) TimerUntil(t time.Time) Timer {
	c.mux.Lock()
	defer c.mux.Unlock()

	timer := &simulatedTimer{
		clock:    c,
		deadline: t,
		ch:       make(chan time.Time, 1),
	}
	if !t.After(c.t) {
		timer.ch <- c.t
		return timer
	}
	c.timers = append(c.timers, timer)
	return timer
}

// Advance moves the clock forward, firing every timer whose deadline has
// been reached.
func (c *SimulatedClock) Advance(d time.Duration) {
	c.mux.Lock()
	defer c.mux.Unlock()

	c.t = c.t.Add(d)
	pending := c.timers[:0]
	for _, timer := range c.timers {
		if timer.deadline.After(c.t) {
			pending = append(pending, timer)
			continue
		}
		timer.ch <- c.t
	}
	c.timers = pending
}

func (c *SimulatedClock) remove(timer *simulatedTimer) bool {
	c.mux.Lock()
	defer c.mux.Unlock()

	for i, pending := range c.timers {
		if pending == timer {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return true
		}
	}
	return false
}

type simulatedTimer struct {
	clock    *SimulatedClock
	deadline time.Time
	ch       chan time.Time
}

func (t *simulatedTimer) C() <-chan time.Time { return t.ch }

func (t *simulatedTimer) Stop() bool { return t.clock.remove(t) }
