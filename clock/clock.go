package clock

import "time"

// Timer is the subset of *time.Timer the reporting pipeline waits on.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

type Clock interface {
	Now() time.Time
	// TimerUntil returns a timer which fires once the clock reaches t.
	TimerUntil(t time.Time) Timer
}

type RealtimeClock struct{}

func NewRealtimeClock() RealtimeClock {
	return RealtimeClock{}
}

func (RealtimeClock) Now() time.Time { return time.Now() }

func (RealtimeClock) TimerUntil(t time.Time) Timer {
	return &realTimer{t: time.NewTimer(time.Until(t))}
}

type realTimer struct {
	t *time.Timer
}

func (r *realTimer) C() <-chan time.Time { return r.t.C }

func (r *realTimer) Stop() bool { return r.t.Stop() }
