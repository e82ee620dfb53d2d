package clock

import (
	"sync"
	"time"
)

// Clock provides time and scheduling for the override components.
// This interface allows time to be driven manually in tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	// Stop prevents the callback from firing. It returns false if the
	// callback already fired or the timer was already stopped.
	Stop() bool
}

// Real provides actual system time.
type Real struct{}

// Now returns the current system time.
func (Real) Now() time.Time {
	return time.Now()
}

// AfterFunc schedules f on its own goroutine after d.
func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Ticker calls a function once per interval until stopped. It re-arms a
// single timer after every fire, so at most one callback is pending.
type Ticker struct {
	clock    Clock
	interval time.Duration
	fn       func()

	mu      sync.Mutex
	timer   Timer
	stopped bool
}

// NewTicker starts a ticker on c. The first call happens one interval from now.
func NewTicker(c Clock, interval time.Duration, fn func()) *Ticker {
	t := &Ticker{
		clock:    c,
		interval: interval,
		fn:       fn,
	}
	t.mu.Lock()
	t.timer = c.AfterFunc(interval, t.fire)
	t.mu.Unlock()
	return t
}

func (t *Ticker) fire() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.timer = t.clock.AfterFunc(t.interval, t.fire)
	t.mu.Unlock()

	t.fn()
}

// Stop cancels the pending tick. Safe to call more than once and from
// inside the tick function.
func (t *Ticker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
	}
}
