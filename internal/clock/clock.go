// Package clock is the timer service the coordinator arms items on.
package clock

import "time"

// Timer is a cancellable handle for a pending callback.
type Timer interface {
	// Stop prevents the callback from running. It returns false if the
	// callback already ran or was already stopped.
	Stop() bool
}

type Clock interface {
	Now() time.Time
	// AfterFunc runs f in its own goroutine once d has elapsed. A
	// non-positive d runs f as soon as possible.
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

// Real returns the wall clock.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	if d < 0 {
		d = 0
	}
	return time.AfterFunc(d, f)
}
