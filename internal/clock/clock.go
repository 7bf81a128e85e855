// Package clock abstracts wall time for the review engine.
//
// Every countdown in the engine (per-image timeouts, injected lag) is
// scheduled through a Clock. Production code uses System; scripted tests and
// the scenario harness use Manual, which only moves when told to and fires
// due timers in a fixed order.
package clock

import "time"

// Timer is a scheduled callback that can be cancelled.
// *time.Timer satisfies this interface.
type Timer interface {
	// Stop prevents the callback from running. Returns false if the
	// callback already ran or the timer was already stopped.
	Stop() bool
}

// Clock reports the current time and schedules single-shot callbacks.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// System is the real clock backed by package time.
//
// Thread-safety: System is stateless and safe for concurrent use.
// Callbacks run on their own goroutine, so callers must hand work back to
// the engine loop instead of mutating state directly.
type System struct{}

// Now returns time.Now(), which carries a monotonic reading.
func (System) Now() time.Time {
	return time.Now()
}

// AfterFunc wraps time.AfterFunc.
func (System) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
