// Package timeout implements the per-image countdown.
//
// A Service holds at most one live countdown. Every Arm bumps a generation
// number; the clock callback only reports that generation back through the
// sink. The owner then calls Expire on its own thread, and a generation that
// was superseded or disarmed in the meantime is rejected. A cancelled
// countdown therefore never expires, and an armed one expires exactly once.
package timeout

import (
	"time"

	"github.com/roach88/reviewpc/internal/clock"
)

// MinDuration is the shortest countdown the service will run.
// Shorter requests are raised to it.
const MinDuration = 100 * time.Millisecond

// DefaultDuration is used when the service is created with a non-positive
// default.
const DefaultDuration = 10 * time.Second

// Sink receives the generation of a countdown whose clock timer fired.
// It is called on the clock's goroutine and must not block.
type Sink func(gen uint64)

// Service is a single-shot countdown.
//
// Thread-safety: none, except that the sink may be invoked from a timer
// goroutine. All methods must be called from the owner's thread.
type Service struct {
	clock clock.Clock
	sink  Sink
	def   time.Duration

	gen      uint64
	timer    clock.Timer
	active   bool
	deadline time.Time
	duration time.Duration
}

// New creates an inactive service. A non-positive def uses DefaultDuration.
func New(clk clock.Clock, sink Sink, def time.Duration) *Service {
	if def <= 0 {
		def = DefaultDuration
	}
	return &Service{
		clock: clk,
		sink:  sink,
		def:   normalize(def),
	}
}

// Default returns the configured default duration.
func (s *Service) Default() time.Duration {
	return s.def
}

// SetDefault changes the default used by ArmDefault. Non-positive values
// are ignored.
func (s *Service) SetDefault(d time.Duration) {
	if d > 0 {
		s.def = normalize(d)
	}
}

// Arm starts a countdown of d, discarding any in-flight one, and returns
// its generation.
func (s *Service) Arm(d time.Duration) uint64 {
	s.stopTimer()

	d = normalize(d)
	s.gen++
	gen := s.gen
	s.active = true
	s.duration = d
	s.deadline = s.clock.Now().Add(d)
	sink := s.sink
	s.timer = s.clock.AfterFunc(d, func() {
		if sink != nil {
			sink(gen)
		}
	})
	return gen
}

// ArmDefault arms the default duration.
func (s *Service) ArmDefault() uint64 {
	return s.Arm(s.def)
}

// Disarm stops the countdown without expiring. Reports whether one was
// active.
func (s *Service) Disarm() bool {
	if !s.active {
		return false
	}
	s.stopTimer()
	s.active = false
	s.gen++
	return true
}

// Suspend disarms and returns what was left on the countdown. Returns 0
// when nothing was active.
func (s *Service) Suspend() time.Duration {
	if !s.active {
		return 0
	}
	left := s.Remaining()
	s.Disarm()
	return left
}

// Expire consumes a fired generation. Reports true only for the live
// countdown, after which the service is inactive.
func (s *Service) Expire(gen uint64) bool {
	if !s.active || gen != s.gen {
		return false
	}
	s.active = false
	s.timer = nil
	return true
}

// Active reports whether a countdown is running.
func (s *Service) Active() bool {
	return s.active
}

// Remaining returns the time left, clamped at zero. 0 when inactive.
func (s *Service) Remaining() time.Duration {
	if !s.active {
		return 0
	}
	left := s.deadline.Sub(s.clock.Now())
	if left < 0 {
		return 0
	}
	return left
}

// Duration returns the length of the current (or last) countdown.
func (s *Service) Duration() time.Duration {
	return s.duration
}

// Generation returns the generation of the most recent Arm or Disarm.
func (s *Service) Generation() uint64 {
	return s.gen
}

func (s *Service) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func normalize(d time.Duration) time.Duration {
	if d < MinDuration {
		return MinDuration
	}
	return d
}

// Seconds converts a configured number of seconds to a duration.
func Seconds(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}
