// Package fault injects transient disturbances into a review session.
//
// Lag is the only fault coupled to the state machine: it forces a pause and
// restores the interrupted state when its timer runs out. Popups and crash
// dialogs are fire-and-forget calls on a Presenter.
package fault

import (
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/roach88/reviewpc/internal/batch"
	"github.com/roach88/reviewpc/internal/clock"
	"github.com/roach88/reviewpc/internal/events"
)

// DefaultLag is the lag duration used when none is configured.
const DefaultLag = 3 * time.Second

// Machine is the state-query and override surface the coordinator needs.
// *batch.Machine satisfies it.
type Machine interface {
	State() batch.State
	ForcePause(reason string) batch.State
	RestorePrevious() bool
}

// Sink receives the generation of a lag whose timer fired. It is called on
// the clock's goroutine and must not block.
type Sink func(gen uint64)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithPresenter sets where popups and crash dialogs go.
func WithPresenter(p Presenter) Option {
	return func(c *Coordinator) {
		c.presenter = p
	}
}

// WithRand sets the random source used to pick popup text.
func WithRand(r *rand.Rand) Option {
	return func(c *Coordinator) {
		c.rand = r
	}
}

// WithDefaultLag sets the lag used by InjectLag(0).
func WithDefaultLag(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.defaultLag = d
		}
	}
}

// Coordinator injects faults.
//
// Thread-safety: none, except that the sink may be invoked from a timer
// goroutine. Methods must be called from the engine loop.
type Coordinator struct {
	machine   Machine
	pub       events.Publisher
	clock     clock.Clock
	sink      Sink
	presenter Presenter
	rand      *rand.Rand

	defaultLag time.Duration

	gen      uint64
	timer    clock.Timer
	pending  bool
	deadline time.Time
}

// NewCoordinator creates a coordinator. Lag timers are scheduled on clk and
// reported through sink; the owner hands them back via ExpireLag.
func NewCoordinator(m Machine, pub events.Publisher, clk clock.Clock, sink Sink, opts ...Option) *Coordinator {
	c := &Coordinator{
		machine:    m,
		pub:        pub,
		clock:      clk,
		sink:       sink,
		presenter:  LogPresenter{},
		defaultLag: DefaultLag,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.rand == nil {
		c.rand = rand.New(rand.NewPCG(uint64(clk.Now().UnixNano()), 0x5eed))
	}
	return c
}

// InjectLag forces the machine into Paused for d and returns the state that
// will be restored. A non-positive d uses the default lag. Injecting while a
// lag is pending cancels the pending timer and starts a new one, and the
// restore target becomes the current state (Paused).
func (c *Coordinator) InjectLag(d time.Duration) batch.State {
	if d <= 0 {
		d = c.defaultLag
	}
	c.stopTimer()

	prior := c.machine.ForcePause(events.FaultLag)

	c.gen++
	gen := c.gen
	c.pending = true
	c.deadline = c.clock.Now().Add(d)
	sink := c.sink
	c.timer = c.clock.AfterFunc(d, func() {
		if sink != nil {
			sink(gen)
		}
	})

	slog.Info("lag injected", "duration", d, "restore", prior.String())
	c.pub.Publish(events.FaultInjected{
		Fault:    events.FaultLag,
		Duration: d,
		Detail:   "restore " + prior.String(),
	})
	return prior
}

// ExpireLag ends the lag with generation gen. Stale generations are
// ignored. Reports whether the machine was restored.
func (c *Coordinator) ExpireLag(gen uint64) bool {
	if !c.pending || gen != c.gen {
		return false
	}
	c.pending = false
	c.timer = nil
	return c.restore()
}

// CancelLag ends a pending lag immediately.
func (c *Coordinator) CancelLag() bool {
	if !c.pending {
		return false
	}
	c.stopTimer()
	c.pending = false
	c.gen++
	return c.restore()
}

// LagPending reports whether a lag timer is outstanding.
func (c *Coordinator) LagPending() bool {
	return c.pending
}

// LagRemaining returns the time left on a pending lag.
func (c *Coordinator) LagRemaining() time.Duration {
	if !c.pending {
		return 0
	}
	left := c.deadline.Sub(c.clock.Now())
	if left < 0 {
		return 0
	}
	return left
}

// InjectPopup shows a random distraction dialog.
func (c *Coordinator) InjectPopup() Popup {
	p := Popup{
		Title:   PopupTitles[c.rand.IntN(len(PopupTitles))],
		Message: PopupMessages[c.rand.IntN(len(PopupMessages))],
	}
	c.presenter.ShowPopup(p)
	c.pub.Publish(events.FaultInjected{Fault: events.FaultPopup, Detail: p.Title})
	return p
}

// InjectCrash shows the fake crash dialog.
func (c *Coordinator) InjectCrash() Crash {
	cr := DefaultCrash
	c.presenter.ShowCrash(cr)
	c.pub.Publish(events.FaultInjected{Fault: events.FaultCrash, Detail: cr.Title})
	return cr
}

func (c *Coordinator) restore() bool {
	restored := c.machine.RestorePrevious()
	if restored {
		slog.Info("lag ended", "state", c.machine.State().String())
	} else {
		slog.Debug("lag ended after operator override", "state", c.machine.State().String())
	}
	return restored
}

func (c *Coordinator) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
