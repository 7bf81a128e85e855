package events

import (
	"log/slog"
	"sync"
	"time"
)

// Handler receives published events.
type Handler func(Event)

// Publisher is the publishing side of a Bus. Components depend on this
// interface rather than on *Bus.
type Publisher interface {
	Publish(p Payload) Event
}

// Bus is a synchronous, ordered publish/subscribe bus.
//
// Publish stamps the payload with the next Seq and delivers it to every
// matching subscriber, in subscription order, before returning. A publish
// issued from inside a handler is queued and delivered after the current
// event has reached all subscribers.
//
// A panicking handler is recovered and logged; other subscribers still
// receive the event.
type Bus struct {
	mu         sync.Mutex
	seq        *Sequence
	now        func() time.Time
	subs       []subscription
	nextID     int
	pending    []Event
	delivering bool
}

type subscription struct {
	id    int
	kinds map[Kind]bool // nil means all kinds
	fn    Handler
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithSequence sets the logical clock used to stamp events.
func WithSequence(seq *Sequence) BusOption {
	return func(b *Bus) {
		b.seq = seq
	}
}

// WithTimeSource sets the function used to stamp Event.At.
func WithTimeSource(now func() time.Time) BusOption {
	return func(b *Bus) {
		b.now = now
	}
}

// NewBus creates an empty bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		seq: NewSequence(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers fn for the given kinds, or for every kind when none
// are given. Returns an unsubscribe function.
func (b *Bus) Subscribe(fn Handler, kinds ...Kind) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := subscription{id: b.nextID, fn: fn}
	if len(kinds) > 0 {
		sub.kinds = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = true
		}
	}
	b.subs = append(b.subs, sub)

	id := sub.id
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish stamps and delivers p. The returned Event carries the assigned Seq.
func (b *Bus) Publish(p Payload) Event {
	b.mu.Lock()
	ev := Event{
		Seq:     b.seq.Next(),
		At:      b.now(),
		Payload: p,
	}
	b.pending = append(b.pending, ev)
	if b.delivering {
		b.mu.Unlock()
		return ev
	}
	b.delivering = true

	for len(b.pending) > 0 {
		next := b.pending[0]
		b.pending[0] = Event{}
		b.pending = b.pending[1:]
		subs := make([]subscription, len(b.subs))
		copy(subs, b.subs)
		b.mu.Unlock()

		for _, s := range subs {
			if s.kinds != nil && !s.kinds[next.Kind()] {
				continue
			}
			deliver(s.fn, next)
		}

		b.mu.Lock()
	}
	b.pending = b.pending[:0]
	b.delivering = false
	b.mu.Unlock()
	return ev
}

// Seq returns the last sequence number issued.
func (b *Bus) Seq() int64 {
	return b.seq.Current()
}

func deliver(fn Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("event subscriber panicked",
				"kind", ev.Kind(),
				"seq", ev.Seq,
				"panic", r,
			)
		}
	}()
	fn(ev)
}
