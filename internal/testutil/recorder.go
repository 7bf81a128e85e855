package testutil

import (
	"sync"

	"github.com/roach88/reviewpc/internal/events"
)

// Recorder collects published events for assertions.
//
// Subscribe it to a bus with bus.Subscribe(rec.Record). The recorded slice
// keeps publication order, so tests can check exact event sequences.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type Recorder struct {
	mu     sync.Mutex
	events []events.Event
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Attach creates a recorder subscribed to every kind on bus.
func Attach(bus *events.Bus) *Recorder {
	r := NewRecorder()
	bus.Subscribe(r.Record)
	return r
}

// Record appends ev. It has the events.Handler signature.
func (r *Recorder) Record(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of everything recorded.
func (r *Recorder) Events() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Kinds returns the kinds of all recorded events, in order.
func (r *Recorder) Kinds() []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Kind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind()
	}
	return out
}

// OfKind returns the payloads of recorded events with the given kind.
func (r *Recorder) OfKind(kind events.Kind) []events.Payload {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Payload
	for _, ev := range r.events {
		if ev.Kind() == kind {
			out = append(out, ev.Payload)
		}
	}
	return out
}

// Count returns how many events of kind were recorded.
func (r *Recorder) Count(kind events.Kind) int {
	return len(r.OfKind(kind))
}

// Last returns the most recent event of kind, if any.
func (r *Recorder) Last(kind events.Kind) (events.Payload, bool) {
	payloads := r.OfKind(kind)
	if len(payloads) == 0 {
		return nil, false
	}
	return payloads[len(payloads)-1], true
}

// States returns the target state of every state change, in order.
func (r *Recorder) States() []string {
	var out []string
	for _, p := range r.OfKind(events.KindStateChanged) {
		out = append(out, p.(events.StateChanged).To)
	}
	return out
}

// Reset drops everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
