package harness

import (
	"time"

	"github.com/roach88/reviewpc/internal/engine"
	"github.com/roach88/reviewpc/internal/events"
)

// TraceEvent is one published event as seen by assertions and golden files.
type TraceEvent struct {
	Seq    int64          `json:"seq"`
	Kind   string         `json:"kind"`
	Fields map[string]any `json:"fields"`

	// Elapsed is the manual clock's offset from the scenario start.
	Elapsed time.Duration `json:"elapsed"`
}

func newTraceEvent(ev events.Event, start time.Time) TraceEvent {
	return TraceEvent{
		Seq:     ev.Seq,
		Kind:    string(ev.Kind()),
		Fields:  ev.Fields(),
		Elapsed: ev.At.Sub(start),
	}
}

// canonicalMap returns the event's golden representation.
func (e TraceEvent) canonicalMap() map[string]any {
	m := make(map[string]any, len(e.Fields)+1)
	for k, v := range e.Fields {
		m[k] = v
	}
	m["t_ms"] = e.Elapsed.Milliseconds()
	return m
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every step expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace contains every published event in seq order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Final is the engine snapshot after the last step.
	Final engine.Snapshot `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
