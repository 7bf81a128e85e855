package keys

import (
	"fmt"
	"log/slog"

	"github.com/roach88/reviewpc/internal/batch"
	"github.com/roach88/reviewpc/internal/events"
)

// Machine is the part of the batch state machine the router drives.
// *batch.Machine satisfies it.
type Machine interface {
	State() batch.State
	Session() batch.Session
	RecordAccept() bool
	RecordReject() bool
	RecordTimeout() bool
	ConfirmBatch() bool
	CancelBatch() bool
}

// Router maps keys to machine operations according to the current state.
//
// After a timeout has been observed while Running, the router waits for the
// operator: the next Accept or Reject is recorded as a timeout rather than a
// plain judgment, and the flag clears. Progress never advances on expiry
// alone.
//
// Thread-safety: none; driven from the engine loop.
type Router struct {
	machine Machine
	pub     events.Publisher

	awaitingTimeoutKey bool
}

// NewRouter creates a router over m that reports handled keys on pub.
func NewRouter(m Machine, pub events.Publisher) *Router {
	return &Router{machine: m, pub: pub}
}

// ObserveTimeout records an expired countdown. Only meaningful while
// Running; reports whether the flag was set.
func (r *Router) ObserveTimeout() bool {
	if r.machine.State() != batch.Running {
		return false
	}
	r.awaitingTimeoutKey = true
	return true
}

// Awaiting reports whether the next judgment key completes a timeout.
func (r *Router) Awaiting() bool {
	return r.awaitingTimeoutKey
}

// Reset clears the post-timeout flag. The engine calls it whenever the
// image under review changes or the batch ends.
func (r *Router) Reset() {
	r.awaitingTimeoutKey = false
}

// Route applies k and reports whether it was handled.
func (r *Router) Route(k Key) bool {
	switch r.machine.State() {
	case batch.WaitingConfirm:
		return r.routeConfirm(k)
	case batch.Running:
		return r.routeJudgment(k)
	default:
		slog.Debug("key ignored", "key", k.Label(), "state", r.machine.State().String())
		return false
	}
}

func (r *Router) routeConfirm(k Key) bool {
	var handled bool
	var desc string
	switch k {
	case Confirm:
		handled = r.machine.ConfirmBatch()
		desc = "Enter - Batch confirmed"
	case Cancel:
		handled = r.machine.CancelBatch()
		desc = "Esc - Batch cancelled"
	}
	if !handled {
		slog.Debug("key ignored", "key", k.Label(), "state", batch.WaitingConfirm.String())
		return false
	}
	r.awaitingTimeoutKey = false
	r.publish(k, desc, false)
	return true
}

func (r *Router) routeJudgment(k Key) bool {
	if k != Accept && k != Reject {
		slog.Debug("key ignored", "key", k.Label(), "state", batch.Running.String())
		return false
	}

	before := r.machine.Session().Index
	afterTimeout := r.awaitingTimeoutKey

	var handled bool
	switch {
	case afterTimeout:
		handled = r.machine.RecordTimeout()
	case k == Accept:
		handled = r.machine.RecordAccept()
	default:
		handled = r.machine.RecordReject()
	}
	if !handled {
		return false
	}
	r.awaitingTimeoutKey = false

	s := r.machine.Session()
	var detail string
	if k == Accept && !afterTimeout {
		detail = fmt.Sprintf("Image %d -> %d, OK count: %d", before+1, s.Index+1, s.OK)
	} else {
		detail = fmt.Sprintf("Image %d -> %d, NG count: %d", before+1, s.Index+1, s.NG)
	}
	if afterTimeout {
		detail += " (timeout)"
	}
	r.publish(k, k.Label()+" - "+detail, afterTimeout)
	return true
}

func (r *Router) publish(k Key, desc string, afterTimeout bool) {
	s := r.machine.Session()
	r.pub.Publish(events.KeyHandled{
		Key:          k.Label(),
		Description:  desc,
		OK:           s.OK,
		NG:           s.NG,
		Index:        s.CurrentImage(),
		Total:        s.BatchSize,
		AfterTimeout: afterTimeout,
	})
}
