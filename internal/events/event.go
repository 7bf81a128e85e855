package events

import "time"

// Kind names an event type. Values are stable; they are written to the
// audit store and to golden traces.
type Kind string

const (
	KindStateChanged   Kind = "state_changed"
	KindBatchStarted   Kind = "batch_started"
	KindImagePosition  Kind = "image_position_changed"
	KindProgress       Kind = "progress_updated"
	KindBatchCompleted Kind = "batch_completed"
	KindBatchClosed    Kind = "batch_closed"
	KindTimeoutExpired Kind = "timeout_expired"
	KindKeyHandled     Kind = "key_handled"
	KindFaultInjected  Kind = "fault_injected"
)

// AllKinds lists every kind in declaration order.
var AllKinds = []Kind{
	KindStateChanged,
	KindBatchStarted,
	KindImagePosition,
	KindProgress,
	KindBatchCompleted,
	KindBatchClosed,
	KindTimeoutExpired,
	KindKeyHandled,
	KindFaultInjected,
}

// Payload is the typed body of an event.
//
// Fields returns the payload as a flat map of strings, ints and bools so it
// can be serialised canonically.
type Payload interface {
	Kind() Kind
	Fields() map[string]any
}

// Event is a published payload stamped with its sequence number and the
// engine clock's time at publication.
type Event struct {
	Seq     int64
	At      time.Time
	Payload Payload
}

// Kind returns the payload's kind.
func (e Event) Kind() Kind {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Kind()
}

// Fields returns the payload fields plus "kind" and "seq".
// At is left out so traces stay independent of wall time.
func (e Event) Fields() map[string]any {
	m := map[string]any{
		"kind": string(e.Kind()),
		"seq":  e.Seq,
	}
	if e.Payload != nil {
		for k, v := range e.Payload.Fields() {
			m[k] = v
		}
	}
	return m
}

// StateChanged reports a batch state transition. States are carried as
// their display names.
type StateChanged struct {
	From   string
	To     string
	Reason string
}

func (StateChanged) Kind() Kind { return KindStateChanged }

func (p StateChanged) Fields() map[string]any {
	m := map[string]any{"from": p.From, "to": p.To}
	if p.Reason != "" {
		m["reason"] = p.Reason
	}
	return m
}

// BatchStarted is published when a new batch begins.
type BatchStarted struct {
	Batch int
	Size  int
}

func (BatchStarted) Kind() Kind { return KindBatchStarted }

func (p BatchStarted) Fields() map[string]any {
	return map[string]any{"batch": p.Batch, "size": p.Size}
}

// ImagePositionChanged reports the 1-based image under review.
type ImagePositionChanged struct {
	Index int
	Total int
}

func (ImagePositionChanged) Kind() Kind { return KindImagePosition }

func (p ImagePositionChanged) Fields() map[string]any {
	return map[string]any{"index": p.Index, "total": p.Total}
}

// ProgressUpdated carries the running tallies.
type ProgressUpdated struct {
	OK int
	NG int
}

func (ProgressUpdated) Kind() Kind { return KindProgress }

func (p ProgressUpdated) Fields() map[string]any {
	return map[string]any{"ok": p.OK, "ng": p.NG}
}

// BatchCompleted is published when the last image of a batch is judged.
type BatchCompleted struct {
	Batch    int
	OK       int
	NG       int
	Timeouts int
}

func (BatchCompleted) Kind() Kind { return KindBatchCompleted }

func (p BatchCompleted) Fields() map[string]any {
	return map[string]any{"batch": p.Batch, "ok": p.OK, "ng": p.NG, "timeouts": p.Timeouts}
}

// Batch outcomes recorded by BatchClosed.
const (
	OutcomeConfirmed = "confirmed"
	OutcomeCancelled = "cancelled"
	OutcomeStopped   = "stopped"
)

// BatchClosed records how a batch ended: confirmed or cancelled at the
// confirmation gate, or stopped by the operator.
type BatchClosed struct {
	Batch    int
	Size     int
	Outcome  string
	OK       int
	NG       int
	Timeouts int
}

func (BatchClosed) Kind() Kind { return KindBatchClosed }

func (p BatchClosed) Fields() map[string]any {
	return map[string]any{
		"batch":    p.Batch,
		"size":     p.Size,
		"outcome":  p.Outcome,
		"ok":       p.OK,
		"ng":       p.NG,
		"timeouts": p.Timeouts,
	}
}

// TimeoutExpired is published when the current image's countdown runs out.
// Replacement names the timeout image chosen for display, if any.
type TimeoutExpired struct {
	Index       int
	Duration    time.Duration
	Replacement string
}

func (TimeoutExpired) Kind() Kind { return KindTimeoutExpired }

func (p TimeoutExpired) Fields() map[string]any {
	m := map[string]any{"index": p.Index, "duration_ms": p.Duration.Milliseconds()}
	if p.Replacement != "" {
		m["replacement"] = p.Replacement
	}
	return m
}

// KeyHandled describes a key the router acted on.
type KeyHandled struct {
	Key          string
	Description  string
	OK           int
	NG           int
	Index        int
	Total        int
	AfterTimeout bool
}

func (KeyHandled) Kind() Kind { return KindKeyHandled }

func (p KeyHandled) Fields() map[string]any {
	return map[string]any{
		"key":           p.Key,
		"description":   p.Description,
		"ok":            p.OK,
		"ng":            p.NG,
		"index":         p.Index,
		"total":         p.Total,
		"after_timeout": p.AfterTimeout,
	}
}

// Fault names.
const (
	FaultLag   = "lag"
	FaultPopup = "popup"
	FaultCrash = "crash"
)

// FaultInjected records an injected disturbance.
type FaultInjected struct {
	Fault    string
	Duration time.Duration
	Detail   string
}

func (FaultInjected) Kind() Kind { return KindFaultInjected }

func (p FaultInjected) Fields() map[string]any {
	m := map[string]any{"fault": p.Fault}
	if p.Duration > 0 {
		m["duration_ms"] = p.Duration.Milliseconds()
	}
	if p.Detail != "" {
		m["detail"] = p.Detail
	}
	return m
}
