package batch

import (
	"fmt"

	"github.com/roach88/reviewpc/internal/events"
)

// MaxBatchSize is the largest batch the review terminal shows at once.
const MaxBatchSize = 6

// DefaultBatchSize matches the terminal's factory setting.
const DefaultBatchSize = 6

// CancelPolicy decides what cancelling a completed batch does to its tallies.
type CancelPolicy int

const (
	// KeepTallies leaves OK/NG/timeout counts in place after a cancel.
	// The batch decision is not a content edit.
	KeepTallies CancelPolicy = iota
	// DiscardTallies zeroes the counts when a batch is cancelled.
	DiscardTallies
)

// String returns the policy's configuration name.
func (p CancelPolicy) String() string {
	if p == DiscardTallies {
		return "discard"
	}
	return "keep"
}

// ParseCancelPolicy parses "keep" or "discard". Empty means keep.
func ParseCancelPolicy(s string) (CancelPolicy, error) {
	switch s {
	case "", "keep":
		return KeepTallies, nil
	case "discard":
		return DiscardTallies, nil
	default:
		return KeepTallies, fmt.Errorf("unknown cancel policy %q (want keep or discard)", s)
	}
}

// Session is a read-only copy of the machine's bookkeeping.
type Session struct {
	State       State
	BatchNumber int
	BatchSize   int
	Index       int // zero-based position; equals BatchSize once complete
	OK          int
	NG          int
	Timeouts    int
	ForcePaused bool
}

// CurrentImage returns the 1-based image under review, capped at the batch
// size. Returns 0 for an empty batch.
func (s Session) CurrentImage() int {
	if s.BatchSize == 0 {
		return 0
	}
	if s.Index >= s.BatchSize {
		return s.BatchSize
	}
	return s.Index + 1
}

// Option configures a Machine.
type Option func(*Machine)

// WithBatchSize sets the fixed batch size (clamped to [0, MaxBatchSize]).
func WithBatchSize(n int) Option {
	return func(m *Machine) {
		m.fixedSize = clampSize(n)
	}
}

// WithCancelPolicy sets the cancel policy.
func WithCancelPolicy(p CancelPolicy) Option {
	return func(m *Machine) {
		m.cancelPolicy = p
	}
}

// Machine is the batch state machine.
//
// Thread-safety: none. The machine is driven from the engine's single
// event loop; every method runs to completion without blocking.
type Machine struct {
	pub events.Publisher

	state       State
	batchNumber int
	batchSize   int
	index       int
	ok          int
	ng          int
	timeouts    int

	fixedSize    int
	cycling      bool
	sequence     []int
	cancelPolicy CancelPolicy

	forced *forcedPause
}

// forcedPause remembers what a forced pause interrupted. prior is the
// state at the latest ForcePause; origin is the state before the first one
// and tells whether a batch is still open underneath.
type forcedPause struct {
	prior  State
	origin State
	reason string
}

// resumable reports whether Running is a valid way out of the pause.
func (f *forcedPause) resumable() bool {
	return f.origin == Running || f.origin == Paused
}

// NewMachine creates an Idle machine publishing on pub.
func NewMachine(pub events.Publisher, opts ...Option) *Machine {
	m := &Machine{
		pub:       pub,
		state:     Idle,
		fixedSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Session returns a copy of the current bookkeeping.
func (m *Machine) Session() Session {
	return Session{
		State:       m.state,
		BatchNumber: m.batchNumber,
		BatchSize:   m.batchSize,
		Index:       m.index,
		OK:          m.ok,
		NG:          m.ng,
		Timeouts:    m.timeouts,
		ForcePaused: m.forced != nil,
	}
}

// BatchCount returns the size of the current (or last) batch.
func (m *Machine) BatchCount() int {
	return m.batchSize
}

// CyclingEnabled reports whether batch sizes come from the cycling sequence.
func (m *Machine) CyclingEnabled() bool {
	return m.cycling
}

// ConfigureBatchSize sets the fixed batch size, clamped to [0, MaxBatchSize],
// and returns the stored value. It applies from the next StartBatch and only
// while cycling is disabled.
func (m *Machine) ConfigureBatchSize(n int) int {
	m.fixedSize = clampSize(n)
	return m.fixedSize
}

// ConfigureCycling enables or disables cycling mode and stores sequence
// for it. The sequence is validated whether or not cycling is enabled;
// invalid input returns a ConfigError and leaves the configuration untouched.
func (m *Machine) ConfigureCycling(enabled bool, sequence []int) error {
	if err := ValidateSequence(sequence); err != nil {
		return err
	}
	m.sequence = append([]int(nil), sequence...)
	m.cycling = enabled
	return nil
}

// NextBatchSize returns the size StartBatch would use now.
func (m *Machine) NextBatchSize() int {
	return m.sizeFor(m.batchNumber + 1)
}

func (m *Machine) sizeFor(batchNumber int) int {
	if m.cycling && len(m.sequence) > 0 {
		return m.sequence[(batchNumber-1)%len(m.sequence)]
	}
	return m.fixedSize
}

// StartBatch begins the next batch. Valid only from Idle.
//
// A batch of size 0 completes immediately: the machine passes through
// Running to WaitingConfirm within this call.
func (m *Machine) StartBatch() bool {
	if m.state != Idle {
		return false
	}

	m.batchNumber++
	m.batchSize = m.sizeFor(m.batchNumber)
	m.index = 0
	m.ok = 0
	m.ng = 0
	m.timeouts = 0
	m.forced = nil

	m.pub.Publish(events.BatchStarted{Batch: m.batchNumber, Size: m.batchSize})
	m.setState(Running, "start")
	m.pub.Publish(events.ProgressUpdated{OK: 0, NG: 0})

	if m.batchSize == 0 {
		m.complete()
		return true
	}
	m.pub.Publish(events.ImagePositionChanged{Index: 1, Total: m.batchSize})
	return true
}

// Pause moves Running to Paused. No-op elsewhere.
func (m *Machine) Pause() bool {
	if m.state != Running {
		return false
	}
	m.setState(Paused, "pause")
	return true
}

// Resume moves Paused to Running. No-op elsewhere.
// Resuming during a forced pause ends it early.
func (m *Machine) Resume() bool {
	if m.state != Paused {
		return false
	}
	if m.forced != nil && !m.forced.resumable() {
		// nothing to resume into: the pause interrupted Idle or the gate
		return false
	}
	m.forced = nil
	m.setState(Running, "resume")
	return true
}

// Stop abandons any batch and returns to Idle from every state.
// Counters are reset; the batch number is kept.
func (m *Machine) Stop() bool {
	if m.batchActive() {
		m.pub.Publish(events.BatchClosed{
			Batch:    m.batchNumber,
			Size:     m.batchSize,
			Outcome:  events.OutcomeStopped,
			OK:       m.ok,
			NG:       m.ng,
			Timeouts: m.timeouts,
		})
	}

	m.index = 0
	m.ok = 0
	m.ng = 0
	m.timeouts = 0
	m.forced = nil

	m.setState(Idle, "stop")
	m.pub.Publish(events.ProgressUpdated{OK: 0, NG: 0})
	return true
}

// RecordAccept judges the current image OK. Valid only while Running.
func (m *Machine) RecordAccept() bool {
	if m.state != Running {
		return false
	}
	m.ok++
	m.advance()
	return true
}

// RecordReject judges the current image NG. Valid only while Running.
func (m *Machine) RecordReject() bool {
	if m.state != Running {
		return false
	}
	m.ng++
	m.advance()
	return true
}

// RecordTimeout force-advances a stalled image. It counts as NG and as a
// timeout. Valid only while Running.
func (m *Machine) RecordTimeout() bool {
	if m.state != Running {
		return false
	}
	m.ng++
	m.timeouts++
	m.advance()
	return true
}

// ConfirmBatch accepts a completed batch and returns to Idle.
func (m *Machine) ConfirmBatch() bool {
	if m.state != WaitingConfirm {
		return false
	}
	m.pub.Publish(m.closed(events.OutcomeConfirmed))
	m.index = 0
	m.setState(Idle, "confirm")
	return true
}

// CancelBatch declines a completed batch and returns to Idle. Tallies are
// kept or zeroed according to the cancel policy.
func (m *Machine) CancelBatch() bool {
	if m.state != WaitingConfirm {
		return false
	}
	m.pub.Publish(m.closed(events.OutcomeCancelled))
	m.index = 0
	if m.cancelPolicy == DiscardTallies {
		m.ok = 0
		m.ng = 0
		m.timeouts = 0
		m.pub.Publish(events.ProgressUpdated{OK: 0, NG: 0})
	}
	m.setState(Idle, "cancel")
	return true
}

// ForcePause pauses the machine from any state on behalf of an external
// disturbance and returns the state that should be restored afterwards.
//
// The state at the time of the call is always the one remembered, so a
// forced pause issued while another is in effect remembers Paused.
func (m *Machine) ForcePause(reason string) State {
	origin := m.state
	if m.forced != nil && m.state == Paused {
		origin = m.forced.origin
	}
	m.forced = &forcedPause{prior: m.state, origin: origin, reason: reason}
	if m.state != Paused {
		m.setState(Paused, reason)
	}
	return m.forced.prior
}

// RestorePrevious ends a forced pause, returning to the remembered state.
// It reports false when no forced pause is in effect, which is the case
// once the operator has stopped or resumed in the meantime.
//
// A pause that interrupted Idle or WaitingConfirm cannot be resumed, so it
// always goes back to that state, even when a later forced pause
// remembered Paused.
func (m *Machine) RestorePrevious() bool {
	if m.forced == nil {
		return false
	}
	target := m.forced.prior
	if !m.forced.resumable() {
		target = m.forced.origin
	}
	m.forced = nil
	if m.state != Paused || target == Paused {
		return true
	}
	m.setState(target, "restore")
	return true
}

// ForcePaused reports whether a forced pause is in effect.
func (m *Machine) ForcePaused() bool {
	return m.forced != nil
}

func (m *Machine) advance() {
	m.index++
	m.pub.Publish(events.ProgressUpdated{OK: m.ok, NG: m.ng})

	if m.index >= m.batchSize {
		m.complete()
		return
	}
	m.pub.Publish(events.ImagePositionChanged{Index: m.index + 1, Total: m.batchSize})
}

func (m *Machine) complete() {
	m.pub.Publish(events.BatchCompleted{
		Batch:    m.batchNumber,
		OK:       m.ok,
		NG:       m.ng,
		Timeouts: m.timeouts,
	})
	m.setState(WaitingConfirm, "complete")
}

func (m *Machine) closed(outcome string) events.BatchClosed {
	return events.BatchClosed{
		Batch:    m.batchNumber,
		Size:     m.batchSize,
		Outcome:  outcome,
		OK:       m.ok,
		NG:       m.ng,
		Timeouts: m.timeouts,
	}
}

func (m *Machine) batchActive() bool {
	if m.forced != nil && m.state == Paused {
		return m.forced.origin != Idle
	}
	return m.state != Idle
}

func (m *Machine) setState(next State, reason string) {
	if next == m.state {
		return
	}
	prev := m.state
	m.state = next
	m.pub.Publish(events.StateChanged{From: prev.String(), To: next.String(), Reason: reason})
}

func clampSize(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxBatchSize {
		return MaxBatchSize
	}
	return n
}
