package clock

import (
	"sort"
	"sync"
	"time"
)

// Manual is a deterministic clock for tests and scripted scenarios.
//
// Time only moves on Advance/AdvanceTo. Due timers fire one at a time in
// deadline order; timers sharing a deadline fire in scheduling order. This is
// what lets a scenario decide whether a timeout lands before or after a key.
//
// Thread-safety: all methods are safe for concurrent use. Callbacks run on
// the goroutine that called Advance, with the internal lock released.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	seq     uint64
	pending []*manualTimer
}

type manualTimer struct {
	clock    *Manual
	deadline time.Time
	seq      uint64
	fn       func()
	done     bool
}

// Epoch is the default start time for NewManual(time.Time{}).
var Epoch = time.Date(2024, time.January, 1, 9, 0, 0, 0, time.UTC)

// NewManual creates a manual clock at start. A zero start uses Epoch.
func NewManual(start time.Time) *Manual {
	if start.IsZero() {
		start = Epoch
	}
	return &Manual{now: start}
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// AfterFunc schedules f to run once the clock has advanced by d.
// Negative durations are treated as zero; they still need an Advance call.
func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	if d < 0 {
		d = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	t := &manualTimer{
		clock:    m,
		deadline: m.now.Add(d),
		seq:      m.seq,
		fn:       f,
	}
	m.pending = append(m.pending, t)
	return t
}

// Stop cancels the timer if it has not fired yet.
func (t *manualTimer) Stop() bool {
	m := t.clock
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.done {
		return false
	}
	t.done = true
	m.remove(t)
	return true
}

// Pending returns the number of timers waiting to fire.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// NextDeadline returns the earliest pending deadline, if any.
func (m *Manual) NextDeadline() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.pending) == 0 {
		return time.Time{}, false
	}
	m.sortPending()
	return m.pending[0].deadline, true
}

// Advance moves the clock forward by d. See AdvanceTo.
func (m *Manual) Advance(d time.Duration, settle ...func()) int {
	return m.AdvanceTo(m.Now().Add(d), settle...)
}

// AdvanceTo moves the clock to target, firing every timer whose deadline is
// at or before target. The clock reads the timer's deadline while its
// callback runs. After each callback, every settle func is invoked, which
// gives the caller a chance to process whatever the callback queued before
// later timers fire. Returns the number of callbacks run.
func (m *Manual) AdvanceTo(target time.Time, settle ...func()) int {
	fired := 0
	for {
		m.mu.Lock()
		if len(m.pending) == 0 {
			break
		}
		m.sortPending()
		next := m.pending[0]
		if next.deadline.After(target) {
			break
		}
		m.pending = m.pending[1:]
		next.done = true
		if next.deadline.After(m.now) {
			m.now = next.deadline
		}
		m.mu.Unlock()

		next.fn()
		fired++
		for _, fn := range settle {
			fn()
		}
	}
	// loop exits holding the lock
	if target.After(m.now) {
		m.now = target
	}
	m.mu.Unlock()
	return fired
}

func (m *Manual) sortPending() {
	sort.SliceStable(m.pending, func(i, j int) bool {
		a, b := m.pending[i], m.pending[j]
		if !a.deadline.Equal(b.deadline) {
			return a.deadline.Before(b.deadline)
		}
		return a.seq < b.seq
	})
}

func (m *Manual) remove(t *manualTimer) {
	for i, p := range m.pending {
		if p == t {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return
		}
	}
}
