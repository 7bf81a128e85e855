package engine

import (
	"fmt"
	"time"

	"github.com/roach88/reviewpc/internal/batch"
)

// Snapshot is an immutable view of the engine.
type Snapshot struct {
	SessionID          string
	State              batch.State
	BatchNumber        int
	BatchSize          int
	Index              int // zero-based, as in batch.Session
	Image              int // 1-based image under review
	OK                 int
	NG                 int
	Timeouts           int
	AwaitingTimeoutKey bool
	TimeoutActive      bool
	TimeoutRemaining   time.Duration
	LagPending         bool
	LagRemaining       time.Duration
	ForcePaused        bool
	CyclingEnabled     bool
	NextBatchSize      int
}

// Snapshot captures the current state. Only call it from the goroutine
// driving the engine; use Query while Run is active.
func (e *Engine) Snapshot() Snapshot {
	s := e.machine.Session()
	return Snapshot{
		SessionID:          e.sessionID,
		State:              s.State,
		BatchNumber:        s.BatchNumber,
		BatchSize:          s.BatchSize,
		Index:              s.Index,
		Image:              s.CurrentImage(),
		OK:                 s.OK,
		NG:                 s.NG,
		Timeouts:           s.Timeouts,
		AwaitingTimeoutKey: e.router.Awaiting(),
		TimeoutActive:      e.timer.Active(),
		TimeoutRemaining:   e.timer.Remaining(),
		LagPending:         e.faults.LagPending(),
		LagRemaining:       e.faults.LagRemaining(),
		ForcePaused:        s.ForcePaused,
		CyclingEnabled:     e.machine.CyclingEnabled(),
		NextBatchSize:      e.machine.NextBatchSize(),
	}
}

// Status renders the one-line status bar, e.g.
//
//	Batch 1 | Image 2/6 | Running | OK:1 NG:0 | Timeout: 4.2s
func (s Snapshot) Status() string {
	line := fmt.Sprintf("Batch %d | Image %d/%d | %s | OK:%d NG:%d",
		s.BatchNumber, s.Image, s.BatchSize, s.State, s.OK, s.NG)
	if s.State == batch.Running && s.TimeoutActive {
		line += fmt.Sprintf(" | Timeout: %.1fs", s.TimeoutRemaining.Seconds())
	}
	if s.AwaitingTimeoutKey {
		line += " | TIMEOUT"
	}
	return line
}
