package engine

import (
	"github.com/roach88/reviewpc/internal/batch"
	"github.com/roach88/reviewpc/internal/events"
)

var (
	stateRunning = batch.Running.String()
	statePaused  = batch.Paused.String()
	stateIdle    = batch.Idle.String()
)

// applyTimerPolicy keeps the countdown in step with the machine. It runs
// synchronously inside the machine's publish, on the engine goroutine.
func (e *Engine) applyTimerPolicy(ev events.Event) {
	switch p := ev.Payload.(type) {
	case events.ImagePositionChanged:
		e.router.Reset()
		e.suspended = 0
		if e.machine.State() == batch.Running {
			e.timer.ArmDefault()
		}

	case events.StateChanged:
		switch {
		case p.From == stateRunning && p.To == statePaused:
			e.suspended = e.timer.Suspend()

		case p.From == statePaused && p.To == stateRunning:
			if !e.router.Awaiting() {
				if e.suspended > 0 {
					e.timer.Arm(e.suspended)
				} else {
					e.timer.ArmDefault()
				}
			}
			e.suspended = 0

		case p.From == stateRunning:
			e.timer.Disarm()
			e.suspended = 0
			e.router.Reset()
		}

		if p.To == stateIdle {
			e.timer.Disarm()
			e.suspended = 0
			e.router.Reset()
		}
	}
}
