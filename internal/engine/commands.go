package engine

import (
	"log/slog"

	"github.com/roach88/reviewpc/internal/batch"
)

// Outcome is the result of processing one event.
//
// Handled reports whether the input changed anything. An input that is not
// valid in the current state carries an ILLEGAL_TRANSITION error; a rejected
// configuration carries INVALID_CONFIGURATION. Snapshot is the engine state
// right after processing.
type Outcome struct {
	Handled  bool
	Err      error
	Snapshot Snapshot
}

func handled(ok bool, input string, state batch.State) Outcome {
	if ok {
		return Outcome{Handled: true}
	}
	return Outcome{Err: NewIllegalTransition(input, state)}
}

// processCommand applies an operator command.
// Called only from the goroutine driving the engine.
func (e *Engine) processCommand(c Command) Outcome {
	state := e.machine.State()
	slog.Debug("processing command", "command", string(c.Name), "state", state.String())
	input := "command " + string(c.Name)

	switch c.Name {
	case CmdStart:
		return handled(e.machine.StartBatch(), input, state)

	case CmdPause:
		return handled(e.machine.Pause(), input, state)

	case CmdResume:
		return handled(e.machine.Resume(), input, state)

	case CmdStop:
		e.machine.Stop()
		return Outcome{Handled: true}

	case CmdSetBatchSize:
		n := e.machine.ConfigureBatchSize(c.Size)
		if n != c.Size {
			slog.Info("batch size clamped", "requested", c.Size, "size", n)
		}
		return Outcome{Handled: true}

	case CmdConfigureCycling:
		if err := e.machine.ConfigureCycling(c.Enabled, c.Sequence); err != nil {
			return Outcome{Err: NewConfigurationError(err)}
		}
		slog.Info("cycling configured", "enabled", c.Enabled, "sequence", c.Sequence)
		return Outcome{Handled: true}

	case CmdInjectLag:
		e.faults.InjectLag(c.Duration)
		return Outcome{Handled: true}

	case CmdInjectPopup:
		e.faults.InjectPopup()
		return Outcome{Handled: true}

	case CmdInjectCrash:
		e.faults.InjectCrash()
		return Outcome{Handled: true}

	case CmdOverrideTimeout:
		return e.overrideTimeout(c, state)

	default:
		return Outcome{Err: &RuntimeError{
			Code:    ErrCodeUnknownEvent,
			Message: "unknown command " + string(c.Name),
		}}
	}
}

// overrideTimeout restarts the current image's countdown with a custom
// duration. While paused mid-countdown, the new duration applies on resume.
func (e *Engine) overrideTimeout(c Command, state batch.State) Outcome {
	if c.Duration <= 0 {
		return Outcome{Err: &RuntimeError{
			Code:    ErrCodeInvalidConfiguration,
			Message: "override duration must be positive",
			State:   state.String(),
		}}
	}

	switch {
	case state == batch.Running && !e.router.Awaiting():
		e.timer.Arm(c.Duration)
	case state == batch.Paused && e.suspended > 0:
		e.suspended = c.Duration
	default:
		return Outcome{Err: NewIllegalTransition("command "+string(c.Name), state)}
	}
	slog.Debug("timeout overridden", "duration", c.Duration)
	return Outcome{Handled: true}
}
