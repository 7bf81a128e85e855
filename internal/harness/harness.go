package harness

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/roach88/reviewpc/internal/batch"
	"github.com/roach88/reviewpc/internal/clock"
	"github.com/roach88/reviewpc/internal/engine"
	"github.com/roach88/reviewpc/internal/fault"
	"github.com/roach88/reviewpc/internal/images"
	"github.com/roach88/reviewpc/internal/keys"
	"github.com/roach88/reviewpc/internal/store"
	"github.com/roach88/reviewpc/internal/testutil"
	"github.com/roach88/reviewpc/internal/timeout"
)

// sessionPrefix is prepended to the scenario name to form the session ID.
const sessionPrefix = "scenario-"

// scenarioImages gives timeout replacements stable names in traces.
var scenarioImages = images.NewStatic(
	[]string{"image_01.png", "image_02.png", "image_03.png", "image_04.png", "image_05.png", "image_06.png"},
	[]string{"timeout_01.png", "timeout_02.png", "timeout_03.png"},
	"wait.png",
)

// Harness drives one engine through a scenario on a manual clock.
type Harness struct {
	engine   *engine.Engine
	clock    *clock.Manual
	store    *store.Store
	recorder *testutil.Recorder
	audit    *store.Recorder
	start    time.Time
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh engine and an in-memory audit store.
// The manual clock, fixed session ID and seeded random source make the
// trace identical across runs.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a context bounding the audit writes.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	settings := engine.DefaultSettings()
	seed := uint64(1)
	if scenario.Settings != nil {
		var err error
		if settings, err = scenario.Settings.apply(settings); err != nil {
			return nil, fmt.Errorf("settings: %w", err)
		}
		if scenario.Settings.Seed != nil {
			seed = *scenario.Settings.Seed
		}
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	clk := clock.NewManual(time.Time{})
	eng, err := engine.New(settings,
		engine.WithClock(clk),
		engine.WithSessionIDs(engine.NewFixedGenerator(sessionPrefix+scenario.Name)),
		engine.WithRand(rand.New(rand.NewPCG(seed, seed))),
		engine.WithImages(scenarioImages),
		engine.WithPresenter(fault.PresenterFunc{}),
	)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}

	if err := st.WriteSession(ctx, eng.SessionID(), clk.Now(), settings.Fields()); err != nil {
		return nil, err
	}

	h := &Harness{
		engine:   eng,
		clock:    clk,
		store:    st,
		recorder: testutil.NewRecorder(),
		audit:    store.NewRecorder(ctx, st, eng.SessionID()),
		start:    clk.Now(),
	}
	eng.Subscribe(h.recorder.Record)
	eng.Subscribe(h.audit.Handle)

	result := NewResult()
	for i, step := range scenario.Steps {
		h.executeStep(i, step, result)
	}

	result.Final = eng.Snapshot()
	for _, ev := range h.recorder.Events() {
		result.Trace = append(result.Trace, newTraceEvent(ev, h.start))
	}

	if n := h.audit.Failures(); n > 0 {
		result.AddError(fmt.Sprintf("audit trail: %d writes failed", n))
	}

	actx := &AssertionContext{Store: st, Ctx: ctx, SessionID: eng.SessionID()}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	return result, nil
}

// executeStep applies one validated step and checks its expectation.
func (h *Harness) executeStep(i int, step Step, result *Result) {
	var out engine.Outcome
	switch {
	case step.Key != "":
		k, _ := keys.ParseKey(step.Key)
		out = h.engine.Apply(engine.KeyEvent(k))
	case step.Advance != "":
		d, _ := time.ParseDuration(step.Advance)
		h.clock.Advance(d, func() { h.engine.Drain() })
		h.engine.Drain()
		out = engine.Outcome{Handled: true, Snapshot: h.engine.Snapshot()}
	default:
		c, _ := step.command()
		out = h.engine.Apply(engine.CommandEvent(c))
	}

	if step.Expect == nil {
		return
	}
	for _, msg := range checkExpect(*step.Expect, out) {
		result.AddError(fmt.Sprintf("steps[%d] (%s): %s", i, step.label(), msg))
	}
}

func (step Step) label() string {
	switch {
	case step.Key != "":
		return "key " + step.Key
	case step.Advance != "":
		return "advance " + step.Advance
	default:
		return "command " + step.Command
	}
}

// checkExpect returns one message per mismatched field.
func checkExpect(exp Expect, out engine.Outcome) []string {
	var msgs []string
	snap := out.Snapshot
	mismatch := func(field string, got, want any) {
		msgs = append(msgs, fmt.Sprintf("%s = %v, want %v", field, got, want))
	}

	if exp.Handled != nil && out.Handled != *exp.Handled {
		mismatch("handled", out.Handled, *exp.Handled)
	}
	if exp.Error != "" {
		if code := errorCode(out.Err); code != exp.Error {
			mismatch("error", code, exp.Error)
		}
	}
	if exp.State != "" && snap.State.String() != exp.State {
		mismatch("state", snap.State, exp.State)
	}
	intChecks := []struct {
		name string
		want *int
		got  int
	}{
		{"index", exp.Index, snap.Image},
		{"current_index", exp.CurrentIndex, snap.Index},
		{"ok", exp.OK, snap.OK},
		{"ng", exp.NG, snap.NG},
		{"timeouts", exp.Timeouts, snap.Timeouts},
		{"batch", exp.Batch, snap.BatchNumber},
		{"size", exp.Size, snap.BatchSize},
	}
	for _, c := range intChecks {
		if c.want != nil && *c.want != c.got {
			mismatch(c.name, c.got, *c.want)
		}
	}
	boolChecks := []struct {
		name string
		want *bool
		got  bool
	}{
		{"awaiting_timeout_key", exp.AwaitingTimeoutKey, snap.AwaitingTimeoutKey},
		{"timeout_active", exp.TimeoutActive, snap.TimeoutActive},
		{"lag_pending", exp.LagPending, snap.LagPending},
	}
	for _, c := range boolChecks {
		if c.want != nil && *c.want != c.got {
			mismatch(c.name, c.got, *c.want)
		}
	}
	return msgs
}

// errorCode extracts the error category of an outcome, "" for none.
func errorCode(err error) string {
	if err == nil {
		return ""
	}
	var re *engine.RuntimeError
	if errors.As(err, &re) {
		return string(re.Code)
	}
	var ce *batch.ConfigError
	if errors.As(err, &ce) {
		return string(ce.Code)
	}
	return err.Error()
}

// apply overlays the scenario settings on base.
func (s *Settings) apply(base engine.Settings) (engine.Settings, error) {
	if s.BatchSize != nil {
		if *s.BatchSize < 0 || *s.BatchSize > batch.MaxBatchSize {
			return base, fmt.Errorf("batch_size %d out of range 0..%d", *s.BatchSize, batch.MaxBatchSize)
		}
		base.BatchSize = *s.BatchSize
	}
	if s.CyclingEnabled != nil {
		base.CyclingEnabled = *s.CyclingEnabled
	}
	if s.CyclingSequence != nil {
		base.CyclingSequence = []int(s.CyclingSequence)
	}
	if s.CancelPolicy != "" {
		p, err := batch.ParseCancelPolicy(strings.ToLower(s.CancelPolicy))
		if err != nil {
			return base, err
		}
		base.CancelPolicy = p
	}
	if s.AutoStartNext != nil {
		base.AutoStartNext = *s.AutoStartNext
	}
	if s.TimeoutSeconds != nil {
		if *s.TimeoutSeconds <= 0 {
			return base, fmt.Errorf("timeout_seconds must be positive")
		}
		base.TimeoutDefault = timeout.Seconds(*s.TimeoutSeconds)
	}
	if s.LagSeconds != nil {
		if *s.LagSeconds <= 0 {
			return base, fmt.Errorf("lag_seconds must be positive")
		}
		base.LagDuration = timeout.Seconds(*s.LagSeconds)
	}
	if base.CyclingEnabled {
		if err := batch.ValidateSequence(base.CyclingSequence); err != nil {
			return base, err
		}
	}
	return base, nil
}
