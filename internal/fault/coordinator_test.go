package fault

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reviewpc/internal/batch"
	"github.com/roach88/reviewpc/internal/clock"
	"github.com/roach88/reviewpc/internal/events"
	"github.com/roach88/reviewpc/internal/testutil"
)

type harness struct {
	clk     *clock.Manual
	machine *batch.Machine
	coord   *Coordinator
	rec     *testutil.Recorder
	fired   []uint64
	shown   []Popup
	crashes []Crash
}

func newHarness(t *testing.T, size int) *harness {
	t.Helper()
	h := &harness{clk: clock.NewManual(time.Time{})}
	bus := events.NewBus(events.WithTimeSource(h.clk.Now))
	h.rec = testutil.Attach(bus)
	h.machine = batch.NewMachine(bus, batch.WithBatchSize(size))
	h.coord = NewCoordinator(h.machine, bus, h.clk,
		func(gen uint64) { h.fired = append(h.fired, gen) },
		WithRand(rand.New(rand.NewPCG(1, 2))),
		WithPresenter(PresenterFunc{
			Popup: func(p Popup) { h.shown = append(h.shown, p) },
			Crash: func(c Crash) { h.crashes = append(h.crashes, c) },
		}),
	)
	return h
}

// advance moves the clock and hands fired lag timers back on this goroutine.
func (h *harness) advance(d time.Duration) {
	h.clk.Advance(d)
	for _, g := range h.fired {
		h.coord.ExpireLag(g)
	}
	h.fired = nil
}

func TestCoordinator_ScenarioC_LagWhileRunning(t *testing.T) {
	h := newHarness(t, 3)
	h.machine.StartBatch()
	h.machine.RecordAccept()
	before := h.machine.Session()

	prior := h.coord.InjectLag(3 * time.Second)
	assert.Equal(t, batch.Running, prior)
	assert.Equal(t, batch.Paused, h.machine.State(), "pause is immediate")
	assert.True(t, h.coord.LagPending())

	h.advance(2999 * time.Millisecond)
	assert.Equal(t, batch.Paused, h.machine.State())
	assert.Equal(t, time.Millisecond, h.coord.LagRemaining())

	h.advance(time.Millisecond)
	assert.Equal(t, batch.Running, h.machine.State())
	assert.False(t, h.coord.LagPending())

	after := h.machine.Session()
	assert.Equal(t, before.OK, after.OK)
	assert.Equal(t, before.NG, after.NG)
	assert.Equal(t, before.Index, after.Index)
}

func TestCoordinator_ScenarioD_LagWhilePaused(t *testing.T) {
	h := newHarness(t, 3)
	h.machine.StartBatch()
	h.machine.Pause()

	assert.Equal(t, batch.Paused, h.coord.InjectLag(3*time.Second))
	h.advance(3 * time.Second)
	assert.Equal(t, batch.Paused, h.machine.State())
}

func TestCoordinator_LagWhileIdle(t *testing.T) {
	h := newHarness(t, 3)
	assert.Equal(t, batch.Idle, h.coord.InjectLag(time.Second))
	assert.Equal(t, batch.Paused, h.machine.State())

	h.advance(time.Second)
	assert.Equal(t, batch.Idle, h.machine.State())
}

func TestCoordinator_StopDuringLag(t *testing.T) {
	h := newHarness(t, 3)
	h.machine.StartBatch()
	h.coord.InjectLag(3 * time.Second)

	h.advance(time.Second)
	h.machine.Stop()
	h.advance(2 * time.Second)

	assert.Equal(t, batch.Idle, h.machine.State(), "operator stop wins")
	assert.False(t, h.coord.LagPending())
}

func TestCoordinator_LagDuringLagExtends(t *testing.T) {
	h := newHarness(t, 3)
	h.machine.StartBatch()
	assert.Equal(t, batch.Running, h.coord.InjectLag(3*time.Second))

	h.advance(2 * time.Second)
	assert.Equal(t, batch.Paused, h.coord.InjectLag(3*time.Second), "second lag remembers the current state")

	// the first timer would have fired here
	h.advance(time.Second)
	assert.Equal(t, batch.Paused, h.machine.State())
	assert.True(t, h.coord.LagPending())

	h.advance(2 * time.Second)
	assert.Equal(t, batch.Paused, h.machine.State())
	assert.False(t, h.coord.LagPending())
	assert.False(t, h.machine.ForcePaused())
	assert.Equal(t, 2, h.rec.Count(events.KindFaultInjected))

	assert.True(t, h.machine.Resume(), "operator resumes the batch")
	assert.Equal(t, batch.Running, h.machine.State())
}

func TestCoordinator_LagDuringLagFromIdle(t *testing.T) {
	h := newHarness(t, 3)
	assert.Equal(t, batch.Idle, h.coord.InjectLag(3*time.Second))
	h.advance(time.Second)
	assert.Equal(t, batch.Paused, h.coord.InjectLag(3*time.Second))

	h.advance(3 * time.Second)
	assert.Equal(t, batch.Idle, h.machine.State())
	assert.True(t, h.machine.StartBatch())
}

func TestCoordinator_StaleGenerationIgnored(t *testing.T) {
	h := newHarness(t, 3)
	h.machine.StartBatch()
	h.coord.InjectLag(time.Second)
	h.clk.Advance(time.Second)
	require.Len(t, h.fired, 1)
	stale := h.fired[0]
	h.fired = nil

	// re-injected before the engine processed the first expiry
	h.coord.InjectLag(time.Second)
	assert.False(t, h.coord.ExpireLag(stale))
	assert.Equal(t, batch.Paused, h.machine.State())
}

func TestCoordinator_CancelLag(t *testing.T) {
	h := newHarness(t, 3)
	h.machine.StartBatch()
	h.coord.InjectLag(5 * time.Second)

	assert.True(t, h.coord.CancelLag())
	assert.Equal(t, batch.Running, h.machine.State())
	assert.False(t, h.coord.CancelLag())

	h.advance(10 * time.Second)
	assert.Equal(t, batch.Running, h.machine.State())
}

func TestCoordinator_DefaultLag(t *testing.T) {
	h := newHarness(t, 3)
	h.coord.InjectLag(0)
	assert.Equal(t, DefaultLag, h.coord.LagRemaining())

	ev, ok := h.rec.Last(events.KindFaultInjected)
	require.True(t, ok)
	assert.Equal(t, events.FaultInjected{Fault: events.FaultLag, Duration: DefaultLag, Detail: "restore Idle"}, ev)
}

func TestCoordinator_PopupDoesNotTouchState(t *testing.T) {
	h := newHarness(t, 3)
	h.machine.StartBatch()
	before := h.machine.Session()

	p := h.coord.InjectPopup()
	assert.Contains(t, PopupTitles, p.Title)
	assert.Contains(t, PopupMessages, p.Message)
	require.Len(t, h.shown, 1)
	assert.Equal(t, p, h.shown[0])
	assert.Equal(t, before, h.machine.Session())

	ev, _ := h.rec.Last(events.KindFaultInjected)
	assert.Equal(t, events.FaultPopup, ev.(events.FaultInjected).Fault)
}

func TestCoordinator_PopupDeterministicWithSeed(t *testing.T) {
	a := newHarness(t, 1)
	b := newHarness(t, 1)
	for i := 0; i < 5; i++ {
		assert.Equal(t, a.coord.InjectPopup(), b.coord.InjectPopup())
	}
}

func TestCoordinator_Crash(t *testing.T) {
	h := newHarness(t, 3)
	h.machine.StartBatch()

	c := h.coord.InjectCrash()
	assert.Equal(t, "Review PC has stopped working", c.Title)
	require.Len(t, h.crashes, 1)
	assert.Equal(t, batch.Running, h.machine.State())
}

func TestLogPresenter_DoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		LogPresenter{}.ShowPopup(Popup{Title: "t", Message: "m"})
		LogPresenter{}.ShowCrash(DefaultCrash)
		PresenterFunc{}.ShowPopup(Popup{})
		PresenterFunc{}.ShowCrash(Crash{})
	})
}
