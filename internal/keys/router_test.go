package keys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reviewpc/internal/batch"
	"github.com/roach88/reviewpc/internal/events"
	"github.com/roach88/reviewpc/internal/testutil"
)

func newTestRouter(t *testing.T, size int) (*Router, *batch.Machine, *testutil.Recorder) {
	t.Helper()
	bus := events.NewBus()
	rec := testutil.Attach(bus)
	m := batch.NewMachine(bus, batch.WithBatchSize(size))
	return NewRouter(m, bus), m, rec
}

func lastKey(t *testing.T, rec *testutil.Recorder) events.KeyHandled {
	t.Helper()
	p, ok := rec.Last(events.KindKeyHandled)
	require.True(t, ok, "no key_handled event")
	return p.(events.KeyHandled)
}

func TestRouter_IdleIgnoresEverything(t *testing.T) {
	r, _, rec := newTestRouter(t, 3)
	for _, k := range []Key{Accept, Reject, Confirm, Cancel} {
		assert.False(t, r.Route(k), k.String())
	}
	assert.Equal(t, 0, rec.Count(events.KindKeyHandled))
}

func TestRouter_RunningJudgments(t *testing.T) {
	r, m, rec := newTestRouter(t, 3)
	m.StartBatch()

	require.True(t, r.Route(Accept))
	ev := lastKey(t, rec)
	assert.Equal(t, "N", ev.Key)
	assert.Equal(t, "N - Image 1 -> 2, OK count: 1", ev.Description)
	assert.Equal(t, 2, ev.Index)
	assert.Equal(t, 3, ev.Total)

	require.True(t, r.Route(Reject))
	ev = lastKey(t, rec)
	assert.Equal(t, "M - Image 2 -> 3, NG count: 1", ev.Description)
	assert.Equal(t, 1, ev.OK)
	assert.Equal(t, 1, ev.NG)
}

func TestRouter_RunningIgnoresConfirmCancel(t *testing.T) {
	r, m, _ := newTestRouter(t, 2)
	m.StartBatch()
	assert.False(t, r.Route(Confirm))
	assert.False(t, r.Route(Cancel))
	assert.Equal(t, 0, m.Session().Index)
}

func TestRouter_PausedIgnoresAll(t *testing.T) {
	r, m, _ := newTestRouter(t, 2)
	m.StartBatch()
	m.Pause()
	for _, k := range []Key{Accept, Reject, Confirm, Cancel} {
		assert.False(t, r.Route(k))
	}
	assert.Equal(t, batch.Paused, m.State())
}

func TestRouter_WaitingConfirmOnlyGateKeys(t *testing.T) {
	r, m, rec := newTestRouter(t, 1)
	m.StartBatch()
	require.True(t, r.Route(Accept))
	require.Equal(t, batch.WaitingConfirm, m.State())

	assert.False(t, r.Route(Accept))
	assert.False(t, r.Route(Reject))
	assert.Equal(t, 1, m.Session().OK)

	require.True(t, r.Route(Confirm))
	assert.Equal(t, "Enter - Batch confirmed", lastKey(t, rec).Description)
	assert.Equal(t, batch.Idle, m.State())
}

func TestRouter_CancelDescription(t *testing.T) {
	r, m, rec := newTestRouter(t, 1)
	m.StartBatch()
	r.Route(Reject)
	require.True(t, r.Route(Cancel))
	assert.Equal(t, "Esc - Batch cancelled", lastKey(t, rec).Description)
}

func TestRouter_ScenarioB_TimeoutThenReject(t *testing.T) {
	r, m, rec := newTestRouter(t, 3)
	m.StartBatch()

	require.True(t, r.ObserveTimeout())
	assert.Equal(t, batch.Running, m.State(), "expiry alone does not advance")
	assert.True(t, r.Awaiting())
	assert.Equal(t, 0, m.Session().Index)

	require.True(t, r.Route(Reject))
	s := m.Session()
	assert.Equal(t, 1, s.NG)
	assert.Equal(t, 1, s.Timeouts)
	assert.Equal(t, 2, s.CurrentImage())
	assert.False(t, r.Awaiting())

	ev := lastKey(t, rec)
	assert.True(t, ev.AfterTimeout)
	assert.Equal(t, "M - Image 1 -> 2, NG count: 1 (timeout)", ev.Description)
}

func TestRouter_TimeoutThenAcceptCountsAsTimeout(t *testing.T) {
	r, m, _ := newTestRouter(t, 3)
	m.StartBatch()
	r.ObserveTimeout()

	require.True(t, r.Route(Accept))
	s := m.Session()
	assert.Equal(t, 0, s.OK)
	assert.Equal(t, 1, s.NG)
	assert.Equal(t, 1, s.Timeouts)

	// flag cleared: next accept is a plain judgment
	require.True(t, r.Route(Accept))
	assert.Equal(t, 1, m.Session().OK)
}

func TestRouter_ObserveTimeoutOutsideRunning(t *testing.T) {
	r, m, _ := newTestRouter(t, 2)
	assert.False(t, r.ObserveTimeout())
	assert.False(t, r.Awaiting())

	m.StartBatch()
	m.Pause()
	assert.False(t, r.ObserveTimeout())
}

func TestRouter_AwaitingSurvivesIgnoredKeys(t *testing.T) {
	r, m, _ := newTestRouter(t, 2)
	m.StartBatch()
	r.ObserveTimeout()

	assert.False(t, r.Route(Confirm))
	assert.True(t, r.Awaiting())

	r.Reset()
	assert.False(t, r.Awaiting())
}
