package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reviewpc/internal/batch"
	"github.com/roach88/reviewpc/internal/engine"
	"github.com/roach88/reviewpc/internal/store"
)

func sampleTrace() []TraceEvent {
	mk := func(seq int64, kind string, fields map[string]any) TraceEvent {
		fields["kind"] = kind
		fields["seq"] = seq
		return TraceEvent{Seq: seq, Kind: kind, Fields: fields}
	}
	return []TraceEvent{
		mk(1, "batch_started", map[string]any{"batch": 1, "size": 2}),
		mk(2, "state_changed", map[string]any{"from": "Idle", "to": "Running", "reason": "start"}),
		mk(3, "key_handled", map[string]any{"key": "N", "ok": 1, "after_timeout": false}),
		mk(4, "key_handled", map[string]any{"key": "M", "ok": 1, "after_timeout": true}),
		mk(5, "state_changed", map[string]any{"from": "Running", "to": "WaitingConfirm", "reason": "complete"}),
	}
}

func count(n int) *int { return &n }

func TestAssertEventContains(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertEventContains(trace, Assertion{Kind: "key_handled", Fields: map[string]any{"key": "M", "after_timeout": true}}))
	assert.NoError(t, assertEventContains(trace, Assertion{Kind: "batch_started"}))

	err := assertEventContains(trace, Assertion{Kind: "key_handled", Fields: map[string]any{"key": "Enter"}})
	require.Error(t, err)
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, AssertEventContains, ae.Type)
	assert.Contains(t, err.Error(), "[3] key_handled")
}

func TestAssertEventOrder(t *testing.T) {
	trace := sampleTrace()

	ok := Assertion{Events: []EventMatch{
		{Kind: "batch_started"},
		{Kind: "key_handled", Fields: map[string]any{"key": "N"}},
		{Kind: "state_changed", Fields: map[string]any{"to": "WaitingConfirm"}},
	}}
	assert.NoError(t, assertEventOrder(trace, ok))

	reversed := Assertion{Events: []EventMatch{
		{Kind: "key_handled", Fields: map[string]any{"key": "M"}},
		{Kind: "key_handled", Fields: map[string]any{"key": "N"}},
	}}
	err := assertEventOrder(trace, reversed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found after seq 4")

	missing := Assertion{Events: []EventMatch{{Kind: "batch_closed"}}}
	assert.Error(t, assertEventOrder(trace, missing))
}

func TestAssertEventCount(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertEventCount(trace, Assertion{Kind: "key_handled", Count: count(2)}))
	assert.NoError(t, assertEventCount(trace, Assertion{Kind: "key_handled", Fields: map[string]any{"ok": 1, "after_timeout": true}, Count: count(1)}))
	assert.NoError(t, assertEventCount(trace, Assertion{Kind: "timeout_expired", Count: count(0)}))

	err := assertEventCount(trace, Assertion{Kind: "state_changed", Count: count(3)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 occurrences")
}

func TestAssertFinalState(t *testing.T) {
	snap := engine.Snapshot{State: batch.WaitingConfirm, BatchNumber: 1, BatchSize: 2, Index: 2, Image: 2, OK: 1, NG: 1, Timeouts: 1}

	assert.NoError(t, assertFinalState(snap, Assertion{Expect: map[string]any{
		"state": "WaitingConfirm", "ok": 1, "ng": 1, "timeouts": 1, "current_index": 2, "awaiting_timeout_key": false,
	}}))

	err := assertFinalState(snap, Assertion{Expect: map[string]any{"ok": 2}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ok = 1")

	err = assertFinalState(snap, Assertion{Expect: map[string]any{"colour": "red"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `field "colour" to exist`)
}

func TestValuesEqual(t *testing.T) {
	tests := []struct {
		name     string
		actual   any
		expected any
		want     bool
	}{
		{"int vs int", 3, 3, true},
		{"int64 vs int", int64(3), 3, true},
		{"int64 vs float", int64(100), 100.0, true},
		{"int mismatch", 3, 4, false},
		{"sqlite bool", int64(1), true, true},
		{"sqlite false", int64(0), true, false},
		{"bytes vs string", []byte("confirmed"), "confirmed", true},
		{"string", "Paused", "Paused", true},
		{"number vs string", 1, "1", false},
		{"nil vs nil", nil, nil, true},
		{"nil vs value", nil, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, valuesEqual(tt.actual, tt.expected))
		})
	}
}

func TestBuildWhereClause(t *testing.T) {
	sql, args, err := buildWhereClause(map[string]any{"outcome": "stopped", "batch": 2})
	require.NoError(t, err)
	assert.Equal(t, "batch = ? AND outcome = ?", sql)
	assert.Equal(t, []any{2, "stopped"}, args)

	_, _, err = buildWhereClause(map[string]any{"batch; DROP TABLE batches": 1})
	assert.Error(t, err)
}

func TestAssertAuditRow(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	err = assertAuditRow(ctx, st, "s1", Assertion{Table: "batches; --", Expect: map[string]any{"ok": 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid table name")

	err = assertAuditRow(ctx, st, "s1", Assertion{Table: "batches", Expect: map[string]any{"ok": 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row not found")
}

func TestEvaluateAssertions_AuditRowNeedsStore(t *testing.T) {
	msgs := EvaluateAssertions(NewResult(), []Assertion{{Type: AssertAuditRow, Table: "batches", Expect: map[string]any{"ok": 1}}}, nil)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "requires database context")
}
