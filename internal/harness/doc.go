// Package harness runs automation scripts against the engine.
//
// A scenario drives a fresh engine on a manual clock, so countdowns and lag
// expire exactly when the script advances time, and the resulting event
// trace is identical on every run.
//
// # Scenario Format
//
//	name: timeout_mid_batch
//	description: "A timeout counts once and holds the image"
//	settings:
//	  batch_size: 3
//	  timeout_seconds: 5
//	steps:
//	  - command: start
//	  - key: N
//	    expect: { index: 2, ok: 1 }
//	  - advance: 5s
//	    expect: { awaiting_timeout_key: true, timeouts: 1 }
//	  - key: M
//	    expect: { index: 3, ng: 1 }
//	assertions:
//	  - type: event_count
//	    kind: timeout_expired
//	    count: 1
//	  - type: final_state
//	    expect: { state: Running, index: 3 }
//
// Each step is exactly one of command, key or advance.
//
// # Assertion Types
//
//   - event_contains: an event of kind with matching fields was published
//   - event_order: events occur in the given order, others may interleave
//   - event_count: exactly count events of kind with matching fields
//   - final_state: the snapshot after the last step
//   - audit_row: one row of the in-memory audit store (sessions, events, batches)
//
// # Golden Traces
//
// RunWithGolden compares the trace, as canonical JSON lines, with
// testdata/golden/<name>.golden using goldie.
package harness
