// Package batch implements the reviewer's batch state machine.
//
// A Machine owns one BatchSession: the batch number, the batch size, the
// position of the image under review and the OK/NG/timeout tallies. It moves
// between Idle, Running, Paused and WaitingConfirm in response to operator
// commands and judgments, and publishes every change on an events.Publisher.
//
// Operations that are not valid in the current state are ignored and report
// false. Key input from an unattended UI can race state changes, so an
// out-of-state call is a signal, not a failure.
//
// INVARIANTS (while a batch is active):
//   - 0 <= index <= size
//   - ok + ng == index (timeouts are counted within ng)
//   - size is fixed between StartBatch and the end of the batch
//   - batchNumber never decreases, including across Stop
package batch
