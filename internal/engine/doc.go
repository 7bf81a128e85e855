// Package engine binds the review components into one event loop.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// Keys, operator commands and timer expirations all arrive as Events on one
// FIFO queue. Run() dequeues them one at a time and applies each to
// completion before looking at the next, so two inputs that arrive "at the
// same moment" are resolved by queue order, never by interleaving.
//
// Event Processing Flow:
//  1. A key, command or timer firing is enqueued.
//  2. Run() (or Drain() in scripted tests) dequeues it.
//  3. processEvent() routes it to the router, the state machine or the fault
//     coordinator.
//  4. Those components publish typed events on the bus.
//  5. The engine's own subscription applies the timer policy; external
//     subscribers (audit store, CLI output) observe the same events.
//
// Timers never touch state. A timer callback only enqueues an event tagged
// with its generation, and a generation superseded before it is processed
// is dropped. A cancelled countdown therefore never expires.
//
// Timer policy:
//   - new image under review: clear the post-timeout flag, arm the countdown
//   - Running to Paused: suspend, remembering what was left
//   - Paused to Running: re-arm with what was left, unless the image already
//     timed out and is waiting for the operator
//   - any other exit from Running: disarm
package engine
