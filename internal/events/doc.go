// Package events carries the engine's notifications to its collaborators.
//
// The batch machine, router, timeout service and fault coordinator publish
// typed payloads (state changes, image positions, progress, batch
// completion, timeouts, handled keys, injected faults). A presentation layer
// or the audit store subscribes to a Bus; the engine never holds a reference
// back into them.
//
// Delivery is synchronous and ordered. Every published event is stamped
// with a strictly increasing Seq from the bus's logical clock, and events
// published while another is being delivered are queued behind it, so every
// subscriber observes the same order.
package events
