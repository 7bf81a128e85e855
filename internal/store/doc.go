// Package store keeps the engine's audit trail in SQLite.
//
// Three append-only tables:
//   - sessions: one row per engine run with its startup settings
//   - events: every published event, fields as canonical JSON
//   - batches: one outcome row per closed batch (confirmed, cancelled, stopped)
//
// Reads are ordered by seq, the bus's logical clock, never by timestamps,
// so a trace read back from the store matches the live one.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
package store
