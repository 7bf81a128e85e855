package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roach88/reviewpc/internal/events"
)

// WriteSession inserts a session row. Duplicate IDs are silently ignored.
func (s *Store) WriteSession(ctx context.Context, id string, startedAt time.Time, settings map[string]any) error {
	settingsJSON, err := marshalFields(settings)
	if err != nil {
		return fmt.Errorf("write session: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, started_at, settings)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, formatTime(startedAt), settingsJSON)
	if err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// WriteEvent appends a published event to the session's trail. A
// BatchClosed event also writes the batch outcome row, in the same
// transaction. Writing the same (session, seq) twice is a no-op.
//
// Note: the session must exist (foreign key constraint).
func (s *Store) WriteEvent(ctx context.Context, sessionID string, ev events.Event) error {
	fieldsJSON, err := marshalFields(ev.Fields())
	if err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write event: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	at := formatTime(ev.At)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (session_id, seq, kind, fields, at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id, seq) DO NOTHING
	`, sessionID, ev.Seq, string(ev.Kind()), fieldsJSON, at)
	if err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	if closed, ok := ev.Payload.(events.BatchClosed); ok {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO batches (session_id, seq, batch, size, outcome, ok, ng, timeouts, closed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(session_id, seq) DO NOTHING
		`, sessionID, ev.Seq, closed.Batch, closed.Size, closed.Outcome,
			closed.OK, closed.NG, closed.Timeouts, at)
		if err != nil {
			return fmt.Errorf("write batch outcome: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write event: commit: %w", err)
	}
	return nil
}

// Recorder writes every event it is handed to the store. A failed write is
// logged and counted; it never reaches the publisher.
type Recorder struct {
	store    *Store
	session  string
	ctx      context.Context
	failures atomic.Int64
}

// NewRecorder returns a Recorder for one session. ctx bounds every write.
func NewRecorder(ctx context.Context, s *Store, sessionID string) *Recorder {
	return &Recorder{store: s, session: sessionID, ctx: ctx}
}

// Handle is an events.Handler.
func (r *Recorder) Handle(ev events.Event) {
	if err := r.store.WriteEvent(r.ctx, r.session, ev); err != nil {
		r.failures.Add(1)
		slog.Warn("audit write failed",
			"session", r.session,
			"seq", ev.Seq,
			"kind", ev.Kind(),
			"error", err,
		)
	}
}

// Failures returns how many writes have failed so far.
func (r *Recorder) Failures() int64 {
	return r.failures.Load()
}
