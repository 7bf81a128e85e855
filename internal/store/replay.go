package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/reviewpc/internal/events"
)

// SessionState is what the trail says about where a session left off.
type SessionState struct {
	SessionID  string
	EventCount int
	LastSeq    int64
	LastState  string // "to" of the last state change, "Idle" if none
	OpenBatch  int    // batch started but never closed, 0 if none
}

// Finished reports whether the session ended with no batch in flight.
func (s SessionState) Finished() bool {
	return s.OpenBatch == 0 && s.LastState == "Idle"
}

// GetSessionState replays a session's state changes and batch boundaries.
func (s *Store) GetSessionState(ctx context.Context, sessionID string) (SessionState, error) {
	state := SessionState{SessionID: sessionID, LastState: "Idle"}

	records, err := s.ReadEvents(ctx, sessionID,
		events.KindStateChanged, events.KindBatchStarted, events.KindBatchClosed)
	if err != nil {
		return state, fmt.Errorf("get session state: %w", err)
	}

	for _, rec := range records {
		switch rec.Kind {
		case events.KindStateChanged:
			if to, ok := rec.Fields["to"].(string); ok {
				state.LastState = to
			}
		case events.KindBatchStarted:
			state.OpenBatch = fieldInt(rec.Fields, "batch")
		case events.KindBatchClosed:
			if fieldInt(rec.Fields, "batch") == state.OpenBatch {
				state.OpenBatch = 0
			}
		}
	}

	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(MAX(seq), 0) FROM events WHERE session_id = ?
	`, sessionID).Scan(&state.EventCount, &state.LastSeq); err != nil {
		return state, fmt.Errorf("get session state: %w", err)
	}
	return state, nil
}

// FindUnfinishedSessions returns the sessions whose trail stops mid-batch
// or outside Idle, typically because the process was killed.
func (s *Store) FindUnfinishedSessions(ctx context.Context) ([]SessionState, error) {
	sessions, err := s.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("find unfinished sessions: %w", err)
	}

	unfinished := []SessionState{}
	for _, sess := range sessions {
		state, err := s.GetSessionState(ctx, sess.ID)
		if err != nil {
			return nil, err
		}
		if !state.Finished() {
			unfinished = append(unfinished, state)
		}
	}
	return unfinished, nil
}

// GetLastSeq returns the highest seq stored for a session, 0 if none.
func (s *Store) GetLastSeq(ctx context.Context, sessionID string) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(seq) FROM events WHERE session_id = ?
	`, sessionID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("get last seq: %w", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

func fieldInt(fields map[string]any, key string) int {
	switch v := fields[key].(type) {
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
