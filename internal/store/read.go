package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/reviewpc/internal/events"
)

// ErrNotFound is returned when a requested session does not exist.
var ErrNotFound = errors.New("not found")

// Session is a stored engine run.
type Session struct {
	ID        string
	StartedAt time.Time
	Settings  map[string]any
}

// Record is a stored event.
type Record struct {
	SessionID string
	Seq       int64
	Kind      events.Kind
	Fields    map[string]any
	At        time.Time
}

// BatchRow is the stored outcome of one closed batch.
type BatchRow struct {
	SessionID string
	Seq       int64
	Batch     int
	Size      int
	Outcome   string
	OK        int
	NG        int
	Timeouts  int
	ClosedAt  time.Time
}

// ReadSession returns one session. Returns ErrNotFound if it does not exist.
func (s *Store) ReadSession(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, settings FROM sessions WHERE id = ?
	`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return Session{}, fmt.Errorf("read session: %w", err)
	}
	return sess, nil
}

// ListSessions returns every session ordered by start time, then id.
// Returns an empty slice (not nil) if there are none.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, settings
		FROM sessions
		ORDER BY started_at ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// LatestSession returns the ID of the most recently started session.
func (s *Store) LatestSession(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM sessions
		ORDER BY started_at DESC, id COLLATE BINARY DESC
		LIMIT 1
	`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("latest session: %w", ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("latest session: %w", err)
	}
	return id, nil
}

// ReadEvents returns a session's events in seq order, optionally limited to
// the given kinds. Returns an empty slice (not nil) if nothing matches.
func (s *Store) ReadEvents(ctx context.Context, sessionID string, kinds ...events.Kind) ([]Record, error) {
	query := `
		SELECT session_id, seq, kind, fields, at
		FROM events
		WHERE session_id = ?`
	args := []any{sessionID}
	if len(kinds) > 0 {
		placeholders := make([]string, len(kinds))
		for i, k := range kinds {
			placeholders[i] = "?"
			args = append(args, string(k))
		}
		query += " AND kind IN (" + strings.Join(placeholders, ", ") + ")"
	}
	query += " ORDER BY seq ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return records, nil
}

// ReadBatches returns a session's batch outcomes in the order they closed.
func (s *Store) ReadBatches(ctx context.Context, sessionID string) ([]BatchRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, seq, batch, size, outcome, ok, ng, timeouts, closed_at
		FROM batches
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	batches := []BatchRow{}
	for rows.Next() {
		var b BatchRow
		var closedAt string
		if err := rows.Scan(&b.SessionID, &b.Seq, &b.Batch, &b.Size, &b.Outcome,
			&b.OK, &b.NG, &b.Timeouts, &closedAt); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		if b.ClosedAt, err = parseTime(closedAt); err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	return batches, nil
}

// Report summarises a session's batch outcomes.
type Report struct {
	SessionID string
	Batches   []BatchRow
	Confirmed int
	Cancelled int
	Stopped   int
	OK        int
	NG        int
	Timeouts  int
}

// Judged returns the number of images judged across all closed batches.
// Timed-out images are already counted as NG.
func (r Report) Judged() int {
	return r.OK + r.NG
}

// BuildReport reads a session's batches and totals them per outcome.
func (s *Store) BuildReport(ctx context.Context, sessionID string) (Report, error) {
	if _, err := s.ReadSession(ctx, sessionID); err != nil {
		return Report{}, err
	}

	batches, err := s.ReadBatches(ctx, sessionID)
	if err != nil {
		return Report{}, fmt.Errorf("build report: %w", err)
	}

	r := Report{SessionID: sessionID, Batches: batches}
	rows, err := s.db.QueryContext(ctx, `
		SELECT outcome, COUNT(*), SUM(ok), SUM(ng), SUM(timeouts)
		FROM batches
		WHERE session_id = ?
		GROUP BY outcome
	`, sessionID)
	if err != nil {
		return Report{}, fmt.Errorf("build report: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var outcome string
		var count, ok, ng, timeouts int
		if err := rows.Scan(&outcome, &count, &ok, &ng, &timeouts); err != nil {
			return Report{}, fmt.Errorf("scan report row: %w", err)
		}
		switch outcome {
		case events.OutcomeConfirmed:
			r.Confirmed = count
		case events.OutcomeCancelled:
			r.Cancelled = count
		case events.OutcomeStopped:
			r.Stopped = count
		}
		r.OK += ok
		r.NG += ng
		r.Timeouts += timeouts
	}
	if err := rows.Err(); err != nil {
		return Report{}, fmt.Errorf("iterate report rows: %w", err)
	}
	return r, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var sess Session
	var startedAt, settings string
	if err := row.Scan(&sess.ID, &startedAt, &settings); err != nil {
		return Session{}, err
	}
	var err error
	if sess.StartedAt, err = parseTime(startedAt); err != nil {
		return Session{}, err
	}
	if sess.Settings, err = unmarshalFields(settings); err != nil {
		return Session{}, err
	}
	return sess, nil
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var kind, fields, at string
	if err := row.Scan(&rec.SessionID, &rec.Seq, &kind, &fields, &at); err != nil {
		return Record{}, fmt.Errorf("scan event: %w", err)
	}
	rec.Kind = events.Kind(kind)
	var err error
	if rec.Fields, err = unmarshalFields(fields); err != nil {
		return Record{}, err
	}
	if rec.At, err = parseTime(at); err != nil {
		return Record{}, err
	}
	return rec, nil
}
