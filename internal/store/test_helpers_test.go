package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/reviewpc/internal/events"
)

var testStart = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

// createTestStore creates a new store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestSession writes a session row with minimal settings.
func createTestSession(t *testing.T, s *Store, id string, startedAt time.Time) {
	t.Helper()
	err := s.WriteSession(context.Background(), id, startedAt, map[string]any{"batch_size": 6})
	if err != nil {
		t.Fatalf("WriteSession(%q) failed: %v", id, err)
	}
}

// testEvent stamps a payload the way the bus would.
func testEvent(seq int64, p events.Payload) events.Event {
	return events.Event{Seq: seq, At: testStart.Add(time.Duration(seq) * time.Second), Payload: p}
}
