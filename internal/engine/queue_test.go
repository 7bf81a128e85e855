package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reviewpc/internal/keys"
)

func TestEventQueue_EnqueueDequeue(t *testing.T) {
	q := newEventQueue()

	ok := q.Enqueue(KeyEvent(keys.Accept))
	require.True(t, ok, "enqueue should succeed")

	got, ok := q.TryDequeue()
	require.True(t, ok, "dequeue should succeed")
	assert.Equal(t, EventTypeKey, got.Type)
	assert.Equal(t, keys.Accept, got.Key)
}

func TestEventQueue_FIFO(t *testing.T) {
	q := newEventQueue()

	q.Enqueue(CommandEvent(Command{Name: CmdStart}))
	q.Enqueue(Event{Type: EventTypeTimeoutFired, Gen: 7})
	q.Enqueue(KeyEvent(keys.Reject))

	e1, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, CmdStart, e1.Command.Name)

	e2, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, uint64(7), e2.Gen)

	e3, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, keys.Reject, e3.Key)

	_, ok = q.TryDequeue()
	assert.False(t, ok)
}

func TestEventQueue_TryDequeue_Empty(t *testing.T) {
	q := newEventQueue()

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestEventQueue_Close(t *testing.T) {
	q := newEventQueue()
	q.Enqueue(KeyEvent(keys.Accept))
	q.Close()
	q.Close() // idempotent

	assert.True(t, q.Closed())
	assert.False(t, q.Enqueue(KeyEvent(keys.Reject)), "enqueue after close")

	// already queued events are still delivered
	_, ok := q.TryDequeue()
	assert.True(t, ok)

	select {
	case <-q.Wait():
	case <-time.After(time.Second):
		t.Fatal("wait channel not closed")
	}
}

func TestEventQueue_ConcurrentEnqueue(t *testing.T) {
	q := newEventQueue()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q.Enqueue(Event{Type: EventTypeTimeoutFired})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000, q.Len())
}

func TestEventType_String(t *testing.T) {
	assert.Equal(t, "key", EventTypeKey.String())
	assert.Equal(t, "lag_fired", EventTypeLagFired.String())
	assert.Equal(t, "unknown", EventType(99).String())
}
