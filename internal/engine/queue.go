package engine

import (
	"sync"
	"time"

	"github.com/roach88/reviewpc/internal/keys"
)

// EventType distinguishes between event kinds.
type EventType int

const (
	// EventTypeKey is a reviewer keystroke.
	EventTypeKey EventType = iota + 1
	// EventTypeCommand is an operator or automation command.
	EventTypeCommand
	// EventTypeTimeoutFired reports a countdown timer firing.
	EventTypeTimeoutFired
	// EventTypeLagFired reports an injected lag running out.
	EventTypeLagFired
	// EventTypeQuery asks for a snapshot without changing anything.
	EventTypeQuery
)

func (t EventType) String() string {
	switch t {
	case EventTypeKey:
		return "key"
	case EventTypeCommand:
		return "command"
	case EventTypeTimeoutFired:
		return "timeout_fired"
	case EventTypeLagFired:
		return "lag_fired"
	case EventTypeQuery:
		return "query"
	default:
		return "unknown"
	}
}

// CommandName identifies a command.
type CommandName string

const (
	CmdStart            CommandName = "start"
	CmdPause            CommandName = "pause"
	CmdResume           CommandName = "resume"
	CmdStop             CommandName = "stop"
	CmdSetBatchSize     CommandName = "set_batch_size"
	CmdConfigureCycling CommandName = "configure_cycling"
	CmdInjectLag        CommandName = "inject_lag"
	CmdInjectPopup      CommandName = "inject_popup"
	CmdInjectCrash      CommandName = "inject_crash"
	CmdOverrideTimeout  CommandName = "override_timeout"
)

// Commands lists every command name.
var Commands = []CommandName{
	CmdStart, CmdPause, CmdResume, CmdStop,
	CmdSetBatchSize, CmdConfigureCycling,
	CmdInjectLag, CmdInjectPopup, CmdInjectCrash,
	CmdOverrideTimeout,
}

// Command is an operator action. Only the fields the named command uses
// are read.
type Command struct {
	Name     CommandName
	Size     int           // set_batch_size
	Enabled  bool          // configure_cycling
	Sequence []int         // configure_cycling
	Duration time.Duration // inject_lag, override_timeout
}

// Event is one unit of work for the loop.
type Event struct {
	Type    EventType
	Key     keys.Key
	Command *Command
	Gen     uint64 // timer generation for *Fired events

	reply chan<- Outcome
}

// KeyEvent wraps a key.
func KeyEvent(k keys.Key) Event {
	return Event{Type: EventTypeKey, Key: k}
}

// CommandEvent wraps a command.
func CommandEvent(c Command) Event {
	return Event{Type: EventTypeCommand, Command: &c}
}

// eventQueue is a thread-safe FIFO queue for events.
//
// The queue is unbounded so timer callbacks never block.
// The signal channel lets the Run loop wait with context cancellation.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{} // buffered, size 1
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, e)

	// non-blocking; the buffer of 1 coalesces signals
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes the front event without blocking.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}

	e := q.events[0]
	q.events[0] = Event{} // release the Command pointer

	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}

	return e, true
}

// Wait returns a channel that signals when events may be available.
// It is closed when the queue is closed.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Closed reports whether Close was called.
func (q *eventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops further enqueues and wakes waiters.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
