package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/roach88/reviewpc/internal/batch"
	"github.com/roach88/reviewpc/internal/clock"
	"github.com/roach88/reviewpc/internal/events"
	"github.com/roach88/reviewpc/internal/fault"
	"github.com/roach88/reviewpc/internal/images"
	"github.com/roach88/reviewpc/internal/keys"
	"github.com/roach88/reviewpc/internal/timeout"
)

// Settings are the read-only startup values from the configuration store.
type Settings struct {
	BatchSize       int
	CyclingEnabled  bool
	CyclingSequence []int
	CancelPolicy    batch.CancelPolicy
	AutoStartNext   bool
	TimeoutDefault  time.Duration
	LagDuration     time.Duration
}

// DefaultSettings returns the terminal's factory settings.
func DefaultSettings() Settings {
	return Settings{
		BatchSize:       batch.DefaultBatchSize,
		CyclingSequence: []int{1, 2, 3, 4, 5, 6},
		CancelPolicy:    batch.KeepTallies,
		TimeoutDefault:  timeout.DefaultDuration,
		LagDuration:     fault.DefaultLag,
	}
}

// Fields returns the settings as a flat map for the audit trail.
func (s Settings) Fields() map[string]any {
	seq := s.CyclingSequence
	if seq == nil {
		seq = []int{}
	}
	return map[string]any{
		"batch_size":       s.BatchSize,
		"cycling_enabled":  s.CyclingEnabled,
		"cycling_sequence": seq,
		"cancel_policy":    s.CancelPolicy.String(),
		"auto_start_next":  s.AutoStartNext,
		"timeout_ms":       s.TimeoutDefault.Milliseconds(),
		"lag_ms":           s.LagDuration.Milliseconds(),
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used for countdowns and event timestamps.
// Default: clock.System{}.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithSessionIDs sets the session ID generator. Default: UUIDv7Generator.
func WithSessionIDs(g SessionIDGenerator) Option {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithImages sets the image provider used to pick timeout replacements.
func WithImages(src images.Source) Option {
	return func(e *Engine) {
		e.images = src
	}
}

// WithPresenter sets where popup and crash dialogs are shown.
func WithPresenter(p fault.Presenter) Option {
	return func(e *Engine) {
		e.presenter = p
	}
}

// WithRand sets the random source for popup text and timeout images.
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) {
		e.rand = r
	}
}

// Engine is the single-writer review session loop.
//
// Thread-safety model:
//   - Enqueue(), Submit(), Query(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//   - Drain(), Apply(), Snapshot(): only from the goroutine driving the
//     engine, and never while Run() is active
//
// Bus subscribers run on the engine goroutine and must not call back into
// the engine.
type Engine struct {
	clock     clock.Clock
	ids       SessionIDGenerator
	images    images.Source
	presenter fault.Presenter
	rand      *rand.Rand

	sessionID string
	settings  Settings

	bus     *events.Bus
	queue   *eventQueue
	machine *batch.Machine
	timer   *timeout.Service
	router  *keys.Router
	faults  *fault.Coordinator

	// remaining countdown held across a pause; 0 means arm the default
	suspended time.Duration
}

// New creates an Idle engine from settings. An invalid cycling sequence
// returns an INVALID_CONFIGURATION error.
func New(settings Settings, opts ...Option) (*Engine, error) {
	e := &Engine{
		clock:     clock.System{},
		ids:       UUIDv7Generator{},
		presenter: fault.LogPresenter{},
		settings:  settings,
		queue:     newEventQueue(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rand == nil {
		e.rand = rand.New(rand.NewPCG(uint64(e.clock.Now().UnixNano()), 0x7e57))
	}

	e.sessionID = e.ids.Generate()
	e.bus = events.NewBus(events.WithTimeSource(e.clock.Now))

	e.machine = batch.NewMachine(e.bus,
		batch.WithBatchSize(settings.BatchSize),
		batch.WithCancelPolicy(settings.CancelPolicy),
	)
	if settings.CyclingEnabled || len(settings.CyclingSequence) > 0 {
		if err := e.machine.ConfigureCycling(settings.CyclingEnabled, settings.CyclingSequence); err != nil {
			return nil, NewConfigurationError(err)
		}
	}

	e.timer = timeout.New(e.clock, func(gen uint64) {
		e.queue.Enqueue(Event{Type: EventTypeTimeoutFired, Gen: gen})
	}, settings.TimeoutDefault)

	e.router = keys.NewRouter(e.machine, e.bus)

	e.faults = fault.NewCoordinator(e.machine, e.bus, e.clock,
		func(gen uint64) {
			e.queue.Enqueue(Event{Type: EventTypeLagFired, Gen: gen})
		},
		fault.WithPresenter(e.presenter),
		fault.WithRand(e.rand),
		fault.WithDefaultLag(settings.LagDuration),
	)

	// registered first so the timer is settled before anyone else sees
	// the event
	e.bus.Subscribe(e.applyTimerPolicy, events.KindImagePosition, events.KindStateChanged)

	slog.Debug("engine created",
		"session", e.sessionID,
		"batch_size", settings.BatchSize,
		"cycling", settings.CyclingEnabled,
		"timeout", e.timer.Default(),
	)
	return e, nil
}

// SessionID identifies this engine instance.
func (e *Engine) SessionID() string {
	return e.sessionID
}

// Settings returns the startup settings.
func (e *Engine) Settings() Settings {
	return e.settings
}

// Subscribe registers fn for engine events of the given kinds (all when
// none are given). Returns an unsubscribe function.
func (e *Engine) Subscribe(fn events.Handler, kinds ...events.Kind) func() {
	return e.bus.Subscribe(fn, kinds...)
}

// Enqueue submits an event for processing.
// Thread-safe: may be called from any goroutine.
//
// Returns false if the engine has been stopped.
func (e *Engine) Enqueue(ev Event) bool {
	return e.queue.Enqueue(ev)
}

// Submit enqueues ev and waits for the Run loop to process it.
func (e *Engine) Submit(ctx context.Context, ev Event) (Outcome, error) {
	reply := make(chan Outcome, 1)
	ev.reply = reply
	if !e.queue.Enqueue(ev) {
		return Outcome{}, errQueueClosed
	}
	select {
	case out := <-reply:
		return out, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Query returns a snapshot taken on the Run loop.
func (e *Engine) Query(ctx context.Context) (Snapshot, error) {
	out, err := e.Submit(ctx, Event{Type: EventTypeQuery})
	if err != nil {
		return Snapshot{}, err
	}
	return out.Snapshot, nil
}

// Run starts the single-writer event loop.
// Blocks until the context is cancelled or Stop() is called.
//
// A failing event is logged with its context and processing continues.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting", "session", e.sessionID)

	for {
		ev, ok := e.queue.TryDequeue()
		if ok {
			e.dispatch(ev)
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("engine stopping: context cancelled")
			e.shutdown()
			return ctx.Err()

		case <-e.queue.Wait():
			// the signal channel is closed once the queue is closed
			if e.queue.Closed() && e.queue.Len() == 0 {
				slog.Info("engine stopping: queue closed")
				e.shutdown()
				return nil
			}
		}
	}
}

// Stop closes the queue, which causes Run() to return.
func (e *Engine) Stop() {
	e.queue.Close()
}

// Drain processes every queued event synchronously and returns how many
// were handled. For scripted use without Run().
func (e *Engine) Drain() int {
	n := 0
	for {
		ev, ok := e.queue.TryDequeue()
		if !ok {
			return n
		}
		e.dispatch(ev)
		n++
	}
}

// Apply drains anything already queued, then processes ev and returns its
// outcome. For scripted use without Run().
func (e *Engine) Apply(ev Event) Outcome {
	e.Drain()
	return e.process(ev)
}

func (e *Engine) dispatch(ev Event) {
	out := e.process(ev)
	if ev.reply != nil {
		ev.reply <- out
	}
}

func (e *Engine) process(ev Event) Outcome {
	out := e.processEvent(ev)
	if out.Err != nil {
		logEventError(ev, out.Err)
	}
	out.Snapshot = e.Snapshot()
	return out
}

// processEvent routes an event to the appropriate handler.
// Called only from the goroutine driving the engine.
func (e *Engine) processEvent(ev Event) Outcome {
	switch ev.Type {
	case EventTypeKey:
		return e.processKey(ev.Key)

	case EventTypeCommand:
		if ev.Command == nil {
			return Outcome{Err: &RuntimeError{
				Code:    ErrCodeUnknownEvent,
				Message: "command event missing command data",
			}}
		}
		return e.processCommand(*ev.Command)

	case EventTypeTimeoutFired:
		return Outcome{Handled: e.processTimeout(ev.Gen)}

	case EventTypeLagFired:
		return Outcome{Handled: e.faults.ExpireLag(ev.Gen)}

	case EventTypeQuery:
		return Outcome{Handled: true}

	default:
		return Outcome{Err: &RuntimeError{
			Code:    ErrCodeUnknownEvent,
			Message: fmt.Sprintf("unknown event type: %d", ev.Type),
		}}
	}
}

func (e *Engine) processKey(k keys.Key) Outcome {
	state := e.machine.State()
	slog.Debug("processing key", "key", k.Label(), "state", state.String())

	if state == batch.Running && (k == keys.Accept || k == keys.Reject) {
		e.timer.Disarm()
	}
	if !e.router.Route(k) {
		return Outcome{Err: NewIllegalTransition("key "+k.Label(), state)}
	}

	if k == keys.Confirm && e.settings.AutoStartNext {
		e.machine.StartBatch()
	}
	return Outcome{Handled: true}
}

// processTimeout handles a fired countdown. A stale generation is dropped.
func (e *Engine) processTimeout(gen uint64) bool {
	if !e.timer.Expire(gen) {
		slog.Debug("stale timeout dropped", "gen", gen)
		return false
	}
	if !e.router.ObserveTimeout() {
		return false
	}

	s := e.machine.Session()
	replacement := e.pickTimeoutImage()
	slog.Warn("image timed out",
		"batch", s.BatchNumber,
		"image", s.CurrentImage(),
		"duration", e.timer.Duration(),
		"replacement", replacement,
	)
	e.bus.Publish(events.TimeoutExpired{
		Index:       s.CurrentImage(),
		Duration:    e.timer.Duration(),
		Replacement: replacement,
	})
	return true
}

func (e *Engine) pickTimeoutImage() string {
	if e.images == nil {
		return ""
	}
	n := e.images.ImageCount(images.Timeout)
	idx := 0
	if n > 1 {
		idx = e.rand.IntN(n)
	}
	name, err := e.images.ImageAt(images.Timeout, idx)
	if err != nil {
		return ""
	}
	return name
}

func (e *Engine) shutdown() {
	e.timer.Disarm()
	e.faults.CancelLag()
}

// logEventError logs a failed event with enough context to investigate.
// Ignored inputs are expected traffic and are logged at Debug.
func logEventError(ev Event, err error) {
	attrs := []any{"type", ev.Type.String(), "error", err}
	switch ev.Type {
	case EventTypeKey:
		attrs = append(attrs, "key", ev.Key.Label())
	case EventTypeCommand:
		if ev.Command != nil {
			attrs = append(attrs, "command", string(ev.Command.Name))
		}
	}
	if IsIllegalTransition(err) {
		slog.Debug("input ignored", attrs...)
		return
	}
	slog.Error("event processing failed", attrs...)
}
