// Package bus implements the single-threaded, cooperatively-dispatched event
// bus at the center of the simulation: one FIFO queue, one dispatch
// goroutine, ordered per-event-type handler lists. No handler ever runs
// concurrently with another, so account and position state needs no locking
// of its own — see internal/account.
package bus

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/quantreplay/backsim/internal/model"
)

// Handler reacts to one event. Returning an error does not stop dispatch:
// the error is logged and the bus moves on to the next handler, so a
// failing handler can never poison the bus. A handler that wants to
// prevent its peers from seeing the event calls event.Stop() instead.
type Handler func(ctx context.Context, event *model.Event) error

const (
	// DefaultSystemTimerInterval is the wall-clock cadence of SYS_TIMER.
	DefaultSystemTimerInterval = time.Second
	// DefaultMarketTimerInterval is the cadence at which the bus asks the
	// broker to check for a new buffered market snapshot.
	DefaultMarketTimerInterval = 100 * time.Millisecond

	defaultQueueCapacity = 4096
)

// Bus is the event dispatcher. Zero value is not usable; construct with New.
type Bus struct {
	logger *log.Logger

	mu       sync.RWMutex
	handlers map[model.EventType][]Handler

	queue chan model.Event

	systemInterval time.Duration
	marketInterval time.Duration

	flushMu sync.Mutex
	flushQ  []chan struct{}

	wg       sync.WaitGroup
	cancel   context.CancelFunc
	doneCh   chan struct{}
	started  bool
	startMu  sync.Mutex
}

// Option configures a Bus at construction time.
type Option func(*Bus)

// WithSystemTimerInterval overrides the SYS_TIMER cadence.
func WithSystemTimerInterval(d time.Duration) Option {
	return func(b *Bus) { b.systemInterval = d }
}

// WithMarketTimerInterval overrides the MARKET_CHECK cadence.
func WithMarketTimerInterval(d time.Duration) Option {
	return func(b *Bus) { b.marketInterval = d }
}

// WithQueueCapacity overrides the FIFO queue's buffer size.
func WithQueueCapacity(n int) Option {
	return func(b *Bus) { b.queue = make(chan model.Event, n) }
}

// WithLogger overrides the bus's logger.
func WithLogger(l *log.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// New constructs a Bus with the default timers and a logger that writes to
// the standard log output with a "[bus] " prefix, unless overridden.
func New(opts ...Option) *Bus {
	b := &Bus{
		logger:         log.New(log.Writer(), "[bus] ", log.LstdFlags|log.Lmicroseconds),
		handlers:       make(map[model.EventType][]Handler),
		queue:          make(chan model.Event, defaultQueueCapacity),
		systemInterval: DefaultSystemTimerInterval,
		marketInterval: DefaultMarketTimerInterval,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AddListener appends handler to the end of typ's handler list, so it runs
// after every handler already registered for typ.
func (b *Bus) AddListener(typ model.EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[typ] = append(b.handlers[typ], handler)
}

// PrependListener inserts handler at the front of typ's handler list, so it
// runs before every handler already registered for typ. Used sparingly, for
// handlers that must observe an event before anyone else can Stop it.
func (b *Bus) PrependListener(typ model.EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[typ] = append([]Handler{handler}, b.handlers[typ]...)
}

// Publish enqueues event for dispatch. Blocks if the queue is full, which
// only happens under sustained handler backlog; callers on the hot path
// (broker producers) should prefer a buffered internal queue of their own
// rather than rely on this blocking as backpressure.
func (b *Bus) Publish(event model.Event) {
	b.queue <- event
}

// TryPublish enqueues event without blocking, reporting false if the queue
// is full.
func (b *Bus) TryPublish(event model.Event) bool {
	select {
	case b.queue <- event:
		return true
	default:
		return false
	}
}

// Start launches the dispatch loop and the system/market timers. Idempotent:
// calling Start twice on an already-started bus is a no-op.
func (b *Bus) Start(ctx context.Context) {
	b.startMu.Lock()
	defer b.startMu.Unlock()
	if b.started {
		return
	}
	b.started = true

	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.doneCh = make(chan struct{})

	b.wg.Add(1)
	go b.dispatchLoop(runCtx)

	if b.systemInterval > 0 {
		b.wg.Add(1)
		go b.runTimer(runCtx, b.systemInterval, model.EventSysTimer)
	}
	if b.marketInterval > 0 {
		b.wg.Add(1)
		go b.runTimer(runCtx, b.marketInterval, model.EventMarketCheck)
	}
}

// Stop cancels the dispatch loop and timers and waits for them to exit.
// Events still queued at that point are not dispatched; callers that need
// everything already enqueued to be delivered call Flush first. Idempotent.
func (b *Bus) Stop() {
	b.startMu.Lock()
	defer b.startMu.Unlock()
	if !b.started {
		return
	}
	b.cancel()
	b.wg.Wait()
	b.started = false
}

func (b *Bus) runTimer(ctx context.Context, interval time.Duration, typ model.EventType) {
	defer b.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			b.TryPublish(model.NewEvent(typ, t))
		}
	}
}

// eventFlush is the internal barrier event Flush rides on; dispatch
// short-circuits it before consulting the handler table.
const eventFlush model.EventType = "__FLUSH__"

// Flush blocks until every event enqueued before the call has been
// dispatched, or until the bus stops, whichever comes first. Must not be
// called from inside a handler — it would wait on its own dispatch
// goroutine.
func (b *Bus) Flush() {
	b.startMu.Lock()
	doneCh := b.doneCh
	b.startMu.Unlock()
	if doneCh == nil {
		return
	}

	done := make(chan struct{})
	b.flushMu.Lock()
	b.flushQ = append(b.flushQ, done)
	b.flushMu.Unlock()

	select {
	case b.queue <- model.Event{Type: eventFlush}:
	case <-doneCh:
		return
	}
	select {
	case <-done:
	case <-doneCh:
	}
}

func (b *Bus) dispatchLoop(ctx context.Context) {
	defer b.wg.Done()
	defer close(b.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-b.queue:
			b.dispatch(ctx, &event)
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, event *model.Event) {
	if event.Type == eventFlush {
		b.flushMu.Lock()
		if len(b.flushQ) > 0 {
			close(b.flushQ[0])
			b.flushQ = b.flushQ[1:]
		}
		b.flushMu.Unlock()
		return
	}

	b.mu.RLock()
	handlers := b.handlers[event.Type]
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			b.logger.Printf("handler error for %s: %v", event.Type, err)
		}
		if event.Stopped() {
			break
		}
	}
}
