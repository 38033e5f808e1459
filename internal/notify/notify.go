// Package notify is the host's event channel. It replaces direct cross-
// component signalling: producers publish without blocking, and a single
// loop goroutine drains the channel and fans events out to subscribers, so
// handlers always run on the loop thread.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Kind identifies what changed.
type Kind int

const (
	// ConfigChanged fires after the host configuration was (re)applied.
	ConfigChanged Kind = iota
	// ModulesChanged fires when the loaded module tree gained or lost an
	// instance.
	ModulesChanged
	// StateChanged fires when a module's state machine transitioned.
	StateChanged
	// ThreadFinished fires when a registered worker thread completed.
	ThreadFinished
	// QuitRequested fires once when host shutdown is requested.
	QuitRequested
)

func (k Kind) String() string {
	switch k {
	case ConfigChanged:
		return "config-changed"
	case ModulesChanged:
		return "modules-changed"
	case StateChanged:
		return "state-changed"
	case ThreadFinished:
		return "thread-finished"
	case QuitRequested:
		return "quit-requested"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is a single notification. Category and Name identify the module or
// thread concerned, where applicable.
type Event struct {
	Kind     Kind
	Category string
	Name     string
	Detail   string
}

// Handler receives events on the bus loop goroutine. Handlers must not
// block; a slow handler stalls all event delivery.
type Handler func(Event)

// Bus is a buffered publish/subscribe channel drained by Run.
type Bus struct {
	mu       sync.Mutex
	logger   *slog.Logger
	handlers []Handler
	events   chan Event
}

// NewBus creates a bus with the given buffer size.
func NewBus(logger *slog.Logger, buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger, events: make(chan Event, buffer)}
}

// Subscribe registers a handler for all subsequent events.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish enqueues an event without blocking. If the buffer is full the
// event is dropped and logged; notification delivery is best effort.
func (b *Bus) Publish(ev Event) {
	select {
	case b.events <- ev:
	default:
		b.logger.Warn("Notification dropped, bus buffer full.", "kind", ev.Kind.String(), "name", ev.Name)
	}
}

// Run drains the bus until ctx is cancelled, invoking every subscribed
// handler for each event on this goroutine.
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.events:
			b.dispatch(ev)
		}
	}
}

func (b *Bus) dispatch(ev Event) {
	b.mu.Lock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}
