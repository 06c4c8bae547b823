// Package events is the in-process publish/subscribe bus that carries session
// lifecycle events to observers such as metrics and audit logging.
package events

import (
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultBufferSize is the default per-subscriber channel capacity.
	DefaultBufferSize = 100

	// EventTypeStateTransition identifies session state transitions.
	EventTypeStateTransition = "StateTransition"
	// EventTypeIntentDecided identifies policy decisions.
	EventTypeIntentDecided = "IntentDecided"
	// EventTypeConfirmationRequested identifies operator confirmation prompts and answers.
	EventTypeConfirmationRequested = "ConfirmationRequested"
	// EventTypeCycleCompleted identifies a finished perceive/decide/act/verify cycle.
	EventTypeCycleCompleted = "CycleCompleted"
	// EventTypeRecoveryStep identifies a recovery ladder step.
	EventTypeRecoveryStep = "RecoveryStep"
	// EventTypeSessionFinished identifies the terminal session summary.
	EventTypeSessionFinished = "SessionFinished"
	// EventTypeSystemAlert identifies high-severity alerts such as invariant breaches.
	EventTypeSystemAlert = "SystemAlert"
	// EventTypeHealthCheck identifies a preflight health report.
	EventTypeHealthCheck = "HealthCheck"
)

const (
	// SeverityInfo indicates informational event severity.
	SeverityInfo = "INFO"
	// SeverityWarn indicates warning event severity.
	SeverityWarn = "WARN"
	// SeverityError indicates error event severity.
	SeverityError = "ERROR"
)

// Event is the normalized message delivered through the bus.
type Event struct {
	Type       string
	Timestamp  time.Time
	EntityType string
	EntityID   string
	Payload    any
	Severity   string
}

// Handler consumes a published event.
type Handler func(Event)

// Logger captures warning logs for dropped events.
type Logger interface {
	Printf(format string, args ...any)
}

// Bus defines event subscription and publish behavior.
type Bus interface {
	Subscribe(eventType string, handler Handler)
	SubscribeAll(handler Handler)
	Publish(event Event)
}

// Option customizes bus construction.
type Option func(*InMemoryBus)

// WithBufferSize configures per-subscriber channel capacity.
func WithBufferSize(size int) Option {
	return func(bus *InMemoryBus) {
		if size > 0 {
			bus.bufferSize = size
		}
	}
}

// WithLogger configures the sink used for dropped-event warnings.
func WithLogger(logger Logger) Option {
	return func(bus *InMemoryBus) {
		if logger != nil {
			bus.logger = logger
		}
	}
}

// InMemoryBus is a thread-safe pub/sub bus backed by buffered channels. Each
// subscriber runs on its own goroutine until Close.
type InMemoryBus struct {
	mu         sync.RWMutex
	bufferSize int
	logger     Logger
	// subs is keyed by event type; wildcard holds SubscribeAll handlers.
	subs    map[string][]*subscriber
	nextID  uint64
	closed  bool
	dropped atomic.Uint64
	wg      sync.WaitGroup
}

const wildcard = "*"

type subscriber struct {
	id uint64
	ch chan Event
}

// New creates an in-memory event bus.
func New(options ...Option) *InMemoryBus {
	bus := &InMemoryBus{
		bufferSize: DefaultBufferSize,
		logger:     log.Default(),
		subs:       make(map[string][]*subscriber),
	}
	for _, option := range options {
		option(bus)
	}
	return bus
}

// Subscribe registers a handler for one event type.
func (b *InMemoryBus) Subscribe(eventType string, handler Handler) {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" || eventType == wildcard {
		return
	}
	b.register(eventType, handler)
}

// SubscribeAll registers a handler that receives every published event.
func (b *InMemoryBus) SubscribeAll(handler Handler) {
	b.register(wildcard, handler)
}

func (b *InMemoryBus) register(key string, handler Handler) {
	if handler == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.nextID++
	sub := &subscriber{id: b.nextID, ch: make(chan Event, b.bufferSize)}
	b.subs[key] = append(b.subs[key], sub)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for event := range sub.ch {
			handler(event)
		}
	}()
}

// Publish delivers an event to typed and wildcard subscribers without
// blocking. A full subscriber buffer drops the event for that subscriber.
// Events published after Close are discarded.
func (b *InMemoryBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	eventType := strings.TrimSpace(event.Type)

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	keys := []string{wildcard}
	if eventType != wildcard {
		keys = append(keys, eventType)
	}
	for _, key := range keys {
		for _, sub := range b.subs[key] {
			select {
			case sub.ch <- event:
			default:
				b.dropped.Add(1)
				b.logger.Printf("events: dropping %s for subscriber %d (%s %s)", event.Type, sub.id, event.EntityType, event.EntityID)
			}
		}
	}
}

// Dropped reports how many deliveries were discarded on full buffers.
func (b *InMemoryBus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close stops accepting events and waits for subscribers to drain what they
// have already received. It is safe to call more than once.
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, sub := range subs {
			close(sub.ch)
		}
	}
	b.mu.Unlock()

	b.wg.Wait()
}
