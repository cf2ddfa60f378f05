// Package event provides the typed event bus that carries the orchestrator's
// integration surface: workflow, task, agent, pool, monitoring, and
// collaboration events. UI bridges, loggers, and the durable queue subscribe
// here instead of coupling to component internals.
package event

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Type identifies an event on the bus.
type Type string

// Workflow lifecycle events.
const (
	WorkflowStarted   Type = "workflow:started"
	WorkflowCompleted Type = "workflow:completed"
	WorkflowFailed    Type = "workflow:failed"
	WorkflowCancelled Type = "workflow:cancelled"
)

// Task lifecycle events.
const (
	TaskStarted   Type = "task:started"
	TaskCompleted Type = "task:completed"
	TaskFailed    Type = "task:failed"
)

// Agent pool events.
const (
	AgentCreated   Type = "agent:created"
	AgentAllocated Type = "agent:allocated"
	AgentReleased  Type = "agent:released"
	AgentUnhealthy Type = "agent:unhealthy"
	AgentRecovered Type = "agent:recovered"
	PoolScaledUp   Type = "pool:scaled-up"
	PoolScaledDown Type = "pool:scaled-down"
)

// Monitoring events.
const (
	AlertRaised      Type = "alert"
	MonitoringUpdate Type = "monitoring:update"
)

// Collaboration events.
const (
	SessionCreated    Type = "session:created"
	SessionPaused     Type = "session:paused"
	ParticipantJoined Type = "participant:joined"
	ParticipantLeft   Type = "participant:left"
	LockAcquired      Type = "lock:acquired"
	LockReleased      Type = "lock:released"
	UpdatesBroadcast  Type = "updates:broadcast"
)

// Event is the interface every bus payload implements.
type Event interface {
	Type() Type
	Timestamp() time.Time
}

// Handler consumes events.
type Handler func(Event)

// Bus is the publish/subscribe contract exposed to components.
type Bus interface {
	Publish(event Event)
	Subscribe(t Type, handler Handler) string
	Unsubscribe(subscriptionID string)
	Stop()
}

// subscriptionCounter generates unique subscription IDs.
var subscriptionCounter int64

// SimpleBus is a buffered, asynchronous Bus implementation. Handlers run on
// their own goroutines with panic recovery; a full buffer drops the event
// rather than blocking the publisher.
type SimpleBus struct {
	mu       sync.RWMutex
	handlers map[Type]map[string]Handler
	events   chan Event
	done     chan struct{}
	stopOnce sync.Once
	logger   *zap.Logger
}

// NewBus creates a started SimpleBus. A nil logger is replaced with a nop.
func NewBus(logger *zap.Logger) *SimpleBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &SimpleBus{
		handlers: make(map[Type]map[string]Handler),
		events:   make(chan Event, 256),
		done:     make(chan struct{}),
		logger:   logger.With(zap.String("component", "event_bus")),
	}
	go b.dispatch()
	return b
}

// Publish enqueues an event for dispatch. Drops when the buffer is full or
// the bus is stopped.
func (b *SimpleBus) Publish(event Event) {
	select {
	case b.events <- event:
	case <-b.done:
	default:
		b.logger.Warn("event buffer full, dropping event", zap.String("type", string(event.Type())))
	}
}

// Subscribe registers a handler for one event type and returns the
// subscription ID.
func (b *SimpleBus) Subscribe(t Type, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers[t] == nil {
		b.handlers[t] = make(map[string]Handler)
	}
	id := fmt.Sprintf("%s-%d", t, atomic.AddInt64(&subscriptionCounter, 1))
	b.handlers[t][id] = handler
	return id
}

// Unsubscribe removes a subscription by ID.
func (b *SimpleBus) Unsubscribe(subscriptionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for t, handlers := range b.handlers {
		if _, ok := handlers[subscriptionID]; ok {
			delete(handlers, subscriptionID)
			if len(handlers) == 0 {
				delete(b.handlers, t)
			}
			return
		}
	}
}

func (b *SimpleBus) dispatch() {
	for {
		select {
		case ev := <-b.events:
			b.mu.RLock()
			src := b.handlers[ev.Type()]
			handlers := make([]Handler, 0, len(src))
			for _, h := range src {
				handlers = append(handlers, h)
			}
			b.mu.RUnlock()

			for _, handler := range handlers {
				h := handler
				go func() {
					defer func() {
						if r := recover(); r != nil {
							b.logger.Error("event handler panicked", zap.Any("recover", r))
						}
					}()
					h(ev)
				}()
			}
		case <-b.done:
			return
		}
	}
}

// Stop stops the dispatch loop. Safe to call more than once.
func (b *SimpleBus) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
	})
}
