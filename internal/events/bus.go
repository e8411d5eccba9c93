// Package events provides an in-process publish/subscribe bus.
package events

import (
	"sync"
	"time"
)

// Topics published by the circuit breaker service.
const (
	TopicCircuitStateChange = "circuit:state-change"
	TopicCircuitFailure     = "circuit:failure"
	TopicCircuitReset       = "circuit:reset"
)

// Event is a named event with a payload.
type Event struct {
	Topic     string
	Payload   any
	Timestamp time.Time
}

// Handler receives published events.
type Handler func(Event)

// Subscription represents a subscription to a topic.
type Subscription struct {
	unsubFn func()
}

// Unsubscribe removes the subscription.
func (s *Subscription) Unsubscribe() {
	if s.unsubFn != nil {
		s.unsubFn()
	}
}

// Bus delivers events synchronously to topic subscribers. Handlers run on
// the publishing goroutine; the subscriber list is snapshotted before
// dispatch so handlers may subscribe or unsubscribe freely.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string]map[int]Handler
	nextID   int
	closed   bool
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[string]map[int]Handler),
	}
}

// Subscribe adds a handler for a topic.
func (b *Bus) Subscribe(topic string, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return &Subscription{}
	}

	if b.handlers[topic] == nil {
		b.handlers[topic] = make(map[int]Handler)
	}

	id := b.nextID
	b.nextID++
	b.handlers[topic][id] = handler

	return &Subscription{
		unsubFn: func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.handlers[topic], id)
		},
	}
}

// Publish sends an event to all subscribers of the topic.
func (b *Bus) Publish(topic string, payload any) {
	b.mu.RLock()
	snapshot := make([]Handler, 0, len(b.handlers[topic]))
	for _, h := range b.handlers[topic] {
		snapshot = append(snapshot, h)
	}
	b.mu.RUnlock()

	event := Event{Topic: topic, Payload: payload, Timestamp: time.Now()}
	for _, h := range snapshot {
		h(event)
	}
}

// SubscriberCount returns the number of subscribers for a topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[topic])
}

// Close removes all subscribers and rejects new subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = make(map[string]map[int]Handler)
}
