// Package events provides an in-process publish-subscribe bus that decouples
// the template store from its consumers (live editors, notifiers).
package events

import (
	"sync"
	"time"
)

// EventType represents the type of an event.
type EventType string

const (
	// TemplateSaved is emitted when a template is created or replaced.
	TemplateSaved EventType = "template_saved"
	// TemplateDeleted is emitted when a template is removed.
	TemplateDeleted EventType = "template_deleted"
	// TemplatesReloaded is emitted when the template file changed on disk and was re-read.
	TemplatesReloaded EventType = "templates_reloaded"
)

// AllTypes lists every event type the bus carries.
var AllTypes = []EventType{TemplateSaved, TemplateDeleted, TemplatesReloaded}

// Event represents something that happened in the system.
type Event interface {
	// Type returns the event type.
	Type() EventType
	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common event fields.
type baseEvent struct {
	eventType EventType
	timestamp time.Time
}

func (e *baseEvent) Type() EventType      { return e.eventType }
func (e *baseEvent) Timestamp() time.Time { return e.timestamp }

func newBase(t EventType) baseEvent {
	return baseEvent{eventType: t, timestamp: time.Now()}
}

// TemplateSavedEvent is emitted when a template is saved.
type TemplateSavedEvent struct {
	baseEvent
	Name    string // Template name
	Query   string // Compiled query string
	User    string // Who saved it, empty when unauthenticated
	Created bool   // True when no template of that name existed before
}

// NewTemplateSavedEvent creates a new template saved event.
func NewTemplateSavedEvent(name, query, user string, created bool) *TemplateSavedEvent {
	return &TemplateSavedEvent{
		baseEvent: newBase(TemplateSaved),
		Name:      name,
		Query:     query,
		User:      user,
		Created:   created,
	}
}

// TemplateDeletedEvent is emitted when a template is removed.
type TemplateDeletedEvent struct {
	baseEvent
	Name string
	User string
}

// NewTemplateDeletedEvent creates a new template deleted event.
func NewTemplateDeletedEvent(name, user string) *TemplateDeletedEvent {
	return &TemplateDeletedEvent{
		baseEvent: newBase(TemplateDeleted),
		Name:      name,
		User:      user,
	}
}

// TemplatesReloadedEvent is emitted after the store re-reads its file.
type TemplatesReloadedEvent struct {
	baseEvent
	Count int // Number of templates after the reload
}

// NewTemplatesReloadedEvent creates a new templates reloaded event.
func NewTemplatesReloadedEvent(count int) *TemplatesReloadedEvent {
	return &TemplatesReloadedEvent{
		baseEvent: newBase(TemplatesReloaded),
		Count:     count,
	}
}

// Handler is a function that handles an event.
type Handler func(event Event)

// Subscription represents a subscription to events.
type Subscription struct {
	id        int
	eventType EventType
	handler   Handler
	bus       *Bus
}

// Unsubscribe removes this subscription from the event bus.
func (s *Subscription) Unsubscribe() {
	s.bus.unsubscribe(s)
}

// Bus is a thread-safe event bus for publishing and subscribing to events.
type Bus struct {
	mu           sync.RWMutex
	handlers     map[EventType]map[int]*Subscription
	nextID       int
	asyncPublish bool // If true, handlers are called in goroutines
}

// NewBus creates a new event bus.
// If asyncPublish is true, event handlers are called asynchronously in goroutines.
func NewBus(asyncPublish bool) *Bus {
	return &Bus{
		handlers:     make(map[EventType]map[int]*Subscription),
		asyncPublish: asyncPublish,
	}
}

// Subscribe registers a handler for a specific event type.
// Returns a Subscription that can be used to unsubscribe.
func (b *Bus) Subscribe(eventType EventType, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[int]*Subscription)
	}

	b.nextID++
	sub := &Subscription{
		id:        b.nextID,
		eventType: eventType,
		handler:   handler,
		bus:       b,
	}
	b.handlers[eventType][sub.id] = sub
	return sub
}

// SubscribeAll registers a handler for all event types.
func (b *Bus) SubscribeAll(handler Handler) []*Subscription {
	subs := make([]*Subscription, len(AllTypes))
	for i, et := range AllTypes {
		subs[i] = b.Subscribe(et, handler)
	}
	return subs
}

// unsubscribe removes a subscription from the bus.
func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if handlers, ok := b.handlers[sub.eventType]; ok {
		delete(handlers, sub.id)
	}
}

// Publish sends an event to all subscribed handlers.
// A nil bus drops the event.
func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}

	b.mu.RLock()
	handlers := b.handlers[event.Type()]
	// Copy so handlers run without the lock held
	handlersCopy := make([]Handler, 0, len(handlers))
	for _, sub := range handlers {
		handlersCopy = append(handlersCopy, sub.handler)
	}
	b.mu.RUnlock()

	for _, handler := range handlersCopy {
		if b.asyncPublish {
			go handler(event)
		} else {
			handler(event)
		}
	}
}

// HandlerCount returns the total number of subscribed handlers.
func (b *Bus) HandlerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, handlers := range b.handlers {
		count += len(handlers)
	}
	return count
}
