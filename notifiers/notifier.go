// Package notifiers forwards template events to external notification providers.
package notifiers

import (
	"log"
	"sync"

	"corpus_dashboard/events"
)

// Notifier is the interface that all notification providers must implement.
type Notifier interface {
	// Name returns the notifier's name (e.g., "gotify").
	Name() string

	// Notify sends a notification for the given event.
	// Returns an error if the notification fails.
	Notify(event events.Event) error

	// Close releases any resources held by the notifier.
	Close() error
}

// Manager manages multiple notifiers and routes events to them.
type Manager struct {
	mu        sync.RWMutex
	notifiers []Notifier
	bus       *events.Bus
	subs      []*events.Subscription
}

// NewManager creates a new notifier manager that listens to the event bus.
func NewManager(bus *events.Bus) *Manager {
	m := &Manager{
		notifiers: make([]Notifier, 0),
		bus:       bus,
	}

	m.subs = bus.SubscribeAll(m.handleEvent)

	return m
}

// Register adds a notifier to the manager.
func (m *Manager) Register(notifier Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifiers = append(m.notifiers, notifier)
}

// handleEvent routes an event to every registered notifier.
// Notifications are best-effort; failures are logged and dropped.
func (m *Manager) handleEvent(event events.Event) {
	m.mu.RLock()
	notifiers := append([]Notifier(nil), m.notifiers...)
	m.mu.RUnlock()

	for _, notifier := range notifiers {
		if err := notifier.Notify(event); err != nil {
			log.Printf("Notifier %s: %s event dropped: %v", notifier.Name(), event.Type(), err)
		}
	}
}

// Close unsubscribes from the event bus and closes all notifiers.
func (m *Manager) Close() error {
	for _, sub := range m.subs {
		sub.Unsubscribe()
	}
	m.subs = nil

	m.mu.RLock()
	defer m.mu.RUnlock()

	var lastErr error
	for _, notifier := range m.notifiers {
		if err := notifier.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// NotifierCount returns the number of registered notifiers.
func (m *Manager) NotifierCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.notifiers)
}
