// Package monitor watches the template file for edits made outside the
// service and asks the store to reload it. The parent directory is watched
// rather than the file itself so that atomic rename-over writes are seen.
package monitor

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the monitor waits after the last change before reloading.
const DefaultDebounce = 250 * time.Millisecond

// Reloader is the part of the template store the monitor drives.
type Reloader interface {
	Path() string
	Reload() error
}

// Monitor watches one file and triggers debounced reloads.
type Monitor struct {
	target   Reloader
	path     string
	debounce time.Duration

	mu      sync.Mutex
	running bool
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	wg      sync.WaitGroup
	reloads int
	errors  int
}

// Option is a functional option for configuring the monitor.
type Option func(*Monitor)

// WithDebounce sets the quiet period between the last change and the reload.
func WithDebounce(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.debounce = d
		}
	}
}

// New creates a monitor for target's file. It does nothing until Start.
func New(target Reloader, opts ...Option) *Monitor {
	m := &Monitor{
		target:   target,
		path:     filepath.Clean(target.Path()),
		debounce: DefaultDebounce,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins watching in the background. Calling Start on a running
// monitor is a no-op.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	dir := filepath.Dir(m.path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	m.watcher = w
	m.stopCh = make(chan struct{})
	m.running = true

	m.wg.Add(1)
	go m.watchLoop(w, m.stopCh)

	log.Printf("Template monitor started for %s (debounce %v)", m.path, m.debounce)
	return nil
}

// Stop stops watching and waits for the background goroutine to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	w := m.watcher
	m.watcher = nil
	m.mu.Unlock()

	m.wg.Wait()
	w.Close()
	log.Printf("Template monitor stopped")
}

// IsRunning reports whether the monitor is watching.
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Stats returns how many reloads were attempted and how many failed.
func (m *Monitor) Stats() (reloads, errors int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reloads, m.errors
}

func (m *Monitor) watchLoop(w *fsnotify.Watcher, stopCh <-chan struct{}) {
	defer m.wg.Done()

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-stopCh:
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if !m.relevant(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(m.debounce)
			} else {
				timer.Reset(m.debounce)
			}
			fire = timer.C
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			log.Printf("Monitor: watch error: %v", err)
		case <-fire:
			fire = nil
			m.reload()
		}
	}
}

// relevant reports whether event touches the watched file's content.
func (m *Monitor) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != m.path {
		return false
	}
	return event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
		event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
}

func (m *Monitor) reload() {
	err := m.target.Reload()

	m.mu.Lock()
	m.reloads++
	if err != nil {
		m.errors++
	}
	m.mu.Unlock()

	if err != nil {
		log.Printf("Monitor: failed to reload %s: %v", m.path, err)
	}
}
