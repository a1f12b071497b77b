// Package templates persists named query templates. Each template keeps its
// compiled query string together with the element sequence it was built from,
// so a saved query can be reopened in the visual editor.
package templates

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/moby/sys/atomicwriter"

	"corpus_dashboard/config"
	"corpus_dashboard/events"
	"corpus_dashboard/query"
)

// maxNameLength bounds template names.
const maxNameLength = 128

var (
	// ErrNotFound is returned when no template has the requested name.
	ErrNotFound = errors.New("template not found")
	// ErrInvalidName is returned for empty, over-long or control-character names.
	ErrInvalidName = errors.New("invalid template name")
	// ErrInvalidQuery is returned when a template's query does not compile cleanly.
	ErrInvalidQuery = errors.New("invalid query")
)

// Template is a named, saved query.
type Template struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Query       string         `json:"query"`
	Elements    query.Sequence `json:"elements,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at"`
	UpdatedBy   string         `json:"updated_by,omitempty"`
}

// fileFormat is the on-disk layout of the template file.
type fileFormat struct {
	Templates []Template `json:"templates"`
}

// Store holds templates in memory and mirrors them to a JSON file.
type Store struct {
	path string
	bus  *events.Bus
	now  func() time.Time

	mu        sync.RWMutex
	templates map[string]Template
	lastData  []byte // file contents last read or written
}

// Open loads the template file at path. A missing file yields an empty store;
// the file is created on the first save. bus may be nil.
func Open(path string, bus *events.Bus) (*Store, error) {
	s := &Store{
		path:      path,
		bus:       bus,
		now:       time.Now,
		templates: make(map[string]Template),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	templates, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	s.templates = templates
	s.lastData = data
	return s, nil
}

// Path returns the file backing the store.
func (s *Store) Path() string {
	return s.path
}

// decode parses a template file. Templates saved without elements get them
// rebuilt from their query.
func decode(data []byte) (map[string]Template, error) {
	var f fileFormat
	if len(bytes.TrimSpace(data)) > 0 {
		if err := config.Unmarshal(data, &f); err != nil {
			return nil, err
		}
	}

	out := make(map[string]Template, len(f.Templates))
	for _, t := range f.Templates {
		if err := validateName(t.Name); err != nil {
			return nil, fmt.Errorf("template %q: %w", t.Name, err)
		}
		if len(t.Elements) == 0 {
			t.Elements = query.Parse(t.Query)
		}
		out[t.Name] = t
	}
	return out, nil
}

// validateName checks that name is usable as a template key.
func validateName(name string) error {
	if strings.TrimSpace(name) == "" || len(name) > maxNameLength {
		return ErrInvalidName
	}
	for _, r := range name {
		if unicode.IsControl(r) || r == '/' {
			return ErrInvalidName
		}
	}
	return nil
}

// normalize brings a template's query and elements into agreement. Elements
// win when both are present; a query-only template must parse without loss.
func normalize(t *Template) error {
	if len(t.Elements) > 0 {
		t.Query = query.Serialize(t.Elements)
	} else {
		seq, err := query.ParseStrict(t.Query)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidQuery, err)
		}
		t.Elements = seq
	}

	for _, e := range t.Elements {
		switch x := e.(type) {
		case *query.Distance:
			if !x.Valid() {
				return fmt.Errorf("%w: distance {%d,%d} is out of order", ErrInvalidQuery, x.Min, x.Max)
			}
		case *query.NormalToken:
			// The query language has no escapes, so a quote would not parse back.
			for _, c := range x.Conditions() {
				if strings.Contains(c.Value, `"`) {
					return fmt.Errorf("%w: value %q contains a double quote", ErrInvalidQuery, c.Value)
				}
			}
		case *query.UnspecifiedToken, *query.Alternation:
		}
	}

	if v := query.Validate(t.Query); !v.Valid {
		if v.Error == "" {
			return fmt.Errorf("%w: query is empty", ErrInvalidQuery)
		}
		return fmt.Errorf("%w: %s", ErrInvalidQuery, v.Error.Hint())
	}
	return nil
}

// List returns all templates sorted by name.
func (s *Store) List() []Template {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedLocked()
}

func (s *Store) sortedLocked() []Template {
	out := make([]Template, 0, len(s.templates))
	for _, t := range s.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns the template with the given name.
func (s *Store) Get(name string) (Template, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[name]
	return t, ok
}

// Count returns the number of stored templates.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.templates)
}

// Save validates, normalizes and persists t, replacing any template of the
// same name. It returns the stored template.
func (s *Store) Save(t Template, user string) (Template, error) {
	if err := validateName(t.Name); err != nil {
		return Template{}, err
	}
	if err := normalize(&t); err != nil {
		return Template{}, err
	}
	t.UpdatedAt = s.now().UTC()
	t.UpdatedBy = user

	s.mu.Lock()
	previous, existed := s.templates[t.Name]
	s.templates[t.Name] = t
	if err := s.persistLocked(); err != nil {
		if existed {
			s.templates[t.Name] = previous
		} else {
			delete(s.templates, t.Name)
		}
		s.mu.Unlock()
		return Template{}, err
	}
	s.mu.Unlock()

	s.bus.Publish(events.NewTemplateSavedEvent(t.Name, t.Query, user, !existed))
	return t, nil
}

// Delete removes the named template.
func (s *Store) Delete(name, user string) error {
	s.mu.Lock()
	previous, ok := s.templates[name]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.templates, name)
	if err := s.persistLocked(); err != nil {
		s.templates[name] = previous
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.bus.Publish(events.NewTemplateDeletedEvent(name, user))
	return nil
}

// Reload re-reads the template file. It is a no-op when the file is unchanged
// since the store last read or wrote it; otherwise it publishes a reload event.
func (s *Store) Reload() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		data = nil
	} else if err != nil {
		return fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	s.mu.Lock()
	if bytes.Equal(data, s.lastData) {
		s.mu.Unlock()
		return nil
	}
	templates, err := decode(data)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to parse %s: %w", s.path, err)
	}
	s.templates = templates
	s.lastData = data
	count := len(templates)
	s.mu.Unlock()

	s.bus.Publish(events.NewTemplatesReloadedEvent(count))
	return nil
}

// persistLocked writes all templates to disk atomically. Callers hold s.mu.
func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(fileFormat{Templates: s.sortedLocked()}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode templates: %w", err)
	}
	data = append(data, '\n')
	if err := atomicwriter.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", s.path, err)
	}
	s.lastData = data
	return nil
}
