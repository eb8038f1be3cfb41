package widget

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Set is an ordered collection of widgets with one current widget. Update
// methods belong to the control loop; the read accessors are safe from any
// goroutine.
type Set struct {
	mu      sync.RWMutex
	widgets []Widget
	current int
	logger  *slog.Logger
}

// NewSet creates an empty Set.
func NewSet(logger *slog.Logger) *Set {
	return &Set{logger: logger.With("component", "widgets")}
}

// Add appends w to the set.
func (s *Set) Add(w Widget) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.widgets {
		if existing.Name() == w.Name() {
			return fmt.Errorf("%w: %s", ErrDuplicateWidget, w.Name())
		}
	}
	s.widgets = append(s.widgets, w)
	return nil
}

// Len returns the number of widgets.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.widgets)
}

// Current returns the current widget, or nil for an empty set.
func (s *Set) Current() Widget {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.widgets) == 0 {
		return nil
	}
	return s.widgets[s.current]
}

// Next makes the following widget current, wrapping around.
func (s *Set) Next() {
	s.move(1)
}

// Prev makes the preceding widget current, wrapping around.
func (s *Set) Prev() {
	s.move(-1)
}

func (s *Set) move(step int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.widgets)
	if n == 0 {
		return
	}
	s.current = (s.current + step + n) % n
	s.logger.Debug("switched widget", "widget", s.widgets[s.current].Name())
}

// InitializeAll sets up every widget and forces its first update, so every
// screen has data requested before it is first shown. Widgets whose Setup
// fails are skipped and the first such error is returned.
func (s *Set) InitializeAll(now time.Time) error {
	var firstErr error
	for _, w := range s.snapshot() {
		if err := w.Setup(); err != nil {
			s.logger.Error("widget setup failed", "widget", w.Name(), "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("setting up %s: %w", w.Name(), err)
			}
			continue
		}
		w.Update(now, true)
	}
	return firstErr
}

// UpdateCurrent gives the current widget a chance to refresh its data.
func (s *Set) UpdateCurrent(now time.Time) {
	if w := s.Current(); w != nil {
		w.Update(now, false)
	}
}

// Refresh forces an update of the named widget.
func (s *Set) Refresh(name string, now time.Time) error {
	w, ok := s.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWidget, name)
	}
	w.Update(now, true)
	return nil
}

// Get returns the widget called name.
func (s *Set) Get(name string) (Widget, bool) {
	for _, w := range s.snapshot() {
		if w.Name() == name {
			return w, true
		}
	}
	return nil, false
}

// Names returns widget names in display order.
func (s *Set) Names() []string {
	widgets := s.snapshot()
	names := make([]string, len(widgets))
	for i, w := range widgets {
		names[i] = w.Name()
	}
	return names
}

// Snapshots describes every widget in display order.
func (s *Set) Snapshots() []Snapshot {
	s.mu.RLock()
	widgets := append([]Widget(nil), s.widgets...)
	current := s.current
	s.mu.RUnlock()

	out := make([]Snapshot, 0, len(widgets))
	for i, w := range widgets {
		snap := Snapshot{Name: w.Name()}
		if r, ok := w.(Reporter); ok {
			snap = r.Snapshot()
		}
		snap.Current = i == current
		out = append(out, snap)
	}
	return out
}

func (s *Set) snapshot() []Widget {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Widget(nil), s.widgets...)
}
