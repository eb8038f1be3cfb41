package widget

import (
	"errors"
	"time"
)

var (
	// ErrUnknownWidget is returned when no widget has the requested name.
	ErrUnknownWidget = errors.New("unknown widget")

	// ErrDuplicateWidget is returned when a widget name is already in the set.
	ErrDuplicateWidget = errors.New("duplicate widget name")
)

// Widget is a dashboard screen that refreshes its own data.
type Widget interface {
	Name() string

	// Setup prepares the widget before its first update.
	Setup() error

	// Update requests new data when the widget's interval has elapsed, or
	// unconditionally when force is set. It runs on the control loop and
	// must not block.
	Update(now time.Time, force bool)
}

// Snapshot describes a widget's most recent data for diagnostics.
type Snapshot struct {
	Name      string    `json:"name"`
	Source    string    `json:"source,omitempty"`
	Status    int       `json:"status"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
	Current   bool      `json:"current"`
	Document  any       `json:"document,omitempty"`
	FollowUp  any       `json:"follow_up,omitempty"`
}

// Reporter is implemented by widgets that can describe their state.
type Reporter interface {
	Snapshot() Snapshot
}

// Timer gates how often a widget fetches new data.
type Timer struct {
	interval time.Duration
	last     time.Time
}

// NewTimer creates a Timer that is due immediately.
func NewTimer(interval time.Duration) *Timer {
	return &Timer{interval: interval}
}

// Due reports whether interval has passed since the last Reset.
func (t *Timer) Due(now time.Time) bool {
	return t.last.IsZero() || now.Sub(t.last) >= t.interval
}

// Reset starts a new interval at now.
func (t *Timer) Reset(now time.Time) {
	t.last = now
}
