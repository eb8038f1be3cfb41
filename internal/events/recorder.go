package events

import (
	"context"
	"log/slog"
	"sync"
)

// DefaultRecorderLimit is the number of events a Recorder keeps when created
// with a non-positive limit.
const DefaultRecorderLimit = 256

// Recorder is an EventHandler that keeps the most recent events in memory.
// It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []LifecycleEvent
	limit  int
}

// NewRecorder creates a Recorder holding at most limit events.
func NewRecorder(limit int) *Recorder {
	if limit <= 0 {
		limit = DefaultRecorderLimit
	}
	return &Recorder{
		events: make([]LifecycleEvent, 0, limit),
		limit:  limit,
	}
}

// HandleEvent implements EventHandler. Once full, the oldest event is dropped.
func (r *Recorder) HandleEvent(_ context.Context, event *LifecycleEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == r.limit {
		copy(r.events, r.events[1:])
		r.events = r.events[:len(r.events)-1]
	}
	r.events = append(r.events, *event)
	return nil
}

// Events returns a copy of the recorded events, oldest first.
func (r *Recorder) Events() []LifecycleEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]LifecycleEvent, len(r.events))
	copy(out, r.events)
	return out
}

// StatesFor returns the states recorded for one item key, oldest first.
func (r *Recorder) StatesFor(key string) []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	var states []State
	for _, e := range r.events {
		if e.Key == key {
			states = append(states, e.State)
		}
	}
	return states
}

// Count returns how many recorded events entered state.
func (r *Recorder) Count(state State) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.State == state {
			n++
		}
	}
	return n
}

// LogHandler returns an EventHandler that writes every transition to logger at
// debug level. keyFormatter, when non-nil, rewrites keys before logging.
func LogHandler(logger *slog.Logger, keyFormatter func(string) string) EventHandler {
	logger = logger.With("component", "lifecycle")
	return EventHandlerFunc(func(ctx context.Context, event *LifecycleEvent) error {
		key := event.Key
		if keyFormatter != nil {
			key = keyFormatter(key)
		}
		attrs := []any{
			"item_id", event.ItemID,
			"key", key,
			"state", event.State,
		}
		if event.Reason != "" {
			attrs = append(attrs, "reason", event.Reason)
		}
		if event.State == StateCompleted || event.State == StateDrained {
			attrs = append(attrs, "status", event.Status)
		}
		logger.DebugContext(ctx, "work item transition", attrs...)
		return nil
	})
}
