package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// State is a step in the lifecycle of a single work item.
type State string

// Lifecycle states, in the order a successful item passes through them.
const (
	StateSubmitted State = "submitted"
	StateQueued    State = "queued"
	StateRejected  State = "rejected"
	StateAdmitted  State = "admitted"
	StateExecuting State = "executing"
	StateCompleted State = "completed"
	StateDrained   State = "drained"
	StateDestroyed State = "destroyed"
)

// Terminal reports whether no transition can follow s.
func (s State) Terminal() bool {
	return s == StateRejected || s == StateDestroyed
}

// Reasons attached to rejected and destroyed events.
const (
	ReasonDuplicate    = "duplicate"
	ReasonQueueFull    = "queue_full"
	ReasonClosed       = "closed"
	ReasonLaunchFailed = "launch_failed"
	ReasonDelivered    = "delivered"
	ReasonShutdown     = "shutdown"
	ReasonAbandoned    = "abandoned"
)

// LifecycleEvent records one state transition of one work item.
type LifecycleEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// ItemID identifies the work item that changed state
	ItemID uuid.UUID `json:"item_id"`

	// Key is the work item's dedup key
	Key string `json:"key"`

	// State is the state the item entered
	State State `json:"state"`

	// Reason explains rejected and destroyed transitions
	Reason string `json:"reason,omitempty"`

	// Status carries the body's outcome code from StateCompleted onwards
	Status int `json:"status,omitempty"`

	// At is when the transition happened
	At time.Time `json:"at"`
}

// NewLifecycleEvent creates an event for the given item entering state.
func NewLifecycleEvent(itemID uuid.UUID, key string, state State) *LifecycleEvent {
	return &LifecycleEvent{
		ID:     uuid.New(),
		ItemID: itemID,
		Key:    key,
		State:  state,
		At:     time.Now(),
	}
}

// WithReason sets the reason and returns the event for chaining.
func (e *LifecycleEvent) WithReason(reason string) *LifecycleEvent {
	e.Reason = reason
	return e
}

// WithStatus sets the outcome code and returns the event for chaining.
func (e *LifecycleEvent) WithStatus(status int) *LifecycleEvent {
	e.Status = status
	return e
}

// EventHandler defines an interface for components that can handle events.
// Handlers may be called from several goroutines at once and must be safe
// for concurrent use.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *LifecycleEvent) error
}

// EventHandlerFunc adapts an ordinary function to EventHandler.
type EventHandlerFunc func(ctx context.Context, event *LifecycleEvent) error

// HandleEvent calls f(ctx, event).
func (f EventHandlerFunc) HandleEvent(ctx context.Context, event *LifecycleEvent) error {
	return f(ctx, event)
}

// EventEmitter defines an interface for components that can emit events.
// This allows the dispatcher to publish transitions without knowing who listens.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	// Returns an error if the event cannot be emitted.
	EmitEvent(ctx context.Context, event *LifecycleEvent) error
}
