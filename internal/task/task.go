package task

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StatusPanicked is the status delivered when a body panics instead of returning.
// Bodies use their own codes otherwise; by convention negative codes are failures.
const StatusPanicked = -100

// Body is the unit of work carried by a WorkItem. It runs on its own goroutine,
// never on the control loop, and is free to block on I/O.
type Body func(ctx context.Context) (status int, payload any)

// Callback receives a body's outcome. It is only ever invoked by Dispatcher.Drain.
type Callback func(status int, payload any)

// WorkItem is an immutable description of one unit of asynchronous work.
// Once submitted it is owned by the dispatcher until it is rejected or its
// result has been delivered.
type WorkItem struct {
	id         uuid.UUID
	key        string
	body       Body
	onComplete Callback
	createdAt  time.Time
}

// NewWorkItem creates a work item. key identifies the work for deduplication,
// typically the URL being fetched.
func NewWorkItem(key string, body Body, onComplete Callback) (*WorkItem, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidWorkItem)
	}
	if body == nil {
		return nil, fmt.Errorf("%w: nil body", ErrInvalidWorkItem)
	}
	if onComplete == nil {
		return nil, fmt.Errorf("%w: nil completion callback", ErrInvalidWorkItem)
	}

	return &WorkItem{
		id:         uuid.New(),
		key:        key,
		body:       body,
		onComplete: onComplete,
		createdAt:  time.Now(),
	}, nil
}

// ID returns the work item's unique identifier
func (w *WorkItem) ID() uuid.UUID {
	return w.id
}

// Key returns the dedup key
func (w *WorkItem) Key() string {
	return w.key
}

// CreatedAt returns when the work item was built
func (w *WorkItem) CreatedAt() time.Time {
	return w.createdAt
}

// Submitter is the only part of the dispatcher producers see.
type Submitter interface {
	// Submit hands item to the dispatcher. It never blocks. A nil error means
	// the item was queued and its callback will eventually run exactly once;
	// any error means the item was dropped and no callback follows.
	Submit(item *WorkItem) error
}

// Result is the outcome of one admitted work item, waiting to be delivered.
type Result struct {
	item    *WorkItem
	Status  int
	Payload any
}

// Item returns the work item the result belongs to
func (r *Result) Item() *WorkItem {
	return r.item
}
