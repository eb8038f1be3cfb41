package task

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/emirpasic/gods/queues/circularbuffer"

	"github.com/phrazzld/orbdash/internal/redact"
)

// RequestQueue is the bounded FIFO holding submitted work items until the
// dispatcher admits them. No operation blocks.
type RequestQueue struct {
	mu     sync.Mutex
	items  *circularbuffer.Queue
	size   int
	closed bool
	logger *slog.Logger
}

// NewRequestQueue creates a new request queue holding at most size items
func NewRequestQueue(size int, logger *slog.Logger) *RequestQueue {
	if size <= 0 {
		logger.Warn("invalid request queue size specified, using default",
			"specified_size", size,
			"default_size", 1)
		size = 1
	}

	return &RequestQueue{
		items:  circularbuffer.New(size),
		size:   size,
		logger: logger,
	}
}

// Push adds an item to the back of the queue.
// Returns an error if the queue is full or closed
func (q *RequestQueue) Push(item *WorkItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pushLocked(item)
}

// PushUnique adds an item unless an item with the same key is already queued.
// The scan and the push happen atomically, so two producers racing on the
// same key cannot both get in.
func (q *RequestQueue) PushUnique(item *WorkItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.containsLocked(item.key) {
		return fmt.Errorf("%w: %s", ErrDuplicate, redact.URL(item.key))
	}
	return q.pushLocked(item)
}

func (q *RequestQueue) pushLocked(item *WorkItem) error {
	if q.closed {
		return ErrQueueClosed
	}
	// circularbuffer overwrites the oldest entry when full
	if q.items.Full() {
		return fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, q.size)
	}

	q.items.Enqueue(item)
	q.logger.Debug("work item enqueued",
		"item_id", item.id,
		"key", redact.URL(item.key),
		"queue_len", q.items.Size(),
		"queue_cap", q.size)
	return nil
}

// Contains reports whether an item with key is queued, without removing anything
func (q *RequestQueue) Contains(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.containsLocked(key)
}

func (q *RequestQueue) containsLocked(key string) bool {
	for _, v := range q.items.Values() {
		if v.(*WorkItem).key == key {
			return true
		}
	}
	return false
}

// Pop removes and returns the item at the front of the queue.
// ok is false when the queue is empty.
func (q *RequestQueue) Pop() (item *WorkItem, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	v, ok := q.items.Dequeue()
	if !ok {
		return nil, false
	}
	return v.(*WorkItem), true
}

// Len returns the number of queued items
func (q *RequestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Size()
}

// Cap returns the queue capacity
func (q *RequestQueue) Cap() int {
	return q.size
}

// Close rejects all further pushes and returns the items still queued,
// oldest first. Subsequent calls return nil.
func (q *RequestQueue) Close() []*WorkItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true

	values := q.items.Values()
	q.items.Clear()

	remaining := make([]*WorkItem, 0, len(values))
	for _, v := range values {
		remaining = append(remaining, v.(*WorkItem))
	}
	q.logger.Info("request queue closed", "discarded", len(remaining))
	return remaining
}
