package task

import (
	"log/slog"
	"sync"
)

// ResponseQueue is the bounded FIFO carrying finished results from execution
// goroutines back to the control loop.
type ResponseQueue struct {
	results   chan *Result
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

// NewResponseQueue creates a new response queue with the specified buffer size
func NewResponseQueue(size int, logger *slog.Logger) *ResponseQueue {
	if size <= 0 {
		logger.Warn("invalid response queue size specified, using default",
			"specified_size", size,
			"default_size", 1)
		size = 1
	}

	return &ResponseQueue{
		results: make(chan *Result, size),
		done:    make(chan struct{}),
		logger:  logger,
	}
}

// Push hands a result to the control loop. It is called from execution
// goroutines only and waits while the queue is full. Once the queue is
// closed a waiting Push gives up and returns ErrQueueClosed.
func (q *ResponseQueue) Push(r *Result) error {
	select {
	case q.results <- r:
		return nil
	default:
	}

	q.logger.Debug("response queue full, waiting for drain",
		"item_id", r.item.id,
		"queue_cap", cap(q.results))

	select {
	case q.results <- r:
		return nil
	case <-q.done:
		return ErrQueueClosed
	}
}

// TryPop returns the oldest result without waiting.
// ok is false when nothing is available.
func (q *ResponseQueue) TryPop() (r *Result, ok bool) {
	select {
	case r = <-q.results:
		return r, true
	default:
		return nil, false
	}
}

// Len returns the number of results waiting to be drained
func (q *ResponseQueue) Len() int {
	return len(q.results)
}

// Cap returns the queue capacity
func (q *ResponseQueue) Cap() int {
	return cap(q.results)
}

// Close releases every Push blocked on a full queue. Results already queued
// stay available to TryPop.
func (q *ResponseQueue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
		q.logger.Info("response queue closed", "pending", len(q.results))
	})
}
