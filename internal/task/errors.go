package task

import "errors"

// Common errors returned by the dispatcher and its queues
var (
	ErrDuplicate        = errors.New("work item with the same key is already queued")
	ErrQueueFull        = errors.New("task queue is full")
	ErrQueueClosed      = errors.New("task queue is closed")
	ErrDispatcherClosed = errors.New("dispatcher is closed")
	ErrLaunchFailed     = errors.New("failed to launch execution context")
	ErrInvalidWorkItem  = errors.New("invalid work item")
)
