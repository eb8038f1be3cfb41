// Package events provides the lifecycle event vocabulary for work items moving
// through the dispatcher.
//
// Producers of work never see these events. They exist so that diagnostics,
// logging and tests can observe every state transition of a work item without
// polling counters:
//
//	Submitted → Queued → (Rejected | Admitted) → Executing → Completed → Drained → Destroyed
//
// The primary components are:
// - LifecycleEvent: one state transition of one work item
// - EventHandler: interface for components that consume events
// - EventEmitter: interface for components that publish events
// - Recorder: a bounded, concurrency-safe handler that keeps recent events
package events
