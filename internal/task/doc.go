// Package task dispatches asynchronous work items for the dashboard's widgets.
//
// Widgets submit work items (a dedup key, a body and a completion callback) to a
// Dispatcher. The dispatcher keeps them in a bounded FIFO request queue, admits
// them one per control-loop tick while the concurrency gate has permits, runs
// each body on its own goroutine and queues the result. The control loop then
// drains finished results and invokes callbacks on its own goroutine, so widget
// state is never touched concurrently.
//
// Neither Tick nor Drain ever blocks the control loop.
package task
