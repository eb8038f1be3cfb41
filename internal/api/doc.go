// Package api serves the diagnostics endpoints: dispatcher statistics,
// widget snapshots, recent work item lifecycle events and forced widget
// refreshes. Handlers never touch widgets directly; refreshes are posted to
// the control loop.
package api
