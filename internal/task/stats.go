package task

import "sync/atomic"

// Stats is a point-in-time snapshot of the dispatcher's counters.
type Stats struct {
	InFlight          int64 `json:"in_flight"`
	MaxInFlight       int64 `json:"max_in_flight"`
	LiveItems         int64 `json:"live_items"`
	Queued            int   `json:"queued"`
	QueueCapacity     int   `json:"queue_capacity"`
	PendingResults    int   `json:"pending_results"`
	PermitsAvailable  int64 `json:"permits_available"`
	PermitCapacity    int64 `json:"permit_capacity"`
	Busy              bool  `json:"busy"`
	Submitted         int64 `json:"submitted"`
	RejectedDuplicate int64 `json:"rejected_duplicate"`
	RejectedFull      int64 `json:"rejected_full"`
	RejectedClosed    int64 `json:"rejected_closed"`
	LaunchFailures    int64 `json:"launch_failures"`
	Completed         int64 `json:"completed"`
	Delivered         int64 `json:"delivered"`
	Abandoned         int64 `json:"abandoned"`
}

// counters holds the process-wide tallies. inFlight and maxInFlight live on
// the Dispatcher under flightMu because they drive the busy indicator.
type counters struct {
	live              atomic.Int64
	submitted         atomic.Int64
	rejectedDuplicate atomic.Int64
	rejectedFull      atomic.Int64
	rejectedClosed    atomic.Int64
	launchFailures    atomic.Int64
	completed         atomic.Int64
	delivered         atomic.Int64
	abandoned         atomic.Int64
}

// Stats returns a snapshot of the dispatcher's counters. It is safe to call
// from any goroutine.
func (d *Dispatcher) Stats() Stats {
	d.flightMu.Lock()
	inFlight, maxInFlight := d.inFlight, d.maxInFlight
	d.flightMu.Unlock()

	return Stats{
		InFlight:          inFlight,
		MaxInFlight:       maxInFlight,
		LiveItems:         d.counters.live.Load(),
		Queued:            d.requests.Len(),
		QueueCapacity:     d.requests.Cap(),
		PendingResults:    d.responses.Len(),
		PermitsAvailable:  d.gate.Available(),
		PermitCapacity:    d.gate.Capacity(),
		Busy:              inFlight > 0,
		Submitted:         d.counters.submitted.Load(),
		RejectedDuplicate: d.counters.rejectedDuplicate.Load(),
		RejectedFull:      d.counters.rejectedFull.Load(),
		RejectedClosed:    d.counters.rejectedClosed.Load(),
		LaunchFailures:    d.counters.launchFailures.Load(),
		Completed:         d.counters.completed.Load(),
		Delivered:         d.counters.delivered.Load(),
		Abandoned:         d.counters.abandoned.Load(),
	}
}
