package task

import "time"

// leakMonitor remembers the previous leak check. It is only touched from
// Drain, so it needs no locking.
type leakMonitor struct {
	lastCheck     time.Time
	lastLive      int64
	lastCompleted int64
}

// checkLeaks logs the live work item count every LeakCheckInterval. A count
// that grew while nothing completed is reported as a possible leak; nothing
// is done about it automatically.
func (d *Dispatcher) checkLeaks() {
	interval := d.config.LeakCheckInterval
	if interval <= 0 {
		return
	}

	now := d.now()
	if d.leak.lastCheck.IsZero() {
		d.leak.lastCheck = now
		d.leak.lastLive = d.counters.live.Load()
		d.leak.lastCompleted = d.counters.completed.Load()
		return
	}
	if now.Sub(d.leak.lastCheck) < interval {
		return
	}

	live := d.counters.live.Load()
	completed := d.counters.completed.Load()

	d.logger.Debug("work item leak check",
		"live_items", live,
		"previous_live_items", d.leak.lastLive,
		"completed", completed)

	if live > d.leak.lastLive && completed == d.leak.lastCompleted {
		d.logger.Warn("possible work item leak: live items growing without completions",
			"live_items", live,
			"previous_live_items", d.leak.lastLive,
			"interval", interval)
	}

	d.leak.lastCheck = now
	d.leak.lastLive = live
	d.leak.lastCompleted = completed
}
