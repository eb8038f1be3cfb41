// Package metrics exposes dispatcher counters and lifecycle transitions as
// Prometheus collectors.
package metrics

import (
	"context"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/phrazzld/orbdash/internal/events"
	"github.com/phrazzld/orbdash/internal/task"
)

// Namespace prefixes every metric name.
const Namespace = "orbdash"

// StatsFunc returns the dispatcher's current counters.
type StatsFunc func() task.Stats

// Collector records lifecycle events and publishes dispatcher gauges on its
// own registry.
type Collector struct {
	registry    *prometheus.Registry
	transitions *prometheus.CounterVec
	execution   prometheus.Histogram

	mu      sync.Mutex
	started map[uuid.UUID]events.LifecycleEvent
}

// New creates a Collector reading gauges from stats.
func New(stats StatsFunc) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "work_items",
			Name:      "transitions_total",
			Help:      "Work item lifecycle transitions by state and reason",
		}, []string{"state", "reason"}),
		execution: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "work_items",
			Name:      "execution_seconds",
			Help:      "Time from admission to body completion",
			Buckets:   prometheus.DefBuckets,
		}),
		started: make(map[uuid.UUID]events.LifecycleEvent),
	}

	gauge := func(name, help string, value func(task.Stats) float64) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "dispatcher",
			Name:      name,
			Help:      help,
		}, func() float64 { return value(stats()) })
	}

	c.registry.MustRegister(
		c.transitions,
		c.execution,
		gauge("in_flight", "Work items currently executing",
			func(s task.Stats) float64 { return float64(s.InFlight) }),
		gauge("live_items", "Work items created and not yet destroyed",
			func(s task.Stats) float64 { return float64(s.LiveItems) }),
		gauge("queued", "Work items waiting for admission",
			func(s task.Stats) float64 { return float64(s.Queued) }),
		gauge("pending_results", "Results waiting to be drained",
			func(s task.Stats) float64 { return float64(s.PendingResults) }),
		gauge("permits_available", "Free execution permits",
			func(s task.Stats) float64 { return float64(s.PermitsAvailable) }),
		gauge("busy", "1 while any work item is executing",
			func(s task.Stats) float64 {
				if s.Busy {
					return 1
				}
				return 0
			}),
	)

	return c
}

// HandleEvent implements events.EventHandler.
func (c *Collector) HandleEvent(_ context.Context, event *events.LifecycleEvent) error {
	c.transitions.WithLabelValues(string(event.State), event.Reason).Inc()

	c.mu.Lock()
	defer c.mu.Unlock()

	switch event.State {
	case events.StateAdmitted:
		c.started[event.ItemID] = *event
	case events.StateCompleted:
		if admitted, ok := c.started[event.ItemID]; ok {
			c.execution.Observe(event.At.Sub(admitted.At).Seconds())
		}
	case events.StateDestroyed:
		delete(c.started, event.ItemID)
	}
	return nil
}

// Registry returns the registry holding every collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

var _ events.EventHandler = (*Collector)(nil)
