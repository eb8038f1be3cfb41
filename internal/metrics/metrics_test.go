package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/orbdash/internal/events"
	"github.com/phrazzld/orbdash/internal/task"
)

func eventAt(id uuid.UUID, state events.State, at time.Time) *events.LifecycleEvent {
	e := events.NewLifecycleEvent(id, "https://example.com", state)
	e.At = at
	return e
}

func TestCollector_Transitions(t *testing.T) {
	c := New(func() task.Stats { return task.Stats{} })
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, c.HandleEvent(ctx, events.NewLifecycleEvent(id, "k", events.StateQueued)))
	require.NoError(t, c.HandleEvent(ctx, events.NewLifecycleEvent(id, "k", events.StateRejected).WithReason(events.ReasonQueueFull)))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.transitions.WithLabelValues("queued", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transitions.WithLabelValues("rejected", "queue_full")))
}

func TestCollector_ExecutionLatency(t *testing.T) {
	c := New(func() task.Stats { return task.Stats{} })
	ctx := context.Background()
	id := uuid.New()
	start := time.Unix(1_700_000_000, 0)

	require.NoError(t, c.HandleEvent(ctx, eventAt(id, events.StateAdmitted, start)))
	require.NoError(t, c.HandleEvent(ctx, eventAt(id, events.StateCompleted, start.Add(250*time.Millisecond))))
	require.NoError(t, c.HandleEvent(ctx, eventAt(id, events.StateDestroyed, start.Add(time.Second))))

	assert.Equal(t, 1, testutil.CollectAndCount(c.execution))
	assert.Empty(t, c.started, "destroyed items are forgotten")

	expected := `
# HELP orbdash_work_items_execution_seconds Time from admission to body completion
# TYPE orbdash_work_items_execution_seconds histogram
orbdash_work_items_execution_seconds_bucket{le="0.005"} 0
orbdash_work_items_execution_seconds_bucket{le="0.01"} 0
orbdash_work_items_execution_seconds_bucket{le="0.025"} 0
orbdash_work_items_execution_seconds_bucket{le="0.05"} 0
orbdash_work_items_execution_seconds_bucket{le="0.1"} 0
orbdash_work_items_execution_seconds_bucket{le="0.25"} 1
orbdash_work_items_execution_seconds_bucket{le="0.5"} 1
orbdash_work_items_execution_seconds_bucket{le="1"} 1
orbdash_work_items_execution_seconds_bucket{le="2.5"} 1
orbdash_work_items_execution_seconds_bucket{le="5"} 1
orbdash_work_items_execution_seconds_bucket{le="10"} 1
orbdash_work_items_execution_seconds_bucket{le="+Inf"} 1
orbdash_work_items_execution_seconds_sum 0.25
orbdash_work_items_execution_seconds_count 1
`
	assert.NoError(t, testutil.CollectAndCompare(c.execution, strings.NewReader(expected)))
}

func TestCollector_Gauges(t *testing.T) {
	c := New(func() task.Stats {
		return task.Stats{InFlight: 2, LiveItems: 5, Queued: 3, PermitsAvailable: 0, Busy: true}
	})

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	count, err := testutil.GatherAndCount(c.Registry(),
		"orbdash_dispatcher_in_flight",
		"orbdash_dispatcher_busy")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	expected := `
# HELP orbdash_dispatcher_in_flight Work items currently executing
# TYPE orbdash_dispatcher_in_flight gauge
orbdash_dispatcher_in_flight 2
# HELP orbdash_dispatcher_busy 1 while any work item is executing
# TYPE orbdash_dispatcher_busy gauge
orbdash_dispatcher_busy 1
`
	assert.NoError(t, testutil.GatherAndCompare(c.Registry(), strings.NewReader(expected),
		"orbdash_dispatcher_in_flight", "orbdash_dispatcher_busy"))
}

func TestCollector_WiredToDispatcher(t *testing.T) {
	d := task.NewDispatcher(task.DefaultDispatcherConfig(), discardLogger())
	c := New(d.Stats)

	emitter := events.NewInMemoryEventEmitter(discardLogger())
	emitter.RegisterHandler(c)
	d.SetEventEmitter(emitter)

	delivered := false
	item, err := task.NewWorkItem("k",
		func(ctx context.Context) (int, any) { return 200, nil },
		func(int, any) { delivered = true })
	require.NoError(t, err)
	require.NoError(t, d.Submit(item))

	require.Eventually(t, func() bool {
		d.Tick()
		d.Drain()
		return delivered
	}, 2*time.Second, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.transitions.WithLabelValues("destroyed", "delivered")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.execution))
}
