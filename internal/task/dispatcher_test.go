package task

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/orbdash/internal/events"
	"github.com/phrazzld/orbdash/internal/platform/logger"
)

func testConfig(requestQueueSize, maxConcurrent int) DispatcherConfig {
	return DispatcherConfig{
		RequestQueueSize:  requestQueueSize,
		ResponseQueueSize: 16,
		MaxConcurrent:     maxConcurrent,
	}
}

func newTestDispatcher(t *testing.T, config DispatcherConfig) (*Dispatcher, *events.Recorder) {
	t.Helper()
	log := setupTestLogger()

	d := NewDispatcher(config, log)
	rec := events.NewRecorder(4096)
	emitter := events.NewInMemoryEventEmitter(log)
	emitter.RegisterHandler(rec)
	d.SetEventEmitter(emitter)

	return d, rec
}

// blockingItem builds an item whose body announces itself on started and then
// waits for release to be closed. Delivered keys are appended to delivered.
func blockingItem(t *testing.T, key string, started chan<- string, release <-chan struct{}, delivered *[]string) *WorkItem {
	t.Helper()
	item, err := NewWorkItem(key,
		func(ctx context.Context) (int, any) {
			started <- key
			<-release
			return 200, key
		},
		func(status int, payload any) {
			*delivered = append(*delivered, payload.(string))
		})
	require.NoError(t, err)
	return item
}

func receive(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for body to start")
		return ""
	}
}

func assertNothingStarts(t *testing.T, ch <-chan string) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected start of %q", v)
	case <-time.After(50 * time.Millisecond):
	}
}

// runUntil plays the control loop until cond holds.
func runUntil(t *testing.T, d *Dispatcher, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("Timed out running control loop")
		}
		d.Tick()
		d.Drain()
		time.Sleep(200 * time.Microsecond)
	}
}

func TestNewDispatcher(t *testing.T) {
	d := NewDispatcher(DefaultDispatcherConfig(), setupTestLogger())

	stats := d.Stats()
	assert.Equal(t, 10, stats.QueueCapacity)
	assert.Equal(t, int64(2), stats.PermitCapacity)
	assert.Equal(t, int64(2), stats.PermitsAvailable)
	assert.False(t, stats.Busy)

	// Invalid concurrency falls back to 1
	d = NewDispatcher(DispatcherConfig{RequestQueueSize: 1, ResponseQueueSize: 1}, setupTestLogger())
	assert.Equal(t, int64(1), d.Stats().PermitCapacity)
	assert.Equal(t, "task-exec", d.config.ExecutionName)
}

func TestDispatcher_TickOnEmptyQueue(t *testing.T) {
	d, rec := newTestDispatcher(t, testConfig(4, 2))

	d.Tick()
	assert.Equal(t, 0, d.Drain())
	assert.Equal(t, int64(2), d.Stats().PermitsAvailable)
	assert.Empty(t, rec.Events())
}

func TestDispatcher_QueueFullAndGate(t *testing.T) {
	d, _ := newTestDispatcher(t, testConfig(4, 2))

	started := make(chan string, 10)
	releases := map[string]chan struct{}{}
	var delivered []string

	for _, key := range []string{"A", "B", "C", "D"} {
		releases[key] = make(chan struct{})
		require.NoError(t, d.Submit(blockingItem(t, key, started, releases[key], &delivered)))
	}

	err := d.Submit(blockingItem(t, "E", started, make(chan struct{}), &delivered))
	assert.ErrorIs(t, err, ErrQueueFull)

	// Two permits: A and B are admitted, the third tick must leave C queued
	d.Tick()
	d.Tick()
	d.Tick()

	first := []string{receive(t, started), receive(t, started)}
	assert.ElementsMatch(t, []string{"A", "B"}, first)
	assertNothingStarts(t, started)

	stats := d.Stats()
	assert.Equal(t, int64(2), stats.InFlight)
	assert.Equal(t, 2, stats.Queued)
	assert.Equal(t, int64(0), stats.PermitsAvailable)
	assert.Equal(t, int64(1), stats.RejectedFull)

	close(releases["A"])
	require.Eventually(t, func() bool { return d.Stats().PermitsAvailable == 1 }, time.Second, time.Millisecond)

	d.Tick()
	assert.Equal(t, "C", receive(t, started))

	assert.Equal(t, 1, d.Drain())
	assert.Equal(t, []string{"A"}, delivered)

	close(releases["B"])
	close(releases["C"])
	close(releases["D"])
	runUntil(t, d, func() bool { return len(delivered) == 4 })

	assert.ElementsMatch(t, []string{"A", "B", "C", "D"}, delivered)
	require.Eventually(t, func() bool { return d.Stats().PermitsAvailable == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, int64(0), d.Stats().LiveItems)
	assert.Equal(t, int64(2), d.Stats().MaxInFlight)
}

func TestDispatcher_RejectsQueuedDuplicate(t *testing.T) {
	d, rec := newTestDispatcher(t, testConfig(4, 1))

	require.NoError(t, d.Submit(newTestItem(t, "x")))

	dup := newTestItem(t, "x")
	err := d.Submit(dup)
	assert.ErrorIs(t, err, ErrDuplicate)

	stats := d.Stats()
	assert.Equal(t, 1, stats.Queued)
	assert.Equal(t, int64(1), stats.LiveItems)
	assert.Equal(t, int64(1), stats.RejectedDuplicate)

	var dupStates []events.State
	for _, e := range rec.Events() {
		if e.ItemID == dup.ID() {
			dupStates = append(dupStates, e.State)
		}
	}
	want := []events.State{events.StateSubmitted, events.StateQueued, events.StateRejected}
	if diff := cmp.Diff(want, dupStates); diff != "" {
		t.Errorf("duplicate lifecycle mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatcher_AcceptsDuplicateOfInFlightItem(t *testing.T) {
	d, _ := newTestDispatcher(t, testConfig(4, 1))

	started := make(chan string, 4)
	release := make(chan struct{})
	var delivered []string

	require.NoError(t, d.Submit(blockingItem(t, "x", started, release, &delivered)))
	d.Tick()
	assert.Equal(t, "x", receive(t, started))

	// Only queued items are checked for duplicates
	err := d.Submit(blockingItem(t, "x", started, release, &delivered))
	assert.NoError(t, err)
	assert.Equal(t, 1, d.Stats().Queued)

	close(release)
	runUntil(t, d, func() bool { return len(delivered) == 2 })
	assert.Equal(t, []string{"x", "x"}, delivered)
}

func TestDispatcher_LaunchFailure(t *testing.T) {
	d, rec := newTestDispatcher(t, testConfig(4, 2))
	d.SetLauncher(LauncherFunc(func(name string, fn func()) error {
		return fmt.Errorf("%w: out of memory", ErrLaunchFailed)
	}))

	called := false
	item, err := NewWorkItem("x", okBody, func(int, any) { called = true })
	require.NoError(t, err)
	require.NoError(t, d.Submit(item))

	before := d.Stats()
	d.Tick()
	after := d.Stats()

	assert.Equal(t, before.InFlight, after.InFlight)
	assert.Equal(t, before.PermitsAvailable, after.PermitsAvailable)
	assert.Equal(t, int64(0), after.LiveItems)
	assert.Equal(t, 0, after.Queued)
	assert.Equal(t, int64(1), after.LaunchFailures)
	assert.False(t, after.Busy)

	assert.Equal(t, 0, d.Drain())
	assert.False(t, called, "no callback after a launch failure")

	want := []events.State{
		events.StateSubmitted,
		events.StateQueued,
		events.StateAdmitted,
		events.StateDestroyed,
	}
	if diff := cmp.Diff(want, rec.StatesFor("x")); diff != "" {
		t.Errorf("lifecycle mismatch (-want +got):\n%s", diff)
	}
	last := rec.Events()[len(rec.Events())-1]
	assert.Equal(t, events.ReasonLaunchFailed, last.Reason)
}

func TestDispatcher_LaunchFailureFromGoroutineLimit(t *testing.T) {
	config := testConfig(4, 2)
	config.MaxExecutionContexts = 1
	d, _ := newTestDispatcher(t, config)

	started := make(chan string, 4)
	release := make(chan struct{})
	var delivered []string

	require.NoError(t, d.Submit(blockingItem(t, "a", started, release, &delivered)))
	require.NoError(t, d.Submit(blockingItem(t, "b", started, release, &delivered)))

	d.Tick()
	assert.Equal(t, "a", receive(t, started))
	d.Tick()
	assertNothingStarts(t, started)

	stats := d.Stats()
	assert.Equal(t, int64(1), stats.LaunchFailures)
	assert.Equal(t, int64(1), stats.InFlight)
	assert.Equal(t, int64(1), stats.PermitsAvailable)

	close(release)
	runUntil(t, d, func() bool { return len(delivered) == 1 })
	assert.Equal(t, []string{"a"}, delivered)
}

func TestDispatcher_BoundedConcurrency(t *testing.T) {
	const (
		items       = 30
		concurrency = 3
	)
	d, _ := newTestDispatcher(t, testConfig(items, concurrency))

	var running, maxRunning atomic.Int64
	deliveries := map[string]int{}
	inDrain := false

	for i := 0; i < items; i++ {
		key := fmt.Sprintf("item-%d", i)
		delay := time.Duration(rand.Intn(3)) * time.Millisecond
		item, err := NewWorkItem(key,
			func(ctx context.Context) (int, any) {
				n := running.Add(1)
				for {
					m := maxRunning.Load()
					if n <= m || maxRunning.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(delay)
				running.Add(-1)
				return 200, key
			},
			func(status int, payload any) {
				assert.True(t, inDrain, "callback must run inside Drain")
				deliveries[payload.(string)]++
			})
		require.NoError(t, err)
		require.NoError(t, d.Submit(item))
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(deliveries) < items && time.Now().Before(deadline) {
		d.Tick()
		inDrain = true
		d.Drain()
		inDrain = false
		time.Sleep(100 * time.Microsecond)
	}

	require.Len(t, deliveries, items)
	for key, n := range deliveries {
		assert.Equal(t, 1, n, "item %s delivered %d times", key, n)
	}
	assert.LessOrEqual(t, maxRunning.Load(), int64(concurrency))

	require.Eventually(t, func() bool {
		s := d.Stats()
		return s.InFlight == 0 && s.PermitsAvailable == concurrency
	}, time.Second, time.Millisecond)

	stats := d.Stats()
	assert.LessOrEqual(t, stats.MaxInFlight, int64(concurrency))
	assert.Equal(t, int64(0), stats.LiveItems)
	assert.Equal(t, int64(items), stats.Completed)
	assert.Equal(t, int64(items), stats.Delivered)
}

func TestDispatcher_FIFOAdmission(t *testing.T) {
	d, rec := newTestDispatcher(t, testConfig(8, 2))

	var submitted []string
	delivered := 0
	for i := 0; i < 6; i++ {
		key := fmt.Sprintf("k%d", i)
		submitted = append(submitted, key)
		item, err := NewWorkItem(key,
			func(ctx context.Context) (int, any) {
				time.Sleep(time.Duration(rand.Intn(2)) * time.Millisecond)
				return 200, nil
			},
			func(int, any) { delivered++ })
		require.NoError(t, err)
		require.NoError(t, d.Submit(item))
	}

	runUntil(t, d, func() bool { return delivered == 6 })

	var admitted []string
	for _, e := range rec.Events() {
		if e.State == events.StateAdmitted {
			admitted = append(admitted, e.Key)
		}
	}
	if diff := cmp.Diff(submitted, admitted); diff != "" {
		t.Errorf("admission order mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatcher_Lifecycle(t *testing.T) {
	d, rec := newTestDispatcher(t, testConfig(4, 1))

	var gotStatus int
	var gotPayload any
	item, err := NewWorkItem("https://example.com/data",
		func(ctx context.Context) (int, any) { return 200, []byte(`{"ok":true}`) },
		func(status int, payload any) {
			gotStatus = status
			gotPayload = payload
		})
	require.NoError(t, err)
	require.NoError(t, d.Submit(item))

	runUntil(t, d, func() bool { return gotStatus != 0 })

	assert.Equal(t, 200, gotStatus)
	assert.Equal(t, []byte(`{"ok":true}`), gotPayload)

	want := []events.State{
		events.StateSubmitted,
		events.StateQueued,
		events.StateAdmitted,
		events.StateExecuting,
		events.StateCompleted,
		events.StateDrained,
		events.StateDestroyed,
	}
	if diff := cmp.Diff(want, rec.StatesFor("https://example.com/data")); diff != "" {
		t.Errorf("lifecycle mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatcher_BodyFailureIsDelivered(t *testing.T) {
	d, _ := newTestDispatcher(t, testConfig(4, 1))

	var gotStatus int
	delivered := false
	item, err := NewWorkItem("k",
		func(ctx context.Context) (int, any) { return -1, errors.New("connection refused") },
		func(status int, payload any) {
			gotStatus = status
			delivered = true
		})
	require.NoError(t, err)
	require.NoError(t, d.Submit(item))

	runUntil(t, d, func() bool { return delivered })
	assert.Equal(t, -1, gotStatus)
}

func TestDispatcher_BodyPanic(t *testing.T) {
	d, _ := newTestDispatcher(t, testConfig(4, 1))

	var gotStatus int
	var gotPayload any
	delivered := false
	item, err := NewWorkItem("k",
		func(ctx context.Context) (int, any) { panic("test panic") },
		func(status int, payload any) {
			gotStatus = status
			gotPayload = payload
			delivered = true
		})
	require.NoError(t, err)
	require.NoError(t, d.Submit(item))

	runUntil(t, d, func() bool { return delivered })

	assert.Equal(t, StatusPanicked, gotStatus)
	panicErr, ok := gotPayload.(error)
	require.True(t, ok, "payload should be the recovered panic as an error")
	assert.Contains(t, panicErr.Error(), "test panic")

	require.Eventually(t, func() bool { return d.Stats().PermitsAvailable == 1 }, time.Second, time.Millisecond)
}

func TestDispatcher_CallbackPanicDoesNotStopDrain(t *testing.T) {
	d, _ := newTestDispatcher(t, testConfig(4, 2))

	secondDelivered := false
	first, err := NewWorkItem("first", okBody, func(int, any) { panic("callback panic") })
	require.NoError(t, err)
	second, err := NewWorkItem("second", okBody, func(int, any) { secondDelivered = true })
	require.NoError(t, err)

	require.NoError(t, d.Submit(first))
	require.NoError(t, d.Submit(second))

	runUntil(t, d, func() bool { return d.Stats().Delivered == 2 })
	assert.True(t, secondDelivered)
	assert.Equal(t, int64(0), d.Stats().LiveItems)
}

func TestDispatcher_CallbackMaySubmit(t *testing.T) {
	d, _ := newTestDispatcher(t, testConfig(4, 1))

	followUpDone := false
	first, err := NewWorkItem("team", okBody, func(status int, payload any) {
		logo, err := NewWorkItem("logo", okBody, func(int, any) { followUpDone = true })
		require.NoError(t, err)
		assert.NoError(t, d.Submit(logo))
	})
	require.NoError(t, err)
	require.NoError(t, d.Submit(first))

	runUntil(t, d, func() bool { return followUpDone })
	assert.Equal(t, int64(2), d.Stats().Delivered)
}

func TestDispatcher_BusyIndicator(t *testing.T) {
	d, _ := newTestDispatcher(t, testConfig(4, 2))

	var mu sync.Mutex
	var transitions []bool
	d.SetBusyIndicator(BusyIndicatorFunc(func(busy bool) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, busy)
	}))

	started := make(chan string, 4)
	release := make(chan struct{})
	var delivered []string
	require.NoError(t, d.Submit(blockingItem(t, "a", started, release, &delivered)))
	require.NoError(t, d.Submit(blockingItem(t, "b", started, release, &delivered)))

	d.Tick()
	d.Tick()
	receive(t, started)
	receive(t, started)
	assert.True(t, d.Stats().Busy)

	close(release)
	runUntil(t, d, func() bool { return len(delivered) == 2 })
	require.Eventually(t, func() bool { return !d.Stats().Busy }, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false}, transitions, "busy toggles once per busy period")
}

func TestDispatcher_ShutdownDiscardsQueued(t *testing.T) {
	d, rec := newTestDispatcher(t, testConfig(4, 1))

	require.NoError(t, d.Submit(newTestItem(t, "a")))
	require.NoError(t, d.Submit(newTestItem(t, "b")))

	require.NoError(t, d.Shutdown(context.Background()))
	assert.True(t, d.Closed())

	stats := d.Stats()
	assert.Equal(t, 0, stats.Queued)
	assert.Equal(t, int64(0), stats.LiveItems)

	err := d.Submit(newTestItem(t, "c"))
	assert.ErrorIs(t, err, ErrDispatcherClosed)
	assert.Equal(t, int64(1), d.Stats().RejectedClosed)

	destroyed := 0
	for _, e := range rec.Events() {
		if e.State == events.StateDestroyed && e.Reason == events.ReasonShutdown {
			destroyed++
		}
	}
	assert.Equal(t, 2, destroyed)

	// Ticking a closed dispatcher is harmless
	d.Tick()
	assert.Equal(t, 0, d.Drain())
}

func TestDispatcher_ShutdownWaitsForInFlight(t *testing.T) {
	d, _ := newTestDispatcher(t, testConfig(4, 1))

	started := make(chan string, 1)
	release := make(chan struct{})
	var delivered []string
	require.NoError(t, d.Submit(blockingItem(t, "a", started, release, &delivered)))
	d.Tick()
	receive(t, started)

	stopped := make(chan error, 1)
	go func() {
		stopped <- d.Shutdown(context.Background())
	}()

	select {
	case <-stopped:
		t.Fatal("Shutdown returned while a body was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for Shutdown")
	}

	// The finished result is still delivered by a final drain
	assert.Equal(t, 1, d.Drain())
	assert.Equal(t, []string{"a"}, delivered)
}

func TestDispatcher_ShutdownTimeout(t *testing.T) {
	d, _ := newTestDispatcher(t, testConfig(4, 1))

	started := make(chan string, 1)
	release := make(chan struct{})
	defer close(release)
	var delivered []string
	require.NoError(t, d.Submit(blockingItem(t, "a", started, release, &delivered)))
	d.Tick()
	receive(t, started)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := d.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDispatcher_ShutdownAbandonsBlockedResults(t *testing.T) {
	config := testConfig(4, 2)
	config.ResponseQueueSize = 1
	d, _ := newTestDispatcher(t, config)

	delivered := 0
	for _, key := range []string{"a", "b"} {
		item, err := NewWorkItem(key, okBody, func(int, any) { delivered++ })
		require.NoError(t, err)
		require.NoError(t, d.Submit(item))
	}
	d.Tick()
	d.Tick()

	// Both bodies finish; one result fits, the other waits for space
	require.Eventually(t, func() bool {
		s := d.Stats()
		return s.Completed == 2 && s.PendingResults == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, d.Shutdown(context.Background()))

	stats := d.Stats()
	assert.Equal(t, int64(1), stats.Abandoned)
	assert.Equal(t, int64(0), stats.InFlight)

	assert.Equal(t, 1, d.Drain())
	assert.Equal(t, 1, delivered)
	assert.Equal(t, int64(0), d.Stats().LiveItems)
}

func TestDispatcher_SubmitNil(t *testing.T) {
	d, _ := newTestDispatcher(t, testConfig(4, 1))
	assert.ErrorIs(t, d.Submit(nil), ErrInvalidWorkItem)
}

func TestDispatcher_LeakCheck(t *testing.T) {
	const leakWarning = "possible work item leak"

	newLeakDispatcher := func(t *testing.T) (*Dispatcher, *logger.TestLogBuffer, *time.Time) {
		log, buf := logger.GetTestLogger(t)
		config := testConfig(8, 1)
		config.LeakCheckInterval = 30 * time.Second

		d := NewDispatcher(config, log)
		now := time.Unix(1_700_000_000, 0)
		d.SetClock(func() time.Time { return now })
		return d, buf, &now
	}

	t.Run("warns when live items grow without completions", func(t *testing.T) {
		d, buf, now := newLeakDispatcher(t)
		d.Drain() // first check only records a baseline

		for _, key := range []string{"a", "b", "c"} {
			require.NoError(t, d.Submit(newTestItem(t, key)))
		}

		*now = now.Add(10 * time.Second)
		d.Drain()
		assert.NotContains(t, buf.String(), leakWarning, "interval has not elapsed")

		*now = now.Add(25 * time.Second)
		d.Drain()
		assert.Contains(t, buf.String(), leakWarning)
		assert.Contains(t, buf.String(), `"live_items":3`)
	})

	t.Run("quiet when idle", func(t *testing.T) {
		d, buf, now := newLeakDispatcher(t)
		d.Drain()

		*now = now.Add(time.Minute)
		d.Drain()

		assert.Contains(t, buf.String(), "work item leak check")
		assert.NotContains(t, buf.String(), leakWarning)
	})

	t.Run("disabled with zero interval", func(t *testing.T) {
		log, buf := logger.GetTestLogger(t)
		d := NewDispatcher(testConfig(8, 1), log)
		d.Drain()
		d.Drain()
		assert.NotContains(t, buf.String(), "leak check")
	})
}
