package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/phrazzld/orbdash/internal/events"
	"github.com/phrazzld/orbdash/internal/redact"
)

// DispatcherConfig holds configuration for the dispatcher
type DispatcherConfig struct {
	// RequestQueueSize is the capacity of the request queue
	RequestQueueSize int

	// ResponseQueueSize is the capacity of the response queue
	ResponseQueueSize int

	// MaxConcurrent is the number of work items allowed to execute at once
	MaxConcurrent int

	// LeakCheckInterval defines how often Drain logs the live work item count.
	// Zero disables the check.
	LeakCheckInterval time.Duration

	// MaxExecutionContexts limits how many execution goroutines the default
	// launcher keeps alive. Zero means unlimited.
	MaxExecutionContexts int

	// ExecutionName labels execution contexts in logs and launch errors
	ExecutionName string
}

// DefaultDispatcherConfig returns a DispatcherConfig with reasonable defaults
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		RequestQueueSize:  10,
		ResponseQueueSize: 10,
		MaxConcurrent:     2,
		LeakCheckInterval: 30 * time.Second,
		ExecutionName:     "task-exec",
	}
}

// Dispatcher admits queued work items under a concurrency cap and hands their
// results back to the control loop.
//
// Submit may be called from any goroutine. Tick, Drain and Shutdown belong to
// the control loop and must only be called from it.
type Dispatcher struct {
	config    DispatcherConfig
	requests  *RequestQueue
	responses *ResponseQueue
	gate      *Gate
	launcher  Launcher
	emitter   events.EventEmitter
	busy      BusyIndicator
	logger    *slog.Logger
	now       func() time.Time

	// ctx is handed to every body; the dispatcher never cancels it
	ctx context.Context

	wg     sync.WaitGroup
	closed atomic.Bool

	flightMu    sync.Mutex
	inFlight    int64
	maxInFlight int64

	counters counters
	leak     leakMonitor
}

// NewDispatcher creates a new Dispatcher
func NewDispatcher(config DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if config.MaxConcurrent <= 0 {
		logger.Warn("invalid max concurrent specified, using default",
			"specified_count", config.MaxConcurrent,
			"default_count", 1)
		config.MaxConcurrent = 1
	}
	if config.ExecutionName == "" {
		config.ExecutionName = DefaultDispatcherConfig().ExecutionName
	}

	logger = logger.With("component", "dispatcher")

	return &Dispatcher{
		config:    config,
		requests:  NewRequestQueue(config.RequestQueueSize, logger),
		responses: NewResponseQueue(config.ResponseQueueSize, logger),
		gate:      NewGate(config.MaxConcurrent),
		launcher:  NewGoroutineLauncher(config.MaxExecutionContexts),
		logger:    logger,
		now:       time.Now,
		ctx:       context.Background(),
	}
}

// SetLauncher replaces the launcher used to start execution contexts
func (d *Dispatcher) SetLauncher(launcher Launcher) {
	d.launcher = launcher
}

// SetEventEmitter sets where lifecycle events are published. If nil, no
// events are emitted.
func (d *Dispatcher) SetEventEmitter(emitter events.EventEmitter) {
	d.emitter = emitter
}

// SetBusyIndicator sets the indicator told when work starts and stops being in flight
func (d *Dispatcher) SetBusyIndicator(busy BusyIndicator) {
	d.busy = busy
}

// SetClock replaces the time source used for leak checks and event timestamps
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

// Submit queues item for execution. It never blocks.
//
// Submit returns ErrDuplicate if an item with the same key is still waiting
// in the request queue, ErrQueueFull if the queue is at capacity and
// ErrDispatcherClosed after Shutdown. Items that are already executing are
// not checked, so a key can be queued again as soon as its item is admitted.
func (d *Dispatcher) Submit(item *WorkItem) error {
	if item == nil {
		return fmt.Errorf("%w: nil", ErrInvalidWorkItem)
	}

	d.counters.submitted.Add(1)
	d.emit(item, events.StateSubmitted, "", 0)

	d.counters.live.Add(1)
	d.emit(item, events.StateQueued, "", 0)

	err := d.requests.PushUnique(item)
	if err == nil {
		return nil
	}

	d.counters.live.Add(-1)

	var reason string
	switch {
	case errors.Is(err, ErrDuplicate):
		d.counters.rejectedDuplicate.Add(1)
		reason = events.ReasonDuplicate
	case errors.Is(err, ErrQueueFull):
		d.counters.rejectedFull.Add(1)
		reason = events.ReasonQueueFull
	case errors.Is(err, ErrQueueClosed):
		d.counters.rejectedClosed.Add(1)
		reason = events.ReasonClosed
		err = ErrDispatcherClosed
	}

	d.logger.Warn("work item rejected",
		"item_id", item.id,
		"key", redact.URL(item.key),
		"reason", reason)
	d.emit(item, events.StateRejected, reason, 0)

	return err
}

// Tick admits at most one queued work item. It returns immediately when the
// queue is empty or no permit is free; in the latter case nothing is dequeued,
// so admission order always matches submission order.
func (d *Dispatcher) Tick() {
	if d.requests.Len() == 0 {
		return
	}

	if !d.gate.TryAcquire() {
		return
	}

	item, ok := d.requests.Pop()
	if !ok {
		// Another consumer emptied the queue between the size check and the pop
		d.logger.Debug("request queue empty after size check")
		d.gate.Release()
		return
	}

	d.beginFlight()
	d.emit(item, events.StateAdmitted, "", 0)

	d.logger.Debug("admitting work item",
		"item_id", item.id,
		"key", redact.URL(item.key),
		"remaining_in_queue", d.requests.Len())

	d.wg.Add(1)
	err := d.launcher.Launch(d.config.ExecutionName, func() {
		d.execute(item)
	})
	if err != nil {
		d.wg.Done()
		d.endFlight()
		d.gate.Release()
		d.counters.launchFailures.Add(1)

		d.logger.Error("failed to launch work item",
			"error", err,
			"item_id", item.id,
			"key", redact.URL(item.key))
		d.destroy(item, events.ReasonLaunchFailed)
	}
}

// execute runs on the execution context started by Tick.
func (d *Dispatcher) execute(item *WorkItem) {
	defer func() {
		d.endFlight()
		d.gate.Release()
		d.wg.Done()
	}()

	d.emit(item, events.StateExecuting, "", 0)

	status, payload := d.runBody(item)

	d.counters.completed.Add(1)
	d.emit(item, events.StateCompleted, "", status)

	if err := d.responses.Push(&Result{item: item, Status: status, Payload: payload}); err != nil {
		d.counters.abandoned.Add(1)
		d.logger.Warn("result abandoned during shutdown",
			"item_id", item.id,
			"key", redact.URL(item.key),
			"status", status)
		d.destroy(item, events.ReasonAbandoned)
	}
}

func (d *Dispatcher) runBody(item *WorkItem) (status int, payload any) {
	var pc panics.Catcher
	pc.Try(func() {
		status, payload = item.body(d.ctx)
	})

	if r := pc.Recovered(); r != nil {
		err := r.AsError()
		d.logger.Error("work item body panicked",
			"error", err,
			"item_id", item.id,
			"key", redact.URL(item.key))
		return StatusPanicked, err
	}
	return status, payload
}

// Drain delivers every result that is already waiting, oldest first, by
// calling each item's completion callback on the calling goroutine. It does
// not wait for results still being produced and returns how many it delivered.
func (d *Dispatcher) Drain() int {
	d.checkLeaks()

	pending := d.responses.Len()
	delivered := 0
	for i := 0; i < pending; i++ {
		r, ok := d.responses.TryPop()
		if !ok {
			break
		}
		d.deliver(r)
		delivered++
	}
	return delivered
}

func (d *Dispatcher) deliver(r *Result) {
	item := r.item

	var pc panics.Catcher
	pc.Try(func() {
		item.onComplete(r.Status, r.Payload)
	})
	if rec := pc.Recovered(); rec != nil {
		d.logger.Error("completion callback panicked",
			"error", rec.AsError(),
			"item_id", item.id,
			"key", redact.URL(item.key))
	}

	d.counters.delivered.Add(1)
	d.emit(item, events.StateDrained, "", r.Status)
	d.destroy(item, events.ReasonDelivered)
}

// Shutdown stops accepting work, discards queued items and waits for
// executing bodies to finish or ctx to end. Results that were already queued
// stay available to a final Drain. Calling Shutdown again only waits.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.closed.Store(true)

	for _, item := range d.requests.Close() {
		d.destroy(item, events.ReasonShutdown)
	}
	d.responses.Close()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("dispatcher stopped", "live_items", d.counters.live.Load())
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight work items: %w", ctx.Err())
	}
}

// Closed reports whether Shutdown has been called
func (d *Dispatcher) Closed() bool {
	return d.closed.Load()
}

func (d *Dispatcher) beginFlight() {
	d.flightMu.Lock()
	defer d.flightMu.Unlock()

	d.inFlight++
	if d.inFlight > d.maxInFlight {
		d.maxInFlight = d.inFlight
	}
	if d.inFlight == 1 && d.busy != nil {
		d.busy.SetBusy(true)
	}
}

func (d *Dispatcher) endFlight() {
	d.flightMu.Lock()
	defer d.flightMu.Unlock()

	d.inFlight--
	if d.inFlight == 0 && d.busy != nil {
		d.busy.SetBusy(false)
	}
}

func (d *Dispatcher) destroy(item *WorkItem, reason string) {
	d.counters.live.Add(-1)
	d.emit(item, events.StateDestroyed, reason, 0)
}

func (d *Dispatcher) emit(item *WorkItem, state events.State, reason string, status int) {
	if d.emitter == nil {
		return
	}

	event := events.NewLifecycleEvent(item.id, item.key, state).
		WithReason(reason).
		WithStatus(status)
	event.At = d.now()

	// The emitter logs handler failures itself
	_ = d.emitter.EmitEvent(d.ctx, event)
}

// Ensure Dispatcher implements Submitter
var _ Submitter = (*Dispatcher)(nil)
