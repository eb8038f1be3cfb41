// Package loop runs the single control goroutine that owns widget updates
// and the dispatcher's Tick and Drain calls.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/phrazzld/orbdash/internal/config"
)

var (
	// ErrMailboxFull is returned by Post when too many functions are waiting.
	ErrMailboxFull = errors.New("control loop mailbox is full")

	// ErrStopped is returned by Post after Run has returned.
	ErrStopped = errors.New("control loop stopped")
)

// Dispatcher is the part of task.Dispatcher driven by the loop.
type Dispatcher interface {
	Tick()
	Drain() int
	Shutdown(ctx context.Context) error
}

// Widgets is the part of widget.Set driven by the loop.
type Widgets interface {
	InitializeAll(now time.Time) error
	UpdateCurrent(now time.Time)
	Next()
}

// Loop is the control loop. Every step it runs posted functions, updates
// the current widget, cycles widgets when configured, admits at most one
// work item and drains finished results.
type Loop struct {
	config     config.LoopConfig
	dispatcher Dispatcher
	widgets    Widgets
	mailbox    chan func()
	logger     *slog.Logger
	now        func() time.Time

	lastCycle time.Time
	running   atomic.Bool
	stopped   atomic.Bool
}

// New creates a Loop.
func New(cfg config.LoopConfig, dispatcher Dispatcher, widgets Widgets, logger *slog.Logger) *Loop {
	size := cfg.MailboxSize
	if size <= 0 {
		size = 1
	}
	return &Loop{
		config:     cfg,
		dispatcher: dispatcher,
		widgets:    widgets,
		mailbox:    make(chan func(), size),
		logger:     logger.With("component", "loop"),
		now:        time.Now,
	}
}

// Post schedules fn to run on the loop goroutine at the start of the next
// step. It never blocks.
func (l *Loop) Post(fn func()) error {
	if l.stopped.Load() {
		return ErrStopped
	}
	select {
	case l.mailbox <- fn:
		return nil
	default:
		return ErrMailboxFull
	}
}

// Run drives the loop until ctx is cancelled, then shuts the dispatcher down
// and delivers whatever results finished in time. Run must be called once.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return errors.New("control loop already running")
	}
	defer l.stopped.Store(true)

	start := l.now()
	l.lastCycle = start
	if err := l.widgets.InitializeAll(start); err != nil {
		l.logger.Warn("some widgets failed to initialize", "error", err)
	}

	ticker := time.NewTicker(l.config.TickInterval)
	defer ticker.Stop()

	l.logger.Info("control loop started",
		"tick_interval", l.config.TickInterval,
		"cycle_interval", l.config.CycleInterval)

	for {
		select {
		case <-ctx.Done():
			return l.stop()
		case <-ticker.C:
			l.Step()
		}
	}
}

// Step performs one loop iteration. It is exported for tests and tools that
// drive the loop by hand; it must not run concurrently with Run.
func (l *Loop) Step() {
	now := l.now()

	l.runMailbox()

	l.widgets.UpdateCurrent(now)

	if l.config.CycleInterval > 0 && now.Sub(l.lastCycle) >= l.config.CycleInterval {
		l.widgets.Next()
		l.lastCycle = now
	}

	l.dispatcher.Tick()
	l.dispatcher.Drain()
}

func (l *Loop) runMailbox() {
	for n := len(l.mailbox); n > 0; n-- {
		select {
		case fn := <-l.mailbox:
			fn()
		default:
			return
		}
	}
}

func (l *Loop) stop() error {
	// Nothing posted from here on would run
	l.stopped.Store(true)
	l.logger.Info("control loop stopping")

	timeout := l.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := l.dispatcher.Shutdown(ctx)
	delivered := l.dispatcher.Drain()

	l.logger.Info("control loop stopped", "final_deliveries", delivered)
	if err != nil {
		return fmt.Errorf("shutting down dispatcher: %w", err)
	}
	return nil
}
