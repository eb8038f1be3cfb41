package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/phrazzld/orbdash/internal/api"
	"github.com/phrazzld/orbdash/internal/config"
	"github.com/phrazzld/orbdash/internal/events"
	"github.com/phrazzld/orbdash/internal/fetch"
	"github.com/phrazzld/orbdash/internal/loop"
	"github.com/phrazzld/orbdash/internal/metrics"
	"github.com/phrazzld/orbdash/internal/redact"
	"github.com/phrazzld/orbdash/internal/task"
	"github.com/phrazzld/orbdash/internal/widget"
)

// eventHistory is how many lifecycle events the diagnostics API can return.
const eventHistory = 1000

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger

	dispatcher *task.Dispatcher
	recorder   *events.Recorder
	metrics    *metrics.Collector
	client     *fetch.Client
	widgets    *widget.Set
	loop       *loop.Loop
	handler    *api.DiagnosticsHandler
}

// dispatcherConfig maps the loaded settings onto the dispatcher's own config.
func dispatcherConfig(cfg config.DispatcherConfig) task.DispatcherConfig {
	dc := task.DefaultDispatcherConfig()
	dc.RequestQueueSize = cfg.RequestQueueSize
	dc.ResponseQueueSize = cfg.ResponseQueueSize
	dc.MaxConcurrent = cfg.MaxConcurrent
	dc.LeakCheckInterval = cfg.LeakCheckInterval
	dc.MaxExecutionContexts = cfg.MaxExecutionContexts
	return dc
}

// newApplication wires every component described by cfg. Nothing is started.
func newApplication(cfg *config.Config, logger *slog.Logger) (*application, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}

	app := &application{
		config:   cfg,
		logger:   logger,
		recorder: events.NewRecorder(eventHistory),
	}

	app.dispatcher = task.NewDispatcher(dispatcherConfig(cfg.Dispatcher), logger)
	app.metrics = metrics.New(app.dispatcher.Stats)

	emitter := events.NewInMemoryEventEmitter(logger)
	emitter.RegisterHandler(app.recorder)
	emitter.RegisterHandler(app.metrics)
	emitter.RegisterHandler(events.LogHandler(logger, redact.URL))
	app.dispatcher.SetEventEmitter(emitter)

	app.dispatcher.SetBusyIndicator(task.BusyIndicatorFunc(func(busy bool) {
		logger.Debug("dispatcher activity changed", "busy", busy)
	}))

	app.client = fetch.NewClient(cfg.Fetch, logger)

	app.widgets = widget.NewSet(logger)
	for _, wc := range cfg.Widgets {
		w := widget.NewWebData(wc, app.client, app.dispatcher, logger)
		if err := app.widgets.Add(w); err != nil {
			return nil, fmt.Errorf("failed to add widget %q: %w", wc.Name, err)
		}
	}

	app.loop = loop.New(cfg.Loop, app.dispatcher, app.widgets, logger)
	app.handler = api.NewDiagnosticsHandler(app.dispatcher, app.widgets, app.loop, app.recorder, logger)

	logger.Info("Application initialized successfully",
		"widgets", app.widgets.Len(),
		"max_concurrent", cfg.Dispatcher.MaxConcurrent)
	return app, nil
}

// Run drives the control loop and, when enabled, the diagnostics server until
// ctx ends or either of them fails.
func (app *application) Run(ctx context.Context) error {
	defer app.cleanup()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := app.loop.Run(gctx); err != nil {
			return fmt.Errorf("control loop: %w", err)
		}
		return nil
	})

	if app.config.Diagnostics.Enabled {
		router := app.setupRouter()
		g.Go(func() error {
			if err := app.startHTTPServer(gctx, router); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		})
	}

	return g.Wait()
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup() {
	// The loop normally shuts the dispatcher down; this covers a loop that never ran
	if !app.dispatcher.Closed() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := app.dispatcher.Shutdown(ctx); err != nil {
			app.logger.Error("Error stopping dispatcher", "error", err)
		}
	}

	stats := app.dispatcher.Stats()
	app.logger.Info("Application shutdown completed",
		"submitted", stats.Submitted,
		"delivered", stats.Delivered,
		"live_items", stats.LiveItems)
}
