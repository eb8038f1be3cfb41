package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/phrazzld/orbdash/internal/api/shared"
	"github.com/phrazzld/orbdash/internal/events"
	"github.com/phrazzld/orbdash/internal/platform/logger"
	"github.com/phrazzld/orbdash/internal/redact"
	"github.com/phrazzld/orbdash/internal/task"
	"github.com/phrazzld/orbdash/internal/widget"
)

// DefaultEventLimit is how many events GET /api/events returns without ?limit.
const DefaultEventLimit = 100

// StatsProvider reports dispatcher counters.
type StatsProvider interface {
	Stats() task.Stats
}

// WidgetProvider exposes the widget set.
type WidgetProvider interface {
	Snapshots() []widget.Snapshot
	Get(name string) (widget.Widget, bool)
	Refresh(name string, now time.Time) error
}

// LoopPoster runs functions on the control loop.
type LoopPoster interface {
	Post(fn func()) error
}

// EventSource returns recent lifecycle events, oldest first.
type EventSource interface {
	Events() []events.LifecycleEvent
}

// WidgetsResponse is the body of GET /api/widgets.
type WidgetsResponse struct {
	Widgets []widget.Snapshot `json:"widgets"`
}

// RefreshResponse is the body of an accepted refresh.
type RefreshResponse struct {
	Widget string `json:"widget"`
	Status string `json:"status"`
}

// EventsResponse is the body of GET /api/events.
type EventsResponse struct {
	Events []events.LifecycleEvent `json:"events"`
	Count  int                     `json:"count"`
}

// eventsQuery holds the parsed query string of GET /api/events.
type eventsQuery struct {
	State string `validate:"omitempty,oneof=submitted queued rejected admitted executing completed drained destroyed"`
	Limit int    `validate:"gte=1,lte=1000"`
}

// DiagnosticsHandler serves the diagnostics endpoints.
type DiagnosticsHandler struct {
	stats   StatsProvider
	widgets WidgetProvider
	loop    LoopPoster
	events  EventSource
	logger  *slog.Logger
}

// NewDiagnosticsHandler creates a new DiagnosticsHandler
func NewDiagnosticsHandler(
	stats StatsProvider,
	widgets WidgetProvider,
	loop LoopPoster,
	source EventSource,
	logger *slog.Logger,
) *DiagnosticsHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for DiagnosticsHandler")
	}

	return &DiagnosticsHandler{
		stats:   stats,
		widgets: widgets,
		loop:    loop,
		events:  source,
		logger:  logger.With(slog.String("component", "diagnostics_handler")),
	}
}

// GetStats handles GET /api/stats requests
func (h *DiagnosticsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, h.stats.Stats())
}

// ListWidgets handles GET /api/widgets requests
func (h *DiagnosticsHandler) ListWidgets(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, WidgetsResponse{Widgets: h.widgets.Snapshots()})
}

// RefreshWidget handles POST /api/widgets/{name}/refresh requests.
// The forced update runs on the control loop, so the response only says the
// refresh was scheduled.
func (h *DiagnosticsHandler) RefreshWidget(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)
	name := chi.URLParam(r, "name")

	if _, ok := h.widgets.Get(name); !ok {
		err := fmt.Errorf("%w: %s", widget.ErrUnknownWidget, name)
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	err := h.loop.Post(func() {
		if err := h.widgets.Refresh(name, time.Now()); err != nil {
			h.logger.Warn("forced refresh failed", "widget", name, "error", err)
		}
	})
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	log.Debug("widget refresh scheduled", slog.String("widget", name))
	shared.RespondWithJSON(w, r, http.StatusAccepted, RefreshResponse{Widget: name, Status: "accepted"})
}

// ListEvents handles GET /api/events requests. Optional query parameters:
// state filters by lifecycle state, limit caps the number of newest events.
func (h *DiagnosticsHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	query := eventsQuery{
		State: r.URL.Query().Get("state"),
		Limit: DefaultEventLimit,
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid query parameters", err)
			return
		}
		query.Limit = limit
	}
	if err := shared.ValidateRequest(&query); err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	all := h.events.Events()
	selected := make([]events.LifecycleEvent, 0, min(len(all), query.Limit))
	for i := len(all) - 1; i >= 0 && len(selected) < query.Limit; i-- {
		e := all[i]
		if query.State != "" && string(e.State) != query.State {
			continue
		}
		e.Key = redact.URL(e.Key)
		selected = append(selected, e)
	}

	slices.Reverse(selected)

	shared.RespondWithJSON(w, r, http.StatusOK, EventsResponse{Events: selected, Count: len(selected)})
}
