package widget

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/phrazzld/orbdash/internal/config"
	"github.com/phrazzld/orbdash/internal/fetch"
	"github.com/phrazzld/orbdash/internal/redact"
	"github.com/phrazzld/orbdash/internal/task"
)

// forcedUpdateRetries is used instead of the client default for forced updates.
const forcedUpdateRetries = 3

// WebData shows a JSON document fetched from a URL on an interval. When
// configured with a follow-up field, the URL found in that field of each new
// document is fetched next, from the completion callback of the first fetch.
type WebData struct {
	name          string
	url           string
	followUpField string
	timer         *Timer
	client        *fetch.Client
	submitter     task.Submitter
	logger        *slog.Logger

	mu        sync.RWMutex
	status    int
	lastErr   string
	doc       any
	updatedAt time.Time
	changed   bool
	followUp  *followUpResult
}

type followUpResult struct {
	URL    string `json:"url"`
	Status int    `json:"status"`
	Bytes  int    `json:"bytes"`
}

// NewWebData creates a WebData widget from its configuration.
func NewWebData(cfg config.WidgetConfig, client *fetch.Client, submitter task.Submitter, logger *slog.Logger) *WebData {
	return &WebData{
		name:          cfg.Name,
		url:           cfg.URL,
		followUpField: cfg.FollowUp,
		timer:         NewTimer(cfg.Interval),
		client:        client,
		submitter:     submitter,
		logger:        logger.With("component", "widget", "widget", cfg.Name),
	}
}

// Name implements Widget.
func (w *WebData) Name() string {
	return w.name
}

// Setup implements Widget.
func (w *WebData) Setup() error {
	if w.client == nil || w.submitter == nil {
		return errors.New("web data widget needs a fetch client and a submitter")
	}
	u, err := url.Parse(w.url)
	if err != nil {
		return fmt.Errorf("parsing url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	return nil
}

// Update implements Widget.
func (w *WebData) Update(now time.Time, force bool) {
	if !force && !w.timer.Due(now) {
		return
	}

	opts := []fetch.Option{fetch.WithPreProcess(fetch.DecodeJSON)}
	if force {
		opts = append(opts, fetch.WithRetries(forcedUpdateRetries))
	}

	item, err := w.client.NewGetItem(w.url, w.handleDocument, opts...)
	if err != nil {
		w.logger.Error("failed to build update request", "error", err)
		return
	}

	switch err := w.submitter.Submit(item); {
	case err == nil:
		w.timer.Reset(now)
	case errors.Is(err, task.ErrDuplicate):
		// The previous request has not been admitted yet. A forced update is
		// folded into it and runs with that request's retry count.
		if force {
			w.logger.Debug("forced update folded into pending request", "url", redact.URL(w.url))
		}
		w.timer.Reset(now)
	default:
		// Try again on the next tick
		w.logger.Debug("update request not accepted", "error", err)
	}
}

// handleDocument runs on the control loop.
func (w *WebData) handleDocument(status int, payload any) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.status = status
	if status < 200 || status >= 300 {
		w.lastErr = redact.String(describeFailure(status, payload))
		w.logger.Warn("update failed", "status", status, "error", w.lastErr)
		return
	}

	w.lastErr = ""
	w.doc = payload
	w.updatedAt = time.Now()
	w.changed = true

	if next := w.followUpURL(); next != "" {
		w.requestFollowUp(next)
	}
}

func (w *WebData) followUpURL() string {
	if w.followUpField == "" {
		return ""
	}
	doc, ok := w.doc.(map[string]any)
	if !ok {
		return ""
	}
	next, _ := doc[w.followUpField].(string)
	return next
}

// requestFollowUp is called with mu held.
func (w *WebData) requestFollowUp(next string) {
	item, err := w.client.NewGetItem(next, func(status int, payload any) {
		w.handleFollowUp(next, status, payload)
	})
	if err != nil {
		w.logger.Error("failed to build follow-up request", "error", err)
		return
	}
	if err := w.submitter.Submit(item); err != nil {
		w.logger.Warn("follow-up request not accepted",
			"url", redact.URL(next),
			"error", err)
	}
}

func (w *WebData) handleFollowUp(next string, status int, payload any) {
	w.mu.Lock()
	defer w.mu.Unlock()

	result := &followUpResult{URL: redact.URL(next), Status: status}
	if body, ok := payload.([]byte); ok {
		result.Bytes = len(body)
	}
	w.followUp = result
	w.changed = true
}

// Changed reports whether new data arrived since the last call.
func (w *WebData) Changed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	changed := w.changed
	w.changed = false
	return changed
}

// Document returns the most recently decoded document.
func (w *WebData) Document() any {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.doc
}

// Snapshot implements Reporter.
func (w *WebData) Snapshot() Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	snap := Snapshot{
		Name:      w.name,
		Source:    redact.URL(w.url),
		Status:    w.status,
		Error:     w.lastErr,
		UpdatedAt: w.updatedAt,
		Document:  w.doc,
	}
	if w.followUp != nil {
		snap.FollowUp = *w.followUp
	}
	return snap
}

func describeFailure(status int, payload any) string {
	if err, ok := payload.(error); ok {
		return err.Error()
	}
	return fmt.Sprintf("unexpected status %d", status)
}
