package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/sethvargo/go-retry"

	"github.com/phrazzld/orbdash/internal/config"
	"github.com/phrazzld/orbdash/internal/redact"
	"github.com/phrazzld/orbdash/internal/task"
)

// Negative statuses report failures that produced no HTTP status.
const (
	StatusTransportError = -1
	StatusReadError      = -2
	StatusDecodeError    = -3
)

// MaxBodySize caps how much of a response body is read.
const MaxBodySize = 4 << 20

// ErrBodyTooLarge is delivered with StatusReadError when a response is longer
// than MaxBodySize. It is not retried.
var ErrBodyTooLarge = errors.New("response body too large")

// PreProcessFunc transforms a raw response body before delivery. It runs on
// the body's execution context, never on the control loop.
type PreProcessFunc func(body []byte) (any, error)

// Option configures a single GET.
type Option func(*getOptions)

type getOptions struct {
	preProcess PreProcessFunc
	retries    int
}

// WithPreProcess sets fn to run on 2xx response bodies. Its result becomes
// the delivered payload; an error is delivered with StatusDecodeError.
func WithPreProcess(fn PreProcessFunc) Option {
	return func(o *getOptions) {
		o.preProcess = fn
	}
}

// WithRetries overrides the client's retry count for transport errors and
// 5xx responses.
func WithRetries(n int) Option {
	return func(o *getOptions) {
		o.retries = n
	}
}

// Client issues GET requests on behalf of work item bodies.
type Client struct {
	http       *http.Client
	retries    int
	retryDelay time.Duration
	userAgent  string
	logger     *slog.Logger
}

// NewClient creates a Client backed by a pooled HTTP client.
func NewClient(cfg config.FetchConfig, logger *slog.Logger) *Client {
	hc := cleanhttp.DefaultPooledClient()
	hc.Timeout = cfg.Timeout

	return &Client{
		http:       hc,
		retries:    cfg.Retries,
		retryDelay: cfg.RetryDelay,
		userAgent:  cfg.UserAgent,
		logger:     logger.With("component", "fetch"),
	}
}

// SetHTTPClient replaces the underlying HTTP client.
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.http = hc
}

// NewGetItem returns a work item keyed by url whose body GETs url and whose
// result is delivered to onComplete.
//
// The payload is the raw body, or the PreProcessFunc result, for HTTP
// responses. Transport, read and decode failures carry the error instead.
func (c *Client) NewGetItem(url string, onComplete task.Callback, opts ...Option) (*task.WorkItem, error) {
	body := func(ctx context.Context) (int, any) {
		return c.Get(ctx, url, opts...)
	}
	return task.NewWorkItem(url, body, onComplete)
}

// Get performs the request synchronously and returns the status and payload
// that a work item built by NewGetItem would deliver.
func (c *Client) Get(ctx context.Context, url string, opts ...Option) (int, any) {
	o := getOptions{retries: c.retries}
	for _, opt := range opts {
		opt(&o)
	}

	safeURL := redact.URL(url)

	var (
		status  int
		payload any
	)

	attempt := 0
	err := retry.Do(ctx, c.backoff(o.retries), func(ctx context.Context) error {
		attempt++
		var body []byte
		var err error
		status, body, err = c.do(ctx, url)
		if err != nil {
			payload = err
			c.logger.Warn("GET failed",
				"url", safeURL,
				"attempt", attempt,
				"error", redact.Error(err))
			if errors.Is(err, ErrBodyTooLarge) {
				return err
			}
			return retry.RetryableError(err)
		}

		payload = body
		if status >= http.StatusInternalServerError {
			c.logger.Warn("GET returned server error",
				"url", safeURL,
				"attempt", attempt,
				"status", status)
			return retry.RetryableError(fmt.Errorf("server error: %d", status))
		}
		return nil
	})
	if err != nil {
		return status, payload
	}

	c.logger.Debug("GET completed",
		"url", safeURL,
		"status", status,
		"attempts", attempt)

	if o.preProcess == nil || status < 200 || status >= 300 {
		return status, payload
	}

	value, err := o.preProcess(payload.([]byte))
	if err != nil {
		c.logger.Warn("failed to pre-process response",
			"url", safeURL,
			"error", err)
		return StatusDecodeError, fmt.Errorf("pre-processing %s: %w", safeURL, err)
	}
	return status, value
}

func (c *Client) backoff(retries int) retry.Backoff {
	delay := c.retryDelay
	if delay <= 0 {
		delay = time.Millisecond
	}
	if retries < 0 {
		retries = 0
	}
	return retry.WithMaxRetries(uint64(retries), retry.NewConstant(delay))
}

// do returns a negative status together with err on failure.
func (c *Client) do(ctx context.Context, url string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return StatusTransportError, nil, fmt.Errorf("building request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return StatusTransportError, nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize+1))
	if err != nil {
		return StatusReadError, nil, fmt.Errorf("reading response body: %w", err)
	}
	if len(body) > MaxBodySize {
		return StatusReadError, nil, fmt.Errorf("%w: response body exceeds %d bytes", ErrBodyTooLarge, MaxBodySize)
	}

	return resp.StatusCode, body, nil
}

// DecodeJSON is a PreProcessFunc that decodes a JSON document into the
// generic map/slice form produced by encoding/json.
func DecodeJSON(body []byte) (any, error) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("decoding JSON: %w", err)
	}
	return v, nil
}
