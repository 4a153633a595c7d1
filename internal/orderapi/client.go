package orderapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
)

// DefaultTimeout bounds every call to the order store.
const DefaultTimeout = 10 * time.Second

const maxBody = 1 << 20

// Observer receives one observation per store request. code is 0 when no
// HTTP answer was received.
type Observer interface {
	ObserveStoreRequest(op string, code int, d time.Duration)
}

// Client calls the order store over HTTP. Requests are never retried.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	tp         trace.TracerProvider
	observer   Observer
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its Timeout is
// overridden by the client timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithTracerProvider traces outgoing requests with otelhttp.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) { c.tp = tp }
}

func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// NewClient returns a client for the store at baseURL.
func NewClient(baseURL string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: DefaultTimeout,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}

	hc := &http.Client{}
	if c.httpClient != nil {
		*hc = *c.httpClient
	}
	hc.Timeout = c.timeout
	if c.tp != nil {
		base := hc.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		hc.Transport = otelhttp.NewTransport(base,
			otelhttp.WithTracerProvider(c.tp),
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return "orderstore " + r.Method + " " + r.URL.Path
			}),
		)
	}
	c.httpClient = hc
	return c
}

// BaseURL returns the store address the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// Track fetches a fresh snapshot of an order.
func (c *Client) Track(ctx context.Context, orderID string) (*TrackResponse, error) {
	var out TrackResponse
	code, raw, err := c.do(ctx, "track", http.MethodGet, "/track/"+url.PathEscape(orderID), nil, &out)
	if err != nil {
		return nil, err
	}
	if code != http.StatusOK {
		return nil, &APIError{Op: "track", StatusCode: code, Message: errorText(raw, out.Error)}
	}
	if out.OrderID == "" {
		out.OrderID = orderID
	}
	return &out, nil
}

// Cancel asks the store to cancel an order. The decoded body is returned
// alongside an *APIError for non-200 answers.
func (c *Client) Cancel(ctx context.Context, orderID string) (*CancelResponse, error) {
	var out CancelResponse
	code, raw, err := c.do(ctx, "cancel", http.MethodPost, "/cancel/"+url.PathEscape(orderID), nil, &out)
	if err != nil {
		return nil, err
	}
	if code != http.StatusOK {
		return &out, &APIError{Op: "cancel", StatusCode: code, Message: errorText(raw, out.Error, out.Message)}
	}
	return &out, nil
}

// Add creates an order.
func (c *Client) Add(ctx context.Context, itemName, comment string) (*AddResponse, error) {
	var out AddResponse
	code, raw, err := c.do(ctx, "add", http.MethodPost, "/add", AddRequest{ItemName: itemName, Comment: comment}, &out)
	if err != nil {
		return nil, err
	}
	if code != http.StatusCreated && code != http.StatusOK {
		return nil, &APIError{Op: "add", StatusCode: code, Message: errorText(raw, out.Error)}
	}
	return &out, nil
}

// List returns every order known to the store.
func (c *Client) List(ctx context.Context) (*ListResponse, error) {
	var out ListResponse
	code, raw, err := c.do(ctx, "list", http.MethodGet, "/list", nil, &out)
	if err != nil {
		return nil, err
	}
	if code != http.StatusOK {
		return nil, &APIError{Op: "list", StatusCode: code, Message: errorText(raw, out.Error)}
	}
	return &out, nil
}

// Ping checks that the store answers its liveness probe.
func (c *Client) Ping(ctx context.Context) error {
	code, _, err := c.do(ctx, "ping", http.MethodGet, "/healthz", nil, nil)
	if err != nil {
		return err
	}
	if code != http.StatusOK {
		return &APIError{Op: "ping", StatusCode: code}
	}
	return nil
}

// do sends a request and decodes a JSON body into out when one is present.
// Only transport failures are returned as errors; status handling is left
// to the caller, which also gets the raw body.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) (int, []byte, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, nil, fmt.Errorf("%s: encoding request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("%s: building request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(op, 0, start)
		c.logger.WarnContext(ctx, "order store request failed",
			slog.String("op", op),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return 0, nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	c.observe(op, resp.StatusCode, start)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return resp.StatusCode, nil, &TransportError{Op: op, Err: fmt.Errorf("reading body: %w", err)}
	}
	if out != nil && len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, out); err != nil && resp.StatusCode < 300 {
			return resp.StatusCode, raw, fmt.Errorf("%s: decoding response: %w", op, err)
		}
	}

	c.logger.DebugContext(ctx, "order store request",
		slog.String("op", op),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)
	return resp.StatusCode, raw, nil
}

// errorText picks the first non-empty decoded message, falling back to the
// raw body for non-JSON answers.
func errorText(raw []byte, candidates ...string) string {
	for _, s := range candidates {
		if s != "" {
			return s
		}
	}
	text := strings.TrimSpace(string(raw))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}

func (c *Client) observe(op string, code int, start time.Time) {
	if c.observer != nil {
		c.observer.ObserveStoreRequest(op, code, time.Since(start))
	}
}
