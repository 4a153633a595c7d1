// Package httpapi implements the HTTP API of the order assistant.
//
// Security:
//   - API key authentication on every /v1 request (constant-time comparison)
//   - Request body size limits (default 1 MB)
//   - Per-user rate limiting via token bucket
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jkaninda/okapi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jkaninda/orderdesk/internal/confirmation"
	"github.com/jkaninda/orderdesk/internal/observability"
	"github.com/jkaninda/orderdesk/internal/ratelimit"
	"github.com/jkaninda/orderdesk/internal/session"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

// ErrorBody is the standard error response.
type ErrorBody struct {
	Error             string `json:"error"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr     string // e.g., ":8080"
	EnableDocs     bool
	SSE            bool              // Enable POST /v1/query/stream.
	APIKeys        map[string]string // API key → user ID mapping.
	MaxRequestSize int64             // Maximum request body in bytes. 0 = 1 MB default.

	// Observability
	MetricsRegistry *prometheus.Registry
	MetricsPath     string // Default: "/metrics".
	HealthChecker   *observability.HealthChecker
	Metrics         *observability.MetricsCollector
	Tracer          *observability.TracerSetup
}

// Gateway is the HTTP API gateway.
type Gateway struct {
	config   Config
	sessions *session.Manager
	limiter  *ratelimit.Limiter
	logger   *slog.Logger
	server   *http.Server
	okapi    *okapi.Okapi
	group    *okapi.Group
}

// NewGateway creates an HTTP API gateway over the session manager. rl may
// be nil.
func NewGateway(cfg Config, sessions *session.Manager, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	if cfg.MaxRequestSize <= 0 {
		cfg.MaxRequestSize = defaultMaxRequestSize
	}
	return &Gateway{
		config:   cfg,
		sessions: sessions,
		limiter:  rl,
		logger:   logger,
		okapi:    okapi.New(okapi.WithMaxMultipartMemory(cfg.MaxRequestSize)),
	}
}

func (g *Gateway) routes() {
	if g.config.Metrics != nil || g.config.Tracer != nil {
		g.okapi.UseMiddleware(observability.Middleware(g.config.Metrics, g.config.Tracer))
	}

	// Authenticated /v1 group.
	g.group = g.okapi.Group("/v1", g.authenticate)

	g.group.Post("/query", g.handleQuery,
		okapi.DocSummary("Send a message to the order assistant"),
		okapi.DocTags("Assistant"),
		okapi.DocRequestBody(QueryRequest{}),
		okapi.DocResponse(QueryResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
	)
	if g.config.SSE {
		g.group.Post("/query/stream", g.handleQueryStream,
			okapi.DocSummary("Send a message and receive the reply as server-sent events"),
			okapi.DocTags("Assistant"),
			okapi.DocRequestBody(QueryRequest{}),
			okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
			okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		)
	}
	g.group.Post("/approve", g.handleApprove,
		okapi.DocSummary("Confirm the pending cancellation of a session"),
		okapi.DocTags("Assistant"),
		okapi.DocRequestBody(ApproveRequest{}),
		okapi.DocResponse(ApproveResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		okapi.DocResponse(http.StatusConflict, ErrorBody{}),
	)
	g.group.Get("/sessions/{id}", g.handleSessionGet,
		okapi.DocSummary("Get the confirmation state of a session"),
		okapi.DocTags("Sessions"),
		okapi.DocPathParam("id", "string", "Session ID"),
		okapi.DocResponse(SessionResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Delete("/sessions/{id}", g.handleSessionDelete,
		okapi.DocSummary("End a session"),
		okapi.DocTags("Sessions"),
		okapi.DocPathParam("id", "string", "Session ID"),
		okapi.DocResponse(map[string]string{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.okapi.WithOpenAPIDocs(okapi.OpenAPI{Title: "Order Assistant", Version: "v1"})
	}
}

// Start launches the HTTP server and blocks until it exits.
func (g *Gateway) Start(ctx context.Context) error {
	g.routes()
	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}
	g.logger.Info("http api gateway starting", slog.String("addr", g.config.ListenAddr))
	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(_ context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// --- Wire types ---

// QueryRequest is the JSON body for POST /v1/query.
type QueryRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"` // Empty = new session.
}

// PendingActionBody describes an action waiting for POST /v1/approve.
type PendingActionBody struct {
	ActionType string `json:"action_type"`
	OrderID    string `json:"order_id"`
	ItemName   string `json:"item_name"`
	Prompt     string `json:"prompt"`
}

// QueryResponse is the JSON response for POST /v1/query.
type QueryResponse struct {
	Message       string             `json:"message"`
	SessionID     string             `json:"session_id"`
	CorrelationID string             `json:"correlation_id"`
	PendingAction *PendingActionBody `json:"pending_action,omitempty"`
}

// ApproveRequest is the JSON body for POST /v1/approve.
type ApproveRequest struct {
	SessionID  string `json:"session_id"`
	ActionType string `json:"action_type,omitempty"` // Default: "cancel_order".
	OrderID    string `json:"order_id"`
}

// ApproveResponse is the JSON response after a confirmation ran.
type ApproveResponse struct {
	Message string `json:"message"`
	Outcome string `json:"outcome"`
	OrderID string `json:"order_id"`
}

// SessionResponse is the JSON response for GET /v1/sessions/{id}.
type SessionResponse struct {
	SessionID     string             `json:"session_id"`
	State         string             `json:"state"`
	PendingAction *PendingActionBody `json:"pending_action,omitempty"`
	LastActive    time.Time          `json:"last_active"`
}

// HealthResponse is the JSON response for /healthz without a checker.
type HealthResponse struct {
	Status string `json:"status"`
}

func pendingBody(p *confirmation.PendingAction) *PendingActionBody {
	if p == nil {
		return nil
	}
	return &PendingActionBody{
		ActionType: string(p.ActionType),
		OrderID:    p.OrderID,
		ItemName:   p.ItemName,
		Prompt:     fmt.Sprintf("Confirm cancellation of order %s (%s)?", p.OrderID, p.ItemName),
	}
}

// --- Request handling, independent of okapi ---

// query runs one turn. An unknown session id starts a session under that id.
func (g *Gateway) query(ctx context.Context, userID string, req QueryRequest) (int, any) {
	if err := g.limiter.Allow(userID); err != nil {
		return rateLimited(err)
	}
	if strings.TrimSpace(req.Message) == "" {
		return http.StatusBadRequest, ErrorBody{Error: "message is required"}
	}

	sess, created := g.sessions.GetOrCreate(req.SessionID)
	g.logger.InfoContext(ctx, "http query",
		slog.String("user_id", userID),
		slog.String("session_id", sess.ID()),
		slog.Bool("new_session", created),
	)

	res, err := sess.HandleTurn(ctx, req.Message)
	if errors.Is(err, session.ErrEmptyQuery) {
		return http.StatusBadRequest, ErrorBody{Error: "message is required"}
	}
	if err != nil {
		g.logger.ErrorContext(ctx, "turn failed",
			slog.String("session_id", sess.ID()),
			slog.String("error", err.Error()),
		)
		return http.StatusInternalServerError, ErrorBody{Error: "processing failed"}
	}
	return http.StatusOK, QueryResponse{
		Message:       res.Text,
		SessionID:     res.SessionID,
		CorrelationID: res.CorrelationID,
		PendingAction: pendingBody(res.Pending),
	}
}

func (g *Gateway) approve(ctx context.Context, userID string, req ApproveRequest) (int, any) {
	if err := g.limiter.Allow(userID); err != nil {
		return rateLimited(err)
	}
	if req.SessionID == "" || req.OrderID == "" {
		return http.StatusBadRequest, ErrorBody{Error: "session_id and order_id are required"}
	}
	actionType := confirmation.ActionType(req.ActionType)
	if actionType == "" {
		actionType = confirmation.ActionCancelOrder
	}

	sess, err := g.sessions.Get(req.SessionID)
	if err != nil {
		return http.StatusNotFound, ErrorBody{Error: "session not found"}
	}

	g.logger.InfoContext(ctx, "http approval",
		slog.String("user_id", userID),
		slog.String("session_id", req.SessionID),
		slog.String("order_id", req.OrderID),
	)

	ar, err := sess.HandleApproval(ctx, actionType, req.OrderID)
	if errors.Is(err, confirmation.ErrStaleConfirmation) {
		return http.StatusConflict, ErrorBody{Error: ar.Message}
	}
	if err != nil {
		return http.StatusInternalServerError, ErrorBody{Error: "approval failed"}
	}
	return http.StatusOK, ApproveResponse{
		Message: ar.Message,
		Outcome: string(ar.Result.Outcome),
		OrderID: ar.Result.OrderID,
	}
}

func (g *Gateway) sessionState(id string) (int, any) {
	sess, err := g.sessions.Get(id)
	if err != nil {
		return http.StatusNotFound, ErrorBody{Error: "session not found"}
	}
	snap := sess.Snapshot()
	return http.StatusOK, SessionResponse{
		SessionID:     snap.ID,
		State:         snap.State.String(),
		PendingAction: pendingBody(snap.Pending),
		LastActive:    snap.LastActive.UTC(),
	}
}

func (g *Gateway) endSession(id string) (int, any) {
	if err := g.sessions.Close(id); err != nil {
		return http.StatusNotFound, ErrorBody{Error: "session not found"}
	}
	return http.StatusOK, map[string]string{"status": "closed"}
}

func rateLimited(err error) (int, any) {
	body := ErrorBody{Error: "rate limit exceeded"}
	var le *ratelimit.LimitError
	if errors.As(err, &le) {
		body.RetryAfterSeconds = int(le.RetryAfter.Seconds()) + 1
	}
	return http.StatusTooManyRequests, body
}

// --- okapi handlers ---

func (g *Gateway) handleQuery(c *okapi.Context) error {
	var req QueryRequest
	if err := g.decode(c, &req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	code, body := g.query(c.Context(), c.GetString("userID"), req)
	return c.JSON(code, body)
}

func (g *Gateway) handleApprove(c *okapi.Context) error {
	var req ApproveRequest
	if err := g.decode(c, &req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	code, body := g.approve(c.Context(), c.GetString("userID"), req)
	return c.JSON(code, body)
}

func (g *Gateway) handleSessionGet(c *okapi.Context) error {
	code, body := g.sessionState(c.Param("id"))
	return c.JSON(code, body)
}

func (g *Gateway) handleSessionDelete(c *okapi.Context) error {
	code, body := g.endSession(c.Param("id"))
	return c.JSON(code, body)
}

// handleLiveness is the Kubernetes liveness probe.
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: observability.StatusOK})
	}
	return c.OK(g.config.HealthChecker.CheckHealth())
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: observability.StatusOK})
	}
	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != observability.StatusOK {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// decode reads a size-limited JSON body, rejecting unknown fields.
func (g *Gateway) decode(c *okapi.Context, v any) error {
	dec := json.NewDecoder(io.LimitReader(c.Request().Body, g.config.MaxRequestSize))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// --- Authentication ---

// authenticate validates the bearer API key and stores the mapped user ID.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		userID, ok := g.userForKey(c.Header("Authorization"))
		if !ok {
			return c.AbortUnauthorized("missing or invalid API key")
		}
		c.Set("userID", userID)
		return next(c)
	}
}

func (g *Gateway) userForKey(authHeader string) (string, bool) {
	apiKey, found := strings.CutPrefix(authHeader, "Bearer ")
	if !found || apiKey == "" {
		return "", false
	}
	userID := ""
	for key, user := range g.config.APIKeys {
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
			userID = user
		}
	}
	return userID, userID != ""
}
