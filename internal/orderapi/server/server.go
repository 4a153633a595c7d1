package server

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jkaninda/okapi"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jkaninda/orderdesk/internal/observability"
	"github.com/jkaninda/orderdesk/internal/orderapi"
)

const maxRequestSize = 1 << 20 // 1 MB

// Config configures the order store HTTP server.
type Config struct {
	ListenAddr string // e.g. ":5001"
	EnableDocs bool

	// Observability
	Metrics       *observability.MetricsCollector
	MetricsPath   string // Default: "/metrics".
	Tracer        *observability.TracerSetup
	HealthChecker *observability.HealthChecker
}

// Server exposes a Service over HTTP.
type Server struct {
	config Config
	svc    *Service
	logger *slog.Logger
	okapi  *okapi.Okapi
	server *http.Server
}

// New creates the order store server.
func New(cfg Config, svc *Service, logger *slog.Logger) *Server {
	return &Server{
		config: cfg,
		svc:    svc,
		logger: logger,
		okapi:  okapi.New(okapi.WithMaxMultipartMemory(maxRequestSize)),
	}
}

func (s *Server) routes() {
	if s.config.Metrics != nil || s.config.Tracer != nil {
		s.okapi.UseMiddleware(observability.Middleware(s.config.Metrics, s.config.Tracer))
	}

	s.okapi.Get("/track/{id}", s.handleTrack,
		okapi.DocSummary("Track an order"),
		okapi.DocTags("Orders"),
		okapi.DocPathParam("id", "string", "Order ID, e.g. ORD123"),
		okapi.DocResponse(orderapi.TrackResponse{}),
		okapi.DocResponse(http.StatusNotFound, orderapi.ErrorResponse{}),
	)
	s.okapi.Post("/cancel/{id}", s.handleCancel,
		okapi.DocSummary("Cancel an order within the 10-day policy"),
		okapi.DocTags("Orders"),
		okapi.DocPathParam("id", "string", "Order ID, e.g. ORD123"),
		okapi.DocResponse(orderapi.CancelResponse{}),
		okapi.DocResponse(http.StatusForbidden, orderapi.ErrorResponse{}),
		okapi.DocResponse(http.StatusNotFound, orderapi.ErrorResponse{}),
		okapi.DocResponse(http.StatusConflict, orderapi.CancelResponse{}),
	)
	s.okapi.Post("/add", s.handleAdd,
		okapi.DocSummary("Place a new order"),
		okapi.DocTags("Orders"),
		okapi.DocRequestBody(orderapi.AddRequest{}),
		okapi.DocResponse(http.StatusCreated, orderapi.AddResponse{}),
		okapi.DocResponse(http.StatusBadRequest, orderapi.ErrorResponse{}),
	)
	s.okapi.Get("/list", s.handleList,
		okapi.DocSummary("List all orders"),
		okapi.DocTags("Orders"),
		okapi.DocResponse(orderapi.ListResponse{}),
	)

	s.okapi.Get("/healthz", s.handleLiveness)
	s.okapi.Get("/readyz", s.handleReadiness)

	if s.config.Metrics != nil {
		path := s.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		s.okapi.HandleStd("GET", path, promhttp.HandlerFor(s.config.Metrics.Registry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if s.config.EnableDocs {
		s.okapi.WithOpenAPIDocs(okapi.OpenAPI{Title: "Order Store", Version: "v1"})
	}
}

// Start serves until Stop is called.
func (s *Server) Start(ctx context.Context) error {
	s.routes()
	s.server = &http.Server{
		Addr:              s.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}
	s.logger.Info("order store starting", slog.String("addr", s.config.ListenAddr))
	return s.okapi.StartServer(s.server)
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(_ context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("order store stopping")
	return s.okapi.Shutdown(s.server)
}

func (s *Server) handleTrack(c *okapi.Context) error {
	code, body := s.svc.Track(c.Context(), c.Param("id"))
	return c.JSON(code, body)
}

func (s *Server) handleCancel(c *okapi.Context) error {
	code, body := s.svc.Cancel(c.Context(), c.Param("id"))
	return c.JSON(code, body)
}

func (s *Server) handleAdd(c *okapi.Context) error {
	r := c.Request()
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRequestSize))
	if err != nil {
		return c.AbortBadRequest("could not read request body")
	}
	code, body := s.svc.Add(c.Context(), r.Header.Get("Content-Type"), raw)
	return c.JSON(code, body)
}

func (s *Server) handleList(c *okapi.Context) error {
	code, body := s.svc.List(c.Context())
	return c.JSON(code, body)
}

func (s *Server) handleLiveness(c *okapi.Context) error {
	if s.config.HealthChecker == nil {
		return c.OK(observability.HealthStatus{Status: observability.StatusOK})
	}
	return c.OK(s.config.HealthChecker.CheckHealth())
}

func (s *Server) handleReadiness(c *okapi.Context) error {
	if s.config.HealthChecker == nil {
		return c.OK(observability.HealthStatus{Status: observability.StatusOK})
	}
	status := s.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != observability.StatusOK {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}
