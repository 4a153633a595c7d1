package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "orderdesk"

// MetricsCollector holds the Prometheus metrics of both binaries.
// Uses a custom registry, no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// LLM metrics.
	LLMRequestsTotal   *prometheus.CounterVec
	LLMRequestDuration *prometheus.HistogramVec
	LLMTokensUsed      *prometheus.CounterVec

	// Tool execution metrics.
	ToolExecutionsTotal   *prometheus.CounterVec
	ToolExecutionDuration *prometheus.HistogramVec

	// Conversation and confirmation metrics.
	TurnsTotal         *prometheus.CounterVec
	TurnDuration       prometheus.Histogram
	ConfirmationsTotal *prometheus.CounterVec
	ActionsTotal       *prometheus.CounterVec
	ActiveSessions     prometheus.Gauge

	// Order store client metrics.
	StoreRequestsTotal   *prometheus.CounterVec
	StoreRequestDuration *prometheus.HistogramVec

	// Order store server metrics.
	OrderMutationsTotal *prometheus.CounterVec

	// HTTP metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	ActiveRequests      prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		LLMRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Total LLM API requests.",
		}, []string{"provider", "model", "status"}),

		LLMRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "LLM API request duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider"}),

		LLMTokensUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "tokens_used_total",
			Help:      "Total LLM tokens consumed.",
		}, []string{"provider", "model", "direction"}),

		ToolExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tool",
			Name:      "executions_total",
			Help:      "Total tool executions.",
		}, []string{"tool", "status"}),

		ToolExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tool",
			Name:      "execution_duration_seconds",
			Help:      "Tool execution duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),

		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "turns_total",
			Help:      "Conversation turns by result (ok, pending, failed).",
		}, []string{"result"}),

		TurnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "turn_duration_seconds",
			Help:      "Conversation turn duration in seconds.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
		}),

		ConfirmationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "confirmation",
			Name:      "events_total",
			Help:      "Confirmation broker events (staged, cleared, duplicate, approved, stale).",
		}, []string{"event"}),

		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "confirmation",
			Name:      "actions_total",
			Help:      "Executed confirmed actions by outcome.",
		}, []string{"action", "outcome"}),

		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of live conversation sessions.",
		}),

		StoreRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orderstore_client",
			Name:      "requests_total",
			Help:      "Order store requests by operation and status code (0 = no answer).",
		}, []string{"operation", "status_code"}),

		StoreRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "orderstore_client",
			Name:      "request_duration_seconds",
			Help:      "Order store request duration in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation"}),

		OrderMutationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orderstore",
			Name:      "mutations_total",
			Help:      "Order store mutations by operation and result.",
		}, []string{"operation", "result"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),
	}

	reg.MustRegister(
		m.LLMRequestsTotal,
		m.LLMRequestDuration,
		m.LLMTokensUsed,
		m.ToolExecutionsTotal,
		m.ToolExecutionDuration,
		m.TurnsTotal,
		m.TurnDuration,
		m.ConfirmationsTotal,
		m.ActionsTotal,
		m.ActiveSessions,
		m.StoreRequestsTotal,
		m.StoreRequestDuration,
		m.OrderMutationsTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveRequests,
	)

	return m
}

// ObserveStoreRequest records one order store call. Nil-safe so that it can
// be handed to the store client unconditionally.
func (m *MetricsCollector) ObserveStoreRequest(op string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.StoreRequestsTotal.WithLabelValues(op, strconv.Itoa(code)).Inc()
	m.StoreRequestDuration.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveTurn records a finished conversation turn.
func (m *MetricsCollector) ObserveTurn(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(result).Inc()
	m.TurnDuration.Observe(d.Seconds())
}

// ObserveConfirmation records a broker event.
func (m *MetricsCollector) ObserveConfirmation(event string) {
	if m == nil {
		return
	}
	m.ConfirmationsTotal.WithLabelValues(event).Inc()
}

// ObserveOrderMutation records an order store mutation.
func (m *MetricsCollector) ObserveOrderMutation(op, result string) {
	if m == nil {
		return
	}
	m.OrderMutationsTotal.WithLabelValues(op, result).Inc()
}

// SessionOpened and SessionClosed track the live session gauge.
func (m *MetricsCollector) SessionOpened() {
	if m != nil {
		m.ActiveSessions.Inc()
	}
}

func (m *MetricsCollector) SessionClosed() {
	if m != nil {
		m.ActiveSessions.Dec()
	}
}
