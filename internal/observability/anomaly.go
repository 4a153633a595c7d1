package observability

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jkaninda/orderdesk/internal/config"
)

// Operations tracked by the anomaly detector. Tools are tracked as
// "tool_<name>".
const (
	OpLLMRequest  = "llm_request"
	OpStoreCancel = "order_store_cancel"
)

func toolOperation(name string) string { return "tool_" + name }

const (
	defaultAnomalyWindow = 300
	minAnomalySamples    = 5
)

// AnomalyDetector logs a warning when an operation's error rate over a
// sliding window crosses the configured threshold.
type AnomalyDetector struct {
	mu        sync.Mutex
	errors    map[string]*slidingWindow
	successes map[string]*slidingWindow
	window    time.Duration
	threshold float64
	logger    *slog.Logger
	now       func() time.Time
}

type slidingWindow struct {
	stamps []time.Time
	window time.Duration
}

// NewAnomalyDetector creates an anomaly detector from config.
func NewAnomalyDetector(cfg *config.AnomalyConfig, logger *slog.Logger) *AnomalyDetector {
	secs := cfg.WindowSeconds
	if secs <= 0 {
		secs = defaultAnomalyWindow
	}
	return &AnomalyDetector{
		errors:    make(map[string]*slidingWindow),
		successes: make(map[string]*slidingWindow),
		window:    time.Duration(secs) * time.Second,
		threshold: cfg.ErrorRateThreshold,
		logger:    logger,
		now:       time.Now,
	}
}

// RecordError records a failed operation and checks the error rate.
func (a *AnomalyDetector) RecordError(operation string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	a.windowFor(a.errors, operation).add(now)
	a.checkErrorRate(operation, now)
}

// RecordSuccess records a successful operation.
func (a *AnomalyDetector) RecordSuccess(operation string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.windowFor(a.successes, operation).add(a.now())
}

// ErrorRate returns the current error rate of an operation and the number
// of samples it is based on.
func (a *AnomalyDetector) ErrorRate(operation string) (float64, int) {
	if a == nil {
		return 0, 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rate(operation, a.now())
}

// Must be called with a.mu held.
func (a *AnomalyDetector) rate(operation string, now time.Time) (float64, int) {
	errs := a.windowFor(a.errors, operation).count(now)
	total := errs + a.windowFor(a.successes, operation).count(now)
	if total == 0 {
		return 0, 0
	}
	return float64(errs) / float64(total), total
}

// Must be called with a.mu held.
func (a *AnomalyDetector) checkErrorRate(operation string, now time.Time) {
	if a.threshold <= 0 || a.logger == nil {
		return
	}
	rate, total := a.rate(operation, now)
	if total < minAnomalySamples || rate <= a.threshold {
		return
	}
	a.logger.Warn("anomaly detected: high error rate",
		slog.String("operation", operation),
		slog.Float64("error_rate", rate),
		slog.Float64("threshold", a.threshold),
		slog.Int("samples", total),
	)
}

func (a *AnomalyDetector) windowFor(m map[string]*slidingWindow, key string) *slidingWindow {
	w, ok := m[key]
	if !ok {
		w = &slidingWindow{window: a.window}
		m[key] = w
	}
	return w
}

func (w *slidingWindow) add(now time.Time) {
	w.stamps = append(w.stamps, now)
	w.prune(now)
}

func (w *slidingWindow) count(now time.Time) int {
	w.prune(now)
	return len(w.stamps)
}

// prune drops entries older than the window. Stamps are appended in order.
func (w *slidingWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.stamps) && w.stamps[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = w.stamps[i:]
	}
}
