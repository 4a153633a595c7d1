package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/orderdesk/internal/confirmation"
	"github.com/jkaninda/orderdesk/internal/llm"
	"github.com/jkaninda/orderdesk/internal/tools"
)

// --- InstrumentedProvider ---

// InstrumentedProvider wraps an llm.Provider with metrics, tracing, and anomaly detection.
type InstrumentedProvider struct {
	inner   llm.Provider
	metrics *MetricsCollector
	tracer  trace.Tracer
	anomaly *AnomalyDetector
}

// NewInstrumentedProvider wraps an LLM provider with observability.
func NewInstrumentedProvider(inner llm.Provider, metrics *MetricsCollector, ts *TracerSetup, anomaly *AnomalyDetector) *InstrumentedProvider {
	return &InstrumentedProvider{
		inner:   inner,
		metrics: metrics,
		tracer:  tracerOrNil(ts),
		anomaly: anomaly,
	}
}

func (p *InstrumentedProvider) Name() string { return p.inner.Name() }

func (p *InstrumentedProvider) SendMessage(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	provider := p.inner.Name()

	var span trace.Span
	if p.tracer != nil {
		ctx, span = p.tracer.Start(ctx, "llm.send_message",
			trace.WithAttributes(
				attribute.String("llm.provider", provider),
				attribute.Int("llm.tools", len(req.Tools)),
			))
		defer span.End()
	}

	start := time.Now()
	resp, err := p.inner.SendMessage(ctx, req)
	duration := time.Since(start).Seconds()

	status, model := "success", ""
	if resp != nil {
		model = resp.Model
	}
	if err != nil {
		status = "error"
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	} else if span != nil {
		span.SetAttributes(
			attribute.String("llm.model", model),
			attribute.String("llm.stop_reason", resp.StopReason),
		)
	}

	if p.metrics != nil {
		p.metrics.LLMRequestsTotal.WithLabelValues(provider, model, status).Inc()
		p.metrics.LLMRequestDuration.WithLabelValues(provider).Observe(duration)
		if resp != nil {
			p.metrics.LLMTokensUsed.WithLabelValues(provider, model, "input").Add(float64(resp.Usage.InputTokens))
			p.metrics.LLMTokensUsed.WithLabelValues(provider, model, "output").Add(float64(resp.Usage.OutputTokens))
		}
	}

	if err != nil {
		p.anomaly.RecordError(OpLLMRequest)
	} else {
		p.anomaly.RecordSuccess(OpLLMRequest)
	}

	return resp, err
}

// --- InstrumentedTool ---

// InstrumentedTool wraps a tools.Tool with execution metrics and a span.
type InstrumentedTool struct {
	tools.Tool
	metrics *MetricsCollector
	tracer  trace.Tracer
	anomaly *AnomalyDetector
}

// NewInstrumentedTool wraps a tool with observability.
func NewInstrumentedTool(inner tools.Tool, metrics *MetricsCollector, ts *TracerSetup, anomaly *AnomalyDetector) *InstrumentedTool {
	return &InstrumentedTool{Tool: inner, metrics: metrics, tracer: tracerOrNil(ts), anomaly: anomaly}
}

func (t *InstrumentedTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	name := t.Name()

	var span trace.Span
	if t.tracer != nil {
		ctx, span = t.tracer.Start(ctx, "tool.execute",
			trace.WithAttributes(
				attribute.String("tool.name", name),
				attribute.String("session.id", tools.SessionIDFromContext(ctx)),
			))
		defer span.End()
	}

	start := time.Now()
	res, err := t.Tool.Execute(ctx, params)
	duration := time.Since(start).Seconds()

	status := "success"
	switch {
	case err != nil:
		status = "error"
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	case res != nil && !res.Success:
		status = "failed"
	}

	if t.metrics != nil {
		t.metrics.ToolExecutionsTotal.WithLabelValues(name, status).Inc()
		t.metrics.ToolExecutionDuration.WithLabelValues(name).Observe(duration)
	}
	if status == "success" {
		t.anomaly.RecordSuccess(toolOperation(name))
	} else {
		t.anomaly.RecordError(toolOperation(name))
	}
	return res, err
}

// InstrumentRegistry returns a registry holding every tool of reg wrapped
// with observability.
func InstrumentRegistry(reg *tools.Registry, metrics *MetricsCollector, ts *TracerSetup, anomaly *AnomalyDetector) *tools.Registry {
	out := tools.NewRegistry()
	for _, t := range reg.All() {
		out.Register(NewInstrumentedTool(t, metrics, ts, anomaly))
	}
	return out
}

// --- InstrumentedExecutor ---

// InstrumentedExecutor wraps a confirmation.Executor, recording every
// executed action by outcome.
type InstrumentedExecutor struct {
	inner   confirmation.Executor
	metrics *MetricsCollector
	tracer  trace.Tracer
	anomaly *AnomalyDetector
}

// NewInstrumentedExecutor wraps an action executor with observability.
func NewInstrumentedExecutor(inner confirmation.Executor, metrics *MetricsCollector, ts *TracerSetup, anomaly *AnomalyDetector) *InstrumentedExecutor {
	return &InstrumentedExecutor{inner: inner, metrics: metrics, tracer: tracerOrNil(ts), anomaly: anomaly}
}

func (e *InstrumentedExecutor) Execute(ctx context.Context, action confirmation.PendingAction) confirmation.ActionResult {
	var span trace.Span
	if e.tracer != nil {
		ctx, span = e.tracer.Start(ctx, "confirmation.execute",
			trace.WithAttributes(
				attribute.String("action.type", string(action.ActionType)),
				attribute.String("order.id", action.OrderID),
			))
		defer span.End()
	}

	res := e.inner.Execute(ctx, action)

	if span != nil {
		span.SetAttributes(attribute.String("action.outcome", string(res.Outcome)))
		if !res.Succeeded() {
			span.SetStatus(codes.Error, string(res.Outcome))
		}
	}
	if e.metrics != nil {
		e.metrics.ActionsTotal.WithLabelValues(string(action.ActionType), string(res.Outcome)).Inc()
	}

	// Policy and conflict answers are the store working as intended.
	switch res.Outcome {
	case confirmation.OutcomeNetworkError, confirmation.OutcomeUnknownError:
		e.anomaly.RecordError(OpStoreCancel)
	default:
		e.anomaly.RecordSuccess(OpStoreCancel)
	}
	return res
}

func tracerOrNil(ts *TracerSetup) trace.Tracer {
	if ts == nil {
		return nil
	}
	return ts.Tracer()
}

// --- Compile-time interface checks ---

var (
	_ llm.Provider          = (*InstrumentedProvider)(nil)
	_ tools.Tool            = (*InstrumentedTool)(nil)
	_ confirmation.Executor = (*InstrumentedExecutor)(nil)
)
