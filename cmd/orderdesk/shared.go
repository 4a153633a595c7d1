package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/orderdesk/internal/agent"
	"github.com/jkaninda/orderdesk/internal/config"
	"github.com/jkaninda/orderdesk/internal/confirmation"
	"github.com/jkaninda/orderdesk/internal/llm"
	"github.com/jkaninda/orderdesk/internal/llm/openai"
	"github.com/jkaninda/orderdesk/internal/observability"
	"github.com/jkaninda/orderdesk/internal/orderapi"
	"github.com/jkaninda/orderdesk/internal/session"
	"github.com/jkaninda/orderdesk/internal/tools"
	"github.com/jkaninda/orderdesk/internal/tools/ordertools"
)

// newLogger builds the JSON logger shared by all commands.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// resolvedConfigPath applies ORDERDESK_CONFIG, then the --config flag, then
// the default location.
func resolvedConfigPath() string {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return goutils.Env("ORDERDESK_CONFIG", path)
}

// Assistant holds the components shared by the serve, chat and mcp commands.
type Assistant struct {
	Config   *config.Config
	Logger   *slog.Logger
	Obs      *observability.Observability
	Store    *orderapi.Client
	Sessions *session.Manager

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (a *Assistant) Cleanup() {
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		a.cleanups[i]()
	}
}

func (a *Assistant) addCleanup(fn func()) {
	a.cleanups = append(a.cleanups, fn)
}

// initAssistant wires the LLM provider, the order tools, the agent and the
// session manager. Callers must call Cleanup when done.
func initAssistant(cfg *config.Config, logger *slog.Logger, sessionOpts ...session.Option) (*Assistant, error) {
	a := &Assistant{Config: cfg, Logger: logger}

	obs, err := observability.New(cfg.Observability, "assistant", logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	a.Obs = obs
	a.addCleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		obs.Shutdown(shutdownCtx)
	})
	logger.Debug("observability initialized",
		slog.Bool("metrics", obs.Metrics != nil),
		slog.Bool("tracing", obs.Tracer != nil),
		slog.Bool("anomaly", obs.Anomaly != nil),
	)

	provider, err := newLLMProvider(cfg, logger)
	if err != nil {
		a.Cleanup()
		return nil, fmt.Errorf("initializing LLM provider: %w", err)
	}
	logger.Debug("llm provider initialized", slog.String("provider", provider.Name()))
	if obs.Metrics != nil || obs.Tracer != nil {
		provider = observability.NewInstrumentedProvider(provider, obs.Metrics, obs.Tracer, obs.Anomaly)
	}

	a.Store = orderapi.NewClient(cfg.OrderStore.StoreBaseURL(), logger,
		orderapi.WithTimeout(cfg.OrderStore.Timeout()),
		orderapi.WithObserver(obs.MetricsOrNil()),
		orderapi.WithTracerProvider(obs.TracerOrNil().Provider()),
	)
	obs.Health.AddCheck("order_store", a.Store.Ping)

	reg := tools.NewRegistry()
	ordertools.Register(reg, a.Store, logger)
	if obs.Metrics != nil || obs.Tracer != nil {
		reg = observability.InstrumentRegistry(reg, obs.Metrics, obs.Tracer, obs.Anomaly)
	}
	logger.Debug("order tools registered", slog.Any("tools", reg.Names()))

	prompt := cfg.Assistant.SystemPrompt
	if prompt == "" {
		prompt = agent.DefaultSystemPrompt
	}
	orch := agent.NewOrchestrator(provider, prompt, logger).
		WithTools(reg).
		WithTracer(obs.TracerOrNil().Tracer()).
		WithMaxIterations(cfg.Assistant.Iterations()).
		WithMaxToolsPerTurn(cfg.Assistant.ToolsPerTurn()).
		WithHistoryLimit(cfg.Assistant.HistoryLimit()).
		WithMaxTokens(cfg.Assistant.ResponseTokens()).
		WithSummarization(cfg.Assistant.SummarizeHistory)

	var executor confirmation.Executor = confirmation.NewStoreExecutor(a.Store, logger)
	if obs.Metrics != nil || obs.Tracer != nil {
		executor = observability.NewInstrumentedExecutor(executor, obs.Metrics, obs.Tracer, obs.Anomaly)
	}

	opts := append([]session.Option{
		session.WithObservability(obs),
		session.WithTTL(cfg.Assistant.SessionTTL()),
		session.WithHistoryLimit(cfg.Assistant.HistoryLimit()),
	}, sessionOpts...)
	a.Sessions = session.NewManager(orch, executor, logger, opts...)
	return a, nil
}

// newLLMProvider builds the default provider and its fallback chain.
func newLLMProvider(cfg *config.Config, logger *slog.Logger) (llm.Provider, error) {
	primary, err := buildProvider(cfg.Providers.Default, cfg, logger)
	if err != nil {
		return nil, err
	}
	if len(cfg.Providers.Fallback) == 0 {
		return primary, nil
	}

	providers := []llm.Provider{primary}
	for _, name := range cfg.Providers.Fallback {
		fb, err := buildProvider(name, cfg, logger)
		if err != nil {
			logger.Warn("skipping fallback provider",
				slog.String("provider", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		providers = append(providers, fb)
	}
	if len(providers) == 1 {
		return primary, nil
	}
	return llm.NewFallbackProvider(providers, logger)
}

// buildProvider creates a single LLM provider by name. Ollama is reached
// through its OpenAI-compatible endpoint.
func buildProvider(name string, cfg *config.Config, logger *slog.Logger) (llm.Provider, error) {
	switch name {
	case "openai", "":
		var opts []openai.Option
		if cfg.Providers.OpenAI.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.Providers.OpenAI.BaseURL))
		}
		return openai.NewClient(cfg.Providers.OpenAI.APIKey, cfg.Providers.OpenAI.Model, logger, opts...), nil
	case "ollama":
		baseURL := cfg.Providers.Ollama.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return openai.NewClient("", cfg.Providers.Ollama.Model, logger,
			openai.WithBaseURL(baseURL),
			openai.WithName("ollama"),
		), nil
	default:
		return nil, fmt.Errorf("unknown provider: %q", name)
	}
}
