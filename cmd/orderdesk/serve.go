package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkaninda/orderdesk/internal/config"
	"github.com/jkaninda/orderdesk/internal/gateway"
	"github.com/jkaninda/orderdesk/internal/gateway/cli"
	"github.com/jkaninda/orderdesk/internal/gateway/httpapi"
	"github.com/jkaninda/orderdesk/internal/observability"
	"github.com/jkaninda/orderdesk/internal/ratelimit"
	"github.com/jkaninda/orderdesk/internal/session"
)

var servePort string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the assistant gateways (HTTP API, optional CLI)",
	RunE:  runServe,
}

func init() {
	// Registered on both root and serve so that `orderdesk --port :8080`
	// and `orderdesk serve --port :8080` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&servePort, "port", "", "override HTTP listen address (e.g. :8080)")
	}
}

// runServe starts the assistant in gateway mode.
func runServe(_ *cobra.Command, _ []string) error {
	logger := newLogger()

	path := resolvedConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if servePort != "" {
		if cfg.Gateways.HTTP == nil {
			cfg.Gateways.HTTP = &config.HTTPGatewayConfig{Enabled: true}
		}
		cfg.Gateways.HTTP.ListenAddr = servePort
	}
	logger.Info("starting assistant", slog.String("config", path))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	limiter := newLimiter(cfg)
	a, err := initAssistant(cfg, logger, session.WithReapHook(func() {
		if n := limiter.Prune(); n > 0 {
			logger.Debug("rate limit buckets pruned", slog.Int("removed", n))
		}
	}))
	if err != nil {
		return err
	}
	defer a.Cleanup()

	cancelReaper, err := a.Sessions.StartReaper(ctx, cfg.Assistant.ReapSpec())
	if err != nil {
		return err
	}
	defer cancelReaper()

	gateways := buildGateways(cfg, a, limiter)
	if len(gateways) == 0 {
		return fmt.Errorf("no gateways enabled in config")
	}
	logger.Info("gateways configured", slog.Int("count", len(gateways)))

	return runGateways(ctx, gateways, logger)
}

// runGateways starts every gateway, waits for a signal or the first
// failure, then stops them in reverse order.
func runGateways(ctx context.Context, gateways []gateway.Gateway, logger *slog.Logger) error {
	errs := make(chan error, len(gateways))
	for _, gw := range gateways {
		go func(g gateway.Gateway) {
			errs <- g.Start(ctx)
		}(gw)
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-errs:
		if runErr != nil {
			logger.Error("gateway exited with error", slog.String("error", runErr.Error()))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i := len(gateways) - 1; i >= 0; i-- {
		if err := gateways[i].Stop(shutdownCtx); err != nil {
			logger.Error("stopping gateway", slog.String("error", err.Error()))
		}
	}
	return runErr
}

func newLimiter(cfg *config.Config) *ratelimit.Limiter {
	if cfg.Gateways.HTTP == nil {
		return nil
	}
	return ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerMinute: cfg.Gateways.HTTP.RateLimit.RequestsPerMinute,
		BurstSize:         cfg.Gateways.HTTP.RateLimit.BurstSize,
	})
}

func buildGateways(cfg *config.Config, a *Assistant, limiter *ratelimit.Limiter) []gateway.Gateway {
	var gws []gateway.Gateway
	gwCfg := cfg.Gateways

	if gwCfg.CLI == nil && gwCfg.HTTP == nil {
		a.Logger.Debug("gateway enabled", slog.String("type", "cli"), slog.String("reason", "default"))
		return append(gws, cli.NewGateway(a.Sessions, a.Logger))
	}

	if gwCfg.CLI != nil && gwCfg.CLI.Enabled {
		gws = append(gws, cli.NewGateway(a.Sessions, a.Logger))
		a.Logger.Debug("gateway enabled", slog.String("type", "cli"))
	}

	if gwCfg.HTTP != nil && gwCfg.HTTP.Enabled {
		httpCfg := httpapi.Config{
			ListenAddr:     gwCfg.HTTP.ListenAddr,
			EnableDocs:     gwCfg.HTTP.EnableDocs,
			SSE:            gwCfg.HTTP.SSE,
			APIKeys:        apiKeys(gwCfg.HTTP.APIKeyUserMapping),
			MaxRequestSize: gwCfg.HTTP.MaxRequestSizeBytes,
			HealthChecker:  a.Obs.Health,
			Metrics:        a.Obs.Metrics,
			Tracer:         a.Obs.Tracer,
			MetricsPath:    observability.MetricsPath(cfg.Observability),
		}
		if httpCfg.ListenAddr == "" {
			httpCfg.ListenAddr = ":8080"
		}
		if a.Obs.Metrics != nil {
			httpCfg.MetricsRegistry = a.Obs.Metrics.Registry
		}
		gws = append(gws, httpapi.NewGateway(httpCfg, a.Sessions, limiter, a.Logger))
		a.Logger.Debug("gateway enabled",
			slog.String("type", "http"),
			slog.String("addr", httpCfg.ListenAddr),
			slog.Bool("sse", httpCfg.SSE),
		)
	}
	return gws
}

// apiKeys merges the configured key mapping with ORDERDESK_API_KEYS
// ("key:user,key:user").
func apiKeys(configured map[string]string) map[string]string {
	keys := make(map[string]string, len(configured))
	for k, v := range configured {
		keys[k] = v
	}
	if env := os.Getenv("ORDERDESK_API_KEYS"); env != "" {
		for _, entry := range strings.Split(env, ",") {
			if key, user, ok := strings.Cut(strings.TrimSpace(entry), ":"); ok && key != "" && user != "" {
				keys[key] = user
			}
		}
	}
	return keys
}
