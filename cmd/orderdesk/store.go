package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkaninda/orderdesk/internal/config"
	"github.com/jkaninda/orderdesk/internal/events"
	"github.com/jkaninda/orderdesk/internal/gateway"
	"github.com/jkaninda/orderdesk/internal/observability"
	"github.com/jkaninda/orderdesk/internal/orderapi/server"
	"github.com/jkaninda/orderdesk/internal/orders"
	"github.com/jkaninda/orderdesk/internal/storage"
	pgstore "github.com/jkaninda/orderdesk/internal/storage/postgres"
	sqlitestore "github.com/jkaninda/orderdesk/internal/storage/sqlite"
)

var (
	storeAddr   string
	storeNoSeed bool
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Start the order store API",
	Long: `Start the order store HTTP API (track, cancel, add, list).
Without a config file the store runs on SQLite with the demo orders.`,
	RunE: runStore,
}

func init() {
	storeCmd.Flags().StringVar(&storeAddr, "addr", "", "override listen address (e.g. :5001)")
	storeCmd.Flags().BoolVar(&storeNoSeed, "no-seed", false, "do not insert the demo orders")
}

func runStore(_ *cobra.Command, _ []string) error {
	logger := newLogger()

	cfg, err := loadStoreConfig()
	if err != nil {
		return err
	}
	if storeAddr != "" {
		cfg.OrderStore.ListenAddr = storeAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs, err := observability.New(cfg.Observability, "store", logger)
	if err != nil {
		return fmt.Errorf("initializing observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		obs.Shutdown(shutdownCtx)
	}()

	store, err := openStore(cfg.OrderStore, logger)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("closing store", slog.String("error", err.Error()))
		}
	}()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	obs.Health.AddCheck("storage", store.Ping)

	repo := store.Orders()
	if cfg.OrderStore.SeedEnabled() && !storeNoSeed {
		n, err := repo.Seed(ctx, orders.SeedOrders(time.Now()))
		if err != nil {
			return fmt.Errorf("seeding orders: %w", err)
		}
		logger.Info("demo orders seeded", slog.Int("inserted", n))
	}

	publisher, err := newPublisher(cfg.OrderStore.Events, logger)
	if err != nil {
		return err
	}
	defer func() { _ = publisher.Close() }()

	svc := server.NewService(repo, logger,
		server.WithPublisher(publisher),
		server.WithObserver(obs.MetricsOrNil()),
	)
	srv := server.New(server.Config{
		ListenAddr:    cfg.OrderStore.StoreListenAddr(),
		EnableDocs:    cfg.OrderStore.EnableDocs,
		Metrics:       obs.Metrics,
		MetricsPath:   observability.MetricsPath(cfg.Observability),
		Tracer:        obs.Tracer,
		HealthChecker: obs.Health,
	}, svc, logger)

	logger.Info("starting order store",
		slog.String("addr", cfg.OrderStore.StoreListenAddr()),
		slog.String("storage", store.Driver()),
	)
	err = runGateways(ctx, []gateway.Gateway{srv}, logger)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// loadStoreConfig reads the config file when one exists; the store also
// runs without one.
func loadStoreConfig() (*config.Config, error) {
	path := resolvedConfigPath()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && configPath == "" {
		return config.Default(), nil
	}
	return config.LoadStore(path)
}

// openStore creates the storage backend selected by the config.
func openStore(cfg config.OrderStoreConfig, logger *slog.Logger) (storage.Store, error) {
	switch cfg.StorageDriver() {
	case storage.DriverMemory:
		return storage.NewMemoryStore(), nil
	case storage.DriverPostgres:
		pg := cfg.Storage.Postgres
		pgDB, err := pgstore.Open(pgstore.Config{
			DSN:             pg.DSN,
			MaxOpenConns:    pg.MaxOpenConns,
			MaxIdleConns:    pg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(pg.ConnMaxLifetimeS) * time.Second,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		return pgstore.NewStore(pgDB), nil
	case storage.DriverSQLite:
		sqliteCfg := sqlitestore.Config{Path: storage.DefaultSQLitePath}
		if cfg.Storage != nil {
			if cfg.Storage.SQLite.Path != "" {
				sqliteCfg.Path = cfg.Storage.SQLite.Path
			}
			sqliteCfg.JournalMode = cfg.Storage.SQLite.JournalMode
		}
		return sqlitestore.Open(sqliteCfg, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", cfg.StorageDriver())
	}
}

// newPublisher returns a Kafka publisher when events are enabled.
func newPublisher(cfg *config.EventsConfig, logger *slog.Logger) (events.Publisher, error) {
	if cfg == nil || !cfg.Enabled {
		return events.NopPublisher{}, nil
	}
	p, err := events.NewKafkaPublisher(events.KafkaConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.EventsTopic(),
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing events: %w", err)
	}
	logger.Info("order events enabled",
		slog.String("topic", cfg.EventsTopic()),
		slog.Any("brokers", cfg.Brokers),
	)
	return p, nil
}
