package postgres

import (
	"context"
	"sync"

	"github.com/jkaninda/orderdesk/internal/storage"
)

// Store implements storage.Store backed by PostgreSQL.
type Store struct {
	pgDB *DB

	mu     sync.Mutex
	orders *OrderRepository
}

// NewStore wraps an existing DB as a storage.Store.
func NewStore(pgDB *DB) *Store {
	return &Store{pgDB: pgDB}
}

func (s *Store) Orders() storage.OrderRepository {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.orders == nil {
		s.orders = NewOrderRepository(s.pgDB.GormDB())
	}
	return s.orders
}

func (s *Store) Migrate(_ context.Context) error {
	// PostgreSQL migration is done in Open() via AutoMigrate.
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pgDB.Ping(ctx)
}

func (s *Store) Close() error {
	return s.pgDB.Close()
}

func (s *Store) Driver() string {
	return storage.DriverPostgres
}

// DB returns the wrapped connection.
func (s *Store) DB() *DB {
	return s.pgDB
}
