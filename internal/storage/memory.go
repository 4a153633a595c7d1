package storage

import (
	"context"

	"github.com/jkaninda/orderdesk/internal/orders"
)

// MemoryStore keeps orders in process memory. Contents are lost on restart.
type MemoryStore struct {
	orders *orders.MemoryStore
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: orders.NewMemoryStore()}
}

func (m *MemoryStore) Orders() OrderRepository { return m.orders }
func (m *MemoryStore) Ping(context.Context) error { return nil }
func (m *MemoryStore) Migrate(context.Context) error { return nil }
func (m *MemoryStore) Close() error { return nil }
func (m *MemoryStore) Driver() string { return DriverMemory }

var _ Store = (*MemoryStore)(nil)
