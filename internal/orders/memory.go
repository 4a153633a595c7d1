package orders

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. All reads return copies.
type MemoryStore struct {
	mu     sync.Mutex
	orders map[string]*Order
}

// NewMemoryStore creates a store pre-populated with the given orders.
func NewMemoryStore(seed ...Order) *MemoryStore {
	s := &MemoryStore{orders: make(map[string]*Order, len(seed))}
	for i := range seed {
		s.orders[seed[i].ID] = seed[i].Clone()
	}
	return s
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return o.Clone(), nil
}

// List returns all orders sorted by id.
func (s *MemoryStore) List(_ context.Context) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, *o.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Add(_ context.Context, itemName, comment string, placedAt time.Time) (*Order, error) {
	o, err := NewOrder(itemName, comment, placedAt)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.orders))
	for id := range s.orders {
		ids = append(ids, id)
	}
	o.ID = NextID(ids)
	s.orders[o.ID] = o
	return o.Clone(), nil
}

// Update applies fn to a copy of the order and commits the copy only when fn
// succeeds.
func (s *MemoryStore) Update(_ context.Context, id string, fn UpdateFunc) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return cur.Clone(), err
	}
	next.ID = id
	s.orders[id] = next
	return next.Clone(), nil
}

// Seed inserts orders whose ids are not present yet and reports how many were added.
func (s *MemoryStore) Seed(_ context.Context, seed []Order) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for i := range seed {
		if _, ok := s.orders[seed[i].ID]; ok {
			continue
		}
		s.orders[seed[i].ID] = seed[i].Clone()
		n++
	}
	return n, nil
}
