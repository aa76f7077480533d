// README: In-process order store used when no database is configured, and by tests.
package order

import (
	"context"
	"sync"
	"sync/atomic"
)

// MemoryStore keeps one mutex per order so transitions on different orders
// never contend; the map lock is held only for lookups and inserts.
type MemoryStore struct {
	seq    atomic.Int64
	mu     sync.RWMutex
	orders map[int64]*memEntry
}

type memEntry struct {
	mu    sync.Mutex
	order *Order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[int64]*memEntry)}
}

func (s *MemoryStore) Create(ctx context.Context, o *Order) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	id := s.seq.Add(1)
	c := o.Clone()
	c.ID = id

	s.mu.Lock()
	s.orders[id] = &memEntry{order: c}
	s.mu.Unlock()
	return id, nil
}

func (s *MemoryStore) Get(ctx context.Context, id int64) (*Order, error) {
	e, err := s.entry(ctx, id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.order.Clone(), nil
}

func (s *MemoryStore) CompareAndUpdate(ctx context.Context, id int64, expected Status, mutate func(*Order)) (*Order, error) {
	e, err := s.entry(ctx, id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.order.Status != expected {
		return nil, ErrConflict
	}
	next := e.order.Clone()
	mutate(next)
	next.ID = id
	e.order = next
	return next.Clone(), nil
}

// Len reports how many orders have been stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

func (s *MemoryStore) entry(ctx context.Context, id int64) (*memEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	e, ok := s.orders[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}
