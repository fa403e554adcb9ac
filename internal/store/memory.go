package store

import (
	"context"
	"sync"

	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/orders"
)

// Memory is a Store for tests and single-process runs. Records are cloned on
// the way in and out so callers never share memory with the store.
type Memory struct {
	mu    sync.RWMutex
	byID  map[string]*orders.Order
	byKey map[string]string // idempotency key -> order id

	failWrites error
}

func NewMemory() *Memory {
	return &Memory{byID: map[string]*orders.Order{}, byKey: map[string]string{}}
}

// SetFailure makes every following Put and Patch return err; nil heals the
// store.
func (m *Memory) SetFailure(err error) {
	m.mu.Lock()
	m.failWrites = err
	m.mu.Unlock()
}

func (m *Memory) Put(_ context.Context, o *orders.Order, expectedRevision int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites != nil {
		return m.failWrites
	}

	cur, exists := m.byID[o.ID]
	switch {
	case expectedRevision == 0 && exists:
		return orders.ErrRevisionConflict
	case expectedRevision != 0 && (!exists || cur.Revision != expectedRevision):
		return orders.ErrRevisionConflict
	}
	if expectedRevision == 0 && o.IdempotencyKey != "" {
		if _, taken := m.byKey[o.IdempotencyKey]; taken {
			return orders.ErrDuplicateIdempotencyKey
		}
		m.byKey[o.IdempotencyKey] = o.ID
	}

	o.Revision = expectedRevision + 1
	m.byID[o.ID] = o.Clone()
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*orders.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.byID[id]
	if !ok {
		return nil, orders.NotFoundf("order", id)
	}
	return o.Clone(), nil
}

func (m *Memory) Patch(_ context.Context, id string, expectedRevision int64, p Patch) (*orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites != nil {
		return nil, m.failWrites
	}
	cur, ok := m.byID[id]
	if !ok {
		return nil, orders.NotFoundf("order", id)
	}
	if cur.Revision != expectedRevision {
		return nil, orders.ErrRevisionConflict
	}
	next := cur.Clone()
	p.Apply(next)
	m.byID[id] = next
	return next.Clone(), nil
}

func (m *Memory) Query(_ context.Context, f Filter) ([]*orders.Order, error) {
	m.mu.RLock()
	out := make([]*orders.Order, 0)
	for _, o := range m.byID {
		if f.Match(o) {
			out = append(out, o.Clone())
		}
	}
	m.mu.RUnlock()
	return SortNewestFirst(out, f.Limit), nil
}

func (m *Memory) FindByIdempotencyKey(ctx context.Context, key string) (*orders.Order, error) {
	m.mu.RLock()
	id, ok := m.byKey[key]
	m.mu.RUnlock()
	if !ok {
		return nil, orders.NotFoundf("idempotency key", key)
	}
	return m.Get(ctx, id)
}
