package mirror

import (
	"context"
	"sync"

	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/orders"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/store"
)

type watcher struct {
	ch   chan *orders.Order
	done <-chan struct{}
}

// Memory is an in-process mirror. Puts are delivered to watchers while the
// mirror lock is held, which keeps per-order delivery in revision order.
type Memory struct {
	mu       sync.Mutex
	docs     map[string]*orders.Order
	watchers map[*watcher]struct{}
	fail     error
}

func NewMemory() *Memory {
	return &Memory{docs: map[string]*orders.Order{}, watchers: map[*watcher]struct{}{}}
}

// SetFailure makes every following Put return err; nil heals the mirror.
func (m *Memory) SetFailure(err error) {
	m.mu.Lock()
	m.fail = err
	m.mu.Unlock()
}

func (m *Memory) Put(_ context.Context, o *orders.Order) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return false, m.fail
	}
	if cur, ok := m.docs[o.ID]; ok && cur.Revision > o.Revision {
		return false, nil
	}
	m.docs[o.ID] = o.Clone()
	for w := range m.watchers {
		select {
		case w.ch <- o.Clone():
		case <-w.done:
		}
	}
	return true, nil
}

func (m *Memory) Get(_ context.Context, id string) (*orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.docs[id]
	if !ok {
		return nil, orders.NotFoundf("order", id)
	}
	return o.Clone(), nil
}

func (m *Memory) Patch(ctx context.Context, id string, p store.Patch) (*orders.Order, error) {
	return patch(ctx, m, id, p)
}

func (m *Memory) Query(_ context.Context, f store.Filter) ([]*orders.Order, error) {
	m.mu.Lock()
	out := make([]*orders.Order, 0)
	for _, o := range m.docs {
		if f.Match(o) {
			out = append(out, o.Clone())
		}
	}
	m.mu.Unlock()
	return store.SortNewestFirst(out, f.Limit), nil
}

func (m *Memory) Watch(ctx context.Context) (<-chan *orders.Order, error) {
	w := &watcher{ch: make(chan *orders.Order, 64), done: ctx.Done()}
	m.mu.Lock()
	m.watchers[w] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.watchers, w)
		m.mu.Unlock()
		close(w.ch)
	}()
	return w.ch, nil
}
