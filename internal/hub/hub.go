// Package hub fans mirror changes out to live subscribers watching a single
// order, a customer's orders or a vendor's orders.
package hub

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/logx"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/mirror"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/orders"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/store"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

type Kind string

const (
	KindOrder    Kind = "order"
	KindCustomer Kind = "customer"
	KindVendor   Kind = "vendor"
)

func (k Kind) IsValid() bool {
	switch k {
	case KindOrder, KindCustomer, KindVendor:
		return true
	}
	return false
}

var (
	ErrHubClosed   = errors.New("subscription hub closed")
	ErrInvalidKind = errors.New("unknown subscription kind")
)

// Update is one delivery. The first delivery of every subscription is the
// snapshot (possibly empty); every later one carries a single changed order.
type Update struct {
	Orders   []orders.Order `json:"orders"`
	Snapshot bool           `json:"snapshot"`
}

// Handler receives updates for one subscription, one at a time. A returned
// error is retried with backoff and then logged.
type Handler func(ctx context.Context, u Update) error

// bucket is the fan-out list for one (kind, key). A bucket that became empty
// is marked dead and removed; registrations that race with the removal
// retry against a fresh bucket.
type bucket struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
	dead bool
}

type Hub struct {
	mirror mirror.Mirror
	logger *zap.Logger

	buckets sync.Map // "kind:key" -> *bucket
	active  atomic.Int64
	nextID  atomic.Uint64

	baseCtx context.Context
	cancel  context.CancelFunc
	closed  atomic.Bool
	wg      sync.WaitGroup

	retry func() backoff.BackOff
}

type Option func(*Hub)

// WithRetry sets the schedule used to retry a failing handler.
func WithRetry(f func() backoff.BackOff) Option {
	return func(h *Hub) { h.retry = f }
}

func New(m mirror.Mirror, logger *zap.Logger, opts ...Option) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		mirror:  m,
		logger:  logger,
		baseCtx: ctx,
		cancel:  cancel,
		retry: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 50 * time.Millisecond
			b.MaxInterval = time.Second
			return backoff.WithMaxRetries(b, 4)
		},
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

func bucketKey(kind Kind, key string) string { return string(kind) + ":" + key }

// Start attaches the hub to the mirror change feed. Changes applied after
// Start returns reach every matching subscriber.
func (h *Hub) Start(ctx context.Context) error {
	if h.closed.Load() {
		return ErrHubClosed
	}
	watchCtx, cancel := context.WithCancel(ctx)
	context.AfterFunc(h.baseCtx, cancel)
	changes, err := h.mirror.Watch(watchCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("hub watch: %w", err)
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for o := range changes {
			h.Publish(o)
		}
	}()
	return nil
}

// Run starts the hub and blocks until ctx is done, then closes it.
func (h *Hub) Run(ctx context.Context) error {
	if err := h.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	h.Close()
	return nil
}

// Publish hands o to every subscriber watching the order, its customer or
// one of its vendors. It never blocks on a subscriber.
func (h *Hub) Publish(o *orders.Order) {
	keys := make([]string, 0, 2+len(o.VendorIDs))
	keys = append(keys, bucketKey(KindOrder, o.ID), bucketKey(KindCustomer, o.CustomerID))
	seen := map[string]bool{}
	for _, v := range o.VendorIDs {
		if !seen[v] {
			seen[v] = true
			keys = append(keys, bucketKey(KindVendor, v))
		}
	}
	for _, k := range keys {
		v, ok := h.buckets.Load(k)
		if !ok {
			continue
		}
		b := v.(*bucket)
		b.mu.RLock()
		for s := range b.subs {
			s.enqueue(Update{Orders: []orders.Order{*o.Clone()}})
		}
		b.mu.RUnlock()
	}
}

// Subscribe registers handler for (kind, key). The current state read from
// the mirror is delivered first; every later change follows in per-order
// revision order. The caller owns the returned handle and must Close it.
func (h *Hub) Subscribe(ctx context.Context, kind Kind, key string, handler Handler) (*Subscription, error) {
	return h.subscribe(ctx, kind, key, handler, nil)
}

func (h *Hub) subscribe(ctx context.Context, kind Kind, key string, handler Handler, onStop func()) (*Subscription, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	if h.closed.Load() {
		return nil, ErrHubClosed
	}

	s := newSubscriber(h, h.nextID.Add(1), kind, key, handler, onStop)
	h.register(s)
	h.active.Add(1)

	snap, err := h.snapshot(ctx, kind, key)
	if err != nil {
		s.close()
		return nil, err
	}
	// Close may have run between the check above and register.
	if h.closed.Load() {
		s.close()
		return nil, ErrHubClosed
	}
	s.start(snap)

	sub := &Subscription{s: s}
	runtime.SetFinalizer(sub, func(sub *Subscription) {
		if sub.s.isClosed() {
			return
		}
		h.logger.Warn("subscription leaked, closing",
			zap.String("kind", string(sub.s.kind)),
			zap.String("key", sub.s.key),
			zap.Uint64("subscription_id", sub.s.id))
		sub.s.close()
	})
	logx.Debug(ctx, h.logger, "subscribed",
		zap.String("kind", string(kind)), zap.String("key", key), zap.Int("snapshot", len(snap)))
	return sub, nil
}

func (h *Hub) register(s *subscriber) {
	k := bucketKey(s.kind, s.key)
	for {
		v, _ := h.buckets.LoadOrStore(k, &bucket{subs: map[*subscriber]struct{}{}})
		b := v.(*bucket)
		b.mu.Lock()
		if b.dead {
			b.mu.Unlock()
			continue
		}
		b.subs[s] = struct{}{}
		b.mu.Unlock()
		return
	}
}

func (h *Hub) unregister(s *subscriber) {
	k := bucketKey(s.kind, s.key)
	v, ok := h.buckets.Load(k)
	if !ok {
		return
	}
	b := v.(*bucket)
	b.mu.Lock()
	delete(b.subs, s)
	if len(b.subs) == 0 {
		b.dead = true
		h.buckets.CompareAndDelete(k, b)
	}
	b.mu.Unlock()
}

func (h *Hub) snapshot(ctx context.Context, kind Kind, key string) ([]orders.Order, error) {
	var list []*orders.Order
	switch kind {
	case KindOrder:
		o, err := h.mirror.Get(ctx, key)
		if errors.Is(err, orders.ErrNotFound) {
			return []orders.Order{}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("snapshot %s %s: %w", kind, key, err)
		}
		list = []*orders.Order{o}
	case KindCustomer, KindVendor:
		f := store.Filter{CustomerID: key}
		if kind == KindVendor {
			f = store.Filter{VendorID: key}
		}
		var err error
		if list, err = h.mirror.Query(ctx, f); err != nil {
			return nil, fmt.Errorf("snapshot %s %s: %w", kind, key, err)
		}
	}
	out := make([]orders.Order, 0, len(list))
	for _, o := range list {
		out = append(out, *o)
	}
	return out, nil
}

// Active is the number of open subscriptions.
func (h *Hub) Active() int { return int(h.active.Load()) }

// Close stops every delivery and releases every subscriber. It waits for
// in-flight handler calls to return.
func (h *Hub) Close() {
	if !h.closed.CompareAndSwap(false, true) {
		return
	}
	h.cancel()
	var all []*subscriber
	h.buckets.Range(func(_, v any) bool {
		b := v.(*bucket)
		b.mu.RLock()
		for s := range b.subs {
			all = append(all, s)
		}
		b.mu.RUnlock()
		return true
	})
	for _, s := range all {
		s.close()
	}
	h.wg.Wait()
}
