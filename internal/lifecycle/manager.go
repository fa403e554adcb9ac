// Package lifecycle coordinates every order write: status rules, stock,
// the canonical store, the live mirror and notifications.
package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/inventory"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/keylock"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/logx"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/mirror"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/notify"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/orders"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/store"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Deps are the collaborators every Manager needs.
type Deps struct {
	Store    store.Store
	Ledger   inventory.Ledger
	Syncer   *mirror.Syncer
	Notifier notify.Dispatcher
}

// Manager is constructed once per process and shared by every transport.
type Manager struct {
	store    store.Store
	ledger   inventory.Ledger
	syncer   *mirror.Syncer
	notifier notify.Dispatcher
	idem     IdempotencyCache

	locks    *keylock.Mutex
	credits  *credits
	pricing  orders.Pricing
	numbers  *orders.NumberGenerator
	now      func() time.Time
	validate *validator.Validate

	logger *zap.Logger
	tracer trace.Tracer

	maxConflictRetries int
	rereadBackOff      func() backoff.BackOff
	notifyTimeout      time.Duration
	notifying          sync.WaitGroup
}

type Option func(*Manager)

func WithLogger(l *zap.Logger) Option { return func(m *Manager) { m.logger = l } }

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

func WithPricing(p orders.Pricing) Option { return func(m *Manager) { m.pricing = p } }

func WithNumberGenerator(g *orders.NumberGenerator) Option {
	return func(m *Manager) { m.numbers = g }
}

// WithIdempotencyCache adds a fast path in front of the store's idempotency
// lookup. The store stays authoritative.
func WithIdempotencyCache(c IdempotencyCache) Option { return func(m *Manager) { m.idem = c } }

func WithConflictRetries(n int) Option { return func(m *Manager) { m.maxConflictRetries = n } }

// WithReReadBackOff sets how long a write with an unknown outcome is
// re-read before the outcome is reported as unknown.
func WithReReadBackOff(f func() backoff.BackOff) Option {
	return func(m *Manager) { m.rereadBackOff = f }
}

func New(d Deps, opts ...Option) *Manager {
	m := &Manager{
		store:              d.Store,
		ledger:             d.Ledger,
		syncer:             d.Syncer,
		notifier:           d.Notifier,
		locks:              keylock.New(),
		credits:            newCredits(),
		numbers:            orders.NewNumberGenerator(""),
		now:                func() time.Time { return time.Now().UTC() },
		validate:           validator.New(),
		logger:             zap.NewNop(),
		tracer:             otel.Tracer("lifecycle"),
		maxConflictRetries: 3,
		rereadBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			return backoff.WithMaxRetries(b, 3)
		},
		notifyTimeout:      10 * time.Second,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Wait blocks until every notification fan-out started so far is done.
func (m *Manager) Wait() { m.notifying.Wait() }

// afterCommit mirrors o and fires its notifications. Neither can fail the
// caller: the canonical record is already written.
func (m *Manager) afterCommit(ctx context.Context, o *orders.Order, list []notify.Notification) {
	if m.syncer != nil {
		_ = m.syncer.Sync(ctx, o)
	}
	if m.notifier == nil || len(list) == 0 {
		return
	}
	m.notifying.Add(1)
	go func() {
		defer m.notifying.Done()
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.notifyTimeout)
		defer cancel()
		if err := notify.Fanout(nctx, m.notifier, list); err != nil {
			logx.Warn(nctx, m.logger, "notification failed",
				zap.String("order_id", o.ID),
				zap.Error(err))
		}
	}()
}

// errOutcomeUnknown marks a failed write whose record could not be re-read,
// so it may or may not have landed.
var errOutcomeUnknown = errors.New("write outcome unknown")

// reread fetches orderID after a failed write. orders.ErrNotFound is final;
// other errors are retried on the re-read schedule.
func (m *Manager) reread(ctx context.Context, orderID string) (*orders.Order, error) {
	var got *orders.Order
	op := func() error {
		o, err := m.store.Get(ctx, orderID)
		if errors.Is(err, orders.ErrNotFound) {
			return backoff.Permanent(err)
		}
		if err != nil {
			return err
		}
		got = o
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(m.rereadBackOff(), ctx)); err != nil {
		return nil, err
	}
	return got, nil
}

func itemsOf(o *orders.Order) []inventory.Item {
	qty := o.ReservedQuantities()
	out := make([]inventory.Item, 0, len(qty))
	seen := map[string]bool{}
	for _, it := range o.Items {
		if seen[it.ProductID] {
			continue
		}
		seen[it.ProductID] = true
		out = append(out, inventory.Item{ProductID: it.ProductID, Qty: qty[it.ProductID]})
	}
	return out
}
