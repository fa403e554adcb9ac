package mirror

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/logx"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/orders"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/store"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Syncer copies committed orders into the mirror. A failed copy is queued
// (latest revision per order wins) and retried by Run with exponential
// backoff until it lands.
type Syncer struct {
	mirror Mirror
	logger *zap.Logger

	mu      sync.Mutex
	pending map[string]*orders.Order
	wake    chan struct{}

	newBackOff func() backoff.BackOff
}

type SyncerOption func(*Syncer)

// WithBackOff replaces the retry schedule used by Run.
func WithBackOff(f func() backoff.BackOff) SyncerOption {
	return func(s *Syncer) { s.newBackOff = f }
}

func NewSyncer(m Mirror, logger *zap.Logger, opts ...SyncerOption) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Syncer{
		mirror:  m,
		logger:  logger,
		pending: map[string]*orders.Order{},
		wake:    make(chan struct{}, 1),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Sync tries the mirror once. On failure the order is queued for Run and
// the returned error wraps orders.ErrMirrorSyncFailed; the canonical record
// is unaffected.
func (s *Syncer) Sync(ctx context.Context, o *orders.Order) error {
	_, err := s.mirror.Put(ctx, o)
	if err == nil {
		s.forget(o)
		return nil
	}
	logx.Warn(ctx, s.logger, "mirror sync failed, queued for retry",
		zap.String("order_id", o.ID),
		zap.Int64("revision", o.Revision),
		zap.Error(err))
	s.enqueue(o)
	return fmt.Errorf("%w: %v", orders.ErrMirrorSyncFailed, err)
}

func (s *Syncer) enqueue(o *orders.Order) {
	s.mu.Lock()
	if cur, ok := s.pending[o.ID]; !ok || cur.Revision <= o.Revision {
		s.pending[o.ID] = o.Clone()
	}
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// forget drops a queued revision that a newer successful put superseded.
func (s *Syncer) forget(o *orders.Order) {
	s.mu.Lock()
	if cur, ok := s.pending[o.ID]; ok && cur.Revision <= o.Revision {
		delete(s.pending, o.ID)
	}
	s.mu.Unlock()
}

func (s *Syncer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Flush makes one pass over the queue and returns how many orders are
// still pending.
func (s *Syncer) Flush(ctx context.Context) int {
	s.mu.Lock()
	batch := make([]*orders.Order, 0, len(s.pending))
	for _, o := range s.pending {
		batch = append(batch, o)
	}
	s.mu.Unlock()

	for _, o := range batch {
		if _, err := s.mirror.Put(ctx, o); err != nil {
			logx.Debug(ctx, s.logger, "mirror retry failed", zap.String("order_id", o.ID), zap.Error(err))
			continue
		}
		s.forget(o)
		logx.Info(ctx, s.logger, "mirror resynced", zap.String("order_id", o.ID), zap.Int64("revision", o.Revision))
	}
	return s.Pending()
}

// Run retries queued orders until ctx is done.
func (s *Syncer) Run(ctx context.Context) error {
	b := backoff.WithContext(s.newBackOff(), ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.wake:
		}

		b.Reset()
		for s.Flush(ctx) > 0 {
			d := b.NextBackOff()
			if d == backoff.Stop {
				return nil
			}
			t := time.NewTimer(d)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil
			case <-t.C:
			}
		}
	}
}

// Rebuild re-puts every canonical record matching f into the mirror and
// reports how many were written. Stale mirror entries are overwritten;
// newer ones are kept.
func (s *Syncer) Rebuild(ctx context.Context, src store.Store, f store.Filter) (int, error) {
	list, err := src.Query(ctx, f)
	if err != nil {
		return 0, fmt.Errorf("rebuild: %w", err)
	}
	n := 0
	for _, o := range list {
		applied, err := s.mirror.Put(ctx, o)
		if err != nil {
			return n, fmt.Errorf("rebuild %s: %w: %v", o.ID, orders.ErrMirrorSyncFailed, err)
		}
		s.forget(o)
		if applied {
			n++
		}
	}
	logx.Info(ctx, s.logger, "mirror rebuilt", zap.Int("orders", n))
	return n, nil
}
