package hub

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/orders"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Subscription is the caller-owned handle of one subscriber. Dropping it
// without Close is detected by the garbage collector, logged as a leak and
// closed.
type Subscription struct {
	s *subscriber
}

func (sub *Subscription) Kind() Kind { return sub.s.kind }
func (sub *Subscription) Key() string { return sub.s.key }

// Done is closed once the subscription stops delivering.
func (sub *Subscription) Done() <-chan struct{} { return sub.s.stopped }

// Close stops delivery and releases the subscriber. It is safe to call more
// than once.
func (sub *Subscription) Close() {
	runtime.SetFinalizer(sub, nil)
	sub.s.close()
}

// subscriber owns an unbounded queue and a delivery goroutine, so a slow or
// failing handler only ever delays itself.
type subscriber struct {
	hub     *Hub
	id      uint64
	kind    Kind
	key     string
	handler Handler
	onStop  func()

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	queue   []Update
	signal  chan struct{}
	started bool

	lastRev   map[string]int64 // touched only by the delivery goroutine
	closeOnce sync.Once
	closed    chan struct{}
	stopped   chan struct{}
}

func newSubscriber(h *Hub, id uint64, kind Kind, key string, handler Handler, onStop func()) *subscriber {
	ctx, cancel := context.WithCancel(h.baseCtx)
	return &subscriber{
		hub:     h,
		id:      id,
		kind:    kind,
		key:     key,
		handler: handler,
		onStop:  onStop,
		ctx:     ctx,
		cancel:  cancel,
		signal:  make(chan struct{}, 1),
		lastRev: map[string]int64{},
		closed:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

func (s *subscriber) enqueue(u Update) {
	s.mu.Lock()
	s.queue = append(s.queue, u)
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// start puts the snapshot ahead of every change queued since registration
// and begins delivery.
func (s *subscriber) start(snapshot []orders.Order) {
	s.mu.Lock()
	if s.isClosed() {
		s.mu.Unlock()
		return
	}
	s.queue = append([]Update{{Orders: snapshot, Snapshot: true}}, s.queue...)
	s.started = true
	s.mu.Unlock()

	s.hub.wg.Add(1)
	go s.loop()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscriber) loop() {
	defer s.hub.wg.Done()
	defer func() {
		close(s.stopped)
		if s.onStop != nil {
			s.onStop()
		}
	}()
	for {
		select {
		case <-s.closed:
			return
		case <-s.signal:
		}
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, u := range batch {
			if s.isClosed() {
				return
			}
			if u = s.fresh(u); len(u.Orders) == 0 && !u.Snapshot {
				continue
			}
			s.deliver(u)
		}
	}
}

// fresh drops orders whose revision the subscriber has already seen and
// records the rest.
func (s *subscriber) fresh(u Update) Update {
	kept := u.Orders[:0:0]
	for _, o := range u.Orders {
		if !u.Snapshot && o.Revision <= s.lastRev[o.ID] {
			continue
		}
		if o.Revision > s.lastRev[o.ID] {
			s.lastRev[o.ID] = o.Revision
		}
		kept = append(kept, o)
	}
	u.Orders = kept
	return u
}

func (s *subscriber) deliver(u Update) {
	attempt := 0
	op := func() (err error) {
		attempt++
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panic: %v", r)
			}
		}()
		return s.handler(s.ctx, u)
	}
	err := backoff.Retry(op, backoff.WithContext(s.hub.retry(), s.ctx))
	if err == nil || errors.Is(err, context.Canceled) || s.isClosed() {
		return
	}
	ids := make([]string, 0, len(u.Orders))
	for _, o := range u.Orders {
		ids = append(ids, o.ID)
	}
	s.hub.logger.Error("subscriber delivery failed, update dropped",
		zap.String("kind", string(s.kind)),
		zap.String("key", s.key),
		zap.Uint64("subscription_id", s.id),
		zap.Bool("snapshot", u.Snapshot),
		zap.Strings("order_ids", ids),
		zap.Int("attempts", attempt),
		zap.Error(err))
}

func (s *subscriber) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *subscriber) close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.cancel()
		s.hub.unregister(s)
		s.hub.active.Add(-1)

		s.mu.Lock()
		started := s.started
		s.queue = nil
		s.mu.Unlock()
		if !started {
			close(s.stopped)
			if s.onStop != nil {
				s.onStop()
			}
		}
	})
}
