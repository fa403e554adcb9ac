package kafka

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Handler returns nil only when the message was processed and its offset
// may be committed. An error is retried until it succeeds: a message that
// can never be processed must be logged and acknowledged by returning nil.
type Handler func(ctx context.Context, m kafka.Message) error

// Reader is the part of *kafka.Reader the consumer needs.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r       Reader
	workers int
	logger  *zap.Logger
	retry   func() backoff.BackOff
}

type ConsumerOption func(*Consumer)

// WithRetry sets the schedule for retrying a failed message. When a schedule
// gives up a fresh one starts; only ctx ends the retries.
func WithRetry(f func() backoff.BackOff) ConsumerOption {
	return func(c *Consumer) { c.retry = f }
}

func NewConsumer(brokers []string, group, topic string, workers int, logger *zap.Logger, opts ...ConsumerOption) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	return NewConsumerWithReader(r, workers, logger, opts...)
}

func NewConsumerWithReader(r Reader, workers int, logger *zap.Logger, opts ...ConsumerOption) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Consumer{
		r:       r,
		workers: workers,
		logger:  logger,
		retry: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start dispatches messages to workers until ctx is done. Messages with the
// same key always go to the same worker, so per-key order is kept. Offsets
// are committed per partition only up to the first unprocessed message.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()
	acks := newCommitLog()

	jobs := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range jobs {
		jobs[i] = make(chan kafka.Message, 128)
		wg.Add(1)
		go func(in <-chan kafka.Message) {
			defer wg.Done()
			for m := range in {
				if !c.handle(ctx, h, m) {
					return
				}
				acks.processed(m, func(last kafka.Message) {
					if err := c.r.CommitMessages(ctx, last); err != nil && ctx.Err() == nil {
						c.logger.Warn("commit failed",
							zap.Int("partition", last.Partition),
							zap.Int64("offset", last.Offset),
							zap.Error(err))
					}
				})
			}
		}(jobs[i])
	}
	stop := func() {
		for _, j := range jobs {
			close(j)
		}
		wg.Wait()
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		acks.fetched(m)
		select {
		case jobs[c.worker(m.Key)] <- m:
		case <-ctx.Done():
			stop()
			return nil
		}
	}
}

// handle runs h until it succeeds. Later messages of the same key wait
// behind it. It reports false when ctx ended first.
func (c *Consumer) handle(ctx context.Context, h Handler, m kafka.Message) bool {
	op := func() error { return h(ctx, m) }
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("handle message failed, retrying",
			zap.String("topic", m.Topic),
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Duration("retry_in", wait),
			zap.Error(err))
	}
	for {
		err := backoff.RetryNotify(op, backoff.WithContext(c.retry(), ctx), notify)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			c.logger.Info("message left uncommitted for redelivery",
				zap.Int("partition", m.Partition),
				zap.Int64("offset", m.Offset))
			return false
		}
	}
}

func (c *Consumer) worker(key []byte) int {
	if c.workers == 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write(key)
	return int(h.Sum32() % uint32(c.workers))
}

// commitLog tracks fetched offsets per partition in fetch order.
type commitLog struct {
	mu    sync.Mutex
	parts map[int]*partitionLog
}

type partitionLog struct {
	pending []kafka.Message
	done    map[int64]bool
}

func newCommitLog() *commitLog { return &commitLog{parts: map[int]*partitionLog{}} }

func (l *commitLog) fetched(m kafka.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.parts[m.Partition]
	if !ok {
		p = &partitionLog{done: map[int64]bool{}}
		l.parts[m.Partition] = p
	}
	p.pending = append(p.pending, m)
}

// processed marks m done and, when that completes a prefix of the
// partition, calls commit with the last message of the prefix. commit runs
// under the lock so commits of one partition never go backwards.
func (l *commitLog) processed(m kafka.Message, commit func(kafka.Message)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.parts[m.Partition]
	if !ok {
		return
	}
	p.done[m.Offset] = true
	var last *kafka.Message
	for len(p.pending) > 0 && p.done[p.pending[0].Offset] {
		head := p.pending[0]
		delete(p.done, head.Offset)
		p.pending = p.pending[1:]
		last = &head
	}
	if last != nil {
		commit(*last)
	}
}
