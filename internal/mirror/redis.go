package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/orders"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/redisx"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/store"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// putScript writes the document only when its revision is not older than the
// stored one, then indexes it. Returns 0 stale, 1 written, 2 same revision.
//
// KEYS[1] doc hash, KEYS[2..] sorted-set indices
// ARGV[1] revision, ARGV[2] doc, ARGV[3] score, ARGV[4] order id
var putScript = redis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], 'rev') or '0')
local rev = tonumber(ARGV[1])
if cur > rev then return 0 end
if cur == rev then return 2 end
redis.call('HSET', KEYS[1], 'rev', ARGV[1], 'doc', ARGV[2])
for i = 2, #KEYS do
  redis.call('ZADD', KEYS[i], ARGV[3], ARGV[4])
end
return 1
`)

// Redis keeps each order as a hash {rev, doc} plus sorted-set indices per
// customer and vendor, and announces applied puts on a pub/sub channel.
type Redis struct {
	rdb     *redis.Client
	channel string
	logger  *zap.Logger
}

func NewRedis(rdb *redis.Client, channel string, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{rdb: rdb, channel: channel, logger: logger}
}

func (r *Redis) Put(ctx context.Context, o *orders.Order) (bool, error) {
	doc, err := json.Marshal(o)
	if err != nil {
		return false, fmt.Errorf("encode order %s: %w", o.ID, err)
	}
	keys := []string{
		fmt.Sprintf(redisx.KeyMirrorOrder, o.ID),
		redisx.KeyMirrorAll,
		fmt.Sprintf(redisx.KeyMirrorCustomer, o.CustomerID),
	}
	for _, v := range o.VendorIDs {
		keys = append(keys, fmt.Sprintf(redisx.KeyMirrorVendor, v))
	}

	res, err := putScript.Run(ctx, r.rdb, keys, o.Revision, doc, o.CreatedAt.UnixMilli(), o.ID).Int()
	if err != nil {
		return false, fmt.Errorf("mirror put %s: %w", o.ID, err)
	}
	if res == 0 {
		return false, nil
	}
	// A same-revision put is a retry whose publish may have been lost.
	if err := r.rdb.Publish(ctx, r.channel, doc).Err(); err != nil {
		return false, fmt.Errorf("mirror publish %s: %w", o.ID, err)
	}
	return true, nil
}

func (r *Redis) Get(ctx context.Context, id string) (*orders.Order, error) {
	doc, err := r.rdb.HGet(ctx, fmt.Sprintf(redisx.KeyMirrorOrder, id), "doc").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, orders.NotFoundf("order", id)
	}
	if err != nil {
		return nil, fmt.Errorf("mirror get %s: %w", id, err)
	}
	return decodeDoc(doc)
}

func (r *Redis) Patch(ctx context.Context, id string, p store.Patch) (*orders.Order, error) {
	return patch(ctx, r, id, p)
}

// Query walks the narrowest index newest first and filters the decoded
// documents.
func (r *Redis) Query(ctx context.Context, f store.Filter) ([]*orders.Order, error) {
	index := redisx.KeyMirrorAll
	switch {
	case f.VendorID != "":
		index = fmt.Sprintf(redisx.KeyMirrorVendor, f.VendorID)
	case f.CustomerID != "":
		index = fmt.Sprintf(redisx.KeyMirrorCustomer, f.CustomerID)
	}
	rng := &redis.ZRangeBy{Max: "+inf", Min: "-inf"}
	if !f.From.IsZero() {
		rng.Min = strconv.FormatInt(f.From.UnixMilli(), 10)
	}
	if !f.To.IsZero() {
		rng.Max = "(" + strconv.FormatInt(f.To.UnixMilli(), 10)
	}
	ids, err := r.rdb.ZRevRangeByScore(ctx, index, rng).Result()
	if err != nil {
		return nil, fmt.Errorf("mirror query: %w", err)
	}
	if len(ids) == 0 {
		return []*orders.Order{}, nil
	}

	pipe := r.rdb.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGet(ctx, fmt.Sprintf(redisx.KeyMirrorOrder, id), "doc")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("mirror query docs: %w", err)
	}

	out := make([]*orders.Order, 0, len(ids))
	for _, c := range cmds {
		doc, err := c.Bytes()
		if err != nil {
			continue
		}
		o, err := decodeDoc(doc)
		if err != nil {
			r.logger.Warn("skip undecodable mirror doc", zap.Error(err))
			continue
		}
		if f.Match(o) {
			out = append(out, o)
		}
	}
	return store.SortNewestFirst(out, f.Limit), nil
}

// Watch subscribes to the change channel. The subscription is confirmed
// before Watch returns so no put made afterwards is missed.
func (r *Redis) Watch(ctx context.Context) (<-chan *orders.Order, error) {
	sub := r.rdb.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("mirror subscribe: %w", err)
	}

	out := make(chan *orders.Order, 64)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				o, err := decodeDoc([]byte(m.Payload))
				if err != nil {
					r.logger.Warn("skip undecodable change", zap.Error(err))
					continue
				}
				select {
				case out <- o:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func decodeDoc(doc []byte) (*orders.Order, error) {
	var o orders.Order
	if err := json.Unmarshal(doc, &o); err != nil {
		return nil, fmt.Errorf("decode mirror doc: %w", err)
	}
	return &o, nil
}
