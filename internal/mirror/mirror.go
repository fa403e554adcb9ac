// Package mirror is the low-latency, denormalized copy of order state that
// live subscribers read. It is never consulted for decisions and can always
// be rebuilt from the durable store.
package mirror

import (
	"context"

	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/orders"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/store"
)

type Mirror interface {
	// Put stores o unless the mirror already holds a newer revision of the
	// same order. applied is false when o was stale.
	Put(ctx context.Context, o *orders.Order) (applied bool, err error)
	Get(ctx context.Context, id string) (*orders.Order, error)
	Patch(ctx context.Context, id string, p store.Patch) (*orders.Order, error)
	Query(ctx context.Context, f store.Filter) ([]*orders.Order, error)
	// Watch streams every applied put until ctx is done. Puts of one order
	// arrive in revision order; a watcher may see a revision more than once.
	Watch(ctx context.Context) (<-chan *orders.Order, error)
}

// patch implements Patch on top of Get and Put for both backends.
func patch(ctx context.Context, m Mirror, id string, p store.Patch) (*orders.Order, error) {
	o, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Apply(o)
	if _, err := m.Put(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}
