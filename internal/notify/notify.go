// Package notify tells customers and vendors about order changes. Delivery
// is fire-and-forget: failures are logged, never returned to the order
// write that caused them.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/logx"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/orders"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Category string

const (
	CategoryOrderCreated    Category = "order_created"
	CategoryStatusChanged   Category = "order_status_changed"
	CategoryOrderCancelled  Category = "order_cancelled"
	CategoryOrderDelivered  Category = "order_delivered"
	CategoryPaymentUpdated  Category = "payment_status_changed"
	CategoryShippingUpdated Category = "shipping_status_changed"
)

type Notification struct {
	RecipientID string
	Category    Category
	Title       string
	Body        string
	Data        map[string]string
}

type Dispatcher interface {
	Notify(ctx context.Context, n Notification) error
}

// Fanout sends every notification concurrently and reports all failures
// joined under orders.ErrNotificationFailed.
func Fanout(ctx context.Context, d Dispatcher, list []Notification) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(8)
	for _, n := range list {
		g.Go(func() error {
			if err := d.Notify(ctx, n); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s to %s: %w", n.Category, n.RecipientID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", orders.ErrNotificationFailed, errors.Join(errs...))
}

// Log writes notifications to the logger. Used where no broker is
// configured.
type Log struct{ Logger *zap.Logger }

func (l Log) Notify(ctx context.Context, n Notification) error {
	logx.Info(ctx, l.Logger, "notification",
		zap.String("recipient_id", n.RecipientID),
		zap.String("category", string(n.Category)),
		zap.String("title", n.Title),
		zap.Any("data", n.Data))
	return nil
}
