package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/inventory"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/logx"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/notify"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/orders"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/store"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// change is one planned write against the record last read.
type change struct {
	next    *orders.Order // full replacement, written with Put
	patch   *store.Patch  // field update, written with Patch
	release []inventory.Item
	notify  func(*orders.Order) []notify.Notification
	noop    bool
}

type planner func(cur *orders.Order, now time.Time) (change, error)

// update runs one read-modify-write of orderID under its lock. A revision
// conflict means another process wrote first: the plan is undone, the
// record re-read and the plan run again.
func (m *Manager) update(ctx context.Context, orderID string, plan planner) (*orders.Order, error) {
	unlock, err := m.locks.Lock(ctx, "order:"+orderID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	ctx = context.WithoutCancel(ctx)

	for attempt := 0; ; attempt++ {
		cur, err := m.store.Get(ctx, orderID)
		if err != nil {
			return nil, err
		}
		now := m.now()
		ch, err := plan(cur.Clone(), now)
		release := m.settle(ctx, cur, ch.release)
		if err != nil {
			return nil, err
		}
		if ch.noop {
			return cur, nil
		}
		if err := m.releaseAll(ctx, release); err != nil {
			return nil, fmt.Errorf("release stock for %s: %w", orderID, err)
		}

		saved, err := m.commit(ctx, cur, ch, now)
		if err == nil {
			if len(ch.release) > 0 {
				m.credits.clear(orderID)
			}
			var list []notify.Notification
			if ch.notify != nil {
				list = ch.notify(saved)
			}
			m.afterCommit(ctx, saved, list)
			return saved.Clone(), nil
		}

		if errors.Is(err, errOutcomeUnknown) {
			// the write may have landed: keep the stock out and settle on
			// the next update of this order
			m.credits.add(orderID, release)
			return nil, err
		}
		if len(release) > 0 {
			if rerr := inventory.ReserveAll(ctx, m.ledger, release); rerr != nil {
				m.credits.add(orderID, release)
				logx.Error(ctx, m.logger, "stock compensation failed, held as credit",
					zap.String("order_id", orderID),
					zap.Error(rerr))
			}
		}
		if errors.Is(err, orders.ErrRevisionConflict) && attempt < m.maxConflictRetries {
			logx.Debug(ctx, m.logger, "revision conflict, retrying",
				zap.String("order_id", orderID),
				zap.Int64("revision", cur.Revision),
				zap.Int("attempt", attempt+1))
			continue
		}
		return nil, err
	}
}

// settle reconciles stock credited to orderID by an earlier unresolved
// cancel against the record just read, and returns what of want is still
// to be released.
func (m *Manager) settle(ctx context.Context, cur *orders.Order, want []inventory.Item) []inventory.Item {
	credited := m.credits.get(cur.ID)
	if len(credited) == 0 {
		return want
	}
	switch {
	case cur.Status == orders.StatusCancelled:
		m.credits.clear(cur.ID)
		return nil
	case len(want) > 0:
		return subtract(want, credited)
	}
	if err := inventory.ReserveAll(ctx, m.ledger, credited); err != nil {
		logx.Error(ctx, m.logger, "taking back credited stock failed",
			zap.String("order_id", cur.ID),
			zap.Error(err))
		return nil
	}
	m.credits.clear(cur.ID)
	logx.Info(ctx, m.logger, "credited stock taken back",
		zap.String("order_id", cur.ID),
		zap.String("status", string(cur.Status)))
	return nil
}

// commit writes ch conditionally on cur's revision. When the store fails
// without saying whether the write landed, the record is re-read: a
// revision one higher stamped with this write's time means it did. If the
// record cannot be read the error wraps errOutcomeUnknown.
func (m *Manager) commit(ctx context.Context, cur *orders.Order, ch change, now time.Time) (*orders.Order, error) {
	var (
		saved *orders.Order
		err   error
	)
	if ch.patch != nil {
		saved, err = m.store.Patch(ctx, cur.ID, cur.Revision, *ch.patch)
	} else {
		err = m.store.Put(ctx, ch.next, cur.Revision)
		saved = ch.next
	}
	if err == nil || errors.Is(err, orders.ErrRevisionConflict) || errors.Is(err, orders.ErrNotFound) {
		return saved, err
	}

	got, rerr := m.reread(ctx, cur.ID)
	if rerr != nil && !errors.Is(rerr, orders.ErrNotFound) {
		logx.Error(ctx, m.logger, "order write outcome unknown",
			zap.String("order_id", cur.ID),
			zap.Int64("revision", cur.Revision),
			zap.NamedError("write_error", err),
			zap.Error(rerr))
		return nil, fmt.Errorf("update order %s: %w: %w", cur.ID, orders.ErrStoreUnavailable, errOutcomeUnknown)
	}
	if got != nil && got.Revision == cur.Revision+1 && got.UpdatedAt.Equal(now) {
		logx.Warn(ctx, m.logger, "write reported failure but landed",
			zap.String("order_id", cur.ID),
			zap.Error(err))
		return got, nil
	}
	logx.Error(ctx, m.logger, "order write failed",
		zap.String("order_id", cur.ID),
		zap.Int64("revision", cur.Revision),
		zap.Error(err))
	if errors.Is(err, orders.ErrStoreUnavailable) {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %v", orders.ErrStoreUnavailable, err)
}

// releaseAll returns every item or none: a failure re-reserves what was
// already released.
func (m *Manager) releaseAll(ctx context.Context, items []inventory.Item) error {
	done := make([]inventory.Item, 0, len(items))
	for _, it := range items {
		if err := m.ledger.Release(ctx, it.ProductID, it.Qty); err != nil {
			if rerr := inventory.ReserveAll(ctx, m.ledger, done); rerr != nil {
				logx.Error(ctx, m.logger, "stock compensation failed, reconcile manually", zap.Error(rerr))
			}
			return err
		}
		done = append(done, it)
	}
	return nil
}

// UpdateStatus moves the order to status through the transition table.
// Cancelling returns the reserved stock before the write.
func (m *Manager) UpdateStatus(ctx context.Context, orderID string, status orders.Status, actorID, note string) (*orders.Order, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.UpdateStatus")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", orderID), attribute.String("status", string(status)))

	o, err := m.update(ctx, orderID, m.transition(status, actorID, note))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	logx.Info(ctx, m.logger, "order status changed",
		zap.String("order_id", orderID),
		zap.String("status", string(status)),
		zap.String("actor_id", actorID))
	return o, nil
}

// CancelOrder cancels the order and refunds a completed payment in the same
// write.
func (m *Manager) CancelOrder(ctx context.Context, orderID, actorID, reason string) (*orders.Order, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.CancelOrder")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", orderID))

	o, err := m.update(ctx, orderID, m.transition(orders.StatusCancelled, actorID, reason))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	logx.Info(ctx, m.logger, "order cancelled",
		zap.String("order_id", orderID),
		zap.String("actor_id", actorID),
		zap.String("payment_status", string(o.Payment.Status)))
	return o, nil
}

func (m *Manager) transition(to orders.Status, actorID, note string) planner {
	return func(o *orders.Order, now time.Time) (change, error) {
		from := o.Status
		if err := o.Transition(to, now, actorID, note); err != nil {
			return change{}, err
		}
		ch := change{next: o}
		if to == orders.StatusCancelled && !from.IsTerminal() {
			ch.release = itemsOf(o)
		}
		refunded := false
		if to == orders.StatusCancelled || to == orders.StatusRefunded {
			refunded = refund(o, now)
		}
		ch.notify = func(saved *orders.Order) []notify.Notification {
			list := notify.StatusChanged(saved)
			if refunded {
				list = append(list, notify.PaymentChanged(saved)...)
			}
			return list
		}
		return ch, nil
	}
}

// refund marks a completed payment refunded for the full grand total.
func refund(o *orders.Order, now time.Time) bool {
	if o.Payment.Status != orders.PaymentCompleted {
		return false
	}
	o.Payment.Status = orders.PaymentRefunded
	o.Payment.RefundedAt = &now
	o.Payment.RefundAmountCents = o.Totals.GrandCents
	return true
}

type PaymentUpdate struct {
	Status        orders.PaymentStatus `json:"status" validate:"required"`
	TransactionID string               `json:"transaction_id"`
	AmountCents   int64                `json:"amount_cents" validate:"gte=0"`
}

// UpdatePaymentStatus patches the payment record. Replaying the current
// status and transaction id is a no-op.
func (m *Manager) UpdatePaymentStatus(ctx context.Context, orderID string, in PaymentUpdate) (*orders.Order, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.UpdatePaymentStatus")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", orderID), attribute.String("payment_status", string(in.Status)))

	if err := m.check(in); err != nil {
		return nil, err
	}
	if !in.Status.IsValid() {
		return nil, &ValidationError{Fields: map[string]string{"PaymentUpdate.Status": "oneof"}}
	}

	o, err := m.update(ctx, orderID, func(o *orders.Order, now time.Time) (change, error) {
		p := o.Payment
		if p.Status == in.Status && (in.TransactionID == "" || in.TransactionID == p.TransactionID) {
			return change{noop: true}, nil
		}
		p.Status = in.Status
		if in.TransactionID != "" {
			p.TransactionID = in.TransactionID
		}
		switch in.Status {
		case orders.PaymentCompleted:
			if in.AmountCents > 0 {
				p.AmountCents = in.AmountCents
			}
			if p.PaidAt == nil {
				p.PaidAt = &now
			}
		case orders.PaymentRefunded:
			p.RefundedAt = &now
			p.RefundAmountCents = o.Totals.GrandCents
			if in.AmountCents > 0 {
				p.RefundAmountCents = in.AmountCents
			}
		}
		return change{
			patch:  &store.Patch{Payment: &p, UpdatedAt: now},
			notify: notify.PaymentChanged,
		}, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	logx.Info(ctx, m.logger, "payment status changed",
		zap.String("order_id", orderID),
		zap.String("payment_status", string(o.Payment.Status)))
	return o, nil
}

type ShippingUpdate struct {
	Status            orders.ShippingStatus `json:"status" validate:"required"`
	Carrier           string                `json:"carrier"`
	TrackingID        string                `json:"tracking_id"`
	EstimatedDelivery *time.Time            `json:"estimated_delivery"`
}

// UpdateShippingStatus patches the shipping record. Cancelled and refunded
// orders reject it with orders.ErrOrderTerminal.
func (m *Manager) UpdateShippingStatus(ctx context.Context, orderID string, in ShippingUpdate) (*orders.Order, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.UpdateShippingStatus")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", orderID), attribute.String("shipping_status", string(in.Status)))

	if err := m.check(in); err != nil {
		return nil, err
	}
	if !in.Status.IsValid() {
		return nil, &ValidationError{Fields: map[string]string{"ShippingUpdate.Status": "oneof"}}
	}

	o, err := m.update(ctx, orderID, func(o *orders.Order, now time.Time) (change, error) {
		if o.Status.IsTerminal() {
			return change{}, fmt.Errorf("shipping update on %s order %s: %w", o.Status, o.ID, orders.ErrOrderTerminal)
		}
		s := o.Shipping
		s.Status = in.Status
		if in.Carrier != "" {
			s.Carrier = in.Carrier
		}
		if in.TrackingID != "" {
			s.TrackingID = in.TrackingID
		}
		if in.EstimatedDelivery != nil {
			t := in.EstimatedDelivery.UTC()
			s.EstimatedDelivery = &t
		}
		if in.Status == orders.ShippingDelivered && s.ActualDelivery == nil {
			s.ActualDelivery = &now
		}
		return change{
			patch:  &store.Patch{Shipping: &s, UpdatedAt: now},
			notify: notify.ShippingChanged,
		}, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	logx.Info(ctx, m.logger, "shipping status changed",
		zap.String("order_id", orderID),
		zap.String("shipping_status", string(o.Shipping.Status)))
	return o, nil
}

// AddNote appends a free-text note. Notes are allowed in every status.
func (m *Manager) AddNote(ctx context.Context, orderID, actorID, text string) (*orders.Order, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.AddNote")
	defer span.End()

	text = strings.TrimSpace(text)
	fields := map[string]string{}
	if text == "" {
		fields["note"] = "required"
	}
	if actorID == "" {
		fields["actor_id"] = "required"
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}
	o, err := m.update(ctx, orderID, func(_ *orders.Order, now time.Time) (change, error) {
		return change{patch: &store.Patch{
			AppendNotes: []orders.Note{{ActorID: actorID, Text: text, CreatedAt: now}},
			UpdatedAt:   now,
		}}, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return o, nil
}

func (m *Manager) GetOrder(ctx context.Context, orderID string) (*orders.Order, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.GetOrder")
	defer span.End()
	o, err := m.store.Get(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return o, nil
}

// ListOrders reads the canonical store, newest first.
func (m *Manager) ListOrders(ctx context.Context, f store.Filter) ([]*orders.Order, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.ListOrders")
	defer span.End()
	list, err := m.store.Query(ctx, f)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return list, nil
}

// RebuildMirror copies every canonical order matching f into the mirror.
func (m *Manager) RebuildMirror(ctx context.Context, f store.Filter) (int, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.RebuildMirror")
	defer span.End()
	if m.syncer == nil {
		return 0, errors.New("rebuild mirror: no mirror configured")
	}
	n, err := m.syncer.Rebuild(ctx, m.store, f)
	if err != nil {
		span.RecordError(err)
	}
	return n, err
}

// StockLevel reports available stock for one product.
func (m *Manager) StockLevel(ctx context.Context, productID string) (int, error) {
	return m.ledger.Available(ctx, productID)
}
