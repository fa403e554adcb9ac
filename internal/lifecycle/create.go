package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/inventory"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/logx"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/notify"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/orders"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

type ItemInput struct {
	ProductID      string `json:"product_id" validate:"required"`
	VendorID       string `json:"vendor_id" validate:"required"`
	Name           string `json:"name"`
	Qty            int    `json:"qty" validate:"gt=0"`
	UnitPriceCents int64  `json:"unit_price_cents" validate:"gte=0"`
}

type CreateOrderInput struct {
	IdempotencyKey string         `json:"idempotency_key" validate:"omitempty,max=128"`
	CustomerID     string         `json:"customer_id" validate:"required"`
	Items          []ItemInput    `json:"items" validate:"required,min=1,dive"`
	Address        orders.Address `json:"address"`
	PaymentMethod  string         `json:"payment_method" validate:"required"`
	ShippingMethod string         `json:"shipping_method" validate:"required"`
	ShippingCents  int64          `json:"shipping_cents" validate:"gte=0"`
	DiscountCents  int64          `json:"discount_cents" validate:"gte=0"`
}

// ValidationError lists the rejected fields. It matches orders.ErrValidation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for f, msg := range e.Fields {
		parts = append(parts, f+": "+msg)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == orders.ErrValidation }

func (m *Manager) check(v any) error {
	err := m.validate.Struct(v)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return fmt.Errorf("%w: %v", orders.ErrValidation, err)
	}
	fields := make(map[string]string, len(ve))
	for _, fe := range ve {
		fields[fe.Namespace()] = fe.Tag()
	}
	return &ValidationError{Fields: fields}
}

// CreateOrder reserves stock for every item and writes a pending order.
// A repeated idempotency key returns the order created the first time. Any
// failure before the canonical write leaves stock untouched.
func (m *Manager) CreateOrder(ctx context.Context, in CreateOrderInput) (*orders.Order, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.CreateOrder")
	defer span.End()
	span.SetAttributes(attribute.String("customer_id", in.CustomerID))

	if err := m.check(in); err != nil {
		return nil, err
	}

	if in.IdempotencyKey != "" {
		unlock, err := m.locks.Lock(ctx, "idem:"+in.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		defer unlock()
		existing, err := m.findByKey(ctx, in.IdempotencyKey)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if existing != nil {
			logx.Info(ctx, m.logger, "idempotent create replayed",
				zap.String("order_id", existing.ID),
				zap.String("idempotency_key", in.IdempotencyKey))
			return existing, nil
		}
	}

	o := m.build(in)
	items := itemsOf(o)
	if err := inventory.ReserveAll(ctx, m.ledger, items); err != nil {
		var rb *inventory.RollbackError
		if errors.As(err, &rb) {
			logx.Error(ctx, m.logger, "stock rollback failed",
				zap.String("customer_id", in.CustomerID),
				zap.Error(rb.Rollback))
		}
		span.RecordError(err)
		return nil, fmt.Errorf("create order: %w", err)
	}

	// From here the write must finish even if the caller gives up.
	wctx := context.WithoutCancel(ctx)
	if err := m.store.Put(wctx, o, 0); err != nil {
		saved, rerr := m.resolveCreate(wctx, o, items, err)
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, "create failed")
			return nil, rerr
		}
		if saved.ID != o.ID {
			return saved, nil
		}
		o = saved
	}

	if m.idem != nil && o.IdempotencyKey != "" {
		if err := m.idem.Remember(wctx, o.IdempotencyKey, o.ID); err != nil {
			logx.Warn(ctx, m.logger, "idempotency cache write failed", zap.Error(err))
		}
	}
	span.SetAttributes(attribute.String("order_id", o.ID))
	logx.Info(ctx, m.logger, "order created",
		zap.String("order_id", o.ID),
		zap.String("order_number", o.Number),
		zap.Int64("grand_total_cents", o.Totals.GrandCents))

	m.afterCommit(wctx, o, notify.OrderCreated(o))
	return o.Clone(), nil
}

// findByKey returns the order already created under key, or nil.
func (m *Manager) findByKey(ctx context.Context, key string) (*orders.Order, error) {
	if m.idem != nil {
		id, ok, err := m.idem.Lookup(ctx, key)
		if err != nil {
			logx.Warn(ctx, m.logger, "idempotency cache read failed", zap.Error(err))
		}
		if ok {
			o, err := m.store.Get(ctx, id)
			if err == nil {
				return o, nil
			}
			if !errors.Is(err, orders.ErrNotFound) {
				return nil, fmt.Errorf("idempotency lookup: %w", err)
			}
		}
	}
	o, err := m.store.FindByIdempotencyKey(ctx, key)
	switch {
	case err == nil:
		return o, nil
	case errors.Is(err, orders.ErrNotFound):
		return nil, nil
	default:
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	}
}

// resolveCreate decides what a failed insert means. A lost idempotency race
// returns the winner; an unknown outcome is settled by re-reading the id.
// Stock goes back only when the re-read shows the order is absent: if the
// record cannot be read at all the reservation stays for reconciliation.
func (m *Manager) resolveCreate(ctx context.Context, o *orders.Order, items []inventory.Item, putErr error) (*orders.Order, error) {
	if errors.Is(putErr, orders.ErrDuplicateIdempotencyKey) {
		m.restock(ctx, o.ID, items)
		winner, err := m.store.FindByIdempotencyKey(ctx, o.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("create order: %w", err)
		}
		return winner, nil
	}
	got, err := m.reread(ctx, o.ID)
	switch {
	case err == nil:
		logx.Warn(ctx, m.logger, "create reported failure but order landed",
			zap.String("order_id", o.ID),
			zap.Error(putErr))
		return got, nil
	case errors.Is(err, orders.ErrNotFound):
		m.restock(ctx, o.ID, items)
		logx.Error(ctx, m.logger, "create order write failed",
			zap.String("order_id", o.ID),
			zap.Error(putErr))
		if errors.Is(putErr, orders.ErrStoreUnavailable) {
			return nil, fmt.Errorf("create order: %w", putErr)
		}
		return nil, fmt.Errorf("create order: %w: %v", orders.ErrStoreUnavailable, putErr)
	default:
		logx.Error(ctx, m.logger, "create outcome unknown, stock left reserved, reconcile manually",
			zap.String("order_id", o.ID),
			zap.Any("items", items),
			zap.NamedError("write_error", putErr),
			zap.Error(err))
		return nil, fmt.Errorf("create order %s: %w: %w", o.ID, orders.ErrStoreUnavailable, errOutcomeUnknown)
	}
}

func (m *Manager) restock(ctx context.Context, orderID string, items []inventory.Item) {
	if err := inventory.ReleaseAll(ctx, m.ledger, items); err != nil {
		logx.Error(ctx, m.logger, "stock release failed, reconcile manually",
			zap.String("order_id", orderID),
			zap.Error(err))
	}
}

func (m *Manager) build(in CreateOrderInput) *orders.Order {
	now := m.now()
	o := &orders.Order{
		ID:             orders.NewOrderID(),
		Number:         m.numbers.Next(now),
		IdempotencyKey: in.IdempotencyKey,
		CustomerID:     in.CustomerID,
		Address:        in.Address,
	}
	seen := map[string]bool{}
	for _, it := range in.Items {
		o.Items = append(o.Items, orders.LineItem{
			ProductID:      it.ProductID,
			VendorID:       it.VendorID,
			Name:           it.Name,
			Qty:            it.Qty,
			UnitPriceCents: it.UnitPriceCents,
		})
		if !seen[it.VendorID] {
			seen[it.VendorID] = true
			o.VendorIDs = append(o.VendorIDs, it.VendorID)
		}
	}
	o.Totals = m.pricing.Apply(o.Items, in.ShippingCents, in.DiscountCents)
	o.Payment = orders.Payment{
		Method:      in.PaymentMethod,
		Status:      orders.PaymentPending,
		AmountCents: o.Totals.GrandCents,
	}
	o.Shipping = orders.Shipping{
		Method: in.ShippingMethod,
		Status: orders.ShippingPending,
	}
	o.Open(now, in.CustomerID)
	return o
}
