package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/kafka"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/orders"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/redisx"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// PaymentEvents applies payment.status events from the gateway. Each event
// id is claimed in Redis first so a redelivered event is applied once.
type PaymentEvents struct {
	Manager  *Manager
	Redis    *redis.Client // optional
	Consumer string
	Logger   *zap.Logger
}

// Handle is a kafka.Handler. Malformed events and events for unknown orders
// are logged and committed; transient failures are returned and the
// consumer retries the event before committing anything after it.
func (p *PaymentEvents) Handle(ctx context.Context, msg kafkago.Message) error {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	env, err := kafka.UnmarshalEnvelope(msg.Value)
	if err != nil {
		logger.Warn("dropping malformed payment event", zap.Int64("offset", msg.Offset), zap.Error(err))
		return nil
	}
	if env.EventType != orders.EventPaymentStatusChanged {
		return nil
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, p.Consumer, env.EventID)
	if p.Redis != nil {
		claimed, err := redisx.Claim(ctx, p.Redis, dkey, redisx.TTLDedup)
		if err != nil {
			return fmt.Errorf("claim %s: %w", env.EventID, err)
		}
		if !claimed {
			logger.Debug("duplicate payment event", zap.String("event_id", env.EventID))
			return nil
		}
	}

	ev, err := kafka.UnwrapPayload[orders.PaymentStatusChangedPayload](env.Payload)
	if err != nil {
		logger.Warn("dropping payment event with bad payload", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}
	_, err = p.Manager.UpdatePaymentStatus(ctx, ev.OrderID, PaymentUpdate{
		Status:        ev.Status,
		TransactionID: ev.TransactionID,
		AmountCents:   ev.AmountCents,
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, orders.ErrNotFound), errors.Is(err, orders.ErrValidation):
		logger.Warn("payment event rejected",
			zap.String("event_id", env.EventID),
			zap.String("order_id", ev.OrderID),
			zap.Error(err))
		return nil
	default:
		if p.Redis != nil {
			_ = p.Redis.Del(context.WithoutCancel(ctx), dkey).Err()
		}
		return fmt.Errorf("apply payment event %s: %w", env.EventID, err)
	}
}
