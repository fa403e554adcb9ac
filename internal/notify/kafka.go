package notify

import (
	"context"
	"time"

	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/kafka"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/orders"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Kafka publishes NotificationRequested events keyed by recipient. A
// circuit breaker stops hammering the broker while it is down; calls made
// while open fail fast with gobreaker.ErrOpenState.
type Kafka struct {
	producer *kafka.Producer
	cb       *gobreaker.CircuitBreaker
}

func NewKafka(p *kafka.Producer, logger *zap.Logger) *Kafka {
	if logger == nil {
		logger = zap.NewNop()
	}
	settings := gobreaker.Settings{
		Name:        "notifications",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
	return &Kafka{producer: p, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (k *Kafka) Notify(ctx context.Context, n Notification) error {
	payload := orders.NotificationPayload{
		RecipientID: n.RecipientID,
		Category:    string(n.Category),
		Title:       n.Title,
		Body:        n.Body,
		Data:        n.Data,
	}
	_, err := k.cb.Execute(func() (interface{}, error) {
		return nil, k.producer.PublishEvent(ctx, []byte(n.RecipientID), orders.EventNotificationRequested, n.Data["order_id"], payload)
	})
	return err
}

func (k *Kafka) State() gobreaker.State { return k.cb.State() }
