package orders

import (
	"encoding/json"
	"time"
)

const (
	EventNotificationRequested = "NotificationRequested"
	EventPaymentStatusChanged  = "PaymentStatusChanged"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // usually the order id
	Payload       json.RawMessage `json:"payload"`
}

// PaymentStatusChangedPayload is emitted by the payment gateway integration.
type PaymentStatusChangedPayload struct {
	OrderID       string        `json:"order_id"`
	Status        PaymentStatus `json:"status"`
	TransactionID string        `json:"transaction_id,omitempty"`
	AmountCents   int64         `json:"amount_cents,omitempty"`
	OccurredAt    time.Time     `json:"occurred_at"`
}

type NotificationPayload struct {
	RecipientID string            `json:"recipient_id"`
	Category    string            `json:"category"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Data        map[string]string `json:"data,omitempty"`
}
